// Package httpheader provides a case-insensitive header container that keeps
// the original field-name casing around for serialization while always
// looking values up by their lowercased form.
//
// net/http.Header already canonicalizes names (http.CanonicalHeaderKey), but
// the engine stores headers outside of any net/http request/response value,
// so it needs its own container rather than relying on that canonicalization
// rule (see design notes on avoiding a particular default map type).
package httpheader

import (
	"sort"
	"strings"
)

// field holds one header's original-cased name next to its value.
type field struct {
	name  string
	value string
}

// Map is a case-insensitive field-name -> field-value container.
// The zero value is ready to use.
type Map struct {
	fields map[string]field
}

// New returns an empty Map.
func New() *Map {
	return &Map{fields: make(map[string]field)}
}

// FromMap builds a Map from a plain map, preserving the casing of the keys
// as given and using the last value seen for any name that repeats once
// lowercased.
func FromMap(m map[string]string) *Map {
	h := New()
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}

func key(name string) string {
	return strings.ToLower(name)
}

// Get returns the value stored for name, looked up case-insensitively.
func (h *Map) Get(name string) (string, bool) {
	if h == nil || h.fields == nil {
		return "", false
	}
	f, ok := h.fields[key(name)]
	if !ok {
		return "", false
	}
	return f.value, true
}

// Value is a convenience that returns "" when the field is absent.
func (h *Map) Value(name string) string {
	v, _ := h.Get(name)
	return v
}

// Set stores value under name, keeping name's casing as given.
func (h *Map) Set(name, value string) {
	if h.fields == nil {
		h.fields = make(map[string]field)
	}
	h.fields[key(name)] = field{name: name, value: value}
}

// Delete removes name, case-insensitively. No-op if absent.
func (h *Map) Delete(name string) {
	if h.fields == nil {
		return
	}
	delete(h.fields, key(name))
}

// Has reports whether name is present, case-insensitively.
func (h *Map) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// Len returns the number of stored fields.
func (h *Map) Len() int {
	return len(h.fields)
}

// Names returns the original-cased field names, sorted for determinism.
func (h *Map) Names() []string {
	names := make([]string, 0, len(h.fields))
	for _, f := range h.fields {
		names = append(names, f.name)
	}
	sort.Strings(names)
	return names
}

// Clone returns an independent copy.
func (h *Map) Clone() *Map {
	c := New()
	if h == nil {
		return c
	}
	for k, f := range h.fields {
		c.fields[k] = f
	}
	return c
}

// ForEach calls fn once per field, in sorted-name order, for deterministic
// iteration (serialization, byte accounting).
func (h *Map) ForEach(fn func(name, value string)) {
	if h == nil {
		return
	}
	for _, name := range h.Names() {
		v, _ := h.Get(name)
		fn(name, v)
	}
}

// ByteLen returns the combined length of all field names and values, used
// by the engine's deterministic byte-accounting rule (§3 of the spec this
// module implements).
func (h *Map) ByteLen() int {
	total := 0
	if h == nil {
		return 0
	}
	for _, f := range h.fields {
		total += len(f.name) + len(f.value)
	}
	return total
}

// ToMap returns a plain map view keyed by original casing, for callers (or
// serializers) that want a simple map rather than this container.
func (h *Map) ToMap() map[string]string {
	if h == nil {
		return map[string]string{}
	}
	out := make(map[string]string, h.Len())
	for _, f := range h.fields {
		out[f.name] = f.value
	}
	return out
}

// CollapseWhitespace normalizes internal whitespace runs to a single space
// and trims the result. RFC 9111 §4.1 permits caches to treat header values
// as equivalent after this kind of normalization when comparing Vary
// selections.
func CollapseWhitespace(value string) string {
	var b strings.Builder
	prevSpace := false
	for _, r := range strings.TrimSpace(value) {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			if !prevSpace {
				b.WriteRune(' ')
				prevSpace = true
			}
			continue
		}
		b.WriteRune(r)
		prevSpace = false
	}
	return b.String()
}
