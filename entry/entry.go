// Package entry defines the immutable snapshot of a stored HTTP response
// that flows through the rest of the caching engine.
package entry

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/relaycache/engine/httpheader"
)

// VaryWildcard is the sentinel vary-header mapping that marks a response
// which must never be matched for reuse (response carried "Vary: *").
const VaryWildcard = "*"

// Entry is an immutable snapshot of one stored response. Callers receive
// clones; nothing in this package mutates a value in place once built.
type Entry struct {
	Method     string
	URI        string
	StatusCode int
	Headers    *httpheader.Map
	Body       []byte

	RequestTime  time.Time
	ResponseTime time.Time

	// VaryHeaders maps each lowercased field name nominated by the response's
	// Vary header to the normalized request value captured at storage time.
	// The sentinel map {"*": "*"} marks an entry that never matches.
	VaryHeaders map[string]string

	IsIncomplete bool
	ContentRange string

	// IsInvalid marks a soft tombstone: present but not reusable, kept so a
	// validator can still be derived if a caller chooses to revalidate it.
	IsInvalid bool
}

// IsVaryWildcard reports whether this entry carried "Vary: *" and must
// therefore never be reused.
func (e *Entry) IsVaryWildcard() bool {
	if e == nil || len(e.VaryHeaders) != 1 {
		return false
	}
	v, ok := e.VaryHeaders[VaryWildcard]
	return ok && v == VaryWildcard
}

// ByteLen returns the deterministic byte accounting for this entry, per the
// rule: len(body) + Σ(len(k)+len(v)) over headers + len(uri) + len(method)
// + the same sum over varyHeaders, if present.
func (e *Entry) ByteLen() int {
	if e == nil {
		return 0
	}
	total := len(e.Body) + len(e.URI) + len(e.Method)
	total += e.Headers.ByteLen()
	for k, v := range e.VaryHeaders {
		total += len(k) + len(v)
	}
	return total
}

// Clone returns a deep, independent copy so that a single stored Entry can
// be shared safely between the engine (single writer) and many readers.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	c.Headers = e.Headers.Clone()
	if e.Body != nil {
		c.Body = append([]byte(nil), e.Body...)
	}
	if e.VaryHeaders != nil {
		c.VaryHeaders = make(map[string]string, len(e.VaryHeaders))
		for k, v := range e.VaryHeaders {
			c.VaryHeaders[k] = v
		}
	}
	return &c
}

// wireEntry is the JSON envelope used by MarshalBinary/UnmarshalBinary.
// Byte-oriented backends (disk, Redis, LevelDB, memcache, Hazelcast, NATS
// K/V, blob storage) store this envelope verbatim; the Postgres backend
// maps fields to columns directly and never touches this type.
type wireEntry struct {
	Method       string            `json:"method"`
	URI          string            `json:"uri"`
	StatusCode   int               `json:"status_code"`
	Headers      map[string]string `json:"headers"`
	Body         []byte            `json:"body"`
	RequestTime  time.Time         `json:"request_time"`
	ResponseTime time.Time         `json:"response_time"`
	VaryHeaders  map[string]string `json:"vary_headers,omitempty"`
	IsIncomplete bool              `json:"is_incomplete"`
	ContentRange string            `json:"content_range,omitempty"`
	IsInvalid    bool              `json:"is_invalid"`
}

// MarshalBinary implements encoding.BinaryMarshaler with a JSON envelope.
func (e *Entry) MarshalBinary() ([]byte, error) {
	w := wireEntry{
		Method:       e.Method,
		URI:          e.URI,
		StatusCode:   e.StatusCode,
		Headers:      e.Headers.ToMap(),
		Body:         e.Body,
		RequestTime:  e.RequestTime,
		ResponseTime: e.ResponseTime,
		VaryHeaders:  e.VaryHeaders,
		IsIncomplete: e.IsIncomplete,
		ContentRange: e.ContentRange,
		IsInvalid:    e.IsInvalid,
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(&w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler, the inverse of
// MarshalBinary.
func (e *Entry) UnmarshalBinary(data []byte) error {
	var w wireEntry
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.Method = w.Method
	e.URI = w.URI
	e.StatusCode = w.StatusCode
	e.Headers = httpheader.FromMap(w.Headers)
	e.Body = w.Body
	e.RequestTime = w.RequestTime
	e.ResponseTime = w.ResponseTime
	e.VaryHeaders = w.VaryHeaders
	e.IsIncomplete = w.IsIncomplete
	e.ContentRange = w.ContentRange
	e.IsInvalid = w.IsInvalid
	return nil
}
