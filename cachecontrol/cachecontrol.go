// Package cachecontrol tokenizes the Cache-Control header into a directive
// set for either side of an exchange, and carries the method/status
// classification tables the rest of the engine matches against.
package cachecontrol

import (
	"log/slog"
	"strconv"
	"strings"
)

// Recognized directive names. Anything else is retained under Extensions.
const (
	MaxAge         = "max-age"
	SMaxAge        = "s-maxage"
	NoCache        = "no-cache"
	NoStore        = "no-store"
	NoTransform    = "no-transform"
	MustRevalidate = "must-revalidate"
	MustUnderstand = "must-understand"
	ProxyRevalidate = "proxy-revalidate"
	Public         = "public"
	Private        = "private"

	MaxStale  = "max-stale"
	MinFresh  = "min-fresh"
	OnlyIfCached = "only-if-cached"
)

// Directives is a parsed Cache-Control directive set. The zero value is an
// empty set. Values carry the directive's argument verbatim (without
// surrounding quotes); a present directive with no argument has value "".
type Directives struct {
	IsRequest  bool
	values     map[string]string
	Extensions map[string]string
}

func newDirectives(isRequest bool) *Directives {
	return &Directives{IsRequest: isRequest, values: map[string]string{}, Extensions: map[string]string{}}
}

// Has reports whether name is present, matched case-insensitively.
func (d *Directives) Has(name string) bool {
	if d == nil {
		return false
	}
	_, ok := d.values[strings.ToLower(name)]
	return ok
}

// Value returns a directive's raw argument and whether it was present.
func (d *Directives) Value(name string) (string, bool) {
	if d == nil {
		return "", false
	}
	v, ok := d.values[name]
	return v, ok
}

// Seconds parses name's value as a non-negative integer second count. Per
// §4.1, non-parseable values yield "directive absent."
func (d *Directives) Seconds(name string) (int64, bool) {
	raw, ok := d.Value(name)
	if !ok {
		return 0, false
	}
	if raw == "" {
		// max-stale may legally appear bare ("unlimited"); callers that need
		// that distinction check Has+Value directly, not Seconds.
		return 0, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (d *Directives) set(name, value string) {
	d.values[name] = value
}

// splitDirectives implements the two-state machine called for in the
// design notes: outside-quotes / inside-quotes. Commas inside double quotes
// do not split tokens.
func splitDirectives(header string) []string {
	var tokens []string
	var cur strings.Builder
	inQuotes := false
	for _, r := range header {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			cur.WriteRune(r)
		case r == ',' && !inQuotes:
			tokens = append(tokens, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 || len(tokens) > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}

// Parse tokenizes a raw Cache-Control header value. isRequest selects which
// directive space (request vs response) the caller intends this value to
// be interpreted in; it only affects nothing at parse time beyond being
// recorded on the result, since both spaces share the same token grammar.
func Parse(header string, isRequest bool, log *slog.Logger) *Directives {
	d := newDirectives(isRequest)
	seen := map[string]bool{}

	for _, tok := range splitDirectives(header) {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}

		var name, value string
		if eq := strings.IndexByte(tok, '='); eq >= 0 {
			name = strings.TrimSpace(tok[:eq])
			value = strings.TrimSpace(tok[eq+1:])
			if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
				value = value[1 : len(value)-1]
			}
		} else {
			name = tok
		}
		name = strings.ToLower(name)
		if name == "" {
			continue
		}

		if seen[name] {
			if log != nil {
				log.Warn("duplicate Cache-Control directive, using first value", "directive", name)
			}
			continue
		}
		seen[name] = true

		if isKnownDirective(name) {
			d.set(name, value)
		} else {
			d.Extensions[name] = value
		}
	}

	detectConflicts(d, log)
	return d
}

func isKnownDirective(name string) bool {
	switch name {
	case MaxAge, SMaxAge, NoCache, NoStore, NoTransform, MustRevalidate, MustUnderstand,
		ProxyRevalidate, Public, Private, MaxStale, MinFresh, OnlyIfCached:
		return true
	}
	return false
}

// detectConflicts logs (but does not reject) the same conflicting-directive
// cases the teacher implementation flags, applying the more restrictive
// directive where RFC 9111 §4.2.1 says one must win.
func detectConflicts(d *Directives, log *slog.Logger) {
	if d.Has(NoCache) && d.Has(MaxAge) && log != nil {
		log.Warn("conflicting Cache-Control directives", "conflict", "no-cache + max-age", "resolution", "no-cache takes precedence")
	}
	if d.Has(Private) && d.Has(Public) {
		if log != nil {
			log.Warn("conflicting Cache-Control directives", "conflict", "public + private", "resolution", "private takes precedence")
		}
		delete(d.values, Public)
	}
	if d.Has(NoStore) && d.Has(MaxAge) && log != nil {
		log.Warn("conflicting Cache-Control directives", "conflict", "no-store + max-age", "resolution", "no-store takes precedence")
	}
}

// --- method & status classification tables (§4.1) ---

// SafeReusable methods may satisfy a read.
func SafeReusable(method string) bool {
	switch strings.ToUpper(method) {
	case "GET", "HEAD":
		return true
	}
	return false
}

// Cacheable methods may be stored at all.
func Cacheable(method string) bool {
	switch strings.ToUpper(method) {
	case "GET", "HEAD", "POST":
		return true
	}
	return false
}

// UnsafeInvalidating methods trigger invalidation of the target URI.
func UnsafeInvalidating(method string) bool {
	switch strings.ToUpper(method) {
	case "POST", "PUT", "DELETE", "PATCH":
		return true
	}
	return false
}

// heuristicallyCacheableStatuses per §4.1.
var heuristicallyCacheableStatuses = map[int]bool{
	200: true, 203: true, 204: true, 206: true,
	300: true, 301: true, 304: true,
	404: true, 405: true, 410: true, 414: true, 501: true,
}

// HeuristicallyCacheable reports whether status is eligible for heuristic
// freshness in the absence of explicit expiration information.
func HeuristicallyCacheable(status int) bool {
	return heuristicallyCacheableStatuses[status]
}

// FinalStatus reports whether status is a final response (never 1xx).
func FinalStatus(status int) bool {
	return status >= 200
}

// prohibitedStoredHeaders are stripped before an entry is ever persisted.
var prohibitedStoredHeaders = map[string]bool{
	"connection":                 true,
	"proxy-authentication-info":  true,
	"proxy-authorization":        true,
	"proxy-authenticate":         true,
}

// hopByHopHeaders extends prohibitedStoredHeaders with the fields that must
// additionally be stripped when preparing a response for downstream reuse.
var hopByHopHeaders = map[string]bool{
	"keep-alive":        true,
	"te":                true,
	"trailer":           true,
	"transfer-encoding": true,
	"upgrade":           true,
}

// ProhibitedForStorage reports whether name must be stripped before an
// entry is stored.
func ProhibitedForStorage(name string) bool {
	return prohibitedStoredHeaders[strings.ToLower(name)]
}

// HopByHop reports whether name must be stripped when reusing a stored
// response downstream, on top of ProhibitedForStorage.
func HopByHop(name string) bool {
	n := strings.ToLower(name)
	return prohibitedStoredHeaders[n] || hopByHopHeaders[n]
}
