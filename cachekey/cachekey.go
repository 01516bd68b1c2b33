// Package cachekey derives the primary and Vary-qualified cache keys the
// rest of the engine indexes storage by.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/relaycache/engine/httpheader"
)

// Primary returns the primary key for a method+URI pair, as a hex-encoded
// SHA-256 digest of "METHOD:uri". The hash choice is implementation-free
// per the spec; SHA-256 matches this module's security package so that key
// hashing and at-rest encryption share one primitive.
func Primary(method, uri string) string {
	return digest(strings.ToUpper(method) + ":" + uri)
}

// WithSite partitions Primary's input by a caller-supplied top-level site
// identifier, for the optional double-keying privacy mitigation.
func WithSite(method, uri, site string) string {
	if site == "" {
		return Primary(method, uri)
	}
	return digest(site + "|" + strings.ToUpper(method) + ":" + uri)
}

// VaryWildcardSuffix is appended to a primary key to produce the sentinel
// key for "Vary: *" responses, which must never be matched on lookup.
const VaryWildcardSuffix = "|vary:*"

// WithVary returns the Vary-qualified key for method+uri, given the Vary
// field names nominated by the response (varyFields) and a lookup function
// that returns the current request's value for a given field name.
//
// If varyFields is empty, the primary key is returned unchanged. If any
// entry is "*", the wildcard sentinel is returned and must never match on
// lookup. Otherwise each field is lowercased, its request value normalized
// (whitespace collapsed, trimmed), serialized as "name:value", sorted, and
// joined with "|" before being appended to the primary key and hashed.
func WithVary(baseKey string, varyFields []string, valueFor func(field string) string) string {
	if len(varyFields) == 0 {
		return baseKey
	}
	for _, f := range varyFields {
		if strings.TrimSpace(f) == "*" {
			return baseKey + VaryWildcardSuffix
		}
	}

	parts := make([]string, 0, len(varyFields))
	for _, f := range varyFields {
		name := strings.ToLower(strings.TrimSpace(f))
		if name == "" {
			continue
		}
		value := httpheader.CollapseWhitespace(valueFor(name))
		parts = append(parts, name+":"+value)
	}
	sort.Strings(parts)

	return digest(baseKey + "vary:" + strings.Join(parts, "|"))
}

// VaryMatches compares the stored varyHeaders mapping against the current
// request using the same field-lookup function used at storage time. The
// wildcard sentinel never matches.
func VaryMatches(stored map[string]string, valueFor func(field string) string) bool {
	if len(stored) == 1 {
		if v, ok := stored["*"]; ok && v == "*" {
			return false
		}
	}
	for field, storedValue := range stored {
		current := httpheader.CollapseWhitespace(valueFor(field))
		if current != storedValue {
			return false
		}
	}
	return true
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
