// Package validator generates conditional request headers, matches 304
// responses against stored validators, and merges a 304 (or an optional
// HEAD freshening round) onto a stored entry.
package validator

import (
	"strings"
	"time"

	"github.com/relaycache/engine/entry"
	"github.com/relaycache/engine/httpheader"
)

// mergeHeaders lists the fields a 304 (or freshening HEAD) response may
// update on a stored entry, per §4.5.
var mergeHeaders = []string{"cache-control", "date", "etag", "expires", "vary", "warning"}

// GenerateConditionalHeaders returns a copy of reqHeaders augmented with
// If-None-Match / If-Modified-Since drawn from the stored entry's
// validators, when present and not already set by the caller.
func GenerateConditionalHeaders(reqHeaders *httpheader.Map, stored *entry.Entry) *httpheader.Map {
	out := reqHeaders.Clone()
	if out == nil {
		out = httpheader.New()
	}

	if etag, ok := stored.Headers.Get("ETag"); ok && etag != "" && !out.Has("If-None-Match") {
		out.Set("If-None-Match", etag)
	}
	if lm, ok := stored.Headers.Get("Last-Modified"); ok && lm != "" && !out.Has("If-Modified-Since") {
		out.Set("If-Modified-Since", lm)
	}
	return out
}

// MatchesOn304 reports whether the 304 response's validators match the
// stored entry's validators, per §4.5:
//   - strong match if both ETags are present and byte-equal (including any
//     weak "W/" prefix);
//   - weak match if Last-Modified matches after stripping "W/" on both
//     sides;
//   - if neither side carries any validator, the engine conservatively
//     accepts the match.
func MatchesOn304(stored *entry.Entry, respHeaders *httpheader.Map) bool {
	storedETag, hasStoredETag := stored.Headers.Get("ETag")
	newETag, hasNewETag := respHeaders.Get("ETag")
	if hasStoredETag && hasNewETag {
		return storedETag == newETag
	}

	storedLM, hasStoredLM := stored.Headers.Get("Last-Modified")
	newLM, hasNewLM := respHeaders.Get("Last-Modified")
	if hasStoredLM && hasNewLM {
		return stripWeak(storedLM) == stripWeak(newLM)
	}

	if !hasStoredETag && !hasNewETag && !hasStoredLM && !hasNewLM {
		return true
	}
	return false
}

func stripWeak(v string) string {
	return strings.TrimPrefix(v, "W/")
}

// UpdateFrom304 merges mergeHeaders from the 304 (or freshening) response
// onto a copy of stored, updating requestTime/responseTime to the
// validation round's times. Body, method, URI, and status are untouched;
// this never mutates stored in place — a 304 always produces a new Entry.
func UpdateFrom304(stored *entry.Entry, respHeaders *httpheader.Map, requestTime, responseTime time.Time) *entry.Entry {
	updated := stored.Clone()
	for _, name := range mergeHeaders {
		if v, ok := respHeaders.Get(name); ok {
			updated.Headers.Set(name, v)
		}
	}
	updated.RequestTime = requestTime
	updated.ResponseTime = responseTime
	return updated
}

// FreshenFromHEAD implements the optional HEAD-freshening optimization: a
// HEAD response whose validators match the stored GET's validators, and
// whose Content-Length (if present on both) agrees, may update the stored
// GET's headers using the same merge rule as a 304. The body is untouched.
// Returns (nil, false) if the HEAD response does not qualify.
func FreshenFromHEAD(stored *entry.Entry, headHeaders *httpheader.Map, requestTime, responseTime time.Time) (*entry.Entry, bool) {
	if !MatchesOn304(stored, headHeaders) {
		return nil, false
	}

	storedLen, hasStoredLen := stored.Headers.Get("Content-Length")
	headLen, hasHeadLen := headHeaders.Get("Content-Length")
	if hasStoredLen && hasHeadLen && storedLen != headLen {
		return nil, false
	}

	return UpdateFrom304(stored, headHeaders, requestTime, responseTime), true
}
