package validator

import (
	"testing"
	"time"

	"github.com/relaycache/engine/entry"
	"github.com/relaycache/engine/httpheader"
)

func storedWithValidators(etag, lastModified string) *entry.Entry {
	h := httpheader.New()
	if etag != "" {
		h.Set("ETag", etag)
	}
	if lastModified != "" {
		h.Set("Last-Modified", lastModified)
	}
	return &entry.Entry{Headers: h, Body: []byte("cached")}
}

func TestGenerateConditionalHeadersAddsValidators(t *testing.T) {
	stored := storedWithValidators(`"v1"`, "Mon, 01 Jan 2026 00:00:00 GMT")
	req := httpheader.New()

	out := GenerateConditionalHeaders(req, stored)
	if v, _ := out.Get("If-None-Match"); v != `"v1"` {
		t.Fatalf("If-None-Match = %q, want %q", v, `"v1"`)
	}
	if v, _ := out.Get("If-Modified-Since"); v != "Mon, 01 Jan 2026 00:00:00 GMT" {
		t.Fatalf("If-Modified-Since = %q", v)
	}
}

func TestGenerateConditionalHeadersDoesNotOverwriteCallerValue(t *testing.T) {
	stored := storedWithValidators(`"v1"`, "")
	req := httpheader.New()
	req.Set("If-None-Match", `"caller-supplied"`)

	out := GenerateConditionalHeaders(req, stored)
	if v, _ := out.Get("If-None-Match"); v != `"caller-supplied"` {
		t.Fatalf("caller-supplied If-None-Match must not be overwritten, got %q", v)
	}
}

func TestMatchesOn304StrongETag(t *testing.T) {
	stored := storedWithValidators(`"v1"`, "")
	resp := httpheader.New()
	resp.Set("ETag", `"v1"`)
	if !MatchesOn304(stored, resp) {
		t.Fatal("identical ETags must match")
	}

	resp.Set("ETag", `"v2"`)
	if MatchesOn304(stored, resp) {
		t.Fatal("differing ETags must not match")
	}
}

func TestMatchesOn304WeakLastModified(t *testing.T) {
	stored := storedWithValidators("", "Mon, 01 Jan 2026 00:00:00 GMT")
	resp := httpheader.New()
	resp.Set("Last-Modified", "W/Mon, 01 Jan 2026 00:00:00 GMT")
	if !MatchesOn304(stored, resp) {
		t.Fatal("a weak-prefixed Last-Modified must still match after stripping W/")
	}
}

func TestMatchesOn304NoValidatorsConservativelyMatches(t *testing.T) {
	stored := &entry.Entry{Headers: httpheader.New()}
	resp := httpheader.New()
	if !MatchesOn304(stored, resp) {
		t.Fatal("absence of any validator on both sides must conservatively match")
	}
}

func TestUpdateFrom304MergesOnlyAllowedHeaders(t *testing.T) {
	stored := storedWithValidators(`"v1"`, "")
	stored.Headers.Set("Content-Type", "text/plain")

	resp := httpheader.New()
	resp.Set("ETag", `"v2"`)
	resp.Set("Content-Type", "application/json")

	requestTime := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	responseTime := requestTime.Add(time.Second)
	updated := UpdateFrom304(stored, resp, requestTime, responseTime)

	if v, _ := updated.Headers.Get("ETag"); v != `"v2"` {
		t.Fatalf("ETag must be updated from the 304, got %q", v)
	}
	if v, _ := updated.Headers.Get("Content-Type"); v != "text/plain" {
		t.Fatalf("Content-Type is not in the merge list and must be left untouched, got %q", v)
	}
	if !updated.RequestTime.Equal(requestTime) || !updated.ResponseTime.Equal(responseTime) {
		t.Fatal("UpdateFrom304 must stamp the validation round's times")
	}
	if v, _ := stored.Headers.Get("ETag"); v != `"v1"` {
		t.Fatal("UpdateFrom304 must not mutate the original stored entry")
	}
}

func TestFreshenFromHEADRejectsContentLengthMismatch(t *testing.T) {
	stored := storedWithValidators(`"v1"`, "")
	stored.Headers.Set("Content-Length", "100")

	head := httpheader.New()
	head.Set("ETag", `"v1"`)
	head.Set("Content-Length", "200")

	_, ok := FreshenFromHEAD(stored, head, time.Now(), time.Now())
	if ok {
		t.Fatal("a Content-Length mismatch must reject HEAD freshening")
	}
}

func TestFreshenFromHEADAcceptsMatchingValidators(t *testing.T) {
	stored := storedWithValidators(`"v1"`, "")
	head := httpheader.New()
	head.Set("ETag", `"v1"`)

	updated, ok := FreshenFromHEAD(stored, head, time.Now(), time.Now())
	if !ok || updated == nil {
		t.Fatal("matching validators with no Content-Length conflict must freshen")
	}
}
