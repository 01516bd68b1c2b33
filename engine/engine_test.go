package engine

import (
	"context"
	"testing"
	"time"

	"github.com/relaycache/engine/entry"
	"github.com/relaycache/engine/httpheader"
)

func headers(pairs ...string) *httpheader.Map {
	h := httpheader.New()
	for i := 0; i+1 < len(pairs); i += 2 {
		h.Set(pairs[i], pairs[i+1])
	}
	return h
}

func TestPutThenGetFreshEntry(t *testing.T) {
	e := New(DefaultConfig())
	ctx := context.Background()

	requestTime := time.Now()
	responseTime := requestTime.Add(10 * time.Millisecond)
	respHeaders := headers("Cache-Control", "max-age=3600", "Content-Type", "text/plain")

	stored, err := e.Put(ctx, "GET", "https://example.com/a", 200, headers(), respHeaders, []byte("hello"), requestTime, responseTime)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !stored {
		t.Fatal("a cacheable GET/200/max-age response must be stored")
	}

	result, err := e.Get(ctx, "GET", "https://example.com/a", headers(), Default)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if result == nil {
		t.Fatal("expected a cache hit")
	}
	if result.RequiresValidation {
		t.Fatal("a fresh entry must not require validation")
	}
	if string(result.Entry.Body) != "hello" {
		t.Fatalf("unexpected body: %q", result.Entry.Body)
	}
}

func TestPutRejectsNoStore(t *testing.T) {
	e := New(DefaultConfig())
	ctx := context.Background()

	respHeaders := headers("Cache-Control", "no-store")
	stored, err := e.Put(ctx, "GET", "https://example.com/a", 200, headers(), respHeaders, []byte("hello"), time.Now(), time.Now())
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if stored {
		t.Fatal("no-store responses must never be stored")
	}
}

func TestGetStaleRequiresValidationByDefault(t *testing.T) {
	e := New(DefaultConfig())
	ctx := context.Background()

	requestTime := time.Now().Add(-2 * time.Hour)
	responseTime := requestTime.Add(10 * time.Millisecond)
	respHeaders := headers("Cache-Control", "max-age=60")

	if _, err := e.Put(ctx, "GET", "https://example.com/a", 200, headers(), respHeaders, []byte("hello"), requestTime, responseTime); err != nil {
		t.Fatalf("Put: %v", err)
	}

	result, err := e.Get(ctx, "GET", "https://example.com/a", headers(), Default)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if result == nil {
		t.Fatal("a stale entry is still a cache hit, just one requiring validation")
	}
	if !result.RequiresValidation || !result.IsStale {
		t.Fatalf("expected a stale entry requiring validation, got %+v", result)
	}
}

func TestGetStaleCacheFirstPolicySkipsValidation(t *testing.T) {
	e := New(DefaultConfig())
	ctx := context.Background()

	requestTime := time.Now().Add(-2 * time.Hour)
	responseTime := requestTime.Add(10 * time.Millisecond)
	respHeaders := headers("Cache-Control", "max-age=60")

	if _, err := e.Put(ctx, "GET", "https://example.com/a", 200, headers(), respHeaders, []byte("hello"), requestTime, responseTime); err != nil {
		t.Fatalf("Put: %v", err)
	}

	result, err := e.Get(ctx, "GET", "https://example.com/a", headers(), CacheFirst)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if result == nil || result.RequiresValidation {
		t.Fatalf("CacheFirst must serve a stale entry without validation, got %+v", result)
	}
}

func TestGetStaleCacheFirstHonorsMustRevalidate(t *testing.T) {
	e := New(DefaultConfig())
	ctx := context.Background()

	requestTime := time.Now().Add(-2 * time.Hour)
	responseTime := requestTime.Add(10 * time.Millisecond)
	respHeaders := headers("Cache-Control", "max-age=60, must-revalidate")

	if _, err := e.Put(ctx, "GET", "https://example.com/a", 200, headers(), respHeaders, []byte("hello"), requestTime, responseTime); err != nil {
		t.Fatalf("Put: %v", err)
	}

	result, err := e.Get(ctx, "GET", "https://example.com/a", headers(), CacheFirst)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if result == nil || !result.RequiresValidation {
		t.Fatalf("must-revalidate forbids serving stale even under CacheFirst, got %+v", result)
	}
}

func TestGetHonorsRequestMaxStale(t *testing.T) {
	e := New(DefaultConfig())
	ctx := context.Background()

	requestTime := time.Now().Add(-90 * time.Second)
	responseTime := requestTime.Add(10 * time.Millisecond)
	respHeaders := headers("Cache-Control", "max-age=60")

	if _, err := e.Put(ctx, "GET", "https://example.com/a", 200, headers(), respHeaders, []byte("hello"), requestTime, responseTime); err != nil {
		t.Fatalf("Put: %v", err)
	}

	result, err := e.Get(ctx, "GET", "https://example.com/a", headers("Cache-Control", "max-stale=60"), Default)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if result == nil || result.RequiresValidation {
		t.Fatalf("max-stale=60 should tolerate ~30s of staleness without validation, got %+v", result)
	}

	result, err = e.Get(ctx, "GET", "https://example.com/a", headers("Cache-Control", "max-stale=5"), Default)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if result == nil || !result.RequiresValidation {
		t.Fatalf("max-stale=5 should not tolerate ~30s of staleness, got %+v", result)
	}
}

func TestGetHonorsRequestMinFresh(t *testing.T) {
	e := New(DefaultConfig())
	ctx := context.Background()

	requestTime := time.Now().Add(-50 * time.Second)
	responseTime := requestTime.Add(10 * time.Millisecond)
	respHeaders := headers("Cache-Control", "max-age=60")

	if _, err := e.Put(ctx, "GET", "https://example.com/a", 200, headers(), respHeaders, []byte("hello"), requestTime, responseTime); err != nil {
		t.Fatalf("Put: %v", err)
	}

	result, err := e.Get(ctx, "GET", "https://example.com/a", headers("Cache-Control", "min-fresh=30"), Default)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if result == nil || !result.RequiresValidation {
		t.Fatalf("min-fresh=30 with ~10s of remaining lifetime should require validation, got %+v", result)
	}

	result, err = e.Get(ctx, "GET", "https://example.com/a", headers(), Default)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if result == nil || result.RequiresValidation {
		t.Fatalf("without min-fresh the same entry is still fresh, got %+v", result)
	}
}

func TestGetSignalsBackgroundRevalidationInsideSWRWindow(t *testing.T) {
	e := New(DefaultConfig())
	ctx := context.Background()

	requestTime := time.Now().Add(-65 * time.Second)
	responseTime := requestTime.Add(10 * time.Millisecond)
	respHeaders := headers("Cache-Control", "max-age=60, stale-while-revalidate=30")

	if _, err := e.Put(ctx, "GET", "https://example.com/a", 200, headers(), respHeaders, []byte("hello"), requestTime, responseTime); err != nil {
		t.Fatalf("Put: %v", err)
	}

	result, err := e.Get(ctx, "GET", "https://example.com/a", headers(), Default)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if result == nil || result.RequiresValidation || !result.IsStale {
		t.Fatalf("expected a non-blocking stale hit inside the SWR window, got %+v", result)
	}
	if !result.NeedsBackgroundRevalidation {
		t.Fatal("a hit inside the stale-while-revalidate window must ask for background revalidation")
	}
}

func TestGetSuppressesSWRUnderMustRevalidate(t *testing.T) {
	e := New(DefaultConfig())
	ctx := context.Background()

	requestTime := time.Now().Add(-65 * time.Second)
	responseTime := requestTime.Add(10 * time.Millisecond)
	respHeaders := headers("Cache-Control", "max-age=60, stale-while-revalidate=30, must-revalidate")

	if _, err := e.Put(ctx, "GET", "https://example.com/a", 200, headers(), respHeaders, []byte("hello"), requestTime, responseTime); err != nil {
		t.Fatalf("Put: %v", err)
	}

	result, err := e.Get(ctx, "GET", "https://example.com/a", headers(), Default)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if result == nil || !result.RequiresValidation || result.NeedsBackgroundRevalidation {
		t.Fatalf("must-revalidate must suppress stale-while-revalidate serving, got %+v", result)
	}
}

func TestAllowStaleOnErrorRespectsConfigAndMustRevalidate(t *testing.T) {
	e := New(DefaultConfig())

	allowed := &GetResult{
		Entry: &entry.Entry{Headers: headers("Cache-Control", "max-age=60")},
		Age:   time.Hour,
	}
	if !e.AllowStaleOnError(allowed) {
		t.Fatal("default config should allow stale-on-error for a plain cacheable entry")
	}

	blocked := &GetResult{
		Entry: &entry.Entry{Headers: headers("Cache-Control", "max-age=60, must-revalidate")},
		Age:   time.Hour,
	}
	if e.AllowStaleOnError(blocked) {
		t.Fatal("must-revalidate must block stale-on-error serving")
	}

	tooOld := &GetResult{
		Entry: &entry.Entry{Headers: headers("Cache-Control", "max-age=60")},
		Age:   48 * time.Hour,
	}
	if e.AllowStaleOnError(tooOld) {
		t.Fatal("an entry older than MaxStaleAge must not be served on error")
	}

	cfg := DefaultConfig()
	cfg.ServeStaleOnError = false
	off := New(cfg)
	if off.AllowStaleOnError(allowed) {
		t.Fatal("ServeStaleOnError=false must disable stale-on-error serving")
	}
}

func TestUpdateFrom304RefreshesValidatorsAndAge(t *testing.T) {
	e := New(DefaultConfig())
	ctx := context.Background()

	requestTime := time.Now().Add(-time.Hour)
	responseTime := requestTime.Add(10 * time.Millisecond)
	respHeaders := headers("Cache-Control", "max-age=60", "ETag", `"v1"`)

	if _, err := e.Put(ctx, "GET", "https://example.com/a", 200, headers(), respHeaders, []byte("hello"), requestTime, responseTime); err != nil {
		t.Fatalf("Put: %v", err)
	}

	newRespHeaders := headers("Cache-Control", "max-age=600", "ETag", `"v1"`)
	now := time.Now()
	updated, err := e.UpdateFrom304(ctx, "GET", "https://example.com/a", newRespHeaders, now, now)
	if err != nil {
		t.Fatalf("UpdateFrom304: %v", err)
	}
	if updated == nil {
		t.Fatal("expected an updated entry")
	}
	if cc, _ := updated.Headers.Get("Cache-Control"); cc != "max-age=600" {
		t.Fatalf("Cache-Control should be refreshed from the 304, got %q", cc)
	}
	if string(updated.Body) != "hello" {
		t.Fatal("a 304 merge must not touch the stored body")
	}

	result, err := e.Get(ctx, "GET", "https://example.com/a", headers(), Default)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if result == nil || result.RequiresValidation {
		t.Fatalf("after a 304 refresh the entry should be fresh again, got %+v", result)
	}
}

func TestInvalidateOnUnsafeMethodDropsCachedGet(t *testing.T) {
	e := New(DefaultConfig())
	ctx := context.Background()

	respHeaders := headers("Cache-Control", "max-age=3600")
	if _, err := e.Put(ctx, "GET", "https://example.com/a", 200, headers(), respHeaders, []byte("hello"), time.Now(), time.Now()); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := e.InvalidateOnUnsafeMethod(ctx, "POST", "https://example.com/a", 200, "", "", nil); err != nil {
		t.Fatalf("InvalidateOnUnsafeMethod: %v", err)
	}

	result, err := e.Get(ctx, "GET", "https://example.com/a", headers(), Default)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if result != nil {
		t.Fatal("a successful POST to the same URI must invalidate the cached GET")
	}
}

func TestGenerateValidationHeadersAddsIfNoneMatch(t *testing.T) {
	e := New(DefaultConfig())
	ctx := context.Background()

	respHeaders := headers("Cache-Control", "max-age=1", "ETag", `"v1"`)
	if _, err := e.Put(ctx, "GET", "https://example.com/a", 200, headers(), respHeaders, []byte("hello"), time.Now(), time.Now()); err != nil {
		t.Fatalf("Put: %v", err)
	}

	out, err := e.GenerateValidationHeaders(ctx, "GET", "https://example.com/a", headers())
	if err != nil {
		t.Fatalf("GenerateValidationHeaders: %v", err)
	}
	if v, ok := out.Get("If-None-Match"); !ok || v != `"v1"` {
		t.Fatalf("If-None-Match = %q, %v; want \"v1\", true", v, ok)
	}
}

func TestClearExpiredRemovesOnlyStaleEntries(t *testing.T) {
	e := New(DefaultConfig())
	ctx := context.Background()

	fresh := headers("Cache-Control", "max-age=3600")
	if _, err := e.Put(ctx, "GET", "https://example.com/fresh", 200, headers(), fresh, []byte("f"), time.Now(), time.Now()); err != nil {
		t.Fatalf("put fresh: %v", err)
	}

	staleRequestTime := time.Now().Add(-2 * time.Hour)
	stale := headers("Cache-Control", "max-age=60")
	if _, err := e.Put(ctx, "GET", "https://example.com/stale", 200, headers(), stale, []byte("s"), staleRequestTime, staleRequestTime); err != nil {
		t.Fatalf("put stale: %v", err)
	}

	if err := e.ClearExpired(ctx); err != nil {
		t.Fatalf("ClearExpired: %v", err)
	}

	stats, err := e.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Entries != 1 {
		t.Fatalf("expected only the fresh entry to survive ClearExpired, got %d entries", stats.Entries)
	}
}
