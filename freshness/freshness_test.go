package freshness

import (
	"testing"
	"time"

	"github.com/relaycache/engine/cachecontrol"
	"github.com/relaycache/engine/httpheader"
)

func headersWithDate(t time.Time) *httpheader.Map {
	h := httpheader.New()
	h.Set("Date", t.UTC().Format(time.RFC1123))
	return h
}

func TestAgeNoDelay(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h := headersWithDate(now)

	age := Age(h, now, now, now)
	if age != 0 {
		t.Fatalf("age at the instant of response = %v, want 0", age)
	}
}

func TestAgeAccountsForResidentTime(t *testing.T) {
	responseTime := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h := headersWithDate(responseTime)
	now := responseTime.Add(30 * time.Second)

	age := Age(h, responseTime, responseTime, now)
	if age != 30*time.Second {
		t.Fatalf("age = %v, want 30s", age)
	}
}

func TestLifetimeExplicitMaxAge(t *testing.T) {
	cc := cachecontrol.Parse("max-age=120", false, nil)
	h := httpheader.New()
	lt, ok := Lifetime(cc, h, 200, DefaultOptions())
	if !ok || lt != 120*time.Second {
		t.Fatalf("Lifetime = %v, %v; want 120s, true", lt, ok)
	}
}

func TestLifetimeSharedPrefersSMaxAge(t *testing.T) {
	cc := cachecontrol.Parse("max-age=60, s-maxage=600", false, nil)
	h := httpheader.New()
	opts := Options{CacheType: Shared}
	lt, ok := Lifetime(cc, h, 200, opts)
	if !ok || lt != 600*time.Second {
		t.Fatalf("shared Lifetime = %v, %v; want 600s, true", lt, ok)
	}
}

func TestLifetimeNoBasisIsNeverFresh(t *testing.T) {
	cc := cachecontrol.Parse("", false, nil)
	h := httpheader.New()
	_, ok := Lifetime(cc, h, 999, DefaultOptions())
	if ok {
		t.Fatal("status 999 has no explicit or heuristic basis and must not be fresh")
	}
}

func TestLifetimeHeuristicFromLastModified(t *testing.T) {
	date := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	lastModified := date.Add(-10 * 24 * time.Hour)

	h := httpheader.New()
	h.Set("Date", date.Format(time.RFC1123))
	h.Set("Last-Modified", lastModified.Format(time.RFC1123))

	cc := cachecontrol.Parse("", false, nil)
	lt, ok := Lifetime(cc, h, 200, DefaultOptions())
	if !ok {
		t.Fatal("expected a heuristic lifetime")
	}
	want := 24 * time.Hour // 10% of 10 days
	if lt != want {
		t.Fatalf("heuristic Lifetime = %v, want %v", lt, want)
	}
}

func TestIsFresh(t *testing.T) {
	if !IsFresh(5*time.Second, 10*time.Second, true) {
		t.Fatal("age <= lifetime must be fresh")
	}
	if IsFresh(15*time.Second, 10*time.Second, true) {
		t.Fatal("age > lifetime must not be fresh")
	}
	if IsFresh(0, 0, false) {
		t.Fatal("ok=false must never be fresh")
	}
}

func TestCanServeStaleMustRevalidateBlocks(t *testing.T) {
	respCC := cachecontrol.Parse("must-revalidate", false, nil)
	reqCC := cachecontrol.Parse("max-stale=100", true, nil)
	if CanServeStale(respCC, reqCC, DefaultOptions(), 20*time.Second, 10*time.Second, false) {
		t.Fatal("must-revalidate must block stale serving regardless of max-stale")
	}
}

func TestCanServeStaleMaxStaleBare(t *testing.T) {
	respCC := cachecontrol.Parse("max-age=10", false, nil)
	reqCC := cachecontrol.Parse("max-stale", true, nil)
	if !CanServeStale(respCC, reqCC, DefaultOptions(), 1*time.Hour, 10*time.Second, false) {
		t.Fatal("bare max-stale should accept any amount of staleness")
	}
}

func TestCanServeStaleDisconnected(t *testing.T) {
	respCC := cachecontrol.Parse("max-age=1", false, nil)
	if !CanServeStale(respCC, nil, DefaultOptions(), time.Hour, time.Second, true) {
		t.Fatal("disconnected operation must be allowed to serve a stale entry that does not require revalidation")
	}
	respCC = cachecontrol.Parse("must-revalidate", false, nil)
	if CanServeStale(respCC, nil, DefaultOptions(), time.Hour, time.Second, true) {
		t.Fatal("must-revalidate must block stale serving even when disconnected")
	}
}

func TestSatisfiesMinFresh(t *testing.T) {
	reqCC := cachecontrol.Parse("min-fresh=30", true, nil)
	if SatisfiesMinFresh(reqCC, 5*time.Second, 20*time.Second) {
		t.Fatal("remaining lifetime of 15s does not satisfy min-fresh=30s")
	}
	if !SatisfiesMinFresh(reqCC, 5*time.Second, 40*time.Second) {
		t.Fatal("remaining lifetime of 35s satisfies min-fresh=30s")
	}
}
