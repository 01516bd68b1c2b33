package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/relaycache/engine/entry"
	"github.com/relaycache/engine/storage"
	"github.com/relaycache/engine/storage/storagetest"
)

func TestResilienceTierConformance(t *testing.T) {
	tier := Wrap(storage.NewMemory(storage.DefaultMemoryOptions()), Config{})
	storagetest.Conformance(t, tier)
}

func TestResilienceTierClearWhere(t *testing.T) {
	tier := Wrap(storage.NewMemory(storage.DefaultMemoryOptions()), Config{})
	storagetest.ClearWhere(t, tier)
}

// flakyTier fails the first N Get calls, then delegates to inner.
type flakyTier struct {
	storage.Tier
	failures int
}

func (f *flakyTier) Get(ctx context.Context, key string) (*entry.Entry, bool, error) {
	if f.failures > 0 {
		f.failures--
		return nil, false, errors.New("transient storage error")
	}
	return f.Tier.Get(ctx, key)
}

func TestResilienceTierRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	inner := storage.NewMemory(storage.DefaultMemoryOptions())
	if _, err := inner.Put(ctx, "k", &entry.Entry{Method: "GET", URI: "https://example.com/k", StatusCode: 200, Body: []byte("v")}); err != nil {
		t.Fatalf("seed put: %v", err)
	}

	flaky := &flakyTier{Tier: inner, failures: 2}
	retry := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool { return err != nil }).
		WithMaxRetries(3).
		WithBackoff(time.Millisecond, 10*time.Millisecond).
		Build()

	tier := Wrap(flaky, Config{Retry: retry})

	e, ok, err := tier.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get should have succeeded after retries: %v", err)
	}
	if !ok || string(e.Body) != "v" {
		t.Fatalf("get returned ok=%v body=%v, want ok=true body=v", ok, e)
	}
}

func TestResilienceTierGivesUpAfterExhaustingRetries(t *testing.T) {
	ctx := context.Background()
	inner := storage.NewMemory(storage.DefaultMemoryOptions())
	flaky := &flakyTier{Tier: inner, failures: 100}

	retry := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool { return err != nil }).
		WithMaxRetries(2).
		WithBackoff(time.Millisecond, 10*time.Millisecond).
		Build()

	tier := Wrap(flaky, Config{Retry: retry})

	if _, _, err := tier.Get(ctx, "k"); err == nil {
		t.Fatal("expected an error once retries are exhausted")
	}
}
