package storage_test

import (
	"context"
	"testing"

	"github.com/relaycache/engine/entry"
	"github.com/relaycache/engine/storage"
	"github.com/relaycache/engine/storage/storagetest"
)

func newTestTiered() *storage.Tiered {
	l1 := storage.NewMemory(storage.DefaultMemoryOptions())
	l2 := storage.NewMemory(storage.DefaultMemoryOptions())
	return storage.NewTiered(l1, l2)
}

func TestTieredConformance(t *testing.T) {
	storagetest.Conformance(t, newTestTiered())
}

func TestTieredPromotesL2HitToL1(t *testing.T) {
	l1 := storage.NewMemory(storage.DefaultMemoryOptions())
	l2 := storage.NewMemory(storage.DefaultMemoryOptions())
	tiered := storage.NewTiered(l1, l2)
	ctx := context.Background()

	e := &entry.Entry{Method: "GET", URI: "https://example.com/r", StatusCode: 200, Body: []byte("v")}
	if _, err := l2.Put(ctx, "k", e); err != nil {
		t.Fatalf("seed l2: %v", err)
	}

	if _, ok, err := l1.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("l1 should not have the key before a Get through Tiered: ok=%v err=%v", ok, err)
	}

	got, ok, err := tiered.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("tiered get: ok=%v err=%v", ok, err)
	}
	if string(got.Body) != "v" {
		t.Fatalf("unexpected body: %q", got.Body)
	}

	if _, ok, err := l1.Get(ctx, "k"); err != nil || !ok {
		t.Fatalf("l2 hit should have been promoted to l1: ok=%v err=%v", ok, err)
	}
}

func TestTieredKeysIsUnion(t *testing.T) {
	l1 := storage.NewMemory(storage.DefaultMemoryOptions())
	l2 := storage.NewMemory(storage.DefaultMemoryOptions())
	tiered := storage.NewTiered(l1, l2)
	ctx := context.Background()

	mustPut(t, l1, "only-l1")
	mustPut(t, l2, "only-l2")

	keys, err := tiered.Keys(ctx)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	seen := map[string]bool{}
	for _, k := range keys {
		seen[k] = true
	}
	if !seen["only-l1"] || !seen["only-l2"] {
		t.Fatalf("expected union of both tiers' keys, got %v", keys)
	}
}

func mustPut(t *testing.T, tier storage.Tier, key string) {
	t.Helper()
	e := &entry.Entry{Method: "GET", URI: "https://example.com/" + key, StatusCode: 200, Body: []byte("v")}
	if _, err := tier.Put(context.Background(), key, e); err != nil {
		t.Fatalf("put %s: %v", key, err)
	}
}
