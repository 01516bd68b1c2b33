package storage_test

import (
	"context"
	"testing"

	"github.com/relaycache/engine/entry"
	"github.com/relaycache/engine/freshness"
	"github.com/relaycache/engine/storage"
	"github.com/relaycache/engine/storage/storagetest"
)

func TestMemoryConformance(t *testing.T) {
	m := storage.NewMemory(storage.DefaultMemoryOptions())
	storagetest.Conformance(t, m)
}

func TestMemoryClearWhere(t *testing.T) {
	m := storage.NewMemory(storage.DefaultMemoryOptions())
	storagetest.ClearWhere(t, m)
}

func TestMemoryEvictsOnMaxEntries(t *testing.T) {
	m := storage.NewMemory(storage.MemoryOptions{MaxEntries: 2, MaxBytes: 1 << 20, Strategy: storage.LRU, Freshness: freshness.DefaultOptions()})
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		if _, err := m.Put(ctx, key, &entry.Entry{Method: "GET", URI: "https://example.com/" + key, StatusCode: 200, Body: []byte("v")}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	n, err := m.Size(ctx)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if n > 2 {
		t.Fatalf("expected eviction to cap at 2 entries, got %d", n)
	}

	if _, ok, err := m.Get(ctx, "c"); err != nil || !ok {
		t.Fatalf("most recently inserted entry should survive eviction: ok=%v err=%v", ok, err)
	}
}

func TestMemoryRejectsOversizedEntry(t *testing.T) {
	m := storage.NewMemory(storage.MemoryOptions{MaxEntries: 10, MaxBytes: 8, Strategy: storage.LRU, Freshness: freshness.DefaultOptions()})
	ctx := context.Background()

	stored, err := m.Put(ctx, "big", &entry.Entry{Method: "GET", URI: "https://example.com/big", StatusCode: 200, Body: make([]byte, 1024)})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if stored {
		t.Fatal("an entry larger than MaxBytes must not be stored")
	}
}
