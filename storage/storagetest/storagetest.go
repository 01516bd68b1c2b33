// Package storagetest provides a conformance battery any storage.Tier
// implementation can run against, grounded on the teacher's test.Cache
// helper in test/test.go, generalized from a bytes-in/bytes-out Cache to
// the richer storage.Tier contract (Contains, ClearWhere, Keys, Size).
package storagetest

import (
	"context"
	"testing"

	"github.com/relaycache/engine/entry"
	"github.com/relaycache/engine/storage"
)

// Conformance exercises a storage.Tier implementation's basic contract.
// Callers are responsible for tearing down any backend-specific state
// (temp directories, connections) after this returns.
func Conformance(t *testing.T, tier storage.Tier) {
	t.Helper()
	ctx := context.Background()
	key := "conformance-key"

	_, ok, err := tier.Get(ctx, key)
	if err != nil {
		t.Fatalf("get before put: %v", err)
	}
	if ok {
		t.Fatal("retrieved key before adding it")
	}
	if has, err := tier.Contains(ctx, key); err != nil || has {
		t.Fatalf("contains before put: has=%v err=%v", has, err)
	}

	e := &entry.Entry{
		Method:     "GET",
		URI:        "https://example.com/resource",
		StatusCode: 200,
		Body:       []byte("some bytes"),
	}

	stored, err := tier.Put(ctx, key, e)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !stored {
		t.Fatal("put reported not stored")
	}

	got, ok, err := tier.Get(ctx, key)
	if err != nil {
		t.Fatalf("get after put: %v", err)
	}
	if !ok {
		t.Fatal("could not retrieve an entry we just added")
	}
	if string(got.Body) != string(e.Body) {
		t.Fatalf("retrieved a different body: got %q want %q", got.Body, e.Body)
	}
	if got.URI != e.URI {
		t.Fatalf("retrieved a different uri: got %q want %q", got.URI, e.URI)
	}

	if has, err := tier.Contains(ctx, key); err != nil || !has {
		t.Fatalf("contains after put: has=%v err=%v", has, err)
	}

	n, err := tier.Size(ctx)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if n != 1 {
		t.Fatalf("size after one put: got %d want 1", n)
	}

	removed, err := tier.Remove(ctx, key)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !removed {
		t.Fatal("remove reported nothing removed")
	}

	_, ok, err = tier.Get(ctx, key)
	if err != nil {
		t.Fatalf("get after remove: %v", err)
	}
	if ok {
		t.Fatal("removed key still present")
	}
}

// ClearWhere exercises predicate-based bulk removal.
func ClearWhere(t *testing.T, tier storage.Tier) {
	t.Helper()
	ctx := context.Background()

	for i, status := range []int{200, 404, 200} {
		e := &entry.Entry{Method: "GET", URI: "https://example.com/r", StatusCode: status, Body: []byte("x")}
		key := "clearwhere-key-" + string(rune('a'+i))
		if _, err := tier.Put(ctx, key, e); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	if err := tier.ClearWhere(ctx, func(e *entry.Entry) bool { return e.StatusCode == 404 }); err != nil {
		t.Fatalf("clearwhere: %v", err)
	}

	n, err := tier.Size(ctx)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if n != 2 {
		t.Fatalf("size after clearwhere: got %d want 2", n)
	}

	if err := tier.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	n, err = tier.Size(ctx)
	if err != nil {
		t.Fatalf("size after clear: %v", err)
	}
	if n != 0 {
		t.Fatalf("size after clear: got %d want 0", n)
	}
}
