package compress

import (
	"context"
	"testing"

	"github.com/relaycache/engine/entry"
	"github.com/relaycache/engine/storage"
	"github.com/relaycache/engine/storage/storagetest"
)

func TestCompressTierConformance(t *testing.T) {
	for _, algo := range []Algorithm{None, Gzip, Brotli, Snappy} {
		tier := Wrap(storage.NewMemory(storage.DefaultMemoryOptions()), algo)
		storagetest.Conformance(t, tier)
	}
}

func TestCompressTierClearWhere(t *testing.T) {
	tier := Wrap(storage.NewMemory(storage.DefaultMemoryOptions()), Gzip)
	storagetest.ClearWhere(t, tier)
}

func TestCompressRoundTripsAcrossAlgorithms(t *testing.T) {
	ctx := context.Background()
	body := []byte("the quick brown fox jumps over the lazy dog, many times over")

	for _, algo := range []Algorithm{None, Gzip, Brotli, Snappy} {
		inner := storage.NewMemory(storage.DefaultMemoryOptions())
		tier := Wrap(inner, algo)

		if _, err := tier.Put(ctx, "k", &entry.Entry{Method: "GET", URI: "https://example.com/k", StatusCode: 200, Body: body}); err != nil {
			t.Fatalf("algo %d: put: %v", algo, err)
		}

		got, ok, err := tier.Get(ctx, "k")
		if err != nil || !ok {
			t.Fatalf("algo %d: get: ok=%v err=%v", algo, ok, err)
		}
		if string(got.Body) != string(body) {
			t.Fatalf("algo %d: round-tripped body = %q, want %q", algo, got.Body, body)
		}
	}
}

func TestCompressSurvivesAlgorithmChangeBetweenPutAndGet(t *testing.T) {
	ctx := context.Background()
	inner := storage.NewMemory(storage.DefaultMemoryOptions())
	body := []byte("payload stored under gzip, read back under brotli")

	gzipTier := Wrap(inner, Gzip)
	if _, err := gzipTier.Put(ctx, "k", &entry.Entry{Method: "GET", URI: "https://example.com/k", StatusCode: 200, Body: body}); err != nil {
		t.Fatalf("put: %v", err)
	}

	brotliTier := Wrap(inner, Brotli)
	got, ok, err := brotliTier.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(got.Body) != string(body) {
		t.Fatalf("body read through a differently configured tier = %q, want %q", got.Body, body)
	}
}
