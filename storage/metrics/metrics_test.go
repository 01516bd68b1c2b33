package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/relaycache/engine/entry"
	"github.com/relaycache/engine/storage"
	"github.com/relaycache/engine/storage/storagetest"
)

// recordingCollector captures every call made to it, for assertions.
type recordingCollector struct {
	mu         sync.Mutex
	operations []string
	results    []string
	sizes      []int64
	entries    []int64
}

func (c *recordingCollector) RecordOperation(operation, tier, result string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.operations = append(c.operations, operation)
	c.results = append(c.results, result)
}

func (c *recordingCollector) RecordSize(tier string, sizeBytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sizes = append(c.sizes, sizeBytes)
}

func (c *recordingCollector) RecordEntries(tier string, count int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, count)
}

var _ Collector = (*recordingCollector)(nil)

func TestInstrumentedTierConformance(t *testing.T) {
	tier := Wrap(storage.NewMemory(storage.DefaultMemoryOptions()), &recordingCollector{}, "l1")
	storagetest.Conformance(t, tier)
}

func TestInstrumentedTierClearWhere(t *testing.T) {
	tier := Wrap(storage.NewMemory(storage.DefaultMemoryOptions()), &recordingCollector{}, "l1")
	storagetest.ClearWhere(t, tier)
}

func TestInstrumentedTierDefaultsToNoOpCollector(t *testing.T) {
	tier := Wrap(storage.NewMemory(storage.DefaultMemoryOptions()), nil, "l1")
	if tier.collector != Default {
		t.Fatal("a nil collector should fall back to the package-level Default no-op collector")
	}
}

func TestInstrumentedTierRecordsHitsAndMisses(t *testing.T) {
	ctx := context.Background()
	collector := &recordingCollector{}
	tier := Wrap(storage.NewMemory(storage.DefaultMemoryOptions()), collector, "l1")

	if _, _, err := tier.Get(ctx, "missing"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := tier.Put(ctx, "k", &entry.Entry{Method: "GET", URI: "https://example.com/k", StatusCode: 200, Body: []byte("v")}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, _, err := tier.Get(ctx, "k"); err != nil {
		t.Fatalf("get: %v", err)
	}

	collector.mu.Lock()
	defer collector.mu.Unlock()

	if len(collector.operations) != 3 {
		t.Fatalf("recorded %d operations, want 3", len(collector.operations))
	}
	if collector.operations[0] != "get" || collector.results[0] != "miss" {
		t.Fatalf("first get = %q/%q, want get/miss", collector.operations[0], collector.results[0])
	}
	if collector.operations[1] != "put" || collector.results[1] != "success" {
		t.Fatalf("put = %q/%q, want put/success", collector.operations[1], collector.results[1])
	}
	if collector.operations[2] != "get" || collector.results[2] != "hit" {
		t.Fatalf("second get = %q/%q, want get/hit", collector.operations[2], collector.results[2])
	}
	if len(collector.entries) == 0 || len(collector.sizes) == 0 {
		t.Fatal("a successful put should refresh the entry/size gauges")
	}
}
