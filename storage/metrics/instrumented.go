package metrics

import (
	"context"
	"time"

	"github.com/relaycache/engine/entry"
	"github.com/relaycache/engine/storage"
)

// Tier wraps an inner storage.Tier, reporting every operation's outcome
// and latency to a Collector, and refreshing the size/entry gauges after
// every successful put, remove, clear and clearWhere. This is the generalized version of
// the teacher's wrapper/metrics/prometheus cache wrapper, decoupled from
// Prometheus specifically via the Collector interface above.
type Tier struct {
	inner     storage.Tier
	collector Collector
	name      string
}

// Wrap returns a Tier reporting to collector under tier name.
func Wrap(inner storage.Tier, collector Collector, name string) *Tier {
	if collector == nil {
		collector = Default
	}
	return &Tier{inner: inner, collector: collector, name: name}
}

var _ storage.Tier = (*Tier)(nil)

func (t *Tier) refreshGauges(ctx context.Context) {
	if n, err := t.inner.Size(ctx); err == nil {
		t.collector.RecordEntries(t.name, int64(n))
	}
	if b, err := t.inner.SizeInBytes(ctx); err == nil {
		t.collector.RecordSize(t.name, b)
	}
}

func (t *Tier) Get(ctx context.Context, key string) (*entry.Entry, bool, error) {
	start := time.Now()
	e, ok, err := t.inner.Get(ctx, key)
	result := "miss"
	if err != nil {
		result = "error"
	} else if ok {
		result = "hit"
	}
	t.collector.RecordOperation("get", t.name, result, time.Since(start))
	return e, ok, err
}

func (t *Tier) Put(ctx context.Context, key string, e *entry.Entry) (bool, error) {
	start := time.Now()
	ok, err := t.inner.Put(ctx, key, e)
	result := "success"
	if err != nil {
		result = "error"
	} else if !ok {
		result = "rejected"
	}
	t.collector.RecordOperation("put", t.name, result, time.Since(start))
	if err == nil {
		t.refreshGauges(ctx)
	}
	return ok, err
}

func (t *Tier) Remove(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := t.inner.Remove(ctx, key)
	result := "success"
	if err != nil {
		result = "error"
	}
	t.collector.RecordOperation("remove", t.name, result, time.Since(start))
	if err == nil {
		t.refreshGauges(ctx)
	}
	return ok, err
}

func (t *Tier) Contains(ctx context.Context, key string) (bool, error) {
	return t.inner.Contains(ctx, key)
}

func (t *Tier) Clear(ctx context.Context) error {
	start := time.Now()
	err := t.inner.Clear(ctx)
	result := "success"
	if err != nil {
		result = "error"
	}
	t.collector.RecordOperation("clear", t.name, result, time.Since(start))
	if err == nil {
		t.refreshGauges(ctx)
	}
	return err
}

func (t *Tier) ClearWhere(ctx context.Context, predicate func(*entry.Entry) bool) error {
	start := time.Now()
	err := t.inner.ClearWhere(ctx, predicate)
	result := "success"
	if err != nil {
		result = "error"
	}
	t.collector.RecordOperation("clearWhere", t.name, result, time.Since(start))
	if err == nil {
		t.refreshGauges(ctx)
	}
	return err
}

func (t *Tier) Keys(ctx context.Context) ([]string, error)     { return t.inner.Keys(ctx) }
func (t *Tier) Size(ctx context.Context) (int, error)          { return t.inner.Size(ctx) }
func (t *Tier) SizeInBytes(ctx context.Context) (int64, error) { return t.inner.SizeInBytes(ctx) }
func (t *Tier) Close() error                                   { return t.inner.Close() }
