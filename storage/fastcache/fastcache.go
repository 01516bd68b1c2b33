// Package fastcache implements storage.Tier on coocood/freecache, a
// zero-GC-overhead byte-bounded map, grounded on the teacher's
// freecache/freecache.go. Offered as an alternate L1 to the default
// storage.Memory for workloads with very large entry counts where GC
// pressure from Go's map/pointer-heavy Memory tier matters.
package fastcache

import (
	"context"
	"fmt"
	"sync"

	"github.com/coocood/freecache"

	"github.com/relaycache/engine/entry"
	"github.com/relaycache/engine/storage"
)

// Tier is a storage.Tier backed by a freecache ring-buffer cache.
// freecache evicts LRU-style on its own once full; Keys/ClearWhere/
// SizeInBytes are served from an in-process key index kept alongside it,
// since freecache's iterator does not expose insertion order or survive
// eviction notifications. Size reports freecache's own entry count.
type Tier struct {
	cache *freecache.Cache

	mu    sync.Mutex
	keys  map[string]struct{}
	bytes map[string]int64
}

var _ storage.Tier = (*Tier)(nil)

// New creates a Tier with the given byte capacity (minimum 512KB, per
// freecache's own floor).
func New(sizeBytes int) *Tier {
	return &Tier{cache: freecache.NewCache(sizeBytes), keys: make(map[string]struct{}), bytes: make(map[string]int64)}
}

func (t *Tier) Get(_ context.Context, key string) (*entry.Entry, bool, error) {
	data, err := t.cache.Get([]byte(key))
	if err != nil {
		if err == freecache.ErrNotFound {
			t.forget(key)
			return nil, false, nil
		}
		return nil, false, err
	}
	e := &entry.Entry{}
	if err := e.UnmarshalBinary(data); err != nil {
		return nil, false, fmt.Errorf("fastcache: decode %q: %w", key, err)
	}
	return e, true, nil
}

func (t *Tier) Put(_ context.Context, key string, e *entry.Entry) (bool, error) {
	data, err := e.MarshalBinary()
	if err != nil {
		return false, err
	}
	if err := t.cache.Set([]byte(key), data, 0); err != nil {
		return false, fmt.Errorf("fastcache: put %q: %w", key, err)
	}
	t.remember(key, int64(len(data)))
	return true, nil
}

func (t *Tier) Remove(_ context.Context, key string) (bool, error) {
	affected := t.cache.Del([]byte(key))
	t.forget(key)
	return affected, nil
}

func (t *Tier) Contains(_ context.Context, key string) (bool, error) {
	_, err := t.cache.Get([]byte(key))
	if err != nil {
		if err == freecache.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (t *Tier) Clear(_ context.Context) error {
	t.cache.Clear()
	t.mu.Lock()
	t.keys = make(map[string]struct{})
	t.bytes = make(map[string]int64)
	t.mu.Unlock()
	return nil
}

func (t *Tier) ClearWhere(ctx context.Context, predicate func(*entry.Entry) bool) error {
	for _, key := range t.snapshotKeys() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		e, ok, err := t.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		if predicate(e) {
			if _, err := t.Remove(ctx, key); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Tier) Keys(_ context.Context) ([]string, error) {
	return t.snapshotKeys(), nil
}

func (t *Tier) Size(_ context.Context) (int, error) {
	return int(t.cache.EntryCount()), nil
}

func (t *Tier) SizeInBytes(_ context.Context) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total int64
	for _, n := range t.bytes {
		total += n
	}
	return total, nil
}

func (t *Tier) Close() error { return nil }

func (t *Tier) remember(key string, size int64) {
	t.mu.Lock()
	t.keys[key] = struct{}{}
	t.bytes[key] = size
	t.mu.Unlock()
}

func (t *Tier) forget(key string) {
	t.mu.Lock()
	delete(t.keys, key)
	delete(t.bytes, key)
	t.mu.Unlock()
}

func (t *Tier) snapshotKeys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]string, 0, len(t.keys))
	for k := range t.keys {
		keys = append(keys, k)
	}
	return keys
}
