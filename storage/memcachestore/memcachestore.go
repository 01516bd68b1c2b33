// Package memcachestore implements storage.Tier on memcache via gomemcache,
// grounded on the teacher's memcache/memcache.go, generalized from raw
// []byte blobs to entry.Entry. Memcache has no native key listing, so this
// tier keeps an in-process key index to support Keys/Size/ClearWhere; that
// index is best-effort and does not survive a process restart or span
// multiple processes sharing the same memcache server.
package memcachestore

import (
	"context"
	"fmt"
	"sync"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/relaycache/engine/entry"
	"github.com/relaycache/engine/storage"
)

const keyPrefix = "relaycache:"

// Tier is a storage.Tier backed by a memcache client.
type Tier struct {
	client *memcache.Client

	mu   sync.Mutex
	keys map[string]struct{}
}

var _ storage.Tier = (*Tier)(nil)

// New returns a Tier using the given memcache server(s).
func New(server ...string) *Tier {
	return NewWithClient(memcache.New(server...))
}

// NewWithClient wraps an existing memcache client.
func NewWithClient(client *memcache.Client) *Tier {
	return &Tier{client: client, keys: make(map[string]struct{})}
}

func memcacheKey(key string) string { return keyPrefix + key }

func (t *Tier) Get(_ context.Context, key string) (*entry.Entry, bool, error) {
	item, err := t.client.Get(memcacheKey(key))
	if err != nil {
		if err == memcache.ErrCacheMiss {
			t.forget(key)
			return nil, false, nil
		}
		return nil, false, err
	}
	e := &entry.Entry{}
	if err := e.UnmarshalBinary(item.Value); err != nil {
		return nil, false, fmt.Errorf("memcachestore: decode %q: %w", key, err)
	}
	return e, true, nil
}

func (t *Tier) Put(_ context.Context, key string, e *entry.Entry) (bool, error) {
	data, err := e.MarshalBinary()
	if err != nil {
		return false, err
	}
	item := &memcache.Item{Key: memcacheKey(key), Value: data}
	if err := t.client.Set(item); err != nil {
		return false, fmt.Errorf("memcachestore: put %q: %w", key, err)
	}
	t.remember(key)
	return true, nil
}

func (t *Tier) Remove(_ context.Context, key string) (bool, error) {
	err := t.client.Delete(memcacheKey(key))
	t.forget(key)
	if err != nil {
		if err == memcache.ErrCacheMiss {
			return false, nil
		}
		return false, fmt.Errorf("memcachestore: remove %q: %w", key, err)
	}
	return true, nil
}

func (t *Tier) Contains(_ context.Context, key string) (bool, error) {
	_, err := t.client.Get(memcacheKey(key))
	if err != nil {
		if err == memcache.ErrCacheMiss {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (t *Tier) Clear(ctx context.Context) error {
	return t.ClearWhere(ctx, func(*entry.Entry) bool { return true })
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

func (t *Tier) Size(ctx context.Context) (int, error) {
	return len(t.snapshotKeys()), nil
}

func (t *Tier) SizeInBytes(ctx context.Context) (int64, error) {
	var total int64
	for _, key := range t.snapshotKeys() {
		e, ok, err := t.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		total += int64(e.ByteLen())
	}
	return total, nil
}

func (t *Tier) Close() error { return nil }

func (t *Tier) remember(key string) {
	t.mu.Lock()
	t.keys[key] = struct{}{}
	t.mu.Unlock()
}

func (t *Tier) forget(key string) {
	t.mu.Lock()
	delete(t.keys, key)
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
