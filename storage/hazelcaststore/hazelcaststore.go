// Package hazelcaststore implements storage.Tier on a Hazelcast
// distributed map, grounded on the teacher's hazelcast/hazelcast.go,
// generalized from raw []byte blobs to entry.Entry and from a
// stale-marker scheme to native key enumeration for Keys/ClearWhere.
package hazelcaststore

import (
	"context"
	"fmt"

	"github.com/hazelcast/hazelcast-go-client"

	"github.com/relaycache/engine/entry"
	"github.com/relaycache/engine/storage"
)

// Tier is a storage.Tier backed by a Hazelcast distributed map.
type Tier struct {
	client *hazelcast.Client
	m      *hazelcast.Map
}

var _ storage.Tier = (*Tier)(nil)

// New connects to a Hazelcast cluster using cfg and opens mapName.
func New(ctx context.Context, cfg hazelcast.Config, mapName string) (*Tier, error) {
	client, err := hazelcast.StartNewClientWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("hazelcaststore: connect: %w", err)
	}
	m, err := client.GetMap(ctx, mapName)
	if err != nil {
		_ = client.Shutdown(ctx)
		return nil, fmt.Errorf("hazelcaststore: get map %q: %w", mapName, err)
	}
	return &Tier{client: client, m: m}, nil
}

// NewWithMap wraps an already-opened map; Close will not shut down the
// owning client.
func NewWithMap(m *hazelcast.Map) *Tier {
	return &Tier{m: m}
}

func (t *Tier) Get(ctx context.Context, key string) (*entry.Entry, bool, error) {
	val, err := t.m.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("hazelcaststore: get %q: %w", key, err)
	}
	if val == nil {
		return nil, false, nil
	}
	data, ok := val.([]byte)
	if !ok {
		return nil, false, nil
	}
	e := &entry.Entry{}
	if err := e.UnmarshalBinary(data); err != nil {
		return nil, false, fmt.Errorf("hazelcaststore: decode %q: %w", key, err)
	}
	return e, true, nil
}

func (t *Tier) Put(ctx context.Context, key string, e *entry.Entry) (bool, error) {
	data, err := e.MarshalBinary()
	if err != nil {
		return false, err
	}
	if err := t.m.Set(ctx, key, data); err != nil {
		return false, fmt.Errorf("hazelcaststore: put %q: %w", key, err)
	}
	return true, nil
}

func (t *Tier) Remove(ctx context.Context, key string) (bool, error) {
	val, err := t.m.Remove(ctx, key)
	if err != nil {
		return false, fmt.Errorf("hazelcaststore: remove %q: %w", key, err)
	}
	return val != nil, nil
}

func (t *Tier) Contains(ctx context.Context, key string) (bool, error) {
	return t.m.ContainsKey(ctx, key)
}

func (t *Tier) Clear(ctx context.Context) error {
	return t.m.Clear(ctx)
}

func (t *Tier) ClearWhere(ctx context.Context, predicate func(*entry.Entry) bool) error {
	keys, err := t.m.GetKeySet(ctx)
	if err != nil {
		return fmt.Errorf("hazelcaststore: clearWhere keyset: %w", err)
	}
	for _, k := range keys {
		key, ok := k.(string)
		if !ok {
			continue
		}
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
			if _, err := t.m.Remove(ctx, key); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Tier) Keys(ctx context.Context) ([]string, error) {
	raw, err := t.m.GetKeySet(ctx)
	if err != nil {
		return nil, fmt.Errorf("hazelcaststore: keys: %w", err)
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		if s, ok := k.(string); ok {
			keys = append(keys, s)
		}
	}
	return keys, nil
}

func (t *Tier) Size(ctx context.Context) (int, error) {
	n, err := t.m.Size(ctx)
	return n, err
}

func (t *Tier) SizeInBytes(ctx context.Context) (int64, error) {
	keys, err := t.Keys(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, k := range keys {
		e, ok, err := t.Get(ctx, k)
		if err != nil || !ok {
			continue
		}
		total += int64(e.ByteLen())
	}
	return total, nil
}

func (t *Tier) Close() error {
	if t.client != nil {
		return t.client.Shutdown(context.Background())
	}
	return nil
}
