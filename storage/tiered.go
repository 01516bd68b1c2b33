package storage

import (
	"context"

	"github.com/relaycache/engine/entry"
)

// Tiered composes an L1 (volatile) tier in front of an L2 (durable) tier,
// generalizing the teacher's multicache.MultiCache from an arbitrary chain
// to the engine's fixed two-tier model (§4.10).
type Tiered struct {
	l1 Tier
	l2 Tier
}

// NewTiered composes l1 in front of l2. l2 may be nil, in which case the
// composer degrades to operating on l1 alone (useful for tests and
// in-memory-only configurations).
func NewTiered(l1, l2 Tier) *Tiered {
	return &Tiered{l1: l1, l2: l2}
}

var _ Tier = (*Tiered)(nil)

// Get returns the L1 hit if present; otherwise reads L2 and, on hit,
// promotes the value to L1 best-effort (a failed promotion still serves
// the L2 result).
func (t *Tiered) Get(ctx context.Context, key string) (*entry.Entry, bool, error) {
	if e, ok, err := t.l1.Get(ctx, key); err != nil {
		return nil, false, err
	} else if ok {
		return e, true, nil
	}

	if t.l2 == nil {
		return nil, false, nil
	}
	e, ok, err := t.l2.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	_, _ = t.l1.Put(ctx, key, e)
	return e, true, nil
}

// Put writes to L1 then L2; success is the logical OR of both.
func (t *Tiered) Put(ctx context.Context, key string, e *entry.Entry) (bool, error) {
	l1ok, err := t.l1.Put(ctx, key, e)
	if err != nil {
		return false, err
	}

	if t.l2 == nil {
		return l1ok, nil
	}
	l2ok, err := t.l2.Put(ctx, key, e)
	if err != nil {
		return l1ok, err
	}
	return l1ok || l2ok, nil
}

func (t *Tiered) Remove(ctx context.Context, key string) (bool, error) {
	l1ok, err := t.l1.Remove(ctx, key)
	if err != nil {
		return false, err
	}
	if t.l2 == nil {
		return l1ok, nil
	}
	l2ok, err := t.l2.Remove(ctx, key)
	if err != nil {
		return l1ok, err
	}
	return l1ok || l2ok, nil
}

func (t *Tiered) Contains(ctx context.Context, key string) (bool, error) {
	if ok, err := t.l1.Contains(ctx, key); err != nil {
		return false, err
	} else if ok {
		return true, nil
	}
	if t.l2 == nil {
		return false, nil
	}
	return t.l2.Contains(ctx, key)
}

func (t *Tiered) Clear(ctx context.Context) error {
	if err := t.l1.Clear(ctx); err != nil {
		return err
	}
	if t.l2 == nil {
		return nil
	}
	return t.l2.Clear(ctx)
}

func (t *Tiered) ClearWhere(ctx context.Context, predicate func(*entry.Entry) bool) error {
	if err := t.l1.ClearWhere(ctx, predicate); err != nil {
		return err
	}
	if t.l2 == nil {
		return nil
	}
	return t.l2.ClearWhere(ctx, predicate)
}

// Keys returns the union of both tiers' keys.
func (t *Tiered) Keys(ctx context.Context) ([]string, error) {
	l1Keys, err := t.l1.Keys(ctx)
	if err != nil {
		return nil, err
	}
	if t.l2 == nil {
		return l1Keys, nil
	}

	l2Keys, err := t.l2.Keys(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(l1Keys)+len(l2Keys))
	union := make([]string, 0, len(l1Keys)+len(l2Keys))
	for _, k := range l1Keys {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			union = append(union, k)
		}
	}
	for _, k := range l2Keys {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			union = append(union, k)
		}
	}
	return union, nil
}

// Size returns L2's entry count, the authoritative figure per §4.10.
func (t *Tiered) Size(ctx context.Context) (int, error) {
	if t.l2 == nil {
		return t.l1.Size(ctx)
	}
	return t.l2.Size(ctx)
}

// SizeInBytes returns L2's byte footprint, the authoritative figure per
// §4.10.
func (t *Tiered) SizeInBytes(ctx context.Context) (int64, error) {
	if t.l2 == nil {
		return t.l1.SizeInBytes(ctx)
	}
	return t.l2.SizeInBytes(ctx)
}

func (t *Tiered) Close() error {
	if err := t.l1.Close(); err != nil {
		return err
	}
	if t.l2 == nil {
		return nil
	}
	return t.l2.Close()
}
