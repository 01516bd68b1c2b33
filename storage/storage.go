// Package storage defines the Tier contract every cache backend in this
// module satisfies (volatile, durable, or composed), and provides the
// in-process volatile tier plus the tiered composer over it.
package storage

import (
	"context"

	"github.com/relaycache/engine/entry"
)

// Tier is the storage contract from §4.7. Every method may suspend on I/O
// and must be safe under concurrent invocation.
type Tier interface {
	Get(ctx context.Context, key string) (*entry.Entry, bool, error)
	// Put stores e under key. It returns false when e is individually too
	// large to fit the configured byte bound; otherwise true after
	// best-effort eviction.
	Put(ctx context.Context, key string, e *entry.Entry) (bool, error)
	Remove(ctx context.Context, key string) (bool, error)
	Contains(ctx context.Context, key string) (bool, error)
	Clear(ctx context.Context) error
	ClearWhere(ctx context.Context, predicate func(*entry.Entry) bool) error
	Keys(ctx context.Context) ([]string, error)
	Size(ctx context.Context) (int, error)
	SizeInBytes(ctx context.Context) (int64, error)
	Close() error
}

// EvictionStrategy selects the L1 victim-selection policy.
type EvictionStrategy int

const (
	LRU EvictionStrategy = iota
	LFU
	FIFO
	TTL
)
