package storage

import (
	"context"
	"sync"
	"time"

	"github.com/relaycache/engine/cachecontrol"
	"github.com/relaycache/engine/entry"
	"github.com/relaycache/engine/freshness"
)

// companion holds the bookkeeping memory needs alongside each stored entry
// to support lru/lfu/fifo/ttl eviction without re-deriving it on every
// access.
type companion struct {
	size           int64
	lastAccess     time.Time
	accessCount    int64
	insertionOrder int64
}

// MemoryOptions configures the volatile (L1) tier.
type MemoryOptions struct {
	MaxEntries int
	MaxBytes   int64
	Strategy   EvictionStrategy
	Freshness  freshness.Options
}

// DefaultMemoryOptions matches the engine's documented defaults: 100
// entries, 10 MiB, lru.
func DefaultMemoryOptions() MemoryOptions {
	return MemoryOptions{
		MaxEntries: 100,
		MaxBytes:   10 * 1024 * 1024,
		Strategy:   LRU,
		Freshness:  freshness.DefaultOptions(),
	}
}

// Memory is the in-process volatile tier (L1): a bounded map guarded by a
// single mutex, per §4.8 and the per-tier-mutex rule in §5.
type Memory struct {
	mu    sync.Mutex
	opts  MemoryOptions
	items map[string]*entry.Entry
	comp  map[string]*companion

	currentBytes int64
	nextOrder    int64
}

// NewMemory constructs an empty volatile tier.
func NewMemory(opts MemoryOptions) *Memory {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 100
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 10 * 1024 * 1024
	}
	return &Memory{
		opts:  opts,
		items: make(map[string]*entry.Entry),
		comp:  make(map[string]*companion),
	}
}

var _ Tier = (*Memory)(nil)

func (m *Memory) Get(_ context.Context, key string) (*entry.Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	c := m.comp[key]
	c.lastAccess = time.Now()
	c.accessCount++
	return e.Clone(), true, nil
}

func (m *Memory) Put(_ context.Context, key string, e *entry.Entry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	newSize := int64(e.ByteLen())
	if newSize > m.opts.MaxBytes {
		return false, nil
	}

	if old, ok := m.comp[key]; ok {
		m.currentBytes -= old.size
		delete(m.items, key)
		delete(m.comp, key)
	}

	for len(m.items) >= m.opts.MaxEntries || m.currentBytes+newSize > m.opts.MaxBytes {
		victim, found := m.selectVictim()
		if !found {
			break
		}
		m.removeLocked(victim)
	}

	m.nextOrder++
	m.items[key] = e.Clone()
	m.comp[key] = &companion{
		size:           newSize,
		lastAccess:     time.Now(),
		accessCount:    0,
		insertionOrder: m.nextOrder,
	}
	m.currentBytes += newSize

	return true, nil
}

func (m *Memory) Remove(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[key]
	if ok {
		m.removeLocked(key)
	}
	return ok, nil
}

func (m *Memory) Contains(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[key]
	return ok, nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]*entry.Entry)
	m.comp = make(map[string]*companion)
	m.currentBytes = 0
	return nil
}

func (m *Memory) ClearWhere(ctx context.Context, predicate func(*entry.Entry) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.items {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if predicate(e) {
			m.removeLocked(key)
		}
	}
	return nil
}

func (m *Memory) Keys(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *Memory) Size(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items), nil
}

func (m *Memory) SizeInBytes(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentBytes, nil
}

func (m *Memory) Close() error {
	return nil
}

// removeLocked assumes mu is already held; it never re-enters a public
// locking method, per the deadlock-avoidance invariant in §5.
func (m *Memory) removeLocked(key string) {
	if c, ok := m.comp[key]; ok {
		m.currentBytes -= c.size
	}
	delete(m.items, key)
	delete(m.comp, key)
}

// selectVictim assumes mu is already held. For LRU, LFU and FIFO, ties are
// broken by insertion order; among equally stale entries, the TTL
// strategy's staleness pass keeps the first one met in map iteration
// order, which is not defined.
func (m *Memory) selectVictim() (string, bool) {
	if len(m.items) == 0 {
		return "", false
	}

	switch m.opts.Strategy {
	case LFU:
		return m.victimBy(func(a, b *companion) bool {
			if a.accessCount != b.accessCount {
				return a.accessCount < b.accessCount
			}
			if !a.lastAccess.Equal(b.lastAccess) {
				return a.lastAccess.Before(b.lastAccess)
			}
			return a.insertionOrder < b.insertionOrder
		})
	case FIFO:
		return m.victimBy(func(a, b *companion) bool {
			return a.insertionOrder < b.insertionOrder
		})
	case TTL:
		if key, ok := m.victimByStaleness(); ok {
			return key, true
		}
		fallthrough
	case LRU:
		fallthrough
	default:
		return m.victimBy(func(a, b *companion) bool {
			if !a.lastAccess.Equal(b.lastAccess) {
				return a.lastAccess.Before(b.lastAccess)
			}
			return a.insertionOrder < b.insertionOrder
		})
	}
}

func (m *Memory) victimBy(less func(a, b *companion) bool) (string, bool) {
	var victimKey string
	var victim *companion
	for key, c := range m.comp {
		if victim == nil || less(c, victim) {
			victimKey = key
			victim = c
		}
	}
	return victimKey, victim != nil
}

// victimByStaleness implements the TTL strategy's upgrade from the Open
// Question: it parses each entry's stored Cache-Control/Expires and
// evicts the least-fresh entry first (largest age-over-lifetime), falling
// back to lru (via the caller's fallthrough) when freshness cannot be
// computed for any entry or no entry is stale (largest overage <= 0).
func (m *Memory) victimByStaleness() (string, bool) {
	now := time.Now()
	var victimKey string
	var worstOverage time.Duration = -1
	found := false

	for key, e := range m.items {
		header, _ := e.Headers.Get("Cache-Control")
		respCC := cachecontrol.Parse(header, false, nil)
		lifetime, ok := freshness.Lifetime(respCC, e.Headers, e.StatusCode, m.opts.Freshness)
		if !ok {
			continue
		}
		age := freshness.Age(e.Headers, e.RequestTime, e.ResponseTime, now)
		overage := age - lifetime
		if !found || overage > worstOverage {
			worstOverage = overage
			victimKey = key
			found = true
		}
	}

	if !found || worstOverage <= 0 {
		return "", false
	}
	return victimKey, true
}
