// Package engine provides the facade that ties the header, freshness,
// decider, validator, invalidator, and storage packages into one cache
// engine, grounded on the teacher's Transport/RoundTrip flow in
// httpcache.go but stripped of any net/http dependency.
package engine

import (
	"time"

	"github.com/relaycache/engine/freshness"
	"github.com/relaycache/engine/storage"
)

// Policy controls how Get treats a stale entry.
type Policy int

const (
	// Default serves fresh entries, and marks stale/missing entries for
	// validation.
	Default Policy = iota
	// CacheFirst serves a stale entry without validation when nothing
	// fresher is available.
	CacheFirst
	// CacheOnly never triggers validation; stale or absent both resolve
	// to "use the cache as-is."
	CacheOnly
)

// Config is the engine's immutable configuration, constructed once via
// New and never mutated afterward — per §9's explicit-constructor design
// note, there is no lazy singleton init here.
type Config struct {
	MaxMemoryBytes   int64
	MaxMemoryEntries int
	EvictionStrategy storage.EvictionStrategy

	CacheType                freshness.CacheType
	EnableHeuristicFreshness bool
	HeuristicPercentage      float64
	MaxHeuristicDuration     time.Duration

	ServeStaleOnError bool
	MaxStaleAge       time.Duration

	DoubleKeyCache bool
	Site           string

	// CustomStorage, when set, replaces the default L1-only tier built
	// from MaxMemoryBytes/MaxMemoryEntries/EvictionStrategy. Use
	// storage.NewTiered to compose an L1 with a durable L2 backend.
	CustomStorage storage.Tier

	EnableLogging bool
}

// DefaultConfig returns the configuration described in §6: 10MiB/100
// entries of LRU-evicted L1, a private heuristically-fresh cache with a
// 10% heuristic and a 7-day cap, and stale-on-error serving up to a day
// old.
func DefaultConfig() Config {
	return Config{
		MaxMemoryBytes:           10 * 1024 * 1024,
		MaxMemoryEntries:         100,
		EvictionStrategy:         storage.LRU,
		CacheType:                freshness.Private,
		EnableHeuristicFreshness: true,
		HeuristicPercentage:      0.10,
		MaxHeuristicDuration:     7 * 24 * time.Hour,
		ServeStaleOnError:        true,
		MaxStaleAge:              24 * time.Hour,
	}
}

func (c Config) freshnessOptions() freshness.Options {
	return freshness.Options{
		CacheType:                c.CacheType,
		EnableHeuristicFreshness: c.EnableHeuristicFreshness,
		HeuristicPercentage:      c.HeuristicPercentage,
		MaxHeuristicDuration:     c.MaxHeuristicDuration,
	}
}
