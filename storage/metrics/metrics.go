// Package metrics defines a backend-agnostic Collector interface for cache
// telemetry, plus an instrumented storage.Tier wrapper built on it, so the
// engine's metrics surface is not tied to any one monitoring system.
package metrics

import "time"

// Collector receives cache telemetry. Implementations exist for Prometheus
// (storage/metrics/prometheus); other systems (OpenTelemetry, Datadog) can
// implement this interface without the core module depending on them.
type Collector interface {
	// RecordOperation records one storage operation.
	// operation: "get", "put", "remove", "clear", "clearWhere".
	// tier: "l1", "l2", or a backend name.
	// result: "hit", "miss", "success", "rejected", "error".
	RecordOperation(operation, tier, result string, duration time.Duration)

	// RecordSize records the tier's current byte footprint.
	RecordSize(tier string, sizeBytes int64)

	// RecordEntries records the tier's current entry count.
	RecordEntries(tier string, count int64)
}

// NoOpCollector implements Collector with no-op operations, used as the
// default so metrics are zero-overhead until configured.
type NoOpCollector struct{}

func (NoOpCollector) RecordOperation(operation, tier, result string, duration time.Duration) {}
func (NoOpCollector) RecordSize(tier string, sizeBytes int64)                                {}
func (NoOpCollector) RecordEntries(tier string, count int64)                                 {}

// Default is the package-level no-op collector.
var Default Collector = NoOpCollector{}

var _ Collector = NoOpCollector{}
