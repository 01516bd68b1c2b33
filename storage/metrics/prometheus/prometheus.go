// Package prometheus implements metrics.Collector for Prometheus. Imported
// only when Prometheus metrics are wanted, keeping the core module free of
// the dependency otherwise.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/relaycache/engine/storage/metrics"
)

// Collector implements metrics.Collector on top of client_golang.
type Collector struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	sizeBytes  *prometheus.GaugeVec
	entries    *prometheus.GaugeVec
}

// Config configures the Prometheus collector's registry and naming.
type Config struct {
	Registry    prometheus.Registerer
	Namespace   string
	Subsystem   string
	ConstLabels prometheus.Labels
}

// NewCollector creates a collector against the default registry.
func NewCollector() *Collector {
	return NewCollectorWithConfig(Config{})
}

// NewCollectorWithConfig creates a collector with custom naming/registry.
func NewCollectorWithConfig(cfg Config) *Collector {
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "relaycache"
	}

	factory := promauto.With(cfg.Registry)

	return &Collector{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "storage_operations_total",
			Help:        "Total number of cache storage operations.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"operation", "tier", "result"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "storage_operation_duration_seconds",
			Help:        "Duration of cache storage operations in seconds.",
			Buckets:     []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
			ConstLabels: cfg.ConstLabels,
		}, []string{"operation", "tier"}),
		sizeBytes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "storage_size_bytes",
			Help:        "Current size of a cache tier in bytes.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"tier"}),
		entries: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "storage_entries_total",
			Help:        "Current number of entries in a cache tier.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"tier"}),
	}
}

func (c *Collector) RecordOperation(operation, tier, result string, duration time.Duration) {
	c.operations.WithLabelValues(operation, tier, result).Inc()
	c.duration.WithLabelValues(operation, tier).Observe(duration.Seconds())
}

func (c *Collector) RecordSize(tier string, sizeBytes int64) {
	c.sizeBytes.WithLabelValues(tier).Set(float64(sizeBytes))
}

func (c *Collector) RecordEntries(tier string, count int64) {
	c.entries.WithLabelValues(tier).Set(float64(count))
}

var _ metrics.Collector = (*Collector)(nil)
