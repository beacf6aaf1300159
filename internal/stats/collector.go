// Package stats provides a unified interface for collecting cache metrics.
package stats

// Metric names used throughout the library.
const (
	// Coordinator metrics.
	MetricGets         = "hoard_gets_total"
	MetricHits         = "hoard_hits_total"
	MetricMisses       = "hoard_misses_total"
	MetricSets         = "hoard_sets_total"
	MetricNodeFailures = "hoard_node_failures_total"
	MetricReadRepairs  = "hoard_read_repairs_total"
	MetricQuarantined  = "hoard_quarantined_nodes"
	MetricOpDuration   = "hoard_op_duration_seconds"

	// Local engine metrics.
	MetricEngineHits        = "hoard_engine_hits_total"
	MetricEngineMisses      = "hoard_engine_misses_total"
	MetricEngineEvictions   = "hoard_engine_evictions_total"
	MetricEngineExpirations = "hoard_engine_expirations_total"
	MetricEngineEntries     = "hoard_engine_entries"
	MetricEngineMemory      = "hoard_engine_memory_bytes"
)

// Collector defines the interface for collecting metrics.
type Collector interface {
	// IncCounter increments a counter metric by delta.
	IncCounter(name string, delta int64)

	// SetGauge sets a gauge metric to value.
	SetGauge(name string, value int64)

	// ObserveHistogram records a value in a histogram metric.
	ObserveHistogram(name string, value float64)
}
