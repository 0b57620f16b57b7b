// Package diagnostics exposes a Prometheus collector reporting pool growth,
// record counts, and last-write telemetry for self-monitoring. It never
// mutates GlobalState; Collect takes the same outer lock the host uses for a
// write, for the duration of a read-only pass, then releases it.
//
// Grounded on the teacher's MemCollector (internal/collectors/kernelmemory/
// memory_collector.go): a prometheus.Collector reading pre-aggregated state
// from a facade via Describe/Collect, adapted from per-process ETW counters
// to pool/registry/persistor counters.
package diagnostics

import (
	"sync"

	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"

	"procstats/internal/logger"
)

// StateProvider is the read-only slice of GlobalState the collector needs.
// Defined here (rather than depending on the global package directly) so
// diagnostics stays a leaf: anything shaped like a GlobalState can be
// collected from, including a fake in tests.
type StateProvider interface {
	PoolArrayCount() int
	PoolLongsUsed() int
	ProcessCount() int
	PackageCount() int
	LastWriteDuration() int64
	LastWriteTimestamp() int64
	WriteFailures() int64
}

// Collector implements prometheus.Collector over a StateProvider, taking
// lock via the caller-supplied Locker for the duration of each Collect pass.
type Collector struct {
	state StateProvider
	lock  sync.Locker
	log   log.Logger

	poolArraysDesc         *prometheus.Desc
	poolLongsUsedDesc      *prometheus.Desc
	processesTrackedDesc   *prometheus.Desc
	packagesTrackedDesc    *prometheus.Desc
	lastWriteDurationDesc  *prometheus.Desc
	lastWriteTimestampDesc *prometheus.Desc
	writeFailuresDesc      *prometheus.Desc
}

// New creates a Collector reading from state, taking lock for the duration
// of each Collect pass (pass a no-op sync.Locker in tests or single-threaded
// callers that don't need the mutual exclusion).
func New(state StateProvider, lock sync.Locker) *Collector {
	return &Collector{
		state: state,
		lock:  lock,
		log:   logger.NewLoggerWithContext("diagnostics"),

		poolArraysDesc: prometheus.NewDesc(
			"procstats_pool_arrays_total",
			"Number of LongPool arrays allocated.",
			nil, nil),
		poolLongsUsedDesc: prometheus.NewDesc(
			"procstats_pool_longs_used_total",
			"Longs consumed in the tail array.",
			nil, nil),
		processesTrackedDesc: prometheus.NewDesc(
			"procstats_processes_tracked_total",
			"Number of common process records currently tracked.",
			nil, nil),
		packagesTrackedDesc: prometheus.NewDesc(
			"procstats_packages_tracked_total",
			"Number of package records currently tracked.",
			nil, nil),
		lastWriteDurationDesc: prometheus.NewDesc(
			"procstats_last_write_duration_seconds",
			"Wall-clock duration of the most recent commit's I/O, successful or not.",
			nil, nil),
		lastWriteTimestampDesc: prometheus.NewDesc(
			"procstats_last_write_timestamp_seconds",
			"Caller-supplied timestamp of the most recent write request.",
			nil, nil),
		writeFailuresDesc: prometheus.NewDesc(
			"procstats_write_failures_total",
			"Cumulative count of failed commits.",
			nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.poolArraysDesc
	ch <- c.poolLongsUsedDesc
	ch <- c.processesTrackedDesc
	ch <- c.packagesTrackedDesc
	ch <- c.lastWriteDurationDesc
	ch <- c.lastWriteTimestampDesc
	ch <- c.writeFailuresDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.lock.Lock()
	arrays := c.state.PoolArrayCount()
	longsUsed := c.state.PoolLongsUsed()
	processes := c.state.ProcessCount()
	packages := c.state.PackageCount()
	lastWriteDurationNanos := c.state.LastWriteDuration()
	lastWriteTimestamp := c.state.LastWriteTimestamp()
	writeFailures := c.state.WriteFailures()
	c.lock.Unlock()

	ch <- prometheus.MustNewConstMetric(c.poolArraysDesc, prometheus.GaugeValue, float64(arrays))
	ch <- prometheus.MustNewConstMetric(c.poolLongsUsedDesc, prometheus.GaugeValue, float64(longsUsed))
	ch <- prometheus.MustNewConstMetric(c.processesTrackedDesc, prometheus.GaugeValue, float64(processes))
	ch <- prometheus.MustNewConstMetric(c.packagesTrackedDesc, prometheus.GaugeValue, float64(packages))
	ch <- prometheus.MustNewConstMetric(c.lastWriteDurationDesc, prometheus.GaugeValue, float64(lastWriteDurationNanos)/1e9)
	ch <- prometheus.MustNewConstMetric(c.lastWriteTimestampDesc, prometheus.GaugeValue, float64(lastWriteTimestamp)/1e3)
	ch <- prometheus.MustNewConstMetric(c.writeFailuresDesc, prometheus.CounterValue, float64(writeFailures))

	c.log.Debug().Msg("collected diagnostics metrics")
}
