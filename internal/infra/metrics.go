package infra

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks engine counters with atomic operations.
// They are exported to Prometheus through Collector.
type Metrics struct {
	// Counters
	cyclesRun         atomic.Uint64
	quotesFetched     atomic.Uint64
	fetchErrors       atomic.Uint64
	priceChanges      atomic.Uint64
	broadcastsSent    atomic.Uint64
	broadcastFailures atomic.Uint64
	alertsFired       atomic.Uint64
	persistenceErrors atomic.Uint64
	cacheHits         atomic.Uint64
	cacheMisses       atomic.Uint64
	panicsRecovered   atomic.Uint64

	// Cycle latency tracking
	cycleSumNs atomic.Int64
	cycleCount atomic.Uint64

	// Gauges
	activeConnections atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordCycle records one completed scheduler cycle and its duration.
func (m *Metrics) RecordCycle(latency time.Duration) {
	m.cyclesRun.Add(1)
	m.cycleSumNs.Add(int64(latency))
	m.cycleCount.Add(1)
}

func (m *Metrics) RecordQuoteFetched()      { m.quotesFetched.Add(1) }
func (m *Metrics) RecordFetchError()        { m.fetchErrors.Add(1) }
func (m *Metrics) RecordPriceChange()       { m.priceChanges.Add(1) }
func (m *Metrics) RecordAlertFired()        { m.alertsFired.Add(1) }
func (m *Metrics) RecordPersistenceError()  { m.persistenceErrors.Add(1) }
func (m *Metrics) RecordCacheHit()          { m.cacheHits.Add(1) }
func (m *Metrics) RecordCacheMiss()         { m.cacheMisses.Add(1) }
func (m *Metrics) RecordPanic()             { m.panicsRecovered.Add(1) }
func (m *Metrics) RecordBroadcastFailure()  { m.broadcastFailures.Add(1) }
func (m *Metrics) RecordBroadcast(sent int) { m.broadcastsSent.Add(uint64(sent)) }

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	CyclesRun         uint64    `json:"cycles_run"`
	QuotesFetched     uint64    `json:"quotes_fetched"`
	FetchErrors       uint64    `json:"fetch_errors"`
	PriceChanges      uint64    `json:"price_changes"`
	BroadcastsSent    uint64    `json:"broadcasts_sent"`
	BroadcastFailures uint64    `json:"broadcast_failures"`
	AlertsFired       uint64    `json:"alerts_fired"`
	PersistenceErrors uint64    `json:"persistence_errors"`
	CacheHits         uint64    `json:"cache_hits"`
	CacheMisses       uint64    `json:"cache_misses"`
	PanicsRecovered   uint64    `json:"panics_recovered"`
	AvgCycleNs        int64     `json:"avg_cycle_ns"`
	ActiveConnections int32     `json:"active_connections"`
	Timestamp         time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avg int64
	if count := m.cycleCount.Load(); count > 0 {
		avg = m.cycleSumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		CyclesRun:         m.cyclesRun.Load(),
		QuotesFetched:     m.quotesFetched.Load(),
		FetchErrors:       m.fetchErrors.Load(),
		PriceChanges:      m.priceChanges.Load(),
		BroadcastsSent:    m.broadcastsSent.Load(),
		BroadcastFailures: m.broadcastFailures.Load(),
		AlertsFired:       m.alertsFired.Load(),
		PersistenceErrors: m.persistenceErrors.Load(),
		CacheHits:         m.cacheHits.Load(),
		CacheMisses:       m.cacheMisses.Load(),
		PanicsRecovered:   m.panicsRecovered.Load(),
		AvgCycleNs:        avg,
		ActiveConnections: m.activeConnections.Load(),
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	for _, c := range []*atomic.Uint64{
		&m.cyclesRun, &m.quotesFetched, &m.fetchErrors, &m.priceChanges,
		&m.broadcastsSent, &m.broadcastFailures, &m.alertsFired, &m.persistenceErrors,
		&m.cacheHits, &m.cacheMisses, &m.panicsRecovered, &m.cycleCount,
	} {
		c.Store(0)
	}
	m.cycleSumNs.Store(0)
	m.activeConnections.Store(0)
}

// ======================================================================================
// Prometheus export
// ======================================================================================

const metricsNamespace = "quote_pulse"

type counterDesc struct {
	desc *prometheus.Desc
	read func(MetricsSnapshot) float64
}

// Collector exposes a Metrics instance as Prometheus metrics.
type Collector struct {
	m        *Metrics
	counters []counterDesc
	conns    *prometheus.Desc
	avgCycle *prometheus.Desc
}

// NewCollector creates a Prometheus collector reading from m.
func NewCollector(m *Metrics) *Collector {
	counter := func(name, help string, read func(MetricsSnapshot) float64) counterDesc {
		return counterDesc{
			desc: prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "", name), help, nil, nil),
			read: read,
		}
	}

	return &Collector{
		m: m,
		counters: []counterDesc{
			counter("scheduler_cycles_total", "Completed scheduler cycles.", func(s MetricsSnapshot) float64 { return float64(s.CyclesRun) }),
			counter("quotes_fetched_total", "Quotes fetched from the source.", func(s MetricsSnapshot) float64 { return float64(s.QuotesFetched) }),
			counter("fetch_errors_total", "Failed quote fetches.", func(s MetricsSnapshot) float64 { return float64(s.FetchErrors) }),
			counter("price_changes_total", "Observed price changes.", func(s MetricsSnapshot) float64 { return float64(s.PriceChanges) }),
			counter("broadcasts_sent_total", "Messages delivered to owners.", func(s MetricsSnapshot) float64 { return float64(s.BroadcastsSent) }),
			counter("broadcast_failures_total", "Messages that could not be delivered.", func(s MetricsSnapshot) float64 { return float64(s.BroadcastFailures) }),
			counter("alerts_fired_total", "Alerts transitioned to triggered.", func(s MetricsSnapshot) float64 { return float64(s.AlertsFired) }),
			counter("persistence_errors_total", "Repository failures.", func(s MetricsSnapshot) float64 { return float64(s.PersistenceErrors) }),
			counter("cache_hits_total", "Cache hits.", func(s MetricsSnapshot) float64 { return float64(s.CacheHits) }),
			counter("cache_misses_total", "Cache misses.", func(s MetricsSnapshot) float64 { return float64(s.CacheMisses) }),
			counter("panics_recovered_total", "Panics recovered inside scheduler cycles.", func(s MetricsSnapshot) float64 { return float64(s.PanicsRecovered) }),
		},
		conns: prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "ws", "active_connections"),
			"Currently open websocket connections.", nil, nil),
		avgCycle: prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "scheduler", "avg_cycle_seconds"),
			"Average scheduler cycle duration.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, cd := range c.counters {
		ch <- cd.desc
	}
	ch <- c.conns
	ch <- c.avgCycle
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.m.Snapshot()
	for _, cd := range c.counters {
		ch <- prometheus.MustNewConstMetric(cd.desc, prometheus.CounterValue, cd.read(snap))
	}
	ch <- prometheus.MustNewConstMetric(c.conns, prometheus.GaugeValue, float64(snap.ActiveConnections))
	ch <- prometheus.MustNewConstMetric(c.avgCycle, prometheus.GaugeValue, time.Duration(snap.AvgCycleNs).Seconds())
}

// MetricsHandler returns an HTTP handler serving m plus Go runtime metrics.
func MetricsHandler(m *Metrics) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(m),
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
