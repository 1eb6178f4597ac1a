// Package metrics defines the Prometheus collectors used by the index engine
// and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ixengine"

// Metrics holds all Prometheus collectors for the engine. Every vector is
// labelled by index id.
type Metrics struct {
	UpdatesTotal              *prometheus.CounterVec
	KeyChangesTotal           *prometheus.CounterVec
	ModificationCount         *prometheus.GaugeVec
	RebuildRequestsTotal      *prometheus.CounterVec
	ValueContractViolations   *prometheus.CounterVec
	LookupsTotal              *prometheus.CounterVec
	FlushesTotal              *prometheus.CounterVec
	FlushDuration             *prometheus.HistogramVec
	ContainerEscalationsTotal *prometheus.CounterVec
	CacheDropsTotal           *prometheus.CounterVec
	LowMemoryEventsTotal      prometheus.Counter
	ProbeRequestsTotal        *prometheus.CounterVec
	ProbeDuration             *prometheus.HistogramVec
}

// New creates the collectors and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// Noop returns collectors registered with a private registry, for tests and
// engines built without metrics.
func Noop() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry creates the collectors and registers them with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UpdatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "updates_total",
				Help:      "Input updates applied by result (changed, unchanged, failed, canceled).",
			},
			[]string{"index", "result"},
		),
		KeyChangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "key_changes_total",
				Help:      "Key-level reverse index changes by kind (added, updated, removed).",
			},
			[]string{"index", "kind"},
		),
		ModificationCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "modification_count",
				Help:      "Current value of the per-index modification counter.",
			},
			[]string{"index"},
		),
		RebuildRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rebuild_requests_total",
				Help:      "Rebuild requests raised after failed updates.",
			},
			[]string{"index"},
		),
		ValueContractViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "value_contract_violations_total",
				Help:      "Values whose equality or hash did not survive a codec round trip.",
			},
			[]string{"index"},
		),
		LookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lookups_total",
				Help:      "Reverse index lookups.",
			},
			[]string{"index"},
		),
		FlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flushes_total",
				Help:      "Index flush operations by status.",
			},
			[]string{"index", "status"},
		),
		FlushDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "flush_duration_seconds",
				Help:      "Index flush latency in seconds.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"index"},
		),
		ContainerEscalationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "container_escalations_total",
				Help:      "Value containers that escalated from the single-value form.",
			},
			[]string{"index"},
		),
		CacheDropsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_drops_total",
				Help:      "Container cache drops triggered by memory pressure.",
			},
			[]string{"index"},
		),
		LowMemoryEventsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "low_memory_events_total",
				Help:      "Low-memory notifications delivered to subscribers.",
			},
		),
		ProbeRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probe_requests_total",
				Help:      "Health probe requests by path and status code.",
			},
			[]string{"path", "code"},
		),
		ProbeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "probe_duration_seconds",
				Help:      "Health probe latency in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"path"},
		),
	}

	reg.MustRegister(
		m.UpdatesTotal,
		m.KeyChangesTotal,
		m.ModificationCount,
		m.RebuildRequestsTotal,
		m.ValueContractViolations,
		m.LookupsTotal,
		m.FlushesTotal,
		m.FlushDuration,
		m.ContainerEscalationsTotal,
		m.CacheDropsTotal,
		m.LowMemoryEventsTotal,
		m.ProbeRequestsTotal,
		m.ProbeDuration,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
