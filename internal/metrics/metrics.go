// Package metrics holds the prometheus collectors shared by the catalog,
// duration, search, library and playback components.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups collectors on a private registry. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	SegmentFetches    *prometheus.CounterVec
	ProbesTotal       *prometheus.CounterVec
	ProbeDuration     prometheus.Histogram
	DurationCacheSize prometheus.Gauge
	LibraryWrites     *prometheus.CounterVec
	LibraryRollbacks  prometheus.Counter
	SearchQueries     prometheus.Counter
	SearchStale       prometheus.Counter
	PlaybackStates    *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		SegmentFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "summarist_catalog_segment_fetches_total",
				Help: "Catalog segment fetches by segment and outcome",
			},
			[]string{"segment", "outcome"},
		),
		ProbesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "summarist_duration_probes_total",
				Help: "Duration probes by outcome",
			},
			[]string{"outcome"},
		),
		ProbeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "summarist_duration_probe_seconds",
				Help:    "Time spent probing media durations",
				Buckets: prometheus.DefBuckets,
			},
		),
		DurationCacheSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "summarist_duration_cache_entries",
				Help: "Entries held by the duration cache",
			},
		),
		LibraryWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "summarist_library_writes_total",
				Help: "Library document writes by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		LibraryRollbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "summarist_library_rollbacks_total",
				Help: "Optimistic library updates reverted after a failed write",
			},
		),
		SearchQueries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "summarist_search_queries_total",
				Help: "Search queries sent to the content service",
			},
		),
		SearchStale: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "summarist_search_stale_responses_total",
				Help: "Search responses discarded because a newer query superseded them",
			},
		),
		PlaybackStates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "summarist_playback_transitions_total",
				Help: "Playback session transitions by target state",
			},
			[]string{"state"},
		),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SegmentFetches,
		m.ProbesTotal,
		m.ProbeDuration,
		m.DurationCacheSize,
		m.LibraryWrites,
		m.LibraryRollbacks,
		m.SearchQueries,
		m.SearchStale,
		m.PlaybackStates,
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SegmentFetched(segment string, err error) {
	if m == nil {
		return
	}
	m.SegmentFetches.WithLabelValues(segment, outcome(err)).Inc()
}

func (m *Metrics) Probed(started time.Time, err error) {
	if m == nil {
		return
	}
	m.ProbesTotal.WithLabelValues(outcome(err)).Inc()
	m.ProbeDuration.Observe(time.Since(started).Seconds())
}

func (m *Metrics) CacheSize(n int) {
	if m == nil {
		return
	}
	m.DurationCacheSize.Set(float64(n))
}

func (m *Metrics) LibraryWrite(op string, err error) {
	if m == nil {
		return
	}
	m.LibraryWrites.WithLabelValues(op, outcome(err)).Inc()
}

func (m *Metrics) RolledBack() {
	if m == nil {
		return
	}
	m.LibraryRollbacks.Inc()
}

func (m *Metrics) SearchSent() {
	if m == nil {
		return
	}
	m.SearchQueries.Inc()
}

func (m *Metrics) SearchDiscarded() {
	if m == nil {
		return
	}
	m.SearchStale.Inc()
}

func (m *Metrics) Transitioned(state string) {
	if m == nil {
		return
	}
	m.PlaybackStates.WithLabelValues(state).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
