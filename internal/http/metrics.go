package http

import (
	"github.com/prometheus/client_golang/prometheus"

	"vibedj/internal/core"
)

// Metrics implements core.Metrics on a dedicated prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	plays             *prometheus.CounterVec
	fills             *prometheus.CounterVec
	resolverFailures  prometheus.Counter
	queueSize         prometheus.Gauge
	selectionDuration prometheus.Histogram
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		plays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vibedj_plays_total",
			Help: "Play requests served, by curation source.",
		}, []string{"source"}),
		fills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vibedj_fills_total",
			Help: "Background queue fills, by outcome.",
		}, []string{"status"}),
		resolverFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vibedj_resolver_failures_total",
			Help: "Stream resolutions that fell back or failed.",
		}),
		queueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vibedj_queue_size",
			Help: "Current live queue depth.",
		}),
		selectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vibedj_selection_duration_seconds",
			Help:    "Time spent building and selecting a candidate pool.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(m.plays, m.fills, m.resolverFailures, m.queueSize, m.selectionDuration)
	return m
}

func (m *Metrics) PlayStarted(source core.CurationSource) {
	m.plays.WithLabelValues(string(source)).Inc()
}

func (m *Metrics) FillCommitted() {
	m.fills.WithLabelValues("committed").Inc()
}

func (m *Metrics) FillDiscarded() {
	m.fills.WithLabelValues("discarded").Inc()
}

func (m *Metrics) ResolveFailed(count int) {
	m.resolverFailures.Add(float64(count))
}

func (m *Metrics) QueueSize(n int) {
	m.queueSize.Set(float64(n))
}

func (m *Metrics) SelectionDuration(seconds float64) {
	m.selectionDuration.Observe(seconds)
}
