package tex

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stats summarizes pipeline activity since construction.
type Stats struct {
	Hits     int64
	Misses   int64
	Renders  int64
	Failures int64
}

type metrics struct {
	lookups  *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec

	hits, misses, renders, failed atomic.Int64
}

// newMetrics registers collectors with reg. A nil reg leaves them unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		lookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mathenv",
				Subsystem: "render",
				Name:      "cache_lookups_total",
				Help:      "Cache lookups by result (hit, miss, error).",
			},
			[]string{"result"},
		),
		failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mathenv",
				Subsystem: "render",
				Name:      "failures_total",
				Help:      "Failed toolchain invocations by stage.",
			},
			[]string{"stage"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mathenv",
				Subsystem: "render",
				Name:      "stage_duration_seconds",
				Help:      "Duration of external toolchain stages.",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"stage"},
		),
	}
}

func (m *metrics) hit() {
	m.hits.Add(1)
	m.lookups.WithLabelValues("hit").Inc()
}

func (m *metrics) miss() {
	m.misses.Add(1)
	m.lookups.WithLabelValues("miss").Inc()
}

func (m *metrics) lookupError() {
	m.lookups.WithLabelValues("error").Inc()
}

func (m *metrics) fail(stage Stage) {
	m.failed.Add(1)
	m.failures.WithLabelValues(stage.String()).Inc()
}

func (m *metrics) snapshot() Stats {
	return Stats{
		Hits:     m.hits.Load(),
		Misses:   m.misses.Load(),
		Renders:  m.renders.Load(),
		Failures: m.failed.Load(),
	}
}
