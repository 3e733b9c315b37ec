package sched

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the prometheus instruments for the executor. Registering on
// a custom registry keeps tests isolated from the default one.
type Metrics struct {
	firings  *prometheus.CounterVec
	terminal *prometheus.CounterVec
	duration *prometheus.HistogramVec
	pending  prometheus.Gauge
}

// NewMetrics builds and registers the executor instruments. reg may be nil,
// in which case the default registerer is used.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		firings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tickforge",
			Subsystem: "tasks",
			Name:      "firings_total",
			Help:      "Task firings by affinity mode and outcome.",
		}, []string{"mode", "outcome"}),
		terminal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tickforge",
			Subsystem: "tasks",
			Name:      "terminal_total",
			Help:      "Tasks reaching a terminal state, by state.",
		}, []string{"state"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tickforge",
			Subsystem: "tasks",
			Name:      "firing_duration_seconds",
			Help:      "Task body wall time per firing.",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"mode"}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "tickforge",
			Subsystem: "tasks",
			Name:      "pending",
			Help:      "Submitted tasks that have not reached a terminal state.",
		}),
	}
}

func (m *Metrics) observeFiring(mode AffinityMode, dur time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.firings.WithLabelValues(mode.String(), outcome).Inc()
	m.duration.WithLabelValues(mode.String()).Observe(dur.Seconds())
}

func (m *Metrics) observeTerminal(state TaskState) {
	m.terminal.WithLabelValues(state.String()).Inc()
}
