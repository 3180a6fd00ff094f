package observability

import (
	"context"

	"github.com/aretw0/scripthost/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors fed by lifecycle hooks.
type Metrics struct {
	Passes      *prometheus.CounterVec
	Errors      *prometheus.CounterVec
	Transitions *prometheus.CounterVec
	Duration    *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Passes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scripthost_script_passes_total",
				Help: "Total number of script passes",
			},
			[]string{"session"},
		),
		Errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scripthost_script_errors_total",
				Help: "Total number of script passes that failed",
			},
			[]string{"session"},
		),
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scripthost_state_transitions_total",
				Help: "Total number of run-state transitions",
			},
			[]string{"session", "to"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scripthost_script_duration_seconds",
				Help:    "Duration of script passes",
				Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
			},
			[]string{"session"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Passes, m.Errors, m.Transitions, m.Duration)
	}
	return m
}

// Hooks returns lifecycle hooks that record into m.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStateChange: func(ctx context.Context, e *domain.StateEvent) {
			m.Transitions.WithLabelValues(e.Session, e.To.String()).Inc()
		},
		OnScriptComplete: func(ctx context.Context, e *domain.ScriptEvent) {
			m.observe(e)
		},
		OnScriptError: func(ctx context.Context, e *domain.ScriptEvent) {
			m.observe(e)
			m.Errors.WithLabelValues(e.Session).Inc()
		},
	}
}

func (m *Metrics) observe(e *domain.ScriptEvent) {
	m.Passes.WithLabelValues(e.Session).Inc()
	m.Duration.WithLabelValues(e.Session).Observe(e.Duration.Seconds())
}
