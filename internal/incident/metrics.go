package incident

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/warden/internal/scoring"
)

// Hooks lets callers observe Manager activity without the Manager knowing
// about any metrics backend. Nil fields are skipped.
type Hooks struct {
	OnCreate            func(priority scoring.Priority, confidence float64)
	OnTransition        func(from, to Status)
	OnInvalidTransition func(from, to Status)
	OnNotifyError       func()
}

func (h Hooks) created(p scoring.Priority, confidence float64) {
	if h.OnCreate != nil {
		h.OnCreate(p, confidence)
	}
}

func (h Hooks) transitioned(from, to Status) {
	if h.OnTransition != nil {
		h.OnTransition(from, to)
	}
}

func (h Hooks) refused(from, to Status) {
	if h.OnInvalidTransition != nil {
		h.OnInvalidTransition(from, to)
	}
}

func (h Hooks) notifyFailed() {
	if h.OnNotifyError != nil {
		h.OnNotifyError()
	}
}

// Metrics holds Prometheus metrics for the incident lifecycle.
type Metrics struct {
	IncidentsCreated   *prometheus.CounterVec
	Confidence         prometheus.Histogram
	Transitions        *prometheus.CounterVec
	InvalidTransitions *prometheus.CounterVec
	NotifyErrors       prometheus.Counter
}

// NewMetrics registers and returns incident metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IncidentsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_incidents_created_total",
			Help: "Total incidents created by suggested priority.",
		}, []string{"priority"}),
		Confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_incident_confidence",
			Help:    "Scorer confidence assigned at creation.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0 .. 1
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_transitions_total",
			Help: "Accepted status transitions by edge.",
		}, []string{"from", "to"}),
		InvalidTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_invalid_transitions_total",
			Help: "Refused status transitions by attempted edge.",
		}, []string{"from", "to"}),
		NotifyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_notify_errors_total",
			Help: "Failed transition notifications.",
		}),
	}

	reg.MustRegister(
		m.IncidentsCreated,
		m.Confidence,
		m.Transitions,
		m.InvalidTransitions,
		m.NotifyErrors,
	)

	return m
}

// Hooks returns Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnCreate: func(p scoring.Priority, confidence float64) {
			m.IncidentsCreated.WithLabelValues(string(p)).Inc()
			m.Confidence.Observe(confidence)
		},
		OnTransition: func(from, to Status) {
			m.Transitions.WithLabelValues(string(from), string(to)).Inc()
		},
		OnInvalidTransition: func(from, to Status) {
			m.InvalidTransitions.WithLabelValues(string(from), string(to)).Inc()
		},
		OnNotifyError: func() {
			m.NotifyErrors.Inc()
		},
	}
}
