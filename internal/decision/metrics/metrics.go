package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the decision module.
type Metrics struct {
	// Created counts new decisions by kind (signing, recovery).
	Created *prometheus.CounterVec

	// Transitions counts terminal transitions by kind and final status.
	Transitions *prometheus.CounterVec

	// TimeToQuorum observes how long approved decisions took to reach
	// quorum.
	TimeToQuorum *prometheus.HistogramVec
}

// New creates a new Metrics instance with all decision module metrics
// registered.
func New() *Metrics {
	return &Metrics{
		Created: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "concord_decisions_created_total",
			Help: "Total pending decisions created by kind",
		}, []string{"kind"}),

		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "concord_decision_transitions_total",
			Help: "Total terminal decision transitions by kind and status",
		}, []string{"kind", "status"}),

		TimeToQuorum: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "concord_decision_time_to_quorum_seconds",
			Help:    "Seconds between decision creation and quorum",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}, []string{"kind"}),
	}
}

// IncrementCreated records one decision creation.
func (m *Metrics) IncrementCreated(kind string) {
	if m != nil {
		m.Created.WithLabelValues(kind).Inc()
	}
}

// IncrementTransition records one terminal transition.
func (m *Metrics) IncrementTransition(kind, status string) {
	if m != nil {
		m.Transitions.WithLabelValues(kind, status).Inc()
	}
}

// ObserveTimeToQuorum records the interval from creation to quorum.
func (m *Metrics) ObserveTimeToQuorum(kind string, d time.Duration) {
	if m != nil {
		m.TimeToQuorum.WithLabelValues(kind).Observe(d.Seconds())
	}
}
