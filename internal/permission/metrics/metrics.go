package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the permission module.
type Metrics struct {
	// Resolutions by winning layer and effect.
	Resolutions *prometheus.CounterVec

	// Configuration writes by kind (role_permission, override, window).
	ConfigWrites *prometheus.CounterVec
}

// New creates a new Metrics instance with all permission module metrics
// registered.
func New() *Metrics {
	return &Metrics{
		Resolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "concord_permission_resolutions_total",
			Help: "Total permission resolutions by winning layer and effect",
		}, []string{"layer", "effect"}),

		ConfigWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "concord_permission_config_writes_total",
			Help: "Total permission configuration writes by kind",
		}, []string{"kind"}),
	}
}

// IncrementResolution records one resolution outcome.
func (m *Metrics) IncrementResolution(layer, effect string) {
	if m != nil {
		m.Resolutions.WithLabelValues(layer, effect).Inc()
	}
}

// IncrementConfigWrite records one configuration write.
func (m *Metrics) IncrementConfigWrite(kind string) {
	if m != nil {
		m.ConfigWrites.WithLabelValues(kind).Inc()
	}
}
