package gateway

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/agilemobiledev/errai/metric"
)

// Metrics holds Prometheus metrics for the WebSocket gateway
type Metrics struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	framesReceived    prometheus.Counter
	framesSent        prometheus.Counter
	framesDropped     *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec
}

func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "errai",
			Subsystem: "gateway",
			Name:      "connections_active",
			Help:      "Number of active WebSocket connections",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "errai",
			Subsystem: "gateway",
			Name:      "connections_total",
			Help:      "Total number of WebSocket connections accepted",
		}),
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "errai",
			Subsystem: "gateway",
			Name:      "frames_received_total",
			Help:      "Total frames received from clients",
		}),
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "errai",
			Subsystem: "gateway",
			Name:      "frames_sent_total",
			Help:      "Total frames written to clients",
		}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "errai",
			Subsystem: "gateway",
			Name:      "frames_dropped_total",
			Help:      "Total outbound frames dropped",
		}, []string{"reason"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "errai",
			Subsystem: "gateway",
			Name:      "errors_total",
			Help:      "Total gateway errors by type",
		}, []string{"type"}),
	}

	_ = registry.Register("gateway", "connections_active", m.connectionsActive)
	_ = registry.Register("gateway", "connections_total", m.connectionsTotal)
	_ = registry.Register("gateway", "frames_received", m.framesReceived)
	_ = registry.Register("gateway", "frames_sent", m.framesSent)
	_ = registry.Register("gateway", "frames_dropped", m.framesDropped)
	_ = registry.Register("gateway", "errors_total", m.errorsTotal)

	return m
}

func (m *Metrics) trackError(errorType string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(errorType).Inc()
}
