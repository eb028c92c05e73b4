package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all bus-level metrics (not component-specific)
type Metrics struct {
	// Dispatch metrics
	MessagesStored    *prometheus.CounterVec
	MessagesDelivered *prometheus.CounterVec
	MessagesRejected  *prometheus.CounterVec
	DeliveryDuration  *prometheus.HistogramVec
	SubjectQueueDepth *prometheus.GaugeVec

	// Authentication metrics
	AuthChallenges prometheus.Counter
	AuthSuccesses  prometheus.Counter
	AuthFailures   prometheus.Counter
	ActiveSessions prometheus.Gauge

	// Service metrics
	ServiceStatus *prometheus.GaugeVec
	ErrorsTotal   *prometheus.CounterVec

	// Relay metrics
	RelayConnected  prometheus.Gauge
	RelayPublished  prometheus.Counter
	RelayReceived   prometheus.Counter
	RelayReconnects prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all bus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesStored: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "errai",
				Subsystem: "bus",
				Name:      "messages_stored_total",
				Help:      "Total number of messages accepted for dispatch",
			},
			[]string{"subject"},
		),

		MessagesDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "errai",
				Subsystem: "bus",
				Name:      "messages_delivered_total",
				Help:      "Total number of messages delivered to subscribers",
			},
			[]string{"subject", "status"},
		),

		MessagesRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "errai",
				Subsystem: "bus",
				Name:      "messages_rejected_total",
				Help:      "Total number of messages rejected before delivery",
			},
			[]string{"subject", "reason"},
		),

		DeliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "errai",
				Subsystem: "bus",
				Name:      "delivery_duration_seconds",
				Help:      "Subscriber handler execution time in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"subject"},
		),

		SubjectQueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "errai",
				Subsystem: "bus",
				Name:      "subject_queue_depth",
				Help:      "Pending messages per dispatch shard",
			},
			[]string{"shard"},
		),

		AuthChallenges: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "errai",
				Subsystem: "auth",
				Name:      "challenges_total",
				Help:      "Total number of credential challenges attempted",
			},
		),

		AuthSuccesses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "errai",
				Subsystem: "auth",
				Name:      "successes_total",
				Help:      "Total number of successful authentications",
			},
		),

		AuthFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "errai",
				Subsystem: "auth",
				Name:      "failures_total",
				Help:      "Total number of rejected authentications",
			},
		),

		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "errai",
				Subsystem: "auth",
				Name:      "active_sessions",
				Help:      "Number of live sessions in the session store",
			},
		),

		ServiceStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "errai",
				Subsystem: "service",
				Name:      "status",
				Help:      "Service status (0=stopped, 1=starting, 2=running, 3=stopping)",
			},
			[]string{"service"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "errai",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"service", "type"},
		),

		RelayConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "errai",
				Subsystem: "relay",
				Name:      "connected",
				Help:      "Relay connection status (0=disconnected, 1=connected)",
			},
		),

		RelayPublished: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "errai",
				Subsystem: "relay",
				Name:      "published_total",
				Help:      "Total number of messages published to the federation relay",
			},
		),

		RelayReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "errai",
				Subsystem: "relay",
				Name:      "received_total",
				Help:      "Total number of messages received from the federation relay",
			},
		),

		RelayReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "errai",
				Subsystem: "relay",
				Name:      "reconnects_total",
				Help:      "Total number of relay reconnections",
			},
		),
	}
}

// RecordMessageStored increments the stored message counter
func (c *Metrics) RecordMessageStored(subject string) {
	c.MessagesStored.WithLabelValues(subject).Inc()
}

// RecordMessageDelivered increments the delivered message counter
func (c *Metrics) RecordMessageDelivered(subject, status string) {
	c.MessagesDelivered.WithLabelValues(subject, status).Inc()
}

// RecordMessageRejected increments the rejected message counter
func (c *Metrics) RecordMessageRejected(subject, reason string) {
	c.MessagesRejected.WithLabelValues(subject, reason).Inc()
}

// RecordDeliveryDuration records subscriber handler execution time
func (c *Metrics) RecordDeliveryDuration(subject string, duration time.Duration) {
	c.DeliveryDuration.WithLabelValues(subject).Observe(duration.Seconds())
}

// RecordChallenge increments the challenge counter and the outcome counter
func (c *Metrics) RecordChallenge(success bool) {
	c.AuthChallenges.Inc()
	if success {
		c.AuthSuccesses.Inc()
	} else {
		c.AuthFailures.Inc()
	}
}

// RecordActiveSessions updates the live session gauge
func (c *Metrics) RecordActiveSessions(n int) {
	c.ActiveSessions.Set(float64(n))
}

// RecordServiceStatus updates the service status metric
func (c *Metrics) RecordServiceStatus(service string, status int) {
	c.ServiceStatus.WithLabelValues(service).Set(float64(status))
}

// RecordError increments the error counter
func (c *Metrics) RecordError(service, errorType string) {
	c.ErrorsTotal.WithLabelValues(service, errorType).Inc()
}

// RecordRelayStatus updates relay connection status
func (c *Metrics) RecordRelayStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.RelayConnected.Set(value)
}

// collectors returns every core metric for bulk registration
func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.MessagesStored,
		c.MessagesDelivered,
		c.MessagesRejected,
		c.DeliveryDuration,
		c.SubjectQueueDepth,
		c.AuthChallenges,
		c.AuthSuccesses,
		c.AuthFailures,
		c.ActiveSessions,
		c.ServiceStatus,
		c.ErrorsTotal,
		c.RelayConnected,
		c.RelayPublished,
		c.RelayReceived,
		c.RelayReconnects,
	}
}
