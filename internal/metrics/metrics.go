// Package metrics holds the Prometheus collectors of the booking service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BookingTransitions counts committed state transitions by target status
	BookingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "booking",
			Name:      "transitions_total",
			Help:      "The total number of committed booking state transitions",
		},
		[]string{"to", "trigger"},
	)

	// WebhookEvents counts gateway webhook deliveries by outcome
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "booking",
			Name:      "webhook_events_total",
			Help:      "The total number of gateway webhook deliveries",
		},
		[]string{"type", "result"},
	)

	// SweepProcessed counts bookings moved by the reconciliation sweeps
	SweepProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "booking",
			Name:      "sweep_processed_total",
			Help:      "The total number of bookings moved by reconciliation sweeps",
		},
		[]string{"sweep"},
	)

	// SweepFailures counts failed sweep runs
	SweepFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "booking",
			Name:      "sweep_failures_total",
			Help:      "The total number of failed reconciliation sweep runs",
		},
		[]string{"sweep"},
	)

	// GatewayFailures counts payment gateway calls that failed
	GatewayFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "booking",
			Name:      "gateway_failures_total",
			Help:      "The total number of failed payment gateway calls",
		},
		[]string{"operation", "transient"},
	)

	// EventPublishFailures counts lifecycle events that could not be published
	EventPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "booking",
			Name:      "event_publish_failures_total",
			Help:      "The total number of lifecycle events that could not be published",
		},
	)
)

// Transition records a committed transition.
func Transition(to, trigger string) {
	BookingTransitions.WithLabelValues(to, trigger).Inc()
}

// GatewayFailure records a failed gateway call.
func GatewayFailure(op string, transient bool) {
	label := "false"
	if transient {
		label = "true"
	}
	GatewayFailures.WithLabelValues(op, label).Inc()
}
