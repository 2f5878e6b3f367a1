// Package metrics holds the Prometheus collectors of the checkout service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "checkout"

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	FulfillmentAttempts  *prometheus.CounterVec
	Compensations        prometheus.Counter
	PaymentConfirmations *prometheus.CounterVec
	Notifications        *prometheus.CounterVec
	FulfillmentDuration  *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in
// binaries and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FulfillmentAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fulfillment_attempts_total",
			Help:      "Fulfilment attempts by path (atomic, saga) and outcome.",
		}, []string{"path", "outcome"}),
		Compensations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fulfillment_compensations_total",
			Help:      "Reservations undone by the saga path.",
		}),
		PaymentConfirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_confirmations_total",
			Help:      "Paid-order confirmations by outcome.",
		}, []string{"outcome"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Dispatched notifications by outcome.",
		}, []string{"outcome"}),
		FulfillmentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fulfillment_duration_seconds",
			Help:      "Time spent committing an order.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path"}),
	}
	reg.MustRegister(m.FulfillmentAttempts, m.Compensations, m.PaymentConfirmations, m.Notifications, m.FulfillmentDuration)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

func (m *Metrics) ObserveFulfillment(path, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.FulfillmentAttempts.WithLabelValues(path, outcome).Inc()
	m.FulfillmentDuration.WithLabelValues(path).Observe(took.Seconds())
}

func (m *Metrics) Compensated() {
	if m == nil {
		return
	}
	m.Compensations.Inc()
}

func (m *Metrics) PaymentConfirmation(outcome string) {
	if m == nil {
		return
	}
	m.PaymentConfirmations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Notification(outcome string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(outcome).Inc()
}

// Handler serves the registry the collectors were registered on.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
