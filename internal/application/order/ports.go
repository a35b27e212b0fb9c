package order

import "github.com/prometheus/client_golang/prometheus"

type IDGenerator interface {
	NewID() string
}

// Metrics are the saga's counters, registered in main and injected. All
// fields are optional; nil counters are skipped.
type Metrics struct {
	OrdersCreated   *prometheus.CounterVec // labels: outcome
	PaymentAttempts *prometheus.CounterVec // labels: outcome
	WebhookEvents   *prometheus.CounterVec // labels: result
}

func (m *Metrics) countOrder(outcome string) {
	if m != nil && m.OrdersCreated != nil {
		m.OrdersCreated.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) countPayment(outcome string) {
	if m != nil && m.PaymentAttempts != nil {
		m.PaymentAttempts.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) countWebhook(result string) {
	if m != nil && m.WebhookEvents != nil {
		m.WebhookEvents.WithLabelValues(result).Inc()
	}
}
