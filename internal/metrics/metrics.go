package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector the service records into. Constructed once in
// main and handed to the components that need it.
type Metrics struct {
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	CheckoutOutcomes *prometheus.CounterVec
	WebhookEvents    *prometheus.CounterVec
	ReconcileResults *prometheus.CounterVec
	ProviderCalls    *prometheus.CounterVec
	SweptOrders      prometheus.Counter
	OutboxPublished  *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests served.",
			},
			[]string{"route", "method", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		CheckoutOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_outcomes_total",
				Help: "Checkout attempts by outcome.",
			},
			[]string{"outcome"},
		),
		WebhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_events_total",
				Help: "Received provider webhook events by type and verdict.",
			},
			[]string{"type", "verdict"},
		),
		ReconcileResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconcile_results_total",
				Help: "Payment event reconciliation results.",
			},
			[]string{"result"},
		),
		ProviderCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_calls_total",
				Help: "Outbound payment provider calls by operation and outcome.",
			},
			[]string{"op", "outcome"},
		),
		SweptOrders: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "reservation_sweeps_total",
				Help: "Orders failed by the reservation sweeper.",
			},
		),
		OutboxPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outbox_published_total",
				Help: "Outbox rows published by status.",
			},
			[]string{"status"},
		),
	}
	reg.MustRegister(
		m.HTTPRequests,
		m.HTTPDuration,
		m.CheckoutOutcomes,
		m.WebhookEvents,
		m.ReconcileResults,
		m.ProviderCalls,
		m.SweptOrders,
		m.OutboxPublished,
	)
	return m
}
