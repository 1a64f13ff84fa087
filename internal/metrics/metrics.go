package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	OrdersCreated       prometheus.Counter
	OrderStatusChanges  *prometheus.CounterVec
	PaymentDecisions    *prometheus.CounterVec
	DeliveriesCompleted prometheus.Counter
	RatingsSubmitted    prometheus.Counter
	Notifications       *prometheus.CounterVec
	WAIncomingMessages  *prometheus.CounterVec
	WAOutgoingMessages  *prometheus.CounterVec
	Broadcasts          *prometheus.CounterVec
	OutboxProcessed     *prometheus.CounterVec
	CacheKeysDeleted    prometheus.Counter
	HTTPRequests        *prometheus.CounterVec
	HTTPLatency         *prometheus.HistogramVec
	Errors              *prometheus.CounterVec
}

// New builds the collectors under namespace and registers them on reg.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Total orders created.",
		}),
		OrderStatusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_status_changes_total",
			Help:      "Order status transitions by target status.",
		}, []string{"status"}),
		PaymentDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_decisions_total",
			Help:      "Payment verifications and rejections.",
		}, []string{"status"}),
		DeliveriesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_completed_total",
			Help:      "Deliveries confirmed with a one-time code.",
		}),
		RatingsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_ratings_total",
			Help:      "Delivery ratings submitted.",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Customer notifications by outcome.",
		}, []string{"outcome"}),
		WAIncomingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wa_incoming_messages_total",
			Help:      "Total incoming WhatsApp messages processed.",
		}, []string{"type"}),
		WAOutgoingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wa_outgoing_messages_total",
			Help:      "Total outgoing WhatsApp messages sent.",
		}, []string{"type"}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_events_total",
			Help:      "Dashboard events pushed by event name.",
		}, []string{"event"}),
		OutboxProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_total",
			Help:      "Outbox events handled by kind and outcome.",
		}, []string{"kind", "outcome"}),
		CacheKeysDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_cache_keys_deleted_total",
			Help:      "Catalog cache keys removed by invalidation.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		HTTPLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution for HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total errors grouped by component.",
		}, []string{"component"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.OrdersCreated,
			m.OrderStatusChanges,
			m.PaymentDecisions,
			m.DeliveriesCompleted,
			m.RatingsSubmitted,
			m.Notifications,
			m.WAIncomingMessages,
			m.WAOutgoingMessages,
			m.Broadcasts,
			m.OutboxProcessed,
			m.CacheKeysDeleted,
			m.HTTPRequests,
			m.HTTPLatency,
			m.Errors,
		)
	}
	return m
}

// NewNop returns unregistered collectors, for tests and tools.
func NewNop() *Metrics {
	return New("test", nil)
}
