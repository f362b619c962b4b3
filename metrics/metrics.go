// Package metrics holds the Prometheus collectors for the notification core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "edusync"

// Metrics holds Prometheus metrics for the store, hub and aggregator.
type Metrics struct {
	NotificationsCreated *prometheus.CounterVec
	NotificationsEvicted prometheus.Counter
	Published            prometheus.Counter
	Delivered            prometheus.Counter
	DeliveryFailures     *prometheus.CounterVec
	Dropped              prometheus.Counter
	Subscriptions        prometheus.Gauge
	Snapshots            *prometheus.CounterVec
	PartialWarnings      *prometheus.CounterVec
	AlertsGenerated      *prometheus.CounterVec
	Swept                prometheus.Counter
	EmailsSent           *prometheus.CounterVec
}

// New registers all collectors on reg. Pass prometheus.NewRegistry() in tests
// to avoid duplicate registration on the default registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		NotificationsCreated: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "notifications_created_total",
				Help:      "Notifications created, by priority",
			},
			[]string{"priority"},
		),
		NotificationsEvicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "notifications_evicted_total",
			Help:      "Notifications evicted by the per-recipient cap",
		}),
		Published: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "published_total",
			Help:      "Notifications published to the hub",
		}),
		Delivered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "delivered_total",
			Help:      "Successful subscriber callback invocations",
		}),
		DeliveryFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "hub",
				Name:      "delivery_failures_total",
				Help:      "Subscriber callbacks that returned an error or panicked",
			},
			[]string{"reason"},
		),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "dropped_total",
			Help:      "Deliveries dropped because a subscriber queue was full",
		}),
		Subscriptions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "subscriptions",
			Help:      "Active subscriptions",
		}),
		Snapshots: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "aggregate",
				Name:      "snapshots_total",
				Help:      "Sync snapshots requested, by outcome",
			},
			[]string{"outcome"},
		),
		PartialWarnings: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "aggregate",
				Name:      "partial_warnings_total",
				Help:      "Partial data warnings attached to snapshots, by source",
			},
			[]string{"source"},
		),
		AlertsGenerated: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alert",
				Name:      "generated_total",
				Help:      "Alerts generated, by category and priority",
			},
			[]string{"category", "priority"},
		),
		Swept: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "expired_total",
			Help:      "Read notifications removed by the retention sweeper",
		}),
		EmailsSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "email",
				Name:      "sent_total",
				Help:      "Notification emails, by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Nop returns metrics registered on a private registry, for callers that do
// not export them.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}
