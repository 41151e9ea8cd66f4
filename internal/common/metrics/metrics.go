// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SweepTicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sweep_ticks_total",
			Help: "Total number of expiration sweep ticks executed",
		},
	)

	SweepTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "sweep_tick_duration_seconds",
			Help: "Duration of a full sweep tick in seconds",
		},
	)

	SweepItemFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_item_failures_total",
			Help: "Total number of per-quote evaluation failures",
		},
		[]string{"error_code"},
	)

	QuotesExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quotes_expired_total",
			Help: "Total number of quote responses transitioned to expired",
		},
	)

	ExpiryWarningsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quote_expiry_warnings_total",
			Help: "Total number of expiring-soon warnings marked",
		},
	)

	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_created_total",
			Help: "Total number of notification records created",
		},
		[]string{"event"},
	)

	DeliveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_delivery_failures_total",
			Help: "Total number of delivery gateway failures",
		},
		[]string{"channel"},
	)
)
