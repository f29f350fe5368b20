// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PaymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peerpay_payments_total",
			Help: "Terminal payment outcomes by recipient kind and status",
		},
		[]string{"kind", "status"},
	)

	SettlementAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peerpay_settlement_attempts_total",
			Help: "Settlement attempts per payment method and result",
		},
		[]string{"method", "result"},
	)

	SettlementDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "peerpay_settlement_duration_seconds",
			Help:    "Latency of a single settlement attempt",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method"},
	)

	ReservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peerpay_reservations_total",
			Help: "Spending limit reservation transitions",
		},
		[]string{"scope", "outcome"},
	)

	ResolverDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "peerpay_resolver_degraded_total",
		Help: "Method resolutions that fell back to the first discovered method",
	})

	ReceiptPersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "peerpay_receipt_persist_failures_total",
		Help: "Receipts that could not be written to the durable store",
	})

	PendingSettlements = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "peerpay_pending_settlements",
		Help: "Settlement requests awaiting an engine callback",
	})

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peerpay_http_requests_total",
			Help: "HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "peerpay_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	ConfirmationChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peerpay_confirmation_checks_total",
			Help: "On-chain confirmation polls by result",
		},
		[]string{"result"},
	)

	EventsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peerpay_events_handled_total",
			Help: "Event handler invocations by event type and outcome",
		},
		[]string{"event_type", "outcome"},
	)
)

func ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func Handler() http.Handler {
	return promhttp.Handler()
}
