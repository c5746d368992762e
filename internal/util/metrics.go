package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PaymentAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_attempts_total",
		Help: "Total number of payment attempts",
	}, []string{"provider"})

	PaymentSuccessTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_success_total",
		Help: "Total number of successful payments",
	}, []string{"provider"})

	PaymentFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_failed_total",
		Help: "Total number of failed payments",
	}, []string{"provider", "reason"})

	PaymentsRefundedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_refunded_total",
		Help: "Total number of refunded payments",
	}, []string{"provider"})

	PaymentsCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_cancelled_total",
		Help: "Total number of cancelled payments",
	})

	ConfirmationsIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "amount_confirmations_issued_total",
		Help: "Total number of amount-confirmation tokens issued",
	})

	ConfirmationFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "amount_confirmation_failures_total",
		Help: "Total number of rejected confirmation validations",
	}, []string{"reason"})

	RateLimitRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_rate_limit_rejections_total",
		Help: "Total number of payment attempts rejected by the attempt limit",
	})

	SuspiciousActivityTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "suspicious_activity_events_total",
		Help: "Total number of suspicious-activity audit events",
	})

	WebhooksReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_webhooks_received_total",
		Help: "Total number of provider webhook notifications received",
	}, []string{"provider"})

	PaymentProcessingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_processing_latency_seconds",
		Help:    "Latency of payment processing",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
