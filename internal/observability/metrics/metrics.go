package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Config labels every series with the running service.
type Config struct {
	ServiceName string
	Environment string
}

// Outcome labels shared by the claim, checkout and webhook counters.
const (
	OutcomeSuccess    = "success"
	OutcomeConflict   = "conflict"
	OutcomeRejected   = "rejected"
	OutcomeIdempotent = "idempotent"
	OutcomeIgnored    = "ignored"
	OutcomeMismatch   = "amount_mismatch"
	OutcomeError      = "error"
)

// Metrics exposes the package lifecycle instruments.
type Metrics struct {
	claims        *prometheus.CounterVec
	checkouts     *prometheus.CounterVec
	webhooks      *prometheus.CounterVec
	txRetries     *prometheus.CounterVec
	rateLimited   *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	checkoutValue *prometheus.HistogramVec
}

func New(cfg Config, registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "packclaim"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{"service": serviceName, "env": environment}

	m := &Metrics{
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "packclaim_claims_total",
			Help:        "Claim attempts by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "packclaim_checkout_sessions_total",
			Help:        "Checkout session requests by payment type and outcome.",
			ConstLabels: constLabels,
		}, []string{"payment_type", "outcome"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "packclaim_webhooks_total",
			Help:        "Payment notifications by event type and outcome.",
			ConstLabels: constLabels,
		}, []string{"event_type", "outcome"}),
		txRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "packclaim_tx_retries_total",
			Help:        "Transactions re-run after a transient storage failure.",
			ConstLabels: constLabels,
		}, []string{"operation"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "packclaim_rate_limit_total",
			Help:        "Rate limiter decisions by endpoint.",
			ConstLabels: constLabels,
		}, []string{"endpoint", "decision"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "packclaim_http_requests_total",
			Help:        "HTTP requests by route, method and status.",
			ConstLabels: constLabels,
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "packclaim_http_request_duration_seconds",
			Help:        "HTTP request latency by route.",
			ConstLabels: constLabels,
			Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"route", "method"}),
		checkoutValue: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "packclaim_checkout_amount_minor",
			Help:        "Amounts quoted to the payment processor, in minor units.",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(10_000, 2, 10),
		}, []string{"payment_type"}),
	}

	registerer.MustRegister(
		m.claims,
		m.checkouts,
		m.webhooks,
		m.txRetries,
		m.rateLimited,
		m.httpRequests,
		m.httpDuration,
		m.checkoutValue,
	)
	return m
}

// NewForTest registers on a private registry so tests can build many instances.
func NewForTest() *Metrics {
	return New(Config{ServiceName: "packclaim", Environment: "test"}, prometheus.NewRegistry())
}

func (m *Metrics) RecordClaim(outcome string) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordCheckout(paymentType, outcome string, amount int64) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(paymentType, outcome).Inc()
	if outcome == OutcomeSuccess && amount > 0 {
		m.checkoutValue.WithLabelValues(paymentType).Observe(float64(amount))
	}
}

func (m *Metrics) RecordWebhook(eventType, outcome string) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.webhooks.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) RecordTxRetry(operation string) {
	if m == nil {
		return
	}
	m.txRetries.WithLabelValues(operation).Inc()
}

func (m *Metrics) RecordRateLimit(endpoint string, allowed bool) {
	if m == nil {
		return
	}
	decision := "allowed"
	if !allowed {
		decision = "denied"
	}
	m.rateLimited.WithLabelValues(endpoint, decision).Inc()
}

// GinMiddleware records request counts and latency keyed by route template.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if m == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		m.httpRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}
