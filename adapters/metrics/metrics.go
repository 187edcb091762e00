// Package metrics provides Prometheus metrics collection for quotagate.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/shrinkix/quotagate/domain/account"
	"github.com/shrinkix/quotagate/ports"
)

const namespace = "quotagate"

// Collector holds all Prometheus metrics for quotagate.
type Collector struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Auth metrics
	AuthFailures *prometheus.CounterVec

	// Quota metrics
	QuotaDecisions *prometheus.CounterVec
	UsageDebits    *prometheus.CounterVec
	CycleResets    *prometheus.CounterVec
	GuestRequests  *prometheus.CounterVec

	// Credit metrics
	CreditPurchases *prometheus.CounterVec
	CreditsGranted  *prometheus.CounterVec

	// Engine metrics
	EngineDuration *prometheus.HistogramVec
	EngineErrors   *prometheus.CounterVec

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a new metrics collector registered with the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of requests processed",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "path", "status"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "requests_in_flight",
				Help:      "Number of requests currently being processed",
			},
		),

		AuthFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "Total number of authentication failures",
			},
			[]string{"reason"},
		),

		QuotaDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quota_decisions_total",
				Help:      "Quota evaluations by plan and outcome",
			},
			[]string{"plan_id", "outcome"},
		),
		UsageDebits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "usage_debits_total",
				Help:      "Recorded requests by plan and the pool they were charged to",
			},
			[]string{"plan_id", "pool"},
		),
		CycleResets: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycle_resets_total",
				Help:      "Persisted cycle resets by cadence and trigger",
			},
			[]string{"cadence", "source"},
		),
		GuestRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "guest_requests_total",
				Help:      "Anonymous requests by outcome",
			},
			[]string{"outcome"},
		),

		CreditPurchases: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credit_purchases_total",
				Help:      "Granted add-on purchases",
			},
			[]string{"addon"},
		),
		CreditsGranted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credits_granted_total",
				Help:      "Add-on credits granted",
			},
			[]string{"addon"},
		),

		EngineDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "engine_duration_seconds",
				Help:      "Image engine processing duration in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"engine", "status"},
		),
		EngineErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engine_errors_total",
				Help:      "Image engine failures",
			},
			[]string{"engine"},
		),

		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}

// QuotaDecision records the outcome of a quota evaluation.
func (c *Collector) QuotaDecision(planID, outcome string) {
	c.QuotaDecisions.WithLabelValues(planID, outcome).Inc()
}

// UsageDebit records which pool a request was charged to.
func (c *Collector) UsageDebit(planID string, pool account.Pool) {
	c.UsageDebits.WithLabelValues(planID, string(pool)).Inc()
}

// CreditPurchase records a granted add-on.
func (c *Collector) CreditPurchase(addon string, credits int64) {
	c.CreditPurchases.WithLabelValues(addon).Inc()
	c.CreditsGranted.WithLabelValues(addon).Add(float64(credits))
}

// CycleReset records a persisted reset.
func (c *Collector) CycleReset(cadence, source string) {
	c.CycleResets.WithLabelValues(cadence, source).Inc()
}

// AuthFailure records a rejected credential.
func (c *Collector) AuthFailure(reason string) {
	c.AuthFailures.WithLabelValues(reason).Inc()
}

// GuestRequest records an anonymous admission.
func (c *Collector) GuestRequest(outcome string) {
	c.GuestRequests.WithLabelValues(outcome).Inc()
}

// EngineCall records one image engine invocation.
func (c *Collector) EngineCall(engine, status string, d time.Duration) {
	c.EngineDuration.WithLabelValues(engine, status).Observe(d.Seconds())
	if status != "ok" {
		c.EngineErrors.WithLabelValues(engine).Inc()
	}
}

var _ ports.Metrics = (*Collector)(nil)
