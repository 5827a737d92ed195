package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the API.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	externalErrors  *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	signIns         *prometheus.CounterVec
	pushDeliveries  *prometheus.CounterVec
	pushRegistered  prometheus.Counter
	prunedSubs      prometheus.Counter
	feedPolls       *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trampoja_request_duration_seconds",
				Help:    "Duration of requests by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trampoja_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trampoja_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trampoja_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		signIns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trampoja_sign_ins_total",
				Help: "Total sign-in attempts by outcome.",
			},
			[]string{"outcome"},
		),
		pushDeliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trampoja_push_deliveries_total",
				Help: "Total push deliveries by outcome.",
			},
			[]string{"outcome"},
		),
		pushRegistered: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "trampoja_push_registrations_total",
				Help: "Total device registrations with the push provider.",
			},
		),
		prunedSubs: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "trampoja_push_subscriptions_pruned_total",
				Help: "Total push subscriptions pruned after the transport reported them gone.",
			},
		),
		feedPolls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trampoja_feed_polls_total",
				Help: "Total realtime change-feed polls by table.",
			},
			[]string{"table"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrSignIn increments the sign-in counter with an outcome label
// (success, blocked, invalid, error).
func (m *Metrics) IncrSignIn(outcome string) {
	m.signIns.WithLabelValues(outcome).Inc()
}

// IncrPushDelivery increments the push delivery counter (sent, failed).
func (m *Metrics) IncrPushDelivery(outcome string) {
	m.pushDeliveries.WithLabelValues(outcome).Inc()
}

// IncrPushRegistration counts a successful device registration.
func (m *Metrics) IncrPushRegistration() {
	m.pushRegistered.Inc()
}

// IncrPrunedSubscription counts a pruned push subscription.
func (m *Metrics) IncrPrunedSubscription() {
	m.prunedSubs.Inc()
}

// IncrFeedPoll counts one change-feed poll against a table.
func (m *Metrics) IncrFeedPoll(table string) {
	m.feedPolls.WithLabelValues(table).Inc()
}

// AuthSnapshot is a point-in-time view of auth counters for the
// GET /v1/metrics/auth endpoint.
type AuthSnapshot struct {
	SignInsSuccess float64 `json:"signInsSuccess"`
	SignInsBlocked float64 `json:"signInsBlocked"`
	SignInsInvalid float64 `json:"signInsInvalid"`
	PushRegistered float64 `json:"pushRegistrations"`
	PushSent       float64 `json:"pushSent"`
	PushFailed     float64 `json:"pushFailed"`
}

// GetAuthSnapshot gathers current counter values.
// Prometheus counters expose cumulative values.
func (m *Metrics) GetAuthSnapshot() *AuthSnapshot {
	return &AuthSnapshot{
		SignInsSuccess: getCounterValue(m.signIns, "success"),
		SignInsBlocked: getCounterValue(m.signIns, "blocked"),
		SignInsInvalid: getCounterValue(m.signIns, "invalid"),
		PushRegistered: getPlainCounterValue(m.pushRegistered),
		PushSent:       getCounterValue(m.pushDeliveries, "sent"),
		PushFailed:     getCounterValue(m.pushDeliveries, "failed"),
	}
}

func getCounterValue(vec *prometheus.CounterVec, label string) float64 {
	c, err := vec.GetMetricWithLabelValues(label)
	if err != nil {
		return 0
	}
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		return 0
	}
	return metric.GetCounter().GetValue()
}

func getPlainCounterValue(c prometheus.Counter) float64 {
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		return 0
	}
	return metric.GetCounter().GetValue()
}
