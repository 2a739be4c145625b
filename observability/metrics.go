package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GatewayMetrics captures the operational signals of the mint gateway:
// eligibility verdicts, upstream provider calls, allowlist writes, tree
// rebuilds, and notification deliveries.
type GatewayMetrics struct {
	checks        *prometheus.CounterVec
	checkLatency  prometheus.Histogram
	providerCalls *prometheus.CounterVec
	adds          prometheus.Counter
	rebuilds      prometheus.Counter
	notifications *prometheus.CounterVec
}

var (
	gatewayOnce     sync.Once
	gatewayRegistry *GatewayMetrics
)

// Gateway returns the lazily-initialised singleton metrics registry.
func Gateway() *GatewayMetrics {
	gatewayOnce.Do(func() {
		gatewayRegistry = &GatewayMetrics{
			checks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mintgate",
				Subsystem: "eligibility",
				Name:      "checks_total",
				Help:      "Count of eligibility aggregations segmented by verdict.",
			}, []string{"outcome"}),
			checkLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "mintgate",
				Subsystem: "eligibility",
				Name:      "check_duration_seconds",
				Help:      "Latency distribution for full eligibility aggregations.",
				Buckets:   prometheus.DefBuckets,
			}),
			providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mintgate",
				Subsystem: "provider",
				Name:      "calls_total",
				Help:      "Count of upstream provider calls segmented by provider and outcome.",
			}, []string{"provider", "outcome"}),
			adds: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "mintgate",
				Subsystem: "allowlist",
				Name:      "adds_total",
				Help:      "Count of addresses newly committed to the allowlist set.",
			}),
			rebuilds: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "mintgate",
				Subsystem: "allowlist",
				Name:      "tree_rebuilds_total",
				Help:      "Count of Merkle tree rebuilds triggered by stale cache reads.",
			}),
			notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mintgate",
				Subsystem: "notify",
				Name:      "sends_total",
				Help:      "Count of push notification attempts segmented by result.",
			}, []string{"result"}),
		}
		prometheus.MustRegister(
			gatewayRegistry.checks,
			gatewayRegistry.checkLatency,
			gatewayRegistry.providerCalls,
			gatewayRegistry.adds,
			gatewayRegistry.rebuilds,
			gatewayRegistry.notifications,
		)
	})
	return gatewayRegistry
}

// RecordCheck records one completed aggregation. Outcome should be a stable
// string such as "eligible", "ineligible", or "error".
func (m *GatewayMetrics) RecordCheck(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.checks.WithLabelValues(outcome).Inc()
	m.checkLatency.Observe(duration.Seconds())
}

// RecordProviderCall records one upstream provider round trip.
func (m *GatewayMetrics) RecordProviderCall(provider string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.providerCalls.WithLabelValues(provider, outcome).Inc()
}

// RecordAllowlistAdd counts a genuine insert into the member set.
func (m *GatewayMetrics) RecordAllowlistAdd() {
	if m == nil {
		return
	}
	m.adds.Inc()
}

// RecordTreeRebuild counts a Merkle cache rebuild.
func (m *GatewayMetrics) RecordTreeRebuild() {
	if m == nil {
		return
	}
	m.rebuilds.Inc()
}

// RecordNotification records a notification attempt result such as
// "delivered", "deduplicated", "token_invalid", "rate_limited", or "error".
func (m *GatewayMetrics) RecordNotification(result string) {
	if m == nil {
		return
	}
	if result == "" {
		result = "unknown"
	}
	m.notifications.WithLabelValues(result).Inc()
}
