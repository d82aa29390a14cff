package sync

import "github.com/prometheus/client_golang/prometheus"

var (
	refreshCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity_sync",
		Subsystem: "refresh",
		Name:      "completed_total",
		Help:      "Number of completed refreshes, labeled by serving source.",
	}, []string{"source"})

	refreshFallbackCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "activity_sync",
		Subsystem: "refresh",
		Name:      "provider_fallbacks_total",
		Help:      "Number of refreshes that fell back to the cache because the provider list call failed.",
	})

	enrichmentCallsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "activity_sync",
		Subsystem: "enrichment",
		Name:      "detail_calls_total",
		Help:      "Number of per-activity detail calls issued against the provider.",
	})

	enrichmentFailureCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "activity_sync",
		Subsystem: "enrichment",
		Name:      "detail_failures_total",
		Help:      "Number of detail calls that failed and were skipped.",
	})

	throttleStopCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "activity_sync",
		Subsystem: "enrichment",
		Name:      "throttle_stops_total",
		Help:      "Number of refreshes whose enrichment phase was cut short by provider throttling.",
	})

	rateLimitUsageGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "activity_sync",
		Subsystem: "provider",
		Name:      "rate_limit_usage",
		Help:      "Most recent short-window rate-limit usage reported by the provider.",
	})

	rateLimitLimitGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "activity_sync",
		Subsystem: "provider",
		Name:      "rate_limit_limit",
		Help:      "Most recent short-window rate-limit ceiling reported by the provider.",
	})
)

func init() {
	prometheus.MustRegister(refreshCounter, refreshFallbackCounter, enrichmentCallsCounter,
		enrichmentFailureCounter, throttleStopCounter, rateLimitUsageGauge, rateLimitLimitGauge)
}

func recordRateLimit(usage, limit int) {
	if limit <= 0 {
		return
	}
	rateLimitUsageGauge.Set(float64(usage))
	rateLimitLimitGauge.Set(float64(limit))
}
