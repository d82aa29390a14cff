package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	batchPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "activity_sync",
		Subsystem: "persistence",
		Name:      "last_batch_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent refresh batch persisted to Postgres.",
	})
	cacheHitCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "activity_sync",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Number of cached-mode reads served from the store.",
	})
	cacheMissCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "activity_sync",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Number of cached-mode reads that found no rows for the window.",
	})
)

func init() {
	prometheus.MustRegister(batchPersistGauge, cacheHitCounter, cacheMissCounter)
}

// RecordBatchPersisted updates the persistence watermark gauge.
func RecordBatchPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	batchPersistGauge.Set(float64(ts.Unix()))
}

// RecordCacheHit counts a cached read that returned rows.
func RecordCacheHit() {
	cacheHitCounter.Inc()
}

// RecordCacheMiss counts a cached read that found nothing.
func RecordCacheMiss() {
	cacheMissCounter.Inc()
}
