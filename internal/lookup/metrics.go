package lookup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_lookups_total",
			Help: "Price lookups by outcome (cache, upstream or failure reason)",
		},
		[]string{"outcome"},
	)

	upstreamFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "price_upstream_fetch_duration_seconds",
			Help:    "Duration of upstream price fetches in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	bestEffortFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_best_effort_failures_total",
			Help: "Cache reads and cache/audit writes that failed without failing the lookup",
		},
		[]string{"step"},
	)
)
