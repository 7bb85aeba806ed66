package sensordb

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"

	"github.com/sensordb/sensordb/sensordb/partition"
)

var (
	metricQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sensordb",
		Name:      "queries_total",
		Help:      "Total queries by the tier that served them.",
	}, []string{"tier"})
	metricQuerySeconds = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sensordb",
		Name:      "query_seconds_total",
		Help:      "Total wall time spent executing queries.",
	})
)

// Stats holds the engine's atomic counters.
type Stats struct {
	totalQueries *atomic.Int64
	cacheHits    *atomic.Int64
	totalExecMS  *atomic.Int64

	rawQueries        *atomic.Int64
	aggregatedQueries *atomic.Int64
	dailyQueries      *atomic.Int64
	cacheQueries      *atomic.Int64
	errorQueries      *atomic.Int64
}

func newStats() *Stats {
	return &Stats{
		totalQueries:      atomic.NewInt64(0),
		cacheHits:         atomic.NewInt64(0),
		totalExecMS:       atomic.NewInt64(0),
		rawQueries:        atomic.NewInt64(0),
		aggregatedQueries: atomic.NewInt64(0),
		dailyQueries:      atomic.NewInt64(0),
		cacheQueries:      atomic.NewInt64(0),
		errorQueries:      atomic.NewInt64(0),
	}
}

func (s *Stats) record(tier string, execMS int64) {
	s.totalQueries.Inc()
	s.totalExecMS.Add(execMS)

	switch tier {
	case string(partition.TierRaw):
		s.rawQueries.Inc()
	case string(partition.TierAggregated):
		s.aggregatedQueries.Inc()
	case string(partition.TierDaily):
		s.dailyQueries.Inc()
	case tierUsedCache:
		s.cacheQueries.Inc()
		s.cacheHits.Inc()
	default:
		s.errorQueries.Inc()
	}

	metricQueriesTotal.WithLabelValues(tier).Inc()
	metricQuerySeconds.Add(float64(execMS) / 1000)
}

// StatsSnapshot is the derived view handed to callers.
type StatsSnapshot struct {
	TotalQueries int64            `json:"total_queries"`
	CacheHits    int64            `json:"cache_hits"`
	CacheHitRate float64          `json:"cache_hit_rate"`
	AvgLatencyMS float64          `json:"avg_latency_ms"`
	TierUsage    map[string]int64 `json:"tier_usage"`
	TotalExecMS  int64            `json:"total_execution_time_ms"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	total := s.totalQueries.Load()
	snap := StatsSnapshot{
		TotalQueries: total,
		CacheHits:    s.cacheHits.Load(),
		TotalExecMS:  s.totalExecMS.Load(),
		TierUsage: map[string]int64{
			string(partition.TierRaw):        s.rawQueries.Load(),
			string(partition.TierAggregated): s.aggregatedQueries.Load(),
			string(partition.TierDaily):      s.dailyQueries.Load(),
			tierUsedCache:                    s.cacheQueries.Load(),
			tierUsedError:                    s.errorQueries.Load(),
		},
	}
	if total > 0 {
		snap.CacheHitRate = float64(snap.CacheHits) / float64(total)
		snap.AvgLatencyMS = float64(snap.TotalExecMS) / float64(total)
	}
	return snap
}
