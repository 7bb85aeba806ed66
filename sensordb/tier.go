package sensordb

import (
	"time"

	"github.com/sensordb/sensordb/sensordb/partition"
)

// selectTier picks the preferred granularity for a window by the configured
// duration thresholds.
func (e *Engine) selectTier(duration time.Duration) partition.Tier {
	hours := duration.Hours()
	switch {
	case hours <= float64(e.cfg.RawTierMaxHours):
		return partition.TierRaw
	case hours <= float64(e.cfg.AggregatedTierMaxHours):
		return partition.TierAggregated
	default:
		return partition.TierDaily
	}
}

// tierOrder is the attempt sequence: the preferred tier first, then the
// remaining tiers in the fixed raw, aggregated, daily order.
func tierOrder(preferred partition.Tier) []partition.Tier {
	order := []partition.Tier{preferred}
	for _, t := range partition.Tiers {
		if t != preferred {
			order = append(order, t)
		}
	}
	return order
}
