package sensordb

import (
	"context"
	"time"

	"github.com/sensordb/sensordb/sensordb/partition"
)

// RawQuery is the facade for full-fidelity reads: tier pinned to raw, one
// second buckets, last as the reduction so stored values survive untouched,
// and the absolute point ceiling as the budget.
//
// When the naive point count would blow the ceiling the window is truncated
// up front to start + ceiling/|sensors| seconds, which keeps the fan-out from
// enumerating partitions nobody will receive.
func (e *Engine) RawQuery(ctx context.Context, sensors, assets []string, start, end time.Time) (*Result, error) {
	maxPoints := e.cfg.MaxAbsoluteDatapoints

	truncated := false
	if n := len(sensors); n > 0 {
		budgetSeconds := maxPoints / n
		if int(end.Sub(start)/time.Second) > budgetSeconds {
			end = start.Add(time.Duration(budgetSeconds) * time.Second)
			truncated = true
		}
	}

	res, err := e.query(ctx, Query{
		Sensors:       sensors,
		Assets:        assets,
		Start:         start,
		End:           end,
		IntervalMS:    1000,
		MaxDatapoints: maxPoints,
		Aggregation:   "last",
	}, partition.TierRaw)
	if err != nil {
		return nil, err
	}

	if truncated {
		res.Truncated = true
		if res.ActualEndTime.IsZero() {
			res.ActualEndTime = end
		}
	}
	return res, nil
}
