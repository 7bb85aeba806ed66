package sensordb

import (
	"time"

	"github.com/pkg/errors"

	"github.com/sensordb/sensordb/sensordb/aggregate"
	"github.com/sensordb/sensordb/sensordb/encoding"
)

// ErrInvalidQuery marks validation failures, the only error surface a caller
// sees. Everything else degrades to an empty result with tier "error".
var ErrInvalidQuery = errors.New("invalid query")

// Query is a request for measurements over a half-open time range.
type Query struct {
	Sensors []string
	// Assets restricts the asset set. nil means all assets.
	Assets []string
	Start  time.Time
	End    time.Time
	// IntervalMS is the bucket width. Zero derives it from the window and
	// the point budget.
	IntervalMS int64
	// MaxDatapoints is the point budget. Zero uses the configured default;
	// values above the absolute ceiling are clamped.
	MaxDatapoints int
	// Aggregation names the reduction. Unknown names coerce to avg.
	Aggregation string
}

func (q *Query) duration() time.Duration {
	return q.End.Sub(q.Start)
}

func (q *Query) interval() time.Duration {
	return time.Duration(q.IntervalMS) * time.Millisecond
}

// normalize validates q and fills derived fields in place.
func (q *Query) normalize(cfg *Config) error {
	if len(q.Sensors) == 0 {
		return errors.Wrap(ErrInvalidQuery, "no sensors given")
	}
	if !q.End.After(q.Start) {
		return errors.Wrap(ErrInvalidQuery, "end must be after start")
	}
	if q.duration() > cfg.maxQueryDuration() {
		return errors.Wrapf(ErrInvalidQuery, "duration %s exceeds the %dh limit", q.duration(), cfg.MaxQueryDurationHours)
	}

	q.Start = q.Start.UTC()
	q.End = q.End.UTC()
	q.Aggregation = string(aggregate.NormalizeMethod(q.Aggregation))

	if q.MaxDatapoints <= 0 {
		q.MaxDatapoints = cfg.DefaultMaxDatapoints
	}
	if q.MaxDatapoints > cfg.MaxAbsoluteDatapoints {
		q.MaxDatapoints = cfg.MaxAbsoluteDatapoints
	}

	if q.IntervalMS <= 0 {
		q.IntervalMS = aggregate.OptimalInterval(q.duration(), q.MaxDatapoints).Milliseconds()
	}
	return nil
}

// Result carries the data plus execution metadata.
type Result struct {
	Data            *encoding.Batch
	TierUsed        string
	CacheHit        bool
	ExecutionTimeMS int64
	Truncated       bool
	ActualEndTime   time.Time
	// OriginalDatapoints is the row count before the budget was enforced.
	OriginalDatapoints int
	Error              string
}

// Count returns the number of rows in the result.
func (r *Result) Count() int {
	return r.Data.Len()
}

const (
	tierUsedCache = "cache"
	tierUsedError = "error"
)
