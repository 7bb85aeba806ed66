package partition

import "time"

// Tier identifies one of the three storage granularities.
type Tier string

const (
	TierRaw        Tier = "raw"
	TierAggregated Tier = "aggregated"
	TierDaily      Tier = "daily"
)

// Tiers is the fixed fallback order for query execution.
var Tiers = []Tier{TierRaw, TierAggregated, TierDaily}

func (t Tier) Valid() bool {
	switch t {
	case TierRaw, TierAggregated, TierDaily:
		return true
	}
	return false
}

// Prefix is the path segment in front of the asset directory. Raw partitions
// live at the container root.
func (t Tier) Prefix() string {
	switch t {
	case TierAggregated:
		return "aggregated"
	case TierDaily:
		return "daily"
	}
	return ""
}

// Floor truncates ts to the tier's partition granularity.
func (t Tier) Floor(ts time.Time) time.Time {
	ts = ts.UTC()
	switch t {
	case TierRaw:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), 0, 0, 0, time.UTC)
	case TierAggregated:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
}

// Next advances ts by one partition step. Rollover is calendar-correct.
func (t Tier) Next(ts time.Time) time.Time {
	switch t {
	case TierRaw:
		return ts.Add(time.Hour)
	case TierAggregated:
		return ts.AddDate(0, 0, 1)
	default:
		return ts.AddDate(0, 1, 0)
	}
}

// Walk returns the partition step times covering [start, end).
func (t Tier) Walk(start, end time.Time) []time.Time {
	var steps []time.Time
	for cur := t.Floor(start); cur.Before(end); cur = t.Next(cur) {
		steps = append(steps, cur)
	}
	return steps
}

// PreTier identifies a pre-computed aggregate file family consumed by the
// aggregated engine. Minute files sit in hour directories of the aggregated
// tier, hour files in its day directories, day files in the daily tier's
// month directories.
type PreTier string

const (
	PreMinute PreTier = "minute"
	PreHour   PreTier = "hour"
	PreDay    PreTier = "day"
)

func (p PreTier) prefix() string {
	if p == PreDay {
		return "daily"
	}
	return "aggregated"
}

// BucketColumn is the timestamp stand-in column written by the rebuilder for
// this family, e.g. "minute_bucket".
func (p PreTier) BucketColumn() string {
	return string(p) + "_bucket"
}

func (p PreTier) Floor(ts time.Time) time.Time {
	ts = ts.UTC()
	switch p {
	case PreMinute:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), 0, 0, 0, time.UTC)
	case PreHour:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
}

func (p PreTier) Next(ts time.Time) time.Time {
	switch p {
	case PreMinute:
		return ts.Add(time.Hour)
	case PreHour:
		return ts.AddDate(0, 0, 1)
	default:
		return ts.AddDate(0, 1, 0)
	}
}

func (p PreTier) Walk(start, end time.Time) []time.Time {
	var steps []time.Time
	for cur := p.Floor(start); cur.Before(end); cur = p.Next(cur) {
		steps = append(steps, cur)
	}
	return steps
}
