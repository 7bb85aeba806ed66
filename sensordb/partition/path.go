package partition

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const fileExt = ".parquet"

// Path builds the partition object path for one (asset, sensor, step time).
//
//	raw         <asset>/YYYY/MM/DD/HH/<sensor>.parquet
//	aggregated  aggregated/<asset>/YYYY/MM/DD/<sensor>.parquet
//	daily       daily/<asset>/YYYY/MM/<sensor>.parquet
func Path(t Tier, asset, sensor string, ts time.Time) string {
	ts = ts.UTC()
	switch t {
	case TierRaw:
		return fmt.Sprintf("%s/%04d/%02d/%02d/%02d/%s%s",
			asset, ts.Year(), ts.Month(), ts.Day(), ts.Hour(), sensor, fileExt)
	case TierAggregated:
		return fmt.Sprintf("aggregated/%s/%04d/%02d/%02d/%s%s",
			asset, ts.Year(), ts.Month(), ts.Day(), sensor, fileExt)
	default:
		return fmt.Sprintf("daily/%s/%04d/%02d/%s%s",
			asset, ts.Year(), ts.Month(), sensor, fileExt)
	}
}

// PrePath builds the pre-computed aggregate path for one step time.
//
//	minute  aggregated/<asset>/YYYY/MM/DD/HH/<sensor>_minute.parquet
//	hour    aggregated/<asset>/YYYY/MM/DD/<sensor>_hour.parquet
//	day     daily/<asset>/YYYY/MM/<sensor>_day.parquet
func PrePath(p PreTier, asset, sensor string, ts time.Time) string {
	ts = ts.UTC()
	switch p {
	case PreMinute:
		return fmt.Sprintf("aggregated/%s/%04d/%02d/%02d/%02d/%s_minute%s",
			asset, ts.Year(), ts.Month(), ts.Day(), ts.Hour(), sensor, fileExt)
	case PreHour:
		return fmt.Sprintf("aggregated/%s/%04d/%02d/%02d/%s_hour%s",
			asset, ts.Year(), ts.Month(), ts.Day(), sensor, fileExt)
	default:
		return fmt.Sprintf("daily/%s/%04d/%02d/%s_day%s",
			asset, ts.Year(), ts.Month(), sensor, fileExt)
	}
}

// Info is what a partition path reveals without opening the file.
type Info struct {
	Tier   Tier
	Pre    PreTier // empty unless the path is a pre-computed aggregate file
	Asset  string
	Sensor string
	Time   time.Time // partition step time, hour resolution at best
}

// Parse extracts Info from a partition path. It returns false for paths that
// do not follow the grammar, which callers skip silently since stray objects
// are allowed to share the container.
func Parse(path string) (*Info, bool) {
	if !strings.HasSuffix(path, fileExt) {
		return nil, false
	}
	segs := strings.Split(strings.TrimSuffix(path, fileExt), "/")

	tier := TierRaw
	switch segs[0] {
	case "aggregated":
		tier = TierAggregated
		segs = segs[1:]
	case "daily":
		tier = TierDaily
		segs = segs[1:]
	}

	info := &Info{Tier: tier}
	var y, mo, d, h int

	switch {
	case tier == TierRaw && len(segs) == 6:
		// asset/YYYY/MM/DD/HH/sensor
		if !parseInts(segs[1:5], &y, &mo, &d, &h) {
			return nil, false
		}
		info.Time = time.Date(y, time.Month(mo), d, h, 0, 0, 0, time.UTC)
	case tier == TierAggregated && len(segs) == 6:
		// asset/YYYY/MM/DD/HH/sensor_minute
		if !parseInts(segs[1:5], &y, &mo, &d, &h) {
			return nil, false
		}
		sensor, ok := strings.CutSuffix(segs[5], "_minute")
		if !ok {
			return nil, false
		}
		segs[5] = sensor
		info.Pre = PreMinute
		info.Time = time.Date(y, time.Month(mo), d, h, 0, 0, 0, time.UTC)
	case tier == TierAggregated && len(segs) == 5:
		// asset/YYYY/MM/DD/sensor or .../sensor_hour
		if !parseInts(segs[1:4], &y, &mo, &d) {
			return nil, false
		}
		if sensor, ok := strings.CutSuffix(segs[4], "_hour"); ok {
			segs[4] = sensor
			info.Pre = PreHour
		}
		info.Time = time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
	case tier == TierDaily && len(segs) == 4:
		// asset/YYYY/MM/sensor or .../sensor_day
		if !parseInts(segs[1:3], &y, &mo) {
			return nil, false
		}
		if sensor, ok := strings.CutSuffix(segs[3], "_day"); ok {
			segs[3] = sensor
			info.Pre = PreDay
		}
		info.Time = time.Date(y, time.Month(mo), 1, 0, 0, 0, 0, time.UTC)
	default:
		return nil, false
	}

	info.Asset = segs[0]
	info.Sensor = segs[len(segs)-1]
	if info.Asset == "" || info.Sensor == "" {
		return nil, false
	}
	return info, true
}

func parseInts(segs []string, out ...*int) bool {
	if len(segs) != len(out) {
		return false
	}
	for i, s := range segs {
		n := 0
		if len(s) == 0 {
			return false
		}
		for _, r := range s {
			if r < '0' || r > '9' {
				return false
			}
			n = n*10 + int(r-'0')
		}
		*out[i] = n
	}
	return true
}

// MineSensors returns the sorted set of sensor names visible in paths.
// Pre-computed aggregate files count: Parse already strips their family
// suffix, and a sensor that only survives as pre-aggregates must still be
// discoverable.
func MineSensors(paths []string) []string {
	return mine(paths, func(info *Info) string { return info.Sensor })
}

// MineAssets returns the sorted set of asset ids visible in paths.
func MineAssets(paths []string) []string {
	return mine(paths, func(info *Info) string { return info.Asset })
}

func mine(paths []string, field func(*Info) string) []string {
	set := make(map[string]struct{})
	for _, p := range paths {
		info, ok := Parse(p)
		if !ok {
			continue
		}
		set[field(info)] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// TimeRange reports the min and max partition step times among paths whose
// sensor is in the given set (nil set = all sensors).
func TimeRange(paths []string, sensors map[string]struct{}) (min, max time.Time, ok bool) {
	for _, p := range paths {
		info, parsed := Parse(p)
		if !parsed || info.Pre != "" {
			continue
		}
		if sensors != nil {
			if _, want := sensors[info.Sensor]; !want {
				continue
			}
		}
		if !ok {
			min, max, ok = info.Time, info.Time, true
			continue
		}
		if info.Time.Before(min) {
			min = info.Time
		}
		if info.Time.After(max) {
			max = info.Time
		}
	}
	return min, max, ok
}
