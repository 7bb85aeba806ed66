package aggregate

import "time"

// The standard interval ladder. Smart aggregation and the facades snap
// derived intervals up to one of these so buckets stay human-aligned.
var intervalLadder = []time.Duration{
	time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
	time.Minute,
	5 * time.Minute,
	10 * time.Minute,
	30 * time.Minute,
	time.Hour,
}

// extendedLadder adds the coarse steps used by the aggregated engine for
// multi-week windows.
var extendedLadder = append(intervalLadder[:len(intervalLadder):len(intervalLadder)],
	2*time.Hour,
	4*time.Hour,
	6*time.Hour,
	12*time.Hour,
	24*time.Hour,
)

func requiredInterval(duration time.Duration, maxPoints int) time.Duration {
	if maxPoints <= 0 {
		return duration
	}
	req := duration / time.Duration(maxPoints)
	if duration%time.Duration(maxPoints) != 0 {
		req++
	}
	return req
}

// OptimalInterval returns the smallest ladder interval that keeps the point
// count of a window under maxPoints, falling through to the exact required
// interval past the top of the ladder.
func OptimalInterval(duration time.Duration, maxPoints int) time.Duration {
	return chooseFromLadder(intervalLadder, duration, maxPoints, 0)
}

// ChooseInterval is OptimalInterval with a target floor: the result never
// drops below target even when the budget would allow it.
func ChooseInterval(duration time.Duration, maxPoints int, target time.Duration) time.Duration {
	return chooseFromLadder(intervalLadder, duration, maxPoints, target)
}

// OptimalIntervalExtended is the aggregated engine's variant: the extended
// ladder with a one minute floor.
func OptimalIntervalExtended(duration time.Duration, maxPoints int) time.Duration {
	iv := chooseFromLadder(extendedLadder, duration, maxPoints, 0)
	if iv < time.Minute {
		iv = time.Minute
	}
	return iv
}

func chooseFromLadder(ladder []time.Duration, duration time.Duration, maxPoints int, target time.Duration) time.Duration {
	req := requiredInterval(duration, maxPoints)
	if req < target {
		req = target
	}
	for _, l := range ladder {
		if l >= req {
			return l
		}
	}
	return req
}
