package aggregate

import (
	"math"
	"strings"
	"time"

	"github.com/sensordb/sensordb/sensordb/encoding"
)

// Sensor name tokens whose values are discrete codes. Averaging a state code
// produces nonsense, so these force the last reduction.
var discreteTokens = []string{"status", "state", "mode", "alarm"}

const (
	cvStableThreshold = 0.1
	cvMinDuration     = time.Hour
)

// SmartMethod picks the reduction for post-processing. Discrete sensors force
// last; otherwise stable signals (low coefficient of variation over long
// windows) settle on avg, as does everything else by default.
func SmartMethod(requested Method, sensors []string, b *encoding.Batch, duration time.Duration) Method {
	for _, s := range sensors {
		name := strings.ToLower(s)
		for _, tok := range discreteTokens {
			if strings.Contains(name, tok) {
				return MethodLast
			}
		}
	}

	if requested == "" {
		requested = MethodAvg
	}

	if duration >= cvMinDuration {
		if cv, ok := coefficientOfVariation(b); ok && cv < cvStableThreshold {
			return MethodAvg
		}
	}
	return requested
}

// coefficientOfVariation computes sigma/|mu| of the first numeric column,
// skipping NaN. ok is false when there are not enough finite values or the
// mean is zero.
func coefficientOfVariation(b *encoding.Batch) (float64, bool) {
	if b == nil {
		return 0, false
	}
	numeric := b.NumericColumnNames()
	if len(numeric) == 0 {
		return 0, false
	}
	col, _ := b.Column(numeric[0])

	var sum float64
	n := 0
	for _, v := range col.Numbers {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n < 2 {
		return 0, false
	}
	mean := sum / float64(n)
	if mean == 0 {
		return 0, false
	}

	var sq float64
	for _, v := range col.Numbers {
		if math.IsNaN(v) {
			continue
		}
		d := v - mean
		sq += d * d
	}
	sigma := math.Sqrt(sq / float64(n))
	return sigma / math.Abs(mean), true
}
