package aggregate

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/sensordb/sensordb/sensordb/encoding"
)

// every companion suffix a pre-computed aggregate file may carry
var companionSuffixes = []string{"_mean", "_min", "_max", "_first", "_last", "_count", "_sum"}

// CreatePreAggregated buckets raw rows at interval and emits, per metric
// column, the mean under the original name plus _min and _max companions.
// This is the partition layout the rebuilder writes for the aggregated tiers.
func CreatePreAggregated(b *encoding.Batch, interval time.Duration) (*encoding.Batch, error) {
	avg, err := ByInterval(b, interval, MethodAvg)
	if err != nil {
		return nil, errors.Wrap(err, "pre-aggregating means")
	}
	if avg.IsEmpty() {
		return avg, nil
	}
	// ByInterval sorted b in place, so min/max group rows align with avg
	min, err := ByInterval(b, interval, MethodMin)
	if err != nil {
		return nil, errors.Wrap(err, "pre-aggregating minimums")
	}
	max, err := ByInterval(b, interval, MethodMax)
	if err != nil {
		return nil, errors.Wrap(err, "pre-aggregating maximums")
	}

	for _, name := range avg.NumericColumnNames() {
		minCol, _ := min.Column(name)
		maxCol, _ := max.Column(name)

		dst := avg.AddColumn(name+"_min", encoding.TypeNumber)
		dst.Numbers = append(dst.Numbers[:0], minCol.Numbers...)
		dst = avg.AddColumn(name+"_max", encoding.TypeNumber)
		dst.Numbers = append(dst.Numbers[:0], maxCol.Numbers...)
	}
	return avg, nil
}

// ExtractPreAggregated rewrites a pre-computed aggregate batch into the plain
// measurement shape: the bucket column becomes the timestamp and the
// <col>_<method> companion becomes <col>. Companions for other methods are
// dropped. Batches without companions pass through unchanged, which covers
// rebuilder output where the plain column already holds the mean.
func ExtractPreAggregated(b *encoding.Batch, method Method, bucketCol string) *encoding.Batch {
	if b == nil || b.IsEmpty() {
		return b
	}

	if bucketCol != "" && b.HasColumn(bucketCol) {
		if b.HasColumn(encoding.ColumnTimestamp) {
			b.DropColumn(bucketCol)
		} else {
			b.RenameColumn(bucketCol, encoding.ColumnTimestamp)
		}
	}

	want := method.CompanionSuffix()
	for _, name := range b.ColumnNames() {
		base, suffix := splitCompanion(name)
		if suffix == "" {
			continue
		}
		if suffix == want {
			b.RenameColumn(name, base)
		} else {
			b.DropColumn(name)
		}
	}
	return b
}

func splitCompanion(name string) (base, suffix string) {
	for _, s := range companionSuffixes {
		if strings.HasSuffix(name, s) && len(name) > len(s) {
			return strings.TrimSuffix(name, s), s
		}
	}
	return name, ""
}
