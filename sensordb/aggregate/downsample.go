package aggregate

import (
	"time"

	"github.com/sensordb/sensordb/sensordb/encoding"
)

// DownsampleToMaxPoints reduces a batch to at most n rows by bucketing at the
// interval the window requires, never finer than one second. Sparse data can
// still leave more than n buckets; those are thinned by even index sampling.
func DownsampleToMaxPoints(b *encoding.Batch, n int, method Method) *encoding.Batch {
	if b == nil || n <= 0 || b.Len() <= n {
		return b
	}

	min, max, ok := b.TimeBounds()
	if !ok {
		return sampleEvenly(b, n)
	}

	interval := requiredInterval(max.Sub(min), n)
	if interval < time.Second {
		interval = time.Second
	}

	out, err := ByInterval(b, interval, method)
	if err != nil || out.IsEmpty() {
		return sampleEvenly(b, n)
	}
	if out.Len() > n {
		out = sampleEvenly(out, n)
	}
	return out
}

func sampleEvenly(b *encoding.Batch, n int) *encoding.Batch {
	step := b.Len() / n
	if step < 1 {
		step = 1
	}
	idx := make([]int, 0, n)
	for i := 0; i < b.Len() && len(idx) < n; i += step {
		idx = append(idx, i)
	}
	return b.Take(idx)
}
