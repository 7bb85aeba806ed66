package sensordb

import (
	"context"
	"sync"

	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sensordb/sensordb/sensordb/backend"
	"github.com/sensordb/sensordb/sensordb/encoding"
)

var metricReadFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "sensordb",
	Name:      "backend_read_failures_total",
	Help:      "Partition reads that failed and were treated as empty.",
}, []string{"backend"})

// readPaths fans the partition reads for one backend out onto the pool and
// concatenates the results. Missing objects contribute nothing; per-path
// failures are logged, counted and likewise treated as empty so one bad
// partition never sinks the query.
func (e *Engine) readPaths(ctx context.Context, ref *backendRef, paths []string) (*encoding.Batch, error) {
	if len(paths) == 0 {
		return encoding.NewBatch(), nil
	}

	payloads := make([]interface{}, len(paths))
	for i, p := range paths {
		payloads[i] = p
	}

	mtx := sync.Mutex{}
	batches := make([]*encoding.Batch, 0, len(paths))

	err := e.pool.RunJobs(ctx, payloads, func(ctx context.Context, payload interface{}) error {
		path := payload.(string)

		data, err := ref.backend.Read(ctx, path)
		if err != nil {
			if !backend.IsNotFound(err) {
				level.Warn(e.logger).Log("msg", "partition read failed", "backend", ref.name, "path", path, "err", err)
				metricReadFailures.WithLabelValues(ref.name).Inc()
			}
			return nil
		}

		b, err := encoding.Unmarshal(data)
		if err != nil {
			level.Warn(e.logger).Log("msg", "partition unreadable", "backend", ref.name, "path", path, "err", err)
			metricReadFailures.WithLabelValues(ref.name).Inc()
			return nil
		}
		b.NormalizeAssetAlias()

		mtx.Lock()
		defer mtx.Unlock()
		batches = append(batches, b)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return encoding.Concat(batches...), nil
}
