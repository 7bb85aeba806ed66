package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"
)

var (
	metricQueryQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sensordb",
		Name:      "work_queue_length",
		Help:      "Current length of the partition read work queue.",
	})
	metricQueryQueueMax = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sensordb",
		Name:      "work_queue_max",
		Help:      "Maximum number of jobs the work queue can hold.",
	})
)

const queueLengthReportDuration = 15 * time.Second

// JobFunc does one unit of work, typically a single partition read. Errors
// are collected but do not stop sibling jobs.
type JobFunc func(ctx context.Context, payload interface{}) error

type job struct {
	ctx     context.Context
	payload interface{}
	fn      JobFunc

	wg  *sync.WaitGroup
	err *atomic.Error
}

type Config struct {
	MaxWorkers int `yaml:"max_workers"`
	QueueDepth int `yaml:"queue_depth"`
}

func defaultConfig() *Config {
	return &Config{
		MaxWorkers: 8,
		QueueDepth: 10000,
	}
}

// Pool is a bounded worker group. Callers submit a slice of payloads and
// block until every submitted job has completed.
type Pool struct {
	cfg  *Config
	size *atomic.Int32

	workQueue  chan *job
	shutdownCh chan struct{}
	stopped    *atomic.Bool
}

func NewPool(cfg *Config) *Pool {
	if cfg == nil {
		cfg = defaultConfig()
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = defaultConfig().MaxWorkers
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultConfig().QueueDepth
	}

	q := make(chan *job, cfg.QueueDepth)
	p := &Pool{
		cfg:        cfg,
		size:       atomic.NewInt32(0),
		workQueue:  q,
		shutdownCh: make(chan struct{}),
		stopped:    atomic.NewBool(false),
	}

	for i := 0; i < cfg.MaxWorkers; i++ {
		go p.worker(q)
	}

	p.reportQueueLength()
	metricQueryQueueMax.Set(float64(cfg.QueueDepth))

	return p
}

// RunJobs executes fn once per payload on the pool and waits for all of them.
// The first error any job stored is returned after every job has finished.
func (p *Pool) RunJobs(ctx context.Context, payloads []interface{}, fn JobFunc) error {
	if p.stopped.Load() {
		return fmt.Errorf("pool is shut down")
	}

	totalJobs := len(payloads)
	if totalJobs == 0 {
		return nil
	}

	// sanity check before we even attempt to start adding jobs
	if int(p.size.Load())+totalJobs > p.cfg.QueueDepth {
		return fmt.Errorf("queue doesn't have room for %d jobs", totalJobs)
	}

	wg := &sync.WaitGroup{}
	runErr := atomic.NewError(nil)

	for _, payload := range payloads {
		j := &job{
			ctx:     ctx,
			payload: payload,
			fn:      fn,
			wg:      wg,
			err:     runErr,
		}

		wg.Add(1)
		select {
		case p.workQueue <- j:
			p.size.Inc()
		default:
			// queue full. wait out whatever was already submitted so the
			// caller's payloads are quiescent, then report the overflow.
			wg.Done()
			wg.Wait()
			return fmt.Errorf("failed to add a job to work queue")
		}
	}

	wg.Wait()
	return runErr.Load()
}

func (p *Pool) Shutdown() {
	p.stopped.Store(true)
	close(p.shutdownCh)
}

func (p *Pool) worker(j <-chan *job) {
	for {
		select {
		case <-p.shutdownCh:
			return
		case job, ok := <-j:
			if !ok {
				return
			}
			p.size.Dec()
			runJob(job)
		}
	}
}

func runJob(j *job) {
	defer j.wg.Done()

	if err := j.ctx.Err(); err != nil {
		j.err.Store(err)
		return
	}
	if err := j.fn(j.ctx, j.payload); err != nil {
		j.err.Store(err)
	}
}

func (p *Pool) reportQueueLength() {
	ticker := time.NewTicker(queueLengthReportDuration)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				metricQueryQueueLength.Set(float64(p.size.Load()))
			case <-p.shutdownCh:
				return
			}
		}
	}()
}
