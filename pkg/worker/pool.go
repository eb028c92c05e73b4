// Package worker provides a key-sharded worker pool for concurrent task
// processing. Items submitted with the same key always land on the same
// shard and are processed sequentially in submission order; items with
// different keys spread across shards and run concurrently.
//
// The bus dispatcher uses the subject as the shard key, which keeps
// delivery FIFO per subject while still processing unrelated subjects in
// parallel.
package worker

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/agilemobiledev/errai/metric"
)

// Pool is a sharded worker pool processing items of type T.
type Pool[T any] struct {
	shards    int
	queueSize int
	processor func(context.Context, T) error

	queues []chan T
	wg     sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	// Statistics (atomic)
	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	// Metrics
	metricsRegistry *metric.MetricsRegistry
	metricsPrefix   string
	metrics         *poolMetrics
}

type poolMetrics struct {
	submitted      prometheus.Counter
	processed      prometheus.Counter
	failed         prometheus.Counter
	dropped        prometheus.Counter
	processingTime *prometheus.HistogramVec
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Submitted int64
	Processed int64
	Failed    int64
	Dropped   int64
}

// Option represents a configuration option for the worker pool
type Option[T any] func(*Pool[T])

// WithMetricsRegistry configures the pool to register metrics with the
// bus metrics registry under the given prefix.
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(p *Pool[T]) {
		p.metricsRegistry = registry
		p.metricsPrefix = prefix
	}
}

// NewPool creates a sharded worker pool. Shard and queue sizes fall back to
// defaults when non-positive. A nil processor panics: the pool is useless
// without one and this is a programming error.
func NewPool[T any](shards, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if shards <= 0 {
		shards = 8
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	p := &Pool[T]{
		shards:    shards,
		queueSize: queueSize,
		processor: processor,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.metricsRegistry != nil && p.metricsPrefix != "" {
		p.initializeMetrics()
	}
	return p
}

func (p *Pool[T]) initializeMetrics() {
	prefix := p.metricsPrefix

	submitted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_submitted_total",
		Help: "Total work items submitted",
	})
	processed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_processed_total",
		Help: "Total work items processed",
	})
	failed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_failed_total",
		Help: "Total work items that failed processing",
	})
	dropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_dropped_total",
		Help: "Total work items dropped due to a full shard queue",
	})
	processingTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    prefix + "_processing_duration_seconds",
		Help:    "Time spent processing work items",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"status"})

	component := "worker_pool"
	_ = p.metricsRegistry.Register(component, prefix+"_submitted_total", submitted)
	_ = p.metricsRegistry.Register(component, prefix+"_processed_total", processed)
	_ = p.metricsRegistry.Register(component, prefix+"_failed_total", failed)
	_ = p.metricsRegistry.Register(component, prefix+"_dropped_total", dropped)
	_ = p.metricsRegistry.Register(component, prefix+"_processing_duration_seconds", processingTime)

	p.metrics = &poolMetrics{
		submitted:      submitted,
		processed:      processed,
		failed:         failed,
		dropped:        dropped,
		processingTime: processingTime,
	}
}

// Start launches the shard workers.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}
	p.started = true

	p.queues = make([]chan T, p.shards)
	for i := range p.queues {
		p.queues[i] = make(chan T, p.queueSize)
	}

	for i := 0; i < p.shards; i++ {
		p.wg.Add(1)
		go p.worker(ctx, p.queues[i])
	}
	return nil
}

// Submit routes an item to the shard owning key. Non-blocking: a full shard
// queue drops the item and returns ErrQueueFull.
func (p *Pool[T]) Submit(key string, item T) error {
	// Hold the lifecycle lock across the send so Stop cannot close the
	// shard channel under us. The send is non-blocking, so the critical
	// section stays short.
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}
	queue := p.queues[p.shardFor(key)]

	select {
	case queue <- item:
		p.submitted.Add(1)
		if p.metrics != nil {
			p.metrics.submitted.Inc()
		}
		return nil
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Stop drains the shard queues and waits for workers to exit, up to timeout.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	if !p.started {
		p.lifecycleMu.Unlock()
		return ErrPoolNotStarted
	}
	if p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	for _, q := range p.queues {
		close(q)
	}
	p.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrStopTimeout
	}
}

// Stats returns a snapshot of the pool counters.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
	}
}

// shardFor maps a key to its shard index.
func (p *Pool[T]) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(p.shards))
}

// worker drains one shard queue in order.
func (p *Pool[T]) worker(ctx context.Context, queue chan T) {
	defer p.wg.Done()

	for item := range queue {
		start := time.Now()
		err := p.processor(ctx, item)
		elapsed := time.Since(start)

		status := "success"
		if err != nil {
			status = "error"
			p.failed.Add(1)
			if p.metrics != nil {
				p.metrics.failed.Inc()
			}
		} else {
			p.processed.Add(1)
			if p.metrics != nil {
				p.metrics.processed.Inc()
			}
		}
		if p.metrics != nil {
			p.metrics.processingTime.WithLabelValues(status).Observe(elapsed.Seconds())
		}
	}
}
