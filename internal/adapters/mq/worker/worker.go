// Package worker executes analytics fetch jobs off the queue and hands each
// result back to the coordinator that issued it.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/soccer-tracker/internal/adapters/mq/queue"
	"github.com/okian/soccer-tracker/internal/domain/model"
	"github.com/okian/soccer-tracker/pkg/logger"
	"github.com/okian/soccer-tracker/pkg/metrics"
)

const (
	defaultWorkerMultiplier = 4 // multiplier for runtime.NumCPU()
	poolShutdownTimeout     = 30 * time.Second
)

// Fetcher computes an analytics result. It reports failures per facet inside
// the result rather than as an error.
type Fetcher interface {
	Fetch(ctx context.Context, req model.AnalyticsRequest) model.AnalyticsResult
}

// Queue is where workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Job
}

// Worker processes jobs until its queue closes or it is shut down.
type Worker interface {
	Run(ctx context.Context)
	Shutdown(ctx context.Context) error
}

// InMemoryWorker runs jobs one at a time.
type InMemoryWorker struct {
	queue      Queue
	fetcher    Fetcher
	name       string
	jobTimeout time.Duration
	processed  *atomic.Int64

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a worker.
func NewInMemoryWorker(q Queue, fetcher Fetcher, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:     q,
		fetcher:   fetcher,
		name:      "worker",
		processed: new(atomic.Int64),
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Get().Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case j, ok := <-jobs:
			if !ok {
				return
			}
			w.process(ctx, j)
		}
	}
}

// Shutdown stops the loop after the current job.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.stop()
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) stop() {
	w.shutdownOnce.Do(func() { close(w.shutdown) })
}

// process runs one job and always delivers exactly one result.
func (w *InMemoryWorker) process(ctx context.Context, j queue.Job) {
	start := time.Now()
	res := w.fetch(ctx, j)
	metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	w.processed.Add(1)
	if j.Deliver != nil {
		j.Deliver(res)
	}
}

func (w *InMemoryWorker) fetch(ctx context.Context, j queue.Job) (res model.AnalyticsResult) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordWorkerPanic()
			metrics.RecordError("worker", "panic")
			w.logger.Error(ctx, "fetch panicked",
				logger.String("job_id", j.ID), logger.String("player_id", j.PlayerID), logger.Any("panic", r))
			res = model.FailedResult(model.Errorf(model.KindUpstream, "fetch", "analytics worker panic: %v", r))
		}
	}()

	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}
	w.logger.Debug(ctx, "fetch started",
		logger.String("job_id", j.ID), logger.String("player_id", j.PlayerID),
		logger.Uint64("generation", j.Generation), logger.Duration("queued", time.Since(j.EnqueuedAt)))
	return w.fetcher.Fetch(ctx, j.Request)
}

// Pool manages multiple workers sharing one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue

	processed    atomic.Int64
	shutdownOnce sync.Once

	logger logger.Logger
}

// NewPool creates workerCount workers; a count below one picks a default
// from the CPU count.
func NewPool(workerCount int, q Queue, fetcher Fetcher, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}
	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := range p.workers {
		wopts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		w := NewInMemoryWorker(q, fetcher, wopts...)
		w.processed = &p.processed
		p.workers[i] = w
	}
	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Start launches every worker.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	p.logger.Info(ctx, "worker pool started", logger.Int("workers", len(p.workers)))
}

// Size is the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Processed counts jobs handled since start.
func (p *Pool) Processed() int64 { return p.processed.Load() }

// Shutdown closes the queue and lets workers drain what is already queued.
// Run the pool on a context that outlives the drain, otherwise workers stop
// as soon as it ends and queued jobs are never delivered. Workers still busy
// when ctx or the pool timeout expires are abandoned.
func (p *Pool) Shutdown(ctx context.Context) error {
	var err error
	p.shutdownOnce.Do(func() {
		if closer, ok := p.queue.(interface{ Close() error }); ok {
			if cerr := closer.Close(); cerr != nil {
				p.logger.Error(ctx, "error closing queue", logger.Error(cerr))
			}
		}

		shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
		defer cancel()
		for i, w := range p.workers {
			select {
			case <-w.done:
			case <-shutdownCtx.Done():
				p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
				err = shutdownCtx.Err()
				w.stop()
			}
		}
		metrics.UpdateWorkerCount(0)
	})
	return err
}
