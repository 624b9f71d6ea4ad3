// Package worker runs post-analysis jobs (frame archiving, event publishing)
// off the request path on a fixed set of goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/T3-Labs/emotion-capture/pkg/logger"
	"github.com/T3-Labs/emotion-capture/pkg/metrics"
)

var (
	ErrPoolClosed = errors.New("worker pool closed")
	ErrQueueFull  = errors.New("worker pool queue full")
)

type Job interface {
	Process(ctx context.Context) error
	ID() string
}

// JobFunc adapts a function to Job.
type JobFunc struct {
	Name string
	Fn   func(ctx context.Context) error
}

func (j JobFunc) Process(ctx context.Context) error { return j.Fn(ctx) }
func (j JobFunc) ID() string                        { return j.Name }

type Pool struct {
	name    string
	jobs    chan Job
	workers int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
	closeMu   sync.RWMutex
	closed    bool

	processing     int32
	totalProcessed int64
	totalErrors    int64

	statsInterval time.Duration
}

// NewPool starts workers goroutines reading from a queue of bufferSize jobs.
func NewPool(ctx context.Context, name string, workers, bufferSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if bufferSize < 0 {
		bufferSize = 0
	}
	ctx, cancel := context.WithCancel(ctx)

	pool := &Pool{
		name:          name,
		jobs:          make(chan Job, bufferSize),
		workers:       workers,
		ctx:           ctx,
		cancel:        cancel,
		statsInterval: 30 * time.Second,
	}

	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker(i)
	}
	go pool.reportStats()

	logger.Log.Infow("Worker pool started",
		"pool", name,
		"workers", workers,
		"buffer", bufferSize)

	return pool
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return

		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.run(id, job)
		}
	}
}

func (p *Pool) run(workerID int, job Job) {
	atomic.AddInt32(&p.processing, 1)
	metrics.WorkerPoolProcessing.WithLabelValues(p.name).Inc()
	metrics.WorkerPoolQueueSize.WithLabelValues(p.name).Set(float64(len(p.jobs)))

	err := job.Process(p.ctx)

	metrics.WorkerPoolProcessing.WithLabelValues(p.name).Dec()
	atomic.AddInt32(&p.processing, -1)
	atomic.AddInt64(&p.totalProcessed, 1)

	if err != nil {
		errCount := atomic.AddInt64(&p.totalErrors, 1)
		logger.Log.Debugw("Job failed",
			"pool", p.name,
			"worker", workerID,
			"job", job.ID(),
			"error", err)
		if errCount%100 == 0 {
			logger.Log.Warnw("Worker pool errors accumulating",
				"pool", p.name,
				"errors", errCount)
		}
	}
}

func (p *Pool) reportStats() {
	ticker := time.NewTicker(p.statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			stats := p.Stats()
			if stats.TotalProcessed > 0 {
				logger.Log.Infow("Worker pool stats",
					"pool", p.name,
					"processed", stats.TotalProcessed,
					"errors", stats.TotalErrors,
					"error_rate", stats.ErrorRate(),
					"processing", stats.Processing)
			}
		}
	}
}

// Submit queues job without blocking. It fails with ErrQueueFull when the
// buffer is full and ErrPoolClosed after Close.
func (p *Pool) Submit(job Job) error {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.jobs <- job:
		metrics.WorkerPoolQueueSize.WithLabelValues(p.name).Set(float64(len(p.jobs)))
		return nil
	case <-p.ctx.Done():
		return ErrPoolClosed
	default:
		metrics.JobsDropped.WithLabelValues("queue_full").Inc()
		return fmt.Errorf("%w (%d queued)", ErrQueueFull, cap(p.jobs))
	}
}

// Close stops accepting jobs and waits up to timeout for queued and running
// jobs to finish, then cancels whatever is left.
func (p *Pool) Close(timeout time.Duration) {
	p.closeOnce.Do(func() {
		logger.Log.Infow("Closing worker pool", "pool", p.name)

		p.closeMu.Lock()
		p.closed = true
		close(p.jobs)
		p.closeMu.Unlock()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			logger.Log.Infow("Worker pool finished", "pool", p.name)
		case <-time.After(timeout):
			logger.Log.Warnw("Worker pool close timed out",
				"pool", p.name,
				"processing", atomic.LoadInt32(&p.processing))
		}
		p.cancel()
	})
}

func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Workers:        p.workers,
		QueueSize:      len(p.jobs),
		Processing:     int(atomic.LoadInt32(&p.processing)),
		Capacity:       cap(p.jobs),
		TotalProcessed: atomic.LoadInt64(&p.totalProcessed),
		TotalErrors:    atomic.LoadInt64(&p.totalErrors),
	}
}

type PoolStats struct {
	Workers        int   `json:"workers"`
	QueueSize      int   `json:"queue_size"`
	Processing     int   `json:"processing"`
	Capacity       int   `json:"capacity"`
	TotalProcessed int64 `json:"total_processed"`
	TotalErrors    int64 `json:"total_errors"`
}

// ErrorRate is the failed share of processed jobs in percent.
func (ps PoolStats) ErrorRate() float64 {
	if ps.TotalProcessed == 0 {
		return 0
	}
	return float64(ps.TotalErrors) / float64(ps.TotalProcessed) * 100
}

func (ps PoolStats) String() string {
	return fmt.Sprintf("Workers: %d, Queue: %d/%d, Processing: %d, Total: %d (errors: %d)",
		ps.Workers, ps.QueueSize, ps.Capacity, ps.Processing, ps.TotalProcessed, ps.TotalErrors)
}
