package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

var ErrPoolStopped = errors.New("worker pool stopped")

// Job is one unit of work run by the pool.
type Job func(ctx context.Context) error

type task struct {
	ctx    context.Context
	job    Job
	result chan error
}

// Pool runs jobs on a fixed number of goroutines. A pool of zero workers
// runs every job inline on the submitting goroutine.
type Pool struct {
	mu      sync.RWMutex
	stopped bool
	tasks   chan task
	wg      sync.WaitGroup
	workers int
	logger  *slog.Logger
}

func NewPool(workers int, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		tasks:   make(chan task),
		workers: workers,
		logger:  logger,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			p.startWorker(workerID)
		}(i)
	}
	logger.Info("started conversion workers", "count", workers)
	return p
}

// Size is the number of workers, zero meaning inline execution.
func (p *Pool) Size() int {
	return p.workers
}

func (p *Pool) startWorker(workerID int) {
	for t := range p.tasks {
		t.result <- p.run(workerID, t)
	}
	p.logger.Debug("worker shutting down", "worker", workerID)
}

func (p *Pool) run(workerID int, t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in worker %d: %v", workerID, r)
			p.logger.Error("job panicked", "worker", workerID, "error", err)
		}
	}()
	if err := t.ctx.Err(); err != nil {
		return err
	}
	return t.job(t.ctx)
}

// Submit queues job and returns a channel that receives its result exactly
// once. It blocks while every worker is busy, until ctx is done.
func (p *Pool) Submit(ctx context.Context, job Job) <-chan error {
	result := make(chan error, 1)

	if p.workers == 0 {
		result <- p.run(-1, task{ctx: ctx, job: job})
		return result
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		result <- ErrPoolStopped
		return result
	}

	select {
	case p.tasks <- task{ctx: ctx, job: job, result: result}:
	case <-ctx.Done():
		result <- ctx.Err()
	}
	return result
}

// Stop refuses new jobs and waits for running ones to finish, up to ctx.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.tasks)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("all workers stopped gracefully")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for workers: %w", ctx.Err())
	}
}

// Backoff returns the exponential delay before retry number attempt,
// capped at 30 seconds.
func Backoff(attempt int) time.Duration {
	delay := time.Duration(math.Pow(2, float64(attempt))) * time.Second
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	return delay
}

// Retry runs fn until it succeeds, returns an error retryable rejects, or
// maxRetries retries have been spent.
func Retry(ctx context.Context, maxRetries int, base time.Duration, retryable func(error) bool, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil || !retryable(err) || attempt >= maxRetries {
			return err
		}
		delay := Backoff(attempt) / time.Second * base
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(delay):
		}
	}
}
