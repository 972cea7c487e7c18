package crawler

import (
	"context"
	"errors"
	"sync"
)

// MaxWorkers caps outbound concurrency against the results site.
const MaxWorkers = 10

// ClampWorkers bounds a requested worker count to [1, MaxWorkers].
func ClampWorkers(n int) int {
	return max(1, min(n, MaxWorkers))
}

type task func(ctx context.Context)

// WorkerPool runs submitted tasks on a fixed number of goroutines.
type WorkerPool struct {
	ctx       context.Context
	cancel    context.CancelFunc
	tasks     chan task
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewWorkerPool creates a pool with the given concurrency and queue size.
func NewWorkerPool(parent context.Context, concurrency, queueSize int) (*WorkerPool, error) {
	if concurrency <= 0 || queueSize <= 0 {
		return nil, errors.New("worker pool requires positive concurrency and queue size")
	}
	ctx, cancel := context.WithCancel(parent)
	pool := &WorkerPool{
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(chan task, queueSize),
	}
	pool.start(concurrency)
	return pool, nil
}

func (p *WorkerPool) start(concurrency int) {
	for i := 0; i < concurrency; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			// Queued tasks always run; they see the cancelled context and
			// return early, so every submission produces a result.
			for t := range p.tasks {
				t(p.ctx)
			}
		}()
	}
}

// Submit schedules a task, rejecting it if ctx is already done. It must not
// be called after Close.
func (p *WorkerPool) Submit(ctx context.Context, fn task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.tasks <- fn:
		return nil
	}
}

// Close stops accepting work, waits for queued tasks to finish and releases
// the pool context.
func (p *WorkerPool) Close() {
	p.closeOnce.Do(func() {
		close(p.tasks)
		p.wg.Wait()
		p.cancel()
	})
}
