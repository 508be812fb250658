package services

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// WorkerPool runs extraction dispatch tasks on a bounded set of workers
// instead of detached unsupervised goroutines. Submitters get explicit
// completion signaling through the task's own channels or callbacks; the
// pool itself only guarantees bounded concurrency and drain-on-stop.
type WorkerPool struct {
	tasks   chan func(ctx context.Context)
	wg      sync.WaitGroup
	logger  *zap.Logger
	once    sync.Once
	stopped chan struct{}
}

// NewWorkerPool creates a pool with the given worker count and queue depth
func NewWorkerPool(workers, queueDepth int, logger *zap.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueDepth <= 0 {
		queueDepth = workers * 4
	}
	return &WorkerPool{
		tasks:   make(chan func(ctx context.Context), queueDepth),
		logger:  logger,
		stopped: make(chan struct{}),
	}
}

// Start launches the workers
func (p *WorkerPool) Start(ctx context.Context, workers int) {
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

func (p *WorkerPool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopped:
			p.drain(ctx)
			return
		case task := <-p.tasks:
			task(ctx)
		}
	}
}

// drain runs whatever was already queued when Stop was signalled. Finalize
// dispatches submitted during a shutdown drain must still run.
func (p *WorkerPool) drain(ctx context.Context) {
	for {
		select {
		case task := <-p.tasks:
			task(ctx)
		default:
			return
		}
	}
}

// Submit enqueues a task, blocking when the queue is full so slow agents
// apply backpressure to dispatch rather than growing unbounded goroutines.
// It returns false once the pool is stopped.
func (p *WorkerPool) Submit(ctx context.Context, task func(ctx context.Context)) bool {
	select {
	case <-p.stopped:
		return false
	case <-ctx.Done():
		return false
	case p.tasks <- task:
		return true
	}
}

// Stop signals the workers and waits for in-flight and queued tasks to
// finish
func (p *WorkerPool) Stop() {
	p.once.Do(func() {
		close(p.stopped)
	})
	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}
