package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/platinummonkey/prdforge/pkg/observability"
)

var (
	ErrPoolClosed = errors.New("worker pool shut down")
	ErrPoolFull   = errors.New("worker pool queue full")
)

// Task is a unit of background work
type Task func(ctx context.Context) error

// runTask executes fn under a timeout and logs its error or panic
func runTask(ctx context.Context, timeout time.Duration, log *observability.Logger, fn Task) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprint(r)).
				WithField("stack", string(debug.Stack())).
				Error("background task panicked")
		}
	}()
	if err := fn(ctx); err != nil {
		log.WithError(err).Warn("background task failed")
	}
}

// SafeGo runs fn on its own goroutine with a timeout. Pass a detached context
// (context.WithoutCancel) when the work must outlive the request.
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	log := observability.FromContext(parentCtx).WithField("task", taskName)
	go runTask(parentCtx, timeout, log, fn)
}

// WorkerPool is a fixed set of workers draining a bounded queue. Task errors
// and panics are logged, never returned.
type WorkerPool struct {
	timeout time.Duration
	log     *observability.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	queue   chan Task
	stopped chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool starts workers goroutines; cancelling ctx aborts running tasks
func NewWorkerPool(ctx context.Context, workers, queueSize int, taskName string, timeout time.Duration, logger *observability.Logger) *WorkerPool {
	workers = max(workers, 1)
	queueSize = max(queueSize, 0)
	if logger == nil {
		logger = observability.NopLogger()
	}

	p := &WorkerPool{
		timeout: timeout,
		log:     logger.WithField("task", taskName),
		queue:   make(chan Task, queueSize),
		stopped: make(chan struct{}),
	}
	p.ctx, p.cancel = context.WithCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(id int) {
			defer wg.Done()
			log := p.log.WithField("worker", id)
			for fn := range p.queue {
				runTask(p.ctx, p.timeout, log, fn)
			}
		}(i)
	}
	go func() {
		wg.Wait()
		close(p.stopped)
	}()
	return p
}

// Submit enqueues fn, waiting for room in the queue
func (p *WorkerPool) Submit(fn func(context.Context) error) error {
	return p.enqueue(fn, true)
}

// TrySubmit enqueues fn or returns ErrPoolFull immediately
func (p *WorkerPool) TrySubmit(fn func(context.Context) error) error {
	return p.enqueue(fn, false)
}

func (p *WorkerPool) enqueue(fn Task, wait bool) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	if !wait {
		select {
		case p.queue <- fn:
			return nil
		default:
			return ErrPoolFull
		}
	}
	select {
	case p.queue <- fn:
		return nil
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// Shutdown closes the queue and waits up to timeout for it to drain. Tasks
// still running afterwards see their context cancelled. Safe to call twice.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	defer p.cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.stopped:
		return nil
	case <-timer.C:
		return fmt.Errorf("worker pool shutdown timed out after %v", timeout)
	}
}
