package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// WorkerPool runs submitted work with bounded parallelism. Work that has not
// acquired a slot when the pool closes is aborted; started work always runs
// to completion.
type WorkerPool struct {
	sem    *semaphore.Weighted
	size   int
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	// queueCtx is cancelled on Close to release goroutines still waiting
	// for a slot.
	queueCtx    context.Context
	cancelQueue context.CancelFunc
}

// NewWorkerPool creates a pool with size slots.
func NewWorkerPool(size int, logger *slog.Logger) *WorkerPool {
	if size <= 0 {
		size = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		sem:         semaphore.NewWeighted(int64(size)),
		size:        size,
		logger:      logger,
		queueCtx:    ctx,
		cancelQueue: cancel,
	}
}

// Size returns the number of slots.
func (p *WorkerPool) Size() int {
	return p.size
}

// Submit queues run. If the pool closes before run starts, abort is called
// with ErrClosed instead. run receives a context detached from any request.
func (p *WorkerPool) Submit(run func(ctx context.Context), abort func(error)) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(p.queueCtx, 1); err != nil {
			if abort != nil {
				abort(fmt.Errorf("%w before task started", ErrClosed))
			}
			return
		}
		defer p.sem.Release(1)

		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("worker panicked", "panic", r)
				if abort != nil {
					abort(fmt.Errorf("internal panic: %v", r))
				}
			}
		}()
		run(context.Background())
	}()
	return nil
}

// Close stops accepting work, aborts queued work and waits for running work
// until ctx is done.
func (p *WorkerPool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		p.cancelQueue()
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for workers: %w", ctx.Err())
	}
}
