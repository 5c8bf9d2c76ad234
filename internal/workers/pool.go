// Package workers runs background tasks of the node with bounded parallelism.
package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"PodLedger/internal/logger"
)

// ErrClosed is returned when submitting to a closed pool.
var ErrClosed = errors.New("worker pool closed")

// Task is a unit of background work. Its context is cancelled when the pool closes.
type Task func(ctx context.Context)

// Pool runs submitted tasks, at most size at a time.
type Pool struct {
	sem    *semaphore.Weighted // sem bounds the running tasks
	ctx    context.Context     // ctx is cancelled by Close
	cancel context.CancelFunc  // cancel stops waiting and running tasks
	wg     sync.WaitGroup      // wg tracks submitted tasks
	closed atomic.Bool         // closed rejects later submissions
	done   atomic.Uint64       // done counts completed tasks
}

// New creates a pool running at most size tasks at a time.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit schedules a task and returns at once. The task runs when a slot is free.
func (p *Pool) Submit(name string, task Task) error {
	if p.closed.Load() {
		return ErrClosed
	}

	p.wg.Add(1)

	go func() {
		defer p.wg.Done()

		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			logger.Debug("task dropped", "task", name, "error", err)
			return
		}
		defer p.sem.Release(1)

		if p.ctx.Err() != nil {
			logger.Debug("task dropped", "task", name, "error", p.ctx.Err())
			return
		}

		defer func() {
			if r := recover(); r != nil {
				logger.Error("task panicked", "task", name, "panic", fmt.Sprint(r))
			}
		}()

		task(p.ctx)
		p.done.Add(1)
	}()

	return nil
}

// Completed returns the number of tasks that ran to completion.
func (p *Pool) Completed() uint64 {
	return p.done.Load()
}

// Wait blocks until every submitted task has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Close rejects new tasks, cancels the pending ones and waits for the running ones.
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}

	p.cancel()
	p.wg.Wait()
}
