// Package worker runs follow-up work outside the request that produced it.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/monetize-consult/server/internal/metrics"
)

// Task is one independent unit of follow-up work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Pool drains a bounded queue with a fixed set of goroutines. Every accepted
// task runs to completion: Shutdown waits for the queue to empty, and tasks
// submitted after Shutdown run on the caller's goroutine.
type Pool struct {
	tasks   chan Task
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewPool(workers, queue int, timeout time.Duration, logger *zap.Logger) *Pool {
	p := &Pool{
		tasks:   make(chan Task, queue),
		timeout: timeout,
		logger:  logger,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work()
	}
	return p
}

// Submit enqueues tasks, blocking while the queue is full. Each task gets its
// own context, independent of any request.
func (p *Pool) Submit(tasks ...Task) {
	for _, t := range tasks {
		p.mu.RLock()
		if p.closed {
			p.mu.RUnlock()
			p.run(t)
			continue
		}
		p.tasks <- t
		metrics.SetDispatchQueued(len(p.tasks))
		p.mu.RUnlock()
	}
}

// Shutdown stops intake and waits until every queued task has run or ctx is
// done.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
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
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker pool drain interrupted with %d tasks queued: %w", len(p.tasks), ctx.Err())
	}
}

func (p *Pool) work() {
	defer p.wg.Done()
	for t := range p.tasks {
		metrics.SetDispatchQueued(len(p.tasks))
		p.run(t)
	}
}

func (p *Pool) run(t Task) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("follow-up task panicked", zap.String("task", t.Name), zap.Any("panic", r))
			metrics.RecordDispatchTask(t.Name, "panic")
		}
	}()

	if err := t.Run(ctx); err != nil {
		p.logger.Error("follow-up task failed",
			zap.String("task", t.Name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		metrics.RecordDispatchTask(t.Name, "error")
		return
	}
	p.logger.Debug("follow-up task done", zap.String("task", t.Name), zap.Duration("elapsed", time.Since(start)))
	metrics.RecordDispatchTask(t.Name, "ok")
}
