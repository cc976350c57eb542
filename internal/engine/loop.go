package engine

import (
	"context"
	"log/slog"
	"sync/atomic"

	"venue_sync/internal/domain"
)

// Loop is the single-threaded task queue every handler runs on.
// Tasks execute strictly in post order and never concurrently, so state
// owned by loop tasks needs no locking.
type Loop struct {
	inbox   chan func()
	done    chan struct{}
	stopped atomic.Bool
	logger  *slog.Logger

	processed atomic.Uint64
	panics    atomic.Uint64
}

// NewLoop creates a loop with a buffered inbox.
func NewLoop(inboxSize int) *Loop {
	if inboxSize <= 0 {
		inboxSize = 1024
	}
	return &Loop{
		inbox:  make(chan func(), inboxSize),
		done:   make(chan struct{}),
		logger: slog.Default().With("module", "engine"),
	}
}

// Post enqueues a task. It blocks while the inbox is full and returns
// false once the loop has stopped.
func (l *Loop) Post(task func()) bool {
	if l.stopped.Load() {
		return false
	}
	select {
	case l.inbox <- task:
		return true
	case <-l.done:
		return false
	}
}

// Do runs task on the loop and waits for it to finish.
// Use it to read loop-owned state from another goroutine.
func (l *Loop) Do(ctx context.Context, task func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		task()
	}) {
		return domain.ErrLoopStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return domain.ErrLoopStopped
	}
}

// Run drains the inbox until ctx is done. This MUST be run in a single goroutine.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("Engine loop started (single-thread)")
	defer func() {
		l.stopped.Store(true)
		close(l.done)
		l.logger.Info("Engine loop stopped", slog.Uint64("processed", l.processed.Load()))
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-l.inbox:
			l.execute(task)
		}
	}
}

// execute isolates a panicking task; the loop keeps serving the rest.
func (l *Loop) execute(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.panics.Add(1)
			l.logger.Error("TASK_PANIC_RECOVERED", slog.Any("panic", r))
		}
	}()
	task()
	l.processed.Add(1)
}

// Processed returns how many tasks completed.
func (l *Loop) Processed() uint64 {
	return l.processed.Load()
}

// Panics returns how many tasks panicked.
func (l *Loop) Panics() uint64 {
	return l.panics.Load()
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
