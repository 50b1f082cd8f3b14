package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// idlePollInterval is how often WaitIdle re-checks the outstanding count.
const idlePollInterval = time.Millisecond

// Executor is the single-writer work-queue executor.
//
// CRITICAL: All state mutations happen in the Run goroutine.
// External callers use Enqueue to submit work.
//
// Thread-safety model:
//   - Enqueue(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - WaitIdle(), Stopped(), QueueLen(): safe from any goroutine
type Executor[S State[S]] struct {
	queue    *workQueue[S]
	state    S
	logger   *slog.Logger
	onCommit func(S)

	// stopped mirrors state.Stopped() so that Enqueue can answer without
	// touching the state.
	stopped atomic.Bool

	// outstanding counts queued items, the item being processed and
	// running side effects.
	outstanding atomic.Int64
}

// Option configures an Executor.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger used for unexpected failures.
// Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an Executor that owns initial.
func New[S State[S]](initial S, opts ...Option) *Executor[S] {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	e := &Executor[S]{
		queue:  newWorkQueue[S](),
		state:  initial,
		logger: o.logger,
	}
	e.stopped.Store(initial.Stopped())
	return e
}

// OnCommit registers fn to run on the Run goroutine after every successful
// Apply, with the committed state. It must be called before Run.
func (e *Executor[S]) OnCommit(fn func(S)) {
	e.onCommit = fn
}

// Enqueue submits a work item. Thread-safe: may be called from any goroutine.
//
// Once a stop has been processed (or Run has returned) the item is answered
// with ErrStopped on the calling goroutine and never queued.
func (e *Executor[S]) Enqueue(item WorkItem[S]) {
	if item == nil {
		return
	}
	if e.stopped.Load() {
		e.answerStopped(item)
		return
	}

	e.outstanding.Add(1)
	if !e.queue.Enqueue(item) {
		e.outstanding.Add(-1)
		e.answerStopped(item)
	}
}

// Run starts the single-writer loop.
// Blocks until the context is cancelled or Close is called.
//
// CRITICAL: Must be called from exactly ONE goroutine.
//
// When Run returns, items still queued are answered with ErrStopped.
func (e *Executor[S]) Run(ctx context.Context) error {
	e.logger.Debug("executor starting")

	for {
		if item, ok := e.queue.TryDequeue(); ok {
			e.process(ctx, item)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Debug("executor stopping: context cancelled")
			e.Close()
			return ctx.Err()

		case _, open := <-e.queue.Wait():
			if !open && e.queue.Len() == 0 {
				e.logger.Debug("executor stopping: queue closed")
				e.Close()
				return nil
			}
		}
	}
}

// Close stops accepting work and makes Run return once the queue drains.
func (e *Executor[S]) Close() {
	e.stopped.Store(true)
	for _, item := range e.queue.Close() {
		e.outstanding.Add(-1)
		e.answerStopped(item)
	}
}

// Stopped reports whether the executor refuses new work.
func (e *Executor[S]) Stopped() bool {
	return e.stopped.Load()
}

// QueueLen returns the current number of queued items.
func (e *Executor[S]) QueueLen() int {
	return e.queue.Len()
}

// WaitIdle blocks until no item is queued or being processed and no side
// effect is running, or until ctx is done.
func (e *Executor[S]) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()

	for {
		if e.outstanding.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// post is the Poster handed to work items.
func (e *Executor[S]) post(item WorkItem[S]) {
	e.Enqueue(item)
}

// process runs one item.
// CRITICAL: Called only from the Run goroutine.
func (e *Executor[S]) process(ctx context.Context, item WorkItem[S]) {
	defer e.outstanding.Add(-1)

	if e.state.Stopped() {
		e.answerStopped(item)
		return
	}

	next, effect, err := e.apply(item)
	if err != nil {
		e.logger.Error("work item failed",
			"item", itemName(item),
			"error", err,
		)
		e.guard(item, "OnUnexpectedError", func() { item.OnUnexpectedError(err, e.post) })
		return
	}

	e.state = next
	if e.onCommit != nil {
		e.guard(item, "OnCommit", func() { e.onCommit(next) })
	}
	if next.Stopped() {
		e.stopped.Store(true)
		e.logger.Debug("executor stopped by work item", "item", itemName(item))
	}

	if effect != nil {
		e.launch(ctx, item, effect)
	}
}

// apply runs Apply against a clone, converting a panic into an error.
func (e *Executor[S]) apply(item WorkItem[S]) (next S, effect SideEffect[S], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in apply: %v", r)
		}
	}()
	return item.Apply(e.state.Clone(), e.post)
}

// launch runs a side effect on its own goroutine.
func (e *Executor[S]) launch(ctx context.Context, item WorkItem[S], effect SideEffect[S]) {
	e.outstanding.Add(1)
	go func() {
		defer e.outstanding.Add(-1)

		err := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic in side effect: %v", r)
				}
			}()
			return effect(ctx, e.post)
		}()
		if err == nil {
			return
		}

		e.logger.Error("work item side effect failed",
			"item", itemName(item),
			"error", err,
		)
		e.guard(item, "OnUnexpectedAsyncError", func() { item.OnUnexpectedAsyncError(err, e.post) })
	}()
}

func (e *Executor[S]) answerStopped(item WorkItem[S]) {
	e.guard(item, "DoWhenStopped", func() { item.DoWhenStopped(ErrStopped) })
}

// guard runs a hook, logging instead of crashing the loop if it panics.
func (e *Executor[S]) guard(item WorkItem[S], hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("work item hook panicked",
				"item", itemName(item),
				"hook", hook,
				"panic", r,
			)
		}
	}()
	fn()
}

// itemName returns a log-friendly name for an item.
func itemName(item any) string {
	if s, ok := item.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", item)
}
