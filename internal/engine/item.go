package engine

import "context"

// State is the constraint on the value an Executor owns. Clone must return a
// deep copy: Apply works on the clone, and the clone is discarded when Apply
// fails. Stopped reports whether the executor should refuse further work.
type State[S any] interface {
	Clone() S
	Stopped() bool
}

// Poster enqueues follow-up work on the same executor.
type Poster[S any] func(item WorkItem[S])

// SideEffect is asynchronous work scheduled by Apply. It runs off the
// serialized path and must not touch the state; results that should change
// the state are posted back as new work items.
type SideEffect[S any] func(ctx context.Context, post Poster[S]) error

// WorkItem is a discrete unit of state-mutating work.
type WorkItem[S any] interface {
	// Apply transforms the state. It may post follow-up work and may
	// return a side effect to run asynchronously.
	Apply(state S, post Poster[S]) (S, SideEffect[S], error)

	// DoWhenStopped reports ErrStopped to the item's own caller. It must
	// not mutate shared state.
	DoWhenStopped(err error)

	// OnUnexpectedError is called when Apply fails. The state is left as it
	// was before the item ran; compensating work may be posted.
	OnUnexpectedError(err error, post Poster[S])

	// OnUnexpectedAsyncError is called when the side effect fails.
	OnUnexpectedAsyncError(err error, post Poster[S])
}

// ItemFunc adapts plain functions to WorkItem. Nil hooks are no-ops; the
// executor logs unexpected failures regardless.
type ItemFunc[S any] struct {
	// Name identifies the item in logs.
	Name string

	ApplyFunc    func(state S, post Poster[S]) (S, SideEffect[S], error)
	OnStopped    func(err error)
	OnError      func(err error, post Poster[S])
	OnAsyncError func(err error, post Poster[S])
}

// Apply implements WorkItem.
func (f *ItemFunc[S]) Apply(state S, post Poster[S]) (S, SideEffect[S], error) {
	if f.ApplyFunc == nil {
		return state, nil, nil
	}
	return f.ApplyFunc(state, post)
}

// DoWhenStopped implements WorkItem.
func (f *ItemFunc[S]) DoWhenStopped(err error) {
	if f.OnStopped != nil {
		f.OnStopped(err)
	}
}

// OnUnexpectedError implements WorkItem.
func (f *ItemFunc[S]) OnUnexpectedError(err error, post Poster[S]) {
	if f.OnError != nil {
		f.OnError(err, post)
	}
}

// OnUnexpectedAsyncError implements WorkItem.
func (f *ItemFunc[S]) OnUnexpectedAsyncError(err error, post Poster[S]) {
	if f.OnAsyncError != nil {
		f.OnAsyncError(err, post)
	}
}

// String returns the item name for logs.
func (f *ItemFunc[S]) String() string {
	if f.Name == "" {
		return "anonymous"
	}
	return f.Name
}
