// Package engine implements the serialized work-queue executor that owns all
// mutable tracking state.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// One goroutine (Executor.Run) dequeues work items one at a time and is the
// only code that ever touches the state value. Producers on any goroutine
// call Enqueue. This ensures:
//   - Every item observes the state left by the previous item
//   - No two Apply steps run concurrently
//   - Completion callbacks fire in submission order per producer
//
// Work Item Processing:
//  1. If the state reports Stopped, DoWhenStopped(ErrStopped) is called
//  2. Otherwise Apply runs against a clone of the state
//  3. An error (or panic) from Apply goes to OnUnexpectedError and the clone
//     is discarded, leaving the state unchanged
//  4. A returned side effect runs on its own goroutine without access to the
//     state; its results re-enter through the Poster as new work items
//  5. A side effect error goes to OnUnexpectedAsyncError
//
// Errors never stop the loop: unexpected failures are logged with the item's
// name and processing continues with the next item.
//
// Stopping:
// A work item stops the executor by returning a state whose Stopped method
// reports true. Items already queued are then answered with ErrStopped, and
// items enqueued afterwards are answered immediately without being queued.
// In-flight side effects run to completion, but anything they post is
// answered with ErrStopped.
package engine
