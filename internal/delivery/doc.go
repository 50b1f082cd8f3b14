// Package delivery keeps the per-trackable send buffer: at most one send is
// in flight, samples accepted meanwhile are batched behind it as skipped
// locations, and failed sends are retried up to a fixed budget.
//
// A Buffer is a plain value. It performs no I/O; callers turn the Send values
// it hands out into transport publishes and report the outcome back through
// Succeeded and Failed.
package delivery
