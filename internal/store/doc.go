// Package store persists the event journal of publisher and subscriber runs
// in SQLite.
//
// Each run is a row in runs and owns an ordered series of events keyed by
// (run_id, seq). Writes are idempotent: recording the same (run_id, seq)
// twice keeps the first row. Reads are ordered by seq so a run's timeline
// can be replayed in the order its observer saw it.
//
// Recorder adapts a Store to notify.Observer so a journal can be attached to
// an engine alongside any other observer.
package store
