package store

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/roach88/waypoint/internal/notify"
)

// Recorder journals every event it is notified of under one run.
type Recorder struct {
	store  *Store
	runID  string
	logger *slog.Logger

	mu  sync.Mutex
	err error
}

// NewRecorder returns an observer that appends events to run runID.
// A nil logger discards write failures; Err still reports the first one.
func NewRecorder(s *Store, runID string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Recorder{store: s, runID: runID, logger: logger}
}

// RunID returns the run the recorder writes to.
func (r *Recorder) RunID() string { return r.runID }

// Notify implements notify.Observer.
func (r *Recorder) Notify(ev notify.Event) {
	if err := r.store.Append(context.Background(), EntryFromEvent(r.runID, ev)); err != nil {
		r.logger.Error("journal write failed",
			"run_id", r.runID,
			"seq", ev.Seq,
			"kind", ev.Kind,
			"error", err,
		)
		r.mu.Lock()
		if r.err == nil {
			r.err = err
		}
		r.mu.Unlock()
	}
}

// Err returns the first write failure, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
