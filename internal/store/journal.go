package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/waypoint/internal/model"
	"github.com/roach88/waypoint/internal/notify"
)

// Run identifies one publisher or subscriber session in the journal.
type Run struct {
	ID        string
	Label     string
	Role      string
	StartedAt time.Time
}

// Entry is one journaled event.
type Entry struct {
	RunID     string
	Seq       int64
	Kind      notify.Kind
	Trackable string
	Detail    Detail
	Error     string
}

// Detail holds the kind-specific part of an event.
type Detail struct {
	Previous   string            `json:"previous,omitempty"`
	Current    string            `json:"current,omitempty"`
	Resolution *model.Resolution `json:"resolution,omitempty"`
	Locations  int               `json:"locations,omitempty"`
	Attempt    int               `json:"attempt,omitempty"`
}

// String renders the entry in the same shape as notify.Event.String.
func (e Entry) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d %s", e.Seq, e.Kind)
	if e.Trackable != "" {
		b.WriteString(" " + e.Trackable)
	}
	switch {
	case e.Detail.Current != "":
		fmt.Fprintf(&b, " %s->%s", e.Detail.Previous, e.Detail.Current)
	case e.Detail.Resolution != nil:
		b.WriteString(" " + e.Detail.Resolution.String())
	case e.Detail.Locations > 0:
		fmt.Fprintf(&b, " locations=%d attempt=%d", e.Detail.Locations, e.Detail.Attempt)
	}
	if e.Error != "" {
		fmt.Fprintf(&b, " error=%q", e.Error)
	}
	return b.String()
}

// EntryFromEvent flattens an observer event into its journal form.
func EntryFromEvent(runID string, ev notify.Event) Entry {
	e := Entry{
		RunID:     runID,
		Seq:       ev.Seq,
		Kind:      ev.Kind,
		Trackable: ev.Trackable,
		Detail:    Detail{Attempt: ev.Attempt},
	}
	if ev.State != nil {
		e.Detail.Previous = ev.State.Previous.String()
		e.Detail.Current = ev.State.Current.String()
	}
	if ev.Resolution != nil {
		r := *ev.Resolution
		e.Detail.Resolution = &r
	}
	if ev.Batch != nil {
		e.Detail.Locations = ev.Batch.Len()
	}
	if ev.Err != nil {
		e.Error = ev.Err.Error()
	}
	return e
}

// CreateRun registers a run. Creating a run that already exists is a no-op.
func (s *Store) CreateRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return errors.New("create run: empty id")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, label, role, started_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, run.ID, run.Label, run.Role, run.StartedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// Append writes one entry. Appending the same (run, seq) twice keeps the
// first row.
func (s *Store) Append(ctx context.Context, e Entry) error {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return fmt.Errorf("append event: marshal detail: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (run_id, seq, kind, trackable, detail, error)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`, e.RunID, e.Seq, string(e.Kind), e.Trackable, string(detail), e.Error)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Runs lists the journaled runs, oldest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, label, role, started_at
		FROM runs
		ORDER BY started_at ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var (
			r       Run
			started string
		)
		if err := rows.Scan(&r.ID, &r.Label, &r.Role, &started); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt, err = time.Parse(time.RFC3339Nano, started)
		if err != nil {
			return nil, fmt.Errorf("parse started_at for run %s: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LatestRun returns the most recently started run.
func (s *Store) LatestRun(ctx context.Context) (Run, error) {
	runs, err := s.Runs(ctx)
	if err != nil {
		return Run{}, err
	}
	if len(runs) == 0 {
		return Run{}, sql.ErrNoRows
	}
	return runs[len(runs)-1], nil
}

// Filter narrows a timeline query. Zero fields match everything.
type Filter struct {
	RunID     string
	Trackable string
	Kinds     []notify.Kind
}

// Timeline returns the matching entries ordered by run and seq.
func (s *Store) Timeline(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, f.RunID)
	}
	if f.Trackable != "" {
		where = append(where, "trackable = ?")
		args = append(args, f.Trackable)
	}
	if len(f.Kinds) > 0 {
		marks := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			marks[i] = "?"
			args = append(args, string(k))
		}
		where = append(where, "kind IN ("+strings.Join(marks, ", ")+")")
	}

	query := "SELECT run_id, seq, kind, trackable, detail, error FROM events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY run_id COLLATE BINARY ASC, seq ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query timeline: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e      Entry
			kind   string
			detail string
		)
		if err := rows.Scan(&e.RunID, &e.Seq, &kind, &e.Trackable, &detail, &e.Error); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = notify.Kind(kind)
		if err := json.Unmarshal([]byte(detail), &e.Detail); err != nil {
			return nil, fmt.Errorf("unmarshal detail for %s#%d: %w", e.RunID, e.Seq, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Outcome counts delivery results for one trackable in one run.
type Outcome struct {
	Trackable string
	Delivered int
	Retried   int
	Exhausted int
}

// Outcomes summarizes delivery results of a run, ordered by trackable.
func (s *Store) Outcomes(ctx context.Context, runID string) ([]Outcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trackable,
		       SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END),
		       SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END),
		       SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END)
		FROM events
		WHERE run_id = ? AND kind IN (?, ?, ?)
		GROUP BY trackable
		ORDER BY trackable COLLATE BINARY ASC
	`,
		string(notify.KindDelivered), string(notify.KindRetry), string(notify.KindExhausted),
		runID,
		string(notify.KindDelivered), string(notify.KindRetry), string(notify.KindExhausted),
	)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	out := []Outcome{}
	for rows.Next() {
		var o Outcome
		if err := rows.Scan(&o.Trackable, &o.Delivered, &o.Retried, &o.Exhausted); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
