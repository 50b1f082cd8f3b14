package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/waypoint/internal/notify"
	"github.com/roach88/waypoint/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database  string
	RunID     string   // empty selects the latest run
	Trackable string   // optional
	Kinds     []string // optional
	List      bool     // list runs instead of a timeline
}

// TimelineEntry is one journaled event.
type TimelineEntry struct {
	Seq       int64        `json:"seq"`
	Kind      string       `json:"kind"`
	Trackable string       `json:"trackable,omitempty"`
	Detail    store.Detail `json:"detail"`
	Error     string       `json:"error,omitempty"`

	text string
}

// RunSummary describes one journaled run.
type RunSummary struct {
	ID        string    `json:"id"`
	Label     string    `json:"label,omitempty"`
	Role      string    `json:"role,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// OutcomeSummary counts delivery results for one trackable.
type OutcomeSummary struct {
	Trackable string `json:"trackable"`
	Delivered int    `json:"delivered"`
	Retried   int    `json:"retried"`
	Exhausted int    `json:"exhausted"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Run      RunSummary       `json:"run"`
	Timeline []TimelineEntry  `json:"timeline"`
	Outcomes []OutcomeSummary `json:"outcomes"`
}

var knownKinds = map[notify.Kind]bool{
	notify.KindTrackableState:      true,
	notify.KindConnectionState:     true,
	notify.KindResolution:          true,
	notify.KindAggregateResolution: true,
	notify.KindActiveTrackable:     true,
	notify.KindDelivered:           true,
	notify.KindRetry:               true,
	notify.KindExhausted:           true,
	notify.KindLocation:            true,
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show a journaled run",
		Long: `Show the events of a run recorded by "simulate --journal".

The output includes:
- Timeline: events in emission order
- Outcomes: delivered, retried and exhausted batches per trackable

Examples:
  waypoint trace --db ./runs.db
  waypoint trace --db ./runs.db --list
  waypoint trace --db ./runs.db --run 01927c1e-... --trackable order-1
  waypoint trace --db ./runs.db --kind retry --kind exhausted --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run to show (default: latest)")
	cmd.Flags().StringVar(&opts.Trackable, "trackable", "", "filter to one trackable")
	cmd.Flags().StringSliceVar(&opts.Kinds, "kind", nil, "filter to event kinds")
	cmd.Flags().BoolVar(&opts.List, "list", false, "list runs")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts.RootOptions, cmd)

	kinds := make([]notify.Kind, len(opts.Kinds))
	for i, k := range opts.Kinds {
		kinds[i] = notify.Kind(k)
		if !knownKinds[kinds[i]] {
			return NewExitError(ExitCommandError, fmt.Sprintf("unknown event kind %q", k))
		}
	}

	// store.Open would create a missing journal.
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "journal not found", err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer st.Close()

	if opts.List {
		return listRuns(ctx, st, formatter)
	}

	run, err := selectRun(ctx, st, opts.RunID)
	if errors.Is(err, sql.ErrNoRows) {
		msg := "no runs in journal"
		if opts.RunID != "" {
			msg = fmt.Sprintf("run not found: %s", opts.RunID)
		}
		_ = formatter.Error(ErrCodeRunNotFound, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read runs", err)
	}
	formatter.VerboseLog("Reading run %s", run.ID)

	entries, err := st.Timeline(ctx, store.Filter{RunID: run.ID, Trackable: opts.Trackable, Kinds: kinds})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read timeline", err)
	}
	outcomes, err := st.Outcomes(ctx, run.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read outcomes", err)
	}

	result := TraceResult{
		Run:      summarize(run),
		Timeline: make([]TimelineEntry, 0, len(entries)),
		Outcomes: make([]OutcomeSummary, 0, len(outcomes)),
	}
	for _, e := range entries {
		result.Timeline = append(result.Timeline, TimelineEntry{
			Seq:       e.Seq,
			Kind:      string(e.Kind),
			Trackable: e.Trackable,
			Detail:    e.Detail,
			Error:     e.Error,
			text:      e.String(),
		})
	}
	for _, o := range outcomes {
		if opts.Trackable != "" && o.Trackable != opts.Trackable {
			continue
		}
		result.Outcomes = append(result.Outcomes, OutcomeSummary(o))
	}

	if formatter.JSON() {
		return formatter.Respond(CLIResponse{Status: "ok", Data: result, RunID: run.ID})
	}
	outputTraceText(formatter, result)
	return nil
}

// selectRun returns the named run, or the latest one when id is empty.
func selectRun(ctx context.Context, st *store.Store, id string) (store.Run, error) {
	if id == "" {
		return st.LatestRun(ctx)
	}
	runs, err := st.Runs(ctx)
	if err != nil {
		return store.Run{}, err
	}
	for _, r := range runs {
		if r.ID == id {
			return r, nil
		}
	}
	return store.Run{}, sql.ErrNoRows
}

func summarize(r store.Run) RunSummary {
	return RunSummary{ID: r.ID, Label: r.Label, Role: r.Role, StartedAt: r.StartedAt}
}

func listRuns(ctx context.Context, st *store.Store, formatter *OutputFormatter) error {
	runs, err := st.Runs(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read runs", err)
	}
	out := make([]RunSummary, len(runs))
	for i, r := range runs {
		out[i] = summarize(r)
	}

	if formatter.JSON() {
		return formatter.Success(out)
	}
	w := formatter.Writer
	if len(out) == 0 {
		fmt.Fprintln(w, "No runs found.")
		return nil
	}
	for _, r := range out {
		fmt.Fprintf(w, "%s  %s  %s\n", r.StartedAt.Format(time.RFC3339), r.ID, r.Label)
	}
	return nil
}

func outputTraceText(formatter *OutputFormatter, result TraceResult) {
	w := formatter.Writer

	fmt.Fprintf(w, "Trace for Run: %s", result.Run.ID)
	if result.Run.Label != "" {
		fmt.Fprintf(w, " (%s)", result.Run.Label)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no events)")
	}
	for _, e := range result.Timeline {
		fmt.Fprintf(w, "  %s\n", e.text)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Outcomes ===")
	if len(result.Outcomes) == 0 {
		fmt.Fprintln(w, "  (no deliveries)")
	}
	for _, o := range result.Outcomes {
		fmt.Fprintf(w, "  %s: delivered=%d retried=%d exhausted=%d\n", o.Trackable, o.Delivered, o.Retried, o.Exhausted)
	}
}
