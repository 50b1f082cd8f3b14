package harness

import (
	"fmt"
	"sort"

	"github.com/roach88/waypoint/internal/notify"
	"github.com/roach88/waypoint/internal/presence"
)

// SourcePublisher names the publisher in traces. Subscribers are named by
// their client ID.
const SourcePublisher = "publisher"

// TraceEvent is one observer event as recorded by the harness.
type TraceEvent struct {
	Seq       int    `json:"seq"`
	Step      int    `json:"step"`
	Source    string `json:"source"`
	Kind      string `json:"kind"`
	Trackable string `json:"trackable,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (e TraceEvent) String() string {
	s := fmt.Sprintf("#%d step=%d %s %s", e.Seq, e.Step, e.Source, e.Kind)
	if e.Trackable != "" {
		s += " " + e.Trackable
	}
	if e.Detail != "" {
		s += " " + e.Detail
	}
	if e.Error != "" {
		s += fmt.Sprintf(" error=%q", e.Error)
	}
	return s
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step and assertion succeeded.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`

	// Final is the connection state of every trackable still tracked at the
	// end of the run.
	Final map[string]string `json:"final,omitempty"`
	// Aggregate is the last sampler resolution, empty if none was chosen.
	Aggregate string `json:"aggregate,omitempty"`
	// Published counts the messages delivered on each trackable's channel.
	Published map[string]int `json:"published,omitempty"`
	// Sampler lists every resolution the sampler was configured with.
	Sampler []string `json:"sampler,omitempty"`

	// RunID is the journal run the events were written to.
	RunID string `json:"run_id"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Trace:     []TraceEvent{},
		Errors:    []string{},
		Final:     make(map[string]string),
		Published: make(map[string]int),
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// sourced is an event captured before it is placed in the trace.
type sourced struct {
	source string
	ev     notify.Event
}

// eventGroup buckets kinds whose relative order inside one step is fixed by
// a single item chain.
func eventGroup(k notify.Kind) int {
	switch k {
	case notify.KindConnectionState, notify.KindTrackableState:
		return 0
	case notify.KindActiveTrackable:
		return 1
	case notify.KindResolution, notify.KindAggregateResolution:
		return 2
	case notify.KindDelivered, notify.KindRetry, notify.KindExhausted:
		return 3
	default:
		return 4
	}
}

// appendStep orders one step's events canonically and appends them.
func (r *Result) appendStep(step int, events []sourced) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.source != b.source {
			// The publisher first, then subscribers by client ID.
			if a.source == SourcePublisher || b.source == SourcePublisher {
				return a.source == SourcePublisher
			}
			return a.source < b.source
		}
		if a.ev.Trackable != b.ev.Trackable {
			return a.ev.Trackable < b.ev.Trackable
		}
		return eventGroup(a.ev.Kind) < eventGroup(b.ev.Kind)
	})
	for _, s := range events {
		te := TraceEvent{
			Seq:       len(r.Trace) + 1,
			Step:      step,
			Source:    s.source,
			Kind:      string(s.ev.Kind),
			Trackable: s.ev.Trackable,
			Detail:    detail(s.ev),
		}
		if s.ev.Err != nil {
			te.Error = s.ev.Err.Error()
		}
		r.Trace = append(r.Trace, te)
	}
}

func detail(ev notify.Event) string {
	switch {
	case ev.State != nil:
		return stateDetail(*ev.State)
	case ev.Resolution != nil:
		return ev.Resolution.String()
	case ev.Batch != nil && ev.Kind == notify.KindLocation:
		return fmt.Sprintf("locations=%d", ev.Batch.Len())
	case ev.Batch != nil:
		return fmt.Sprintf("locations=%d attempt=%d", ev.Batch.Len(), ev.Attempt)
	}
	return ""
}

func stateDetail(c presence.StateChange) string {
	return c.Previous.String() + "->" + c.Current.String()
}
