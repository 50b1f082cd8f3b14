package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/waypoint/internal/store"
)

// AssertionContext provides what the journal-backed assertions need.
type AssertionContext struct {
	Ctx     context.Context
	Journal *store.Store
	RunID   string
}

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", event)
		}
	}

	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertEventContains:
		return assertEventContains(result.Trace, a)
	case AssertEventCount:
		return assertEventCount(result.Trace, a)
	case AssertEventOrder:
		return assertEventOrder(result.Trace, a)
	case AssertFinalState:
		return assertFinalState(result, a)
	case AssertPublished:
		return assertPublished(result, a)
	case AssertAggregate:
		return assertAggregate(result, a)
	case AssertOutcome:
		return assertOutcome(actx, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// matches applies the optional source, trackable and detail filters.
func matches(e TraceEvent, a Assertion, kind string) bool {
	if e.Kind != kind {
		return false
	}
	if a.Source != "" && e.Source != a.Source {
		return false
	}
	if a.Trackable != "" && e.Trackable != a.Trackable {
		return false
	}
	if a.Detail != "" && !strings.Contains(e.Detail, a.Detail) {
		return false
	}
	return true
}

func describe(a Assertion, kind string) string {
	parts := []string{kind}
	if a.Source != "" {
		parts = append(parts, "source="+a.Source)
	}
	if a.Trackable != "" {
		parts = append(parts, "trackable="+a.Trackable)
	}
	if a.Detail != "" {
		parts = append(parts, fmt.Sprintf("detail~%q", a.Detail))
	}
	return strings.Join(parts, " ")
}

func assertEventContains(trace []TraceEvent, a Assertion) error {
	for _, e := range trace {
		if matches(e, a, a.Kind) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertEventContains,
		Expected: describe(a, a.Kind),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

func assertEventCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, e := range trace {
		if matches(e, a, a.Kind) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, describe(a, a.Kind)),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertEventOrder checks that the kinds occur as a subsequence of the
// trace: each kind must appear after a matching occurrence of the previous
// one. Other events may intervene.
func assertEventOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	lastSeq := 0
	for _, e := range trace {
		if next == len(a.Kinds) {
			break
		}
		if matches(e, a, a.Kinds[next]) {
			next++
			lastSeq = e.Seq
		}
	}
	if next == len(a.Kinds) {
		return nil
	}

	actual := fmt.Sprintf("no %s in trace", describe(a, a.Kinds[next]))
	if next > 0 {
		actual = fmt.Sprintf("no %s after %s (seq %d)", describe(a, a.Kinds[next]), a.Kinds[next-1], lastSeq)
	}
	return &AssertionError{
		Type:     AssertEventOrder,
		Expected: fmt.Sprintf("kinds in order: %v", a.Kinds),
		Actual:   actual,
		Trace:    trace,
	}
}

func assertFinalState(result *Result, a Assertion) error {
	got, ok := result.Final[a.Trackable]
	if !ok {
		got = "untracked"
	}
	if got != a.State {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s is %s", a.Trackable, a.State),
			Actual:   got,
		}
	}
	return nil
}

func assertPublished(result *Result, a Assertion) error {
	if got := result.Published[a.Trackable]; got != a.Count {
		return &AssertionError{
			Type:     AssertPublished,
			Expected: fmt.Sprintf("%d messages published for %s", a.Count, a.Trackable),
			Actual:   fmt.Sprintf("%d messages", got),
		}
	}
	return nil
}

func assertAggregate(result *Result, a Assertion) error {
	if result.Aggregate != a.Resolution {
		return &AssertionError{
			Type:     AssertAggregate,
			Expected: a.Resolution,
			Actual:   result.Aggregate,
		}
	}
	return nil
}

// assertOutcome compares delivery counts with the journal.
func assertOutcome(actx *AssertionContext, a Assertion) error {
	if actx == nil || actx.Journal == nil {
		return fmt.Errorf("outcome assertion requires a journal")
	}
	outcomes, err := actx.Journal.Outcomes(actx.Ctx, actx.RunID)
	if err != nil {
		return err
	}
	var got store.Outcome
	for _, o := range outcomes {
		if o.Trackable == a.Trackable {
			got = o
		}
	}
	if got.Delivered != a.Delivered || got.Retried != a.Retried || got.Exhausted != a.Exhausted {
		return &AssertionError{
			Type: AssertOutcome,
			Expected: fmt.Sprintf("%s delivered=%d retried=%d exhausted=%d",
				a.Trackable, a.Delivered, a.Retried, a.Exhausted),
			Actual: fmt.Sprintf("delivered=%d retried=%d exhausted=%d",
				got.Delivered, got.Retried, got.Exhausted),
		}
	}
	return nil
}
