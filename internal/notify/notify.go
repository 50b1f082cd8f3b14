// Package notify defines the typed events the publisher and subscriber
// engines report to their observers.
package notify

import (
	"fmt"

	"github.com/roach88/waypoint/internal/delivery"
	"github.com/roach88/waypoint/internal/model"
	"github.com/roach88/waypoint/internal/presence"
)

// Kind identifies an event.
type Kind string

const (
	// KindTrackableState reports a genuine change of a trackable's
	// connection state.
	KindTrackableState Kind = "trackable_state"
	// KindConnectionState reports a change of the instance-wide connection
	// state.
	KindConnectionState Kind = "connection_state"
	// KindResolution reports a new resolution for one trackable.
	KindResolution Kind = "resolution"
	// KindAggregateResolution reports a new sampler resolution.
	KindAggregateResolution Kind = "aggregate_resolution"
	// KindActiveTrackable reports a change of the active trackable.
	KindActiveTrackable Kind = "active_trackable"
	// KindDelivered reports a successful send.
	KindDelivered Kind = "delivered"
	// KindRetry reports a failed send that will be retried.
	KindRetry Kind = "retry"
	// KindExhausted reports a batch dropped after its retry budget.
	KindExhausted Kind = "exhausted"
	// KindLocation reports a location update received by a subscriber.
	KindLocation Kind = "location"
)

// Event is one observer notification. Which fields are set depends on Kind.
type Event struct {
	// Seq orders events from one instance.
	Seq       int64
	Kind      Kind
	Trackable string

	State      *presence.StateChange
	Resolution *model.Resolution
	Batch      *delivery.Batch
	Attempt    int
	Err        error
}

// String renders the event for logs and traces.
func (e Event) String() string {
	s := fmt.Sprintf("#%d %s", e.Seq, e.Kind)
	if e.Trackable != "" {
		s += " " + e.Trackable
	}
	switch {
	case e.State != nil:
		s += fmt.Sprintf(" %s->%s", e.State.Previous, e.State.Current)
	case e.Resolution != nil:
		s += " " + e.Resolution.String()
	case e.Batch != nil:
		s += fmt.Sprintf(" locations=%d attempt=%d", e.Batch.Len(), e.Attempt)
	}
	if e.Err != nil {
		s += fmt.Sprintf(" error=%q", e.Err.Error())
	}
	return s
}

// Observer receives events. Observers are called from the engine's single
// writer goroutine, in order, and must not block.
type Observer interface {
	Notify(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Notify implements Observer.
func (f ObserverFunc) Notify(e Event) { f(e) }

// Multi fans events out to every non-nil observer in order.
func Multi(observers ...Observer) Observer {
	var out multi
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

type multi []Observer

func (m multi) Notify(e Event) {
	for _, o := range m {
		o.Notify(e)
	}
}

// Discard ignores every event.
var Discard Observer = ObserverFunc(func(Event) {})
