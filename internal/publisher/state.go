package publisher

import (
	"slices"
	"sort"
	"time"

	"github.com/roach88/waypoint/internal/delivery"
	"github.com/roach88/waypoint/internal/model"
	"github.com/roach88/waypoint/internal/notify"
	"github.com/roach88/waypoint/internal/presence"
	"github.com/roach88/waypoint/internal/resolution"
	"github.com/roach88/waypoint/internal/transport"
)

// state is everything the publisher's executor owns.
type state struct {
	trackables map[string]*trackableState
	active     string
	// generation is bumped on every add so that callbacks from a removed
	// trackable's channel cannot reach a later one with the same ID.
	generation uint64

	transport  presence.TransportState
	connection presence.ConnectionState

	// lastLocation is the latest raw sample, accepted or not.
	lastLocation *model.Location
	aggregate    *model.Resolution

	stopped bool

	// outbox collects the events of the item being applied. It is not
	// cloned: each item starts with an empty outbox.
	outbox []notify.Event
}

// trackableState is the per-trackable part of state.
type trackableState struct {
	trackable   model.Trackable
	gen         uint64
	channel     transport.Channel
	tracker     presence.Tracker
	subscribers presence.SubscriberSet
	buffer      *delivery.Buffer
	resolution  *model.Resolution
	lastSent    *model.Location

	// attaching is true until the channel has been attached and presence
	// entered. waiters are the Add/Track calls to answer once it is.
	attaching  bool
	makeActive bool
	waiters    []func(error)
}

func newState() *state {
	return &state{trackables: make(map[string]*trackableState)}
}

// Clone implements engine.State.
func (s *state) Clone() *state {
	c := &state{
		trackables:   make(map[string]*trackableState, len(s.trackables)),
		active:       s.active,
		generation:   s.generation,
		transport:    s.transport,
		connection:   s.connection,
		lastLocation: copyLocation(s.lastLocation),
		aggregate:    copyResolution(s.aggregate),
		stopped:      s.stopped,
	}
	for id, ts := range s.trackables {
		c.trackables[id] = ts.clone()
	}
	return c
}

// Stopped implements engine.State.
func (s *state) Stopped() bool {
	return s.stopped
}

func (s *state) emit(ev notify.Event) {
	s.outbox = append(s.outbox, ev)
}

// lookup returns the trackable only if it is the generation a callback was
// registered for.
func (s *state) lookup(id string, gen uint64) (*trackableState, bool) {
	ts, ok := s.trackables[id]
	if !ok || ts.gen != gen {
		return nil, false
	}
	return ts, true
}

// ids returns trackable IDs in a stable order.
func (s *state) ids() []string {
	ids := make([]string, 0, len(s.trackables))
	for id := range s.trackables {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (ts *trackableState) clone() *trackableState {
	c := *ts
	c.subscribers = ts.subscribers.Clone()
	c.buffer = ts.buffer.Clone()
	c.resolution = copyResolution(ts.resolution)
	c.lastSent = copyLocation(ts.lastSent)
	c.waiters = slices.Clone(ts.waiters)
	return &c
}

// deliverable reports whether samples should be handed to the buffer.
func (ts *trackableState) deliverable() bool {
	if ts.attaching || ts.channel == nil {
		return false
	}
	return !ts.tracker.Terminal()
}

// reading derives the trackable's distance and estimated arrival from the
// latest sample.
func reading(last *model.Location, destination *model.Coordinate) resolution.Reading {
	if last == nil || destination == nil {
		return resolution.Reading{}
	}
	d := model.Distance(last.Coordinate, *destination)
	r := resolution.Reading{DistanceToDestination: &d}
	if last.Speed > 0 {
		eta := last.Timestamp.Add(time.Duration(d / last.Speed * float64(time.Second)))
		r.EstimatedArrival = &eta
	}
	return r
}

func copyLocation(l *model.Location) *model.Location {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}

func copyResolution(r *model.Resolution) *model.Resolution {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
