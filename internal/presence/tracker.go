package presence

// Tracker derives one trackable's ConnectionState from the latest transport,
// channel and (for subscribers) publisher presence observations.
//
// The derived state is:
//   - Closed once Close has been called
//   - Failed once either the transport or the channel has failed
//   - Online when the transport and channel are online and, if publisher
//     presence is required, a publisher is present
//   - Offline otherwise
//
// Failed and Closed are sticky. Each On* method returns the change it caused
// and whether there was one; repeated observations that derive the same
// state report no change.
type Tracker struct {
	transport        ConnectionState
	channel          ConnectionState
	requirePublisher bool
	publisherPresent bool
	current          ConnectionState
}

// NewTracker creates a Tracker for the publisher role.
func NewTracker() Tracker {
	return Tracker{}
}

// NewSubscriberTracker creates a Tracker that also requires the publisher to
// be present before reporting online.
func NewSubscriberTracker() Tracker {
	return Tracker{requirePublisher: true}
}

// State returns the current derived state.
func (t Tracker) State() ConnectionState {
	return t.current
}

// Terminal reports whether no further transitions are possible except to
// Closed.
func (t Tracker) Terminal() bool {
	return t.current == Failed || t.current == Closed
}

// OnTransportState records a transport connection state change.
func (t *Tracker) OnTransportState(s TransportState, err error) (StateChange, bool) {
	t.transport = FromTransportState(s)
	return t.recompute(err)
}

// OnChannelState records a channel state change.
func (t *Tracker) OnChannelState(s ChannelState, err error) (StateChange, bool) {
	t.channel = FromChannelState(s)
	return t.recompute(err)
}

// OnPresence records a presence message. Only messages from publishers are
// meaningful to a tracker; unknown actions are ignored.
func (t *Tracker) OnPresence(ev Event) (StateChange, bool) {
	if ev.Data.Type != ClientPublisher {
		return StateChange{}, false
	}
	state, ok := FromAction(ev.Action)
	if !ok {
		return StateChange{}, false
	}
	t.publisherPresent = state == Online
	return t.recompute(nil)
}

// Close moves the tracker to Closed.
func (t *Tracker) Close() (StateChange, bool) {
	if t.current == Closed {
		return StateChange{}, false
	}
	change := StateChange{Previous: t.current, Current: Closed}
	t.current = Closed
	return change, true
}

func (t *Tracker) recompute(err error) (StateChange, bool) {
	if t.Terminal() {
		return StateChange{}, false
	}

	next := t.derive()
	if next == t.current {
		return StateChange{}, false
	}

	change := StateChange{Previous: t.current, Current: next}
	if next == Failed {
		change.Err = err
	}
	t.current = next
	return change, true
}

func (t *Tracker) derive() ConnectionState {
	if t.transport == Failed || t.channel == Failed {
		return Failed
	}
	if t.transport != Online || t.channel != Online {
		return Offline
	}
	if t.requirePublisher && !t.publisherPresent {
		return Offline
	}
	return Online
}
