package publisher

import (
	"context"
	"errors"
	"sort"

	"github.com/roach88/waypoint/internal/delivery"
	"github.com/roach88/waypoint/internal/engine"
	"github.com/roach88/waypoint/internal/model"
	"github.com/roach88/waypoint/internal/notify"
	"github.com/roach88/waypoint/internal/presence"
	"github.com/roach88/waypoint/internal/resolution"
	"github.com/roach88/waypoint/internal/transport"
	"github.com/roach88/waypoint/internal/wire"
)

type (
	item   = engine.ItemFunc[*state]
	poster = engine.Poster[*state]
	effect = engine.SideEffect[*state]
)

func (p *Publisher) addItem(t model.Trackable, makeActive bool, done func(error)) *item {
	return &item{
		Name: "add:" + t.ID,
		ApplyFunc: func(s *state, _ poster) (*state, effect, error) {
			existing, exists := s.trackables[t.ID]
			if exists && (existing.attaching || existing.tracker.State() != presence.Failed) {
				ts := existing
				if ts.attaching {
					ts.waiters = append(ts.waiters, done)
					ts.makeActive = ts.makeActive || makeActive
					return s, nil, nil
				}
				if makeActive {
					setActive(s, t.ID)
				}
				return s, complete(done, nil), nil
			}

			// A failed trackable is re-attached from scratch.
			var release effect
			if exists {
				release = p.detach(existing.channel)
			}

			s.generation++
			ts := &trackableState{
				trackable:   t,
				gen:         s.generation,
				tracker:     presence.NewTracker(),
				subscribers: presence.SubscriberSet{},
				buffer:      &delivery.Buffer{},
				attaching:   true,
				makeActive:  makeActive,
				waiters:     []func(error){done},
			}
			if change, ok := ts.tracker.OnTransportState(s.transport, nil); ok {
				emitState(s, t.ID, change)
			}
			s.trackables[t.ID] = ts
			return s, sequence(release, p.attach(t, ts.gen)), nil
		},
		OnStopped: done,
		OnError: func(err error, _ poster) {
			done(engine.NewUnexpectedError("add", err))
		},
	}
}

// attach gets the trackable's channel, wires its callbacks and enters
// presence. The outcome comes back as attachedItem.
func (p *Publisher) attach(t model.Trackable, gen uint64) effect {
	return func(ctx context.Context, post poster) error {
		ch, err := p.conn.Channel(ctx, t.ChannelName())
		if err == nil {
			ch.OnStateChange(func(cs presence.ChannelState, err error) {
				p.exec.Enqueue(p.channelStateItem(t.ID, gen, cs, err))
			})
			ch.SubscribePresence(func(m transport.PresenceMessage) {
				p.exec.Enqueue(p.presenceItem(t.ID, gen, m))
			})
			err = ch.EnterPresence(ctx, p.presenceData)
		}
		post(p.attachedItem(t.ID, gen, ch, err))
		return nil
	}
}

func (p *Publisher) attachedItem(id string, gen uint64, ch transport.Channel, attachErr error) *item {
	return &item{
		Name: "attached:" + id,
		ApplyFunc: func(s *state, _ poster) (*state, effect, error) {
			ts, ok := s.lookup(id, gen)
			if !ok {
				// Removed while attaching.
				return s, p.detach(ch), nil
			}

			waiters := ts.waiters
			ts.waiters = nil
			ts.attaching = false

			if attachErr != nil {
				p.cfg.logger.Warn("trackable attach failed", "trackable", id, "error", attachErr)
				delete(s.trackables, id)
				if change, ok := ts.tracker.Close(); ok {
					emitState(s, id, change)
				}
				p.reconcileAggregate(s)
				return s, completeAll(waiters, engine.NewConnectionFailedError(id, attachErr)), nil
			}

			ts.channel = ch
			if ts.makeActive {
				setActive(s, id)
				ts.makeActive = false
			}
			p.resolve(s, ts)
			p.reconcileAggregate(s)
			return s, completeAll(waiters, nil), nil
		},
		OnError: func(err error, _ poster) {
			p.cfg.logger.Error("attach result dropped", "trackable", id, "error", err)
		},
	}
}

func (p *Publisher) removeItem(id string, done func(bool, error)) *item {
	return &item{
		Name: "remove:" + id,
		ApplyFunc: func(s *state, _ poster) (*state, effect, error) {
			ts, ok := s.trackables[id]
			if !ok {
				return s, func(context.Context, poster) error {
					done(false, nil)
					return nil
				}, nil
			}

			delete(s.trackables, id)
			if s.active == id {
				setActive(s, "")
			}
			if change, ok := ts.tracker.Close(); ok {
				emitState(s, id, change)
			}
			p.reconcileAggregate(s)

			waiters := ts.waiters
			leave := p.detach(ts.channel)
			return s, func(ctx context.Context, post poster) error {
				completeAll(waiters, engine.NewTrackableNotFoundError(id))(ctx, post)
				err := leave(ctx, post)
				done(true, err)
				return nil
			}, nil
		},
		OnStopped: func(err error) { done(false, err) },
		OnError: func(err error, _ poster) {
			done(false, engine.NewUnexpectedError("remove", err))
		},
	}
}

func (p *Publisher) destinationItem(id string, destination *model.Coordinate, done func(error)) *item {
	return &item{
		Name: "destination:" + id,
		ApplyFunc: func(s *state, _ poster) (*state, effect, error) {
			ts, ok := s.trackables[id]
			if !ok {
				return s, complete(done, engine.NewTrackableNotFoundError(id)), nil
			}
			if destination != nil {
				d := *destination
				ts.trackable.Destination = &d
			} else {
				ts.trackable.Destination = nil
			}
			if !ts.attaching {
				p.resolve(s, ts)
				p.reconcileAggregate(s)
			}
			return s, complete(done, nil), nil
		},
		OnStopped: done,
		OnError: func(err error, _ poster) {
			done(engine.NewUnexpectedError("set destination", err))
		},
	}
}

// outgoing is a send to perform off the serialized path.
type outgoing struct {
	id      string
	gen     uint64
	channel transport.Channel
	send    delivery.Send
}

func (p *Publisher) locationItem(l model.Location) *item {
	return &item{
		Name: "location",
		ApplyFunc: func(s *state, _ poster) (*state, effect, error) {
			s.lastLocation = &l

			var sends []outgoing
			for _, id := range s.ids() {
				ts := s.trackables[id]
				if ts.attaching {
					continue
				}
				p.resolve(s, ts)
				if !ts.deliverable() {
					continue
				}
				if !resolution.Accept(ts.lastSent, l, *ts.resolution) {
					p.cfg.logger.Debug("location filtered", "trackable", id, "resolution", ts.resolution.String())
					continue
				}
				sample := l
				ts.lastSent = &sample
				if send, ok := ts.buffer.Offer(l); ok {
					sends = append(sends, outgoing{id: id, gen: ts.gen, channel: ts.channel, send: send})
				}
			}
			p.reconcileAggregate(s)
			return s, p.publish(sends...), nil
		},
	}
}

// publish sends batches and posts each outcome back as a sentItem.
func (p *Publisher) publish(sends ...outgoing) effect {
	if len(sends) == 0 {
		return nil
	}
	return func(ctx context.Context, post poster) error {
		for _, o := range sends {
			data, err := wire.EncodeBatch(p.cfg.codec, o.send.Batch)
			if err == nil {
				err = o.channel.Publish(ctx, wire.EventEnhancedLocation, data)
			}
			post(p.sentItem(o, err))
		}
		return nil
	}
}

func (p *Publisher) sentItem(o outgoing, sendErr error) *item {
	return &item{
		Name: "sent:" + o.id,
		ApplyFunc: func(s *state, _ poster) (*state, effect, error) {
			ts, ok := s.lookup(o.id, o.gen)
			if !ok {
				return s, nil, nil
			}

			var (
				next    delivery.Send
				hasNext bool
			)
			if sendErr == nil {
				var delivered bool
				next, hasNext, delivered = ts.buffer.Succeeded(o.send.Seq)
				if !delivered {
					return s, nil, nil
				}
				batch := o.send.Batch
				s.emit(notify.Event{Kind: notify.KindDelivered, Trackable: o.id, Batch: &batch, Attempt: o.send.Attempt})
			} else {
				var exhausted *delivery.Exhausted
				next, hasNext, exhausted = ts.buffer.Failed(o.send.Seq, p.cfg.maxRetryCount)
				switch {
				case exhausted != nil:
					rerr := engine.NewRetryExhaustedError(o.id, exhausted.Attempts, exhausted.Batch.Len(), sendErr)
					p.cfg.logger.Warn("delivery dropped", "trackable", o.id, "attempts", exhausted.Attempts, "error", sendErr)
					s.emit(notify.Event{Kind: notify.KindExhausted, Trackable: o.id, Batch: &exhausted.Batch, Attempt: exhausted.Attempts, Err: rerr})
				case hasNext:
					batch := o.send.Batch
					p.cfg.logger.Debug("delivery failed, retrying", "trackable", o.id, "attempt", o.send.Attempt, "error", sendErr)
					s.emit(notify.Event{Kind: notify.KindRetry, Trackable: o.id, Batch: &batch, Attempt: o.send.Attempt, Err: sendErr})
				default:
					return s, nil, nil
				}
			}

			if !hasNext {
				return s, nil, nil
			}
			return s, p.publish(outgoing{id: o.id, gen: o.gen, channel: ts.channel, send: next}), nil
		},
	}
}

func (p *Publisher) channelStateItem(id string, gen uint64, cs presence.ChannelState, err error) *item {
	return &item{
		Name: "channel-state:" + id,
		ApplyFunc: func(s *state, _ poster) (*state, effect, error) {
			ts, ok := s.lookup(id, gen)
			if !ok {
				return s, nil, nil
			}
			change, ok := ts.tracker.OnChannelState(cs, err)
			if !ok {
				return s, nil, nil
			}
			emitState(s, id, change)
			if change.Current == presence.Failed {
				ts.buffer.Reset()
			}
			return s, nil, nil
		},
	}
}

func (p *Publisher) connectionStateItem(st presence.TransportState, err error) *item {
	return &item{
		Name: "connection-state",
		ApplyFunc: func(s *state, _ poster) (*state, effect, error) {
			s.transport = st
			for _, id := range s.ids() {
				ts := s.trackables[id]
				if change, ok := ts.tracker.OnTransportState(st, err); ok {
					emitState(s, id, change)
					if change.Current == presence.Failed {
						ts.buffer.Reset()
					}
				}
			}

			next := presence.FromTransportState(st)
			if next != s.connection && s.connection != presence.Closed {
				change := presence.StateChange{Previous: s.connection, Current: next}
				if next == presence.Failed {
					change.Err = err
				}
				s.connection = next
				s.emit(notify.Event{Kind: notify.KindConnectionState, State: &change, Err: change.Err})
			}
			return s, nil, nil
		},
	}
}

func (p *Publisher) presenceItem(id string, gen uint64, m transport.PresenceMessage) *item {
	return &item{
		Name: "presence:" + id,
		ApplyFunc: func(s *state, _ poster) (*state, effect, error) {
			ts, ok := s.lookup(id, gen)
			if !ok {
				return s, nil, nil
			}
			if m.Action == presence.ActionUnknown {
				p.cfg.logger.Debug("ignoring unknown presence action", "trackable", id, "client", m.ClientID)
				return s, nil, nil
			}
			data, err := wire.DecodePresence(p.cfg.codec, m.Data)
			if err != nil {
				p.cfg.logger.Debug("ignoring undecodable presence", "trackable", id, "client", m.ClientID, "error", err)
				return s, nil, nil
			}

			ev := presence.Event{Action: m.Action, ClientID: m.ClientID, Data: data}
			if !ts.subscribers.Apply(ev) {
				return s, nil, nil
			}
			if !ts.attaching {
				p.resolve(s, ts)
				p.reconcileAggregate(s)
			}
			return s, nil, nil
		},
	}
}

func (p *Publisher) snapshotItem(done func(Snapshot, error)) *item {
	return &item{
		Name: "snapshot",
		ApplyFunc: func(s *state, _ poster) (*state, effect, error) {
			snap := Snapshot{
				Active:     s.active,
				Connection: s.connection,
				Aggregate:  copyResolution(s.aggregate),
				Trackables: make(map[string]TrackableSnapshot, len(s.trackables)),
			}
			for id, ts := range s.trackables {
				subs := make([]string, 0, len(ts.subscribers))
				for clientID := range ts.subscribers {
					subs = append(subs, clientID)
				}
				sort.Strings(subs)
				snap.Trackables[id] = TrackableSnapshot{
					State:       ts.tracker.State(),
					Resolution:  copyResolution(ts.resolution),
					Subscribers: subs,
					Attaching:   ts.attaching,
					InFlight:    ts.buffer.InFlight(),
					Pending:     ts.buffer.Pending(),
				}
			}
			return s, func(context.Context, poster) error {
				done(snap, nil)
				return nil
			}, nil
		},
		OnStopped: func(err error) { done(Snapshot{}, err) },
		OnError: func(err error, _ poster) {
			done(Snapshot{}, engine.NewUnexpectedError("snapshot", err))
		},
	}
}

func (p *Publisher) stopItem(done func(error)) *item {
	return &item{
		Name: "stop",
		ApplyFunc: func(s *state, _ poster) (*state, effect, error) {
			s.stopped = true

			var (
				channels []transport.Channel
				waiters  []func(error)
			)
			for _, id := range s.ids() {
				ts := s.trackables[id]
				if change, ok := ts.tracker.Close(); ok {
					emitState(s, id, change)
				}
				if ts.channel != nil {
					channels = append(channels, ts.channel)
				}
				waiters = append(waiters, ts.waiters...)
				ts.waiters = nil
			}
			if s.connection != presence.Closed {
				change := presence.StateChange{Previous: s.connection, Current: presence.Closed}
				s.connection = presence.Closed
				s.emit(notify.Event{Kind: notify.KindConnectionState, State: &change})
			}

			return s, func(ctx context.Context, post poster) error {
				completeAll(waiters, engine.ErrStopped)(ctx, post)
				var errs []error
				for _, ch := range channels {
					errs = append(errs, p.detach(ch)(ctx, post))
				}
				errs = append(errs, p.conn.Close(ctx))
				done(errors.Join(errs...))
				return nil
			}, nil
		},
		OnStopped: done,
		OnError: func(err error, _ poster) {
			done(engine.NewUnexpectedError("stop", err))
		},
	}
}

// detach leaves presence and releases ch. A nil channel is a no-op.
func (p *Publisher) detach(ch transport.Channel) effect {
	return func(ctx context.Context, _ poster) error {
		if ch == nil {
			return nil
		}
		leaveErr := ch.LeavePresence(ctx, p.presenceData)
		if errors.Is(leaveErr, transport.ErrNotAttached) || errors.Is(leaveErr, transport.ErrClosed) {
			leaveErr = nil
		}
		return errors.Join(leaveErr, ch.Detach(ctx))
	}
}

// resolve recomputes a trackable's resolution, emitting on change.
func (p *Publisher) resolve(s *state, ts *trackableState) {
	r := p.cfg.policy.Resolve(resolution.Request{
		Trackable:      ts.trackable,
		Subscribers:    len(ts.subscribers),
		RemoteRequests: ts.subscribers.Requests(),
		Reading:        reading(s.lastLocation, ts.trackable.Destination),
	})
	if ts.resolution != nil && *ts.resolution == r {
		return
	}
	ts.resolution = &r
	emitted := r
	s.emit(notify.Event{Kind: notify.KindResolution, Trackable: ts.trackable.ID, Resolution: &emitted})
}

// reconcileAggregate recomputes the sampler resolution. With no trackable
// resolutions the previous aggregate is kept.
func (p *Publisher) reconcileAggregate(s *state) {
	var resolutions []model.Resolution
	for _, id := range s.ids() {
		if r := s.trackables[id].resolution; r != nil {
			resolutions = append(resolutions, *r)
		}
	}
	agg, err := p.cfg.policy.ResolveSet(resolutions)
	if err != nil {
		return
	}
	if s.aggregate != nil && *s.aggregate == agg {
		return
	}
	s.aggregate = &agg
	emitted := agg
	s.emit(notify.Event{Kind: notify.KindAggregateResolution, Resolution: &emitted})
}

func setActive(s *state, id string) {
	if s.active == id {
		return
	}
	s.active = id
	s.emit(notify.Event{Kind: notify.KindActiveTrackable, Trackable: id})
}

func emitState(s *state, id string, change presence.StateChange) {
	ev := notify.Event{Kind: notify.KindTrackableState, Trackable: id, State: &change}
	if change.Current == presence.Failed {
		ev.Err = engine.NewConnectionFailedError(id, change.Err)
	}
	s.emit(ev)
}

func complete(done func(error), err error) effect {
	return func(context.Context, poster) error {
		done(err)
		return nil
	}
}

// sequence runs effects one after another, skipping nil ones, and returns
// the first error.
func sequence(effects ...effect) effect {
	return func(ctx context.Context, post poster) error {
		var first error
		for _, e := range effects {
			if e == nil {
				continue
			}
			if err := e(ctx, post); err != nil && first == nil {
				first = err
			}
		}
		return first
	}
}

func completeAll(waiters []func(error), err error) effect {
	return func(context.Context, poster) error {
		for _, done := range waiters {
			done(err)
		}
		return nil
	}
}
