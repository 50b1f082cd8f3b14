// Package subscriber is the receiving side of the tracking engine: it
// follows one trackable's channel, derives whether the publisher is online,
// streams decoded location updates and can request a resolution from the
// publisher through its presence data.
package subscriber

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/waypoint/internal/engine"
	"github.com/roach88/waypoint/internal/model"
	"github.com/roach88/waypoint/internal/notify"
	"github.com/roach88/waypoint/internal/presence"
	"github.com/roach88/waypoint/internal/transport"
	"github.com/roach88/waypoint/internal/wire"
)

// LocationUpdate is one received delivery: the newest sample and the samples
// skipped before it, oldest first.
type LocationUpdate struct {
	Location         model.Location
	SkippedLocations []model.Location
}

// Option configures a Subscriber.
type Option func(*config)

type config struct {
	codec      wire.Codec
	observer   notify.Observer
	onLocation func(LocationUpdate)
	resolution *model.Resolution
	logger     *slog.Logger
	seq        interface{ Next() int64 }
}

// WithCodec sets the payload codec. It must match the publisher's.
func WithCodec(c wire.Codec) Option {
	return func(cfg *config) {
		if c != nil {
			cfg.codec = c
		}
	}
}

// WithObserver sets the event observer.
func WithObserver(o notify.Observer) Option {
	return func(cfg *config) {
		if o != nil {
			cfg.observer = o
		}
	}
}

// WithLocationHandler sets the function receiving location updates, in the
// order they were published.
func WithLocationHandler(fn func(LocationUpdate)) Option {
	return func(cfg *config) {
		cfg.onLocation = fn
	}
}

// WithResolution sets the resolution requested when the subscriber starts.
func WithResolution(r model.Resolution) Option {
	return func(cfg *config) {
		cfg.resolution = &r
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(cfg *config) {
		if l != nil {
			cfg.logger = l
		}
	}
}

// WithSequencer sets the source of event sequence numbers, such as an
// engine.Clock shared with a publisher.
func WithSequencer(seq interface{ Next() int64 }) Option {
	return func(cfg *config) {
		if seq != nil {
			cfg.seq = seq
		}
	}
}

// Subscriber follows one trackable.
type Subscriber struct {
	cfg         config
	conn        transport.Connection
	trackableID string
	exec        *engine.Executor[*state]

	cancel      context.CancelFunc
	done        chan struct{}
	unsubscribe func()
	shutdown    sync.Once
}

type state struct {
	tracker    presence.Tracker
	channel    transport.Channel
	resolution *model.Resolution
	starting   bool
	started    bool
	stopped    bool
	outbox     []notify.Event
}

func (s *state) Clone() *state {
	c := *s
	if s.resolution != nil {
		r := *s.resolution
		c.resolution = &r
	}
	c.outbox = nil
	return &c
}

func (s *state) Stopped() bool { return s.stopped }

func (s *state) emit(ev notify.Event) {
	s.outbox = append(s.outbox, ev)
}

type (
	item   = engine.ItemFunc[*state]
	poster = engine.Poster[*state]
	effect = engine.SideEffect[*state]
)

// New creates a Subscriber for trackableID on conn. The subscriber owns conn
// and closes it on Stop.
func New(conn transport.Connection, trackableID string, opts ...Option) (*Subscriber, error) {
	id := model.NormalizeID(trackableID)
	if id == "" {
		return nil, model.ErrEmptyTrackableID
	}

	cfg := config{
		codec:    wire.JSON,
		observer: notify.Discard,
		logger:   slog.Default(),
		seq:      engine.NewClock(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.resolution != nil {
		if err := cfg.resolution.Validate(); err != nil {
			return nil, fmt.Errorf("subscriber: %w", err)
		}
	}

	s := &Subscriber{
		cfg:         cfg,
		conn:        conn,
		trackableID: id,
		done:        make(chan struct{}),
	}
	initial := &state{tracker: presence.NewSubscriberTracker(), resolution: cfg.resolution}
	s.exec = engine.New(initial, engine.WithLogger(cfg.logger))
	s.exec.OnCommit(s.flush)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		defer close(s.done)
		_ = s.exec.Run(ctx)
	}()

	s.unsubscribe = conn.OnStateChange(func(ts presence.TransportState, err error) {
		s.exec.Enqueue(s.connectionStateItem(ts, err))
	})
	return s, nil
}

// TrackableID returns the followed trackable.
func (s *Subscriber) TrackableID() string {
	return s.trackableID
}

// Start attaches the trackable's channel and enters presence as a
// subscriber, announcing the requested resolution if any. Starting twice is
// a no-op.
func (s *Subscriber) Start(ctx context.Context) error {
	result := make(chan error, 1)
	s.exec.Enqueue(s.startItem(func(err error) { result <- err }))
	return await(ctx, result)
}

// ChangeResolution asks the publisher for a different resolution. A nil
// resolution withdraws the request. Before Start it only changes what Start
// will announce.
func (s *Subscriber) ChangeResolution(ctx context.Context, r *model.Resolution) error {
	if r != nil {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("subscriber: %w", err)
		}
		c := *r
		r = &c
	}
	result := make(chan error, 1)
	s.exec.Enqueue(s.changeResolutionItem(r, func(err error) { result <- err }))
	return await(ctx, result)
}

// State returns the current connection state of the trackable as seen by
// this subscriber.
func (s *Subscriber) State(ctx context.Context) (presence.ConnectionState, error) {
	type outcome struct {
		state presence.ConnectionState
		err   error
	}
	result := make(chan outcome, 1)
	s.exec.Enqueue(&item{
		Name: "state",
		ApplyFunc: func(st *state, _ poster) (*state, effect, error) {
			current := st.tracker.State()
			return st, func(context.Context, poster) error {
				result <- outcome{state: current}
				return nil
			}, nil
		},
		OnStopped: func(err error) { result <- outcome{state: presence.Closed, err: err} },
	})
	select {
	case o := <-result:
		return o.state, o.err
	case <-ctx.Done():
		return presence.Offline, ctx.Err()
	}
}

// WaitIdle blocks until no work is queued or running.
func (s *Subscriber) WaitIdle(ctx context.Context) error {
	return s.exec.WaitIdle(ctx)
}

// Stop leaves presence, closes the connection and stops the executor. The
// executor is released even when teardown fails; a later Stop returns
// engine.ErrStopped.
func (s *Subscriber) Stop(ctx context.Context) error {
	result := make(chan error, 1)
	s.exec.Enqueue(s.stopItem(func(err error) { result <- err }))

	var err error
	select {
	case err = <-result:
	case <-ctx.Done():
		// The stop item may still be queued; a later Stop finishes the job.
		return ctx.Err()
	}
	s.shutdown.Do(func() {
		s.unsubscribe()
		s.cancel()
		<-s.done
	})
	return err
}

func (s *Subscriber) flush(st *state) {
	for _, ev := range st.outbox {
		ev.Seq = s.cfg.seq.Next()
		if ev.Kind == notify.KindLocation && ev.Batch != nil && s.cfg.onLocation != nil {
			s.cfg.onLocation(LocationUpdate{Location: ev.Batch.Location, SkippedLocations: ev.Batch.SkippedLocations})
		}
		s.cfg.observer.Notify(ev)
	}
}

func (s *Subscriber) presenceData(r *model.Resolution) ([]byte, error) {
	return wire.EncodePresence(s.cfg.codec, presence.Data{Type: presence.ClientSubscriber, Resolution: r})
}

func (s *Subscriber) startItem(done func(error)) *item {
	return &item{
		Name: "start:" + s.trackableID,
		ApplyFunc: func(st *state, _ poster) (*state, effect, error) {
			if st.started || st.starting {
				return st, complete(done, nil), nil
			}
			data, err := s.presenceData(st.resolution)
			if err != nil {
				return st, complete(done, err), nil
			}
			st.starting = true
			return st, s.attach(data, done), nil
		},
		OnStopped: done,
		OnError: func(err error, _ poster) {
			done(engine.NewUnexpectedError("start", err))
		},
	}
}

func (s *Subscriber) attach(data []byte, done func(error)) effect {
	name := model.ChannelPrefix + s.trackableID
	return func(ctx context.Context, post poster) error {
		ch, err := s.conn.Channel(ctx, name)
		if err == nil {
			ch.OnStateChange(func(cs presence.ChannelState, err error) {
				s.exec.Enqueue(s.channelStateItem(cs, err))
			})
			ch.SubscribePresence(func(m transport.PresenceMessage) {
				s.exec.Enqueue(s.presenceItem(m))
			})
			ch.Subscribe(wire.EventEnhancedLocation, func(m transport.Message) {
				s.exec.Enqueue(s.messageItem(m))
			})
			err = ch.EnterPresence(ctx, data)
		}
		post(s.startedItem(ch, err, done))
		return nil
	}
}

func (s *Subscriber) startedItem(ch transport.Channel, startErr error, done func(error)) *item {
	return &item{
		Name: "started:" + s.trackableID,
		ApplyFunc: func(st *state, _ poster) (*state, effect, error) {
			st.starting = false
			if startErr != nil {
				return st, complete(done, engine.NewConnectionFailedError(s.trackableID, startErr)), nil
			}
			st.started = true
			st.channel = ch
			return st, complete(done, nil), nil
		},
		OnStopped: done,
	}
}

func (s *Subscriber) changeResolutionItem(r *model.Resolution, done func(error)) *item {
	return &item{
		Name: "change-resolution:" + s.trackableID,
		ApplyFunc: func(st *state, _ poster) (*state, effect, error) {
			st.resolution = r
			if !st.started {
				return st, complete(done, nil), nil
			}
			data, err := s.presenceData(r)
			if err != nil {
				return st, complete(done, err), nil
			}
			ch := st.channel
			return st, func(ctx context.Context, _ poster) error {
				done(ch.UpdatePresence(ctx, data))
				return nil
			}, nil
		},
		OnStopped: done,
		OnError: func(err error, _ poster) {
			done(engine.NewUnexpectedError("change resolution", err))
		},
	}
}

func (s *Subscriber) messageItem(m transport.Message) *item {
	return &item{
		Name: "message:" + s.trackableID,
		ApplyFunc: func(st *state, _ poster) (*state, effect, error) {
			batch, err := wire.DecodeBatch(s.cfg.codec, m.Data)
			if err != nil {
				s.cfg.logger.Warn("dropping undecodable location update", "trackable", s.trackableID, "error", err)
				return st, nil, nil
			}
			st.emit(notify.Event{Kind: notify.KindLocation, Trackable: s.trackableID, Batch: &batch})
			return st, nil, nil
		},
	}
}

func (s *Subscriber) presenceItem(m transport.PresenceMessage) *item {
	return &item{
		Name: "presence:" + s.trackableID,
		ApplyFunc: func(st *state, _ poster) (*state, effect, error) {
			if m.Action == presence.ActionUnknown {
				s.cfg.logger.Debug("ignoring unknown presence action", "trackable", s.trackableID, "client", m.ClientID)
				return st, nil, nil
			}
			data, err := wire.DecodePresence(s.cfg.codec, m.Data)
			if err != nil {
				s.cfg.logger.Debug("ignoring undecodable presence", "trackable", s.trackableID, "error", err)
				return st, nil, nil
			}
			change, ok := st.tracker.OnPresence(presence.Event{Action: m.Action, ClientID: m.ClientID, Data: data})
			if ok {
				s.emitState(st, change)
			}
			return st, nil, nil
		},
	}
}

func (s *Subscriber) channelStateItem(cs presence.ChannelState, err error) *item {
	return &item{
		Name: "channel-state:" + s.trackableID,
		ApplyFunc: func(st *state, _ poster) (*state, effect, error) {
			if change, ok := st.tracker.OnChannelState(cs, err); ok {
				s.emitState(st, change)
			}
			return st, nil, nil
		},
	}
}

func (s *Subscriber) connectionStateItem(ts presence.TransportState, err error) *item {
	return &item{
		Name: "connection-state",
		ApplyFunc: func(st *state, _ poster) (*state, effect, error) {
			if change, ok := st.tracker.OnTransportState(ts, err); ok {
				s.emitState(st, change)
			}
			return st, nil, nil
		},
	}
}

func (s *Subscriber) stopItem(done func(error)) *item {
	return &item{
		Name: "stop:" + s.trackableID,
		ApplyFunc: func(st *state, _ poster) (*state, effect, error) {
			st.stopped = true
			if change, ok := st.tracker.Close(); ok {
				s.emitState(st, change)
			}
			ch := st.channel
			return st, func(ctx context.Context, _ poster) error {
				var errs []error
				if ch != nil {
					leaveErr := ch.LeavePresence(ctx, nil)
					if errors.Is(leaveErr, transport.ErrNotAttached) {
						leaveErr = nil
					}
					errs = append(errs, leaveErr, ch.Detach(ctx))
				}
				errs = append(errs, s.conn.Close(ctx))
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

func (s *Subscriber) emitState(st *state, change presence.StateChange) {
	ev := notify.Event{Kind: notify.KindTrackableState, Trackable: s.trackableID, State: &change}
	if change.Current == presence.Failed {
		ev.Err = engine.NewConnectionFailedError(s.trackableID, change.Err)
	}
	st.emit(ev)
}

func complete(done func(error), err error) effect {
	return func(context.Context, poster) error {
		done(err)
		return nil
	}
}

func await(ctx context.Context, result <-chan error) error {
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
