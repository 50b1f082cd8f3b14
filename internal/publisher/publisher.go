package publisher

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/waypoint/internal/engine"
	"github.com/roach88/waypoint/internal/model"
	"github.com/roach88/waypoint/internal/notify"
	"github.com/roach88/waypoint/internal/presence"
	"github.com/roach88/waypoint/internal/transport"
	"github.com/roach88/waypoint/internal/wire"
)

// Publisher publishes the locations of its trackables.
//
// Thread-safety: all methods are safe for concurrent use. They enqueue work
// and wait for its completion; none touches state directly.
type Publisher struct {
	cfg          config
	conn         transport.Connection
	exec         *engine.Executor[*state]
	presenceData []byte

	cancel      context.CancelFunc
	done        chan struct{}
	unsubscribe func()
	shutdown    sync.Once
}

// New starts a Publisher on conn. The publisher owns conn from here on and
// closes it on Stop.
func New(conn transport.Connection, opts ...Option) (*Publisher, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	data, err := wire.EncodePresence(cfg.codec, presence.Data{Type: presence.ClientPublisher})
	if err != nil {
		return nil, fmt.Errorf("publisher: %w", err)
	}

	p := &Publisher{
		cfg:          cfg,
		conn:         conn,
		exec:         engine.New(newState(), engine.WithLogger(cfg.logger)),
		presenceData: data,
		done:         make(chan struct{}),
	}
	p.exec.OnCommit(p.flush)

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go func() {
		defer close(p.done)
		_ = p.exec.Run(ctx)
	}()

	p.unsubscribe = conn.OnStateChange(func(s presence.TransportState, err error) {
		p.exec.Enqueue(p.connectionStateItem(s, err))
	})
	return p, nil
}

// Track adds t if needed and makes it the active trackable. It returns once
// the trackable's channel is attached and presence entered.
func (p *Publisher) Track(ctx context.Context, t model.Trackable) error {
	return p.add(ctx, t, true)
}

// Add starts publishing t without making it active. Adding a trackable that
// is already present succeeds immediately.
func (p *Publisher) Add(ctx context.Context, t model.Trackable) error {
	return p.add(ctx, t, false)
}

func (p *Publisher) add(ctx context.Context, t model.Trackable, makeActive bool) error {
	t.ID = model.NormalizeID(t.ID)
	if err := t.Validate(); err != nil {
		return fmt.Errorf("publisher: %w", err)
	}

	result := make(chan error, 1)
	p.exec.Enqueue(p.addItem(t, makeActive, func(err error) { result <- err }))
	return await(ctx, result)
}

// Remove stops publishing the trackable. It reports false when the
// trackable was not present.
func (p *Publisher) Remove(ctx context.Context, trackableID string) (bool, error) {
	type outcome struct {
		removed bool
		err     error
	}
	result := make(chan outcome, 1)
	p.exec.Enqueue(p.removeItem(model.NormalizeID(trackableID), func(removed bool, err error) {
		result <- outcome{removed, err}
	}))

	select {
	case o := <-result:
		return o.removed, o.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// SetDestination changes a trackable's destination and re-resolves it.
// A nil destination clears it.
func (p *Publisher) SetDestination(ctx context.Context, trackableID string, destination *model.Coordinate) error {
	if destination != nil {
		if err := destination.Validate(); err != nil {
			return fmt.Errorf("publisher: destination: %w", err)
		}
	}
	result := make(chan error, 1)
	p.exec.Enqueue(p.destinationItem(model.NormalizeID(trackableID), destination, func(err error) { result <- err }))
	return await(ctx, result)
}

// UpdateLocation hands a sample from the sampler to the publisher. Samples
// that cannot be encoded are rejected here and never reach the engine.
func (p *Publisher) UpdateLocation(l model.Location) error {
	if _, err := wire.FeatureFromLocation(l); err != nil {
		return fmt.Errorf("publisher: %w", err)
	}
	if p.exec.Stopped() {
		return engine.ErrStopped
	}
	p.exec.Enqueue(p.locationItem(l))
	return nil
}

// Snapshot returns a copy of the publisher's view of its trackables.
func (p *Publisher) Snapshot(ctx context.Context) (Snapshot, error) {
	type outcome struct {
		snap Snapshot
		err  error
	}
	result := make(chan outcome, 1)
	p.exec.Enqueue(p.snapshotItem(func(s Snapshot, err error) { result <- outcome{s, err} }))

	select {
	case o := <-result:
		return o.snap, o.err
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// WaitIdle blocks until no work is queued or running.
func (p *Publisher) WaitIdle(ctx context.Context) error {
	return p.exec.WaitIdle(ctx)
}

// Stop leaves presence on every channel, closes the connection and stops
// the executor. Teardown errors are returned, but the executor is released
// regardless. Every operation submitted afterwards fails with
// engine.ErrStopped, and so does a second Stop.
func (p *Publisher) Stop(ctx context.Context) error {
	result := make(chan error, 1)
	p.exec.Enqueue(p.stopItem(func(err error) { result <- err }))

	var err error
	select {
	case err = <-result:
	case <-ctx.Done():
		// The stop item may still be queued; a later Stop finishes the job.
		return ctx.Err()
	}
	p.shutdown.Do(func() {
		p.unsubscribe()
		p.cancel()
		<-p.done
	})
	return err
}

// flush publishes the events of a committed item. It runs on the executor
// goroutine, so observers and the sampler see events in commit order.
func (p *Publisher) flush(s *state) {
	for _, ev := range s.outbox {
		ev.Seq = p.cfg.seq.Next()
		if ev.Kind == notify.KindAggregateResolution && ev.Resolution != nil {
			p.cfg.sampler.Configure(*ev.Resolution)
		}
		p.cfg.logger.Debug("publisher event", "event", ev.String())
		p.cfg.observer.Notify(ev)
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

// Snapshot is a point-in-time copy of publisher state.
type Snapshot struct {
	Active     string
	Connection presence.ConnectionState
	Aggregate  *model.Resolution
	Trackables map[string]TrackableSnapshot
}

// TrackableSnapshot describes one trackable.
type TrackableSnapshot struct {
	State       presence.ConnectionState
	Resolution  *model.Resolution
	Subscribers []string
	Attaching   bool
	InFlight    bool
	Pending     int
}
