package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/roach88/waypoint/internal/config"
	"github.com/roach88/waypoint/internal/engine"
	"github.com/roach88/waypoint/internal/model"
	"github.com/roach88/waypoint/internal/notify"
	"github.com/roach88/waypoint/internal/presence"
	"github.com/roach88/waypoint/internal/publisher"
	"github.com/roach88/waypoint/internal/resolution"
	"github.com/roach88/waypoint/internal/store"
	"github.com/roach88/waypoint/internal/subscriber"
	"github.com/roach88/waypoint/internal/testutil"
	"github.com/roach88/waypoint/internal/transport"
	"github.com/roach88/waypoint/internal/wire"
)

// settleRounds bounds how many flush/idle rounds a step gets. Each round
// drains one hop of callbacks between the hub and the engines.
const settleRounds = 10

var channelStates = map[string]presence.ChannelState{
	"initialized": presence.ChannelInitialized,
	"attaching":   presence.ChannelAttaching,
	"attached":    presence.ChannelAttached,
	"detaching":   presence.ChannelDetaching,
	"detached":    presence.ChannelDetached,
	"suspended":   presence.ChannelSuspended,
	"failed":      presence.ChannelFailed,
}

var transportStates = map[string]presence.TransportState{
	"initialized":  presence.TransportInitialized,
	"connecting":   presence.TransportConnecting,
	"connected":    presence.TransportConnected,
	"disconnected": presence.TransportDisconnected,
	"suspended":    presence.TransportSuspended,
	"closing":      presence.TransportClosing,
	"closed":       presence.TransportClosed,
	"failed":       presence.TransportFailed,
}

// Option configures a run.
type Option func(*options)

type options struct {
	config   *config.Config
	journal  *store.Store
	runID    string
	observer notify.Observer
	logger   *slog.Logger
}

// WithConfig overrides the scenario's config file.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.config = cfg }
}

// WithJournal records the run into s under runID instead of a private
// in-memory journal. The run must not exist yet.
func WithJournal(s *store.Store, runID string) Option {
	return func(o *options) {
		o.journal = s
		o.runID = runID
	}
}

// WithObserver receives every event in emission order, in addition to the
// trace.
func WithObserver(obs notify.Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithLogger sets the logger handed to the engines. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Harness drives one scenario run.
type Harness struct {
	hub      *transport.Hub
	conn     *transport.Conn
	pub      *publisher.Publisher
	subs     map[string]*subscriber.Subscriber
	stopped  map[string]bool
	cfg      *config.Config
	codec    wire.Codec
	clock    *testutil.ManualClock
	battery  *testutil.FakeBattery
	sampler  *testutil.RecordingSampler
	seq      *engine.Clock
	journal  *store.Store
	recorder *store.Recorder
	observer notify.Observer
	logger   *slog.Logger

	mu      sync.Mutex
	pending []sourced
}

// Run executes a scenario and returns its result. A non-nil error means the
// run could not be set up; step and assertion failures are reported in the
// result.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := resolveConfig(scenario, o.config)
	if err != nil {
		return nil, err
	}
	codec, err := wire.CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}

	journal, runID := o.journal, o.runID
	if journal == nil {
		journal, err = store.Open(":memory:")
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory journal: %w", err)
		}
		defer journal.Close()
		runID = scenario.Name
	}
	if err := journal.CreateRun(ctx, store.Run{
		ID:        runID,
		Label:     scenario.Name,
		Role:      SourcePublisher,
		StartedAt: time.Now().UTC(),
	}); err != nil {
		return nil, err
	}

	h := &Harness{
		hub:      transport.NewHub(),
		subs:     make(map[string]*subscriber.Subscriber),
		stopped:  make(map[string]bool),
		cfg:      cfg,
		codec:    codec,
		clock:    testutil.NewManualClock(testutil.Epoch),
		battery:  testutil.NewFakeBattery(0),
		sampler:  &testutil.RecordingSampler{},
		seq:      engine.NewClock(),
		journal:  journal,
		recorder: store.NewRecorder(journal, runID, o.logger),
		observer: o.observer,
		logger:   o.logger,
	}
	h.setBattery(cfg.Battery)
	if scenario.Battery != nil {
		h.setBattery(scenario.Battery)
	}

	if err := h.startPublisher(); err != nil {
		return nil, err
	}
	defer h.teardown()

	result := NewResult()
	result.RunID = runID
	if err := h.settle(ctx); err != nil {
		return nil, err
	}
	result.appendStep(0, h.drain())

	for i, step := range scenario.Steps {
		stepErr := h.execute(ctx, step)
		checkStepError(result, i, step, stepErr)
		if err := h.settle(ctx); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		result.appendStep(i+1, h.drain())
	}

	if err := h.collectFinal(ctx, result); err != nil {
		return nil, err
	}
	if err := h.recorder.Err(); err != nil {
		result.AddError(fmt.Sprintf("journal: %v", err))
	}

	actx := &AssertionContext{Ctx: ctx, Journal: journal, RunID: runID}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func resolveConfig(scenario *Scenario, override *config.Config) (*config.Config, error) {
	if override != nil {
		return override, nil
	}
	if scenario.Config != "" {
		return config.Load(scenario.Config)
	}
	return config.Default(), nil
}

func checkStepError(result *Result, index int, step Step, err error) {
	switch {
	case step.ExpectError != "" && err == nil:
		result.AddError(fmt.Sprintf("steps[%d] %s: expected error containing %q, got success", index, step.Action, step.ExpectError))
	case step.ExpectError != "" && !strings.Contains(err.Error(), step.ExpectError):
		result.AddError(fmt.Sprintf("steps[%d] %s: expected error containing %q, got %v", index, step.Action, step.ExpectError, err))
	case step.ExpectError == "" && err != nil:
		result.AddError(fmt.Sprintf("steps[%d] %s: %v", index, step.Action, err))
	}
}

func (h *Harness) setBattery(level *float64) {
	if level == nil {
		h.battery.SetUnavailable()
		return
	}
	h.battery.Set(*level)
}

func (h *Harness) observe(source string) notify.Observer {
	collect := notify.ObserverFunc(func(ev notify.Event) {
		h.mu.Lock()
		h.pending = append(h.pending, sourced{source: source, ev: ev})
		h.mu.Unlock()
	})
	return notify.Multi(collect, h.recorder, h.observer)
}

func (h *Harness) drain() []sourced {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.pending
	h.pending = nil
	return out
}

func (h *Harness) startPublisher() error {
	opts, err := h.cfg.PublisherOptions(
		resolution.WithBattery(h.battery),
		resolution.WithClock(h.clock.Now),
	)
	if err != nil {
		return err
	}
	opts = append(opts,
		publisher.WithSampler(h.sampler),
		publisher.WithObserver(h.observe(SourcePublisher)),
		publisher.WithLogger(h.logger),
		publisher.WithSequencer(h.seq),
	)
	h.conn = h.hub.Connect(SourcePublisher)
	h.pub, err = publisher.New(h.conn, opts...)
	return err
}

// settle waits until the hub has delivered every callback and no engine has
// work left.
func (h *Harness) settle(ctx context.Context) error {
	for i := 0; i < settleRounds; i++ {
		h.hub.Flush()
		if !h.stopped[SourcePublisher] {
			if err := h.pub.WaitIdle(ctx); err != nil {
				return err
			}
		}
		for _, client := range h.clients() {
			if h.stopped[client] {
				continue
			}
			if err := h.subs[client].WaitIdle(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *Harness) clients() []string {
	out := make([]string, 0, len(h.subs))
	for client := range h.subs {
		out = append(out, client)
	}
	sort.Strings(out)
	return out
}

func (h *Harness) execute(ctx context.Context, step Step) error {
	switch step.Action {
	case ActionTrack, ActionAdd:
		t := h.trackable(step)
		if step.Action == ActionTrack {
			return h.pub.Track(ctx, t)
		}
		return h.pub.Add(ctx, t)

	case ActionRemove:
		removed, err := h.pub.Remove(ctx, step.Trackable)
		if err == nil && !removed {
			err = engine.NewTrackableNotFoundError(step.Trackable)
		}
		return err

	case ActionSetDestination:
		return h.pub.SetDestination(ctx, step.Trackable, step.Destination)

	case ActionLocation:
		l := step.Location.Location(testutil.Epoch)
		h.clock.Set(l.Timestamp)
		return h.pub.UpdateLocation(l)

	case ActionBattery:
		h.setBattery(step.Battery)
		return nil

	case ActionFailPublishes:
		var cause error
		if step.Error != "" {
			cause = errors.New(step.Error)
		}
		h.hub.FailPublishes(channelName(step.Trackable), step.Count, cause)
		return nil

	case ActionChannelState:
		h.conn.SetChannelState(channelName(step.Trackable), channelStates[step.State], stepCause(step))
		return nil

	case ActionConnectionState:
		h.conn.SetState(transportStates[step.State], stepCause(step))
		return nil

	case ActionSubscribe:
		return h.subscribe(ctx, step)

	case ActionChangeResolution:
		sub, err := h.subscriber(step.Client)
		if err != nil {
			return err
		}
		return sub.ChangeResolution(ctx, step.Resolution)

	case ActionUnsubscribe:
		sub, err := h.subscriber(step.Client)
		if err != nil {
			return err
		}
		err = sub.Stop(ctx)
		h.stopped[step.Client] = true
		return err

	case ActionStop:
		err := h.pub.Stop(ctx)
		h.stopped[SourcePublisher] = true
		return err
	}
	return fmt.Errorf("unknown action %q", step.Action)
}

// trackable builds the step's trackable. Fields the step leaves out are
// taken from the configured trackable of the same ID.
func (h *Harness) trackable(step Step) model.Trackable {
	t, ok := h.cfg.Trackable(step.Trackable)
	if !ok {
		t = model.Trackable{ID: step.Trackable}
	}
	if step.Destination != nil {
		t.Destination = step.Destination
	}
	if step.Constraints != nil {
		t.Constraints = step.Constraints
	}
	return t
}

func (h *Harness) subscribe(ctx context.Context, step Step) error {
	if _, exists := h.subs[step.Client]; exists {
		return fmt.Errorf("subscriber %q already exists", step.Client)
	}
	opts := []subscriber.Option{
		subscriber.WithCodec(h.codec),
		subscriber.WithObserver(h.observe(step.Client)),
		subscriber.WithLogger(h.logger),
		subscriber.WithSequencer(h.seq),
	}
	if step.Resolution != nil {
		opts = append(opts, subscriber.WithResolution(*step.Resolution))
	}
	sub, err := subscriber.New(h.hub.Connect(step.Client), step.Trackable, opts...)
	if err != nil {
		return err
	}
	h.subs[step.Client] = sub
	return sub.Start(ctx)
}

func (h *Harness) subscriber(client string) (*subscriber.Subscriber, error) {
	sub, ok := h.subs[client]
	if !ok {
		return nil, fmt.Errorf("unknown subscriber %q", client)
	}
	return sub, nil
}

func (h *Harness) collectFinal(ctx context.Context, result *Result) error {
	for _, r := range h.sampler.Configured() {
		result.Sampler = append(result.Sampler, r.String())
	}
	if last, ok := h.sampler.Last(); ok {
		result.Aggregate = last.String()
	}

	for _, ev := range result.Trace {
		if ev.Source == SourcePublisher && ev.Trackable != "" {
			result.Published[ev.Trackable] = len(h.hub.Published(channelName(ev.Trackable)))
		}
	}

	if h.stopped[SourcePublisher] {
		return nil
	}
	snap, err := h.pub.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	for id, ts := range snap.Trackables {
		result.Final[id] = ts.State.String()
	}
	return nil
}

// teardown stops whatever is still running. Its events reach the journal
// but not the trace.
func (h *Harness) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, client := range h.clients() {
		if !h.stopped[client] {
			_ = h.subs[client].Stop(ctx)
		}
	}
	if !h.stopped[SourcePublisher] {
		_ = h.pub.Stop(ctx)
	}
}

func channelName(trackableID string) string {
	return model.Trackable{ID: model.NormalizeID(trackableID)}.ChannelName()
}

func stepCause(step Step) error {
	if step.Error == "" {
		return nil
	}
	return errors.New(step.Error)
}
