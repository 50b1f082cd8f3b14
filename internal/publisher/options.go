package publisher

import (
	"log/slog"
	"time"

	"github.com/roach88/waypoint/internal/engine"
	"github.com/roach88/waypoint/internal/model"
	"github.com/roach88/waypoint/internal/notify"
	"github.com/roach88/waypoint/internal/resolution"
	"github.com/roach88/waypoint/internal/wire"
)

// DefaultMaxRetryCount is the number of retries a failed send gets before
// its batch is dropped.
const DefaultMaxRetryCount = 3

// DefaultResolution is used for trackables without constraints when no
// policy is supplied.
var DefaultResolution = model.Resolution{
	Accuracy:            model.AccuracyBalanced,
	DesiredInterval:     5 * time.Second,
	MinimumDisplacement: 10,
}

// Sampler is the location source. Configure is called whenever the
// aggregate resolution changes.
type Sampler interface {
	Configure(model.Resolution)
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func(model.Resolution)

// Configure implements Sampler.
func (f SamplerFunc) Configure(r model.Resolution) { f(r) }

// Sequencer stamps events. engine.Clock implements it.
type Sequencer interface {
	Next() int64
}

// Option configures a Publisher.
type Option func(*config)

type config struct {
	policy        *resolution.Policy
	sampler       Sampler
	observer      notify.Observer
	codec         wire.Codec
	maxRetryCount int
	logger        *slog.Logger
	seq           Sequencer
}

func defaultConfig() config {
	return config{
		policy:        resolution.NewPolicy(DefaultResolution),
		sampler:       SamplerFunc(func(model.Resolution) {}),
		observer:      notify.Discard,
		codec:         wire.JSON,
		maxRetryCount: DefaultMaxRetryCount,
		logger:        slog.Default(),
		seq:           engine.NewClock(),
	}
}

// WithPolicy sets the resolution policy.
func WithPolicy(p *resolution.Policy) Option {
	return func(c *config) {
		if p != nil {
			c.policy = p
		}
	}
}

// WithSampler sets the location source to reconfigure.
func WithSampler(s Sampler) Option {
	return func(c *config) {
		if s != nil {
			c.sampler = s
		}
	}
}

// WithObserver sets the event observer. Use notify.Multi for several.
func WithObserver(o notify.Observer) Option {
	return func(c *config) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithCodec sets the payload codec. Default: wire.JSON.
func WithCodec(codec wire.Codec) Option {
	return func(c *config) {
		if codec != nil {
			c.codec = codec
		}
	}
}

// WithMaxRetryCount sets how many times a failed send is retried before its
// batch is dropped. Default: DefaultMaxRetryCount.
func WithMaxRetryCount(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.maxRetryCount = n
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithSequencer sets the source of event sequence numbers.
func WithSequencer(s Sequencer) Option {
	return func(c *config) {
		if s != nil {
			c.seq = s
		}
	}
}
