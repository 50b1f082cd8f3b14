package resolution

import (
	"errors"
	"time"

	"github.com/roach88/waypoint/internal/model"
)

// Defaults applied to trackables that carry no constraints.
const (
	DefaultBatteryLevelThreshold = 15.0
	DefaultLowBatteryMultiplier  = 2.0
)

// ErrNoResolutionAvailable is returned when an aggregate is requested over
// an empty set. Callers keep their previous aggregate.
var ErrNoResolutionAvailable = errors.New("no resolution available")

// Battery reports the device battery level as a percentage in 0..100.
// ok is false when the platform cannot report it.
type Battery interface {
	CurrentBatteryPercentage() (level float64, ok bool)
}

// BatteryFunc adapts a function to Battery.
type BatteryFunc func() (float64, bool)

// CurrentBatteryPercentage implements Battery.
func (f BatteryFunc) CurrentBatteryPercentage() (float64, bool) { return f() }

type unavailableBattery struct{}

func (unavailableBattery) CurrentBatteryPercentage() (float64, bool) { return 0, false }

// Reading is where a trackable currently stands relative to its destination.
// Nil fields are unknown.
type Reading struct {
	// DistanceToDestination is in meters.
	DistanceToDestination *float64
	EstimatedArrival      *time.Time
}

// Request is the input for resolving a single trackable.
type Request struct {
	Trackable model.Trackable
	Reading   Reading

	// Subscribers is the number of remote subscribers present, with or
	// without a resolution preference.
	Subscribers int

	// RemoteRequests holds the resolutions those subscribers asked for.
	RemoteRequests []model.Resolution
}

// HasSubscriber reports whether any remote subscriber is present. A remote
// request implies a subscriber even when Subscribers is not set.
func (r Request) HasSubscriber() bool {
	return r.Subscribers > 0 || len(r.RemoteRequests) > 0
}

// Policy computes resolutions. A Policy is safe for concurrent use as long as
// the injected Battery is.
type Policy struct {
	defaultResolution model.Resolution
	battery           Battery
	now               func() time.Time
}

// PolicyOption configures a Policy.
type PolicyOption func(*Policy)

// WithBattery sets the battery accessor. Without it the battery is treated
// as unavailable, which never counts as low.
func WithBattery(b Battery) PolicyOption {
	return func(p *Policy) {
		if b != nil {
			p.battery = b
		}
	}
}

// WithClock sets the wall clock used for temporal proximity.
func WithClock(now func() time.Time) PolicyOption {
	return func(p *Policy) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPolicy creates a Policy that falls back to defaultResolution for
// trackables without constraints.
func NewPolicy(defaultResolution model.Resolution, opts ...PolicyOption) *Policy {
	p := &Policy{
		defaultResolution: defaultResolution,
		battery:           unavailableBattery{},
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DefaultResolution returns the fallback resolution.
func (p *Policy) DefaultResolution() model.Resolution {
	return p.defaultResolution
}

// Resolve computes the resolution for one trackable.
//
// With constraints, one cell of the matrix is chosen by two axes: near (the
// reading is inside the proximity threshold) and hasSubscriber (see
// Request.HasSubscriber). Without constraints the most demanding remote
// request is used, or the default resolution when there is none. Either way
// the interval is stretched while the battery is low.
func (p *Policy) Resolve(req Request) model.Resolution {
	c := req.Trackable.Constraints
	if c == nil || c.Validate() != nil {
		selected := p.defaultResolution
		if remote, err := MostDemanding(req.RemoteRequests); err == nil {
			selected = remote
		}
		return p.adjustForBattery(selected, DefaultBatteryLevelThreshold, DefaultLowBatteryMultiplier)
	}

	near := IsNear(c.ProximityThreshold, req.Reading, p.now())
	selected := c.Resolutions.Select(near, req.HasSubscriber())
	return p.adjustForBattery(selected, c.BatteryLevelThreshold, c.LowBatteryMultiplier)
}

// ResolveSet reduces per-trackable resolutions to the single aggregate used
// to configure the sampler. See MostDemanding.
func (p *Policy) ResolveSet(resolutions []model.Resolution) (model.Resolution, error) {
	return MostDemanding(resolutions)
}

func (p *Policy) adjustForBattery(r model.Resolution, threshold, multiplier float64) model.Resolution {
	level, ok := p.battery.CurrentBatteryPercentage()
	if !ok || level >= threshold {
		return r
	}
	return r.WithIntervalMultiplied(multiplier)
}

// MostDemanding returns the resolution with the smallest desired interval,
// breaking ties by the smallest minimum displacement and then the highest
// accuracy. An empty input yields ErrNoResolutionAvailable.
func MostDemanding(resolutions []model.Resolution) (model.Resolution, error) {
	if len(resolutions) == 0 {
		return model.Resolution{}, ErrNoResolutionAvailable
	}
	best := resolutions[0]
	for _, r := range resolutions[1:] {
		if r.MoreDemanding(best) {
			best = r
		}
	}
	return best, nil
}

// IsNear reports whether the reading lies inside the threshold. When both a
// spatial and a temporal threshold are configured, meeting either counts.
// Comparisons are strict: a distance equal to the threshold is far.
func IsNear(threshold model.Proximity, reading Reading, now time.Time) bool {
	if threshold.Spatial != nil && reading.DistanceToDestination != nil {
		if *reading.DistanceToDestination < *threshold.Spatial {
			return true
		}
	}
	if threshold.Temporal != nil && reading.EstimatedArrival != nil {
		if reading.EstimatedArrival.Sub(now) < *threshold.Temporal {
			return true
		}
	}
	return false
}
