package model

import (
	"errors"
	"fmt"
	"time"
)

// Proximity is a spatial and/or temporal threshold relative to a
// destination. A nil field is not configured.
type Proximity struct {
	// Spatial is a distance in meters.
	Spatial *float64 `json:"spatial,omitempty" yaml:"spatial,omitempty"`
	// Temporal is a time remaining until the estimated arrival.
	Temporal *time.Duration `json:"temporal,omitempty" yaml:"temporal,omitempty"`
}

// SpatialProximity builds a Proximity with only a distance threshold.
func SpatialProximity(meters float64) Proximity {
	return Proximity{Spatial: &meters}
}

// TemporalProximity builds a Proximity with only a time threshold.
func TemporalProximity(d time.Duration) Proximity {
	return Proximity{Temporal: &d}
}

// IsZero reports whether neither threshold is configured.
func (p Proximity) IsZero() bool {
	return p.Spatial == nil && p.Temporal == nil
}

// ResolutionSet is the 2x2 matrix of resolutions keyed by near/far and by
// whether remote subscribers are present.
type ResolutionSet struct {
	FarWithoutSubscriber  Resolution `json:"far_without_subscriber" yaml:"far_without_subscriber"`
	FarWithSubscriber     Resolution `json:"far_with_subscriber" yaml:"far_with_subscriber"`
	NearWithoutSubscriber Resolution `json:"near_without_subscriber" yaml:"near_without_subscriber"`
	NearWithSubscriber    Resolution `json:"near_with_subscriber" yaml:"near_with_subscriber"`
}

// UniformResolutionSet uses r for every cell.
func UniformResolutionSet(r Resolution) ResolutionSet {
	return ResolutionSet{
		FarWithoutSubscriber:  r,
		FarWithSubscriber:     r,
		NearWithoutSubscriber: r,
		NearWithSubscriber:    r,
	}
}

// Select returns the cell for the given axes.
func (s ResolutionSet) Select(near, hasSubscriber bool) Resolution {
	switch {
	case near && hasSubscriber:
		return s.NearWithSubscriber
	case near:
		return s.NearWithoutSubscriber
	case hasSubscriber:
		return s.FarWithSubscriber
	default:
		return s.FarWithoutSubscriber
	}
}

// Constraints are the per-trackable thresholds the resolution policy uses.
type Constraints struct {
	Resolutions           ResolutionSet `json:"resolutions" yaml:"resolutions"`
	ProximityThreshold    Proximity     `json:"proximity_threshold" yaml:"proximity_threshold"`
	BatteryLevelThreshold float64       `json:"battery_level_threshold" yaml:"battery_level_threshold"`
	LowBatteryMultiplier  float64       `json:"low_battery_multiplier" yaml:"low_battery_multiplier"`
}

// Validate checks the constraint ranges.
func (c Constraints) Validate() error {
	var errs []error
	if c.BatteryLevelThreshold < 0 || c.BatteryLevelThreshold > 100 {
		errs = append(errs, fmt.Errorf("battery level threshold must be within 0..100, got %g", c.BatteryLevelThreshold))
	}
	if c.LowBatteryMultiplier <= 0 {
		errs = append(errs, fmt.Errorf("low battery multiplier must be positive, got %g", c.LowBatteryMultiplier))
	}
	if c.ProximityThreshold.Spatial != nil && *c.ProximityThreshold.Spatial < 0 {
		errs = append(errs, fmt.Errorf("spatial proximity must not be negative, got %g", *c.ProximityThreshold.Spatial))
	}
	for name, r := range map[string]Resolution{
		"far_without_subscriber":  c.Resolutions.FarWithoutSubscriber,
		"far_with_subscriber":     c.Resolutions.FarWithSubscriber,
		"near_without_subscriber": c.Resolutions.NearWithoutSubscriber,
		"near_with_subscriber":    c.Resolutions.NearWithSubscriber,
	} {
		if err := r.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
