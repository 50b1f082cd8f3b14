package model

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Accuracy is the positional accuracy requested from the location sampler.
// Values are ordered: a greater Accuracy is more precise.
type Accuracy int

const (
	AccuracyMinimum Accuracy = iota + 1
	AccuracyLow
	AccuracyBalanced
	AccuracyHigh
	AccuracyMaximum
)

var accuracyNames = map[Accuracy]string{
	AccuracyMinimum:  "minimum",
	AccuracyLow:      "low",
	AccuracyBalanced: "balanced",
	AccuracyHigh:     "high",
	AccuracyMaximum:  "maximum",
}

// String returns the lowercase name of the accuracy.
func (a Accuracy) String() string {
	if name, ok := accuracyNames[a]; ok {
		return name
	}
	return fmt.Sprintf("accuracy(%d)", int(a))
}

// Valid reports whether a is one of the declared accuracies.
func (a Accuracy) Valid() bool {
	_, ok := accuracyNames[a]
	return ok
}

// ParseAccuracy converts a name such as "high" into an Accuracy.
func ParseAccuracy(s string) (Accuracy, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for a, name := range accuracyNames {
		if name == want {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown accuracy %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (a Accuracy) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("invalid accuracy %d", int(a))
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Accuracy) UnmarshalText(text []byte) error {
	parsed, err := ParseAccuracy(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Resolution governs how often and how precisely locations are sampled and
// published. Equality is structural.
type Resolution struct {
	Accuracy            Accuracy      `json:"accuracy" yaml:"accuracy"`
	DesiredInterval     time.Duration `json:"desired_interval" yaml:"desired_interval"`
	MinimumDisplacement float64       `json:"minimum_displacement" yaml:"minimum_displacement"`
}

// Validate checks that the resolution can be handed to a sampler.
func (r Resolution) Validate() error {
	if !r.Accuracy.Valid() {
		return fmt.Errorf("resolution: invalid accuracy %d", int(r.Accuracy))
	}
	if r.DesiredInterval < 0 {
		return fmt.Errorf("resolution: desired interval must not be negative, got %s", r.DesiredInterval)
	}
	if r.MinimumDisplacement < 0 {
		return fmt.Errorf("resolution: minimum displacement must not be negative, got %g", r.MinimumDisplacement)
	}
	return nil
}

// WithIntervalMultiplied returns a copy of r whose desired interval is scaled
// by m. Results beyond the range of time.Duration saturate at its maximum.
func (r Resolution) WithIntervalMultiplied(m float64) Resolution {
	scaled := float64(r.DesiredInterval) * m
	if !(scaled < math.MaxInt64) {
		r.DesiredInterval = math.MaxInt64
		return r
	}
	r.DesiredInterval = time.Duration(scaled)
	return r
}

// String renders the resolution for logs.
func (r Resolution) String() string {
	return fmt.Sprintf("%s/%s/%gm", r.Accuracy, r.DesiredInterval, r.MinimumDisplacement)
}

// MoreDemanding reports whether r should win over other when choosing a
// single resolution for several consumers: the smaller interval wins, then
// the smaller displacement, then the higher accuracy.
func (r Resolution) MoreDemanding(other Resolution) bool {
	if r.DesiredInterval != other.DesiredInterval {
		return r.DesiredInterval < other.DesiredInterval
	}
	if r.MinimumDisplacement != other.MinimumDisplacement {
		return r.MinimumDisplacement < other.MinimumDisplacement
	}
	return r.Accuracy > other.Accuracy
}
