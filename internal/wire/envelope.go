package wire

import (
	"fmt"

	"github.com/roach88/waypoint/internal/delivery"
	"github.com/roach88/waypoint/internal/model"
)

// EventEnhancedLocation is the channel event name carrying an Envelope.
const EventEnhancedLocation = "enhanced"

// Envelope is the payload of one delivery: the newest sample and the
// samples skipped before it, oldest first.
type Envelope struct {
	Location         Feature   `json:"location"`
	SkippedLocations []Feature `json:"skippedLocations"`
}

// EnvelopeFromBatch validates and converts every sample of b.
func EnvelopeFromBatch(b delivery.Batch) (Envelope, error) {
	loc, err := FeatureFromLocation(b.Location)
	if err != nil {
		return Envelope{}, err
	}
	env := Envelope{Location: loc, SkippedLocations: make([]Feature, 0, len(b.SkippedLocations))}
	for i, s := range b.SkippedLocations {
		f, err := FeatureFromLocation(s)
		if err != nil {
			return Envelope{}, fmt.Errorf("skipped location %d: %w", i, err)
		}
		env.SkippedLocations = append(env.SkippedLocations, f)
	}
	return env, nil
}

// Batch converts e back to a delivery batch.
func (e Envelope) Batch() (delivery.Batch, error) {
	loc, err := e.Location.Location()
	if err != nil {
		return delivery.Batch{}, err
	}
	b := delivery.Batch{Location: loc}
	if len(e.SkippedLocations) > 0 {
		b.SkippedLocations = make([]model.Location, 0, len(e.SkippedLocations))
	}
	for i, f := range e.SkippedLocations {
		l, err := f.Location()
		if err != nil {
			return delivery.Batch{}, fmt.Errorf("skipped location %d: %w", i, err)
		}
		b.SkippedLocations = append(b.SkippedLocations, l)
	}
	return b, nil
}

// EncodeBatch validates b and marshals it as an Envelope.
func EncodeBatch(c Codec, b delivery.Batch) ([]byte, error) {
	env, err := EnvelopeFromBatch(b)
	if err != nil {
		return nil, err
	}
	data, err := c.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// DecodeBatch unmarshals and validates an Envelope.
func DecodeBatch(c Codec, data []byte) (delivery.Batch, error) {
	var env Envelope
	if err := c.Unmarshal(data, &env); err != nil {
		return delivery.Batch{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return env.Batch()
}
