package model

import (
	"errors"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ChannelPrefix namespaces the transport channel of every trackable.
const ChannelPrefix = "tracking:"

// ErrEmptyTrackableID is returned when a trackable is created without an ID.
var ErrEmptyTrackableID = errors.New("trackable id must not be empty")

// Trackable is the moving entity whose position is published.
// The engine owns a Trackable between Add and Remove.
type Trackable struct {
	ID          string       `json:"id" yaml:"id"`
	Destination *Coordinate  `json:"destination,omitempty" yaml:"destination,omitempty"`
	Constraints *Constraints `json:"constraints,omitempty" yaml:"constraints,omitempty"`
}

// NewTrackable returns a Trackable whose ID is NFC normalized so that
// visually identical IDs map onto the same channel.
func NewTrackable(id string) (Trackable, error) {
	id = NormalizeID(id)
	if id == "" {
		return Trackable{}, ErrEmptyTrackableID
	}
	return Trackable{ID: id}, nil
}

// NormalizeID trims and NFC normalizes a trackable ID.
func NormalizeID(id string) string {
	return norm.NFC.String(strings.TrimSpace(id))
}

// ChannelName is the transport channel carrying this trackable's updates.
func (t Trackable) ChannelName() string {
	return ChannelPrefix + t.ID
}

// Validate checks the ID, destination and constraints.
func (t Trackable) Validate() error {
	if NormalizeID(t.ID) == "" {
		return ErrEmptyTrackableID
	}
	var errs []error
	if t.Destination != nil {
		if err := t.Destination.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if t.Constraints != nil {
		if err := t.Constraints.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
