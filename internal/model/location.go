package model

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// earthRadiusMeters is the mean Earth radius used by Distance.
const earthRadiusMeters = 6371008.8

// Coordinate is a WGS84 position without sampling metadata.
type Coordinate struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// Validate checks latitude within [-90, 90] and longitude within [-180, 180].
func (c Coordinate) Validate() error {
	var errs []error
	if math.IsNaN(c.Latitude) || c.Latitude < -90 || c.Latitude > 90 {
		errs = append(errs, &ValidationError{Field: "latitude", Value: c.Latitude, Message: "must lie in [-90, 90]"})
	}
	if math.IsNaN(c.Longitude) || c.Longitude < -180 || c.Longitude > 180 {
		errs = append(errs, &ValidationError{Field: "longitude", Value: c.Longitude, Message: "must lie in [-180, 180]"})
	}
	return errors.Join(errs...)
}

// Location is a single sample emitted by the location sampler.
type Location struct {
	Coordinate
	Altitude float64 `json:"altitude"`
	// Accuracy is the horizontal accuracy radius in meters.
	Accuracy float64 `json:"accuracy"`
	Bearing  float64 `json:"bearing"`
	// Speed is in meters per second.
	Speed     float64   `json:"speed"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate applies the wire-level bounds: coordinates in range and a
// non-negative horizontal accuracy.
func (l Location) Validate() error {
	var errs []error
	if err := l.Coordinate.Validate(); err != nil {
		errs = append(errs, err)
	}
	if math.IsNaN(l.Accuracy) || l.Accuracy < 0 {
		errs = append(errs, &ValidationError{Field: "accuracy", Value: l.Accuracy, Message: "must not be negative"})
	}
	return errors.Join(errs...)
}

// ValidationError reports a location field outside its permitted range.
type ValidationError struct {
	Field   string
	Value   float64
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %g: %s", e.Field, e.Value, e.Message)
}

// IsValidationError reports whether err wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b Coordinate) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}
