package wire

import (
	"fmt"
	"math"
	"time"

	"github.com/roach88/waypoint/internal/model"
)

const (
	featureType = "Feature"
	pointType   = "Point"
)

// Feature is a GeoJSON Feature whose geometry is a single Point.
type Feature struct {
	Type       string     `json:"type"`
	Geometry   Geometry   `json:"geometry"`
	Properties Properties `json:"properties"`
}

// Geometry is a GeoJSON Point. Coordinates are [longitude, latitude].
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// Properties carries the sample metadata.
type Properties struct {
	AccuracyHorizontal float64 `json:"accuracyHorizontal"`
	Altitude           float64 `json:"altitude"`
	Bearing            float64 `json:"bearing"`
	Speed              float64 `json:"speed"`
	// Time is seconds since the Unix epoch with millisecond precision.
	Time float64 `json:"time"`
}

// FeatureFromLocation validates l and converts it to a Feature.
func FeatureFromLocation(l model.Location) (Feature, error) {
	if err := l.Validate(); err != nil {
		return Feature{}, fmt.Errorf("encode location: %w", err)
	}
	return Feature{
		Type: featureType,
		Geometry: Geometry{
			Type:        pointType,
			Coordinates: []float64{l.Longitude, l.Latitude},
		},
		Properties: Properties{
			AccuracyHorizontal: l.Accuracy,
			Altitude:           l.Altitude,
			Bearing:            l.Bearing,
			Speed:              l.Speed,
			Time:               float64(l.Timestamp.UnixMilli()) / 1000,
		},
	}, nil
}

// Location converts f back to a sample, rejecting malformed geometry and
// out-of-range values.
func (f Feature) Location() (model.Location, error) {
	if f.Type != featureType {
		return model.Location{}, fmt.Errorf("decode location: type %q is not %q", f.Type, featureType)
	}
	if f.Geometry.Type != pointType {
		return model.Location{}, fmt.Errorf("decode location: geometry %q is not %q", f.Geometry.Type, pointType)
	}
	if n := len(f.Geometry.Coordinates); n < 2 {
		return model.Location{}, fmt.Errorf("decode location: point needs 2 coordinates, got %d", n)
	}

	l := model.Location{
		Coordinate: model.Coordinate{
			Longitude: f.Geometry.Coordinates[0],
			Latitude:  f.Geometry.Coordinates[1],
		},
		Accuracy:  f.Properties.AccuracyHorizontal,
		Altitude:  f.Properties.Altitude,
		Bearing:   f.Properties.Bearing,
		Speed:     f.Properties.Speed,
		Timestamp: time.UnixMilli(int64(math.Round(f.Properties.Time * 1000))).UTC(),
	}
	if err := l.Validate(); err != nil {
		return model.Location{}, fmt.Errorf("decode location: %w", err)
	}
	return l, nil
}
