package resolution

import "github.com/roach88/waypoint/internal/model"

// Accept reports whether next should be published given the last accepted
// sample and the trackable's resolution. The first sample is always
// accepted; later ones must have moved at least the minimum displacement or
// be at least the desired interval apart.
func Accept(last *model.Location, next model.Location, r model.Resolution) bool {
	if last == nil {
		return true
	}
	if model.Distance(last.Coordinate, next.Coordinate) >= r.MinimumDisplacement {
		return true
	}
	return next.Timestamp.Sub(last.Timestamp) >= r.DesiredInterval
}
