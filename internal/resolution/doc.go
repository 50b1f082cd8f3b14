// Package resolution implements the resolution policy: it turns per-trackable
// constraints, remote subscriber requests, proximity to a destination and
// battery level into concrete sampling resolutions.
//
// Everything here is pure computation. The battery level and the wall clock
// are injected so that Resolve is deterministic for identical inputs.
package resolution
