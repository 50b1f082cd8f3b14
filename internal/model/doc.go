// Package model provides the value types shared by every waypoint package.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import model; model imports nothing internal, which keeps
// it the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Resolution is a comparable value type (usable as a map key)
//   - Distances are meters, intervals are time.Duration
//   - Trackable IDs are NFC normalized at construction
package model
