// Package settings exposes the verification thresholds consumed by the
// submission pipeline. The values are owned and edited elsewhere; this
// package only reads them.
package settings

import "context"

// Settings is the full set of thresholds the verification pipeline reads.
// Every field is compile-time known; there is no generic key/value access.
type Settings struct {
	MinSessionDurationMinutes         int
	MaxSessionDurationMinutes         int
	MaxSubmissionsPerDevicePerSession int
	MaxSubmissionsPerIPPerSession     int
	GeofenceEnabled                   bool
	GeofenceCenterLat                 float64
	GeofenceCenterLng                 float64
	GeofenceRadiusMeters              float64
	GeoRequired                       bool
	OfflineRetriesAllowed             int
}

// Provider returns the current settings. Implementations may cache; callers
// must treat the result as a point-in-time snapshot.
type Provider interface {
	Current(ctx context.Context) (Settings, error)
}

// Fixed is a Provider returning a constant snapshot, for dev and tests.
type Fixed struct {
	S Settings
}

// Current returns the fixed snapshot.
func (f Fixed) Current(context.Context) (Settings, error) {
	return f.S, nil
}
