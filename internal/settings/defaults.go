package settings

import "rollcall/internal/config"

// DefaultsFromConfig builds the fallback snapshot from env configuration.
func DefaultsFromConfig(cfg config.App) Settings {
	return Settings{
		MinSessionDurationMinutes:         cfg.DefaultMinSessionMinutes,
		MaxSessionDurationMinutes:         cfg.DefaultMaxSessionMinutes,
		MaxSubmissionsPerDevicePerSession: cfg.DefaultMaxPerDevice,
		MaxSubmissionsPerIPPerSession:     cfg.DefaultMaxPerIP,
		GeofenceEnabled:                   cfg.DefaultGeofenceEnabled,
		GeofenceCenterLat:                 cfg.DefaultGeofenceLat,
		GeofenceCenterLng:                 cfg.DefaultGeofenceLng,
		GeofenceRadiusMeters:              cfg.DefaultGeofenceRadiusM,
		GeoRequired:                       cfg.DefaultGeoRequired,
	}
}
