package settings

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DBProvider reads the settings row from Postgres, caching it for a short
// TTL so the submission hot path does not hit the table on every request.
// When the row is missing or the read fails, the configured defaults are
// returned instead; the pipeline never stalls on settings.
type DBProvider struct {
	db       *sql.DB
	defaults Settings
	ttl      time.Duration
	log      *slog.Logger

	mu        sync.Mutex
	cached    Settings
	fetchedAt time.Time
}

// NewDBProvider creates a provider with the given fallback defaults.
func NewDBProvider(db *sql.DB, defaults Settings, ttl time.Duration, log *slog.Logger) *DBProvider {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &DBProvider{db: db, defaults: defaults, ttl: ttl, log: log}
}

// Current returns the cached snapshot, refreshing it when stale.
func (p *DBProvider) Current(ctx context.Context) (Settings, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.fetchedAt.IsZero() && time.Since(p.fetchedAt) < p.ttl {
		return p.cached, nil
	}

	s, err := p.fetch(ctx)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			p.log.Warn("settings read failed, using defaults", "error", err)
		}
		s = p.defaults
	}
	p.cached = s
	p.fetchedAt = time.Now()
	return s, nil
}

func (p *DBProvider) fetch(ctx context.Context) (Settings, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT min_session_duration_minutes, max_session_duration_minutes,
		       max_submissions_per_device_per_session, max_submissions_per_ip_per_session,
		       geofence_enabled, geofence_center_lat, geofence_center_lng,
		       geofence_radius_meters, geo_required, offline_retries_allowed
		FROM attendance_settings
		LIMIT 1
	`)
	s := p.defaults
	var (
		minDur, maxDur, perDevice, perIP, retries sql.NullInt64
		geoEnabled, geoRequired                   sql.NullBool
		lat, lng, radius                          sql.NullFloat64
	)
	if err := row.Scan(&minDur, &maxDur, &perDevice, &perIP,
		&geoEnabled, &lat, &lng, &radius, &geoRequired, &retries); err != nil {
		return Settings{}, err
	}
	if minDur.Valid {
		s.MinSessionDurationMinutes = int(minDur.Int64)
	}
	if maxDur.Valid {
		s.MaxSessionDurationMinutes = int(maxDur.Int64)
	}
	if perDevice.Valid {
		s.MaxSubmissionsPerDevicePerSession = int(perDevice.Int64)
	}
	if perIP.Valid {
		s.MaxSubmissionsPerIPPerSession = int(perIP.Int64)
	}
	if geoEnabled.Valid {
		s.GeofenceEnabled = geoEnabled.Bool
	}
	if lat.Valid {
		s.GeofenceCenterLat = lat.Float64
	}
	if lng.Valid {
		s.GeofenceCenterLng = lng.Float64
	}
	if radius.Valid {
		s.GeofenceRadiusMeters = radius.Float64
	}
	if geoRequired.Valid {
		s.GeoRequired = geoRequired.Bool
	}
	if retries.Valid {
		s.OfflineRetriesAllowed = int(retries.Int64)
	}
	return s, nil
}
