package attendance

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/apperr"
	"rollcall/internal/settings"
)

// Registry owns attendance-session state: creation, explicit close, and
// token validation with lazy expiry detection.
type Registry struct {
	store        Store
	settings     settings.Provider
	frontendBase string
	log          *slog.Logger
}

// NewRegistry creates a registry.
func NewRegistry(store Store, provider settings.Provider, frontendBase string, log *slog.Logger) *Registry {
	return &Registry{store: store, settings: provider, frontendBase: frontendBase, log: log}
}

// CreateSessionInput is the teacher-supplied session request.
type CreateSessionInput struct {
	CourseID        string
	TeacherID       string
	SessionName     *string
	SessionDate     string // "2006-01-02", defaults to today (UTC)
	DurationMinutes *int   // defaults to the configured maximum
}

// CreateSession validates the requested duration against the configured
// range and opens a new session. The hard deadline is always start + max
// duration regardless of the requested window, which bounds the worst-case
// exposure of a leaked token; the QR soft expiry tracks the requested
// duration.
func (r *Registry) CreateSession(ctx context.Context, in CreateSessionInput) (Session, string, error) {
	if in.CourseID == "" || in.TeacherID == "" {
		return Session{}, "", apperr.Validation("course and teacher required")
	}

	cfg, err := r.settings.Current(ctx)
	if err != nil {
		return Session{}, "", fmt.Errorf("load settings: %w", err)
	}

	duration := cfg.MaxSessionDurationMinutes
	if in.DurationMinutes != nil {
		duration = *in.DurationMinutes
	}
	if duration < cfg.MinSessionDurationMinutes || duration > cfg.MaxSessionDurationMinutes {
		return Session{}, "", apperr.Validation(fmt.Sprintf(
			"duration must be between %d and %d minutes",
			cfg.MinSessionDurationMinutes, cfg.MaxSessionDurationMinutes))
	}

	now := time.Now().UTC()
	date := in.SessionDate
	if date == "" {
		date = now.Format("2006-01-02")
	} else if _, perr := time.Parse("2006-01-02", date); perr != nil {
		return Session{}, "", apperr.Validation("session_date must be YYYY-MM-DD")
	}

	token, err := newToken()
	if err != nil {
		return Session{}, "", fmt.Errorf("generate token: %w", err)
	}

	s := Session{
		ID:            uuid.NewString(),
		CourseID:      in.CourseID,
		TeacherID:     in.TeacherID,
		SessionName:   in.SessionName,
		SessionDate:   date,
		StartTime:     now,
		QRToken:       token,
		QRExpiresAt:   now.Add(time.Duration(duration) * time.Minute),
		HardExpiresAt: now.Add(time.Duration(cfg.MaxSessionDurationMinutes) * time.Minute),
		IsOpen:        true,
	}
	s, err = r.store.InsertSession(ctx, s)
	if err != nil {
		return Session{}, "", fmt.Errorf("insert session: %w", err)
	}

	r.log.Info("session opened",
		"session_id", s.ID, "course_id", s.CourseID, "hard_expires_at", s.HardExpiresAt)
	return s, r.qrURL(s), nil
}

// CloseSession closes a session on behalf of its owner. Closing an already
// closed session is a conflict, not a silent no-op, so the teacher client
// can tell the difference.
func (r *Registry) CloseSession(ctx context.Context, sessionID, actorID string) (Session, error) {
	s, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	if s == nil {
		return Session{}, apperr.Rejected("invalid session")
	}
	if s.TeacherID != actorID {
		return Session{}, apperr.Forbidden("not the session owner")
	}
	if !s.IsOpen {
		return Session{}, apperr.Conflict("session already closed")
	}

	now := time.Now().UTC()
	if _, err := r.store.CloseSession(ctx, s.ID, now); err != nil {
		return Session{}, fmt.Errorf("close session: %w", err)
	}
	s.IsOpen = false
	s.EndTime = &now
	r.log.Info("session closed", "session_id", s.ID, "actor_id", actorID)
	return *s, nil
}

// Validation is the public answer to "can this QR code still be used".
type Validation struct {
	Valid       bool
	Reason      string
	CourseName  string
	TeacherName string
	SessionName string
	IsOpen      bool
	RequiresGeo bool
}

// ValidateToken checks a scanned session/token pair. A missing session and
// a token mismatch both yield the same generic reason; the endpoint is
// unauthenticated and must not confirm which ids exist. Expiry is detected
// lazily here, independent of the sweeper.
func (r *Registry) ValidateToken(ctx context.Context, sessionID, token string) (Validation, error) {
	s, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return Validation{}, fmt.Errorf("get session: %w", err)
	}
	if s == nil || !tokenMatches(s.QRToken, token) {
		return Validation{Valid: false, Reason: "invalid session or token"}, nil
	}

	now := time.Now().UTC()
	if now.After(s.Deadline()) {
		if err := lazyClose(ctx, r.store, s); err != nil {
			return Validation{}, err
		}
		return Validation{Valid: false, Reason: "expired"}, nil
	}
	if !s.IsOpen {
		return Validation{Valid: false, Reason: "closed"}, nil
	}

	cfg, err := r.settings.Current(ctx)
	if err != nil {
		return Validation{}, fmt.Errorf("load settings: %w", err)
	}
	courseName, err := r.store.CourseName(ctx, s.CourseID)
	if err != nil {
		return Validation{}, fmt.Errorf("course lookup: %w", err)
	}
	teacherName, err := r.store.TeacherName(ctx, s.TeacherID)
	if err != nil {
		return Validation{}, fmt.Errorf("teacher lookup: %w", err)
	}

	v := Validation{
		Valid:       true,
		CourseName:  courseName,
		TeacherName: teacherName,
		IsOpen:      true,
		RequiresGeo: cfg.GeofenceEnabled && cfg.GeoRequired,
	}
	if s.SessionName != nil {
		v.SessionName = *s.SessionName
	}
	return v, nil
}

func (r *Registry) qrURL(s Session) string {
	return fmt.Sprintf("%s/attendance/qr?session_id=%s&token=%s",
		r.frontendBase, url.QueryEscape(s.ID), url.QueryEscape(s.QRToken))
}

// lazyClose converges an expired session to closed, stamping end_time with
// the deadline that passed rather than the observation time. Idempotent:
// whichever of the registry, gatekeeper, or sweeper fires first wins.
func lazyClose(ctx context.Context, store Store, s *Session) error {
	deadline := s.Deadline()
	if _, err := store.CloseSession(ctx, s.ID, deadline); err != nil {
		return fmt.Errorf("lazy close: %w", err)
	}
	s.IsOpen = false
	s.EndTime = &deadline
	return nil
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// tokenMatches compares in constant time; the token is a shared secret.
func tokenMatches(stored, presented string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}
