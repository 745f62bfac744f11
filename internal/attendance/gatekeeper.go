package attendance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/apperr"
	"rollcall/internal/metrics"
	"rollcall/internal/settings"
)

// Gatekeeper runs the ordered verification pipeline on every submission.
// Each stage either passes or short-circuits with a rejection; some stages
// leave a fraud signal behind before rejecting. A rejected submission never
// writes a partial ledger entry — its only durable side effects are at most
// one signal and, for expiry, the session closure.
type Gatekeeper struct {
	store    Store
	settings settings.Provider
	signals  SignalSink
	log      *slog.Logger
}

// NewGatekeeper creates a gatekeeper.
func NewGatekeeper(store Store, provider settings.Provider, signals SignalSink, log *slog.Logger) *Gatekeeper {
	return &Gatekeeper{store: store, settings: provider, signals: signals, log: log}
}

// SubmitInput carries one student submission plus the transport-derived
// client facts.
type SubmitInput struct {
	SessionID string
	Token     string
	StudentID string
	DeviceID  string
	ClientIP  string
	UserAgent string
	Geo       *GeoPoint
}

// SubmitResult is the caller-visible outcome of an accepted submission.
type SubmitResult struct {
	AlreadyRecorded bool `json:"already_recorded"`
	Flagged         bool `json:"flagged"`
}

// Submit verifies and records one attendance submission.
func (g *Gatekeeper) Submit(ctx context.Context, in SubmitInput) (SubmitResult, error) {
	res, err := g.submit(ctx, in)
	switch {
	case err != nil:
		metrics.Submissions.WithLabelValues(metrics.ResultRejected).Inc()
	case res.AlreadyRecorded:
		metrics.Submissions.WithLabelValues(metrics.ResultDup).Inc()
	default:
		metrics.Submissions.WithLabelValues(metrics.ResultAccepted).Inc()
	}
	return res, err
}

func (g *Gatekeeper) submit(ctx context.Context, in SubmitInput) (SubmitResult, error) {
	studentCode := NormalizeStudentID(in.StudentID)
	if studentCode == "" {
		return SubmitResult{}, apperr.Validation("student id required")
	}

	s, err := g.store.GetSession(ctx, in.SessionID)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("get session: %w", err)
	}
	if s == nil {
		g.log.Debug("submission for unknown session", "session_id", in.SessionID, "ip", in.ClientIP)
		return SubmitResult{}, apperr.Rejected("invalid session or token")
	}
	if !tokenMatches(s.QRToken, in.Token) {
		g.log.Debug("token mismatch", "session_id", s.ID, "ip", in.ClientIP)
		return SubmitResult{}, apperr.Rejected("invalid session or token")
	}

	now := time.Now().UTC()
	if now.After(s.Deadline()) {
		if err := lazyClose(ctx, g.store, s); err != nil {
			return SubmitResult{}, err
		}
		g.signals.Record(ctx, Signal{
			SessionID:      s.ID,
			CourseID:       s.CourseID,
			ClientDeviceID: in.DeviceID,
			ClientIP:       in.ClientIP,
			Type:           SignalSessionExpired,
			Details:        fmt.Sprintf("submission %s after deadline %s", now.Format(time.RFC3339), s.Deadline().Format(time.RFC3339)),
		})
		return SubmitResult{}, apperr.Rejected("session expired")
	}
	if !s.IsOpen {
		return SubmitResult{}, apperr.Rejected("session closed")
	}

	cfg, err := g.settings.Current(ctx)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("load settings: %w", err)
	}

	// Per-IP cap. The count is a non-locking read: two racing submissions
	// can both see limit-1 and both pass, briefly exceeding the cap. That
	// is accepted — this is a deterrent, not a hard quota.
	if cfg.MaxSubmissionsPerIPPerSession > 0 && in.ClientIP != "" {
		n, err := g.store.CountRecordsByIP(ctx, s.ID, in.ClientIP)
		if err != nil {
			return SubmitResult{}, fmt.Errorf("count by ip: %w", err)
		}
		if n >= cfg.MaxSubmissionsPerIPPerSession {
			g.signals.Record(ctx, Signal{
				SessionID:      s.ID,
				CourseID:       s.CourseID,
				ClientDeviceID: in.DeviceID,
				ClientIP:       in.ClientIP,
				Type:           SignalTooManySameIP,
				Details:        fmt.Sprintf("%d submissions from ip, limit %d", n, cfg.MaxSubmissionsPerIPPerSession),
			})
			return SubmitResult{}, apperr.Rejected("submission rejected")
		}
	}

	if cfg.GeofenceEnabled {
		if in.Geo == nil {
			if cfg.GeoRequired {
				return SubmitResult{}, apperr.Validation("location required")
			}
		} else if cfg.GeofenceRadiusMeters > 0 {
			d := HaversineMeters(in.Geo.Lat, in.Geo.Lng, cfg.GeofenceCenterLat, cfg.GeofenceCenterLng)
			if d > cfg.GeofenceRadiusMeters {
				g.signals.Record(ctx, Signal{
					SessionID:      s.ID,
					CourseID:       s.CourseID,
					ClientDeviceID: in.DeviceID,
					ClientIP:       in.ClientIP,
					Type:           SignalOutsideGeofence,
					Details:        fmt.Sprintf("distance %.1fm exceeds limit %.1fm", d, cfg.GeofenceRadiusMeters),
				})
				return SubmitResult{}, apperr.Rejected("submission rejected")
			}
		}
	}

	student, err := g.store.GetStudentByCode(ctx, studentCode)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("student lookup: %w", err)
	}
	if student == nil {
		g.log.Debug("unknown student", "session_id", s.ID, "student_code", studentCode)
		return SubmitResult{}, apperr.Rejected("invalid session or token")
	}
	enrolled, err := g.store.IsEnrolled(ctx, student.ID, s.CourseID)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("enrollment lookup: %w", err)
	}
	if !enrolled {
		g.log.Debug("student not enrolled", "session_id", s.ID, "student_id", student.ID)
		return SubmitResult{}, apperr.Rejected("invalid session or token")
	}

	// Idempotency fast path: a repeat scan is a success, not an error, and
	// runs no further fraud checks so it cannot produce duplicate signals.
	existing, err := g.store.GetRecord(ctx, s.ID, student.ID)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("record lookup: %w", err)
	}
	if existing != nil {
		return SubmitResult{AlreadyRecorded: true, Flagged: existing.Status == StatusFlagged}, nil
	}

	// Buddy-punch check: how many distinct students already used this
	// physical device in this session.
	if usableDeviceID(in.DeviceID) && cfg.MaxSubmissionsPerDevicePerSession > 0 {
		n, err := g.store.CountStudentsByDevice(ctx, s.ID, in.DeviceID)
		if err != nil {
			return SubmitResult{}, fmt.Errorf("count by device: %w", err)
		}
		if n >= cfg.MaxSubmissionsPerDevicePerSession {
			g.signals.Record(ctx, Signal{
				SessionID:      s.ID,
				CourseID:       s.CourseID,
				StudentID:      student.ID,
				ClientDeviceID: in.DeviceID,
				ClientIP:       in.ClientIP,
				Type:           SignalMultipleIDsPerDevice,
				Details:        fmt.Sprintf("%d students already submitted from this device, limit %d", n, cfg.MaxSubmissionsPerDevicePerSession),
			})
			return SubmitResult{}, apperr.Rejected("submission rejected")
		}
	}

	rec := Record{
		ID:              uuid.NewString(),
		SessionID:       s.ID,
		StudentID:       student.ID,
		Status:          StatusPresent,
		SubmittedAt:     now,
		SubmittedVia:    ViaQR,
		ClientDeviceID:  in.DeviceID,
		ClientIP:        in.ClientIP,
		ClientUserAgent: in.UserAgent,
		Geo:             in.Geo,
	}
	stored, inserted, err := g.store.InsertRecord(ctx, rec)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("insert record: %w", err)
	}
	if !inserted {
		// Lost a concurrent race to the uniqueness constraint; the student
		// is recorded either way.
		return SubmitResult{AlreadyRecorded: true, Flagged: stored.Status == StatusFlagged}, nil
	}
	return SubmitResult{AlreadyRecorded: false, Flagged: false}, nil
}
