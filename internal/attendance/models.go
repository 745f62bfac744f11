package attendance

import (
	"context"
	"time"
)

// Session statuses and submission channels.
const (
	StatusPresent       = "present"
	StatusManualPresent = "manual_present"
	StatusFlagged       = "flagged"

	ViaQR     = "qr"
	ViaManual = "manual"
)

// Session is one time-boxed attendance window opened by a teacher.
// IsOpen transitions true->false exactly once; HardExpiresAt never changes
// after creation.
type Session struct {
	ID            string     `json:"id"`
	CourseID      string     `json:"course_id"`
	TeacherID     string     `json:"teacher_id"`
	SessionName   *string    `json:"session_name,omitempty"`
	SessionDate   string     `json:"session_date"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	QRToken       string     `json:"-"`
	QRExpiresAt   time.Time  `json:"qr_expires_at"`
	HardExpiresAt time.Time  `json:"hard_expires_at"`
	IsOpen        bool       `json:"is_open"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Deadline is the operative expiry for new submissions: the QR soft expiry
// when one is set, otherwise the hard cap. QRExpiresAt is never later than
// HardExpiresAt by construction.
func (s *Session) Deadline() time.Time {
	if !s.QRExpiresAt.IsZero() && s.QRExpiresAt.Before(s.HardExpiresAt) {
		return s.QRExpiresAt
	}
	return s.HardExpiresAt
}

// GeoPoint is a client-reported coordinate. Accuracy is advisory only.
type GeoPoint struct {
	Lat            float64 `json:"lat"`
	Lng            float64 `json:"lng"`
	AccuracyMeters float64 `json:"accuracy_meters"`
}

// Record is one ledger entry. At most one exists per (SessionID, StudentID);
// the storage layer enforces that with a uniqueness constraint.
type Record struct {
	ID                   string    `json:"id"`
	SessionID            string    `json:"session_id"`
	StudentID            string    `json:"student_id"`
	Status               string    `json:"status"`
	SubmittedAt          time.Time `json:"submitted_at"`
	SubmittedVia         string    `json:"submitted_via"`
	SubmittedByTeacherID *string   `json:"submitted_by_teacher_id,omitempty"`
	ClientDeviceID       string    `json:"client_device_id,omitempty"`
	ClientIP             string    `json:"client_ip,omitempty"`
	ClientUserAgent      string    `json:"client_user_agent,omitempty"`
	Geo                  *GeoPoint `json:"geo,omitempty"`
	FraudFlagReason      *string   `json:"fraud_flag_reason,omitempty"`
}

// SignalType enumerates the anomaly kinds the pipeline can record.
type SignalType string

const (
	SignalSessionExpired       SignalType = "session_expired_submission"
	SignalTooManySameIP        SignalType = "too_many_requests_same_ip"
	SignalOutsideGeofence      SignalType = "outside_geofence"
	SignalMultipleIDsPerDevice SignalType = "multiple_ids_same_device"
)

// Signal is one append-only piece of fraud evidence. It is never updated
// or deleted once written.
type Signal struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"session_id"`
	CourseID       string     `json:"course_id"`
	StudentID      string     `json:"student_id,omitempty"`
	ClientDeviceID string     `json:"client_device_id,omitempty"`
	ClientIP       string     `json:"client_ip,omitempty"`
	Type           SignalType `json:"type"`
	Details        string     `json:"details,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// SignalSink receives fraud signals. Recording is best-effort: the sink
// returns nothing, and the caller's outcome must not depend on it.
type SignalSink interface {
	Record(ctx context.Context, sig Signal)
}

// Student is a roster entry resolved by its canonical code.
type Student struct {
	ID   string `json:"id"`
	Code string `json:"student_code"`
	Name string `json:"name"`
}
