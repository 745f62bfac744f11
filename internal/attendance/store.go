package attendance

import (
	"context"
	"time"
)

// Store is the persistence contract for sessions, the attendance ledger,
// and the roster lookups the pipeline needs. The Postgres implementation
// backs production; the in-memory one backs dev mode and tests.
//
// InsertRecord must be guarded by a uniqueness constraint on
// (SessionID, StudentID): when a concurrent insert loses the race, the
// implementation returns the pre-existing row with inserted=false rather
// than an error.
type Store interface {
	InsertSession(ctx context.Context, s Session) (Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	// CloseSession sets is_open=false and end_time once; it reports whether
	// this call performed the transition. Safe to attempt redundantly.
	CloseSession(ctx context.Context, id string, endTime time.Time) (bool, error)
	// SweepExpired closes every open session whose hard deadline has passed,
	// stamping end_time with that deadline, and returns the closed ids.
	SweepExpired(ctx context.Context, now time.Time) ([]string, error)
	InsertSweepAudit(ctx context.Context, sessionIDs []string, sweptAt time.Time) error

	GetStudentByCode(ctx context.Context, code string) (*Student, error)
	IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error)
	CourseName(ctx context.Context, courseID string) (string, error)
	TeacherName(ctx context.Context, teacherID string) (string, error)

	GetRecord(ctx context.Context, sessionID, studentID string) (*Record, error)
	CountRecordsByIP(ctx context.Context, sessionID, clientIP string) (int, error)
	CountStudentsByDevice(ctx context.Context, sessionID, deviceID string) (int, error)
	InsertRecord(ctx context.Context, rec Record) (stored Record, inserted bool, err error)
}
