package attendance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// PGStore persists attendance data in Postgres.
type PGStore struct {
	db *sql.DB
}

// NewPGStore creates a Postgres-backed store.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const sessionColumns = `id, course_id, teacher_id, session_name, session_date::text,
	start_time, end_time, qr_token, qr_expires_at, hard_expires_at, is_open, created_at`

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var s Session
	if err := row.Scan(&s.ID, &s.CourseID, &s.TeacherID, &s.SessionName, &s.SessionDate,
		&s.StartTime, &s.EndTime, &s.QRToken, &s.QRExpiresAt, &s.HardExpiresAt,
		&s.IsOpen, &s.CreatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

// InsertSession writes a new session.
func (p *PGStore) InsertSession(ctx context.Context, s Session) (Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO attendance_sessions
			(id, course_id, teacher_id, session_name, session_date, start_time,
			 qr_token, qr_expires_at, hard_expires_at, is_open)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at
	`, s.ID, s.CourseID, s.TeacherID, s.SessionName, s.SessionDate, s.StartTime,
		s.QRToken, s.QRExpiresAt, s.HardExpiresAt, s.IsOpen)
	if err := row.Scan(&s.CreatedAt); err != nil {
		return Session{}, err
	}
	return s, nil
}

// GetSession returns a session by id, or nil when absent.
func (p *PGStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM attendance_sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// CloseSession flips is_open exactly once; redundant calls affect no rows.
func (p *PGStore) CloseSession(ctx context.Context, id string, endTime time.Time) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE attendance_sessions
		SET is_open = FALSE, end_time = $2
		WHERE id = $1 AND is_open
	`, id, endTime)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SweepExpired closes all open sessions past their hard deadline, stamping
// end_time with the deadline itself.
func (p *PGStore) SweepExpired(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		UPDATE attendance_sessions
		SET is_open = FALSE, end_time = hard_expires_at
		WHERE is_open AND hard_expires_at < $1
		RETURNING id
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// InsertSweepAudit writes one batched audit row for a sweep tick.
func (p *PGStore) InsertSweepAudit(ctx context.Context, sessionIDs []string, sweptAt time.Time) error {
	payload, err := json.Marshal(sessionIDs)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO sweep_audit (id, closed_session_ids, swept_at)
		VALUES ($1, $2, $3)
	`, uuid.NewString(), payload, sweptAt)
	return err
}

// GetStudentByCode resolves a student by canonical code, or nil when absent.
func (p *PGStore) GetStudentByCode(ctx context.Context, code string) (*Student, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, student_code, name FROM students WHERE student_code = $1
	`, code)
	var st Student
	if err := row.Scan(&st.ID, &st.Code, &st.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &st, nil
}

// IsEnrolled reports whether the student is enrolled in the course.
func (p *PGStore) IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM enrollments WHERE student_id = $1 AND course_id = $2
		)
	`, studentID, courseID).Scan(&exists)
	return exists, err
}

// CourseName returns the display name for a course, "" when unknown.
func (p *PGStore) CourseName(ctx context.Context, courseID string) (string, error) {
	var name string
	err := p.db.QueryRowContext(ctx, `SELECT name FROM courses WHERE id = $1`, courseID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return name, err
}

// TeacherName returns the display name for a teacher, "" when unknown.
func (p *PGStore) TeacherName(ctx context.Context, teacherID string) (string, error) {
	var name string
	err := p.db.QueryRowContext(ctx, `SELECT name FROM teachers WHERE id = $1`, teacherID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return name, err
}

const recordColumns = `id, session_id, student_id, status, submitted_at, submitted_via,
	submitted_by_teacher_id, client_device_id, client_ip, client_user_agent,
	geo_lat, geo_lng, geo_accuracy_m, fraud_flag_reason`

func scanRecord(row interface{ Scan(...any) error }) (*Record, error) {
	var (
		rec                Record
		lat, lng, accuracy sql.NullFloat64
	)
	if err := row.Scan(&rec.ID, &rec.SessionID, &rec.StudentID, &rec.Status,
		&rec.SubmittedAt, &rec.SubmittedVia, &rec.SubmittedByTeacherID,
		&rec.ClientDeviceID, &rec.ClientIP, &rec.ClientUserAgent,
		&lat, &lng, &accuracy, &rec.FraudFlagReason); err != nil {
		return nil, err
	}
	if lat.Valid && lng.Valid {
		rec.Geo = &GeoPoint{Lat: lat.Float64, Lng: lng.Float64, AccuracyMeters: accuracy.Float64}
	}
	return &rec, nil
}

// GetRecord returns the ledger entry for (session, student), or nil.
func (p *PGStore) GetRecord(ctx context.Context, sessionID, studentID string) (*Record, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM attendance_records WHERE session_id = $1 AND student_id = $2`,
		sessionID, studentID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// CountRecordsByIP counts ledger entries in a session from one client IP.
func (p *PGStore) CountRecordsByIP(ctx context.Context, sessionID, clientIP string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM attendance_records WHERE session_id = $1 AND client_ip = $2
	`, sessionID, clientIP).Scan(&n)
	return n, err
}

// CountStudentsByDevice counts distinct students who submitted from one
// device in a session.
func (p *PGStore) CountStudentsByDevice(ctx context.Context, sessionID, deviceID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT student_id) FROM attendance_records
		WHERE session_id = $1 AND client_device_id = $2
	`, sessionID, deviceID).Scan(&n)
	return n, err
}

// InsertRecord writes a ledger entry. The UNIQUE (session_id, student_id)
// constraint is the correctness guarantee: a conflicting insert affects no
// rows, and the pre-existing entry is returned with inserted=false.
func (p *PGStore) InsertRecord(ctx context.Context, rec Record) (Record, bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	var lat, lng, accuracy any
	if rec.Geo != nil {
		lat, lng, accuracy = rec.Geo.Lat, rec.Geo.Lng, rec.Geo.AccuracyMeters
	}
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records
			(id, session_id, student_id, status, submitted_at, submitted_via,
			 submitted_by_teacher_id, client_device_id, client_ip, client_user_agent,
			 geo_lat, geo_lng, geo_accuracy_m, fraud_flag_reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (session_id, student_id) DO NOTHING
		RETURNING id
	`, rec.ID, rec.SessionID, rec.StudentID, rec.Status, rec.SubmittedAt, rec.SubmittedVia,
		rec.SubmittedByTeacherID, rec.ClientDeviceID, rec.ClientIP, rec.ClientUserAgent,
		lat, lng, accuracy, rec.FraudFlagReason)
	var insertedID string
	if err := row.Scan(&insertedID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Lost the race; surface the row that won.
			existing, gerr := p.GetRecord(ctx, rec.SessionID, rec.StudentID)
			if gerr != nil {
				return Record{}, false, gerr
			}
			if existing == nil {
				return Record{}, false, errors.New("record conflict but existing row not found")
			}
			return *existing, false, nil
		}
		return Record{}, false, err
	}
	return rec, true, nil
}

// InsertSignal appends one fraud signal. Signals are never updated or
// deleted here.
func (p *PGStore) InsertSignal(ctx context.Context, sig Signal) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO fraud_signals
			(id, session_id, course_id, student_id, client_device_id, client_ip,
			 signal_type, details, created_at)
		VALUES ($1,$2,$3,NULLIF($4,''),$5,$6,$7,$8,$9)
	`, sig.ID, sig.SessionID, sig.CourseID, sig.StudentID, sig.ClientDeviceID,
		sig.ClientIP, string(sig.Type), sig.Details, sig.CreatedAt)
	return err
}
