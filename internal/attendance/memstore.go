package attendance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is a mutex-guarded in-memory Store for dev mode and tests,
// mirroring the Postgres semantics including the (session, student)
// uniqueness guarantee.
type MemStore struct {
	mu          sync.Mutex
	sessions    map[string]Session
	records     map[string]Record // key: sessionID + "\x00" + studentID
	signals     []Signal
	students    map[string]Student // by canonical code
	enrollments map[string]bool    // key: studentID + "\x00" + courseID
	courses     map[string]string
	teachers    map[string]string
	sweepAudits [][]string
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		sessions:    make(map[string]Session),
		records:     make(map[string]Record),
		students:    make(map[string]Student),
		enrollments: make(map[string]bool),
		courses:     make(map[string]string),
		teachers:    make(map[string]string),
	}
}

func recKey(sessionID, studentID string) string { return sessionID + "\x00" + studentID }

// InsertSession writes a new session.
func (m *MemStore) InsertSession(_ context.Context, s Session) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	m.sessions[s.ID] = s
	return s, nil
}

// GetSession returns a copy of the session, or nil.
func (m *MemStore) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// CloseSession flips is_open exactly once.
func (m *MemStore) CloseSession(_ context.Context, id string, endTime time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || !s.IsOpen {
		return false, nil
	}
	s.IsOpen = false
	s.EndTime = &endTime
	m.sessions[id] = s
	return true, nil
}

// SweepExpired closes open sessions past their hard deadline.
func (m *MemStore) SweepExpired(_ context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, s := range m.sessions {
		if s.IsOpen && s.HardExpiresAt.Before(now) {
			deadline := s.HardExpiresAt
			s.IsOpen = false
			s.EndTime = &deadline
			m.sessions[id] = s
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// InsertSweepAudit records one batched audit entry.
func (m *MemStore) InsertSweepAudit(_ context.Context, sessionIDs []string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepAudits = append(m.sweepAudits, append([]string(nil), sessionIDs...))
	return nil
}

// AddStudent seeds a roster entry and returns it.
func (m *MemStore) AddStudent(code, name string) Student {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Student{ID: uuid.NewString(), Code: code, Name: name}
	m.students[code] = st
	return st
}

// AddEnrollment links a student to a course.
func (m *MemStore) AddEnrollment(studentID, courseID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enrollments[studentID+"\x00"+courseID] = true
}

// SetCourseName seeds a course display name.
func (m *MemStore) SetCourseName(courseID, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.courses[courseID] = name
}

// SetTeacherName seeds a teacher display name.
func (m *MemStore) SetTeacherName(teacherID, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teachers[teacherID] = name
}

// GetStudentByCode resolves a student, or nil.
func (m *MemStore) GetStudentByCode(_ context.Context, code string) (*Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.students[code]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

// IsEnrolled reports the enrollment link.
func (m *MemStore) IsEnrolled(_ context.Context, studentID, courseID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enrollments[studentID+"\x00"+courseID], nil
}

// CourseName returns the seeded course name, "" when unknown.
func (m *MemStore) CourseName(_ context.Context, courseID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.courses[courseID], nil
}

// TeacherName returns the seeded teacher name, "" when unknown.
func (m *MemStore) TeacherName(_ context.Context, teacherID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.teachers[teacherID], nil
}

// GetRecord returns the ledger entry for (session, student), or nil.
func (m *MemStore) GetRecord(_ context.Context, sessionID, studentID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[recKey(sessionID, studentID)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// CountRecordsByIP counts ledger entries from one client IP in a session.
func (m *MemStore) CountRecordsByIP(_ context.Context, sessionID, clientIP string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.records {
		if rec.SessionID == sessionID && rec.ClientIP == clientIP {
			n++
		}
	}
	return n, nil
}

// CountStudentsByDevice counts distinct students per device in a session.
func (m *MemStore) CountStudentsByDevice(_ context.Context, sessionID, deviceID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	for _, rec := range m.records {
		if rec.SessionID == sessionID && rec.ClientDeviceID == deviceID {
			seen[rec.StudentID] = struct{}{}
		}
	}
	return len(seen), nil
}

// InsertRecord enforces the (session, student) uniqueness guarantee under
// the store lock; a duplicate insert returns the existing row.
func (m *MemStore) InsertRecord(_ context.Context, rec Record) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := recKey(rec.SessionID, rec.StudentID)
	if existing, ok := m.records[key]; ok {
		return existing, false, nil
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	m.records[key] = rec
	return rec, true, nil
}

// InsertSignal appends one fraud signal.
func (m *MemStore) InsertSignal(_ context.Context, sig Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals = append(m.signals, sig)
	return nil
}

// Signals returns a copy of the recorded fraud signals.
func (m *MemStore) Signals() []Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Signal(nil), m.signals...)
}

// SweepAudits returns a copy of the batched sweep audit entries.
func (m *MemStore) SweepAudits() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.sweepAudits))
	for i, ids := range m.sweepAudits {
		out[i] = append([]string(nil), ids...)
	}
	return out
}

// SessionRecords returns all ledger entries for a session.
func (m *MemStore) SessionRecords(sessionID string) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, rec := range m.records {
		if rec.SessionID == sessionID {
			out = append(out, rec)
		}
	}
	return out
}
