package attendance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/apperr"
	"rollcall/internal/settings"
)

func newTestRegistry(t *testing.T, cfg settings.Settings) (*Registry, *MemStore) {
	t.Helper()
	st := NewMemStore()
	return NewRegistry(st, settings.Fixed{S: cfg}, "https://app.example.com", testLogger()), st
}

func intPtr(v int) *int { return &v }

func TestCreateSessionDeadlines(t *testing.T) {
	reg, _ := newTestRegistry(t, testSettings())

	s, qrURL, err := reg.CreateSession(context.Background(), CreateSessionInput{
		CourseID:        "course-1",
		TeacherID:       "teacher-1",
		DurationMinutes: intPtr(30),
	})
	require.NoError(t, err)

	assert.True(t, s.IsOpen)
	assert.Nil(t, s.EndTime)
	assert.Len(t, s.QRToken, 64) // 32 random bytes, hex
	// The hard cap is always start + max duration, independent of the request.
	assert.Equal(t, 90*time.Minute, s.HardExpiresAt.Sub(s.StartTime))
	assert.Equal(t, 30*time.Minute, s.QRExpiresAt.Sub(s.StartTime))
	assert.Contains(t, qrURL, "https://app.example.com/attendance/qr?session_id="+s.ID)
	assert.Contains(t, qrURL, "token="+s.QRToken)
}

func TestCreateSessionDurationRange(t *testing.T) {
	reg, _ := newTestRegistry(t, testSettings())

	for _, minutes := range []int{4, 91, 0, -1} {
		_, _, err := reg.CreateSession(context.Background(), CreateSessionInput{
			CourseID:        "course-1",
			TeacherID:       "teacher-1",
			DurationMinutes: intPtr(minutes),
		})
		require.Error(t, err, "duration %d must be rejected", minutes)
		assert.Equal(t, apperr.KindValidation, apperr.From(err).Kind)
	}

	// Omitted duration defaults to the maximum.
	s, _, err := reg.CreateSession(context.Background(), CreateSessionInput{
		CourseID:  "course-1",
		TeacherID: "teacher-1",
	})
	require.NoError(t, err)
	assert.Equal(t, s.HardExpiresAt, s.QRExpiresAt)
}

func TestCreateSessionTokensAreUnique(t *testing.T) {
	reg, _ := newTestRegistry(t, testSettings())

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		s, _, err := reg.CreateSession(context.Background(), CreateSessionInput{
			CourseID: "course-1", TeacherID: "teacher-1",
		})
		require.NoError(t, err)
		assert.False(t, seen[s.QRToken])
		seen[s.QRToken] = true
	}
}

func TestCloseSessionOwnership(t *testing.T) {
	reg, _ := newTestRegistry(t, testSettings())
	s, _, err := reg.CreateSession(context.Background(), CreateSessionInput{
		CourseID: "course-1", TeacherID: "teacher-1",
	})
	require.NoError(t, err)

	_, err = reg.CloseSession(context.Background(), s.ID, "someone-else")
	require.Error(t, err)
	assert.Equal(t, apperr.KindForbidden, apperr.From(err).Kind)

	closed, err := reg.CloseSession(context.Background(), s.ID, "teacher-1")
	require.NoError(t, err)
	assert.False(t, closed.IsOpen)
	require.NotNil(t, closed.EndTime)

	_, err = reg.CloseSession(context.Background(), s.ID, "teacher-1")
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.From(err).Kind)
}

func TestValidateTokenOpaqueOnMissAndMismatch(t *testing.T) {
	reg, _ := newTestRegistry(t, testSettings())
	s, _, err := reg.CreateSession(context.Background(), CreateSessionInput{
		CourseID: "course-1", TeacherID: "teacher-1",
	})
	require.NoError(t, err)

	missing, err := reg.ValidateToken(context.Background(), "no-such-session", "whatever")
	require.NoError(t, err)
	mismatch, err2 := reg.ValidateToken(context.Background(), s.ID, "wrong-token")
	require.NoError(t, err2)

	assert.False(t, missing.Valid)
	assert.False(t, mismatch.Valid)
	assert.Equal(t, missing.Reason, mismatch.Reason, "reasons must not distinguish the causes")
}

func TestValidateTokenHappyPath(t *testing.T) {
	cfg := testSettings()
	cfg.GeofenceEnabled = true
	cfg.GeoRequired = true
	reg, st := newTestRegistry(t, cfg)
	st.SetCourseName("course-1", "Distributed Systems")
	st.SetTeacherName("teacher-1", "Dr. Chen")

	name := "Lecture 12"
	s, _, err := reg.CreateSession(context.Background(), CreateSessionInput{
		CourseID: "course-1", TeacherID: "teacher-1", SessionName: &name,
	})
	require.NoError(t, err)

	v, err := reg.ValidateToken(context.Background(), s.ID, s.QRToken)
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, "Distributed Systems", v.CourseName)
	assert.Equal(t, "Dr. Chen", v.TeacherName)
	assert.Equal(t, "Lecture 12", v.SessionName)
	assert.True(t, v.IsOpen)
	assert.True(t, v.RequiresGeo)
}

func TestValidateTokenExpiredLazyCloses(t *testing.T) {
	reg, st := newTestRegistry(t, testSettings())
	now := time.Now().UTC()
	s, err := st.InsertSession(context.Background(), Session{
		CourseID:      "course-1",
		TeacherID:     "teacher-1",
		StartTime:     now.Add(-2 * time.Hour),
		QRToken:       "tok",
		QRExpiresAt:   now.Add(-time.Hour),
		HardExpiresAt: now.Add(-time.Hour),
		IsOpen:        true,
	})
	require.NoError(t, err)

	v, err := reg.ValidateToken(context.Background(), s.ID, "tok")
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, "expired", v.Reason)

	stored, _ := st.GetSession(context.Background(), s.ID)
	assert.False(t, stored.IsOpen)
	require.NotNil(t, stored.EndTime)
	assert.True(t, stored.EndTime.Equal(s.HardExpiresAt))

	// Repeat validation is a no-op on state and now reports "closed"
	// semantics through the expired reason, not an error.
	v, err = reg.ValidateToken(context.Background(), s.ID, "tok")
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, "expired", v.Reason)
}

func TestValidateTokenClosedSession(t *testing.T) {
	reg, _ := newTestRegistry(t, testSettings())
	s, _, err := reg.CreateSession(context.Background(), CreateSessionInput{
		CourseID: "course-1", TeacherID: "teacher-1",
	})
	require.NoError(t, err)
	_, err = reg.CloseSession(context.Background(), s.ID, "teacher-1")
	require.NoError(t, err)

	v, err := reg.ValidateToken(context.Background(), s.ID, s.QRToken)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, "closed", v.Reason)
}

func TestCreateSessionBadDate(t *testing.T) {
	reg, _ := newTestRegistry(t, testSettings())
	_, _, err := reg.CreateSession(context.Background(), CreateSessionInput{
		CourseID: "course-1", TeacherID: "teacher-1", SessionDate: "31-12-2025",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.From(err).Kind)
}
