package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/config"
	"rollcall/internal/fraud"
	"rollcall/internal/settings"
)

func testConfig() config.App {
	return config.App{
		JWTIssuer:       "rollcall-staff",
		JWTSigningKey:   "test-secret",
		FrontendBaseURL: "https://app.example.com",
		RateLimitPerMin: 10000,
	}
}

func testRouter(t *testing.T) (*gin.Engine, *attendance.MemStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := testConfig()
	st := attendance.NewMemStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	provider := settings.Fixed{S: settings.Settings{
		MinSessionDurationMinutes:         5,
		MaxSessionDurationMinutes:         90,
		MaxSubmissionsPerDevicePerSession: 1,
		MaxSubmissionsPerIPPerSession:     200,
	}}
	recorder := fraud.NewRecorder(st, nil, log)
	registry := attendance.NewRegistry(st, provider, cfg.FrontendBaseURL, log)
	gate := attendance.NewGatekeeper(st, provider, recorder, log)

	return newRouter(cfg, registry, gate, nil, nil, log), st
}

func staffToken(t *testing.T, subject string) string {
	t.Helper()
	claims := auth.Claims{
		Subject: subject,
		Role:    "teacher",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "rollcall-staff",
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func doJSON(r *gin.Engine, method, path, bearer string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.7:40000"
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestSessionEndpointsRequireAuth(t *testing.T) {
	r, _ := testRouter(t)
	w := doJSON(r, http.MethodPost, "/v1/sessions", "", gin.H{"course_id": "course-1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestFullSubmissionFlow(t *testing.T) {
	r, st := testRouter(t)
	st.SetCourseName("course-1", "Algorithms")
	st.SetTeacherName("teacher-1", "Dr. Ali")
	student := st.AddStudent("S001", "Riley")
	st.AddEnrollment(student.ID, "course-1")

	// Teacher opens a session.
	w := doJSON(r, http.MethodPost, "/v1/sessions", staffToken(t, "teacher-1"), gin.H{
		"course_id":        "course-1",
		"duration_minutes": 30,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)
	sessionID := created["attendance_session_id"].(string)
	token := created["qr_token"].(string)
	assert.Contains(t, created["qr_url"].(string),
		fmt.Sprintf("https://app.example.com/attendance/qr?session_id=%s&token=%s", sessionID, token))

	// Student validates the scanned code.
	w = doJSON(r, http.MethodGet,
		"/v1/attendance/validate?attendance_session_id="+sessionID+"&qr_token="+token, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	validated := decode(t, w)
	assert.Equal(t, true, validated["valid"])
	assert.Equal(t, "Algorithms", validated["course_name"])
	assert.Equal(t, "Dr. Ali", validated["teacher_name"])

	// First submission records, second reports already_recorded.
	submit := gin.H{
		"attendance_session_id": sessionID,
		"qr_token":              token,
		"student_id":            "S001",
		"client_device_id":      "fp-1",
	}
	w = doJSON(r, http.MethodPost, "/v1/attendance/submit", "", submit)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decode(t, w)
	assert.Equal(t, "success", first["status"])
	assert.Equal(t, false, first["already_recorded"])

	w = doJSON(r, http.MethodPost, "/v1/attendance/submit", "", submit)
	require.Equal(t, http.StatusOK, w.Code)
	second := decode(t, w)
	assert.Equal(t, true, second["already_recorded"])

	// Only the owner may close; then the QR reads closed.
	w = doJSON(r, http.MethodPost, "/v1/sessions/close", staffToken(t, "teacher-2"),
		gin.H{"attendance_session_id": sessionID})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(r, http.MethodPost, "/v1/sessions/close", staffToken(t, "teacher-1"),
		gin.H{"attendance_session_id": sessionID})
	require.Equal(t, http.StatusOK, w.Code)
	closed := decode(t, w)
	assert.Equal(t, false, closed["is_open"])
	assert.NotEmpty(t, closed["end_time"])

	w = doJSON(r, http.MethodGet,
		"/v1/attendance/validate?attendance_session_id="+sessionID+"&qr_token="+token, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["valid"])
}

func TestSubmitRejectionsAreOpaque(t *testing.T) {
	r, st := testRouter(t)
	student := st.AddStudent("S001", "Riley")
	st.AddEnrollment(student.ID, "course-1")
	w := doJSON(r, http.MethodPost, "/v1/sessions", staffToken(t, "teacher-1"),
		gin.H{"course_id": "course-1"})
	require.Equal(t, http.StatusCreated, w.Code)
	sessionID := decode(t, w)["attendance_session_id"].(string)

	badToken := doJSON(r, http.MethodPost, "/v1/attendance/submit", "", gin.H{
		"attendance_session_id": sessionID,
		"qr_token":              "wrong",
		"student_id":            "S001",
	})
	badSession := doJSON(r, http.MethodPost, "/v1/attendance/submit", "", gin.H{
		"attendance_session_id": "nope",
		"qr_token":              "wrong",
		"student_id":            "S001",
	})
	assert.Equal(t, http.StatusForbidden, badToken.Code)
	assert.Equal(t, http.StatusForbidden, badSession.Code)
	assert.Equal(t, decode(t, badToken)["error"], decode(t, badSession)["error"])
}

func TestSubmitValidation(t *testing.T) {
	r, _ := testRouter(t)
	w := doJSON(r, http.MethodPost, "/v1/attendance/submit", "", gin.H{
		"qr_token": "tok",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestValidateRequiresParams(t *testing.T) {
	r, _ := testRouter(t)
	w := doJSON(r, http.MethodGet, "/v1/attendance/validate", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDurationOutOfRange(t *testing.T) {
	r, _ := testRouter(t)
	w := doJSON(r, http.MethodPost, "/v1/sessions", staffToken(t, "teacher-1"), gin.H{
		"course_id":        "course-1",
		"duration_minutes": 240,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string("validation_error"), decode(t, w)["kind"])
}
