package main

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rollcall/internal/apperr"
	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/config"
	"rollcall/internal/httpmiddleware"
	"rollcall/internal/store"
)

func newRouter(cfg config.App, registry *attendance.Registry, gate *attendance.Gatekeeper,
	db *store.DB, redisClient *store.Redis, log *slog.Logger) *gin.Engine {

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db != nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	staff := r.Group("/v1", auth.StaffAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	staff.POST("/sessions", func(c *gin.Context) {
		var req struct {
			CourseID        string  `json:"course_id" binding:"required"`
			SessionName     *string `json:"session_name"`
			SessionDate     string  `json:"session_date"`
			DurationMinutes *int    `json:"duration_minutes"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		s, qrURL, err := registry.CreateSession(c.Request.Context(), attendance.CreateSessionInput{
			CourseID:        req.CourseID,
			TeacherID:       auth.ActorID(c),
			SessionName:     req.SessionName,
			SessionDate:     req.SessionDate,
			DurationMinutes: req.DurationMinutes,
		})
		if err != nil {
			writeErr(c, log, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"attendance_session_id": s.ID,
			"qr_url":                qrURL,
			"qr_token":              s.QRToken,
			"qr_expires_at":         s.QRExpiresAt,
			"hard_expires_at":       s.HardExpiresAt,
			"session_date":          s.SessionDate,
		})
	})

	staff.POST("/sessions/close", func(c *gin.Context) {
		var req struct {
			SessionID string `json:"attendance_session_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		s, err := registry.CloseSession(c.Request.Context(), req.SessionID, auth.ActorID(c))
		if err != nil {
			writeErr(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"is_open": false, "end_time": s.EndTime})
	})

	// Public endpoints used by the anonymous student client.

	r.GET("/v1/attendance/validate", func(c *gin.Context) {
		sessionID := c.Query("attendance_session_id")
		token := c.Query("qr_token")
		if sessionID == "" || token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "attendance_session_id and qr_token required"})
			return
		}

		v, err := registry.ValidateToken(c.Request.Context(), sessionID, token)
		if err != nil {
			writeErr(c, log, err)
			return
		}
		if !v.Valid {
			c.JSON(http.StatusOK, gin.H{"valid": false, "reason": v.Reason})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"valid":        true,
			"course_name":  v.CourseName,
			"teacher_name": v.TeacherName,
			"session_name": v.SessionName,
			"is_open":      v.IsOpen,
			"requires_geo": v.RequiresGeo,
		})
	})

	r.POST("/v1/attendance/submit", func(c *gin.Context) {
		var req struct {
			SessionID      string               `json:"attendance_session_id" binding:"required"`
			QRToken        string               `json:"qr_token" binding:"required"`
			StudentID      string               `json:"student_id" binding:"required"`
			ClientDeviceID string               `json:"client_device_id"`
			Geo            *attendance.GeoPoint `json:"geo"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		res, err := gate.Submit(c.Request.Context(), attendance.SubmitInput{
			SessionID: req.SessionID,
			Token:     req.QRToken,
			StudentID: req.StudentID,
			DeviceID:  req.ClientDeviceID,
			ClientIP:  c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			Geo:       req.Geo,
		})
		if err != nil {
			writeErr(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":           "success",
			"already_recorded": res.AlreadyRecorded,
			"flagged":          res.Flagged,
		})
	})

	return r
}

// writeErr maps application errors onto the wire; anything unclassified is
// logged and surfaced as a generic 500.
func writeErr(c *gin.Context, log *slog.Logger, err error) {
	ae := apperr.From(err)
	if ae.Kind == apperr.KindInternal {
		log.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(ae.Code, gin.H{"error": ae.Message, "kind": ae.Kind})
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
