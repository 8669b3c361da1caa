package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"attendify/internal/attendance"
	"attendify/internal/auth"
	"attendify/internal/checkin"
	"attendify/internal/config"
	"attendify/internal/device"
	"attendify/internal/face"
	"attendify/internal/geo"
	"attendify/internal/httpmiddleware"
	"attendify/internal/location"
	"attendify/internal/logger"
	"attendify/internal/metrics"
	"attendify/internal/qr"
	"attendify/internal/queue"
	"attendify/internal/store"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel)

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, log); err != nil {
		log.WithError(err).Fatal("http server failed")
	}
}

// frameList serves the client-uploaded frames in order, repeating the last
// one while the sampling window runs.
type frameList struct {
	urls []string
	mu   sync.Mutex
	idx  int
}

func (f *frameList) Next(ctx context.Context) (face.Frame, error) {
	if err := ctx.Err(); err != nil {
		return face.Frame{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.urls) == 0 {
		return face.Frame{ImageURL: ""}, nil
	}
	url := f.urls[f.idx]
	if f.idx < len(f.urls)-1 {
		f.idx++
	}
	return face.Frame{ImageURL: url}, nil
}

// staticScanner hands the pipeline the payload the client already scanned.
type staticScanner struct{ payload string }

func (s staticScanner) Scan(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.payload, nil
}

// mapSignals exposes posted device traits as a signal source.
type mapSignals struct{ components map[string]string }

func (s mapSignals) Signals(context.Context) (map[string]string, error) {
	return s.components, nil
}

// snapshotCache keeps finished attempt snapshots for the status endpoint.
// Entries past the TTL are pruned on every store so the map stays bounded.
type snapshotCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]snapshotEntry
}

type snapshotEntry struct {
	snapshot checkin.Attempt
	storedAt time.Time
}

func newSnapshotCache(ttl time.Duration) *snapshotCache {
	return &snapshotCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]snapshotEntry),
	}
}

func (c *snapshotCache) Store(id string, snapshot checkin.Attempt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.now().Add(-c.ttl)
	for k, e := range c.entries {
		if e.storedAt.Before(cutoff) {
			delete(c.entries, k)
		}
	}
	c.entries[id] = snapshotEntry{snapshot: snapshot, storedAt: c.now()}
}

func (c *snapshotCache) Load(id string) (checkin.Attempt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok || e.storedAt.Before(c.now().Add(-c.ttl)) {
		return checkin.Attempt{}, false
	}
	return e.snapshot, true
}

type checkInRequest struct {
	SessionID      string            `json:"session_id" binding:"required"`
	QRPayload      string            `json:"qr_payload" binding:"required"`
	Latitude       float64           `json:"latitude"`
	Longitude      float64           `json:"longitude"`
	AccuracyMeters float64           `json:"accuracy_m"`
	LocationError  string            `json:"location_error"`
	FrameURLs      []string          `json:"frame_urls"`
	Components     map[string]string `json:"components" binding:"required"`
}

// validate rejects evidence the pipeline cannot act on. With a live detector
// an empty frame list would only fail later as a system error, so it is a
// request problem, not a check-in outcome.
func (r checkInRequest) validate(faceSkip bool) string {
	if !faceSkip && len(r.FrameURLs) == 0 {
		return "frame_urls required when face verification is live"
	}
	return ""
}

func runHTTP(cfg config.App, log *logrus.Logger) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Warn("db not reachable")
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	redisClient := store.NewRedis(cfg.RedisAddr, cfg.RedisDialTimeout, cfg.RedisOpTimeout)
	faceClient := face.NewClient(cfg.FaceServiceURL, cfg.FaceSkip)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "attendify:records")
	}

	var repo *attendance.Repository
	if db != nil {
		repo = attendance.NewRepository(db.Client)
	}
	fenceBounds := geo.RadiusBounds{Min: cfg.GeofenceMinRadius, Max: cfg.GeofenceMaxRadius}
	sessions := attendance.NewManager(repo, log, cfg.QRTokenTTL, fenceBounds)
	defer sessions.Shutdown()

	allowlist := device.NewRedisAllowlist(redisClient.Client, "")
	devices := device.NewValidator(allowlist)

	notifier := checkin.NewNotifier()
	orch := checkin.NewOrchestrator(notifier, log)
	m := metrics.New()

	liveness := face.DefaultLivenessOptions()
	liveness.Threshold = cfg.FaceThreshold
	liveness.Window = cfg.LivenessWindow
	liveness.Interval = cfg.LivenessInterval
	liveness.MinDetections = cfg.LivenessMinDetections
	verifier := face.NewVerifier(faceClient, liveness)

	// Finished attempts kept for snapshot queries.
	attempts := newSnapshotCache(time.Hour)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	// Device registration issues student tokens: an unknown fingerprint never
	// passes the pipeline, so registration is the explicit opt-in.
	r.POST("/v1/devices/register", func(c *gin.Context) {
		var req struct {
			StudentID  string            `json:"student_id" binding:"required"`
			Components map[string]string `json:"components" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		visitorID := device.VisitorID(req.Components)
		if err := devices.Register(c.Request.Context(), req.StudentID, visitorID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		tokens, err := auth.Issue(req.StudentID, auth.RoleStudent, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"visitor_id":    visitorID,
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	r.POST("/v1/lecturers/login", func(c *gin.Context) {
		var req struct {
			LecturerID string `json:"lecturer_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tokens, err := auth.Issue(req.LecturerID, auth.RoleLecturer, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"access_token": tokens.AccessToken,
			"expires_at":   tokens.AccessExp.Unix(),
		})
	})

	lecturers := r.Group("/v1", auth.Require(cfg.JWTSigningKey, cfg.JWTIssuer, auth.RoleLecturer))

	lecturers.POST("/sessions", func(c *gin.Context) {
		var req struct {
			ClassID      string  `json:"class_id" binding:"required"`
			Latitude     float64 `json:"latitude"`
			Longitude    float64 `json:"longitude"`
			RadiusMeters float64 `json:"radius_m"`
			LateCutoff   string  `json:"late_cutoff"`
			LateGrace    string  `json:"late_grace"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		claims, _ := auth.ClaimsFrom(c)
		fence := geo.Geofence{
			Center:       geo.Coordinate{Latitude: req.Latitude, Longitude: req.Longitude},
			RadiusMeters: req.RadiusMeters,
		}
		cutoff := parseDurationOr(req.LateCutoff, cfg.LateCutoff)
		grace := parseDurationOr(req.LateGrace, cfg.LateGrace)

		sess, err := sessions.Open(c.Request.Context(), req.ClassID, claims.Subject, fence, cutoff, grace)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, sess)
	})

	lecturers.DELETE("/sessions/:id", func(c *gin.Context) {
		if err := sessions.Close(c.Request.Context(), c.Param("id")); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, attendance.ErrSessionNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ended"})
	})

	lecturers.GET("/sessions/:id/qr.png", func(c *gin.Context) {
		tok, err := sessions.CurrentToken(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		png, err := qr.EncodePNG(tok, 256)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "qr render failed"})
			return
		}
		c.Header("Cache-Control", "no-store")
		c.Header("X-QR-Expires-At", strconv.FormatInt(tok.ExpiresAt().Unix(), 10))
		c.Data(http.StatusOK, "image/png", png)
	})

	lecturers.GET("/sessions/:id/records", func(c *gin.Context) {
		if repo == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "record storage not configured"})
			return
		}
		limit, offset := 50, 0
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		if v := c.Query("offset"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				offset = parsed
			}
		}
		records, err := repo.ListRecords(c.Request.Context(), c.Param("id"), limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	})

	lecturers.GET("/sessions/:id/stats", func(c *gin.Context) {
		if repo == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "record storage not configured"})
			return
		}
		stats, err := repo.Stats(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, stats)
	})

	students := r.Group("/v1", auth.Require(cfg.JWTSigningKey, cfg.JWTIssuer, auth.RoleStudent))

	students.DELETE("/devices/:visitorID", func(c *gin.Context) {
		claims, _ := auth.ClaimsFrom(c)
		if err := devices.Unregister(c.Request.Context(), claims.Subject, c.Param("visitorID")); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "removed"})
	})

	students.POST("/checkins", func(c *gin.Context) {
		var req checkInRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if msg := req.validate(cfg.FaceSkip); msg != "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": msg})
			return
		}

		sess, err := sessions.Get(req.SessionID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found or ended"})
			return
		}
		challenge, err := sessions.Challenge(req.SessionID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found or ended"})
			return
		}

		claims, _ := auth.ClaimsFrom(c)
		runner := checkin.NewRunner(checkin.RunnerDeps{
			Orchestrator:    orch,
			FaceVerifier:    verifier,
			Frames:          &frameList{urls: req.FrameURLs},
			Scanner:         staticScanner{payload: req.QRPayload},
			Tokens:          challenge,
			Locations:       locationProvider(req.Latitude, req.Longitude, req.AccuracyMeters, req.LocationError),
			LocationTimeout: cfg.LocationTimeout,
			Devices:         devices,
			Signals:         mapSignals{components: req.Components},
			Fence:           sess.Fence,
			Logger:          log,
		})

		attempt, record, err := runner.Run(c.Request.Context(), claims.Subject, sess.CheckinSession())
		if err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, checkin.ErrAttemptInFlight):
				status = http.StatusConflict
			case errors.Is(err, checkin.ErrSessionClosed):
				status = http.StatusGone
			case errors.Is(err, context.Canceled):
				status = 499 // client closed request
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		m.ObserveAttempt(attempt)
		snapshot := attempt.Snapshot()
		attempts.Store(attempt.ID, snapshot)

		if record != nil {
			body, _ := json.Marshal(record)
			if err := q.Publish(c.Request.Context(), queue.Message{Type: "record", Body: body}); err != nil {
				log.WithError(err).Error("queue publish failed")
			}
			c.JSON(http.StatusCreated, gin.H{"attempt": snapshot, "record": record})
			return
		}

		c.JSON(http.StatusOK, gin.H{"attempt": snapshot})
	})

	students.GET("/checkins/:id", func(c *gin.Context) {
		if snapshot, ok := attempts.Load(c.Param("id")); ok {
			c.JSON(http.StatusOK, gin.H{"attempt": snapshot})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "attempt not found"})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.HTTPPort).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server forced shutdown")
	}

	log.Info("server exited")
	return nil
}

// locationProvider turns the client-reported position (or its acquisition
// failure) into a provider the pipeline can consume.
func locationProvider(lat, lon, accuracy float64, locErr string) location.Provider {
	switch locErr {
	case "permission_denied":
		return location.FixedProvider{Err: location.ErrPermissionDenied}
	case "timeout":
		return location.FixedProvider{Err: location.ErrTimeout}
	case "unavailable":
		return location.FixedProvider{Err: location.ErrUnavailable}
	}
	return location.FixedProvider{Fix: location.Fix{
		Coordinate:     geo.Coordinate{Latitude: lat, Longitude: lon},
		AccuracyMeters: accuracy,
		Timestamp:      time.Now(),
	}}
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
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
