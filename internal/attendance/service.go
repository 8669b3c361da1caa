package attendance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"attendify/internal/checkin"
	"attendify/internal/geo"
	"attendify/internal/qr"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrSessionNotFound is returned for lookups of unknown or ended sessions.
var ErrSessionNotFound = errors.New("session not found")

// activeSession pairs a session with its rotating QR challenge.
type activeSession struct {
	session   Session
	challenge *qr.Challenge
	rotator   *qr.Rotator
}

// Manager owns the set of active sessions and their rotating QR challenges.
// Sessions are also persisted through the repository when one is configured.
type Manager struct {
	repo   *Repository
	logger *logrus.Logger
	qrTTL  time.Duration
	bounds geo.RadiusBounds

	mu     sync.Mutex
	active map[string]*activeSession
}

// NewManager creates a session manager. repo may be nil in dev setups
// without Postgres; sessions then live in memory only. Zero-value bounds
// fall back to the geo defaults.
func NewManager(repo *Repository, logger *logrus.Logger, qrTTL time.Duration, bounds geo.RadiusBounds) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	if qrTTL <= 0 {
		qrTTL = qr.DefaultTTL
	}
	return &Manager{
		repo:   repo,
		logger: logger,
		qrTTL:  qrTTL,
		bounds: bounds,
		active: make(map[string]*activeSession),
	}
}

// Open starts a session for a class: persists it, issues the first QR token
// and begins rotation.
func (m *Manager) Open(ctx context.Context, classID, lecturerID string, fence geo.Geofence, lateCutoff, lateGrace time.Duration) (Session, error) {
	sess := Session{
		ID:         uuid.NewString(),
		ClassID:    classID,
		LecturerID: lecturerID,
		StartedAt:  time.Now().UTC(),
		Status:     "active",
		Fence:      geo.NewGeofenceWithin(fence.Center, fence.RadiusMeters, m.bounds),
		LateCutoff: lateCutoff,
		LateGrace:  lateGrace,
	}

	if m.repo != nil {
		stored, err := m.repo.InsertSession(ctx, sess)
		if err != nil {
			return Session{}, fmt.Errorf("persist session: %w", err)
		}
		sess = stored
	}

	log := m.logger.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"class_id":   classID,
	})

	challenge := qr.NewChallenge(sess.ID, sess.ClassID, m.qrTTL)
	rotator := qr.NewRotator(challenge, func(tok *qr.Token) {
		log.WithField("expires_at", tok.ExpiresAt()).Debug("qr token rotated")
	})

	m.mu.Lock()
	m.active[sess.ID] = &activeSession{session: sess, challenge: challenge, rotator: rotator}
	m.mu.Unlock()

	log.Info("attendance session opened")
	return sess, nil
}

// Close ends a session and stops its QR rotation.
func (m *Manager) Close(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	as, ok := m.active[sessionID]
	if ok {
		delete(m.active, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	as.rotator.Stop()
	if m.repo != nil {
		if err := m.repo.EndSession(ctx, sessionID, time.Now().UTC()); err != nil {
			return fmt.Errorf("end session: %w", err)
		}
	}
	m.logger.WithField("session_id", sessionID).Info("attendance session closed")
	return nil
}

// Get returns an active session.
func (m *Manager) Get(sessionID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	as, ok := m.active[sessionID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return as.session, nil
}

// Challenge returns the session's QR challenge for scan validation.
func (m *Manager) Challenge(sessionID string) (*qr.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	as, ok := m.active[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return as.challenge, nil
}

// CurrentToken returns the session's latest token for display.
func (m *Manager) CurrentToken(sessionID string) (*qr.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	as, ok := m.active[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return as.challenge.Current(), nil
}

// SaveRecord persists a completed check-in's attendance record.
func (m *Manager) SaveRecord(ctx context.Context, rec checkin.AttendanceRecord) error {
	if m.repo == nil {
		m.logger.WithField("record_id", rec.ID).Warn("no repository configured, record not persisted")
		return nil
	}
	if err := m.repo.InsertRecord(ctx, rec); err != nil {
		return fmt.Errorf("persist record: %w", err)
	}
	return nil
}

// Shutdown stops every active rotator.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, as := range m.active {
		as.rotator.Stop()
		delete(m.active, id)
	}
}
