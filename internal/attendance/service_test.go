package attendance

import (
	"bytes"
	"context"
	"testing"
	"time"

	"attendify/internal/geo"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(&bytes.Buffer{})
	return log
}

func TestManagerOpenAndIssueTokens(t *testing.T) {
	m := NewManager(nil, quietLogger(), 50*time.Millisecond, geo.RadiusBounds{})
	defer m.Shutdown()

	fence := geo.Geofence{Center: geo.Coordinate{Latitude: 11.5564, Longitude: 104.9282}, RadiusMeters: 100}
	sess, err := m.Open(context.Background(), "class-1", "lect-1", fence, 15*time.Minute, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "active", sess.Status)

	tok, err := m.CurrentToken(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, tok.SessionID)

	// The rotator supersedes the token on its own.
	first := tok.Nonce
	assert.Eventually(t, func() bool {
		cur, err := m.CurrentToken(sess.ID)
		return err == nil && cur.Nonce != first
	}, time.Second, 10*time.Millisecond)
}

func TestManagerCloseStopsSession(t *testing.T) {
	m := NewManager(nil, quietLogger(), time.Second, geo.RadiusBounds{})
	sess, err := m.Open(context.Background(), "class-1", "lect-1", geo.Geofence{RadiusMeters: 100}, 15*time.Minute, 30*time.Minute)
	require.NoError(t, err)

	require.NoError(t, m.Close(context.Background(), sess.ID))

	_, err = m.Get(sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, m.Close(context.Background(), sess.ID), ErrSessionNotFound)
}

func TestManagerChallengeValidatesScan(t *testing.T) {
	m := NewManager(nil, quietLogger(), time.Second, geo.RadiusBounds{})
	defer m.Shutdown()

	sess, err := m.Open(context.Background(), "class-1", "lect-1", geo.Geofence{RadiusMeters: 100}, 15*time.Minute, 30*time.Minute)
	require.NoError(t, err)

	challenge, err := m.Challenge(sess.ID)
	require.NoError(t, err)

	res := challenge.Validate(challenge.Current().Payload())
	assert.True(t, res.Valid)
}

func TestSessionFenceRadiusClamped(t *testing.T) {
	m := NewManager(nil, quietLogger(), time.Second, geo.RadiusBounds{})
	defer m.Shutdown()

	sess, err := m.Open(context.Background(), "class-1", "lect-1", geo.Geofence{RadiusMeters: 1000}, 15*time.Minute, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, geo.MaxRadiusMeters, sess.Fence.RadiusMeters)
}

func TestSessionFenceUsesConfiguredBounds(t *testing.T) {
	m := NewManager(nil, quietLogger(), time.Second, geo.RadiusBounds{Min: 20, Max: 500})
	defer m.Shutdown()

	wide, err := m.Open(context.Background(), "class-1", "lect-1", geo.Geofence{RadiusMeters: 400}, 15*time.Minute, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 400.0, wide.Fence.RadiusMeters)

	narrow, err := m.Open(context.Background(), "class-2", "lect-1", geo.Geofence{RadiusMeters: 5}, 15*time.Minute, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 20.0, narrow.Fence.RadiusMeters)
}
