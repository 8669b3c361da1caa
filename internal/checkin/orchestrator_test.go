package checkin

import (
	"bytes"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(&bytes.Buffer{})
	return log
}

func testSession(start time.Time) Session {
	return Session{
		ID:         "sess-1",
		ClassID:    "class-1",
		StartedAt:  start,
		LateCutoff: 15 * time.Minute,
		LateGrace:  30 * time.Minute,
	}
}

func newTestOrchestrator(now *time.Time) *Orchestrator {
	o := NewOrchestrator(nil, quietLogger())
	o.now = func() time.Time { return *now }
	return o
}

func validOutcome() StepOutcome { return StepOutcome{Valid: true} }

func TestAdvanceLinearProgression(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	now := start
	o := newTestOrchestrator(&now)
	sess := testSession(start)

	attempt, err := o.Start("student-1", sess)
	require.NoError(t, err)
	assert.Equal(t, StepFace, attempt.CurrentStep)
	assert.Equal(t, StatusPending, attempt.FinalStatus)

	for _, want := range []Step{StepQR, StepLocation, StepDevice, StepSuccess} {
		attempt = o.Advance(attempt, sess, validOutcome())
		assert.Equal(t, want, attempt.CurrentStep)
	}
	assert.Equal(t, StatusPresent, attempt.FinalStatus)
	require.NotNil(t, attempt.CompletedAt)
}

func TestAdvanceFailureStopsPipeline(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	now := start
	o := newTestOrchestrator(&now)
	sess := testSession(start)

	attempt, err := o.Start("student-1", sess)
	require.NoError(t, err)

	attempt = o.Advance(attempt, sess, validOutcome()) // face
	attempt = o.Advance(attempt, sess, StepOutcome{
		Reason:  ReasonTokenExpired,
		Message: "QR code expired",
	})

	assert.Equal(t, StatusFailed, attempt.FinalStatus)
	assert.Equal(t, ReasonTokenExpired, attempt.FailReason)
	assert.Equal(t, StepQR, attempt.CurrentStep)
	_, locationRan := attempt.StepResults[StepLocation]
	assert.False(t, locationRan)
}

func TestAdvanceTerminalIsNoOp(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	now := start
	o := newTestOrchestrator(&now)
	sess := testSession(start)

	attempt, err := o.Start("student-1", sess)
	require.NoError(t, err)
	attempt = o.Advance(attempt, sess, StepOutcome{Reason: ReasonFaceVerificationFailed})
	require.Equal(t, StatusFailed, attempt.FinalStatus)

	before := attempt.Snapshot()
	after := o.Advance(attempt, sess, validOutcome())
	assert.Equal(t, before, after.Snapshot())
}

func TestStartRejectsDuplicateInFlight(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	now := start
	o := newTestOrchestrator(&now)
	sess := testSession(start)

	_, err := o.Start("student-1", sess)
	require.NoError(t, err)

	_, err = o.Start("student-1", sess)
	assert.ErrorIs(t, err, ErrAttemptInFlight)

	// A different student is unaffected.
	_, err = o.Start("student-2", sess)
	assert.NoError(t, err)
}

func TestStartAllowedAgainAfterTerminal(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	now := start
	o := newTestOrchestrator(&now)
	sess := testSession(start)

	attempt, err := o.Start("student-1", sess)
	require.NoError(t, err)
	o.Advance(attempt, sess, StepOutcome{Reason: ReasonDeviceNotRecognized})

	_, err = o.Start("student-1", sess)
	assert.NoError(t, err)
}

func TestStartRejectsClosedSession(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	now := start.Add(46 * time.Minute) // past cutoff (15m) + grace (30m)
	o := newTestOrchestrator(&now)

	_, err := o.Start("student-1", testSession(start))
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestLateStatusWithinGrace(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	now := start.Add(20 * time.Minute) // past cutoff, inside grace
	o := newTestOrchestrator(&now)
	sess := testSession(start)

	attempt, err := o.Start("student-1", sess)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		attempt = o.Advance(attempt, sess, validOutcome())
	}
	assert.Equal(t, StatusLate, attempt.FinalStatus)
}

func TestSessionClosesMidPipeline(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	now := start.Add(44 * time.Minute)
	o := newTestOrchestrator(&now)
	sess := testSession(start)

	attempt, err := o.Start("student-1", sess)
	require.NoError(t, err)

	now = start.Add(50 * time.Minute)
	for i := 0; i < 4; i++ {
		attempt = o.Advance(attempt, sess, validOutcome())
	}
	assert.Equal(t, StatusFailed, attempt.FinalStatus)
	assert.Equal(t, ReasonSessionClosed, attempt.FailReason)
}

func TestAbortReleasesSlot(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	now := start
	o := newTestOrchestrator(&now)
	sess := testSession(start)

	attempt, err := o.Start("student-1", sess)
	require.NoError(t, err)

	o.Abort(attempt)
	assert.Equal(t, StatusFailed, attempt.FinalStatus)
	assert.Equal(t, ReasonCancelled, attempt.FailReason)

	_, err = o.Start("student-1", sess)
	assert.NoError(t, err)
}

func TestNotifierReceivesTransitions(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	now := start
	n := NewNotifier()
	o := NewOrchestrator(n, quietLogger())
	o.now = func() time.Time { return now }
	sess := testSession(start)

	events, cancel := n.Subscribe()
	defer cancel()

	attempt, err := o.Start("student-1", sess)
	require.NoError(t, err)
	o.Advance(attempt, sess, validOutcome())

	evt := <-events
	assert.Equal(t, attempt.ID, evt.AttemptID)
	assert.Equal(t, StepFace, evt.Step)

	evt = <-events
	assert.Equal(t, StepQR, evt.Step)
	assert.Equal(t, StatusPending, evt.FinalStatus)
}
