package checkin

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrAttemptInFlight is returned when a second attempt is started for the
	// same (student, session) pair before the first finishes.
	ErrAttemptInFlight = errors.New("check-in already in progress for this session")
	// ErrSessionClosed is returned when the session's grace window has passed
	// and no new attempt may start.
	ErrSessionClosed = errors.New("session no longer accepts check-ins")
)

// Session is what the orchestrator needs to know about the attendance session
// an attempt targets.
type Session struct {
	ID         string
	ClassID    string
	StartedAt  time.Time
	LateCutoff time.Duration
	LateGrace  time.Duration
}

// statusAt maps a completion instant to present or late. The zero Status
// means the session is past its grace window.
func (s Session) statusAt(t time.Time) Status {
	elapsed := t.Sub(s.StartedAt)
	switch {
	case elapsed <= s.LateCutoff:
		return StatusPresent
	case elapsed <= s.LateCutoff+s.LateGrace:
		return StatusLate
	default:
		return ""
	}
}

// Orchestrator sequences the verification steps of check-in attempts. It
// enforces one in-flight attempt per (student, session) pair and publishes
// every transition to its notifier.
type Orchestrator struct {
	notifier *Notifier
	logger   *logrus.Logger
	now      func() time.Time

	mu       sync.Mutex
	inflight map[string]*Attempt
}

// NewOrchestrator creates an orchestrator. The notifier may be nil when no
// observer cares about transitions.
func NewOrchestrator(notifier *Notifier, logger *logrus.Logger) *Orchestrator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Orchestrator{
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
		inflight: make(map[string]*Attempt),
	}
}

func pairKey(studentID, sessionID string) string {
	return studentID + "|" + sessionID
}

// Start opens a new attempt in the Face step. It fails when the session is
// past its grace window or when the student already has an attempt in flight
// for this session.
func (o *Orchestrator) Start(studentID string, sess Session) (*Attempt, error) {
	now := o.now()
	if sess.statusAt(now) == "" {
		return nil, ErrSessionClosed
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	key := pairKey(studentID, sess.ID)
	if existing, ok := o.inflight[key]; ok && !existing.Terminal() {
		return nil, fmt.Errorf("%w: attempt %s", ErrAttemptInFlight, existing.ID)
	}

	attempt := &Attempt{
		ID:          uuid.NewString(),
		StudentID:   studentID,
		ClassID:     sess.ClassID,
		SessionID:   sess.ID,
		StartedAt:   now,
		CurrentStep: StepFace,
		StepResults: make(map[Step]StepOutcome),
		FinalStatus: StatusPending,
	}
	o.inflight[key] = attempt

	o.logger.WithFields(logrus.Fields{
		"attempt_id": attempt.ID,
		"student_id": studentID,
		"session_id": sess.ID,
	}).Info("check-in attempt started")

	o.publish(attempt)
	return attempt, nil
}

// Advance applies one step's outcome. A valid outcome moves the attempt to
// the next step; reaching Success computes the final status from the session
// policy. Any invalid outcome transitions directly to Failed with that step's
// reason. Advancing a terminal attempt is a no-op returning the same state.
func (o *Orchestrator) Advance(attempt *Attempt, sess Session, outcome StepOutcome) *Attempt {
	o.mu.Lock()
	defer o.mu.Unlock()

	if attempt.Terminal() {
		return attempt
	}

	step := attempt.CurrentStep
	attempt.StepResults[step] = outcome
	log := o.logger.WithFields(logrus.Fields{
		"attempt_id": attempt.ID,
		"step":       step,
		"valid":      outcome.Valid,
	})

	if !outcome.Valid {
		o.finishLocked(attempt, StatusFailed, outcome.Reason)
		log.WithField("reason", outcome.Reason).Info("check-in attempt failed")
		o.publish(attempt)
		return attempt
	}

	attempt.CurrentStep = nextStep(step)
	if attempt.CurrentStep == StepSuccess {
		status := sess.statusAt(o.now())
		if status == "" {
			// The session closed while the pipeline was running.
			o.finishLocked(attempt, StatusFailed, ReasonSessionClosed)
		} else {
			o.finishLocked(attempt, status, ReasonNone)
		}
		log.WithField("status", attempt.FinalStatus).Info("check-in attempt completed")
	}

	o.publish(attempt)
	return attempt
}

// Abort terminates a pending attempt, releasing its in-flight slot. Used when
// the user cancels or navigates away mid-pipeline.
func (o *Orchestrator) Abort(attempt *Attempt) *Attempt {
	o.mu.Lock()
	defer o.mu.Unlock()

	if attempt.Terminal() {
		return attempt
	}
	attempt.StepResults[attempt.CurrentStep] = StepOutcome{Reason: ReasonCancelled, Message: "check-in cancelled"}
	o.finishLocked(attempt, StatusFailed, ReasonCancelled)
	o.logger.WithField("attempt_id", attempt.ID).Info("check-in attempt aborted")
	o.publish(attempt)
	return attempt
}

// finishLocked seals the attempt. Callers hold o.mu.
func (o *Orchestrator) finishLocked(attempt *Attempt, status Status, reason Reason) {
	now := o.now()
	attempt.FinalStatus = status
	attempt.FailReason = reason
	attempt.CompletedAt = &now
	delete(o.inflight, pairKey(attempt.StudentID, attempt.SessionID))
}

func (o *Orchestrator) publish(attempt *Attempt) {
	if o.notifier != nil {
		o.notifier.Publish(Event{
			AttemptID:   attempt.ID,
			StudentID:   attempt.StudentID,
			SessionID:   attempt.SessionID,
			Step:        attempt.CurrentStep,
			FinalStatus: attempt.FinalStatus,
			FailReason:  attempt.FailReason,
			At:          o.now(),
		})
	}
}
