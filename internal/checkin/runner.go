package checkin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"attendify/internal/device"
	"attendify/internal/face"
	"attendify/internal/geo"
	"attendify/internal/location"
	"attendify/internal/qr"

	"github.com/sirupsen/logrus"
)

// TokenValidator checks scanned QR payloads against the session's current
// token.
type TokenValidator interface {
	Validate(scanned string) qr.Result
}

// Scanner reads a QR payload from the camera. It blocks until a code is in
// view or the context ends.
type Scanner interface {
	Scan(ctx context.Context) (string, error)
}

// SignalSource gathers the device traits the fingerprint is derived from.
type SignalSource interface {
	Signals(ctx context.Context) (map[string]string, error)
}

// Runner drives one attempt through the full pipeline: face, QR, geofence,
// device. Collaborator failures unrelated to attendance policy surface as a
// system-error failure, never as a policy rejection.
type Runner struct {
	orch            *Orchestrator
	faces           *face.Verifier
	frames          face.FrameSource
	scanner         Scanner
	tokens          TokenValidator
	locations       location.Provider
	locationTimeout time.Duration
	devices         *device.Validator
	signals         SignalSource
	fence           geo.Geofence
	logger          *logrus.Logger
}

// RunnerDeps wires a Runner's collaborators.
type RunnerDeps struct {
	Orchestrator    *Orchestrator
	FaceVerifier    *face.Verifier
	Frames          face.FrameSource
	Scanner         Scanner
	Tokens          TokenValidator
	Locations       location.Provider
	LocationTimeout time.Duration
	Devices         *device.Validator
	Signals         SignalSource
	Fence           geo.Geofence
	Logger          *logrus.Logger
}

// NewRunner builds a runner from its collaborators.
func NewRunner(deps RunnerDeps) *Runner {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Runner{
		orch:            deps.Orchestrator,
		faces:           deps.FaceVerifier,
		frames:          deps.Frames,
		scanner:         deps.Scanner,
		tokens:          deps.Tokens,
		locations:       deps.Locations,
		locationTimeout: deps.LocationTimeout,
		devices:         deps.Devices,
		signals:         deps.Signals,
		fence:           deps.Fence,
		logger:          logger,
	}
}

// Run starts an attempt for the student and advances it step by step until it
// terminates. Cancelling ctx aborts the attempt and releases every
// outstanding step resource. The returned record is non-nil only when the
// attempt completed successfully.
func (r *Runner) Run(ctx context.Context, studentID string, sess Session) (*Attempt, *AttendanceRecord, error) {
	attempt, err := r.orch.Start(studentID, sess)
	if err != nil {
		return nil, nil, err
	}

	steps := map[Step]func(context.Context) (StepOutcome, error){
		StepFace:     r.faceStep,
		StepQR:       r.qrStep,
		StepLocation: r.locationStep,
		StepDevice:   func(ctx context.Context) (StepOutcome, error) { return r.deviceStep(ctx, studentID) },
	}

	for !attempt.Terminal() {
		runStep, ok := steps[attempt.CurrentStep]
		if !ok {
			break
		}

		outcome, err := runStep(ctx)
		if err != nil {
			if ctx.Err() != nil {
				r.orch.Abort(attempt)
				return attempt, nil, ctx.Err()
			}
			r.logger.WithError(err).WithFields(logrus.Fields{
				"attempt_id": attempt.ID,
				"step":       attempt.CurrentStep,
			}).Error("check-in step failed with system error")
			outcome = StepOutcome{Reason: ReasonSystemError, Message: "System error, please try again"}
		}

		attempt = r.orch.Advance(attempt, sess, outcome)
	}

	if attempt.FinalStatus == StatusFailed {
		return attempt, nil, nil
	}

	record, err := BuildRecord(attempt)
	if err != nil {
		return attempt, nil, err
	}
	return attempt, &record, nil
}

func (r *Runner) faceStep(ctx context.Context) (StepOutcome, error) {
	res, err := r.faces.Run(ctx, r.frames)
	if err != nil {
		return StepOutcome{}, err
	}
	outcome := StepOutcome{
		Valid:          res.Valid,
		Message:        res.Message,
		FaceConfidence: res.Confidence,
	}
	if !res.Valid {
		outcome.Reason = ReasonFaceVerificationFailed
	}
	return outcome, nil
}

func (r *Runner) qrStep(ctx context.Context) (StepOutcome, error) {
	payload, err := r.scanner.Scan(ctx)
	if err != nil {
		return StepOutcome{}, fmt.Errorf("qr scan: %w", err)
	}

	res := r.tokens.Validate(payload)
	if res.Valid {
		return StepOutcome{Valid: true, Message: "QR code accepted"}, nil
	}

	outcome := StepOutcome{Reason: ReasonTokenMismatch, Message: "QR code not recognized, scan the current code"}
	switch res.Reason {
	case qr.ReasonExpired:
		outcome.Reason = ReasonTokenExpired
		outcome.Message = "QR code expired, scan the refreshed code"
	case qr.ReasonConsumed:
		outcome.Reason = ReasonTokenConsumed
		outcome.Message = "QR code already used"
	}
	return outcome, nil
}

func (r *Runner) locationStep(ctx context.Context) (StepOutcome, error) {
	fix, err := location.Acquire(ctx, r.locations, r.locationTimeout)
	if err != nil {
		outcome := StepOutcome{Message: err.Error()}
		switch {
		case errors.Is(err, location.ErrPermissionDenied):
			outcome.Reason = ReasonLocationPermission
		case errors.Is(err, location.ErrTimeout):
			outcome.Reason = ReasonLocationTimeout
		case errors.Is(err, location.ErrUnavailable):
			outcome.Reason = ReasonLocationUnavailable
		default:
			return StepOutcome{}, err
		}
		return outcome, nil
	}

	res := geo.Validate(fix.Coordinate, r.fence)
	outcome := StepOutcome{
		Valid:          res.Valid,
		Message:        res.Message(r.fence),
		DistanceMeters: res.DistanceMeters,
		Latitude:       fix.Coordinate.Latitude,
		Longitude:      fix.Coordinate.Longitude,
		AccuracyMeters: fix.AccuracyMeters,
	}
	if !res.Valid {
		outcome.Reason = ReasonGeofenceViolation
	}
	return outcome, nil
}

func (r *Runner) deviceStep(ctx context.Context, studentID string) (StepOutcome, error) {
	signals, err := r.signals.Signals(ctx)
	if err != nil {
		return StepOutcome{}, fmt.Errorf("device signals: %w", err)
	}

	visitorID := device.VisitorID(signals)
	res, err := r.devices.Validate(ctx, studentID, visitorID)
	if err != nil {
		return StepOutcome{}, err
	}

	outcome := StepOutcome{
		Valid:     res.Valid,
		Message:   res.Message,
		VisitorID: res.VisitorID,
	}
	if !res.Valid {
		outcome.Reason = ReasonDeviceNotRecognized
	}
	return outcome, nil
}
