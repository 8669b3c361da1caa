package checkin

import (
	"time"
)

// Step of the verification pipeline. Steps run strictly in order; each step's
// validity is a precondition for trusting the next.
type Step string

const (
	StepFace     Step = "face"
	StepQR       Step = "qr"
	StepLocation Step = "location"
	StepDevice   Step = "device"
	StepSuccess  Step = "success"
)

// stepOrder is the forward-only progression of the pipeline.
var stepOrder = []Step{StepFace, StepQR, StepLocation, StepDevice, StepSuccess}

func nextStep(s Step) Step {
	for i, candidate := range stepOrder {
		if candidate == s && i+1 < len(stepOrder) {
			return stepOrder[i+1]
		}
	}
	return StepSuccess
}

// Status is the terminal disposition of an attempt.
type Status string

const (
	StatusPending Status = "pending"
	StatusPresent Status = "present"
	StatusLate    Status = "late"
	StatusFailed  Status = "failed"
)

// Reason identifies why a step rejected the attempt. Policy failures are kept
// distinct from systemic errors so callers can show "verification failed"
// versus "system error".
type Reason string

const (
	ReasonNone                   Reason = ""
	ReasonFaceVerificationFailed Reason = "face_verification_failed"
	ReasonTokenExpired           Reason = "token_expired"
	ReasonTokenMismatch          Reason = "token_mismatch"
	ReasonTokenConsumed          Reason = "token_already_consumed"
	ReasonGeofenceViolation      Reason = "geofence_violation"
	ReasonLocationPermission     Reason = "location_permission_denied"
	ReasonLocationTimeout        Reason = "location_timeout"
	ReasonLocationUnavailable    Reason = "location_unavailable"
	ReasonDeviceNotRecognized    Reason = "device_not_recognized"
	ReasonSessionClosed          Reason = "session_closed"
	ReasonCancelled              Reason = "cancelled"
	ReasonSystemError            Reason = "system_error"
)

// StepOutcome is one validator's verdict on its step.
type StepOutcome struct {
	Valid   bool   `json:"valid"`
	Reason  Reason `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`

	// Step evidence carried into the attendance record.
	FaceConfidence float64 `json:"face_confidence,omitempty"`
	DistanceMeters float64 `json:"distance_meters,omitempty"`
	Latitude       float64 `json:"latitude,omitempty"`
	Longitude      float64 `json:"longitude,omitempty"`
	AccuracyMeters float64 `json:"accuracy_meters,omitempty"`
	VisitorID      string  `json:"visitor_id,omitempty"`
}

// Attempt is one student's in-flight check-in transaction. It is mutated only
// by the orchestrator and becomes immutable once FinalStatus leaves pending.
type Attempt struct {
	ID          string               `json:"id"`
	StudentID   string               `json:"student_id"`
	ClassID     string               `json:"class_id"`
	SessionID   string               `json:"session_id"`
	StartedAt   time.Time            `json:"started_at"`
	CurrentStep Step                 `json:"current_step"`
	StepResults map[Step]StepOutcome `json:"step_results"`
	FinalStatus Status               `json:"final_status"`
	FailReason  Reason               `json:"fail_reason,omitempty"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
}

// Terminal reports whether the attempt reached a final state.
func (a *Attempt) Terminal() bool {
	return a.FinalStatus != StatusPending
}

// Snapshot returns a copy safe to hand to observers while the orchestrator
// keeps mutating the original.
func (a *Attempt) Snapshot() Attempt {
	cp := *a
	cp.StepResults = make(map[Step]StepOutcome, len(a.StepResults))
	for k, v := range a.StepResults {
		cp.StepResults[k] = v
	}
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		cp.CompletedAt = &t
	}
	return cp
}
