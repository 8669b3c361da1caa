package checkin

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GeofenceValidation is the location evidence stored with a record.
type GeofenceValidation struct {
	WithinGeofence bool    `json:"within_geofence"`
	DistanceMeters float64 `json:"distance_meters"`
}

// AttendanceRecord is the immutable output of a completed attempt, handed to
// the session's record storage.
type AttendanceRecord struct {
	ID                  string             `json:"id"`
	SessionID           string             `json:"session_id"`
	StudentID           string             `json:"student_id"`
	ClassID             string             `json:"class_id"`
	Timestamp           time.Time          `json:"timestamp"`
	Status              Status             `json:"status"`
	CheckInMethod       string             `json:"check_in_method"`
	FaceVerified        bool               `json:"face_verified"`
	FaceConfidence      float64            `json:"face_confidence"`
	Geofence            GeofenceValidation `json:"geofence_validation"`
	DeviceFingerprintID string             `json:"device_fingerprint_id"`
	Latitude            float64            `json:"latitude"`
	Longitude           float64            `json:"longitude"`
	AccuracyMeters      float64            `json:"accuracy_meters"`
}

// BuildRecord assembles the attendance record from a successfully completed
// attempt. Exactly one record exists per such attempt.
func BuildRecord(attempt *Attempt) (AttendanceRecord, error) {
	if !attempt.Terminal() {
		return AttendanceRecord{}, fmt.Errorf("attempt %s not terminal", attempt.ID)
	}
	if attempt.FinalStatus == StatusFailed {
		return AttendanceRecord{}, fmt.Errorf("attempt %s failed: %s", attempt.ID, attempt.FailReason)
	}

	faceRes := attempt.StepResults[StepFace]
	locRes := attempt.StepResults[StepLocation]
	devRes := attempt.StepResults[StepDevice]

	return AttendanceRecord{
		ID:             uuid.NewString(),
		SessionID:      attempt.SessionID,
		StudentID:      attempt.StudentID,
		ClassID:        attempt.ClassID,
		Timestamp:      *attempt.CompletedAt,
		Status:         attempt.FinalStatus,
		CheckInMethod:  "qr",
		FaceVerified:   faceRes.Valid,
		FaceConfidence: faceRes.FaceConfidence,
		Geofence: GeofenceValidation{
			WithinGeofence: locRes.Valid,
			DistanceMeters: locRes.DistanceMeters,
		},
		DeviceFingerprintID: devRes.VisitorID,
		Latitude:            locRes.Latitude,
		Longitude:           locRes.Longitude,
		AccuracyMeters:      locRes.AccuracyMeters,
	}, nil
}
