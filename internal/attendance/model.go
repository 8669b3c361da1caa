package attendance

import (
	"time"

	"attendify/internal/checkin"
	"attendify/internal/geo"
)

// Session is a lecturer-opened attendance window for one class meeting.
type Session struct {
	ID         string        `json:"id"`
	ClassID    string        `json:"class_id"`
	LecturerID string        `json:"lecturer_id"`
	StartedAt  time.Time     `json:"started_at"`
	EndedAt    *time.Time    `json:"ended_at,omitempty"`
	Status     string        `json:"status"` // active | ended
	Fence      geo.Geofence  `json:"fence"`
	LateCutoff time.Duration `json:"late_cutoff"`
	LateGrace  time.Duration `json:"late_grace"`
}

// CheckinSession projects the session into the shape the orchestrator needs.
func (s Session) CheckinSession() checkin.Session {
	return checkin.Session{
		ID:         s.ID,
		ClassID:    s.ClassID,
		StartedAt:  s.StartedAt,
		LateCutoff: s.LateCutoff,
		LateGrace:  s.LateGrace,
	}
}

// Active reports whether the session still accepts check-ins.
func (s Session) Active() bool {
	return s.Status == "active"
}
