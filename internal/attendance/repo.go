package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"attendify/internal/checkin"
	"attendify/internal/geo"

	"github.com/google/uuid"
)

// Repository persists sessions and attendance records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// InsertSession writes a new session row.
func (r *Repository) InsertSession(ctx context.Context, s Session) (Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now().UTC()
	}
	if s.Status == "" {
		s.Status = "active"
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_sessions
			(id, class_id, lecturer_id, started_at, status,
			 fence_lat, fence_lon, fence_radius_m, late_cutoff_s, late_grace_s)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, s.ID, s.ClassID, s.LecturerID, s.StartedAt, s.Status,
		s.Fence.Center.Latitude, s.Fence.Center.Longitude, s.Fence.RadiusMeters,
		int(s.LateCutoff.Seconds()), int(s.LateGrace.Seconds()))
	if err != nil {
		return Session{}, err
	}
	return s, nil
}

// GetSession returns a session by id, or nil when absent.
func (r *Repository) GetSession(ctx context.Context, id string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, class_id, lecturer_id, started_at, ended_at, status,
		       fence_lat, fence_lon, fence_radius_m, late_cutoff_s, late_grace_s
		FROM attendance_sessions WHERE id = $1
	`, id)

	var (
		s                 Session
		cutoffS, graceS   int
		lat, lon, radiusM float64
	)
	if err := row.Scan(&s.ID, &s.ClassID, &s.LecturerID, &s.StartedAt, &s.EndedAt, &s.Status,
		&lat, &lon, &radiusM, &cutoffS, &graceS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.Fence = geo.Geofence{Center: geo.Coordinate{Latitude: lat, Longitude: lon}, RadiusMeters: radiusM}
	s.LateCutoff = time.Duration(cutoffS) * time.Second
	s.LateGrace = time.Duration(graceS) * time.Second
	return &s, nil
}

// EndSession marks a session ended.
func (r *Repository) EndSession(ctx context.Context, id string, endedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE attendance_sessions SET status = 'ended', ended_at = $2 WHERE id = $1
	`, id, endedAt)
	return err
}

// InsertRecord writes an attendance record. The (session, student) pair is
// unique, so a duplicate insert from a retried queue message is a no-op.
func (r *Repository) InsertRecord(ctx context.Context, rec checkin.AttendanceRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records
			(id, session_id, student_id, class_id, recorded_at, status,
			 check_in_method, face_verified, face_confidence,
			 within_geofence, distance_m, device_fingerprint_id,
			 latitude, longitude, accuracy_m)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (session_id, student_id) DO NOTHING
	`, rec.ID, rec.SessionID, rec.StudentID, rec.ClassID, rec.Timestamp, string(rec.Status),
		rec.CheckInMethod, rec.FaceVerified, rec.FaceConfidence,
		rec.Geofence.WithinGeofence, rec.Geofence.DistanceMeters, rec.DeviceFingerprintID,
		rec.Latitude, rec.Longitude, rec.AccuracyMeters)
	return err
}

// ListRecords returns a session's records, newest first.
func (r *Repository) ListRecords(ctx context.Context, sessionID string, limit, offset int) ([]checkin.AttendanceRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, student_id, class_id, recorded_at, status,
		       check_in_method, face_verified, face_confidence,
		       within_geofence, distance_m, device_fingerprint_id,
		       latitude, longitude, accuracy_m
		FROM attendance_records
		WHERE session_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2 OFFSET $3
	`, sessionID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []checkin.AttendanceRecord
	for rows.Next() {
		var (
			rec    checkin.AttendanceRecord
			status string
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.StudentID, &rec.ClassID, &rec.Timestamp, &status,
			&rec.CheckInMethod, &rec.FaceVerified, &rec.FaceConfidence,
			&rec.Geofence.WithinGeofence, &rec.Geofence.DistanceMeters, &rec.DeviceFingerprintID,
			&rec.Latitude, &rec.Longitude, &rec.AccuracyMeters); err != nil {
			return nil, err
		}
		rec.Status = checkin.Status(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SessionStats summarizes a session's terminal outcomes.
type SessionStats struct {
	Present int `json:"present"`
	Late    int `json:"late"`
	Absent  int `json:"absent"`
}

// Stats counts a session's records per status.
func (r *Repository) Stats(ctx context.Context, sessionID string) (SessionStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM attendance_records
		WHERE session_id = $1 GROUP BY status
	`, sessionID)
	if err != nil {
		return SessionStats{}, err
	}
	defer rows.Close()

	var stats SessionStats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return SessionStats{}, err
		}
		switch checkin.Status(status) {
		case checkin.StatusPresent:
			stats.Present = count
		case checkin.StatusLate:
			stats.Late = count
		case "absent":
			stats.Absent = count
		default:
			return SessionStats{}, fmt.Errorf("unexpected record status %q", status)
		}
	}
	return stats, rows.Err()
}
