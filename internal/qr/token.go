package qr

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL keeps a token scannable long enough for a human while bounding
// how long a captured QR image can be replayed.
const DefaultTTL = 5 * time.Second

// State of a token. Expired and Consumed are terminal.
type State string

const (
	StateIssued   State = "issued"
	StateExpired  State = "expired"
	StateConsumed State = "consumed"
)

// Token is a short-lived session challenge encoded into a QR payload. Only
// the newest token of a session is ever accepted.
type Token struct {
	Nonce     string        `json:"nonce"`
	SessionID string        `json:"session_id"`
	ClassID   string        `json:"class_id"`
	IssuedAt  time.Time     `json:"issued_at"`
	TTL       time.Duration `json:"ttl"`

	consumed bool
}

// NewToken issues a token for the session. A non-positive ttl takes
// DefaultTTL.
func NewToken(sessionID, classID string, ttl time.Duration, now time.Time) *Token {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Token{
		Nonce:     uuid.NewString(),
		SessionID: sessionID,
		ClassID:   classID,
		IssuedAt:  now,
		TTL:       ttl,
	}
}

// State reports the token's lifecycle state at the given instant.
func (t *Token) State(now time.Time) State {
	if t.consumed {
		return StateConsumed
	}
	if now.Sub(t.IssuedAt) > t.TTL {
		return StateExpired
	}
	return StateIssued
}

// ExpiresAt is the instant the token stops validating.
func (t *Token) ExpiresAt() time.Time {
	return t.IssuedAt.Add(t.TTL)
}

// payload is the wire shape embedded in the QR image.
type payload struct {
	Nonce     string `json:"nonce"`
	SessionID string `json:"session_id"`
	ClassID   string `json:"class_id"`
	IssuedAt  int64  `json:"issued_at"`
}

// Payload serializes the token for QR encoding.
func (t *Token) Payload() string {
	b, _ := json.Marshal(payload{
		Nonce:     t.Nonce,
		SessionID: t.SessionID,
		ClassID:   t.ClassID,
		IssuedAt:  t.IssuedAt.UnixMilli(),
	})
	return string(b)
}

func decodePayload(raw string) (payload, error) {
	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return payload{}, fmt.Errorf("malformed qr payload: %w", err)
	}
	return p, nil
}
