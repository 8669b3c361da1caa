package qr

import (
	"context"
	"sync"
	"time"
)

// Reason explains a rejected scan.
type Reason string

const (
	ReasonExpired  Reason = "token_expired"
	ReasonMismatch Reason = "token_mismatch"
	ReasonConsumed Reason = "token_already_consumed"
)

// Result is the outcome of validating a scanned payload.
type Result struct {
	Valid  bool   `json:"valid"`
	Reason Reason `json:"reason,omitempty"`
}

// Challenge carries the rotating token for one attendance session. Generating
// a new token supersedes the prior one immediately, even if it has not yet
// time-expired.
type Challenge struct {
	sessionID string
	classID   string
	ttl       time.Duration

	mu      sync.Mutex
	current *Token

	now func() time.Time
}

// NewChallenge creates a challenge and issues its first token.
func NewChallenge(sessionID, classID string, ttl time.Duration) *Challenge {
	c := &Challenge{
		sessionID: sessionID,
		classID:   classID,
		ttl:       ttl,
		now:       time.Now,
	}
	c.Generate()
	return c
}

// Generate issues a fresh token, superseding any prior one.
func (c *Challenge) Generate() *Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = NewToken(c.sessionID, c.classID, c.ttl, c.now())
	return c.current
}

// Current returns the latest token.
func (c *Challenge) Current() *Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Validate checks a scanned payload against the current token and consumes it
// on success. A superseded token is rejected as a mismatch regardless of its
// own age.
func (c *Challenge) Validate(scanned string) Result {
	p, err := decodePayload(scanned)
	if err != nil {
		return Result{Reason: ReasonMismatch}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tok := c.current
	if p.SessionID != tok.SessionID || p.ClassID != tok.ClassID || p.Nonce != tok.Nonce {
		return Result{Reason: ReasonMismatch}
	}
	switch tok.State(c.now()) {
	case StateConsumed:
		return Result{Reason: ReasonConsumed}
	case StateExpired:
		return Result{Reason: ReasonExpired}
	}
	tok.consumed = true
	return Result{Valid: true}
}

// Rotator re-issues a challenge's token on every TTL tick and pushes each new
// token to the optional onRotate callback (display refresh, countdown reset).
type Rotator struct {
	challenge *Challenge
	onRotate  func(*Token)

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRotator starts rotation for the challenge. Stop must be called when the
// session ends so the ticker is released.
func NewRotator(challenge *Challenge, onRotate func(*Token)) *Rotator {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Rotator{
		challenge: challenge,
		onRotate:  onRotate,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go r.run(ctx)
	return r
}

func (r *Rotator) run(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.challenge.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tok := r.challenge.Generate()
			if r.onRotate != nil {
				r.onRotate(tok)
			}
		}
	}
}

// Stop halts rotation and waits for the loop to exit.
func (r *Rotator) Stop() {
	r.cancel()
	<-r.done
}
