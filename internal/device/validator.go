package device

import (
	"context"
	"fmt"
)

// Result is the outcome of a device check. An unrecognized device is a normal
// negative result: the user must register it explicitly before it can pass.
type Result struct {
	Valid     bool   `json:"valid"`
	VisitorID string `json:"visitor_id"`
	Message   string `json:"message"`
}

// Validator checks fingerprints against a user's registered allowlist.
type Validator struct {
	allowlist Allowlist
}

// NewValidator creates a validator backed by the given allowlist.
func NewValidator(allowlist Allowlist) *Validator {
	return &Validator{allowlist: allowlist}
}

// Validate reports whether the visitor id is registered for the user.
func (v *Validator) Validate(ctx context.Context, userID, visitorID string) (Result, error) {
	found, err := v.allowlist.Contains(ctx, userID, visitorID)
	if err != nil {
		return Result{}, fmt.Errorf("device allowlist lookup: %w", err)
	}
	msg := "Device recognized"
	if !found {
		msg = "New device detected. Please register this device first."
	}
	return Result{Valid: found, VisitorID: visitorID, Message: msg}, nil
}

// Register adds the visitor id to the user's allowlist. Idempotent.
func (v *Validator) Register(ctx context.Context, userID, visitorID string) error {
	if visitorID == "" {
		return fmt.Errorf("visitor id required")
	}
	return v.allowlist.Add(ctx, userID, visitorID)
}

// Unregister removes the visitor id from the user's allowlist. Idempotent.
func (v *Validator) Unregister(ctx context.Context, userID, visitorID string) error {
	return v.allowlist.Remove(ctx, userID, visitorID)
}
