package location

import (
	"context"
	"errors"
	"time"

	"attendify/internal/geo"
)

// Fix is a single position reading from a device location provider.
type Fix struct {
	Coordinate     geo.Coordinate
	AccuracyMeters float64
	Timestamp      time.Time
}

// Provider acquires the device's current position. Implementations may block
// for several seconds waiting for a fix and must honor ctx cancellation.
type Provider interface {
	Current(ctx context.Context) (Fix, error)
}

// Errors a provider can surface. Callers distinguish these from a geofence
// miss, which is a normal negative result.
var (
	ErrPermissionDenied = errors.New("location permission denied")
	ErrUnavailable      = errors.New("location information unavailable")
	ErrTimeout          = errors.New("location request timed out")
)

// Acquire wraps provider.Current with an explicit timeout. A deadline hit is
// reported as ErrTimeout.
func Acquire(ctx context.Context, provider Provider, timeout time.Duration) (Fix, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fix, err := provider.Current(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Fix{}, ErrTimeout
		}
		return Fix{}, err
	}
	return fix, nil
}

// FixedProvider returns a constant fix. Useful for tests and for callers that
// already acquired a position out of band.
type FixedProvider struct {
	Fix Fix
	Err error
}

// Current implements Provider.
func (p FixedProvider) Current(ctx context.Context) (Fix, error) {
	if p.Err != nil {
		return Fix{}, p.Err
	}
	select {
	case <-ctx.Done():
		return Fix{}, ctx.Err()
	default:
	}
	return p.Fix, nil
}
