package face

import (
	"context"
	"fmt"
	"time"
)

// Verifier samples the detector over a bounded window and applies the
// confidence and liveness gates.
type Verifier struct {
	detector Detector
	opts     LivenessOptions
}

// NewVerifier builds a verifier. Zero-valued options take defaults.
func NewVerifier(detector Detector, opts LivenessOptions) *Verifier {
	return &Verifier{detector: detector, opts: opts.withDefaults()}
}

// Run pulls frames from the source and invokes the detector every sampling
// interval until the window closes or the gates are satisfied. Cancelling ctx
// stops sampling immediately. Detector or frame-source failures are systemic
// errors; exhausting the window without passing is a negative Result.
func (v *Verifier) Run(ctx context.Context, frames FrameSource) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, v.opts.Window)
	defer cancel()

	ticker := time.NewTicker(v.opts.Interval)
	defer ticker.Stop()

	var samples []DetectionResult
	for {
		frame, err := frames.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return Result{}, fmt.Errorf("frame capture: %w", err)
		}

		detection, err := v.detector.Detect(ctx, frame)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return Result{}, fmt.Errorf("face detection: %w", err)
		}
		samples = append(samples, detection)

		if res := EvaluateLiveness(samples, v.opts); res.Valid {
			return res, nil
		}

		select {
		case <-ctx.Done():
		case <-ticker.C:
			continue
		}
		break
	}

	if err := context.Cause(ctx); err == context.Canceled {
		return Result{}, err
	}

	return EvaluateLiveness(samples, v.opts), nil
}
