package face

import (
	"context"
	"fmt"
	"math"
	"time"
)

// DefaultThreshold is the minimum detection confidence accepted for a
// check-in.
const DefaultThreshold = 0.8

// Point is a pixel position inside a frame.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DetectionResult is the output of a single detector invocation on one frame.
// Ephemeral, never persisted.
type DetectionResult struct {
	Detected   bool    `json:"detected"`
	Confidence float64 `json:"confidence"`
	Landmarks  []Point `json:"landmarks,omitempty"`
	Center     *Point  `json:"center,omitempty"`
}

// Frame references a single captured camera frame.
type Frame struct {
	ImageURL string
	Data     []byte
}

// FrameSource provides successive frames on demand.
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
}

// Detector is the face-presence black box. It does not decide anything; the
// policy around its output lives here.
type Detector interface {
	Detect(ctx context.Context, frame Frame) (DetectionResult, error)
}

// Result is the outcome of the face verification step.
type Result struct {
	Valid          bool    `json:"valid"`
	Confidence     float64 `json:"confidence"`
	LivenessPassed bool    `json:"liveness_passed"`
	Message        string  `json:"message"`
}

// Verify applies the confidence threshold to a single detection result.
func Verify(result DetectionResult, threshold float64) Result {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	valid := result.Detected && result.Confidence >= threshold
	msg := fmt.Sprintf("Face verified (%.0f%% confidence)", result.Confidence*100)
	if !valid {
		if !result.Detected {
			msg = "No face detected"
		} else {
			msg = fmt.Sprintf("Face confidence %.0f%% below required %.0f%%",
				result.Confidence*100, threshold*100)
		}
	}
	return Result{Valid: valid, Confidence: result.Confidence, Message: msg}
}

// LivenessOptions bounds the sampling window for liveness evidence.
type LivenessOptions struct {
	Threshold     float64
	Window        time.Duration
	Interval      time.Duration
	MinDetections int
	// MinMovement is the minimum face-center displacement in pixels across
	// the window. Only enforced when the detector reports positions.
	MinMovement float64
}

// DefaultLivenessOptions matches the production sampling cadence.
func DefaultLivenessOptions() LivenessOptions {
	return LivenessOptions{
		Threshold:     DefaultThreshold,
		Window:        5 * time.Second,
		Interval:      250 * time.Millisecond,
		MinDetections: 5,
		MinMovement:   3,
	}
}

func (o LivenessOptions) withDefaults() LivenessOptions {
	d := DefaultLivenessOptions()
	if o.Threshold <= 0 {
		o.Threshold = d.Threshold
	}
	if o.Window <= 0 {
		o.Window = d.Window
	}
	if o.Interval <= 0 {
		o.Interval = d.Interval
	}
	if o.MinDetections <= 0 {
		o.MinDetections = d.MinDetections
	}
	return o
}

// EvaluateLiveness decides the liveness gate from the detections gathered
// over a sampling window: enough qualifying detections, peak confidence over
// the threshold, and face movement between frames when positions are known.
// A static photo held to the camera produces identical centers and fails.
func EvaluateLiveness(samples []DetectionResult, opts LivenessOptions) Result {
	opts = opts.withDefaults()

	var (
		count         int
		maxConfidence float64
		centers       []Point
	)
	for _, s := range samples {
		if !s.Detected {
			continue
		}
		count++
		maxConfidence = math.Max(maxConfidence, s.Confidence)
		if s.Center != nil {
			centers = append(centers, *s.Center)
		}
	}

	moved := true
	if len(centers) >= 2 && opts.MinMovement > 0 {
		moved = maxDisplacement(centers) >= opts.MinMovement
	}

	passed := count >= opts.MinDetections && maxConfidence >= opts.Threshold && moved
	msg := "Liveness check passed"
	switch {
	case count < opts.MinDetections:
		msg = fmt.Sprintf("Face not held steadily in view (%d of %d detections)", count, opts.MinDetections)
	case maxConfidence < opts.Threshold:
		msg = fmt.Sprintf("Face confidence %.0f%% below required %.0f%%",
			maxConfidence*100, opts.Threshold*100)
	case !moved:
		msg = "No movement detected, hold the device and look at the camera"
	}

	return Result{
		Valid:          passed,
		Confidence:     maxConfidence,
		LivenessPassed: passed,
		Message:        msg,
	}
}

func maxDisplacement(centers []Point) float64 {
	var max float64
	first := centers[0]
	for _, c := range centers[1:] {
		d := math.Hypot(c.X-first.X, c.Y-first.Y)
		max = math.Max(max, d)
	}
	return max
}
