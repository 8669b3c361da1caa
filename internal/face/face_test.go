package face

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyThreshold(t *testing.T) {
	cases := []struct {
		name   string
		result DetectionResult
		valid  bool
	}{
		{"above threshold", DetectionResult{Detected: true, Confidence: 0.92}, true},
		{"at threshold", DetectionResult{Detected: true, Confidence: 0.8}, true},
		{"below threshold", DetectionResult{Detected: true, Confidence: 0.79}, false},
		{"not detected", DetectionResult{Detected: false, Confidence: 0.95}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Verify(tc.result, 0.8)
			assert.Equal(t, tc.valid, res.Valid)
			assert.Equal(t, tc.result.Confidence, res.Confidence)
		})
	}
}

func TestVerifyMessageIncludesConfidence(t *testing.T) {
	res := Verify(DetectionResult{Detected: true, Confidence: 0.75}, 0.8)
	assert.Equal(t, "Face confidence 75% below required 80%", res.Message)
}

func detections(n int, confidence float64, centers []Point) []DetectionResult {
	out := make([]DetectionResult, 0, n)
	for i := 0; i < n; i++ {
		d := DetectionResult{Detected: true, Confidence: confidence}
		if centers != nil {
			c := centers[i%len(centers)]
			d.Center = &c
		}
		out = append(out, d)
	}
	return out
}

func TestEvaluateLiveness(t *testing.T) {
	opts := LivenessOptions{Threshold: 0.8, MinDetections: 5, MinMovement: 3}
	moving := []Point{{X: 100, Y: 100}, {X: 106, Y: 103}}
	still := []Point{{X: 100, Y: 100}}

	cases := []struct {
		name    string
		samples []DetectionResult
		valid   bool
	}{
		{"passes with movement", detections(6, 0.9, moving), true},
		{"too few detections", detections(3, 0.9, moving), false},
		{"confidence too low", detections(6, 0.6, moving), false},
		{"static face fails", detections(6, 0.9, still), false},
		{"no positions reported still passes", detections(6, 0.9, nil), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := EvaluateLiveness(tc.samples, opts)
			assert.Equal(t, tc.valid, res.Valid)
			assert.Equal(t, tc.valid, res.LivenessPassed)
		})
	}
}

type scriptedDetector struct {
	results []DetectionResult
	calls   int
}

func (d *scriptedDetector) Detect(_ context.Context, _ Frame) (DetectionResult, error) {
	r := d.results[d.calls%len(d.results)]
	d.calls++
	return r, nil
}

type staticFrames struct{}

func (staticFrames) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	return Frame{ImageURL: "frame://current"}, nil
}

func fastOpts() LivenessOptions {
	return LivenessOptions{
		Threshold:     0.8,
		Window:        300 * time.Millisecond,
		Interval:      10 * time.Millisecond,
		MinDetections: 3,
		MinMovement:   3,
	}
}

func TestVerifierRunPasses(t *testing.T) {
	det := &scriptedDetector{results: []DetectionResult{
		{Detected: true, Confidence: 0.9, Center: &Point{X: 100, Y: 100}},
		{Detected: true, Confidence: 0.92, Center: &Point{X: 108, Y: 104}},
	}}
	v := NewVerifier(det, fastOpts())

	res, err := v.Run(context.Background(), staticFrames{})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.GreaterOrEqual(t, res.Confidence, 0.9)
}

func TestVerifierRunWindowExhausted(t *testing.T) {
	det := &scriptedDetector{results: []DetectionResult{{Detected: false}}}
	v := NewVerifier(det, fastOpts())

	res, err := v.Run(context.Background(), staticFrames{})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.NotEmpty(t, res.Message)
}

func TestVerifierRunCancelled(t *testing.T) {
	det := &scriptedDetector{results: []DetectionResult{{Detected: false}}}
	opts := fastOpts()
	opts.Window = 5 * time.Second
	v := NewVerifier(det, opts)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := v.Run(ctx, staticFrames{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClientSkipReturnsCannedDetection(t *testing.T) {
	c := NewClient("http://localhost:8000", true)
	res, err := c.Detect(context.Background(), Frame{ImageURL: "frame://x"})
	require.NoError(t, err)
	assert.True(t, res.Detected)
	assert.GreaterOrEqual(t, res.Confidence, 0.8)
}

func TestClientSkipPassesLiveness(t *testing.T) {
	c := NewClient("http://localhost:8000", true)
	v := NewVerifier(c, fastOpts())

	res, err := v.Run(context.Background(), staticFrames{})
	require.NoError(t, err)
	assert.True(t, res.Valid, res.Message)
}
