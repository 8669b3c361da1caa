package face

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// Client calls the external face-detection microservice. With Skip set it
// returns canned results so the pipeline can run without the model.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool

	skipCalls atomic.Int64
}

// NewClient creates a detector client.
func NewClient(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // model inference can take time
		},
	}
}

// Detect sends one frame to the service and returns presence and confidence.
func (c *Client) Detect(ctx context.Context, frame Frame) (DetectionResult, error) {
	if c.Skip {
		// the canned center wobbles between calls so the liveness movement
		// gate sees a live face rather than a static image
		n := c.skipCalls.Add(1)
		return DetectionResult{
			Detected:   true,
			Confidence: 0.92,
			Center:     &Point{X: 320 + 4*float64(n%2), Y: 240},
		}, nil
	}
	if frame.ImageURL == "" && len(frame.Data) == 0 {
		return DetectionResult{}, fmt.Errorf("frame required")
	}

	payload := map[string]any{}
	if frame.ImageURL != "" {
		payload["image_url"] = frame.ImageURL
	} else {
		payload["image_data"] = frame.Data
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/detect", bytes.NewReader(body))
	if err != nil {
		return DetectionResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return DetectionResult{}, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return DetectionResult{}, fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out DetectionResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return DetectionResult{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return out, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}
