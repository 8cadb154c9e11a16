package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"
)

// PlateMatch is a license-plate hit reported by the detection service.
type PlateMatch struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// SuspiciousActivity is one flagged behavior reported by the detection service.
type SuspiciousActivity struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence,omitempty"`
}

// BoundingBox is a detection box in pixel coordinates [x1, y1, x2, y2].
type BoundingBox struct {
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Box        []float64 `json:"box"`
}

// Verdict is the classification result for a single frame.
type Verdict struct {
	WeaponDetected bool                 `json:"detected"`
	Confidence     float64              `json:"confidence"`
	WeaponType     string               `json:"weaponType"`
	BoundingBoxes  []BoundingBox        `json:"boundingBoxes,omitempty"`
	Plate          *PlateMatch          `json:"plate,omitempty"`
	Suspicious     []SuspiciousActivity `json:"suspicious,omitempty"`
}

// Qualifies reports whether this verdict should trigger an alert.
func (v *Verdict) Qualifies() bool {
	return (v.WeaponDetected && v.Confidence > 0.5) || v.Plate != nil || len(v.Suspicious) > 0
}

// Category maps a verdict onto the alert category stored in detection records.
func (v *Verdict) Category() string {
	switch {
	case v.WeaponDetected && v.WeaponType != "":
		return v.WeaponType
	case v.WeaponDetected:
		return "weapon"
	case v.Plate != nil:
		return "plate"
	case len(v.Suspicious) > 0:
		return "suspicious"
	default:
		return "unknown"
	}
}

type healthResponse struct {
	Status string `json:"status"`
	Model  string `json:"model"`
	Device string `json:"device"`
}

// Config holds classifier client configuration.
type Config struct {
	Endpoint string        // full detection URL, e.g. http://localhost:3005/detect
	Timeout  time.Duration // per-call deadline
}

// Client submits frames to the external classification service.
// The service is treated as best-effort: any transport failure, timeout
// or malformed response degrades to a neutral verdict so the ingestion
// path never sees an error from classification.
type Client struct {
	endpoint    string
	client      *http.Client
	mu          sync.RWMutex
	lastHealthy time.Time
	available   bool
}

// NewClient creates a classifier client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Submit sends one frame for classification. It always returns a usable
// verdict: if the service is unreachable, times out, or responds with
// garbage, the verdict is neutral (nothing detected).
func (c *Client) Submit(ctx context.Context, sourceID string, frame []byte) *Verdict {
	neutral := &Verdict{}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(frame))
	if err != nil {
		return neutral
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Source-Id", sourceID)

	resp, err := c.client.Do(req)
	if err != nil {
		c.setAvailable(false)
		return neutral
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return neutral
	}

	var verdict Verdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return neutral
	}

	c.setAvailable(true)
	return &verdict
}

// HealthCheck probes the service's health endpoint, derived by stripping
// the detection suffix from the configured endpoint. The result is cached
// for 30 seconds. Used only for status reporting, never to gate ingestion.
func (c *Client) HealthCheck(ctx context.Context) bool {
	c.mu.RLock()
	if time.Since(c.lastHealthy) < 30*time.Second && c.available {
		c.mu.RUnlock()
		return true
	}
	c.mu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthURL(), nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.setAvailable(false)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.setAvailable(false)
		return false
	}

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		c.setAvailable(false)
		return false
	}

	ok := health.Status == "ok"
	c.setAvailable(ok)
	return ok
}

// Available returns the last observed service availability.
func (c *Client) Available() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available
}

func (c *Client) healthURL() string {
	base := strings.TrimSuffix(c.endpoint, "/detect")
	return strings.TrimSuffix(base, "/") + "/health"
}

func (c *Client) setAvailable(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.available = ok
	if ok {
		c.lastHealthy = time.Now()
	}
}

// Endpoint returns the configured detection URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}
