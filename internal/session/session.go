package session

import (
	"sync"
	"time"

	"vigil/internal/buffer"
)

// Session holds per-source state: the rolling frame buffer, the viewer
// label, connection status and the alert cooldown. Sessions survive
// disconnects so a brief reconnect keeps its footage; the registry's
// reaper removes them once idle for long enough.
type Session struct {
	SourceID string

	mu              sync.Mutex
	label           string
	buffer          *buffer.Ring
	connected       bool
	lastDetectionAt time.Time
	cooldown        time.Duration
}

func newSession(sourceID, label string, ring *buffer.Ring, cooldown time.Duration) *Session {
	if label == "" {
		label = sourceID
	}
	return &Session{
		SourceID: sourceID,
		label:    label,
		buffer:   ring,
		cooldown: cooldown,
	}
}

// Buffer returns the session's rolling buffer.
func (s *Session) Buffer() *buffer.Ring {
	return s.buffer
}

// Label returns the human-facing source label.
func (s *Session) Label() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.label
}

// SetLabel updates the label; empty labels are ignored so a reconnect
// without one keeps the previous value.
func (s *Session) SetLabel(label string) {
	if label == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.label = label
}

// Connected reports whether the source is currently streaming.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Session) setConnected(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = v
}

// TryAcquireCooldown atomically checks the per-source cooldown and, if
// clear, stamps lastDetectionAt to now. The stamp happens before any
// detection work so a concurrent late verdict cannot pass the gate too.
func (s *Session) TryAcquireCooldown(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lastDetectionAt.IsZero() && now.Sub(s.lastDetectionAt) <= s.cooldown {
		return false
	}
	s.lastDetectionAt = now
	return true
}

// LastDetectionAt returns the time of the last cooldown acquisition, or
// the zero time if none happened yet.
func (s *Session) LastDetectionAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDetectionAt
}

// Stats is a read-only view of one session for the status surface.
type Stats struct {
	SourceID         string    `json:"source_id"`
	Label            string    `json:"label"`
	Connected        bool      `json:"connected"`
	FrameCount       int       `json:"frame_count"`
	OldestFrameAgeMs int64     `json:"oldest_frame_age_ms"`
	LastDetectionAt  time.Time `json:"last_detection_at,omitzero"`
}

// Stats snapshots the session for status reporting.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	label := s.label
	connected := s.connected
	lastDetection := s.lastDetectionAt
	s.mu.Unlock()

	st := Stats{
		SourceID:        s.SourceID,
		Label:           label,
		Connected:       connected,
		FrameCount:      s.buffer.Len(),
		LastDetectionAt: lastDetection,
	}
	if oldest := s.buffer.OldestAt(); !oldest.IsZero() {
		st.OldestFrameAgeMs = time.Since(oldest).Milliseconds()
	}
	return st
}
