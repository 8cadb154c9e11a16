package session

import (
	"log"
	"sync"
	"time"

	"vigil/internal/buffer"
)

// RegistryConfig holds the knobs for session creation and reaping.
type RegistryConfig struct {
	Window        time.Duration // trailing footage window per source
	FPS           int           // expected frame rate, sizes the ring
	Cooldown      time.Duration // minimum spacing between alerts per source
	ReapInterval  time.Duration // how often the idle sweep runs
	IdleRetention time.Duration // disconnected sessions older than this are removed
}

// Registry owns the process-wide map of source sessions. All lookups,
// connects and the reaping sweep go through it; sessions themselves are
// independent and never lock across sources.
type Registry struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	cfg      RegistryConfig
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRegistry creates a registry. Call StartReaper to begin the idle sweep.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = 5 * time.Minute
	}
	if cfg.IdleRetention <= 0 {
		cfg.IdleRetention = 5 * time.Minute
	}
	return &Registry{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		stopCh:   make(chan struct{}),
	}
}

// Connect returns the session for sourceID, creating it on first
// connect. Reconnects reattach to the existing session, preserving its
// buffer and cooldown state.
func (r *Registry) Connect(sourceID, label string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sourceID]
	if !ok {
		ring := buffer.NewRing(buffer.CapacityFor(r.cfg.Window, r.cfg.FPS))
		s = newSession(sourceID, label, ring, r.cfg.Cooldown)
		r.sessions[sourceID] = s
		log.Printf("[Session] Created session for source %s (buffer capacity %d)", sourceID, ring.Capacity())
	} else {
		s.SetLabel(label)
		log.Printf("[Session] Source %s reconnected, buffer retained (%d frames)", sourceID, s.Buffer().Len())
	}
	s.setConnected(true)
	return s
}

// Disconnect marks the session disconnected. Buffer and cooldown state
// are intentionally kept so brief reconnects lose nothing.
func (r *Registry) Disconnect(sourceID string) {
	r.mu.RLock()
	s, ok := r.sessions[sourceID]
	r.mu.RUnlock()

	if ok {
		s.setConnected(false)
		log.Printf("[Session] Source %s disconnected, buffer retained", sourceID)
	}
}

// Get looks up a session without creating one.
func (r *Registry) Get(sourceID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sourceID]
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// AllStats snapshots every session for the status surface.
func (r *Registry) AllStats() []Stats {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	stats := make([]Stats, 0, len(sessions))
	for _, s := range sessions {
		stats = append(stats, s.Stats())
	}
	return stats
}

// StartReaper launches the periodic idle sweep.
func (r *Registry) StartReaper() {
	go func() {
		ticker := time.NewTicker(r.cfg.ReapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.ReapIdle(time.Now())
			}
		}
	}()
}

// Stop halts the reaper.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// ReapIdle removes sessions that are disconnected and whose newest frame
// is older than the retention threshold. A session that never received a
// frame is judged stale immediately once disconnected.
func (r *Registry) ReapIdle(now time.Time) int {
	cutoff := now.Add(-r.cfg.IdleRetention)

	r.mu.Lock()
	defer r.mu.Unlock()

	reaped := 0
	for id, s := range r.sessions {
		if s.Connected() {
			continue
		}
		if newest := s.Buffer().NewestAt(); newest.After(cutoff) {
			continue
		}
		delete(r.sessions, id)
		reaped++
		log.Printf("[Session] Reaped idle session for source %s", id)
	}
	return reaped
}
