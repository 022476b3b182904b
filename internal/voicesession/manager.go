package voicesession

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/igorvboas/medcall-ai-sub003/internal/room"
	"github.com/igorvboas/medcall-ai-sub003/internal/shared"
	"github.com/igorvboas/medcall-ai-sub003/internal/transcription"
	"github.com/igorvboas/medcall-ai-sub003/internal/utterance"
	"github.com/igorvboas/medcall-ai-sub003/internal/vad"
)

// Manager owns the sessionId → Session map. All lookups and mutations go
// through it; nothing else touches the map.
type Manager struct {
	cfg         Config
	defaults    Config
	det         *vad.Detector
	transcriber transcription.Transcriber
	fallback    transcription.Transcriber
	utterances  *utterance.Store
	rooms       *room.Store
	broadcaster Broadcaster
	log         *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	stopReaper chan struct{}
	reaperOnce sync.Once
}

func NewManager(cfg Config, det *vad.Detector,
	transcriber transcription.Transcriber, fallback transcription.Transcriber,
	utterances *utterance.Store, rooms *room.Store, log *slog.Logger) *Manager {

	cfg = cfg.withDefaults()
	return &Manager{
		cfg:         cfg,
		defaults:    cfg,
		det:         det,
		transcriber: transcriber,
		fallback:    fallback,
		utterances:  utterances,
		rooms:       rooms,
		log:         log.With("component", "session-manager"),
		sessions:    make(map[string]*Session),
		stopReaper:  make(chan struct{}),
	}
}

// SetBroadcaster wires the gateway hub in after construction; the hub and
// manager reference each other.
func (m *Manager) SetBroadcaster(b Broadcaster) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcaster = b
}

// Create registers the pipeline for a session. Creating an id twice is a
// conflict, not a silent replace.
func (m *Manager) Create(sessionID, consultationID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[sessionID]; ok && !existing.Ended() {
		return nil, shared.ErrConflict
	}

	fallback := m.fallback
	if !m.cfg.FallbackSimulation {
		fallback = nil
	}
	sess := newSession(sessionID, consultationID, m.cfg, m.det,
		m.transcriber, fallback, m.utterances, m.rooms, m.broadcaster, m.log)
	m.sessions[sessionID] = sess
	m.log.Info("session registered", "session_id", sessionID)
	return sess, nil
}

// Get looks a session up. Unknown ids stay unknown: the transport reports
// them instead of conjuring a pipeline for a session nobody created.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	if sess.Ended() {
		return nil, shared.ErrSessionEnded
	}
	return sess, nil
}

// EndSession force-flushes every non-empty buffer, waits out in-flight
// transcriptions and removes the session from the registry.
func (m *Manager) EndSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return shared.ErrNotFound
	}
	sess.End()
	return nil
}

// ActiveCount reports registered, not-ended sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, sess := range m.sessions {
		if !sess.Ended() {
			n++
		}
	}
	return n
}

// PipelineConfig returns the tuning applied to new sessions.
func (m *Manager) PipelineConfig() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// UpdatePipelineConfig changes the tuning for sessions created from now
// on. The VAD threshold lives on the shared detector and applies live.
func (m *Manager) UpdatePipelineConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg.withDefaults()
}

// Reset restores the default tuning and tears down every session, forced
// flushes included, so no buffer survives the reset.
func (m *Manager) Reset(ctx context.Context) {
	m.mu.Lock()
	m.cfg = m.defaults
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	m.det.SetThreshold(vad.DefaultThreshold)
	for _, id := range ids {
		if err := m.EndSession(ctx, id); err != nil {
			m.log.Warn("reset: failed to end session", "session_id", id, "error", err)
		}
	}
	m.log.Info("pipeline reset", "sessions_ended", len(ids))
}

// Detector exposes the shared VAD for the debug surface.
func (m *Manager) Detector() *vad.Detector {
	return m.det
}

// StartReaper ends sessions that stopped receiving frames. No-op when the
// idle timeout is zero.
func (m *Manager) StartReaper() {
	if m.cfg.IdleTimeout <= 0 {
		return
	}
	go m.reapLoop()
}

func (m *Manager) StopReaper() {
	m.reaperOnce.Do(func() { close(m.stopReaper) })
}

func (m *Manager) reapLoop() {
	interval := m.cfg.IdleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.reapIdle()
		case <-m.stopReaper:
			return
		}
	}
}

func (m *Manager) reapIdle() {
	cutoff := time.Now().Add(-m.cfg.IdleTimeout)

	m.mu.Lock()
	var idle []string
	for id, sess := range m.sessions {
		if sess.LastActive().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	m.mu.Unlock()

	for _, id := range idle {
		m.log.Info("reaping idle session", "session_id", id)
		if err := m.EndSession(context.Background(), id); err != nil {
			m.log.Warn("failed to reap session", "session_id", id, "error", err)
		}
	}
}
