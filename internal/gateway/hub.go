package gateway

import (
	"log/slog"
	"sync"
	"time"

	"github.com/igorvboas/medcall-ai-sub003/internal/utterance"
)

const seenRingSize = 256

// seenRing remembers the last broadcast utterance ids for one session so a
// re-requested flush can never reach listeners twice.
type seenRing struct {
	ids   []string
	index map[string]struct{}
	next  int
}

func newSeenRing() *seenRing {
	return &seenRing{
		ids:   make([]string, seenRingSize),
		index: make(map[string]struct{}, seenRingSize),
	}
}

// remember returns false when the id was already seen.
func (r *seenRing) remember(id string) bool {
	if _, ok := r.index[id]; ok {
		return false
	}
	if old := r.ids[r.next]; old != "" {
		delete(r.index, old)
	}
	r.ids[r.next] = id
	r.index[id] = struct{}{}
	r.next = (r.next + 1) % seenRingSize
	return true
}

// Hub tracks which listeners belong to which session and fans transcript
// updates out to them.
type Hub struct {
	logger *slog.Logger

	mu        sync.Mutex
	listeners map[string]map[string]*wsListener
	seen      map[string]*seenRing

	// onEmpty fires after the last participant of a session leaves.
	onEmpty func(sessionID string)
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:    logger.With("component", "gateway-hub"),
		listeners: make(map[string]map[string]*wsListener),
		seen:      make(map[string]*seenRing),
	}
}

func (h *Hub) SetOnEmpty(fn func(sessionID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onEmpty = fn
}

// Register adds a listener for (sessionID, participantID). Joining again
// replaces the previous registration: the stale connection is closed, not
// kept around to receive duplicates.
func (h *Hub) Register(sessionID, participantID string, l *wsListener) {
	h.mu.Lock()
	byParticipant, ok := h.listeners[sessionID]
	if !ok {
		byParticipant = make(map[string]*wsListener)
		h.listeners[sessionID] = byParticipant
		h.seen[sessionID] = newSeenRing()
	}
	stale := byParticipant[participantID]
	byParticipant[participantID] = l
	h.mu.Unlock()

	if stale != nil {
		h.logger.Info("replacing stale listener",
			"session_id", sessionID, "participant_id", participantID)
		stale.Close()
	}
}

// Unregister drops the listener, returning false for a connection that
// was already replaced by a rejoin.
func (h *Hub) Unregister(sessionID, participantID string, l *wsListener) bool {
	h.mu.Lock()
	byParticipant, ok := h.listeners[sessionID]
	if !ok || byParticipant[participantID] != l {
		h.mu.Unlock()
		return false
	}
	delete(byParticipant, participantID)
	empty := len(byParticipant) == 0
	if empty {
		delete(h.listeners, sessionID)
		delete(h.seen, sessionID)
	}
	onEmpty := h.onEmpty
	h.mu.Unlock()

	if empty {
		h.logger.Info("last participant left", "session_id", sessionID)
		if onEmpty != nil {
			onEmpty(sessionID)
		}
	}
	return true
}

// ParticipantCount reports the registered listeners of a session.
func (h *Hub) ParticipantCount(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners[sessionID])
}

// BroadcastTranscript delivers one utterance to every listener of the
// session, at most once per utterance id.
func (h *Hub) BroadcastTranscript(sessionID string, u *utterance.Utterance) {
	ev := &Event{
		Type:      EventTranscript,
		SessionID: sessionID,
		Channel:   u.Channel,
		Transcript: &TranscriptPayload{
			UtteranceID: u.ID,
			Channel:     u.Channel,
			Text:        u.Text,
			Confidence:  u.Confidence,
			StartedAt:   u.StartedAt,
			EndedAt:     u.EndedAt,
			IsFinal:     u.IsFinal,
			Source:      u.Source,
		},
		Timestamp: time.Now(),
	}

	h.mu.Lock()
	ring, ok := h.seen[sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if !ring.remember(u.ID) {
		h.mu.Unlock()
		h.logger.Debug("duplicate utterance suppressed",
			"session_id", sessionID, "utterance_id", u.ID)
		return
	}
	targets := make([]*wsListener, 0, len(h.listeners[sessionID]))
	for _, l := range h.listeners[sessionID] {
		targets = append(targets, l)
	}
	h.mu.Unlock()

	for _, l := range targets {
		l.Send(ev)
	}
}

// BroadcastEvent sends a non-transcript event to every listener of the
// session, optionally skipping the originator.
func (h *Hub) BroadcastEvent(sessionID string, ev *Event, except *wsListener) {
	h.mu.Lock()
	targets := make([]*wsListener, 0, len(h.listeners[sessionID]))
	for _, l := range h.listeners[sessionID] {
		if l != except {
			targets = append(targets, l)
		}
	}
	h.mu.Unlock()

	for _, l := range targets {
		l.Send(ev)
	}
}
