package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/igorvboas/medcall-ai-sub003/internal/audio"
	"github.com/igorvboas/medcall-ai-sub003/internal/room"
	"github.com/igorvboas/medcall-ai-sub003/internal/shared"
	"github.com/igorvboas/medcall-ai-sub003/internal/voicesession"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler terminates the transcription WebSocket and routes events between
// the connection, the hub and the session pipeline.
type Handler struct {
	hub     *Hub
	manager *voicesession.Manager
	rooms   *room.Store
	logger  *slog.Logger
}

func NewHandler(hub *Hub, manager *voicesession.Manager, rooms *room.Store, logger *slog.Logger) *Handler {
	return &Handler{
		hub:     hub,
		manager: manager,
		rooms:   rooms,
		logger:  logger.With("component", "ws-gateway"),
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/transcription", h.HandleConnection)
}

func (h *Handler) HandleConnection(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return err
	}

	l := newWSListener(ws, h.logger)
	go l.writePump()
	l.readPump(func(ev *Event) { h.handleEvent(l, ev) })

	// A connection replaced by a rejoin must not tear the fresh
	// registration's state down behind it.
	if l.sessionID != "" && h.hub.Unregister(l.sessionID, l.participantID, l) {
		h.hub.BroadcastEvent(l.sessionID, &Event{
			Type:          EventParticipantOut,
			SessionID:     l.sessionID,
			ParticipantID: l.participantID,
			Timestamp:     time.Now(),
		}, l)
		h.removeParticipantRecord(l.sessionID, l.participantID)
	}
	return nil
}

func (h *Handler) handleEvent(l *wsListener, ev *Event) {
	switch ev.Type {
	case EventSessionJoin:
		h.handleJoin(l, ev)
	case EventSessionLeave:
		l.Close()
	case EventAudioFrame:
		h.handleAudioFrame(l, ev)
	case EventTranscribeStart:
		h.setPaused(l, false)
	case EventTranscribeStop:
		h.setPaused(l, true)
	default:
		l.Send(errorEvent(l.sessionID, "unknown_event", "unsupported event type: "+string(ev.Type)))
	}
}

func (h *Handler) handleJoin(l *wsListener, ev *Event) {
	if ev.SessionID == "" || ev.ParticipantID == "" {
		l.Send(errorEvent("", "invalid_join", "session_id and participant_id are required"))
		return
	}

	ctx, cancel := opContext()
	defer cancel()
	record, err := h.rooms.GetSession(ctx, ev.SessionID)
	if err != nil || !record.Active() {
		l.Send(errorEvent(ev.SessionID, "session_not_found", "session does not exist or has ended"))
		return
	}

	// The pipeline is created on first join, not on unknown ids.
	if _, err := h.manager.Create(ev.SessionID, record.ConsultationID); err != nil && !errors.Is(err, shared.ErrConflict) {
		h.logger.Error("failed to create pipeline", "error", err, "session_id", ev.SessionID)
		l.Send(errorEvent(ev.SessionID, "pipeline_failed", "could not start the session pipeline"))
		return
	}

	l.sessionID = ev.SessionID
	l.participantID = ev.ParticipantID
	h.hub.Register(ev.SessionID, ev.ParticipantID, l)

	if err := h.rooms.AddParticipant(ctx, ev.SessionID, ev.ParticipantID); err != nil {
		h.logger.Warn("failed to record participant", "error", err, "session_id", ev.SessionID)
	}

	h.logger.Info("participant joined",
		"session_id", ev.SessionID, "participant_id", ev.ParticipantID)

	l.Send(&Event{
		Type:          EventSessionJoined,
		SessionID:     ev.SessionID,
		ParticipantID: ev.ParticipantID,
		Timestamp:     time.Now(),
	})
	h.hub.BroadcastEvent(ev.SessionID, &Event{
		Type:          EventParticipantIn,
		SessionID:     ev.SessionID,
		ParticipantID: ev.ParticipantID,
		Timestamp:     time.Now(),
	}, l)
}

func (h *Handler) handleAudioFrame(l *wsListener, ev *Event) {
	if l.sessionID == "" {
		l.Send(errorEvent("", "not_joined", "join a session before sending audio"))
		return
	}
	if ev.Audio == nil || ev.Audio.Data == "" || ev.Channel == "" {
		l.Send(errorEvent(l.sessionID, "invalid_frame", "audio payload and channel are required"))
		return
	}

	sess, err := h.manager.Get(l.sessionID)
	if err != nil {
		l.Send(errorEvent(l.sessionID, "session_not_found", "session pipeline is gone"))
		return
	}

	raw, err := base64.StdEncoding.DecodeString(ev.Audio.Data)
	if err != nil || len(raw) == 0 {
		l.Send(errorEvent(l.sessionID, "invalid_frame", "audio data must be base64"))
		return
	}

	var pcm []int16
	sampleRate := ev.Audio.SampleRate
	switch ev.Audio.Encoding {
	case "", EncodingPCM16:
		if len(raw)%2 != 0 {
			l.Send(errorEvent(l.sessionID, "invalid_frame", "audio data must be base64 PCM16"))
			return
		}
		pcm = audio.PCMBytesToInt16(raw)
	case EncodingWAV:
		var rate int
		pcm, rate, err = audio.DecodeWAV(raw)
		if err != nil {
			l.Send(errorEvent(l.sessionID, "invalid_frame", "invalid WAV payload"))
			return
		}
		sampleRate = rate
	default:
		l.Send(errorEvent(l.sessionID, "invalid_frame", "unsupported audio encoding: "+ev.Audio.Encoding))
		return
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	capturedAt := ev.Audio.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}

	samples := audio.Int16ToFloat32(pcm)
	if err := sess.HandleFrame(ev.Channel, samples, sampleRate, capturedAt); err != nil {
		// The buffer survives a rejected frame; tell the sender and move on.
		h.logger.Warn("frame rejected",
			"session_id", l.sessionID, "channel", ev.Channel, "error", err)
		l.Send(errorEvent(l.sessionID, "frame_rejected", err.Error()))
	}
}

func (h *Handler) setPaused(l *wsListener, paused bool) {
	if l.sessionID == "" {
		l.Send(errorEvent("", "not_joined", "join a session first"))
		return
	}
	sess, err := h.manager.Get(l.sessionID)
	if err != nil {
		l.Send(errorEvent(l.sessionID, "session_not_found", "session pipeline is gone"))
		return
	}

	sess.SetPaused(paused)
	if paused {
		// Stop flushes the buffered tail so nothing said so far is lost.
		sess.RequestFlush()
	}
	h.logger.Info("transcription toggled", "session_id", l.sessionID, "paused", paused)
}

func opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (h *Handler) removeParticipantRecord(sessionID, participantID string) {
	ctx, cancel := opContext()
	defer cancel()
	if err := h.rooms.RemoveParticipant(ctx, sessionID, participantID); err != nil && !errors.Is(err, shared.ErrNotFound) {
		h.logger.Warn("failed to remove participant record",
			"error", err, "session_id", sessionID)
	}
}
