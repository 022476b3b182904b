package room

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/igorvboas/medcall-ai-sub003/internal/shared"
)

// PipelineEnder flushes and tears down the live audio pipeline when a
// session ends through the REST surface.
type PipelineEnder interface {
	EndSession(ctx context.Context, sessionID string) error
}

type Handler struct {
	store    *Store
	pipeline PipelineEnder
	logger   *slog.Logger
}

func NewHandler(store *Store, pipeline PipelineEnder, logger *slog.Logger) *Handler {
	return &Handler{
		store:    store,
		pipeline: pipeline,
		logger:   logger.With("component", "session-handler"),
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/sessions", h.CreateSession)
	g.GET("/sessions", h.ListActiveSessions)
	g.GET("/sessions/:id", h.GetSession)
	g.POST("/sessions/:id/end", h.EndSession)
}

type createSessionRequest struct {
	ConsultationID string `json:"consultation_id"`
	RoomName       string `json:"room_name"`
	Mode           Mode   `json:"mode"`
}

func (h *Handler) CreateSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_body", "invalid request body")
	}
	if req.Mode != "" && req.Mode != ModeInPerson && req.Mode != ModeOnline {
		return shared.BadRequest("invalid_mode", "mode must be presencial or online")
	}

	sess := &Session{
		ConsultationID: req.ConsultationID,
		RoomName:       req.RoomName,
		Mode:           req.Mode,
	}
	if err := h.store.CreateSession(c.Request().Context(), sess); err != nil {
		h.logger.Error("failed to create session", "error", err)
		return shared.InternalError("create_failed", "failed to create session")
	}

	h.logger.Info("session created", "session_id", sess.ID, "mode", sess.Mode)
	return c.JSON(http.StatusCreated, sess)
}

func (h *Handler) GetSession(c echo.Context) error {
	sess, err := h.store.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.NotFound("session_not_found", "session not found")
		}
		h.logger.Error("failed to get session", "error", err, "session_id", c.Param("id"))
		return shared.InternalError("get_failed", "failed to get session")
	}

	count, err := h.store.UtteranceCount(c.Request().Context(), sess.ID)
	if err != nil {
		h.logger.Warn("failed to read utterance count", "error", err, "session_id", sess.ID)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"session":         sess,
		"utterance_count": count,
	})
}

func (h *Handler) ListActiveSessions(c echo.Context) error {
	sessions, err := h.store.GetActiveSessions(c.Request().Context())
	if err != nil {
		h.logger.Error("failed to list sessions", "error", err)
		return shared.InternalError("list_failed", "failed to list sessions")
	}
	if sessions == nil {
		sessions = []*Session{}
	}
	return c.JSON(http.StatusOK, sessions)
}

func (h *Handler) EndSession(c echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	if _, err := h.store.GetSession(ctx, id); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.NotFound("session_not_found", "session not found")
		}
		return shared.InternalError("get_failed", "failed to get session")
	}

	// Flush live buffers before marking the record ended, so the tail of
	// the conversation still reaches the transcript.
	if h.pipeline != nil {
		if err := h.pipeline.EndSession(ctx, id); err != nil && !errors.Is(err, shared.ErrNotFound) {
			h.logger.Error("pipeline teardown failed", "error", err, "session_id", id)
		}
	}

	if err := h.store.EndSession(ctx, id, StatusEnded); err != nil {
		h.logger.Error("failed to end session", "error", err, "session_id", id)
		return shared.InternalError("end_failed", "failed to end session")
	}

	h.logger.Info("session ended", "session_id", id)
	return c.NoContent(http.StatusNoContent)
}
