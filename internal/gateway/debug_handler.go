package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/igorvboas/medcall-ai-sub003/internal/shared"
	"github.com/igorvboas/medcall-ai-sub003/internal/voicesession"
)

// DebugHandler exposes the pipeline tuning knobs for field debugging of
// segmentation behavior.
type DebugHandler struct {
	manager *voicesession.Manager
	logger  *slog.Logger
}

func NewDebugHandler(manager *voicesession.Manager, logger *slog.Logger) *DebugHandler {
	return &DebugHandler{
		manager: manager,
		logger:  logger.With("component", "debug-handler"),
	}
}

func (h *DebugHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/transcription/config", h.GetConfig)
	g.PATCH("/transcription/config", h.PatchConfig)
	g.POST("/transcription/reset", h.Reset)
}

type pipelineConfigResponse struct {
	VADThreshold       float64 `json:"vad_threshold"`
	MinVoiceDurationMs int64   `json:"min_voice_duration_ms"`
	PhraseEndSilenceMs int64   `json:"phrase_end_silence_ms"`
	MaxBufferMs        int64   `json:"max_buffer_ms"`
	FlushCooldownMs    int64   `json:"flush_cooldown_ms"`
	FallbackSimulation bool    `json:"fallback_simulation"`
	ActiveSessions     int     `json:"active_sessions"`
}

type pipelineConfigPatch struct {
	VADThreshold       *float64 `json:"vad_threshold"`
	MinVoiceDurationMs *int64   `json:"min_voice_duration_ms"`
	PhraseEndSilenceMs *int64   `json:"phrase_end_silence_ms"`
	MaxBufferMs        *int64   `json:"max_buffer_ms"`
	FlushCooldownMs    *int64   `json:"flush_cooldown_ms"`
	FallbackSimulation *bool    `json:"fallback_simulation"`
}

func (h *DebugHandler) GetConfig(c echo.Context) error {
	return c.JSON(http.StatusOK, h.currentConfig())
}

// PatchConfig applies partial tuning updates. The VAD threshold takes
// effect immediately on every live channel; the remaining knobs apply to
// sessions created afterwards.
func (h *DebugHandler) PatchConfig(c echo.Context) error {
	var patch pipelineConfigPatch
	if err := c.Bind(&patch); err != nil {
		return shared.BadRequest("invalid_body", "invalid request body")
	}

	if patch.VADThreshold != nil {
		if *patch.VADThreshold <= 0 || *patch.VADThreshold >= 1 {
			return shared.BadRequest("invalid_threshold", "vad_threshold must be in (0, 1)")
		}
		h.manager.Detector().SetThreshold(*patch.VADThreshold)
	}

	cfg := h.manager.PipelineConfig()
	if patch.MinVoiceDurationMs != nil {
		cfg.Phrase.MinVoiceDuration = time.Duration(*patch.MinVoiceDurationMs) * time.Millisecond
	}
	if patch.PhraseEndSilenceMs != nil {
		cfg.Phrase.PhraseEndSilence = time.Duration(*patch.PhraseEndSilenceMs) * time.Millisecond
	}
	if patch.MaxBufferMs != nil {
		cfg.Phrase.MaxBuffer = time.Duration(*patch.MaxBufferMs) * time.Millisecond
	}
	if patch.FlushCooldownMs != nil {
		cfg.Phrase.FlushCooldown = time.Duration(*patch.FlushCooldownMs) * time.Millisecond
	}
	if patch.FallbackSimulation != nil {
		cfg.FallbackSimulation = *patch.FallbackSimulation
	}
	h.manager.UpdatePipelineConfig(cfg)

	h.logger.Info("pipeline config updated")
	return c.JSON(http.StatusOK, h.currentConfig())
}

func (h *DebugHandler) Reset(c echo.Context) error {
	h.manager.Reset(c.Request().Context())
	return c.JSON(http.StatusOK, h.currentConfig())
}

func (h *DebugHandler) currentConfig() pipelineConfigResponse {
	cfg := h.manager.PipelineConfig()
	return pipelineConfigResponse{
		VADThreshold:       h.manager.Detector().Threshold(),
		MinVoiceDurationMs: cfg.Phrase.MinVoiceDuration.Milliseconds(),
		PhraseEndSilenceMs: cfg.Phrase.PhraseEndSilence.Milliseconds(),
		MaxBufferMs:        cfg.Phrase.MaxBuffer.Milliseconds(),
		FlushCooldownMs:    cfg.Phrase.FlushCooldown.Milliseconds(),
		FallbackSimulation: cfg.FallbackSimulation,
		ActiveSessions:     h.manager.ActiveCount(),
	}
}
