package bootstrap

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/igorvboas/medcall-ai-sub003/internal/gateway"
	"github.com/igorvboas/medcall-ai-sub003/internal/phrase"
	"github.com/igorvboas/medcall-ai-sub003/internal/room"
	"github.com/igorvboas/medcall-ai-sub003/internal/transcription"
	"github.com/igorvboas/medcall-ai-sub003/internal/utterance"
	"github.com/igorvboas/medcall-ai-sub003/internal/vad"
	"github.com/igorvboas/medcall-ai-sub003/internal/voicesession"
)

func ProvideDetector(cfg *Config) *vad.Detector {
	return vad.NewDetector(cfg.VADThreshold)
}

func ProvideTranscriber(cfg *Config, logger *slog.Logger) (transcription.Transcriber, error) {
	return transcription.NewClient(transcription.Config{
		BaseURL:           cfg.STTBaseURL,
		APIKey:            cfg.STTAPIKey,
		Model:             cfg.STTModel,
		Language:          cfg.STTLanguage,
		Timeout:           cfg.STTTimeout,
		MaxConcurrent:     cfg.STTMaxConcurrent,
		RequestsPerSecond: cfg.STTRequestsPerSecond,
	}, logger)
}

func ProvideSessionManager(cfg *Config, det *vad.Detector, transcriber transcription.Transcriber,
	utteranceStore *utterance.Store, roomStore *room.Store, logger *slog.Logger) *voicesession.Manager {

	pipelineCfg := voicesession.Config{
		Phrase: phrase.Config{
			VADThreshold:     cfg.VADThreshold,
			MinVoiceDuration: cfg.MinVoiceDuration,
			PhraseEndSilence: cfg.PhraseEndSilence,
			MaxBuffer:        cfg.MaxBuffer,
			FlushCooldown:    cfg.FlushCooldown,
			QueueSize:        cfg.FrameQueueSize,
		},
		TranscribeTimeout:  cfg.TranscribeTimeout,
		IdleTimeout:        cfg.SessionIdleTimeout,
		FallbackSimulation: cfg.FallbackSimulation,
	}

	return voicesession.NewManager(pipelineCfg, det, transcriber,
		transcription.NewSimulator(), utteranceStore, roomStore, logger)
}

func ProvideHub(logger *slog.Logger) *gateway.Hub {
	return gateway.NewHub(logger)
}

// WireVoicePipeline connects the hub and the manager in both directions
// and runs the idle reaper for the process lifetime.
func WireVoicePipeline(lc fx.Lifecycle, hub *gateway.Hub, manager *voicesession.Manager, logger *slog.Logger) {
	manager.SetBroadcaster(hub)
	hub.SetOnEmpty(func(sessionID string) {
		if err := manager.EndSession(context.Background(), sessionID); err != nil {
			logger.Warn("teardown after last leave failed", "session_id", sessionID, "error", err)
		}
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			manager.StartReaper()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			manager.StopReaper()
			manager.Reset(ctx)
			return nil
		},
	})
}

var VoiceModule = fx.Options(
	fx.Provide(
		ProvideDetector,
		ProvideTranscriber,
		ProvideSessionManager,
		ProvideHub,
	),
	fx.Invoke(WireVoicePipeline),
)
