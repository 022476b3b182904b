package bootstrap

import (
	"log/slog"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/igorvboas/medcall-ai-sub003/internal/gateway"
	"github.com/igorvboas/medcall-ai-sub003/internal/health"
	"github.com/igorvboas/medcall-ai-sub003/internal/room"
	"github.com/igorvboas/medcall-ai-sub003/internal/transcription"
	"github.com/igorvboas/medcall-ai-sub003/internal/voicesession"
)

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func ProvideLogger(cfg *Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
}

func ProvideTokenService(cfg *Config) *gateway.TokenService {
	return gateway.NewTokenService(cfg.LiveKitAPIKey, cfg.LiveKitAPISecret, cfg.LiveKitURL)
}

func ProvideGatewayHandler(hub *gateway.Hub, manager *voicesession.Manager,
	roomStore *room.Store, logger *slog.Logger) *gateway.Handler {
	return gateway.NewHandler(hub, manager, roomStore, logger)
}

func ProvideTokenHandler(tokens *gateway.TokenService, logger *slog.Logger) *gateway.TokenHandler {
	return gateway.NewTokenHandler(tokens, logger)
}

func ProvideDebugHandler(manager *voicesession.Manager, logger *slog.Logger) *gateway.DebugHandler {
	return gateway.NewDebugHandler(manager, logger)
}

func ProvideRoomHandler(store *room.Store, manager *voicesession.Manager, logger *slog.Logger) *room.Handler {
	return room.NewHandler(store, manager, logger)
}

func ProvideHealthHandler(db *gorm.DB, redisClient *redis.Client, cfg *Config,
	manager *voicesession.Manager) *health.Handler {
	sttConfig := transcription.Config{BaseURL: cfg.STTBaseURL}
	return health.NewHandler(db, redisClient, sttConfig, manager, cfg.Version)
}

type HandlerParams struct {
	fx.In

	GatewayHandler *gateway.Handler
	TokenHandler   *gateway.TokenHandler
	DebugHandler   *gateway.DebugHandler
	RoomHandler    *room.Handler
	HealthHandler  *health.Handler
}

func RegisterRoutes(e *echo.Echo, params HandlerParams) {
	params.GatewayHandler.RegisterRoutes(e)
	params.HealthHandler.RegisterRoutes(e)

	api := e.Group("/api/v1")
	params.RoomHandler.RegisterRoutes(api)
	params.TokenHandler.RegisterRoutes(api)
	params.DebugHandler.RegisterRoutes(api)
}

var HandlersModule = fx.Options(
	fx.Provide(
		ProvideLogger,
		ProvideTokenService,
		ProvideGatewayHandler,
		ProvideTokenHandler,
		ProvideDebugHandler,
		ProvideRoomHandler,
		ProvideHealthHandler,
	),
	fx.Invoke(RegisterRoutes),
)
