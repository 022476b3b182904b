package bootstrap

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/igorvboas/medcall-ai-sub003/internal/room"
	"github.com/igorvboas/medcall-ai-sub003/internal/utterance"
)

func ProvideUtteranceStore(db *gorm.DB) *utterance.Store {
	return utterance.NewStore(db)
}

func ProvideRoomStore(redisClient *redis.Client) *room.Store {
	return room.NewStore(redisClient)
}

func RunMigrations(utteranceStore *utterance.Store) error {
	return utteranceStore.Migrate()
}

var StoresModule = fx.Options(
	fx.Provide(
		ProvideUtteranceStore,
		ProvideRoomStore,
	),
	fx.Invoke(RunMigrations),
)
