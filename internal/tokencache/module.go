package tokencache

import (
	"fmt"

	"github.com/Ilkenza/siteorg-auth/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewStorage selects the storage backend from configuration.
func NewStorage(cfg *config.Config) (Storage, error) {
	switch cfg.Cache.Backend {
	case config.CacheBackendMemory:
		return NewMemoryStorage(), nil
	case config.CacheBackendFile:
		return NewFileStorage(cfg.Cache.Dir)
	case config.CacheBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		return NewRedisStorage(client), nil
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.Cache.Backend)
	}
}

// NewCache builds the project-scoped cache on top of the configured storage.
func NewCache(storage Storage, cfg *config.Config, log *zap.Logger) *Cache {
	return New(storage, cfg.Provider.ProjectRef, log)
}

// Module provides the token cache dependencies
var Module = fx.Options(
	fx.Provide(
		NewStorage,
		NewCache,
	),
)
