package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tech-arch1tect/questlog/config"
	"github.com/tech-arch1tect/questlog/services/logging"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// ProvideRedis returns nil unless a component is configured to use redis.
func ProvideRedis(lc fx.Lifecycle, cfg *config.Config, log *logging.Service) *redis.Client {
	if !cfg.NeedsRedis() {
		return nil
	}

	client := NewRedisClient(cfg.Redis)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := client.Ping(pingCtx).Err(); err != nil {
				return fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
			}
			log.Info("redis connected", zap.String("addr", cfg.Redis.Addr), zap.Int("db", cfg.Redis.DB))
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})

	return client
}
