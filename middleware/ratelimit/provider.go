package ratelimit

import (
	"context"
	"fmt"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/tech-arch1tect/questlog/config"
	"github.com/tech-arch1tect/questlog/services/logging"
	"go.uber.org/fx"
)

func NewStore(cfg *config.RateLimitConfig, client *redis.Client) (Store, error) {
	switch cfg.Store {
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("rate limit store redis selected but no redis client is available")
		}
		return NewRedisStore(client), nil
	case "memory", "":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported rate limit store: %s", cfg.Store)
	}
}

type StoreParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
	Redis     *redis.Client `optional:"true"`
}

func ProvideRateLimitStore(p StoreParams) (Store, error) {
	store, err := NewStore(&p.Config.RateLimit, p.Redis)
	if err != nil {
		return nil, err
	}

	if mem, ok := store.(*MemoryStore); ok {
		p.Lifecycle.Append(fx.Hook{
			OnStop: func(context.Context) error {
				mem.Close()
				return nil
			},
		})
	}
	return store, nil
}

// Limiter builds rate limit middleware from the shared store and config.
type Limiter struct {
	store  Store
	config config.RateLimitConfig
	logger *logging.Service
}

func ProvideLimiter(cfg *config.Config, store Store, logger *logging.Service) *Limiter {
	return &Limiter{store: store, config: cfg.RateLimit, logger: logger.Named("ratelimit")}
}

// Middleware returns a no-op when rate limiting is disabled.
func (l *Limiter) Middleware() echo.MiddlewareFunc {
	if l == nil || !l.config.Enabled {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return Middleware(&Config{
		Store:     l.store,
		Rate:      l.config.Rate,
		Period:    l.config.Period,
		CountMode: l.config.CountMode,
		Prefix:    l.config.Prefix,
		Logger:    l.logger,
	})
}

var Module = fx.Options(
	fx.Provide(ProvideRateLimitStore),
	fx.Provide(ProvideLimiter),
)
