package revocation

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/tech-arch1tect/questlog/config"
	"github.com/tech-arch1tect/questlog/services/jwt"
	"github.com/tech-arch1tect/questlog/services/logging"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type StoreParams struct {
	fx.In
	Config *config.Config
	Logger *logging.Service
	DB     *gorm.DB      `optional:"true"`
	Redis  *redis.Client `optional:"true"`
}

func ProvideStore(p StoreParams) (Store, error) {
	if !p.Config.Revocation.Enabled {
		return nil, nil
	}

	logger := p.Logger.Named("revocation")

	switch p.Config.Revocation.Store {
	case "redis":
		if p.Redis == nil {
			return nil, fmt.Errorf("revocation store redis selected but no redis client is available")
		}
		return NewRedisStore(p.Redis), nil
	case "memory", "":
		if p.DB != nil {
			if err := p.DB.AutoMigrate(&RevokedToken{}); err != nil {
				logger.Error("failed to migrate revoked tokens table, using memory-only store", zap.Error(err))
				return NewMemoryStore(nil, logger), nil
			}
		}
		return NewMemoryStore(p.DB, logger), nil
	default:
		return nil, fmt.Errorf("unsupported revocation store type: %s", p.Config.Revocation.Store)
	}
}

func ProvideRevocationService(cfg *config.Config, logger *logging.Service, store Store) *Service {
	if store == nil {
		return nil
	}
	return NewService(cfg, store, logger.Named("revocation"))
}

func ProvideRevocationAsJWTInterface(svc *Service) jwt.RevocationService {
	if svc == nil {
		return nil
	}
	return svc
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Config, svc *Service, store Store) {
	if svc == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if mem, ok := store.(*MemoryStore); ok {
				if err := mem.LoadFromDatabase(); err != nil {
					return err
				}
			}
			svc.StartCleanupWorker(ctx, cfg.Revocation.CleanupPeriod)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

var Module = fx.Options(
	fx.Provide(ProvideStore),
	fx.Provide(ProvideRevocationService),
	fx.Provide(ProvideRevocationAsJWTInterface),
	fx.Invoke(registerLifecycle),
)
