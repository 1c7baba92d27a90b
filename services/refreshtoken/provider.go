package refreshtoken

import (
	"context"

	"github.com/tech-arch1tect/questlog/config"
	"github.com/tech-arch1tect/questlog/services/jwt"
	"github.com/tech-arch1tect/questlog/services/logging"
	"github.com/tech-arch1tect/questlog/services/securityalert"
	"github.com/tech-arch1tect/questlog/services/user"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type ServiceParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	DB        *gorm.DB
	Config    *config.Config
	Logger    *logging.Service
	JWT       *jwt.Service
	Users     *user.Service
	Alerts    *securityalert.Dispatcher `optional:"true"`
}

func ProvideRefreshTokenService(p ServiceParams) *Service {
	service := NewService(p.DB, p.Config, p.Logger.Named("refreshtoken"), p.JWT, p.Users)
	if p.Alerts != nil {
		service.SetAlertDispatcher(p.Alerts)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			service.StartCleanupWorker(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})

	return service
}

var Options = fx.Options(
	fx.Provide(ProvideRefreshTokenService),
)
