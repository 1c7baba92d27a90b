package jwt

import (
	"github.com/tech-arch1tect/questlog/config"
	"github.com/tech-arch1tect/questlog/services/logging"
	"go.uber.org/fx"
)

func NewJWTService(cfg *config.Config, logger *logging.Service) *Service {
	return NewService(cfg, logger.Named("jwt"))
}

type OptionalRevocationService struct {
	fx.In
	RevocationService RevocationService `optional:"true"`
}

func WireRevocationService(jwtSvc *Service, opt OptionalRevocationService) {
	if jwtSvc != nil && opt.RevocationService != nil {
		jwtSvc.SetRevocationService(opt.RevocationService)
	}
}

var Options = fx.Options(
	fx.Provide(NewJWTService),
	fx.Invoke(WireRevocationService),
)
