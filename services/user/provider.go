package user

import (
	"github.com/tech-arch1tect/questlog/config"
	"github.com/tech-arch1tect/questlog/services/logging"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func ProvideUserService(cfg *config.Config, db *gorm.DB, logger *logging.Service) *Service {
	return NewService(cfg, db, logger.Named("user"))
}

var Module = fx.Options(
	fx.Provide(ProvideUserService),
)
