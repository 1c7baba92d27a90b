package mail

import (
	"github.com/tech-arch1tect/questlog/config"
	"github.com/tech-arch1tect/questlog/services/logging"
	"go.uber.org/fx"
)

// ProvideMailService returns nil when mail is disabled.
func ProvideMailService(cfg *config.Config, logger *logging.Service) (*Service, error) {
	if !cfg.Mail.Enabled {
		return nil, nil
	}
	return NewService(&cfg.Mail, logger.Named("mail"))
}

var Module = fx.Options(
	fx.Provide(ProvideMailService),
)
