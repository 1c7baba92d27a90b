package securityalert

import (
	"context"

	"github.com/tech-arch1tect/questlog/config"
	"github.com/tech-arch1tect/questlog/services/logging"
	"github.com/tech-arch1tect/questlog/services/mail"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type DispatcherParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
	Logger    *logging.Service
	Mail      *mail.Service `optional:"true"`
}

func ProvideDispatcher(p DispatcherParams) *Dispatcher {
	logger := p.Logger.Named("securityalert")

	var notifiers []Notifier
	if p.Mail != nil {
		notifiers = append(notifiers, NewMailNotifier(p.Mail, p.Config.App.Name))
	}

	var publisher *AMQPPublisher
	if p.Config.Events.Enabled {
		pub, err := DialAMQP(p.Config.Events.URL, p.Config.Events.Exchange)
		if err != nil {
			logger.Error("security events disabled, broker unavailable", zap.Error(err))
		} else {
			publisher = pub
			notifiers = append(notifiers, pub)
		}
	}

	d := NewDispatcher(p.Config.Alerts, logger, notifiers...)

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			d.Wait()
			if publisher != nil {
				return publisher.Close()
			}
			return nil
		},
	})

	logger.Info("security alerts configured", zap.Int("notifiers", len(notifiers)))
	return d
}

var Module = fx.Options(
	fx.Provide(ProvideDispatcher),
)
