package app

import (
	"fmt"

	"github.com/tech-arch1tect/questlog/config"
	"github.com/tech-arch1tect/questlog/database"
	authhandler "github.com/tech-arch1tect/questlog/handlers/auth"
	"github.com/tech-arch1tect/questlog/middleware/ratelimit"
	"github.com/tech-arch1tect/questlog/server"
	"github.com/tech-arch1tect/questlog/services/jwt"
	"github.com/tech-arch1tect/questlog/services/logging"
	"github.com/tech-arch1tect/questlog/services/mail"
	"github.com/tech-arch1tect/questlog/services/refreshtoken"
	"github.com/tech-arch1tect/questlog/services/revocation"
	"github.com/tech-arch1tect/questlog/services/securityalert"
	"github.com/tech-arch1tect/questlog/services/user"
	"go.uber.org/fx"
)

type AppBuilder struct {
	config    *config.Config
	models    []any
	fxOptions []fx.Option
	errors    []error
	http      bool
}

func NewApp() *AppBuilder {
	return &AppBuilder{
		models:    make([]any, 0),
		fxOptions: make([]fx.Option, 0),
		errors:    make([]error, 0),
		http:      true,
	}
}

// DefaultModels are the tables every deployment migrates.
func DefaultModels() []any {
	models := user.Models()
	return append(models, &refreshtoken.RefreshToken{}, &revocation.RevokedToken{})
}

func (b *AppBuilder) WithConfig(cfg *config.Config) *AppBuilder {
	if cfg == nil {
		b.addError("config cannot be nil")
		return b
	}
	b.config = cfg
	return b
}

func (b *AppBuilder) WithAutoConfig() *AppBuilder {
	cfg := &config.Config{}
	if err := config.LoadConfig(cfg); err != nil {
		b.addError(fmt.Sprintf("failed to load config: %v", err))
		return b
	}
	b.config = cfg
	return b
}

// WithModels migrates additional models next to DefaultModels.
func (b *AppBuilder) WithModels(models ...any) *AppBuilder {
	b.models = append(b.models, models...)
	return b
}

// WithoutHTTP assembles the services only, for maintenance commands.
func (b *AppBuilder) WithoutHTTP() *AppBuilder {
	b.http = false
	return b
}

func (b *AppBuilder) WithFxOptions(opts ...fx.Option) *AppBuilder {
	b.fxOptions = append(b.fxOptions, opts...)
	return b
}

func (b *AppBuilder) Build() (*App, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}

	if b.config == nil {
		if err := b.WithAutoConfig().validate(); err != nil {
			return nil, err
		}
	}

	app := &App{config: b.config}

	options := b.buildFxOptions()
	options = append(options, fx.Populate(&app.logger, &app.db, &app.tokens))
	if b.http {
		options = append(options, fx.Populate(&app.server))
	}

	app.fx = fx.New(options...)
	if err := app.fx.Err(); err != nil {
		return nil, fmt.Errorf("failed to assemble application: %w", err)
	}

	return app, nil
}

func (b *AppBuilder) addError(msg string) {
	b.errors = append(b.errors, fmt.Errorf("%s", msg))
}

func (b *AppBuilder) validate() error {
	if len(b.errors) > 0 {
		return fmt.Errorf("configuration errors: %v", b.errors)
	}
	return nil
}

func (b *AppBuilder) buildFxOptions() []fx.Option {
	options := []fx.Option{
		fx.NopLogger,
		config.NewProvider(b.config),
		logging.Module,
		fx.Supply(database.WithModels(append(DefaultModels(), b.models...)...)),
		database.Module,
		revocation.Module,
		jwt.Options,
		user.Module,
		mail.Module,
		securityalert.Module,
		refreshtoken.Options,
	}

	if b.http {
		options = append(options,
			ratelimit.Module,
			server.NewProvider(),
			authhandler.Module,
		)
	}

	return append(options, b.fxOptions...)
}
