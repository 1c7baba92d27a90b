package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tech-arch1tect/questlog/config"
	"github.com/tech-arch1tect/questlog/server"
	"github.com/tech-arch1tect/questlog/services/logging"
	"github.com/tech-arch1tect/questlog/services/refreshtoken"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	fx     *fx.App
	config *config.Config
	logger *logging.Service
	db     *gorm.DB
	server *server.Server
	tokens *refreshtoken.Service
}

func (a *App) Start(ctx context.Context) error {
	if err := a.fx.Start(ctx); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}
	return nil
}

// Run starts the application and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	startCtx, cancel := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer cancel()
	if err := a.Start(startCtx); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	a.logger.Info("received shutdown signal, stopping gracefully", zap.String("signal", sig.String()))

	return a.Stop()
}

func (a *App) Stop() error {
	timeout := 30 * time.Second
	if a.config != nil && a.config.Server.ShutdownTimeout > 0 {
		timeout = a.config.Server.ShutdownTimeout + 5*time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := a.fx.Stop(ctx); err != nil {
		a.logger.Error("failed to stop application gracefully", zap.Error(err))
		return fmt.Errorf("failed to stop application: %w", err)
	}
	return nil
}

// Server is nil for applications built WithoutHTTP.
func (a *App) Server() *server.Server {
	return a.server
}

func (a *App) Echo() *echo.Echo {
	if a.server == nil {
		a.logger.Warn("server not initialised, application was built without HTTP")
		return nil
	}
	return a.server.Echo()
}

func (a *App) DB() *gorm.DB {
	return a.db
}

func (a *App) Logger() *logging.Service {
	return a.logger
}

func (a *App) Config() *config.Config {
	return a.config
}

func (a *App) RefreshTokens() *refreshtoken.Service {
	return a.tokens
}
