package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tech-arch1tect/questlog/config"
	"github.com/tech-arch1tect/questlog/services/logging"
	"go.uber.org/zap"
)

var ErrStoreNotConfigured = errors.New("revocation store not configured")

// Service is the access-token denylist consulted by the JWT service.
type Service struct {
	config *config.Config
	store  Store
	logger *logging.Service
}

func NewService(cfg *config.Config, store Store, logger *logging.Service) *Service {
	if logger != nil {
		logger.Info("initializing access token revocation service",
			zap.String("store_type", cfg.Revocation.Store),
			zap.Duration("cleanup_period", cfg.Revocation.CleanupPeriod))
	}

	return &Service{
		config: cfg,
		store:  store,
		logger: logger,
	}
}

func (s *Service) RevokeToken(jti string, expiresAt time.Time) error {
	if s.store == nil {
		return ErrStoreNotConfigured
	}

	if err := s.store.RevokeToken(jti, expiresAt); err != nil {
		if s.logger != nil {
			s.logger.Error("failed to revoke token by JTI", zap.String("jti", jti), zap.Error(err))
		}
		return fmt.Errorf("failed to revoke token by JTI: %w", err)
	}

	if s.logger != nil {
		s.logger.Debug("token revoked by JTI",
			zap.String("jti", jti),
			zap.Time("expires_at", expiresAt))
	}
	return nil
}

func (s *Service) IsTokenRevoked(jti string) (bool, error) {
	if s.store == nil {
		return false, ErrStoreNotConfigured
	}

	revoked, err := s.store.IsRevoked(jti)
	if err != nil {
		return false, fmt.Errorf("failed to check JTI revocation status: %w", err)
	}
	return revoked, nil
}

func (s *Service) CleanupExpiredTokens() error {
	if s.store == nil {
		return ErrStoreNotConfigured
	}
	if err := s.store.CleanupExpiredTokens(); err != nil {
		return fmt.Errorf("failed to cleanup expired tokens: %w", err)
	}
	return nil
}

// StartCleanupWorker runs CleanupExpiredTokens every interval until ctx ends.
func (s *Service) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	if s.store == nil || interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.CleanupExpiredTokens(); err != nil && s.logger != nil {
					s.logger.Error("revocation cleanup worker failed", zap.Error(err))
				}
			}
		}
	}()

	if s.logger != nil {
		s.logger.Info("started revocation cleanup worker", zap.Duration("interval", interval))
	}
}
