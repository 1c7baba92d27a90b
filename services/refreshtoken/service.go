package refreshtoken

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tech-arch1tect/questlog/config"
	"github.com/tech-arch1tect/questlog/services/jwt"
	"github.com/tech-arch1tect/questlog/services/logging"
	"github.com/tech-arch1tect/questlog/services/securityalert"
	"github.com/tech-arch1tect/questlog/services/tokenhash"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrInvalidToken is the only rejection callers see. Missing, expired and
	// revoked tokens all map to it.
	ErrInvalidToken = errors.New("invalid refresh token")

	// ErrTokenReuseDetected marks a replay of an already revoked token. It
	// wraps ErrInvalidToken.
	ErrTokenReuseDetected = fmt.Errorf("%w: refresh token reuse detected", ErrInvalidToken)

	ErrTokenGenerationFailed = errors.New("failed to generate secure token")
	ErrRetentionDisabled     = errors.New("refresh token retention is not configured")
)

// AccessTokenIssuer mints the access token handed out alongside a rotated
// refresh token.
type AccessTokenIssuer interface {
	GenerateToken(subject jwt.Subject) (string, error)
}

type SubjectLoader interface {
	LoadSubject(ctx context.Context, userID uint) (jwt.Subject, error)
}

type AlertDispatcher interface {
	TokenReuse(ctx context.Context, event securityalert.Event)
}

type lookupOutcome int

const (
	outcomeNotFound lookupOutcome = iota
	outcomeExpired
	outcomeRevoked
	outcomeActive
)

func (o lookupOutcome) String() string {
	switch o {
	case outcomeExpired:
		return "expired"
	case outcomeRevoked:
		return "revoked"
	case outcomeActive:
		return "active"
	default:
		return "not_found"
	}
}

type Service struct {
	db       *gorm.DB
	config   *config.Config
	logger   *logging.Service
	issuer   AccessTokenIssuer
	subjects SubjectLoader
	alerts   AlertDispatcher
	now      func() time.Time
}

func NewService(db *gorm.DB, cfg *config.Config, logger *logging.Service, issuer AccessTokenIssuer, subjects SubjectLoader) *Service {
	if logger != nil {
		logger.Info("initializing refresh token service",
			zap.Duration("token_expiry", cfg.RefreshToken.Expiry),
			zap.Int("token_length", cfg.RefreshToken.TokenLength),
			zap.String("reuse_policy", string(cfg.RefreshToken.ReusePolicy)))
	}

	return &Service{
		db:       db,
		config:   cfg,
		logger:   logger,
		issuer:   issuer,
		subjects: subjects,
		now:      time.Now,
	}
}

func (s *Service) SetAlertDispatcher(alerts AlertDispatcher) {
	s.alerts = alerts
}

// Issue starts a new token family for userID, as on login.
func (s *Service) Issue(ctx context.Context, userID uint, info SessionInfo) (*IssuedToken, error) {
	raw, record, err := s.newRecord(userID, uuid.NewString(), info)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		if s.logger != nil {
			s.logger.Error("failed to store refresh token", zap.Error(err), zap.Uint("user_id", userID))
		}
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("refresh token issued",
			zap.Uint("user_id", userID),
			zap.Uint("token_id", record.ID),
			zap.String("family_id", record.FamilyID),
			zap.Time("expires_at", record.ExpiresAt))
	}

	return &IssuedToken{Token: raw, Record: record, ExpiresAt: record.ExpiresAt}, nil
}

func (s *Service) newRecord(userID uint, familyID string, info SessionInfo) (string, *RefreshToken, error) {
	raw, err := tokenhash.Generate(s.config.RefreshToken.TokenLength)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("failed to generate refresh token", zap.Error(err))
		}
		return "", nil, ErrTokenGenerationFailed
	}

	now := s.now()
	return raw, &RefreshToken{
		UserID:      userID,
		FamilyID:    familyID,
		TokenHash:   tokenhash.Hash(raw),
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.config.RefreshToken.Expiry),
		CreatedByIP: info.IPAddress,
		DeviceInfo:  info.DeviceLabel(),
	}, nil
}

func (s *Service) lookup(ctx context.Context, hash string) (*RefreshToken, lookupOutcome, error) {
	var token RefreshToken
	err := s.db.WithContext(ctx).Where("token_hash = ?", hash).First(&token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, outcomeNotFound, nil
		}
		return nil, outcomeNotFound, err
	}

	// expiry wins over revocation so that stale replays are not treated as reuse
	switch {
	case token.IsExpired(s.now()):
		return &token, outcomeExpired, nil
	case token.IsRevoked():
		return &token, outcomeRevoked, nil
	default:
		return &token, outcomeActive, nil
	}
}

// Rotate exchanges a presented refresh secret for a new one plus a fresh
// access token. Every rejection satisfies errors.Is(err, ErrInvalidToken).
func (s *Service) Rotate(ctx context.Context, raw string, info SessionInfo) (*RotationResult, error) {
	if raw == "" {
		return nil, ErrInvalidToken
	}

	hash := tokenhash.Hash(raw)
	current, outcome, err := s.lookup(ctx, hash)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("refresh token lookup failed", zap.Error(err))
		}
		return nil, ErrInvalidToken
	}

	switch outcome {
	case outcomeNotFound, outcomeExpired:
		if s.logger != nil {
			s.logger.Info("refresh token rejected",
				zap.String("outcome", outcome.String()),
				zap.String("token", tokenhash.Short(hash)),
				zap.String("ip", info.IPAddress))
		}
		return nil, ErrInvalidToken
	case outcomeRevoked:
		s.handleReuse(ctx, current, info)
		return nil, ErrTokenReuseDetected
	}

	subject, err := s.subjects.LoadSubject(ctx, current.UserID)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("refresh token owner could not be loaded",
				zap.Uint("user_id", current.UserID),
				zap.Error(err))
		}
		return nil, ErrInvalidToken
	}

	newRaw, successor, err := s.newRecord(current.UserID, current.FamilyID, info)
	if err != nil {
		return nil, err
	}

	var accessToken string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		res := tx.Model(&RefreshToken{}).
			Where("id = ? AND token_hash = ? AND revoked_at IS NULL", current.ID, hash).
			Updates(map[string]any{
				"revoked_at":       now,
				"revoked_by_ip":    info.IPAddress,
				"replaced_by_hash": successor.TokenHash,
				"revoke_reason":    ReasonRotated,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return errRotationConflict
		}

		if err := tx.Create(successor).Error; err != nil {
			return err
		}

		// signing happens inside the transaction so a failure leaves the
		// presented token usable
		signed, err := s.issuer.GenerateToken(subject)
		if err != nil {
			return fmt.Errorf("failed to sign access token: %w", err)
		}
		accessToken = signed
		return nil
	})
	if err != nil {
		if errors.Is(err, errRotationConflict) {
			if s.logger != nil {
				s.logger.Info("refresh token rotated concurrently",
					zap.Uint("token_id", current.ID),
					zap.String("family_id", current.FamilyID))
			}
			return nil, ErrInvalidToken
		}
		if s.logger != nil {
			s.logger.Error("refresh token rotation failed",
				zap.Error(err),
				zap.Uint("token_id", current.ID),
				zap.Uint("user_id", current.UserID))
		}
		return nil, ErrInvalidToken
	}

	if s.logger != nil {
		s.logger.Info("refresh token rotated",
			zap.Uint("user_id", current.UserID),
			zap.Uint("old_token_id", current.ID),
			zap.Uint("new_token_id", successor.ID),
			zap.String("family_id", current.FamilyID))
	}

	return &RotationResult{
		AccessToken:  accessToken,
		RefreshToken: newRaw,
		ExpiresAt:    successor.ExpiresAt,
		UserID:       subject.ID,
		Username:     subject.Username,
		FamilyID:     successor.FamilyID,
	}, nil
}

var errRotationConflict = errors.New("refresh token already rotated")

func (s *Service) handleReuse(ctx context.Context, token *RefreshToken, info SessionInfo) {
	s.logger.Security("token_reuse_detected",
		zap.Uint("user_id", token.UserID),
		zap.Uint("token_id", token.ID),
		zap.String("family_id", token.FamilyID),
		zap.String("revoke_reason", token.RevokeReason),
		zap.String("ip", info.IPAddress),
		zap.String("device", info.DeviceLabel()),
		zap.String("policy", string(s.config.RefreshToken.ReusePolicy)))

	if s.config.RefreshToken.ReusePolicy != config.ReuseRevokeFamily {
		return
	}

	revoked, err := s.revokeFamily(ctx, token.FamilyID, info.IPAddress)
	if err != nil {
		s.logger.Error("failed to revoke token family",
			zap.String("family_id", token.FamilyID),
			zap.Error(err))
		return
	}

	if revoked > 0 {
		s.logger.Security("token_family_revoked",
			zap.Uint("user_id", token.UserID),
			zap.String("family_id", token.FamilyID),
			zap.Int64("revoked", revoked))
	}

	if s.alerts == nil || (revoked == 0 && token.RevokeReason != ReasonRotated) {
		return
	}

	event := securityalert.Event{
		UserID:          token.UserID,
		FamilyID:        token.FamilyID,
		IPAddress:       info.IPAddress,
		Device:          info.DeviceLabel(),
		RevokedSessions: revoked,
		OccurredAt:      s.now().UTC(),
	}
	if subject, err := s.subjects.LoadSubject(ctx, token.UserID); err == nil {
		event.Username = subject.Username
		event.Email = subject.Email
	}
	s.alerts.TokenReuse(ctx, event)
}

func (s *Service) revokeFamily(ctx context.Context, familyID, actor string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&RefreshToken{}).
		Where("family_id = ? AND revoked_at IS NULL", familyID).
		Updates(map[string]any{
			"revoked_at":    s.now(),
			"revoked_by_ip": actor,
			"revoke_reason": ReasonReuseDetected,
		})
	return res.RowsAffected, res.Error
}

// Revoke marks the token behind raw as revoked by actor. Unknown and already
// revoked tokens are left untouched and do not produce an error.
func (s *Service) Revoke(ctx context.Context, raw, actor string) error {
	if raw == "" {
		return nil
	}

	hash := tokenhash.Hash(raw)
	res := s.db.WithContext(ctx).Model(&RefreshToken{}).
		Where("token_hash = ? AND revoked_at IS NULL", hash).
		Updates(map[string]any{
			"revoked_at":    s.now(),
			"revoked_by_ip": actor,
			"revoke_reason": ReasonLogout,
		})
	if res.Error != nil {
		if s.logger != nil {
			s.logger.Error("failed to revoke refresh token", zap.Error(res.Error))
		}
		return fmt.Errorf("failed to revoke refresh token: %w", res.Error)
	}

	if s.logger != nil && res.RowsAffected > 0 {
		s.logger.Info("refresh token revoked",
			zap.String("token", tokenhash.Short(hash)),
			zap.String("actor", actor))
	}
	return nil
}

func (s *Service) RevokeAllForUser(ctx context.Context, userID uint, actor string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Updates(map[string]any{
			"revoked_at":    s.now(),
			"revoked_by_ip": actor,
			"revoke_reason": ReasonLogoutAll,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to revoke user refresh tokens: %w", res.Error)
	}

	if s.logger != nil {
		s.logger.Info("all refresh tokens revoked for user",
			zap.Uint("user_id", userID),
			zap.Int64("revoked", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

// ListActive returns the user's usable tokens, newest first.
func (s *Service) ListActive(ctx context.Context, userID uint) ([]RefreshToken, error) {
	var tokens []RefreshToken
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND revoked_at IS NULL AND expires_at > ?", userID, s.now()).
		Order("created_at DESC, id DESC").
		Find(&tokens).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list refresh tokens: %w", err)
	}
	return tokens, nil
}

// PurgeExpired deletes rows that expired more than retention ago.
func (s *Service) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, ErrRetentionDisabled
	}

	cutoff := s.now().Add(-retention)
	res := s.db.WithContext(ctx).Where("expires_at < ?", cutoff).Delete(&RefreshToken{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge refresh tokens: %w", res.Error)
	}

	if s.logger != nil {
		s.logger.Info("purged expired refresh tokens",
			zap.Int64("deleted", res.RowsAffected),
			zap.Time("cutoff", cutoff))
	}
	return res.RowsAffected, nil
}

func (s *Service) StartCleanupWorker(ctx context.Context) {
	interval := s.config.RefreshToken.CleanupInterval
	retention := s.config.RefreshToken.Retention
	if interval <= 0 || retention <= 0 {
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
				if _, err := s.PurgeExpired(ctx, retention); err != nil && s.logger != nil {
					s.logger.Error("refresh token cleanup failed", zap.Error(err))
				}
			}
		}
	}()
}
