package revocation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tech-arch1tect/questlog/services/logging"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RevokedToken persists denylisted access-token JTIs so the memory store
// survives restarts.
type RevokedToken struct {
	JTI       string    `gorm:"primaryKey;size:64"`
	ExpiresAt time.Time `gorm:"not null;index"`
	CreatedAt time.Time
}

func (RevokedToken) TableName() string {
	return "revoked_access_tokens"
}

type Store interface {
	RevokeToken(jti string, expiresAt time.Time) error
	IsRevoked(jti string) (bool, error)
	CleanupExpiredTokens() error
}

type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]time.Time
	db     *gorm.DB
	logger *logging.Service
	now    func() time.Time
}

// NewMemoryStore keeps the denylist in memory, writing through to db when it
// is non-nil.
func NewMemoryStore(db *gorm.DB, logger *logging.Service) *MemoryStore {
	return &MemoryStore{
		tokens: make(map[string]time.Time),
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

func (m *MemoryStore) RevokeToken(jti string, expiresAt time.Time) error {
	m.mu.Lock()
	m.tokens[jti] = expiresAt
	m.mu.Unlock()

	if m.db == nil {
		return nil
	}

	record := RevokedToken{JTI: jti, ExpiresAt: expiresAt}
	err := m.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("failed to persist revoked token: %w", err)
	}
	return nil
}

func (m *MemoryStore) IsRevoked(jti string) (bool, error) {
	m.mu.RLock()
	expiresAt, exists := m.tokens[jti]
	m.mu.RUnlock()

	if !exists {
		return false, nil
	}

	if m.now().After(expiresAt) {
		m.mu.Lock()
		delete(m.tokens, jti)
		m.mu.Unlock()
		return false, nil
	}

	return true, nil
}

func (m *MemoryStore) CleanupExpiredTokens() error {
	now := m.now()

	m.mu.Lock()
	removed := 0
	for jti, expiresAt := range m.tokens {
		if now.After(expiresAt) {
			delete(m.tokens, jti)
			removed++
		}
	}
	m.mu.Unlock()

	if m.db != nil {
		if err := m.db.Where("expires_at <= ?", now).Delete(&RevokedToken{}).Error; err != nil {
			return fmt.Errorf("failed to delete expired revoked tokens: %w", err)
		}
	}

	if removed > 0 {
		m.logger.Debug("removed expired revoked tokens from memory", zap.Int("count", removed))
	}
	return nil
}

// LoadFromDatabase restores unexpired entries written by earlier processes.
func (m *MemoryStore) LoadFromDatabase() error {
	if m.db == nil {
		return nil
	}

	var records []RevokedToken
	if err := m.db.Where("expires_at > ?", m.now()).Find(&records).Error; err != nil {
		return fmt.Errorf("failed to load revoked tokens: %w", err)
	}

	m.mu.Lock()
	for _, r := range records {
		m.tokens[r.JTI] = r.ExpiresAt
	}
	m.mu.Unlock()

	m.logger.Info("loaded revoked access tokens", zap.Int("count", len(records)))
	return nil
}

const redisKeyPrefix = "revoked:jti:"

type RedisStore struct {
	client  *redis.Client
	timeout time.Duration
	now     func() time.Time
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:  client,
		timeout: 2 * time.Second,
		now:     time.Now,
	}
}

func (r *RedisStore) RevokeToken(jti string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.client.Set(ctx, redisKeyPrefix+jti, 1, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write revoked token: %w", err)
	}
	return nil
}

func (r *RedisStore) IsRevoked(jti string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	err := r.client.Get(ctx, redisKeyPrefix+jti).Err()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, redis.Nil):
		return false, nil
	default:
		return false, fmt.Errorf("failed to read revoked token: %w", err)
	}
}

// CleanupExpiredTokens is a no-op; redis expires keys itself.
func (r *RedisStore) CleanupExpiredTokens() error {
	return nil
}
