package jwt

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tech-arch1tect/questlog/config"
	"github.com/tech-arch1tect/questlog/services/logging"
	"go.uber.org/zap"
)

var (
	ErrInvalidToken     = errors.New("invalid JWT token")
	ErrExpiredToken     = errors.New("JWT token has expired")
	ErrMalformedToken   = errors.New("malformed JWT token")
	ErrInvalidSignature = errors.New("invalid JWT token signature")
	ErrTokenRevoked     = errors.New("JWT token has been revoked")
)

// Subject is the identity embedded in an access token.
type Subject struct {
	ID       uint
	Username string
	Email    string
}

type Claims struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	jwt.RegisteredClaims
}

func (c *Claims) Subject() Subject {
	return Subject{ID: c.UserID, Username: c.Username, Email: c.Email}
}

type RevocationService interface {
	IsTokenRevoked(jti string) (bool, error)
	RevokeToken(jti string, expiresAt time.Time) error
}

type Service struct {
	config            *config.Config
	logger            *logging.Service
	revocationService RevocationService
	now               func() time.Time
}

func NewService(cfg *config.Config, logger *logging.Service) *Service {
	return &Service{
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

func (s *Service) SetRevocationService(revocationService RevocationService) {
	s.revocationService = revocationService
}

func (s *Service) GetAccessExpirySeconds() int {
	return int(s.config.JWT.AccessExpiry.Seconds())
}

// GenerateToken signs an access token for subject. It performs no I/O.
func (s *Service) GenerateToken(subject Subject) (string, error) {
	now := s.now()
	claims := Claims{
		UserID:   subject.ID,
		Username: subject.Username,
		Email:    subject.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.config.JWT.Issuer,
			Subject:   strconv.FormatUint(uint64(subject.ID), 10),
			Audience:  []string{s.config.JWT.Issuer},
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.JWT.AccessExpiry)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.config.JWT.SecretKey))
	if err != nil {
		s.logger.Error("failed to sign JWT token", zap.Error(err), zap.Uint("user_id", subject.ID))
		return "", fmt.Errorf("failed to generate JWT token: %w", err)
	}

	return tokenString, nil
}

// ParseToken verifies signature and registered claims without consulting
// the revocation service.
func (s *Service) ParseToken(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.config.JWT.Issuer),
		jwt.WithAudience(s.config.JWT.Issuer),
		jwt.WithTimeFunc(s.now),
	)

	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() == "none" {
			return nil, errors.New("'none' algorithm is not allowed")
		}

		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("invalid algorithm family: %v", token.Header["alg"])
		}

		return []byte(s.config.JWT.SecretKey), nil
	})

	if err != nil {
		s.logger.Debug("JWT token validation failed", zap.Error(err))

		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrMalformedToken
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		default:
			return nil, ErrInvalidToken
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.ID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	claims, err := s.ParseToken(tokenString)
	if err != nil {
		return nil, err
	}

	if s.revocationService != nil {
		revoked, err := s.revocationService.IsTokenRevoked(claims.ID)
		if err != nil {
			// fail open: the denylist only shortens token lifetime
			s.logger.Error("failed to check token revocation status", zap.Error(err))
		} else if revoked {
			s.logger.Info("rejected revoked access token", zap.String("jti", claims.ID))
			return nil, ErrTokenRevoked
		}
	}

	return claims, nil
}

// RevokeToken denylists the access token until it would have expired anyway.
func (s *Service) RevokeToken(tokenString string) error {
	if s.revocationService == nil {
		return nil
	}

	claims, err := s.ParseToken(tokenString)
	if err != nil {
		// expired or foreign tokens need no denylist entry
		return nil
	}

	if err := s.revocationService.RevokeToken(claims.ID, claims.ExpiresAt.Time); err != nil {
		s.logger.Error("failed to revoke token", zap.Error(err), zap.String("jti", claims.ID))
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	s.logger.Info("access token revoked", zap.String("jti", claims.ID), zap.Uint("user_id", claims.UserID))
	return nil
}
