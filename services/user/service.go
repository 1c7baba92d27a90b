package user

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode"

	"github.com/tech-arch1tect/questlog/config"
	"github.com/tech-arch1tect/questlog/services/jwt"
	"github.com/tech-arch1tect/questlog/services/logging"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrPasswordHashingFailed = errors.New("failed to hash password")
	ErrUserNotFound          = errors.New("user not found")
	ErrUsernameTaken         = errors.New("username is already taken")
	ErrEmailTaken            = errors.New("email is already registered")
	ErrInvalidUsername       = errors.New("username must be 3-64 characters of letters, digits, '.', '_' or '-'")
	ErrInvalidEmail          = errors.New("email address is invalid")
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{3,64}$`)

type Service struct {
	config *config.Config
	db     *gorm.DB
	logger *logging.Service

	// compared against when the identifier is unknown so both failure paths
	// cost one bcrypt comparison
	dummyHash []byte
}

type RegisterInput struct {
	Username    string
	Email       string
	Password    string
	DisplayName string
}

func NewService(cfg *config.Config, db *gorm.DB, logger *logging.Service) *Service {
	if cfg.Auth.BcryptCost < bcrypt.MinCost || cfg.Auth.BcryptCost > bcrypt.MaxCost {
		cfg.Auth.BcryptCost = bcrypt.DefaultCost
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("questlog-placeholder"), cfg.Auth.BcryptCost)
	if err != nil {
		panic(fmt.Sprintf("failed to prepare placeholder hash: %v", err))
	}

	return &Service{
		config:    cfg,
		db:        db,
		logger:    logger,
		dummyHash: dummy,
	}
}

func (s *Service) ValidatePassword(password string) error {
	if len(password) < s.config.Auth.MinLength {
		return fmt.Errorf("password must be at least %d characters", s.config.Auth.MinLength)
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	var missing []string
	if s.config.Auth.RequireUpper && !hasUpper {
		missing = append(missing, "one uppercase letter")
	}
	if s.config.Auth.RequireLower && !hasLower {
		missing = append(missing, "one lowercase letter")
	}
	if s.config.Auth.RequireNumber && !hasNumber {
		missing = append(missing, "one number")
	}
	if s.config.Auth.RequireSpecial && !hasSpecial {
		missing = append(missing, "one special character")
	}

	if len(missing) > 0 {
		return fmt.Errorf("password must contain at least %s", strings.Join(missing, ", "))
	}
	return nil
}

func (s *Service) HashPassword(password string) (string, error) {
	if err := s.ValidatePassword(password); err != nil {
		return "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.Auth.BcryptCost)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("password hashing failed", zap.Error(err))
		}
		return "", ErrPasswordHashingFailed
	}
	return string(hash), nil
}

// Register creates the user together with an empty profile and wallet.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.ToLower(strings.TrimSpace(in.Email))

	if !usernamePattern.MatchString(username) {
		return nil, ErrInvalidUsername
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, ErrInvalidEmail
	}

	hash, err := s.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	displayName := strings.TrimSpace(in.DisplayName)
	if displayName == "" {
		displayName = username
	}

	u := &User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&User{}).Where("LOWER(username) = ?", strings.ToLower(username)).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrUsernameTaken
		}
		if err := tx.Model(&User{}).Where("email = ?", email).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrEmailTaken
		}

		if err := tx.Create(u).Error; err != nil {
			return err
		}
		u.Profile = &UserProfile{UserID: u.ID, DisplayName: displayName, Level: 1}
		if err := tx.Create(u.Profile).Error; err != nil {
			return err
		}
		u.Wallet = &Wallet{UserID: u.ID}
		return tx.Create(u.Wallet).Error
	})
	if err != nil {
		if errors.Is(err, ErrUsernameTaken) || errors.Is(err, ErrEmailTaken) {
			return nil, err
		}
		if s.logger != nil {
			s.logger.Error("failed to register user", zap.Error(err), zap.String("username", username))
		}
		return nil, fmt.Errorf("failed to register user: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("user registered", zap.Uint("user_id", u.ID), zap.String("username", u.Username))
	}
	return u, nil
}

// Authenticate resolves identifier as a username or email and checks the
// password. Unknown identifiers and wrong passwords are indistinguishable.
func (s *Service) Authenticate(ctx context.Context, identifier, password string) (*User, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var u User
	err := s.db.WithContext(ctx).
		Where("LOWER(username) = ? OR email = ?", identifier, identifier).
		First(&u).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			if s.logger != nil {
				s.logger.Error("credential lookup failed", zap.Error(err))
			}
			return nil, fmt.Errorf("failed to look up user: %w", err)
		}
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		if s.logger != nil {
			s.logger.Info("login rejected", zap.String("reason", "unknown identifier"))
		}
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		if s.logger != nil {
			s.logger.Info("login rejected", zap.String("reason", "password mismatch"), zap.Uint("user_id", u.ID))
		}
		return nil, ErrInvalidCredentials
	}

	return &u, nil
}

func (s *Service) GetByID(ctx context.Context, id uint) (*User, error) {
	var u User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &u, nil
}

// LoadSubject returns the identity embedded in access tokens for id.
func (s *Service) LoadSubject(ctx context.Context, id uint) (jwt.Subject, error) {
	u, err := s.GetByID(ctx, id)
	if err != nil {
		return jwt.Subject{}, err
	}
	return SubjectOf(u), nil
}

func SubjectOf(u *User) jwt.Subject {
	return jwt.Subject{ID: u.ID, Username: u.Username, Email: u.Email}
}
