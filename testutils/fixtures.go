package testutils

import (
	"time"

	"github.com/tech-arch1tect/questlog/config"
	"golang.org/x/crypto/bcrypt"
)

func GetTestConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{
			Name: "Test App",
			URL:  "http://localhost:8080",
		},
		Server: config.ServerConfig{
			Host:            "127.0.0.1",
			Port:            "0",
			ShutdownTimeout: time.Second,
		},
		Log: config.LogConfig{
			Level:  "error",
			Format: "json",
			Output: "stdout",
		},
		Database: config.DatabaseConfig{
			Driver:      "sqlite",
			DSN:         ":memory:",
			AutoMigrate: true,
		},
		Auth: config.AuthConfig{
			MinLength:     8,
			RequireUpper:  true,
			RequireLower:  true,
			RequireNumber: true,
			BcryptCost:    bcrypt.MinCost,
		},
		JWT: config.JWTConfig{
			SecretKey:    "k8Jq2vN4xR7mP1wZ5tY9uB3cF6hL0dS2aG4eK7nQ",
			Algorithm:    "HS256",
			AccessExpiry: 15 * time.Minute,
			Issuer:       "questlog-test",
		},
		RefreshToken: config.RefreshTokenConfig{
			TokenLength:    32,
			Expiry:         24 * time.Hour,
			ReusePolicy:    config.ReuseRevokeFamily,
			CookieName:     "refreshToken",
			CookiePath:     "/Auth",
			CookieSecure:   false,
			CookieSameSite: "strict",
		},
		Revocation: config.RevocationConfig{
			Enabled:       true,
			Store:         "memory",
			CleanupPeriod: time.Hour,
		},
		RateLimit: config.RateLimitConfig{
			Enabled:   false,
			Store:     "memory",
			Rate:      10,
			Period:    time.Minute,
			CountMode: config.CountAll,
			Prefix:    "rl",
		},
		Alerts: config.AlertsConfig{
			Interval: time.Millisecond,
			Burst:    100,
			Timeout:  time.Second,
		},
	}
}

var TestPasswords = struct {
	Valid       string
	TooShort    string
	NoUpper     string
	NoLower     string
	NoNumber    string
	WithSpecial string
}{
	Valid:       "Password123",
	TooShort:    "Pass1",
	NoUpper:     "password123",
	NoLower:     "PASSWORD123",
	NoNumber:    "Password",
	WithSpecial: "Password123!",
}

type TestUser struct {
	Username string
	Email    string
	Password string
}

var TestUsers = struct {
	Alice TestUser
	Bob   TestUser
}{
	Alice: TestUser{Username: "alice", Email: "alice@questlog.local", Password: "Correct123"},
	Bob:   TestUser{Username: "bob", Email: "bob@questlog.local", Password: "Hunter2Hunter2"},
}
