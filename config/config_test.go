package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validSecret = "a1b2c3d4e5f6g7h8i9j0k1l2m3n4o5p6q7r8s9t0u1v2w3x4y5z6"

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnvVars(t)

	os.Setenv("JWT_SECRET_KEY", validSecret)

	var cfg Config
	err := LoadConfig(&cfg)

	require.NoError(t, err)

	assert.Equal(t, "questlog", cfg.App.Name)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.Equal(t, 10, cfg.Auth.BcryptCost)
	assert.Equal(t, 7*24*time.Hour, cfg.JWT.AccessExpiry)
	assert.Equal(t, "HS256", cfg.JWT.Algorithm)
	assert.Equal(t, 32, cfg.RefreshToken.TokenLength)
	assert.Equal(t, 30*24*time.Hour, cfg.RefreshToken.Expiry)
	assert.Equal(t, ReuseRevokeFamily, cfg.RefreshToken.ReusePolicy)
	assert.Equal(t, "refreshToken", cfg.RefreshToken.CookieName)
	assert.Equal(t, "/Auth", cfg.RefreshToken.CookiePath)
	assert.True(t, cfg.RefreshToken.CookieSecure)
	assert.Zero(t, cfg.RefreshToken.Retention)
	assert.Equal(t, CountAll, cfg.RateLimit.CountMode)
	assert.False(t, cfg.Mail.Enabled)
	assert.False(t, cfg.Events.Enabled)
	assert.False(t, cfg.NeedsRedis())
}

func TestLoadConfig_EnvironmentVariables(t *testing.T) {
	clearEnvVars(t)

	os.Setenv("SERVER_PORT", "9000")
	os.Setenv("SERVER_TRUSTED_PROXIES", "192.168.1.1,10.0.0.1")
	os.Setenv("DATABASE_DRIVER", "postgres")
	os.Setenv("JWT_SECRET_KEY", validSecret)
	os.Setenv("JWT_ACCESS_EXPIRY", "30m")
	os.Setenv("REFRESH_TOKEN_REUSE_POLICY", "fail_closed")
	os.Setenv("RATE_LIMIT_STORE", "redis")

	var cfg Config
	err := LoadConfig(&cfg)

	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, []string{"192.168.1.1", "10.0.0.1"}, cfg.Server.TrustedProxies)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 30*time.Minute, cfg.JWT.AccessExpiry)
	assert.Equal(t, ReuseFailClosed, cfg.RefreshToken.ReusePolicy)
	assert.True(t, cfg.NeedsRedis())
}

func TestValidateJWTConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     JWTConfig
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid JWT config",
			cfg:  JWTConfig{SecretKey: validSecret, Algorithm: "HS256"},
		},
		{
			name:    "secret key too short",
			cfg:     JWTConfig{SecretKey: "short", Algorithm: "HS256"},
			wantErr: true,
			errMsg:  "JWT secret key must be at least 32 characters long",
		},
		{
			name:    "weak secret key - contains password",
			cfg:     JWTConfig{SecretKey: "this-is-a-password-based-signing-key-which-is-weak", Algorithm: "HS256"},
			wantErr: true,
			errMsg:  "JWT secret key contains weak patterns",
		},
		{
			name:    "weak secret key - contains change",
			cfg:     JWTConfig{SecretKey: "please-change-this-signing-key-in-production", Algorithm: "HS256"},
			wantErr: true,
			errMsg:  "JWT secret key contains weak patterns",
		},
		{
			name:    "unsupported algorithm",
			cfg:     JWTConfig{SecretKey: validSecret, Algorithm: "RS256"},
			wantErr: true,
			errMsg:  "JWT algorithm must be HS256",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateJWTConfig(&tt.cfg)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateRefreshTokenConfig(t *testing.T) {
	valid := func() RefreshTokenConfig {
		return RefreshTokenConfig{
			TokenLength:    32,
			ReusePolicy:    ReuseRevokeFamily,
			CookieSameSite: "strict",
			CookieSecure:   true,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*RefreshTokenConfig)
		wantErr bool
		errMsg  string
	}{
		{name: "valid refresh token config", mutate: func(*RefreshTokenConfig) {}},
		{name: "minimum token length", mutate: func(c *RefreshTokenConfig) { c.TokenLength = 16 }},
		{name: "maximum token length", mutate: func(c *RefreshTokenConfig) { c.TokenLength = 128 }},
		{name: "fail closed policy", mutate: func(c *RefreshTokenConfig) { c.ReusePolicy = ReuseFailClosed }},
		{
			name:    "token length too short",
			mutate:  func(c *RefreshTokenConfig) { c.TokenLength = 8 },
			wantErr: true,
			errMsg:  "refresh token length must be at least 16 bytes",
		},
		{
			name:    "token length too long",
			mutate:  func(c *RefreshTokenConfig) { c.TokenLength = 200 },
			wantErr: true,
			errMsg:  "refresh token length cannot exceed 128 bytes",
		},
		{
			name:    "invalid reuse policy",
			mutate:  func(c *RefreshTokenConfig) { c.ReusePolicy = "ignore" },
			wantErr: true,
			errMsg:  "refresh token reuse policy must be",
		},
		{
			name:    "invalid same site",
			mutate:  func(c *RefreshTokenConfig) { c.CookieSameSite = "sometimes" },
			wantErr: true,
			errMsg:  "same-site must be",
		},
		{
			name: "same site none requires secure",
			mutate: func(c *RefreshTokenConfig) {
				c.CookieSameSite = "none"
				c.CookieSecure = false
			},
			wantErr: true,
			errMsg:  "must be secure",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := validateRefreshTokenConfig(&cfg)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoadConfig_ValidationIntegration(t *testing.T) {
	t.Run("invalid JWT secret fails validation", func(t *testing.T) {
		clearEnvVars(t)
		os.Setenv("JWT_SECRET_KEY", "short")

		var cfg Config
		err := LoadConfig(&cfg)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "JWT secret key must be at least 32 characters long")
	})

	t.Run("invalid refresh token config fails validation", func(t *testing.T) {
		clearEnvVars(t)
		os.Setenv("JWT_SECRET_KEY", validSecret)
		os.Setenv("REFRESH_TOKEN_TOKEN_LENGTH", "8")

		var cfg Config
		err := LoadConfig(&cfg)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "refresh token length must be at least 16 bytes")
	})

	t.Run("invalid count mode fails validation", func(t *testing.T) {
		clearEnvVars(t)
		os.Setenv("JWT_SECRET_KEY", validSecret)
		os.Setenv("RATE_LIMIT_COUNT_MODE", "sometimes")

		var cfg Config
		err := LoadConfig(&cfg)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "rate limit count mode")
	})
}

func TestLoadConfig_NonConfigStruct(t *testing.T) {
	type CustomConfig struct {
		Name string `env:"NAME" envDefault:"default"`
	}

	var cfg CustomConfig
	err := LoadConfig(&cfg)

	require.NoError(t, err)
	assert.Equal(t, "default", cfg.Name)
}

func TestCountingMode_Constants(t *testing.T) {
	assert.Equal(t, CountingMode("all"), CountAll)
	assert.Equal(t, CountingMode("failures"), CountFailures)
	assert.Equal(t, CountingMode("success"), CountSuccess)
}

func clearEnvVars(t *testing.T) {
	t.Helper()

	envVars := []string{
		"SERVER_PORT", "SERVER_TRUSTED_PROXIES",
		"DATABASE_DRIVER",
		"JWT_SECRET_KEY", "JWT_ACCESS_EXPIRY",
		"REFRESH_TOKEN_TOKEN_LENGTH", "REFRESH_TOKEN_REUSE_POLICY",
		"RATE_LIMIT_STORE", "RATE_LIMIT_COUNT_MODE",
	}

	for _, envVar := range envVars {
		os.Unsetenv(envVar)
	}

	t.Cleanup(func() {
		for _, envVar := range envVars {
			os.Unsetenv(envVar)
		}
	})
}

func TestLoadDefaults_SkipsValidation(t *testing.T) {
	clearEnvVars(t)

	cfg, err := LoadDefaults()
	require.NoError(t, err)
	assert.Empty(t, cfg.JWT.SecretKey)
	assert.Equal(t, "questlog", cfg.App.Name)

	var full Config
	assert.Error(t, LoadConfig(&full))
}
