package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tech-arch1tect/questlog/config"
	"github.com/tech-arch1tect/questlog/services/logging"
	"go.uber.org/zap"
)

type Config struct {
	Store          Store
	Rate           int
	Period         time.Duration
	CountMode      config.CountingMode
	Prefix         string
	KeyGenerator   func(c echo.Context) string
	OnLimitReached func(c echo.Context) error
	Logger         *logging.Service
}

func Middleware(cfg *Config) echo.MiddlewareFunc {
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Rate <= 0 {
		cfg.Rate = 10
	}
	if cfg.Period <= 0 {
		cfg.Period = time.Minute
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "rl"
	}
	if cfg.KeyGenerator == nil {
		cfg.KeyGenerator = DefaultKeyGenerator
	}
	if cfg.OnLimitReached == nil {
		cfg.OnLimitReached = DefaultOnLimitReached
	}
	if cfg.CountMode == "" {
		cfg.CountMode = config.CountAll
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			key := cfg.Prefix + ":" + cfg.KeyGenerator(c)
			header := c.Response().Header()
			header.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Rate))

			// every request counts: the increment itself decides
			if cfg.CountMode == config.CountAll {
				count, resetTime, err := cfg.Store.Increment(ctx, key, time.Now().Add(cfg.Period))
				if err != nil {
					// fail open
					cfg.Logger.Error("rate limit store unavailable", zap.Error(err), zap.String("key", key))
					return next(c)
				}
				header.Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))
				if count > cfg.Rate {
					return limitReached(c, cfg, key, resetTime)
				}
				header.Set("X-RateLimit-Remaining", strconv.Itoa(cfg.Rate-count))
				return next(c)
			}

			// the outcome decides whether a request counts, so only the
			// requests already counted can be checked up front
			count, resetTime, exists, err := cfg.Store.Get(ctx, key)
			if err != nil {
				cfg.Logger.Error("rate limit store unavailable", zap.Error(err), zap.String("key", key))
				return next(c)
			}
			if !exists {
				resetTime = time.Now().Add(cfg.Period)
			}
			header.Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))
			if count >= cfg.Rate {
				return limitReached(c, cfg, key, resetTime)
			}
			header.Set("X-RateLimit-Remaining", strconv.Itoa(max(cfg.Rate-count-1, 0)))

			handlerErr := next(c)

			if shouldCount(cfg.CountMode, responseStatus(c, handlerErr)) {
				if _, _, err := cfg.Store.Increment(ctx, key, resetTime); err != nil {
					cfg.Logger.Error("failed to count request", zap.Error(err), zap.String("key", key))
				}
			}

			return handlerErr
		}
	}
}

func limitReached(c echo.Context, cfg *Config, key string, resetTime time.Time) error {
	header := c.Response().Header()
	header.Set("X-RateLimit-Remaining", "0")
	header.Set("Retry-After", strconv.Itoa(retryAfter(resetTime)))
	cfg.Logger.Warn("rate limit exceeded",
		zap.String("key", key),
		zap.Int("limit", cfg.Rate))
	return cfg.OnLimitReached(c)
}

func shouldCount(mode config.CountingMode, status int) bool {
	switch mode {
	case config.CountFailures:
		return status >= http.StatusBadRequest
	case config.CountSuccess:
		return status < http.StatusBadRequest
	default:
		return true
	}
}

// responseStatus resolves the final status, including errors the echo error
// handler has not written yet.
func responseStatus(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	if he, ok := err.(*echo.HTTPError); ok {
		return he.Code
	}
	if c.Response().Committed {
		return c.Response().Status
	}
	return http.StatusInternalServerError
}

func retryAfter(reset time.Time) int {
	secs := int(time.Until(reset).Round(time.Second).Seconds())
	if secs < 1 {
		return 1
	}
	return secs
}

// DefaultKeyGenerator scopes counters to the route and client address.
func DefaultKeyGenerator(c echo.Context) string {
	realIP := c.RealIP()
	if realIP == "" || realIP == "unknown" {
		realIP = "fallback"
	}

	route := c.Path()
	if route == "" {
		route = c.Request().URL.Path
	}
	return route + ":" + realIP
}

func DefaultOnLimitReached(c echo.Context) error {
	return echo.NewHTTPError(http.StatusTooManyRequests, "Too Many Requests")
}
