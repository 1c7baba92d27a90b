package logging

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// AccessLogConfig controls RequestLogger.
type AccessLogConfig struct {
	// UserIDKey is the echo context key holding the authenticated user id.
	UserIDKey string
	SkipPaths []string
}

// RequestLogger writes one access log line per request. Rejected credentials
// are routine for a token API and are logged at info level.
func RequestLogger(logger *Service, cfg AccessLogConfig) echo.MiddlewareFunc {
	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, path := range cfg.SkipPaths {
		skip[path] = struct{}{}
	}

	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogRoutePath: true,
		LogError:     true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogUserAgent: true,
		LogRequestID: true,
		Skipper: func(c echo.Context) bool {
			_, ok := skip[c.Request().URL.Path]
			return ok
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("route", v.RoutePath),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("remote_ip", v.RemoteIP),
				zap.String("user_agent", v.UserAgent),
			}
			if v.RequestID != "" {
				fields = append(fields, zap.String("request_id", v.RequestID))
			}
			if cfg.UserIDKey != "" {
				if userID, ok := c.Get(cfg.UserIDKey).(uint); ok {
					fields = append(fields, zap.Uint("user_id", userID))
				}
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}

			switch {
			case v.Status >= http.StatusInternalServerError:
				logger.Error("request failed", fields...)
			case v.Status == http.StatusUnauthorized, v.Status == http.StatusForbidden:
				logger.Info("request rejected", fields...)
			case v.Status >= http.StatusBadRequest:
				logger.Warn("client error", fields...)
			default:
				logger.Info("request", fields...)
			}
			return nil
		},
	})
}
