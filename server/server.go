package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/tech-arch1tect/questlog/config"
	jwtmw "github.com/tech-arch1tect/questlog/middleware/jwt"
	"github.com/tech-arch1tect/questlog/services/logging"
	"go.uber.org/zap"
)

type Server struct {
	echo   *echo.Echo
	cfg    *config.Config
	logger *logging.Service
}

func New(cfg *config.Config, logger *logging.Service) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	configureTrustedProxies(e, cfg.Server.TrustedProxies, logger)

	e.Use(middleware.Recover())
	e.Use(logging.RequestLogger(logger.Named("http"), logging.AccessLogConfig{
		UserIDKey: jwtmw.UserIDKey,
		SkipPaths: []string{"/openapi.json", "/openapi.yaml"},
	}))

	return &Server{
		echo:   e,
		cfg:    cfg,
		logger: logger,
	}
}

// configureTrustedProxies honours X-Forwarded-For only from the listed
// addresses or ranges. Without any, the peer address is used as is.
func configureTrustedProxies(e *echo.Echo, proxies []string, logger *logging.Service) {
	var options []echo.TrustOption
	for _, proxy := range proxies {
		proxy = strings.TrimSpace(proxy)
		if proxy == "" {
			continue
		}

		ipNet, err := parseProxy(proxy)
		if err != nil {
			logger.Warn("ignoring invalid trusted proxy", zap.String("proxy", proxy), zap.Error(err))
			continue
		}
		options = append(options, echo.TrustIPRange(ipNet))
	}

	if len(options) == 0 {
		e.IPExtractor = echo.ExtractIPDirect()
		return
	}

	options = append(options,
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	)
	e.IPExtractor = echo.ExtractIPFromXFFHeader(options...)
}

func parseProxy(proxy string) (*net.IPNet, error) {
	if strings.Contains(proxy, "/") {
		_, ipNet, err := net.ParseCIDR(proxy)
		return ipNet, err
	}

	ip := net.ParseIP(proxy)
	if ip == nil {
		return nil, fmt.Errorf("not an IP address or CIDR: %s", proxy)
	}
	bits := 128
	if ip.To4() != nil {
		ip = ip.To4()
		bits = 32
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, nil
}

func (s *Server) Address() string {
	return net.JoinHostPort(s.cfg.Server.Host, s.cfg.Server.Port)
}

// Start binds the listener synchronously and serves in the background, so a
// port conflict fails application start.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.Address())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Address(), err)
	}
	s.echo.Listener = ln

	s.logger.Info("starting server", zap.String("addr", ln.Addr().String()))
	s.logRoutes()

	go func() {
		if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server stopped unexpectedly", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.cfg.Server.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
		defer cancel()
	}

	s.logger.Info("shutting down server")
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

// ListenAddr is the bound address once Start has succeeded.
func (s *Server) ListenAddr() net.Addr {
	return s.echo.ListenerAddr()
}

func (s *Server) logRoutes() {
	for _, route := range s.echo.Routes() {
		s.logger.Debug("route registered",
			zap.String("method", route.Method),
			zap.String("path", route.Path),
			zap.String("handler", shortenHandlerName(route.Name)))
	}
}

func shortenHandlerName(name string) string {
	if i := strings.Index(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if len(name) > 80 {
		name = name[:77] + "..."
	}
	return name
}

func (s *Server) Get(path string, handler echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	s.echo.GET(path, handler, m...)
}

func (s *Server) Post(path string, handler echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	s.echo.POST(path, handler, m...)
}

func (s *Server) Put(path string, handler echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	s.echo.PUT(path, handler, m...)
}

func (s *Server) Delete(path string, handler echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	s.echo.DELETE(path, handler, m...)
}

func (s *Server) Patch(path string, handler echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	s.echo.PATCH(path, handler, m...)
}

func (s *Server) Group(prefix string, m ...echo.MiddlewareFunc) *echo.Group {
	return s.echo.Group(prefix, m...)
}

func (s *Server) Echo() *echo.Echo {
	return s.echo
}
