package auth

import (
	"github.com/labstack/echo/v4"
	"github.com/tech-arch1tect/questlog/config"
	"github.com/tech-arch1tect/questlog/middleware/ratelimit"
	"github.com/tech-arch1tect/questlog/openapi"
	"github.com/tech-arch1tect/questlog/server"
	"github.com/tech-arch1tect/questlog/services/jwt"
	"github.com/tech-arch1tect/questlog/services/logging"
	"github.com/tech-arch1tect/questlog/services/refreshtoken"
	"github.com/tech-arch1tect/questlog/services/user"
	"go.uber.org/fx"
)

func ProvideHandler(cfg *config.Config, users *user.Service, tokens *refreshtoken.Service, jwtSvc *jwt.Service, logger *logging.Service) *Handler {
	return NewHandler(cfg, users, tokens, jwtSvc, logger.Named("auth"))
}

// ProvideDocument creates the API document with the security schemes the
// auth routes refer to.
func ProvideDocument(cfg *config.Config) *openapi.OpenAPI {
	return NewDocument(cfg)
}

func NewDocument(cfg *config.Config) *openapi.OpenAPI {
	return openapi.New(cfg.App.Name, cfg.App.Version).
		Description("Account, session and token lifecycle API.").
		Server(cfg.App.URL, "").
		Tag("auth", "Login, refresh and logout").
		Tag("sessions", "Refresh token sessions of the current user").
		BearerAuth(BearerScheme, "Access token returned by login or refresh").
		CookieAuth(CookieScheme, cfg.RefreshToken.CookieName, "HttpOnly refresh token cookie")
}

// BuildDocument describes every auth route without any backing services, for
// exporting the document offline.
func BuildDocument(cfg *config.Config) *openapi.OpenAPI {
	doc := NewDocument(cfg)
	NewHandler(cfg, nil, nil, nil, nil).RegisterRoutes(echo.New(), nil, doc)
	return doc
}

type RouteParams struct {
	fx.In
	Server  *server.Server
	Handler *Handler
	Doc     *openapi.OpenAPI
	Limiter *ratelimit.Limiter `optional:"true"`
}

func RegisterRoutesFx(p RouteParams) {
	e := p.Server.Echo()
	p.Handler.RegisterRoutes(e, p.Limiter, p.Doc)
	e.GET("/openapi.json", p.Doc.JSONHandler())
	e.GET("/openapi.yaml", p.Doc.YAMLHandler())
}

var Module = fx.Options(
	fx.Provide(ProvideHandler),
	fx.Provide(ProvideDocument),
	fx.Invoke(RegisterRoutesFx),
)
