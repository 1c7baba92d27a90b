package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
	jwtmw "github.com/tech-arch1tect/questlog/middleware/jwt"
	"github.com/tech-arch1tect/questlog/middleware/ratelimit"
	"github.com/tech-arch1tect/questlog/openapi"
)

const (
	BearerScheme = "bearerAuth"
	CookieScheme = "refreshCookie"
)

type errorResponse struct {
	Message string `json:"message"`
}

// RegisterRoutes mounts the /Auth group on e and documents every route in doc.
// limiter may be nil.
func (h *Handler) RegisterRoutes(e *echo.Echo, limiter *ratelimit.Limiter, doc *openapi.OpenAPI) {
	limited := limiter.Middleware()
	requireJWT := jwtmw.RequireJWT(h.jwt)
	cookieName := h.config.RefreshToken.CookieName

	g := e.Group("/Auth")

	g.POST("/login", h.Login, limited)
	doc.Document(http.MethodPost, "/Auth/login").
		Summary("Log in").
		Description("Verifies credentials, returns an access token and sets the refresh token cookie.").
		OperationID("login").
		Tags("auth").
		NoSecurity().
		Body(LoginRequest{}, "Credentials").
		Response(http.StatusOK, LoginResponse{}, "Logged in").
		ResponseHeader(http.StatusOK, "Set-Cookie", "HttpOnly refresh token cookie").
		Response(http.StatusBadRequest, errorResponse{}, "Malformed request").
		Response(http.StatusUnauthorized, errorResponse{}, "Invalid credentials").
		Response(http.StatusTooManyRequests, errorResponse{}, "Rate limit exceeded").
		Build()

	g.POST("/refresh-token", h.RefreshToken, limited)
	doc.Document(http.MethodPost, "/Auth/refresh-token").
		Summary("Rotate the refresh token").
		Description("Consumes the refresh cookie, sets its successor and returns a new access token. A replayed cookie is rejected.").
		OperationID("refreshToken").
		Tags("auth").
		CookieParam(cookieName, "Refresh token", true).
		Security(CookieScheme).
		Response(http.StatusOK, RefreshResponse{}, "Rotated").
		ResponseHeader(http.StatusOK, "Set-Cookie", "Rotated refresh token cookie").
		Response(http.StatusUnauthorized, errorResponse{}, "Missing, expired or revoked refresh token; the cookie is cleared").
		Response(http.StatusTooManyRequests, errorResponse{}, "Rate limit exceeded").
		Build()

	g.POST("/logout", h.Logout)
	doc.Document(http.MethodPost, "/Auth/logout").
		Summary("Log out").
		Description("Revokes the refresh cookie and denylists the bearer token when one is sent.").
		OperationID("logout").
		Tags("auth").
		CookieParam(cookieName, "Refresh token", false).
		NoSecurity().
		Response(http.StatusNoContent, nil, "Logged out").
		Build()

	g.POST("/register", h.Register, limited)
	doc.Document(http.MethodPost, "/Auth/register").
		Summary("Create an account").
		OperationID("register").
		Tags("auth").
		NoSecurity().
		Body(RegisterRequest{}, "New account").
		Response(http.StatusCreated, RegisterResponse{}, "Created").
		Response(http.StatusBadRequest, errorResponse{}, "Invalid username, email or password").
		Response(http.StatusConflict, errorResponse{}, "Username or email already registered").
		Build()

	g.POST("/logout-all", h.LogoutAll, requireJWT)
	doc.Document(http.MethodPost, "/Auth/logout-all").
		Summary("Log out everywhere").
		Description("Revokes every active refresh token of the caller.").
		OperationID("logoutAll").
		Tags("sessions").
		Security(BearerScheme).
		Response(http.StatusNoContent, nil, "All sessions revoked").
		Response(http.StatusUnauthorized, errorResponse{}, "Missing or invalid access token").
		Build()

	g.GET("/sessions", h.Sessions, requireJWT)
	doc.Document(http.MethodGet, "/Auth/sessions").
		Summary("List active sessions").
		OperationID("listSessions").
		Tags("sessions").
		Security(BearerScheme).
		Response(http.StatusOK, SessionsResponse{}, "Active sessions, newest first").
		Response(http.StatusUnauthorized, errorResponse{}, "Missing or invalid access token").
		Build()

	g.GET("/me", h.Me, requireJWT)
	doc.Document(http.MethodGet, "/Auth/me").
		Summary("Current user").
		OperationID("me").
		Tags("auth").
		Security(BearerScheme).
		Response(http.StatusOK, MeResponse{}, "Identity carried by the access token").
		Response(http.StatusUnauthorized, errorResponse{}, "Missing or invalid access token").
		Build()
}
