// Package auth serves the login, refresh and logout endpoints together with
// the session management routes built on top of them.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tech-arch1tect/questlog/config"
	jwtmw "github.com/tech-arch1tect/questlog/middleware/jwt"
	"github.com/tech-arch1tect/questlog/services/jwt"
	"github.com/tech-arch1tect/questlog/services/logging"
	"github.com/tech-arch1tect/questlog/services/refreshtoken"
	"github.com/tech-arch1tect/questlog/services/tokenhash"
	"github.com/tech-arch1tect/questlog/services/user"
	"go.uber.org/zap"
)

type LoginRequest struct {
	Identifier string `json:"identifier" doc:"Username or email address" example:"alice"`
	Password   string `json:"password"`
}

type LoginResponse struct {
	Token    string `json:"token" doc:"Access token for the Authorization header"`
	UserID   uint   `json:"userId"`
	Username string `json:"username"`
}

type RefreshResponse struct {
	Token string `json:"token" doc:"Freshly issued access token"`
}

type RegisterRequest struct {
	Username    string `json:"username" example:"alice"`
	Email       string `json:"email" example:"alice@example.org"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName,omitempty"`
}

type RegisterResponse struct {
	UserID   uint   `json:"userId"`
	Username string `json:"username"`
}

type SessionResponse struct {
	ID        uint      `json:"id"`
	Device    string    `json:"device" example:"Firefox 128 on Linux (desktop)"`
	IPAddress string    `json:"ipAddress"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Current   bool      `json:"current" doc:"Set on the session that owns the presented refresh cookie"`
}

type SessionsResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

type MeResponse struct {
	UserID   uint   `json:"userId"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type Handler struct {
	config *config.Config
	users  *user.Service
	tokens *refreshtoken.Service
	jwt    *jwt.Service
	logger *logging.Service
}

func NewHandler(cfg *config.Config, users *user.Service, tokens *refreshtoken.Service, jwtSvc *jwt.Service, logger *logging.Service) *Handler {
	return &Handler{
		config: cfg,
		users:  users,
		tokens: tokens,
		jwt:    jwtSvc,
		logger: logger,
	}
}

func sessionInfo(c echo.Context) refreshtoken.SessionInfo {
	return refreshtoken.SessionInfo{
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	}
}

func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if strings.TrimSpace(req.Identifier) == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Identifier and password are required")
	}

	ctx := c.Request().Context()

	u, err := h.users.Authenticate(ctx, req.Identifier, req.Password)
	if err != nil {
		if errors.Is(err, user.ErrInvalidCredentials) {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid credentials")
		}
		h.logger.Error("login failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Login failed")
	}

	accessToken, err := h.jwt.GenerateToken(user.SubjectOf(u))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Login failed")
	}

	issued, err := h.tokens.Issue(ctx, u.ID, sessionInfo(c))
	if err != nil {
		h.logger.Error("failed to issue refresh token", zap.Error(err), zap.Uint("user_id", u.ID))
		return echo.NewHTTPError(http.StatusInternalServerError, "Login failed")
	}

	h.setRefreshCookie(c, issued.Token, issued.ExpiresAt)

	return c.JSON(http.StatusOK, LoginResponse{
		Token:    accessToken,
		UserID:   u.ID,
		Username: u.Username,
	})
}

// RefreshToken exchanges the refresh cookie for a new access token and a
// rotated cookie. Every rejection clears the cookie.
func (h *Handler) RefreshToken(c echo.Context) error {
	raw := h.refreshCookie(c)
	if raw == "" {
		h.clearRefreshCookie(c)
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid refresh token")
	}

	result, err := h.tokens.Rotate(c.Request().Context(), raw, sessionInfo(c))
	if err != nil {
		if errors.Is(err, refreshtoken.ErrInvalidToken) {
			h.clearRefreshCookie(c)
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid refresh token")
		}
		h.logger.Error("refresh failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Refresh failed")
	}

	h.setRefreshCookie(c, result.RefreshToken, result.ExpiresAt)

	return c.JSON(http.StatusOK, RefreshResponse{Token: result.AccessToken})
}

// Logout is idempotent: a missing or already revoked cookie still succeeds.
func (h *Handler) Logout(c echo.Context) error {
	if raw := h.refreshCookie(c); raw != "" {
		if err := h.tokens.Revoke(c.Request().Context(), raw, c.RealIP()); err != nil {
			h.logger.Error("logout failed", zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "Logout failed")
		}
	}

	h.revokeBearer(c)
	h.clearRefreshCookie(c)

	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) LogoutAll(c echo.Context) error {
	userID := jwtmw.GetUserID(c)

	revoked, err := h.tokens.RevokeAllForUser(c.Request().Context(), userID, c.RealIP())
	if err != nil {
		h.logger.Error("logout of all sessions failed", zap.Error(err), zap.Uint("user_id", userID))
		return echo.NewHTTPError(http.StatusInternalServerError, "Logout failed")
	}

	h.revokeBearer(c)
	h.clearRefreshCookie(c)

	h.logger.Info("all sessions revoked", zap.Uint("user_id", userID), zap.Int64("sessions", revoked))
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) revokeBearer(c echo.Context) {
	token, ok := jwtmw.BearerToken(c.Request())
	if !ok {
		return
	}
	if err := h.jwt.RevokeToken(token); err != nil {
		h.logger.Warn("access token was not denylisted", zap.Error(err))
	}
}

func (h *Handler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	if err := h.users.ValidatePassword(req.Password); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	u, err := h.users.Register(c.Request().Context(), user.RegisterInput{
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		switch {
		case errors.Is(err, user.ErrInvalidUsername), errors.Is(err, user.ErrInvalidEmail):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, user.ErrUsernameTaken), errors.Is(err, user.ErrEmailTaken):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, "Registration failed")
		}
	}

	return c.JSON(http.StatusCreated, RegisterResponse{UserID: u.ID, Username: u.Username})
}

func (h *Handler) Sessions(c echo.Context) error {
	tokens, err := h.tokens.ListActive(c.Request().Context(), jwtmw.GetUserID(c))
	if err != nil {
		h.logger.Error("failed to list sessions", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to list sessions")
	}

	var currentHash string
	if raw := h.refreshCookie(c); raw != "" {
		currentHash = tokenhash.Hash(raw)
	}

	resp := SessionsResponse{Sessions: make([]SessionResponse, 0, len(tokens))}
	for _, t := range tokens {
		resp.Sessions = append(resp.Sessions, SessionResponse{
			ID:        t.ID,
			Device:    t.DeviceInfo,
			IPAddress: t.CreatedByIP,
			CreatedAt: t.CreatedAt,
			ExpiresAt: t.ExpiresAt,
			Current:   currentHash != "" && tokenhash.Equal(currentHash, t.TokenHash),
		})
	}

	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Me(c echo.Context) error {
	claims := jwtmw.GetClaims(c)
	if claims == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid JWT token")
	}
	return c.JSON(http.StatusOK, MeResponse{
		UserID:   claims.UserID,
		Username: claims.Username,
		Email:    claims.Email,
	})
}
