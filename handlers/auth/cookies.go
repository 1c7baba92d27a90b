package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

func (h *Handler) refreshCookie(c echo.Context) string {
	cookie, err := c.Cookie(h.config.RefreshToken.CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (h *Handler) setRefreshCookie(c echo.Context, token string, expiresAt time.Time) {
	maxAge := int(time.Until(expiresAt).Seconds())
	if maxAge <= 0 {
		maxAge = -1
	}
	c.SetCookie(h.newCookie(token, maxAge, expiresAt))
}

func (h *Handler) clearRefreshCookie(c echo.Context) {
	c.SetCookie(h.newCookie("", -1, time.Unix(0, 0)))
}

func (h *Handler) newCookie(value string, maxAge int, expires time.Time) *http.Cookie {
	cfg := h.config.RefreshToken
	return &http.Cookie{
		Name:     cfg.CookieName,
		Value:    value,
		Path:     cfg.CookiePath,
		Domain:   cfg.CookieDomain,
		MaxAge:   maxAge,
		Expires:  expires,
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: sameSiteMode(cfg.CookieSameSite),
	}
}

func sameSiteMode(mode string) http.SameSite {
	switch strings.ToLower(mode) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}
