package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tech-arch1tect/questlog/handlers/auth"
	"github.com/tech-arch1tect/questlog/services/jwt"
	"github.com/tech-arch1tect/questlog/services/refreshtoken"
	"github.com/tech-arch1tect/questlog/services/user"
	"github.com/tech-arch1tect/questlog/testutils"
	"gorm.io/gorm"
)

func startAPI(t *testing.T) (*httptest.Server, *gorm.DB) {
	t.Helper()

	cfg := testutils.GetTestConfig()
	db := testutils.SetupTestDB(t, append(user.Models(), &refreshtoken.RefreshToken{})...)

	jwtSvc := jwt.NewService(cfg, nil)
	users := user.NewService(cfg, db, nil)
	tokens := refreshtoken.NewService(db, cfg, nil, jwtSvc, users)

	alice := testutils.TestUsers.Alice
	_, err := users.Register(context.Background(), user.RegisterInput{
		Username: alice.Username,
		Email:    alice.Email,
		Password: alice.Password,
	})
	require.NoError(t, err)

	e := echo.New()
	auth.NewHandler(cfg, users, tokens, jwtSvc, nil).RegisterRoutes(e, nil, auth.NewDocument(cfg))

	server := httptest.NewServer(e)
	t.Cleanup(server.Close)
	return server, db
}

func countTokens(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&refreshtoken.RefreshToken{}).Count(&n).Error)
	return n
}

func TestClient_Login(t *testing.T) {
	server, _ := startAPI(t)
	alice := testutils.TestUsers.Alice

	t.Run("bad credentials do not trigger a refresh", func(t *testing.T) {
		c, err := New(Options{BaseURL: server.URL})
		require.NoError(t, err)

		_, err = c.Login(context.Background(), alice.Username, "Wrong1234")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
		assert.Empty(t, c.Token())
		assert.Equal(t, Idle, c.Coordinator().State())
	})

	t.Run("valid credentials", func(t *testing.T) {
		c, err := New(Options{BaseURL: server.URL + "/"})
		require.NoError(t, err)

		result, err := c.Login(context.Background(), alice.Email, alice.Password)
		require.NoError(t, err)
		assert.Equal(t, alice.Username, result.Username)
		assert.Equal(t, result.Token, c.Token())

		resp, err := c.Get(context.Background(), "/Auth/me")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("missing base URL", func(t *testing.T) {
		_, err := New(Options{})
		assert.Error(t, err)
	})
}

func TestClient_TransparentRefresh(t *testing.T) {
	server, db := startAPI(t)
	alice := testutils.TestUsers.Alice

	var expired []error
	c, err := New(Options{
		BaseURL:          server.URL,
		OnSessionExpired: func(err error) { expired = append(expired, err) },
	})
	require.NoError(t, err)

	_, err = c.Login(context.Background(), alice.Username, alice.Password)
	require.NoError(t, err)
	require.Equal(t, int64(1), countTokens(t, db))

	// the access token went bad; five callers notice at once
	c.tokens.SetToken("expired.access.token")

	var wg sync.WaitGroup
	statuses := make([]int, 5)
	for i := range statuses {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := c.Get(context.Background(), "/Auth/me")
			if !assert.NoError(t, err) {
				return
			}
			defer resp.Body.Close()
			_, _ = io.Copy(io.Discard, resp.Body)
			statuses[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	for _, status := range statuses {
		assert.Equal(t, http.StatusOK, status)
	}

	// one rotation for the whole burst
	assert.Equal(t, int64(2), countTokens(t, db))
	assert.NotEqual(t, "expired.access.token", c.Token())
	assert.Empty(t, expired)

	require.NoError(t, c.Logout(context.Background()))
	assert.Empty(t, c.Token())

	_, err = c.Get(context.Background(), "/Auth/me")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRefreshExhausted)
	assert.ErrorIs(t, err, ErrRefreshRejected)
	require.Len(t, expired, 1)
}
