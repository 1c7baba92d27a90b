package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/tech-arch1tect/questlog/services/logging"
	"go.uber.org/zap"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRefreshRejected    = errors.New("refresh token rejected")
)

// HTTPRefresher presents the refresh cookie held by its jar to the refresh
// endpoint. It bypasses the coordinator so a rejected refresh never queues
// behind itself.
type HTTPRefresher struct {
	client *http.Client
	url    string
}

func NewHTTPRefresher(baseURL string, jar http.CookieJar, transport http.RoundTripper) *HTTPRefresher {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &HTTPRefresher{
		client: &http.Client{Jar: jar, Transport: transport},
		url:    strings.TrimRight(baseURL, "/") + "/Auth/refresh-token",
	}
}

func (r *HTTPRefresher) Refresh(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build refresh request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to refresh session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("%w: status %d", ErrRefreshRejected, resp.StatusCode)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode refresh response: %w", err)
	}
	return body.Token, nil
}

type Options struct {
	BaseURL string

	// Transport carries every request, refreshes included.
	Transport        http.RoundTripper
	Tokens           TokenStore
	RefreshTimeout   time.Duration
	OnSessionExpired func(err error)
	Logger           *logging.Service
}

// Client talks to the API with the access token attached and the refresh
// cookie kept in its jar.
type Client struct {
	baseURL     string
	http        *http.Client
	tokens      TokenStore
	coordinator *Coordinator
	logger      *logging.Service
}

type LoginResult struct {
	Token    string `json:"token"`
	UserID   uint   `json:"userId"`
	Username string `json:"username"`
}

func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	tokens := opts.Tokens
	if tokens == nil {
		tokens = NewMemoryTokenStore()
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	logger := opts.Logger.Named("client")

	coordinator := NewCoordinator(Config{
		Base:             opts.Transport,
		Tokens:           tokens,
		Refresher:        NewHTTPRefresher(baseURL, jar, opts.Transport),
		RefreshTimeout:   opts.RefreshTimeout,
		OnSessionExpired: opts.OnSessionExpired,
		Logger:           logger,
	})

	return &Client{
		baseURL:     baseURL,
		http:        &http.Client{Jar: jar, Transport: coordinator},
		tokens:      tokens,
		coordinator: coordinator,
		logger:      logger,
	}, nil
}

// HTTPClient returns the underlying client for calls to arbitrary endpoints.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

func (c *Client) Coordinator() *Coordinator {
	return c.coordinator
}

func (c *Client) Token() string {
	return c.tokens.Token()
}

func (c *Client) URL(path string) string {
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.http.Do(req)
}

func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(path), nil)
	if err != nil {
		return nil, err
	}
	return c.http.Do(req)
}

func (c *Client) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	payload, err := json.Marshal(map[string]string{
		"identifier": identifier,
		"password":   password,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(WithoutRefresh(ctx), http.MethodPost, c.URL("/Auth/login"), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to log in: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, ErrInvalidCredentials
	default:
		return nil, fmt.Errorf("failed to log in: unexpected status %d", resp.StatusCode)
	}

	var result LoginResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode login response: %w", err)
	}

	c.tokens.SetToken(result.Token)
	c.logger.Info("logged in", zap.Uint("user_id", result.UserID))
	return &result, nil
}

// Logout revokes the session server side and forgets the access token even
// when the server cannot be reached.
func (c *Client) Logout(ctx context.Context) error {
	defer c.tokens.Clear()

	req, err := http.NewRequestWithContext(WithoutRefresh(ctx), http.MethodPost, c.URL("/Auth/logout"), nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to log out: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("failed to log out: unexpected status %d", resp.StatusCode)
	}
	return nil
}
