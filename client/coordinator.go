// Package client is the consumer side of the token lifecycle: an HTTP client
// that attaches the access token and transparently refreshes it once when the
// API answers 401.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"

	"github.com/tech-arch1tect/questlog/services/logging"
	"go.uber.org/zap"
)

// ErrRefreshExhausted is returned to every request waiting on a refresh that
// failed. The session is over and the user has to log in again.
var ErrRefreshExhausted = errors.New("session refresh failed")

type State int

const (
	Idle State = iota
	Refreshing
)

func (s State) String() string {
	if s == Refreshing {
		return "refreshing"
	}
	return "idle"
}

// Refresher obtains a new access token, typically by presenting the refresh
// cookie to the API.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

type Config struct {
	// Base sends the actual requests. Defaults to http.DefaultTransport.
	Base      http.RoundTripper
	Tokens    TokenStore
	Refresher Refresher

	// RefreshTimeout bounds a refresh independently of the callers waiting
	// on it. Defaults to 30s.
	RefreshTimeout time.Duration

	// OnSessionExpired runs once per failed refresh, before the waiting
	// requests are rejected.
	OnSessionExpired func(err error)

	Logger *logging.Service
}

type outcome struct {
	token string
	err   error
}

type waiter struct {
	done    chan outcome
	ack     chan struct{}
	ackOnce sync.Once
}

func (w *waiter) release() {
	w.ackOnce.Do(func() { close(w.ack) })
}

// Coordinator is an http.RoundTripper that allows a single refresh in flight.
// Requests failing with 401 while a refresh is pending queue behind it and are
// replayed in arrival order once it succeeds.
type Coordinator struct {
	base           http.RoundTripper
	tokens         TokenStore
	refresher      Refresher
	refreshTimeout time.Duration
	onExpired      func(error)
	logger         *logging.Service

	mu    sync.Mutex
	state State
	queue []*waiter
	// epoch counts finished refreshes; failed holds the error of the last
	// one when it failed.
	epoch  uint64
	failed error
}

func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Base == nil {
		cfg.Base = http.DefaultTransport
	}
	if cfg.Tokens == nil {
		cfg.Tokens = NewMemoryTokenStore()
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 30 * time.Second
	}

	return &Coordinator{
		base:           cfg.Base,
		tokens:         cfg.Tokens,
		refresher:      cfg.Refresher,
		refreshTimeout: cfg.RefreshTimeout,
		onExpired:      cfg.OnSessionExpired,
		logger:         cfg.Logger,
	}
}

type skipRefreshKey struct{}

// WithoutRefresh marks requests whose 401 is an answer in itself, such as a
// login with bad credentials or a request that is already a replay.
func WithoutRefresh(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipRefreshKey{}, true)
}

func skipsRefresh(ctx context.Context) bool {
	skip, _ := ctx.Value(skipRefreshKey{}).(bool)
	return skip
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending is the number of requests waiting for the current refresh.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *Coordinator) RoundTrip(req *http.Request) (*http.Response, error) {
	req, err := rewindable(req)
	if err != nil {
		return nil, err
	}

	sent, epoch := c.snapshot()
	resp, err := c.send(req, sent)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || skipsRefresh(req.Context()) || c.refresher == nil {
		return resp, err
	}
	discard(resp)

	// a newer token arrived while this request was in flight
	if current := c.tokens.Token(); current != "" && current != sent {
		return c.send(req.WithContext(WithoutRefresh(req.Context())), current)
	}

	w, current, err := c.enqueue(req.Context(), sent, epoch)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return c.send(req.WithContext(WithoutRefresh(req.Context())), current)
	}

	select {
	case res := <-w.done:
		return c.replay(req, w, res)
	case <-req.Context().Done():
		if c.remove(w) {
			return nil, req.Context().Err()
		}
		// already released by the drain; it waits for this acknowledgement
		<-w.done
		w.release()
		return nil, req.Context().Err()
	}
}

func (c *Coordinator) replay(req *http.Request, w *waiter, res outcome) (*http.Response, error) {
	if res.err != nil {
		w.release()
		return nil, res.err
	}

	ctx := httptrace.WithClientTrace(WithoutRefresh(req.Context()), &httptrace.ClientTrace{
		WroteRequest: func(httptrace.WroteRequestInfo) { w.release() },
	})
	defer w.release()

	return c.send(req.WithContext(ctx), res.token)
}

func (c *Coordinator) snapshot() (string, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens.Token(), c.epoch
}

// enqueue appends a waiter and starts the refresh when none is running. The
// token check is repeated under the lock: when a refresh finished after the
// request was sent, no waiter is queued and the caller either retries with
// the returned token or gets the refresh failure.
func (c *Coordinator) enqueue(ctx context.Context, sent string, epoch uint64) (*waiter, string, error) {
	c.mu.Lock()
	if current := c.tokens.Token(); current != "" && current != sent {
		c.mu.Unlock()
		return nil, current, nil
	}
	if c.epoch != epoch && c.failed != nil {
		err := c.failed
		c.mu.Unlock()
		return nil, "", err
	}

	w := &waiter{
		done: make(chan outcome, 1),
		ack:  make(chan struct{}),
	}
	c.queue = append(c.queue, w)
	start := c.state == Idle
	if start {
		c.state = Refreshing
	}
	c.mu.Unlock()

	if start {
		go c.refresh(context.WithoutCancel(ctx))
	}
	return w, "", nil
}

func (c *Coordinator) remove(w *waiter) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, queued := range c.queue {
		if queued == w {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Coordinator) refresh(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, c.refreshTimeout)
	token, err := c.refresher.Refresh(ctx)
	cancel()

	if err != nil {
		c.fail(err)
		return
	}
	if token == "" {
		c.fail(errors.New("refresh returned an empty token"))
		return
	}

	c.mu.Lock()
	c.tokens.SetToken(token)
	c.epoch++
	c.failed = nil
	pending := len(c.queue)
	c.mu.Unlock()

	c.logger.Debug("access token refreshed", zap.Int("pending", pending))
	c.drain(token)
}

// drain releases waiters strictly in arrival order. Each replay is on the
// wire before the next waiter is released.
func (c *Coordinator) drain(token string) {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.state = Idle
			c.mu.Unlock()
			return
		}
		w := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		w.done <- outcome{token: token}
		<-w.ack
	}
}

func (c *Coordinator) fail(cause error) {
	err := fmt.Errorf("%w: %w", ErrRefreshExhausted, cause)

	c.mu.Lock()
	c.tokens.Clear()
	c.epoch++
	c.failed = err
	queue := c.queue
	c.queue = nil
	c.state = Idle
	c.mu.Unlock()

	c.logger.Warn("session refresh failed", zap.Error(cause), zap.Int("rejected", len(queue)))

	if c.onExpired != nil {
		c.onExpired(err)
	}

	for _, w := range queue {
		w.done <- outcome{err: err}
	}
}

func (c *Coordinator) send(req *http.Request, token string) (*http.Response, error) {
	attempt := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		attempt.Body = body
	}
	if token != "" {
		attempt.Header.Set("Authorization", "Bearer "+token)
	}
	return c.base.RoundTrip(attempt)
}

// rewindable makes sure the body can be sent twice.
func rewindable(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}
	if req.GetBody != nil {
		_ = req.Body.Close()
		return req, nil
	}

	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to buffer request body: %w", err)
	}

	clone := req.Clone(req.Context())
	clone.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	clone.Body = http.NoBody
	return clone, nil
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
