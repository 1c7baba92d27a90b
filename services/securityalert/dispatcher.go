package securityalert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tech-arch1tect/questlog/config"
	"github.com/tech-arch1tect/questlog/services/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const EventTokenReuse = "token_reuse"

var ErrThrottled = errors.New("security alert throttled")

type Event struct {
	Type            string    `json:"type"`
	UserID          uint      `json:"user_id"`
	Username        string    `json:"username"`
	Email           string    `json:"-"`
	FamilyID        string    `json:"family_id"`
	IPAddress       string    `json:"ip_address"`
	Device          string    `json:"device"`
	RevokedSessions int64     `json:"revoked_sessions"`
	OccurredAt      time.Time `json:"occurred_at"`
}

type Notifier interface {
	Name() string
	Notify(ctx context.Context, event Event) error
}

// Dispatcher fans security events out to every notifier. Delivery runs in the
// background and failures are only logged.
type Dispatcher struct {
	notifiers []Notifier
	limiter   *rate.Limiter
	timeout   time.Duration
	logger    *logging.Service
	wg        sync.WaitGroup
}

func NewDispatcher(cfg config.AlertsConfig, logger *logging.Service, notifiers ...Notifier) *Dispatcher {
	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Dispatcher{
		notifiers: notifiers,
		limiter:   rate.NewLimiter(limit, burst),
		timeout:   timeout,
		logger:    logger,
	}
}

// TokenReuse queues a reuse alert and returns immediately.
func (d *Dispatcher) TokenReuse(ctx context.Context, event Event) {
	if d == nil || len(d.notifiers) == 0 {
		return
	}
	event.Type = EventTokenReuse
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	if !d.limiter.Allow() {
		d.logger.Warn("security alert dropped",
			zap.String("type", event.Type),
			zap.Uint("user_id", event.UserID),
			zap.Error(ErrThrottled))
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		if err := d.deliver(sendCtx, event); err != nil {
			d.logger.Error("security alert delivery failed",
				zap.String("type", event.Type),
				zap.Uint("user_id", event.UserID),
				zap.Error(err))
		}
	}()
}

// deliver sends event to every notifier and waits for all of them.
func (d *Dispatcher) deliver(ctx context.Context, event Event) error {
	g, gctx := errgroup.WithContext(ctx)

	errs := make([]error, len(d.notifiers))
	for i, n := range d.notifiers {
		g.Go(func() error {
			if err := n.Notify(gctx, event); err != nil {
				errs[i] = fmt.Errorf("%s: %w", n.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// Wait blocks until background deliveries finish.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
