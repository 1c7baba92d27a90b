package securityalert

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tech-arch1tect/questlog/config"
	"github.com/tech-arch1tect/questlog/testutils"
)

type recordingNotifier struct {
	name string
	err  error

	mu     sync.Mutex
	events []Event
}

func (r *recordingNotifier) Name() string { return r.name }

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingNotifier) received() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

type mockChannel struct {
	mock.Mock
}

func (m *mockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	args := m.Called(ctx, exchange, key, mandatory, immediate, msg)
	return args.Error(0)
}

func (m *mockChannel) Close() error {
	return m.Called().Error(0)
}

func testEvent() Event {
	return Event{
		UserID:          7,
		Username:        "alice",
		Email:           "alice@questlog.local",
		FamilyID:        "fam-1",
		IPAddress:       "203.0.113.9",
		Device:          "Firefox 128 on Linux (desktop)",
		RevokedSessions: 2,
		OccurredAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestDispatcher_TokenReuse(t *testing.T) {
	cfg := testutils.GetTestConfig()

	t.Run("fans out to every notifier", func(t *testing.T) {
		first := &recordingNotifier{name: "first"}
		second := &recordingNotifier{name: "second", err: errors.New("down")}
		d := NewDispatcher(cfg.Alerts, nil, first, second)

		d.TokenReuse(context.Background(), testEvent())
		d.Wait()

		require.Len(t, first.received(), 1)
		require.Len(t, second.received(), 1)
		assert.Equal(t, EventTokenReuse, first.received()[0].Type)
	})

	t.Run("detached from caller cancellation", func(t *testing.T) {
		n := &recordingNotifier{name: "n"}
		d := NewDispatcher(cfg.Alerts, nil, n)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		d.TokenReuse(ctx, testEvent())
		d.Wait()

		assert.Len(t, n.received(), 1)
	})

	t.Run("throttled beyond burst", func(t *testing.T) {
		n := &recordingNotifier{name: "n"}
		d := NewDispatcher(config.AlertsConfig{Interval: time.Hour, Burst: 2, Timeout: time.Second}, nil, n)

		for range 5 {
			d.TokenReuse(context.Background(), testEvent())
		}
		d.Wait()

		assert.Len(t, n.received(), 2)
	})

	t.Run("nil and empty dispatchers are no-ops", func(t *testing.T) {
		var d *Dispatcher
		d.TokenReuse(context.Background(), testEvent())
		d.Wait()

		NewDispatcher(cfg.Alerts, nil).TokenReuse(context.Background(), testEvent())
	})
}

func TestDispatcher_DeliverJoinsNotifierErrors(t *testing.T) {
	failing := &recordingNotifier{name: "broken", err: errors.New("down")}
	ok := &recordingNotifier{name: "ok"}
	d := NewDispatcher(config.AlertsConfig{Interval: time.Hour, Burst: 1, Timeout: time.Second}, nil, ok, failing)

	err := d.deliver(context.Background(), testEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken: down")
	assert.Len(t, ok.received(), 1)
	assert.Len(t, failing.received(), 1)
}

func TestMailNotifier(t *testing.T) {
	sender := &testutils.MockMailSender{}
	sender.On("SendPlain", []string{"alice@questlog.local"}, "[questlog] Your sessions were signed out", mock.MatchedBy(func(body string) bool {
		return assert.Contains(t, body, "Hi alice") &&
			assert.Contains(t, body, "signed out 2 session(s)") &&
			assert.Contains(t, body, "203.0.113.9")
	})).Return(nil)

	n := NewMailNotifier(sender, "questlog")
	require.NoError(t, n.Notify(context.Background(), testEvent()))
	sender.AssertExpectations(t)

	event := testEvent()
	event.Email = ""
	assert.ErrorIs(t, n.Notify(context.Background(), event), ErrNoRecipient)
}

func TestAMQPPublisher(t *testing.T) {
	ch := &mockChannel{}
	event := testEvent()
	event.Type = EventTokenReuse

	ch.On("PublishWithContext", mock.Anything, "questlog.security", "security.token_reuse", false, false,
		mock.MatchedBy(func(msg amqp.Publishing) bool {
			var decoded map[string]any
			if err := json.Unmarshal(msg.Body, &decoded); err != nil {
				return false
			}
			_, hasEmail := decoded["Email"]
			return msg.ContentType == "application/json" &&
				msg.DeliveryMode == amqp.Persistent &&
				decoded["family_id"] == "fam-1" &&
				!hasEmail
		})).Return(nil).Once()
	ch.On("Close").Return(nil)

	p := NewAMQPPublisher(ch, "questlog.security")
	require.NoError(t, p.Notify(context.Background(), event))
	require.NoError(t, p.Close())
	ch.AssertExpectations(t)
}

func TestAMQPPublisher_PublishError(t *testing.T) {
	ch := &mockChannel{}
	ch.On("PublishWithContext", mock.Anything, mock.Anything, mock.Anything, false, false, mock.Anything).
		Return(amqp.ErrClosed)

	p := NewAMQPPublisher(ch, "questlog.security")
	assert.ErrorIs(t, p.Notify(context.Background(), testEvent()), amqp.ErrClosed)
}
