package securityalert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrNoRecipient = errors.New("event has no recipient address")

type PlainSender interface {
	SendPlain(to []string, subject, body string) error
}

// MailNotifier emails the account owner.
type MailNotifier struct {
	sender  PlainSender
	appName string
}

func NewMailNotifier(sender PlainSender, appName string) *MailNotifier {
	return &MailNotifier{sender: sender, appName: appName}
}

func (m *MailNotifier) Name() string { return "mail" }

func (m *MailNotifier) Notify(ctx context.Context, event Event) error {
	if event.Email == "" {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	subject := fmt.Sprintf("[%s] Your sessions were signed out", m.appName)

	var body strings.Builder
	fmt.Fprintf(&body, "Hi %s,\n\n", event.Username)
	body.WriteString("A sign-in token for your account was used after it had already been replaced. ")
	body.WriteString("This can mean the token was copied from one of your devices.\n\n")
	if event.RevokedSessions > 0 {
		fmt.Fprintf(&body, "We signed out %d session(s) as a precaution. ", event.RevokedSessions)
	}
	body.WriteString("Please sign in again and change your password if you do not recognise this activity.\n\n")
	fmt.Fprintf(&body, "Time: %s\n", event.OccurredAt.UTC().Format(time.RFC1123))
	if event.IPAddress != "" {
		fmt.Fprintf(&body, "Address: %s\n", event.IPAddress)
	}
	if event.Device != "" {
		fmt.Fprintf(&body, "Device: %s\n", event.Device)
	}

	return m.sender.SendPlain([]string{event.Email}, subject, body.String())
}

// Channel is the subset of *amqp.Channel used for publishing.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes events to a durable topic exchange with routing key
// "security.<type>".
type AMQPPublisher struct {
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   Channel
}

func DialAMQP(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial amqp broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %q: %w", exchange, err)
	}

	return &AMQPPublisher{exchange: exchange, conn: conn, ch: ch}, nil
}

func NewAMQPPublisher(ch Channel, exchange string) *AMQPPublisher {
	return &AMQPPublisher{exchange: exchange, ch: ch}
}

func (p *AMQPPublisher) Name() string { return "amqp" }

func RoutingKey(eventType string) string {
	return "security." + eventType
}

func (p *AMQPPublisher) Notify(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.OccurredAt.UTC(),
		Type:         event.Type,
		Body:         body,
	}

	// amqp channels are not safe for concurrent publishing
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(event.Type), false, false, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}
