package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/devricklin/feishu-messenger/internal/biz/domain"
)

// Meta describes one exported event
type Meta struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	OccurredAt    time.Time `json:"occurred_at"`
	CorrelationID string    `json:"correlation_id"`
}

// Envelope is the JSON body of every published message
type Envelope struct {
	Meta Meta                       `json:"meta"`
	Data *domain.MessageActionEvent `json:"data"`
}

// ErrNacked is returned when the broker refuses a published message
var ErrNacked = errors.New("broker nacked message")

// confirmation is the part of *amqp.DeferredConfirmation the publisher uses
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// channel is a channel in confirm mode
type channel interface {
	PublishConfirmed(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error)
	Close() error
}

// confirmChannel adapts *amqp.Channel after Confirm has been called on it
type confirmChannel struct {
	*amqp.Channel
}

func (c confirmChannel) PublishConfirmed(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error) {
	dc, err := c.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
	if err != nil {
		return nil, err
	}
	if dc == nil {
		return nil, errors.New("channel is not in confirm mode")
	}
	return dc, nil
}

// Publisher exports message events to a topic exchange
type Publisher struct {
	conn     *amqp.Connection
	exchange string
	log      zerolog.Logger
	open     func() (channel, error)
	now      func() time.Time
}

// NewPublisher connects to url and declares a durable topic exchange
func NewPublisher(url, exchange string, log zerolog.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	p := &Publisher{
		conn:     conn,
		exchange: exchange,
		log:      log.With().Str("component", "rabbitmq").Logger(),
		now:      time.Now,
	}
	p.open = func() (channel, error) {
		ch, err := p.conn.Channel()
		if err != nil {
			return nil, err
		}
		if err := ch.Confirm(false); err != nil {
			ch.Close()
			return nil, err
		}
		return confirmChannel{ch}, nil
	}
	return p, nil
}

// Publish sends ev under routingKey wrapped in an Envelope and waits for the
// broker to confirm it. A nack is returned as ErrNacked.
func (p *Publisher) Publish(ctx context.Context, routingKey string, ev *domain.MessageActionEvent) error {
	env := p.envelope(routingKey, ev)
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ch, err := p.open()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	confirm, err := ch.PublishConfirmed(ctx, p.exchange, routingKey, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: env.Meta.CorrelationID,
		Timestamp:     env.Meta.OccurredAt,
		Type:          env.Meta.Type,
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", routingKey, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to confirm %s: %w", routingKey, err)
	}
	if !acked {
		return fmt.Errorf("failed to publish %s: %w", routingKey, ErrNacked)
	}

	p.log.Debug().Str("key", routingKey).Str("exchange", p.exchange).Str("id", env.Meta.ID).Msg("published")
	return nil
}

// envelope builds the message body. Events about the same stored message share
// a correlation id so consumers can group a message's lifecycle.
func (p *Publisher) envelope(routingKey string, ev *domain.MessageActionEvent) Envelope {
	cid := uuid.NewString()
	if ev != nil && ev.Message != nil && ev.Message.ID != 0 {
		cid = uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("message:%d", ev.Message.ID))).String()
	}

	return Envelope{
		Meta: Meta{
			ID:            uuid.NewString(),
			Type:          eventType(routingKey),
			OccurredAt:    p.now().UTC(),
			CorrelationID: cid,
		},
		Data: ev,
	}
}

// eventType turns "message.received" into "MessageReceived"
func eventType(routingKey string) string {
	var b strings.Builder
	for _, part := range strings.Split(routingKey, ".") {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}

// Close closes the broker connection
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
