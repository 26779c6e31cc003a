package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/devricklin/feishu-messenger/internal/biz/domain"
)

type mockChannel struct {
	exchange string
	key      string
	msg      amqp.Publishing
	err      error
	nack     bool
	waitErr  error
	closed   bool
}

func (c *mockChannel) PublishConfirmed(_ context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error) {
	c.exchange, c.key, c.msg = exchange, key, msg
	if c.err != nil {
		return nil, c.err
	}
	return mockConfirmation{ack: !c.nack, err: c.waitErr}, nil
}

func (c *mockChannel) Close() error {
	c.closed = true
	return nil
}

type mockConfirmation struct {
	ack bool
	err error
}

func (c mockConfirmation) WaitContext(context.Context) (bool, error) {
	return c.ack, c.err
}

func newTestPublisher(ch *mockChannel) *Publisher {
	return &Publisher{
		exchange: "messenger",
		log:      zerolog.Nop(),
		open:     func() (channel, error) { return ch, nil },
		now:      func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
}

func TestPublish(t *testing.T) {
	ch := &mockChannel{}
	p := newTestPublisher(ch)

	ev := &domain.MessageActionEvent{
		Message: &domain.Message{ID: 7, Text: "hello"},
		Chat:    &domain.Chat{ID: 1},
		Action:  domain.MessageActionReceived,
	}
	if err := p.Publish(context.Background(), "message.received", ev); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if ch.exchange != "messenger" || ch.key != "message.received" {
		t.Errorf("Unexpected target %s/%s", ch.exchange, ch.key)
	}
	if ch.msg.DeliveryMode != amqp.Persistent {
		t.Error("Expected persistent delivery")
	}
	if !ch.closed {
		t.Error("Expected channel to be closed")
	}

	var env Envelope
	if err := json.Unmarshal(ch.msg.Body, &env); err != nil {
		t.Fatalf("Invalid body: %v", err)
	}
	if env.Meta.Type != "MessageReceived" {
		t.Errorf("Expected type MessageReceived, got %q", env.Meta.Type)
	}
	if env.Meta.ID == "" || env.Meta.ID != ch.msg.MessageId {
		t.Errorf("Expected meta id to match message id, got %q and %q", env.Meta.ID, ch.msg.MessageId)
	}
	if env.Data == nil || env.Data.Message.Text != "hello" {
		t.Errorf("Unexpected data: %+v", env.Data)
	}
}

func TestPublish_CorrelatesSameMessage(t *testing.T) {
	ch := &mockChannel{}
	p := newTestPublisher(ch)
	msg := &domain.Message{ID: 42}

	_ = p.Publish(context.Background(), "message.received", &domain.MessageActionEvent{Message: msg})
	first := ch.msg.CorrelationId
	_ = p.Publish(context.Background(), "message.deleted", &domain.MessageActionEvent{Message: msg})

	if first == "" || ch.msg.CorrelationId != first {
		t.Errorf("Expected shared correlation id, got %q and %q", first, ch.msg.CorrelationId)
	}
}

func TestPublish_Error(t *testing.T) {
	ch := &mockChannel{err: errors.New("channel closed")}
	p := newTestPublisher(ch)

	if err := p.Publish(context.Background(), "message.sent", &domain.MessageActionEvent{}); err == nil {
		t.Error("Expected publish error")
	}
}

func TestPublish_Confirmation(t *testing.T) {
	tests := []struct {
		name    string
		ch      *mockChannel
		wantErr error
	}{
		{"acked", &mockChannel{}, nil},
		{"nacked", &mockChannel{nack: true}, ErrNacked},
		{"wait cancelled", &mockChannel{waitErr: context.Canceled}, context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPublisher(tt.ch)
			err := p.Publish(context.Background(), "message.sent", &domain.MessageActionEvent{})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
			if !tt.ch.closed {
				t.Error("Expected channel to be closed")
			}
		})
	}
}

func TestEventType(t *testing.T) {
	tests := map[string]string{
		"message.received": "MessageReceived",
		"message.deleted":  "MessageDeleted",
		"single":           "Single",
		"":                 "",
	}
	for key, want := range tests {
		if got := eventType(key); got != want {
			t.Errorf("eventType(%q) = %q, want %q", key, got, want)
		}
	}
}
