package server

import (
	"context"
	"time"

	"github.com/devricklin/feishu-messenger/internal/biz/domain"
)

// Routing keys of exported message events
const (
	RouteMessageReceived = "message.received"
	RouteMessageEdited   = "message.edited"
	RouteMessageSent     = "message.sent"
	RouteMessageDeleted  = "message.deleted"
)

// EventPublisher exports message events to a broker
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, ev *domain.MessageActionEvent) error
}

// ForwardEvents publishes every public message event. Publish failures are
// logged only. The returned function stops forwarding.
func (m *Messenger) ForwardEvents(pub EventPublisher) (stop func()) {
	forward := func(key string) func(*domain.MessageActionEvent) {
		return func(ev *domain.MessageActionEvent) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := pub.Publish(ctx, key, ev); err != nil {
				m.log.Error().Err(err).Str("routing_key", key).Msg("failed to publish event")
			}
		}
	}

	unsubs := []func(){
		m.OnMessageReceived(forward(RouteMessageReceived)),
		m.OnMessageEdited(forward(RouteMessageEdited)),
		m.OnMessageSent(forward(RouteMessageSent)),
		m.OnMessageDeleted(forward(RouteMessageDeleted)),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}
