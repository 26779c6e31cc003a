package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/devricklin/feishu-messenger/internal/biz/domain"
	"github.com/devricklin/feishu-messenger/internal/infra/feishu"
)

// InputProcessor turns received Feishu messages into reconciled domain events
type InputProcessor struct {
	buffer     *Buffer[*QueuedMessage]
	converter  ItemConverter
	reconciler *Reconciler
	events     Observers[*domain.MessageActionEvent]
	log        zerolog.Logger
	wg         sync.WaitGroup
}

// NewInputProcessor creates an input processor. Each enqueue starts a drain goroutine.
func NewInputProcessor(reconciler *Reconciler, log zerolog.Logger) *InputProcessor {
	p := &InputProcessor{
		buffer:     NewBuffer[*QueuedMessage](),
		reconciler: reconciler,
		log:        log.With().Str("component", "input").Logger(),
	}
	p.buffer.OnEnqueue(func(*QueuedMessage) {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.drain(context.Background())
		}()
	})
	return p
}

// Subscribe registers a handler for Received and Edited events
func (p *InputProcessor) Subscribe(fn func(*domain.MessageActionEvent)) (unsubscribe func()) {
	return p.events.Subscribe(fn)
}

// Wait blocks until every running drain has finished
func (p *InputProcessor) Wait() {
	p.wg.Wait()
}

// EnqueueMessage queues msg for processing and returns a provisional,
// not yet reconciled event built from the native message alone
func (p *InputProcessor) EnqueueMessage(msg *feishu.Message) (*domain.MessageActionEvent, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", domain.ErrInvalidArgument)
	}
	if msg.Chat == nil {
		return nil, fmt.Errorf("%w: message %s has no chat", domain.ErrInvalidArgument, msg.MessageID)
	}

	item := NewQueuedMessage(msg)
	ev, err := p.converter.BuildEvent(item, actionOf(item))
	if err != nil {
		return nil, err
	}

	p.buffer.Enqueue(item)
	return ev, nil
}

func actionOf(item *QueuedMessage) domain.MessageAction {
	if item.IsEdited() {
		return domain.MessageActionEdited
	}
	return domain.MessageActionReceived
}

func (p *InputProcessor) drain(ctx context.Context) {
	for {
		item, ok := p.buffer.TryDequeue()
		if !ok {
			return
		}
		p.processSafely(ctx, item)
	}
}

// processSafely isolates one item: errors and panics are logged, never propagated
func (p *InputProcessor) processSafely(ctx context.Context, item *QueuedMessage) {
	defer func() {
		if r := recover(); r != nil {
			logItemFailure(p.log, item, fmt.Errorf("panic: %v", r))
		}
	}()

	if err := p.process(ctx, item); err != nil {
		logItemFailure(p.log, item, err)
	}
}

func (p *InputProcessor) process(ctx context.Context, item *QueuedMessage) error {
	item.IsSucceed = true

	if item.IsEdited() {
		ev, err := p.converter.BuildEvent(item, domain.MessageActionEdited)
		if err != nil {
			return err
		}
		found, err := p.reconciler.ReconcileMessage(ctx, ev.Message)
		if err != nil {
			return err
		}
		if !found {
			p.log.Warn().
				Str("message_id", item.MessageID).
				Str("chat_id", item.Chat.ChatID).
				Msg("edited message is not tracked, dropping")
			return nil
		}
		p.events.Emit(ev)
		return nil
	}

	ev, err := p.converter.BuildEvent(item, domain.MessageActionReceived)
	if err != nil {
		return err
	}
	if err := p.reconciler.ReconcileEvent(ctx, ev); err != nil {
		return err
	}

	p.log.Info().
		Str("message_id", item.MessageID).
		Str("chat_id", item.Chat.ChatID).
		Str("type", string(ev.Message.MessageTypeID)).
		Msg("message received")
	p.events.Emit(ev)
	return nil
}

// logItemFailure logs err with the item serialized, falling back to the
// serialization error when the item cannot be encoded
func logItemFailure(log zerolog.Logger, item *QueuedMessage, err error) {
	raw, mErr := json.Marshal(item)
	if mErr != nil {
		log.Error().Err(err).Str("item_error", mErr.Error()).Msg("failed to process message")
		return
	}
	log.Error().Err(err).RawJSON("item", raw).Msg("failed to process message")
}
