package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/devricklin/feishu-messenger/internal/biz/domain"
	"github.com/devricklin/feishu-messenger/internal/biz/repo"
	"github.com/devricklin/feishu-messenger/internal/infra/feishu"
	"github.com/devricklin/feishu-messenger/internal/pipeline"
)

const (
	stormThreshold = 20
	stormWindow    = 600 * time.Second
	seenTTL        = 5 * time.Minute
)

// Transport is the Feishu connection the messenger runs on
type Transport interface {
	pipeline.Sender
	Start(ctx context.Context, onUpdate feishu.UpdateHandler, onError feishu.ErrorHandler) error
	OnMakingRequest(fn func(feishu.RequestEvent))
	OnResponseReceived(fn func(feishu.RequestEvent))
}

// MessageSaver persists message events
type MessageSaver interface {
	SaveNewMessageData(ctx context.Context, ev *domain.MessageActionEvent) error
	EditSavedMessage(ctx context.Context, ev *domain.MessageActionEvent) error
}

// Options holds the optional collaborators of a Messenger
type Options struct {
	Saver    MessageSaver
	Commands repo.CommandDispatcher
	BotName  string
}

// Messenger connects the Feishu transport to the input and output processors
// and fans their events out to subscribers
type Messenger struct {
	transport Transport
	input     *pipeline.InputProcessor
	output    *pipeline.OutputProcessor
	saver     MessageSaver
	commands  repo.CommandDispatcher
	converter pipeline.ItemConverter
	log       zerolog.Logger

	botNameMu sync.RWMutex
	botName   string

	timeoutStorm *StormDetector
	requestStorm *StormDetector

	received pipeline.Observers[*domain.MessageActionEvent]
	edited   pipeline.Observers[*domain.MessageActionEvent]
	sent     pipeline.Observers[*domain.MessageActionEvent]
	deleted  pipeline.Observers[*domain.MessageActionEvent]

	// Feishu redelivers events it did not see acknowledged in time
	seenMu sync.Mutex
	seen   map[string]time.Time
}

// NewMessenger creates a new messenger
func NewMessenger(transport Transport, input *pipeline.InputProcessor, output *pipeline.OutputProcessor, log zerolog.Logger, opts Options) *Messenger {
	m := &Messenger{
		transport:    transport,
		input:        input,
		output:       output,
		saver:        opts.Saver,
		commands:     opts.Commands,
		botName:      opts.BotName,
		log:          log.With().Str("component", "messenger").Logger(),
		timeoutStorm: NewStormDetector(stormThreshold, stormWindow),
		requestStorm: NewStormDetector(stormThreshold, stormWindow),
		seen:         make(map[string]time.Time),
	}

	input.Subscribe(m.onInputEvent)
	output.Subscribe(m.onOutputEvent)
	if m.commands != nil {
		m.commands.OnCommandCompleted(m.onCommandCompleted)
	}

	transport.OnMakingRequest(func(ev feishu.RequestEvent) {
		m.log.Trace().Str("op", ev.Op).Msg("making request")
	})
	transport.OnResponseReceived(func(ev feishu.RequestEvent) {
		if ev.Err != nil {
			m.handleError(context.Background(), ev.Err)
			return
		}
		m.log.Trace().Str("op", ev.Op).Dur("took", ev.Duration).Msg("response received")
	})

	return m
}

// Start learns the bot name and receives updates until ctx is done
func (m *Messenger) Start(ctx context.Context) error {
	if m.BotName() == "" {
		if bot, err := m.output.GetBotInfo(ctx); err != nil {
			m.log.Warn().Err(err).Msg("failed to learn bot name, commands addressed by name are ignored")
		} else {
			m.setBotName(bot.Name)
		}
	}

	m.log.Info().Str("bot", m.BotName()).Msg("messenger started")
	return m.transport.Start(ctx, m.handleUpdate, m.handleError)
}

// Wait blocks until both processors are idle
func (m *Messenger) Wait() {
	m.input.Wait()
	m.output.Wait()
}

// BotName returns the cached bot name
func (m *Messenger) BotName() string {
	m.botNameMu.RLock()
	defer m.botNameMu.RUnlock()
	return m.botName
}

func (m *Messenger) setBotName(name string) {
	m.botNameMu.Lock()
	defer m.botNameMu.Unlock()
	m.botName = name
}

// OnMessageReceived subscribes to received messages
func (m *Messenger) OnMessageReceived(fn func(*domain.MessageActionEvent)) (unsubscribe func()) {
	return m.received.Subscribe(fn)
}

// OnMessageEdited subscribes to edits of tracked messages
func (m *Messenger) OnMessageEdited(fn func(*domain.MessageActionEvent)) (unsubscribe func()) {
	return m.edited.Subscribe(fn)
}

// OnMessageSent subscribes to delivered and permanently failed outbound messages
func (m *Messenger) OnMessageSent(fn func(*domain.MessageActionEvent)) (unsubscribe func()) {
	return m.sent.Subscribe(fn)
}

// OnMessageDeleted subscribes to deleted messages
func (m *Messenger) OnMessageDeleted(fn func(*domain.MessageActionEvent)) (unsubscribe func()) {
	return m.deleted.Subscribe(fn)
}

// handleUpdate forwards message updates to the input processor
func (m *Messenger) handleUpdate(ctx context.Context, u feishu.Update) {
	switch u.Kind {
	case feishu.UpdateMessage, feishu.UpdateEditedMessage:
		if u.Message == nil {
			return
		}
		key := u.Message.MessageID
		if u.Message.UpdateTime != nil {
			key += "@" + u.Message.UpdateTime.String()
		}
		if key != "" && m.markSeen(key) {
			m.log.Debug().Str("message_id", u.Message.MessageID).Msg("duplicate update ignored")
			return
		}
		if _, err := m.input.EnqueueMessage(u.Message); err != nil {
			m.log.Error().Err(err).Str("message_id", u.Message.MessageID).Msg("failed to enqueue update")
		}
	default:
		m.log.Debug().Str("kind", u.Kind.String()).Str("type", u.Type).Msg("update ignored")
	}
}

// handleError logs transport errors, folding the two recurring transient
// errors into one line per storm
func (m *Messenger) handleError(ctx context.Context, err error) {
	var detector *StormDetector
	switch {
	case errors.Is(err, feishu.ErrRequestTimeout):
		detector = m.timeoutStorm
	case errors.Is(err, feishu.ErrMakingRequest):
		detector = m.requestStorm
	default:
		m.log.Error().Err(err).Msg("transport error")
		return
	}

	count, storm := detector.Observe(time.Now())
	if storm {
		m.log.Error().Err(err).
			Int("count", count).
			Dur("window", stormWindow).
			Msg("transient error keeps recurring")
		return
	}
	m.log.Debug().Err(err).Int("count", count).Msg("transient transport error")
}

// markSeen reports whether key was already seen and records it
func (m *Messenger) markSeen(key string) bool {
	m.seenMu.Lock()
	defer m.seenMu.Unlock()

	now := time.Now()
	cutoff := now.Add(-seenTTL)
	for k, ts := range m.seen {
		if ts.Before(cutoff) {
			delete(m.seen, k)
		}
	}

	if _, ok := m.seen[key]; ok {
		return true
	}
	m.seen[key] = now
	return false
}

func (m *Messenger) onInputEvent(ev *domain.MessageActionEvent) {
	ctx := context.Background()

	switch ev.Action {
	case domain.MessageActionReceived:
		if m.saver != nil {
			if err := m.saver.SaveNewMessageData(ctx, ev); err != nil {
				m.log.Error().Err(err).Msg("failed to save received message")
			}
		}
		m.received.Emit(ev)
		if !ev.Handled {
			m.dispatchCommand(ctx, ev)
		}
	case domain.MessageActionEdited:
		if m.saver != nil {
			if err := m.saver.EditSavedMessage(ctx, ev); err != nil {
				m.log.Error().Err(err).Int64("message_id", ev.Message.ID).Msg("failed to save edited message")
			}
		}
		m.edited.Emit(ev)
	}
}

// dispatchCommand hands a command addressed to this bot to the command
// dispatcher and answers unknown commands
func (m *Messenger) dispatchCommand(ctx context.Context, ev *domain.MessageActionEvent) {
	if m.commands == nil || !domain.IsCommand(ev.Message.Text, m.BotName()) {
		return
	}

	ok, err := m.commands.TryEnqueueCommand(ctx, ev.Message)
	if err != nil {
		m.log.Error().Err(err).Str("text", ev.Message.Text).Msg("failed to dispatch command")
		return
	}
	if ok {
		return
	}

	chat, err := m.converter.ToNativeChat(ev.Chat)
	if err != nil {
		m.log.Error().Err(err).Msg("cannot answer unknown command")
		return
	}
	var replyTo *feishu.Message
	if native, err := m.converter.ToNativeMessage(ev.Message); err == nil {
		replyTo = native
	}

	text := fmt.Sprintf("Unknown command '%s'", commandName(ev.Message.Text))
	if err := m.output.EnqueueMessage(chat, text, replyTo); err != nil {
		m.log.Error().Err(err).Msg("failed to answer unknown command")
	}
}

func commandName(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	name, _, _ := strings.Cut(fields[0], "@")
	return name
}

func (m *Messenger) onOutputEvent(ev *domain.MessageActionEvent) {
	ctx := context.Background()

	if m.saver != nil {
		if err := m.saver.SaveNewMessageData(ctx, ev); err != nil {
			m.log.Error().Err(err).Str("action", string(ev.Action)).Msg("failed to save outbound message")
		}
	}

	switch ev.Action {
	case domain.MessageActionSending:
		m.sent.Emit(ev)
	case domain.MessageActionDeleted:
		m.deleted.Emit(ev)
	}
}

func (m *Messenger) onCommandCompleted(result domain.CommandResult) {
	if err := m.output.EnqueueMessageToChat(context.Background(), result.ChatIDForAnswer, result.Text); err != nil {
		m.log.Error().Err(err).Int64("chat_id", result.ChatIDForAnswer).Msg("failed to queue command result")
	}
}

// recoverFacade turns a panic into a logged false result
func (m *Messenger) recoverFacade(op string, ok *bool) {
	if r := recover(); r != nil {
		m.log.Error().Str("op", op).Interface("panic", r).Msg("unexpected failure")
		*ok = false
	}
}

// AddMessageToOutbox queues text for the stored chat chatID
func (m *Messenger) AddMessageToOutbox(ctx context.Context, chatID int64, text string) (ok bool) {
	defer m.recoverFacade("add message to outbox", &ok)

	if err := m.output.EnqueueMessageToChat(ctx, chatID, text); err != nil {
		m.log.Error().Err(err).Int64("chat_id", chatID).Msg("failed to add message to outbox")
		return false
	}
	return true
}

// AddMessageToChatOutbox queues text for chat, as a reply to replyTo when it is not nil
func (m *Messenger) AddMessageToChatOutbox(ctx context.Context, chat *domain.Chat, text string, replyTo *domain.Message) (ok bool) {
	defer m.recoverFacade("add message to chat outbox", &ok)

	native, err := m.converter.ToNativeChat(chat)
	if err != nil {
		m.log.Error().Err(err).Msg("failed to add message to outbox")
		return false
	}
	var nativeReply *feishu.Message
	if replyTo != nil {
		if nativeReply, err = m.converter.ToNativeMessage(replyTo); err != nil {
			m.log.Error().Err(err).Int64("reply_to", replyTo.ID).Msg("failed to add message to outbox")
			return false
		}
	}

	if err := m.output.EnqueueMessage(native, text, nativeReply); err != nil {
		m.log.Error().Err(err).Int64("chat_id", chat.ID).Msg("failed to add message to outbox")
		return false
	}
	return true
}

// AddMessageToOutboxByRoles queues text for the private chats of users with any of roles
func (m *Messenger) AddMessageToOutboxByRoles(ctx context.Context, text string, roles ...domain.Role) (ok bool) {
	defer m.recoverFacade("add message to outbox by roles", &ok)

	if _, err := m.output.Broadcast(ctx, text, roles...); err != nil {
		m.log.Error().Err(err).Interface("roles", roles).Msg("failed to add broadcast to outbox")
		return false
	}
	return true
}

// DeleteMessage deletes msg on Feishu
func (m *Messenger) DeleteMessage(ctx context.Context, msg *domain.Message) (ok bool) {
	defer m.recoverFacade("delete message", &ok)

	if err := m.output.DeleteMessage(ctx, msg); err != nil {
		ev := m.log.Error().Err(err)
		if msg != nil {
			ev = ev.Int64("message_id", msg.ID)
		}
		ev.Msg("failed to delete message")
		return false
	}
	return true
}

// GetBotInfo returns the bot user serialized as JSON
func (m *Messenger) GetBotInfo(ctx context.Context) (info string, ok bool) {
	defer m.recoverFacade("get bot info", &ok)

	bot, err := m.output.GetBotInfo(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("failed to get bot info")
		return "", false
	}
	if m.BotName() == "" {
		m.setBotName(bot.Name)
	}

	data, err := json.Marshal(bot)
	if err != nil {
		m.log.Error().Err(err).Msg("failed to serialize bot info")
		return "", false
	}
	return string(data), true
}
