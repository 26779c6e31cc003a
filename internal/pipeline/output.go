package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/devricklin/feishu-messenger/internal/biz/domain"
	"github.com/devricklin/feishu-messenger/internal/biz/repo"
	"github.com/devricklin/feishu-messenger/internal/infra/feishu"
)

// MaxTextLength is the longest text sent in one message; longer text is cut
const MaxTextLength = 4096

// Sender is the transport side the output processor delivers through
type Sender interface {
	SendText(ctx context.Context, chatID, text, replyToID string) (*feishu.Message, error)
	DeleteMessage(ctx context.Context, chatID, messageID string) error
	GetMe(ctx context.Context) (*feishu.User, error)
}

// OutputConfig is the delivery retry policy
type OutputConfig struct {
	RetryLimit    int
	RetryBackoff  time.Duration // multiplied by the failure count
	APIErrorPause time.Duration // before retrying a repeated API error
}

// DefaultOutputConfig returns 5 retries with 2s*n backoff and a 3s API error pause
func DefaultOutputConfig() OutputConfig {
	return OutputConfig{
		RetryLimit:    5,
		RetryBackoff:  2 * time.Second,
		APIErrorPause: 3 * time.Second,
	}
}

// SleepFunc blocks the drain goroutine for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration)

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// OutputOption configures an OutputProcessor
type OutputOption func(*OutputProcessor)

// WithSleep replaces the backoff sleep
func WithSleep(fn SleepFunc) OutputOption {
	return func(p *OutputProcessor) { p.sleep = fn }
}

// WithOutputConfig replaces the retry policy
func WithOutputConfig(cfg OutputConfig) OutputOption {
	return func(p *OutputProcessor) { p.cfg = cfg }
}

// OutputProcessor queues outbound messages and delivers them with bounded retries
type OutputProcessor struct {
	buffer     *Buffer[*QueuedMessage]
	converter  ItemConverter
	reconciler *Reconciler
	sender     Sender
	chats      repo.ChatRepo
	users      repo.UserRepo
	cfg        OutputConfig
	sleep      SleepFunc
	events     Observers[*domain.MessageActionEvent]
	log        zerolog.Logger
	wg         sync.WaitGroup
}

// NewOutputProcessor creates an output processor. Each enqueue starts a drain goroutine.
func NewOutputProcessor(sender Sender, chats repo.ChatRepo, users repo.UserRepo, reconciler *Reconciler, log zerolog.Logger, opts ...OutputOption) *OutputProcessor {
	p := &OutputProcessor{
		buffer:     NewBuffer[*QueuedMessage](),
		reconciler: reconciler,
		sender:     sender,
		chats:      chats,
		users:      users,
		cfg:        DefaultOutputConfig(),
		sleep:      sleepContext,
		log:        log.With().Str("component", "output").Logger(),
	}
	for _, opt := range opts {
		opt(p)
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

// Subscribe registers a handler for Sending and Deleted events
func (p *OutputProcessor) Subscribe(fn func(*domain.MessageActionEvent)) (unsubscribe func()) {
	return p.events.Subscribe(fn)
}

// Wait blocks until every running drain, retries included, has finished
func (p *OutputProcessor) Wait() {
	p.wg.Wait()
}

// Pending returns the number of queued, not yet attempted messages
func (p *OutputProcessor) Pending() int {
	return p.buffer.Len()
}

// EnqueueMessage queues text for chat, as a reply when replyTo is set
func (p *OutputProcessor) EnqueueMessage(chat *feishu.Chat, text string, replyTo *feishu.Message) error {
	if chat == nil {
		return fmt.Errorf("%w: nil chat", domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: blank text", domain.ErrInvalidArgument)
	}

	var replyToID string
	if replyTo != nil {
		replyToID = replyTo.MessageID
	}

	p.buffer.Enqueue(NewOutgoingMessage(chat, text, replyToID))
	return nil
}

// EnqueueMessageToChat queues text for the stored chat chatID
func (p *OutputProcessor) EnqueueMessageToChat(ctx context.Context, chatID int64, text string) error {
	chat, err := p.chats.FindByID(ctx, chatID)
	if err != nil {
		return fmt.Errorf("failed to find chat %d: %w", chatID, err)
	}
	if chat == nil {
		return fmt.Errorf("%w: chat %d: %w", domain.ErrInvalidArgument, chatID, domain.ErrNotFound)
	}

	native, err := p.converter.ToNativeChat(chat)
	if err != nil {
		return err
	}
	return p.EnqueueMessage(native, text, nil)
}

// Broadcast queues text for every chat whose native id equals the native id
// of a user holding one of roles. Returns the number of queued messages.
func (p *OutputProcessor) Broadcast(ctx context.Context, text string, roles ...domain.Role) (int, error) {
	if strings.TrimSpace(text) == "" {
		return 0, fmt.Errorf("%w: blank text", domain.ErrInvalidArgument)
	}
	if len(roles) == 0 {
		return 0, fmt.Errorf("%w: no roles", domain.ErrInvalidArgument)
	}

	users, err := p.users.FindByRoleIDs(ctx, roles)
	if err != nil {
		return 0, fmt.Errorf("failed to find users by roles: %w", err)
	}

	userIDs := make(map[string]struct{}, len(users))
	for _, u := range users {
		native, err := p.converter.ToNativeUser(u)
		if err != nil {
			p.log.Warn().Err(err).Int64("user_id", u.ID).Msg("skipping user with unreadable raw data")
			continue
		}
		if native.OpenID != "" {
			userIDs[native.OpenID] = struct{}{}
		}
	}
	if len(userIDs) == 0 {
		return 0, nil
	}

	chats, err := p.chats.FindAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list chats: %w", err)
	}

	queued := 0
	for _, chat := range chats {
		native, err := p.converter.ToNativeChat(chat)
		if err != nil {
			continue
		}
		if _, ok := userIDs[native.ChatID]; !ok {
			continue
		}
		if err := p.EnqueueMessage(native, text, nil); err != nil {
			return queued, err
		}
		queued++
	}

	p.log.Info().Int("chats", queued).Interface("roles", roles).Msg("broadcast queued")
	return queued, nil
}

// DeleteMessage recalls msg on Feishu. A message already gone on Feishu
// counts as deleted. Deleted messages are emitted as Deleted events.
func (p *OutputProcessor) DeleteMessage(ctx context.Context, msg *domain.Message) error {
	if msg == nil {
		return fmt.Errorf("%w: nil message", domain.ErrInvalidArgument)
	}

	chat, err := p.chats.FindByID(ctx, msg.ChatID)
	if err != nil {
		return fmt.Errorf("failed to find chat %d: %w", msg.ChatID, err)
	}
	if chat == nil {
		p.log.Warn().Int64("message_id", msg.ID).Int64("chat_id", msg.ChatID).Msg("cannot delete message of unknown chat")
		return fmt.Errorf("chat %d: %w", msg.ChatID, domain.ErrNotFound)
	}

	nativeChat, err := p.converter.ToNativeChat(chat)
	if err != nil {
		return err
	}
	nativeMsg, err := p.converter.ToNativeMessage(msg)
	if err != nil {
		return err
	}

	err = p.sender.DeleteMessage(ctx, nativeChat.ChatID, nativeMsg.MessageID)
	if err != nil && !errors.Is(err, feishu.ErrMessageNotFound) {
		msg.FailDescription = err.Error()
		return fmt.Errorf("failed to delete message %d: %w", msg.ID, err)
	}

	msg.IsDeleted = true
	ev := &domain.MessageActionEvent{
		Message:  msg,
		Chat:     chat,
		ChatType: chat.ChatTypeID,
		Action:   domain.MessageActionDeleted,
	}
	if msg.UserID != 0 {
		if ev.User, err = p.users.FindByID(ctx, msg.UserID); err != nil {
			p.log.Warn().Err(err).Int64("user_id", msg.UserID).Msg("failed to load message author")
		}
	}

	p.log.Info().Int64("message_id", msg.ID).Str("chat_id", nativeChat.ChatID).Msg("message deleted")
	p.events.Emit(ev)
	return nil
}

// GetBotInfo returns the bot as a reconciled domain user
func (p *OutputProcessor) GetBotInfo(ctx context.Context) (*domain.User, error) {
	me, err := p.sender.GetMe(ctx)
	if err != nil {
		return nil, err
	}
	user, err := p.converter.ToGeneralUser(me)
	if err != nil {
		return nil, err
	}
	if _, err := p.reconciler.ReconcileUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (p *OutputProcessor) drain(ctx context.Context) {
	for {
		item, ok := p.buffer.TryDequeue()
		if !ok {
			return
		}
		p.processSafely(ctx, item)
	}
}

func (p *OutputProcessor) processSafely(ctx context.Context, item *QueuedMessage) {
	defer func() {
		if r := recover(); r != nil {
			logItemFailure(p.log, item, fmt.Errorf("panic: %v", r))
		}
	}()
	p.process(ctx, item)
}

// process makes one delivery attempt. A failed attempt is re-enqueued at the
// tail until the retry limit; a delivered or given-up item emits one event.
func (p *OutputProcessor) process(ctx context.Context, item *QueuedMessage) {
	sent, err := p.send(ctx, item)
	if err == nil {
		item.Apply(sent)
		item.IsSucceed = true
		p.log.Info().
			Str("message_id", item.MessageID).
			Str("chat_id", item.Chat.ChatID).
			Int("fails", item.SendingFails).
			Msg("message sent")
		p.finish(ctx, item)
		return
	}

	var apiErr *feishu.APIError
	if errors.As(err, &apiErr) && item.SendingFails > 0 {
		p.sleep(ctx, p.cfg.APIErrorPause)
	}

	if item.SendingFails < p.cfg.RetryLimit {
		item.SendingFails++
		item.FailDescription = err.Error()
		delay := time.Duration(item.SendingFails) * p.cfg.RetryBackoff
		p.log.Warn().Err(err).
			Str("chat_id", item.Chat.ChatID).
			Int("fails", item.SendingFails).
			Dur("backoff", delay).
			Msg("send failed, retrying")
		p.sleep(ctx, delay)
		p.buffer.Enqueue(item)
		return
	}

	item.IsSucceed = false
	item.FailDescription = err.Error()
	p.log.Error().Err(fmt.Errorf("%w: %w", domain.ErrPermanentDelivery, err)).
		Str("chat_id", item.Chat.ChatID).
		Int("fails", item.SendingFails).
		Msg("giving up on message")
	p.finish(ctx, item)
}

func (p *OutputProcessor) send(ctx context.Context, item *QueuedMessage) (*feishu.Message, error) {
	if item.Chat == nil {
		return nil, fmt.Errorf("%w: queued message has no chat", domain.ErrInvalidArgument)
	}
	if item.Sender == nil {
		if me, err := p.sender.GetMe(ctx); err == nil {
			item.Sender = me
		}
	}

	text := item.Text
	if item.MsgType != feishu.MsgTypeText {
		text = fmt.Sprintf("Unable to send message type of %s", item.MsgType)
	}
	text = truncateText(text)

	sent, err := p.sender.SendText(ctx, item.Chat.ChatID, text, item.ParentID)
	if err != nil {
		return nil, err
	}
	if sent == nil {
		sent = item.Native()
	}
	if sent.Sender == nil {
		sent.Sender = item.Sender
	}
	return sent, nil
}

// finish reconciles the final state of item and emits it as a Sending event
func (p *OutputProcessor) finish(ctx context.Context, item *QueuedMessage) {
	ev, err := p.converter.BuildEvent(item, domain.MessageActionSending)
	if err != nil {
		logItemFailure(p.log, item, err)
		return
	}
	if err := p.reconciler.ReconcileEvent(ctx, ev); err != nil {
		logItemFailure(p.log, item, err)
		return
	}
	p.events.Emit(ev)
}

func truncateText(text string) string {
	if utf8.RuneCountInString(text) <= MaxTextLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:MaxTextLength-3]) + "..."
}
