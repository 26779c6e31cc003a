package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/devricklin/feishu-messenger/internal/biz/domain"
	"github.com/devricklin/feishu-messenger/internal/biz/repo"
)

// MessageSaver persists message events with their chat and author
type MessageSaver struct {
	chatRepo    repo.ChatRepo
	userRepo    repo.UserRepo
	messageRepo repo.MessageRepo
	now         func() time.Time
}

// NewMessageSaver creates a new message saver
func NewMessageSaver(
	chatRepo repo.ChatRepo,
	userRepo repo.UserRepo,
	messageRepo repo.MessageRepo,
) *MessageSaver {
	return &MessageSaver{
		chatRepo:    chatRepo,
		userRepo:    userRepo,
		messageRepo: messageRepo,
		now:         time.Now,
	}
}

// SaveNewMessageData saves the chat and user when new or changed, links
// them and the reply target into the message and saves the message.
// Ids assigned on insert are written back into the event.
func (uc *MessageSaver) SaveNewMessageData(ctx context.Context, ev *domain.MessageActionEvent) error {
	if ev == nil || ev.Message == nil || ev.Chat == nil {
		return fmt.Errorf("%w: incomplete event", domain.ErrInvalidArgument)
	}
	now := uc.now()

	if err := uc.saveChat(ctx, ev.Chat, now); err != nil {
		return err
	}
	if ev.User != nil {
		if err := uc.saveUser(ctx, ev.User, now); err != nil {
			return err
		}
		ev.Message.UserID = ev.User.ID
	}
	ev.Message.ChatID = ev.Chat.ID

	if ev.Message.ReplyToMessageID == nil {
		replyTo, err := uc.findReplyTarget(ctx, ev.Message)
		if err != nil {
			return err
		}
		if replyTo != nil {
			ev.Message.ReplyToMessageID = &replyTo.ID
		}
	}

	if ev.Message.InsertDate.IsZero() {
		ev.Message.InsertDate = now
	}
	ev.Message.UpdateDate = now
	if err := uc.messageRepo.SaveRange(ctx, []*domain.Message{ev.Message}); err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

// EditSavedMessage stores the new text and payload of a tracked message
func (uc *MessageSaver) EditSavedMessage(ctx context.Context, ev *domain.MessageActionEvent) error {
	if ev == nil || ev.Message == nil {
		return fmt.Errorf("%w: incomplete event", domain.ErrInvalidArgument)
	}
	if ev.Message.ID == 0 {
		return fmt.Errorf("edited message: %w", domain.ErrNotFound)
	}

	stored, err := uc.messageRepo.FindByID(ctx, ev.Message.ID)
	if err != nil {
		return fmt.Errorf("get message %d: %w", ev.Message.ID, err)
	}
	if stored == nil {
		return fmt.Errorf("message %d: %w", ev.Message.ID, domain.ErrNotFound)
	}

	stored.Text = ev.Message.Text
	stored.MessageTypeID = ev.Message.MessageTypeID
	stored.SetRawData(ev.Message.RawData)
	stored.UpdateDate = uc.now()
	if err := uc.messageRepo.SaveRange(ctx, []*domain.Message{stored}); err != nil {
		return fmt.Errorf("save edited message: %w", err)
	}
	return nil
}

func (uc *MessageSaver) saveChat(ctx context.Context, chat *domain.Chat, now time.Time) error {
	if chat.ID != 0 {
		stored, err := uc.chatRepo.FindByID(ctx, chat.ID)
		if err != nil {
			return fmt.Errorf("get chat %d: %w", chat.ID, err)
		}
		if stored != nil && stored.RawDataHash == chat.RawDataHash {
			return nil
		}
	} else {
		chat.InsertDate = now
	}

	chat.UpdateDate = now
	if err := uc.chatRepo.SaveRange(ctx, []*domain.Chat{chat}); err != nil {
		return fmt.Errorf("save chat: %w", err)
	}
	return nil
}

func (uc *MessageSaver) saveUser(ctx context.Context, user *domain.User, now time.Time) error {
	if user.UserRoleID == "" {
		user.UserRoleID = domain.RoleUser
	}
	if user.ID != 0 {
		stored, err := uc.userRepo.FindByID(ctx, user.ID)
		if err != nil {
			return fmt.Errorf("get user %d: %w", user.ID, err)
		}
		if stored != nil && stored.RawDataHash == user.RawDataHash {
			return nil
		}
	} else {
		user.InsertDate = now
	}

	user.UpdateDate = now
	if err := uc.userRepo.SaveRange(ctx, []*domain.User{user}); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// findReplyTarget looks up the stored message the native message replies to
func (uc *MessageSaver) findReplyTarget(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	var native struct {
		ParentID string `json:"parent_id"`
		Chat     struct {
			ChatID string `json:"chat_id"`
		} `json:"chat"`
	}
	if err := json.Unmarshal([]byte(msg.RawData), &native); err != nil || native.ParentID == "" {
		return nil, nil
	}

	replyTo, err := uc.messageRepo.FindByRawDataIDs(ctx, native.ParentID, native.Chat.ChatID)
	if err != nil {
		return nil, fmt.Errorf("get reply target %s: %w", native.ParentID, err)
	}
	return replyTo, nil
}
