package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/devricklin/feishu-messenger/internal/biz/domain"
	"github.com/devricklin/feishu-messenger/internal/biz/repo"
)

// Reconciler attaches stored internal ids to freshly converted entities,
// matching on the native ids kept in their raw payloads
type Reconciler struct {
	chats    repo.ChatRepo
	users    repo.UserRepo
	messages repo.MessageRepo
}

// NewReconciler creates a new reconciler
func NewReconciler(chats repo.ChatRepo, users repo.UserRepo, messages repo.MessageRepo) *Reconciler {
	return &Reconciler{chats: chats, users: users, messages: messages}
}

// ReconcileUser attaches the stored id and role. An unknown user gets
// id 0 and the USER role.
func (r *Reconciler) ReconcileUser(ctx context.Context, u *domain.User) (bool, error) {
	if u == nil {
		return false, fmt.Errorf("%w: nil user", domain.ErrInvalidArgument)
	}

	var native struct {
		OpenID string `json:"open_id"`
	}
	if err := json.Unmarshal([]byte(u.RawData), &native); err != nil {
		return false, fmt.Errorf("failed to read user raw data: %w", err)
	}

	var found *domain.User
	if native.OpenID != "" {
		var err error
		if found, err = r.users.FindByRawDataID(ctx, native.OpenID); err != nil {
			return false, fmt.Errorf("failed to find user %s: %w", native.OpenID, err)
		}
	}
	if found == nil {
		u.ID = 0
		u.UserRoleID = domain.RoleUser
		return false, nil
	}

	u.ID = found.ID
	u.UserRoleID = found.UserRoleID
	u.InsertDate = found.InsertDate
	return true, nil
}

// ReconcileChat attaches the stored id. An unknown chat keeps id 0.
func (r *Reconciler) ReconcileChat(ctx context.Context, c *domain.Chat) (bool, error) {
	if c == nil {
		return false, fmt.Errorf("%w: nil chat", domain.ErrInvalidArgument)
	}

	var native struct {
		ChatID string `json:"chat_id"`
	}
	if err := json.Unmarshal([]byte(c.RawData), &native); err != nil {
		return false, fmt.Errorf("failed to read chat raw data: %w", err)
	}
	if native.ChatID == "" {
		return false, nil
	}

	found, err := r.chats.FindByRawDataID(ctx, native.ChatID)
	if err != nil {
		return false, fmt.Errorf("failed to find chat %s: %w", native.ChatID, err)
	}
	if found == nil {
		return false, nil
	}

	c.ID = found.ID
	c.InsertDate = found.InsertDate
	return true, nil
}

// ReconcileMessage attaches the stored id, chat id and user id of the
// message with the same native message id and chat id
func (r *Reconciler) ReconcileMessage(ctx context.Context, m *domain.Message) (bool, error) {
	if m == nil {
		return false, fmt.Errorf("%w: nil message", domain.ErrInvalidArgument)
	}

	var native struct {
		MessageID string `json:"message_id"`
		Chat      struct {
			ChatID string `json:"chat_id"`
		} `json:"chat"`
	}
	if err := json.Unmarshal([]byte(m.RawData), &native); err != nil {
		return false, fmt.Errorf("failed to read message raw data: %w", err)
	}
	if native.MessageID == "" {
		return false, nil
	}

	found, err := r.messages.FindByRawDataIDs(ctx, native.MessageID, native.Chat.ChatID)
	if err != nil {
		return false, fmt.Errorf("failed to find message %s: %w", native.MessageID, err)
	}
	if found == nil {
		return false, nil
	}

	m.ID = found.ID
	m.ChatID = found.ChatID
	m.UserID = found.UserID
	m.ReplyToMessageID = found.ReplyToMessageID
	m.InsertDate = found.InsertDate
	return true, nil
}

// ReconcileEvent reconciles the user and chat of ev and links their ids
// into the message
func (r *Reconciler) ReconcileEvent(ctx context.Context, ev *domain.MessageActionEvent) error {
	if ev.User != nil {
		if _, err := r.ReconcileUser(ctx, ev.User); err != nil {
			return err
		}
		ev.Message.UserID = ev.User.ID
	}
	if _, err := r.ReconcileChat(ctx, ev.Chat); err != nil {
		return err
	}
	ev.Message.ChatID = ev.Chat.ID
	return nil
}
