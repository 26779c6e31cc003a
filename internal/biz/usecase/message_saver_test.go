package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/devricklin/feishu-messenger/internal/biz/domain"
)

// Mock implementations

type mockChatRepo struct {
	chats map[int64]*domain.Chat
	saves int
}

func (m *mockChatRepo) FindByID(ctx context.Context, id int64) (*domain.Chat, error) {
	return m.chats[id], nil
}

func (m *mockChatRepo) FindByRawDataID(ctx context.Context, nativeChatID string) (*domain.Chat, error) {
	return nil, nil
}

func (m *mockChatRepo) FindAll(ctx context.Context) ([]*domain.Chat, error) {
	var result []*domain.Chat
	for _, c := range m.chats {
		result = append(result, c)
	}
	return result, nil
}

func (m *mockChatRepo) SaveRange(ctx context.Context, chats []*domain.Chat) error {
	m.saves++
	for _, c := range chats {
		if c.ID == 0 {
			c.ID = int64(len(m.chats) + 100)
		}
		copied := *c
		m.chats[c.ID] = &copied
	}
	return nil
}

type mockUserRepo struct {
	users map[int64]*domain.User
	saves int
}

func (m *mockUserRepo) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	return m.users[id], nil
}

func (m *mockUserRepo) FindByRawDataID(ctx context.Context, nativeUserID string) (*domain.User, error) {
	return nil, nil
}

func (m *mockUserRepo) FindByRoleIDs(ctx context.Context, roles []domain.Role) ([]*domain.User, error) {
	return nil, nil
}

func (m *mockUserRepo) FindAll(ctx context.Context) ([]*domain.User, error) {
	return nil, nil
}

func (m *mockUserRepo) SaveRange(ctx context.Context, users []*domain.User) error {
	m.saves++
	for _, u := range users {
		if u.ID == 0 {
			u.ID = int64(len(m.users) + 200)
		}
		copied := *u
		m.users[u.ID] = &copied
	}
	return nil
}

type mockMessageRepo struct {
	messages map[int64]*domain.Message
	byNative map[string]*domain.Message // messageID/chatID
}

func (m *mockMessageRepo) FindByID(ctx context.Context, id int64) (*domain.Message, error) {
	return m.messages[id], nil
}

func (m *mockMessageRepo) FindByRawDataIDs(ctx context.Context, nativeMessageID, nativeChatID string) (*domain.Message, error) {
	return m.byNative[nativeMessageID+"/"+nativeChatID], nil
}

func (m *mockMessageRepo) SaveRange(ctx context.Context, messages []*domain.Message) error {
	for _, msg := range messages {
		if msg.ID == 0 {
			msg.ID = int64(len(m.messages) + 300)
		}
		copied := *msg
		m.messages[msg.ID] = &copied
	}
	return nil
}

func newTestSaver() (*MessageSaver, *mockChatRepo, *mockUserRepo, *mockMessageRepo) {
	chats := &mockChatRepo{chats: make(map[int64]*domain.Chat)}
	users := &mockUserRepo{users: make(map[int64]*domain.User)}
	messages := &mockMessageRepo{messages: make(map[int64]*domain.Message), byNative: make(map[string]*domain.Message)}
	uc := NewMessageSaver(chats, users, messages)
	uc.now = func() time.Time { return time.Unix(1700000000, 0) }
	return uc, chats, users, messages
}

func newEvent(raw string) *domain.MessageActionEvent {
	msg := &domain.Message{Text: "hello", MessageTypeID: domain.MessageTypeText}
	msg.SetRawData(raw)
	chat := &domain.Chat{ChatTypeID: domain.ChatTypeGroup}
	chat.SetRawData(`{"chat_id":"oc_1"}`)
	user := &domain.User{Name: "alice"}
	user.SetRawData(`{"open_id":"ou_1"}`)
	return &domain.MessageActionEvent{
		Message: msg,
		Chat:    chat,
		User:    user,
		Action:  domain.MessageActionReceived,
	}
}

func TestSaveNewMessageData_NewEntities(t *testing.T) {
	uc, chats, users, messages := newTestSaver()
	ev := newEvent(`{"message_id":"om_1","chat":{"chat_id":"oc_1"}}`)

	if err := uc.SaveNewMessageData(context.Background(), ev); err != nil {
		t.Fatalf("SaveNewMessageData failed: %v", err)
	}

	if ev.Chat.ID == 0 || ev.User.ID == 0 || ev.Message.ID == 0 {
		t.Fatalf("Expected ids assigned, got chat=%d user=%d msg=%d", ev.Chat.ID, ev.User.ID, ev.Message.ID)
	}
	if ev.Message.ChatID != ev.Chat.ID || ev.Message.UserID != ev.User.ID {
		t.Error("Expected message linked to chat and user")
	}
	if ev.User.UserRoleID != domain.RoleUser {
		t.Errorf("Expected USER role, got %s", ev.User.UserRoleID)
	}
	if chats.saves != 1 || users.saves != 1 || len(messages.messages) != 1 {
		t.Errorf("Expected one save each, got chats=%d users=%d messages=%d", chats.saves, users.saves, len(messages.messages))
	}
}

func TestSaveNewMessageData_UnchangedEntitiesSkipped(t *testing.T) {
	uc, chats, users, _ := newTestSaver()
	ev := newEvent(`{"message_id":"om_1","chat":{"chat_id":"oc_1"}}`)

	// Stored copies with the same payload
	ev.Chat.ID = 5
	storedChat := *ev.Chat
	chats.chats[5] = &storedChat
	ev.User.ID = 6
	ev.User.UserRoleID = domain.RoleAdmin
	storedUser := *ev.User
	users.users[6] = &storedUser

	if err := uc.SaveNewMessageData(context.Background(), ev); err != nil {
		t.Fatalf("SaveNewMessageData failed: %v", err)
	}
	if chats.saves != 0 || users.saves != 0 {
		t.Errorf("Expected no chat/user saves, got %d/%d", chats.saves, users.saves)
	}

	// A changed payload is saved again
	ev2 := newEvent(`{"message_id":"om_2","chat":{"chat_id":"oc_1"}}`)
	ev2.Chat.ID = 5
	ev2.Chat.SetRawData(`{"chat_id":"oc_1","name":"renamed"}`)
	if err := uc.SaveNewMessageData(context.Background(), ev2); err != nil {
		t.Fatalf("SaveNewMessageData failed: %v", err)
	}
	if chats.saves != 1 {
		t.Errorf("Expected changed chat to be saved, got %d saves", chats.saves)
	}
}

func TestSaveNewMessageData_ResolvesReplyTarget(t *testing.T) {
	uc, _, _, messages := newTestSaver()
	parent := &domain.Message{ID: 77}
	messages.messages[77] = parent
	messages.byNative["om_parent/oc_1"] = parent

	ev := newEvent(`{"message_id":"om_2","parent_id":"om_parent","chat":{"chat_id":"oc_1"}}`)
	if err := uc.SaveNewMessageData(context.Background(), ev); err != nil {
		t.Fatalf("SaveNewMessageData failed: %v", err)
	}
	if ev.Message.ReplyToMessageID == nil || *ev.Message.ReplyToMessageID != 77 {
		t.Errorf("Expected reply target 77, got %v", ev.Message.ReplyToMessageID)
	}
}

func TestSaveNewMessageData_InvalidEvent(t *testing.T) {
	uc, _, _, _ := newTestSaver()
	if err := uc.SaveNewMessageData(context.Background(), &domain.MessageActionEvent{}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument, got %v", err)
	}
}

func TestEditSavedMessage(t *testing.T) {
	uc, _, _, messages := newTestSaver()
	stored := &domain.Message{ID: 9, Text: "old", ChatID: 5}
	stored.SetRawData(`{"message_id":"om_1","text":"old"}`)
	messages.messages[9] = stored

	ev := newEvent(`{"message_id":"om_1","text":"new"}`)
	ev.Message.ID = 9
	ev.Message.Text = "new"
	ev.Action = domain.MessageActionEdited

	if err := uc.EditSavedMessage(context.Background(), ev); err != nil {
		t.Fatalf("EditSavedMessage failed: %v", err)
	}

	saved := messages.messages[9]
	if saved.Text != "new" || saved.ChatID != 5 {
		t.Errorf("Expected new text in chat 5, got %q in %d", saved.Text, saved.ChatID)
	}
	if saved.RawDataHash != domain.HashRawData(`{"message_id":"om_1","text":"new"}`) {
		t.Error("Expected hash recomputed for new payload")
	}
}

func TestEditSavedMessage_Untracked(t *testing.T) {
	uc, _, _, _ := newTestSaver()
	ev := newEvent(`{"message_id":"om_1"}`)

	if err := uc.EditSavedMessage(context.Background(), ev); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
