package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/devricklin/feishu-messenger/internal/biz/domain"
	"github.com/devricklin/feishu-messenger/internal/infra/feishu"
)

// Mock implementations

type mockChatRepo struct {
	mu    sync.Mutex
	chats []*domain.Chat
}

func (m *mockChatRepo) FindByID(ctx context.Context, id int64) (*domain.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.chats {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}

func (m *mockChatRepo) FindByRawDataID(ctx context.Context, nativeChatID string) (*domain.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.chats {
		var raw struct {
			ChatID string `json:"chat_id"`
		}
		if json.Unmarshal([]byte(c.RawData), &raw) == nil && raw.ChatID == nativeChatID {
			return c, nil
		}
	}
	return nil, nil
}

func (m *mockChatRepo) FindAll(ctx context.Context) ([]*domain.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Chat(nil), m.chats...), nil
}

func (m *mockChatRepo) SaveRange(ctx context.Context, chats []*domain.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chats {
		if c.ID == 0 {
			c.ID = int64(len(m.chats) + 1)
			m.chats = append(m.chats, c)
		}
	}
	return nil
}

type mockUserRepo struct {
	mu    sync.Mutex
	users []*domain.User
	err   error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

func (m *mockUserRepo) FindByRawDataID(ctx context.Context, nativeUserID string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, u := range m.users {
		var raw struct {
			OpenID string `json:"open_id"`
		}
		if json.Unmarshal([]byte(u.RawData), &raw) == nil && raw.OpenID == nativeUserID {
			return u, nil
		}
	}
	return nil, nil
}

func (m *mockUserRepo) FindByRoleIDs(ctx context.Context, roles []domain.Role) ([]*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*domain.User
	for _, u := range m.users {
		for _, r := range roles {
			if u.UserRoleID == r {
				result = append(result, u)
				break
			}
		}
	}
	return result, nil
}

func (m *mockUserRepo) FindAll(ctx context.Context) ([]*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.User(nil), m.users...), nil
}

func (m *mockUserRepo) SaveRange(ctx context.Context, users []*domain.User) error {
	return nil
}

type mockMessageRepo struct {
	mu       sync.Mutex
	messages []*domain.Message
}

func (m *mockMessageRepo) FindByID(ctx context.Context, id int64) (*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.ID == id {
			return msg, nil
		}
	}
	return nil, nil
}

func (m *mockMessageRepo) FindByRawDataIDs(ctx context.Context, nativeMessageID, nativeChatID string) (*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		var raw feishu.Message
		if json.Unmarshal([]byte(msg.RawData), &raw) != nil || raw.Chat == nil {
			continue
		}
		if raw.MessageID == nativeMessageID && raw.Chat.ChatID == nativeChatID {
			return msg, nil
		}
	}
	return nil, nil
}

func (m *mockMessageRepo) SaveRange(ctx context.Context, messages []*domain.Message) error {
	return nil
}

// mockSender records deliveries; sendErr decides the outcome of each attempt
type mockSender struct {
	mu        sync.Mutex
	sent      []sentText
	attempts  int
	sendErr   func(attempt int) error
	deleteErr error
	deleted   []string
	me        *feishu.User
}

type sentText struct {
	chatID, text, replyToID string
}

func (m *mockSender) SendText(ctx context.Context, chatID, text, replyToID string) (*feishu.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.sendErr != nil {
		if err := m.sendErr(m.attempts); err != nil {
			return nil, err
		}
	}
	m.sent = append(m.sent, sentText{chatID: chatID, text: text, replyToID: replyToID})
	return &feishu.Message{
		MessageID:  fmt.Sprintf("om_%d", len(m.sent)),
		ParentID:   replyToID,
		Chat:       &feishu.Chat{ChatID: chatID},
		MsgType:    feishu.MsgTypeText,
		Text:       text,
		CreateTime: time.Now(),
	}, nil
}

func (m *mockSender) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, chatID+"/"+messageID)
	return m.deleteErr
}

func (m *mockSender) GetMe(ctx context.Context) (*feishu.User, error) {
	if m.me == nil {
		return nil, fmt.Errorf("no identity")
	}
	return m.me, nil
}

func (m *mockSender) sentTexts() []sentText {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentText(nil), m.sent...)
}

// sleepRecorder replaces the backoff sleep
type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleeps = append(s.sleeps, d)
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}

// eventRecorder collects emitted events
type eventRecorder struct {
	mu     sync.Mutex
	events []*domain.MessageActionEvent
}

func (r *eventRecorder) record(ev *domain.MessageActionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) all() []*domain.MessageActionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.MessageActionEvent(nil), r.events...)
}

// Fixtures

var conv ItemConverter

func storedChat(id int64, native *feishu.Chat) *domain.Chat {
	c, err := conv.ToGeneralChat(native)
	if err != nil {
		panic(err)
	}
	c.ID = id
	return c
}

func storedUser(id int64, role domain.Role, native *feishu.User) *domain.User {
	u, err := conv.ToGeneralUser(native)
	if err != nil {
		panic(err)
	}
	u.ID = id
	u.UserRoleID = role
	return u
}

func storedMessage(id, chatID int64, native *feishu.Message) *domain.Message {
	m, err := conv.ToGeneralMessage(native)
	if err != nil {
		panic(err)
	}
	m.ID = id
	m.ChatID = chatID
	return m
}

func nativeText(messageID, chatID, openID, text string) *feishu.Message {
	return &feishu.Message{
		MessageID:  messageID,
		Chat:       &feishu.Chat{ChatID: chatID, ChatType: feishu.ChatTypeGroup, Name: "team"},
		Sender:     &feishu.User{OpenID: openID, SenderType: "user", Name: "alice"},
		MsgType:    feishu.MsgTypeText,
		Text:       text,
		Content:    `{"text":"` + text + `"}`,
		CreateTime: time.UnixMilli(1700000000000),
	}
}
