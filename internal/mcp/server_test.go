package mcp

import (
	"context"
	"errors"
	"testing"

	"github.com/devricklin/feishu-messenger/internal/biz/domain"
)

type mockOutbox struct {
	ok      bool
	sent    []string
	replyTo []int64
	roles   []domain.Role
	deleted []int64
}

func (o *mockOutbox) AddMessageToOutbox(_ context.Context, chatID int64, text string) bool {
	o.sent = append(o.sent, text)
	return o.ok
}

func (o *mockOutbox) AddMessageToChatOutbox(_ context.Context, chat *domain.Chat, text string, replyTo *domain.Message) bool {
	o.sent = append(o.sent, text)
	if replyTo != nil {
		o.replyTo = append(o.replyTo, replyTo.ID)
	}
	return o.ok
}

func (o *mockOutbox) AddMessageToOutboxByRoles(_ context.Context, text string, roles ...domain.Role) bool {
	o.sent = append(o.sent, text)
	o.roles = roles
	return o.ok
}

func (o *mockOutbox) DeleteMessage(_ context.Context, msg *domain.Message) bool {
	o.deleted = append(o.deleted, msg.ID)
	return o.ok
}

func (o *mockOutbox) GetBotInfo(context.Context) (string, bool) {
	if !o.ok {
		return "", false
	}
	return `{"ID":9}`, true
}

type mockChatRepo struct {
	chats []*domain.Chat
	err   error
}

func (r *mockChatRepo) FindByID(_ context.Context, id int64) (*domain.Chat, error) {
	for _, c := range r.chats {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, r.err
}

func (r *mockChatRepo) FindByRawDataID(context.Context, string) (*domain.Chat, error) { return nil, nil }
func (r *mockChatRepo) FindAll(context.Context) ([]*domain.Chat, error) { return r.chats, r.err }
func (r *mockChatRepo) SaveRange(context.Context, []*domain.Chat) error { return nil }

type mockMessageRepo struct {
	messages map[int64]*domain.Message
}

func (r *mockMessageRepo) FindByID(_ context.Context, id int64) (*domain.Message, error) {
	return r.messages[id], nil
}

func (r *mockMessageRepo) FindByRawDataIDs(context.Context, string, string) (*domain.Message, error) {
	return nil, nil
}

func (r *mockMessageRepo) SaveRange(context.Context, []*domain.Message) error { return nil }

func newTestServer(outbox *mockOutbox, chats *mockChatRepo) *Server {
	messages := &mockMessageRepo{messages: map[int64]*domain.Message{5: {ID: 5, ChatID: 1}}}
	return NewServer(outbox, chats, messages, "test")
}

func TestHandleSendMessage(t *testing.T) {
	tests := []struct {
		name    string
		ok      bool
		input   SendMessageInput
		success bool
	}{
		{"queued", true, SendMessageInput{ChatID: 1, Text: "hi"}, true},
		{"rejected by outbox", false, SendMessageInput{ChatID: 1, Text: "hi"}, false},
		{"missing text", true, SendMessageInput{ChatID: 1}, false},
		{"missing chat", true, SendMessageInput{Text: "hi"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&mockOutbox{ok: tt.ok}, &mockChatRepo{})
			_, out, err := s.handleSendMessage(context.Background(), nil, tt.input)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if out.Success != tt.success {
				t.Errorf("Expected success=%v, got %+v", tt.success, out)
			}
		})
	}
}

func TestHandleSendMessage_Reply(t *testing.T) {
	chats := &mockChatRepo{chats: []*domain.Chat{{ID: 1, Name: "team"}, {ID: 2, Name: "other"}}}

	tests := []struct {
		name    string
		input   SendMessageInput
		success bool
	}{
		{"reply in same chat", SendMessageInput{ChatID: 1, Text: "hi", ReplyToMessageID: 5}, true},
		{"unknown reply target", SendMessageInput{ChatID: 1, Text: "hi", ReplyToMessageID: 404}, false},
		{"reply target in another chat", SendMessageInput{ChatID: 2, Text: "hi", ReplyToMessageID: 5}, false},
		{"unknown chat", SendMessageInput{ChatID: 3, Text: "hi", ReplyToMessageID: 5}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outbox := &mockOutbox{ok: true}
			s := newTestServer(outbox, chats)
			_, out, err := s.handleSendMessage(context.Background(), nil, tt.input)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if out.Success != tt.success {
				t.Fatalf("Expected success=%v, got %+v", tt.success, out)
			}
			if tt.success {
				if len(outbox.replyTo) != 1 || outbox.replyTo[0] != 5 {
					t.Errorf("Expected reply to message 5, got %v", outbox.replyTo)
				}
			} else if len(outbox.sent) != 0 {
				t.Errorf("Expected nothing queued, got %v", outbox.sent)
			}
		})
	}
}

func TestHandleBroadcast_NormalizesRoles(t *testing.T) {
	outbox := &mockOutbox{ok: true}
	s := newTestServer(outbox, &mockChatRepo{})

	_, out, _ := s.handleBroadcast(context.Background(), nil, BroadcastInput{Text: "news", Roles: []string{"admin", " Owner "}})
	if !out.Success {
		t.Fatalf("Expected success, got %+v", out)
	}
	if len(outbox.roles) != 2 || outbox.roles[0] != domain.RoleAdmin || outbox.roles[1] != domain.RoleOwner {
		t.Errorf("Expected ADMIN and OWNER, got %v", outbox.roles)
	}
}

func TestHandleBroadcast(t *testing.T) {
	outbox := &mockOutbox{ok: true}
	s := newTestServer(outbox, &mockChatRepo{})

	_, out, _ := s.handleBroadcast(context.Background(), nil, BroadcastInput{Text: "news", Roles: []string{"ADMIN", "OWNER"}})
	if !out.Success {
		t.Fatalf("Expected success, got %+v", out)
	}
	if len(outbox.roles) != 2 || outbox.roles[0] != domain.RoleAdmin {
		t.Errorf("Unexpected roles: %v", outbox.roles)
	}

	_, out, _ = s.handleBroadcast(context.Background(), nil, BroadcastInput{Text: "news"})
	if out.Success {
		t.Error("Expected failure without roles")
	}
}

func TestHandleDeleteMessage(t *testing.T) {
	outbox := &mockOutbox{ok: true}
	s := newTestServer(outbox, &mockChatRepo{})

	_, out, _ := s.handleDeleteMessage(context.Background(), nil, DeleteMessageInput{MessageID: 5})
	if !out.Success || len(outbox.deleted) != 1 || outbox.deleted[0] != 5 {
		t.Errorf("Expected message 5 deleted, got %+v / %v", out, outbox.deleted)
	}

	_, out, _ = s.handleDeleteMessage(context.Background(), nil, DeleteMessageInput{MessageID: 404})
	if out.Success || out.Error == "" {
		t.Errorf("Expected not found error, got %+v", out)
	}
	if len(outbox.deleted) != 1 {
		t.Error("Expected unknown message not to reach the outbox")
	}
}

func TestHandleBotInfo(t *testing.T) {
	s := newTestServer(&mockOutbox{ok: true}, &mockChatRepo{})
	_, out, _ := s.handleBotInfo(context.Background(), nil, BotInfoInput{})
	if out.Bot != `{"ID":9}` {
		t.Errorf("Unexpected bot info: %+v", out)
	}

	s = newTestServer(&mockOutbox{}, &mockChatRepo{})
	_, out, _ = s.handleBotInfo(context.Background(), nil, BotInfoInput{})
	if out.Error == "" {
		t.Error("Expected error when bot info is unavailable")
	}
}

func TestHandleListChats(t *testing.T) {
	chats := &mockChatRepo{chats: []*domain.Chat{
		{ID: 1, Name: "team", ChatTypeID: domain.ChatTypeGroup},
		{ID: 2, Name: "alice", ChatTypeID: domain.ChatTypePrivate},
	}}
	s := newTestServer(&mockOutbox{}, chats)

	_, out, _ := s.handleListChats(context.Background(), nil, ListChatsInput{})
	if len(out.Chats) != 2 || out.Chats[1].Type != "PRIVATE" {
		t.Errorf("Unexpected chats: %+v", out.Chats)
	}

	chats.err = errors.New("db closed")
	_, out, _ = s.handleListChats(context.Background(), nil, ListChatsInput{})
	if out.Error != "db closed" {
		t.Errorf("Expected repository error, got %+v", out)
	}
}
