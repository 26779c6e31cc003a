package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/devricklin/feishu-messenger/internal/biz/domain"
	"github.com/devricklin/feishu-messenger/internal/biz/repo"
)

// Outbox is the messenger facade the tools act on
type Outbox interface {
	AddMessageToOutbox(ctx context.Context, chatID int64, text string) bool
	AddMessageToChatOutbox(ctx context.Context, chat *domain.Chat, text string, replyTo *domain.Message) bool
	AddMessageToOutboxByRoles(ctx context.Context, text string, roles ...domain.Role) bool
	DeleteMessage(ctx context.Context, msg *domain.Message) bool
	GetBotInfo(ctx context.Context) (string, bool)
}

// Server exposes the outbox as MCP tools
type Server struct {
	server   *mcp.Server
	outbox   Outbox
	chats    repo.ChatRepo
	messages repo.MessageRepo
}

// NewServer creates the MCP server and registers its tools
func NewServer(outbox Outbox, chats repo.ChatRepo, messages repo.MessageRepo, version string) *Server {
	s := &Server{
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "feishu-messenger",
			Version: version,
		}, nil),
		outbox:   outbox,
		chats:    chats,
		messages: messages,
	}
	s.registerTools()
	return s
}

// Run serves the tools over stdio until ctx is done or the client disconnects
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "send_message",
		Description: "Queue a text message for delivery to a stored chat, optionally as a reply to a stored message. Use list_chats to find chat IDs.",
	}, s.handleSendMessage)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "broadcast",
		Description: "Queue a text message for every user having one of the given roles (OWNER, ADMIN, MODERATOR, USER).",
	}, s.handleBroadcast)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "delete_message",
		Description: "Delete a stored message from its chat by internal message ID.",
	}, s.handleDeleteMessage)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "bot_info",
		Description: "Get the bot's own user record as JSON.",
	}, s.handleBotInfo)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_chats",
		Description: "List the chats the bot has seen, with their internal IDs.",
	}, s.handleListChats)
}

// Result is the output of the action tools
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func failed(format string, args ...any) Result {
	return Result{Error: fmt.Sprintf(format, args...)}
}

// SendMessageInput is the input for send_message
type SendMessageInput struct {
	ChatID           int64  `json:"chat_id" jsonschema:"internal chat ID"`
	Text             string `json:"text" jsonschema:"message text"`
	ReplyToMessageID int64  `json:"reply_to_message_id,omitempty" jsonschema:"internal ID of a message in the same chat to reply to"`
}

func (s *Server) handleSendMessage(ctx context.Context, req *mcp.CallToolRequest, input SendMessageInput) (*mcp.CallToolResult, Result, error) {
	if input.ChatID <= 0 || input.Text == "" {
		return nil, failed("chat_id and text are required"), nil
	}
	if input.ReplyToMessageID > 0 {
		return s.sendReply(ctx, input)
	}
	if !s.outbox.AddMessageToOutbox(ctx, input.ChatID, input.Text) {
		return nil, failed("message to chat %d was not queued", input.ChatID), nil
	}
	return nil, Result{Success: true}, nil
}

func (s *Server) sendReply(ctx context.Context, input SendMessageInput) (*mcp.CallToolResult, Result, error) {
	replyTo, err := s.messages.FindByID(ctx, input.ReplyToMessageID)
	if err != nil {
		return nil, failed("failed to load message %d: %v", input.ReplyToMessageID, err), nil
	}
	if replyTo == nil {
		return nil, failed("message %d not found", input.ReplyToMessageID), nil
	}
	if replyTo.ChatID != input.ChatID {
		return nil, failed("message %d is not in chat %d", input.ReplyToMessageID, input.ChatID), nil
	}

	chat, err := s.chats.FindByID(ctx, input.ChatID)
	if err != nil {
		return nil, failed("failed to load chat %d: %v", input.ChatID, err), nil
	}
	if chat == nil {
		return nil, failed("chat %d not found", input.ChatID), nil
	}

	if !s.outbox.AddMessageToChatOutbox(ctx, chat, input.Text, replyTo) {
		return nil, failed("message to chat %d was not queued", input.ChatID), nil
	}
	return nil, Result{Success: true}, nil
}

// BroadcastInput is the input for broadcast
type BroadcastInput struct {
	Text  string   `json:"text" jsonschema:"message text"`
	Roles []string `json:"roles" jsonschema:"roles whose users receive the message"`
}

func (s *Server) handleBroadcast(ctx context.Context, req *mcp.CallToolRequest, input BroadcastInput) (*mcp.CallToolResult, Result, error) {
	if input.Text == "" || len(input.Roles) == 0 {
		return nil, failed("text and roles are required"), nil
	}
	roles := make([]domain.Role, len(input.Roles))
	for i, r := range input.Roles {
		roles[i] = domain.Role(strings.ToUpper(strings.TrimSpace(r)))
	}
	if !s.outbox.AddMessageToOutboxByRoles(ctx, input.Text, roles...) {
		return nil, failed("broadcast was not queued"), nil
	}
	return nil, Result{Success: true}, nil
}

// DeleteMessageInput is the input for delete_message
type DeleteMessageInput struct {
	MessageID int64 `json:"message_id" jsonschema:"internal message ID"`
}

func (s *Server) handleDeleteMessage(ctx context.Context, req *mcp.CallToolRequest, input DeleteMessageInput) (*mcp.CallToolResult, Result, error) {
	msg, err := s.messages.FindByID(ctx, input.MessageID)
	if err != nil {
		return nil, failed("failed to load message %d: %v", input.MessageID, err), nil
	}
	if msg == nil {
		return nil, failed("message %d not found", input.MessageID), nil
	}
	if !s.outbox.DeleteMessage(ctx, msg) {
		return nil, failed("message %d was not deleted", input.MessageID), nil
	}
	return nil, Result{Success: true}, nil
}

// BotInfoInput is empty
type BotInfoInput struct{}

// BotInfoOutput carries the serialized bot user
type BotInfoOutput struct {
	Bot   string `json:"bot,omitempty"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleBotInfo(ctx context.Context, req *mcp.CallToolRequest, input BotInfoInput) (*mcp.CallToolResult, BotInfoOutput, error) {
	info, ok := s.outbox.GetBotInfo(ctx)
	if !ok {
		return nil, BotInfoOutput{Error: "bot info unavailable"}, nil
	}
	return nil, BotInfoOutput{Bot: info}, nil
}

// ListChatsInput is empty
type ListChatsInput struct{}

// ChatSummary is one entry of list_chats
type ChatSummary struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// ListChatsOutput contains the known chats
type ListChatsOutput struct {
	Chats []ChatSummary `json:"chats"`
	Error string        `json:"error,omitempty"`
}

func (s *Server) handleListChats(ctx context.Context, req *mcp.CallToolRequest, input ListChatsInput) (*mcp.CallToolResult, ListChatsOutput, error) {
	chats, err := s.chats.FindAll(ctx)
	if err != nil {
		return nil, ListChatsOutput{Error: err.Error()}, nil
	}

	out := ListChatsOutput{Chats: make([]ChatSummary, 0, len(chats))}
	for _, c := range chats {
		out.Chats = append(out.Chats, ChatSummary{ID: c.ID, Name: c.Name, Type: string(c.ChatTypeID)})
	}
	return nil, out, nil
}
