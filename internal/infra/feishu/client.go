package feishu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"
	"github.com/rs/zerolog"
)

const defaultBaseURL = "https://open.feishu.cn"

// Client is the Feishu transport: an event feed over WebSocket plus the IM API
type Client struct {
	appID     string
	appSecret string
	baseURL   string
	larkCli   *lark.Client
	wsCli     *larkws.Client
	httpCli   *http.Client
	log       zerolog.Logger

	hooksMu    sync.RWMutex
	onRequest  []func(RequestEvent)
	onResponse []func(RequestEvent)

	meMu sync.Mutex
	me   *User
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL overrides the open platform host used for bot info lookups
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient overrides the HTTP client used for bot info lookups
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpCli = h }
}

// NewClient creates a new Feishu client
func NewClient(appID, appSecret string, log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		appID:     appID,
		appSecret: appSecret,
		baseURL:   defaultBaseURL,
		httpCli:   &http.Client{Timeout: 30 * time.Second},
		log:       log.With().Str("component", "feishu").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.larkCli = lark.NewClient(appID, appSecret,
		lark.WithOpenBaseUrl(c.baseURL),
		lark.WithLogger(sdkLogger{log: c.log}),
		lark.WithLogLevel(larkcore.LogLevelInfo),
	)
	return c
}

// OnMakingRequest registers a hook fired before every API call
func (c *Client) OnMakingRequest(fn func(RequestEvent)) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.onRequest = append(c.onRequest, fn)
}

// OnResponseReceived registers a hook fired after every API call
func (c *Client) OnResponseReceived(fn func(RequestEvent)) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.onResponse = append(c.onResponse, fn)
}

// Start connects to Feishu via WebSocket and feeds updates until ctx is done
func (c *Client) Start(ctx context.Context, onUpdate UpdateHandler, onError ErrorHandler) error {
	if _, err := c.GetMe(ctx); err != nil {
		c.log.Warn().Err(err).Msg("failed to fetch bot info")
	}

	// Handlers must return quickly so the SDK can ACK before Feishu retries.
	// Enqueueing into the input buffer is cheap, so updates are pushed in order.
	eventHandler := dispatcher.NewEventDispatcher("", "").
		OnP2MessageReceiveV1(func(ctx context.Context, event *larkim.P2MessageReceiveV1) error {
			msg := c.messageFromEvent(event)
			if msg == nil {
				onUpdate(ctx, Update{Kind: UpdateOther, Type: "im.message.receive_v1"})
				return nil
			}
			onUpdate(ctx, Update{Kind: UpdateMessage, Message: msg, Type: "im.message.receive_v1"})
			return nil
		})

	c.wsCli = larkws.NewClient(c.appID, c.appSecret,
		larkws.WithEventHandler(eventHandler),
		larkws.WithDomain(c.baseURL),
		larkws.WithLogger(sdkLogger{log: c.log}),
		larkws.WithLogLevel(larkcore.LogLevelInfo),
	)

	c.log.Info().Msg("starting websocket connection")

	// The SDK keeps the connection alive on its own goroutines and only
	// returns from Start when the first connect fails
	errCh := make(chan error, 1)
	go func() { errCh <- c.wsCli.Start(ctx) }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if err == nil {
			<-ctx.Done()
			return ctx.Err()
		}
		err = wrapTransportError("websocket", err)
		if onError != nil {
			onError(ctx, err)
		}
		return err
	}
}

// messageFromEvent converts a receive event into a native message.
// Messages sent by applications are dropped to avoid reply loops.
func (c *Client) messageFromEvent(event *larkim.P2MessageReceiveV1) *Message {
	if event == nil || event.Event == nil || event.Event.Message == nil {
		return nil
	}
	raw := event.Event.Message

	sender := &User{}
	if s := event.Event.Sender; s != nil {
		if s.SenderId != nil {
			sender.OpenID = deref(s.SenderId.OpenId)
		}
		sender.SenderType = deref(s.SenderType)
		sender.TenantKey = deref(s.TenantKey)
	}
	if sender.SenderType == "app" {
		return nil
	}

	msg := &Message{
		MessageID: deref(raw.MessageId),
		ParentID:  deref(raw.ParentId),
		Chat: &Chat{
			ChatID:   deref(raw.ChatId),
			ChatType: deref(raw.ChatType),
		},
		Sender:  sender,
		MsgType: deref(raw.MessageType),
		Content: deref(raw.Content),
	}
	if raw.CreateTime != nil {
		msg.CreateTime = parseMillis(*raw.CreateTime)
	}

	// Map mention keys (@_user_1) to real names
	mentionMap := make(map[string]string)
	for _, m := range raw.Mentions {
		if m == nil {
			continue
		}
		mention := Mention{Key: deref(m.Key), Name: deref(m.Name)}
		if m.Id != nil {
			mention.OpenID = deref(m.Id.OpenId)
		}
		msg.Mentions = append(msg.Mentions, mention)
		if mention.Key != "" && mention.Name != "" {
			mentionMap[mention.Key] = mention.Name
		}
	}

	msg.Text = extractText(msg.MsgType, msg.Content, mentionMap)

	c.log.Debug().
		Str("msg_type", msg.MsgType).
		Str("chat_type", msg.Chat.ChatType).
		Str("chat_id", msg.Chat.ChatID).
		Str("text", truncate(msg.Text, 50)).
		Msg("received message")
	return msg
}

// extractText returns the plain text of text and post messages
func extractText(msgType, content string, mentionMap map[string]string) string {
	switch msgType {
	case MsgTypeText:
		return parseTextContent(content, mentionMap)
	case MsgTypePost:
		return parsePostContent(content, mentionMap)
	default:
		return ""
	}
}

// parseTextContent extracts text from a text message
// It also replaces mention placeholders (@_user_1) with real names
func parseTextContent(content string, mentionMap map[string]string) string {
	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return ""
	}
	return replaceMentions(parsed.Text, mentionMap)
}

// parsePostContent extracts text from a rich text message
func parsePostContent(content string, mentionMap map[string]string) string {
	var parsed struct {
		Title   string `json:"title"`
		Content [][]struct {
			Tag    string `json:"tag"`
			Text   string `json:"text,omitempty"`
			UserID string `json:"user_id,omitempty"` // for "at" tags
		} `json:"content"`
	}

	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return ""
	}

	var textParts []string
	if parsed.Title != "" {
		textParts = append(textParts, parsed.Title)
	}

	for _, line := range parsed.Content {
		var lineParts []string
		for _, elem := range line {
			switch elem.Tag {
			case "text", "a":
				if elem.Text != "" {
					lineParts = append(lineParts, elem.Text)
				}
			case "at":
				// user_id is either a placeholder (@_user_1) or an open_id
				if elem.UserID != "" {
					if name, ok := mentionMap[elem.UserID]; ok {
						lineParts = append(lineParts, "@"+name)
					} else {
						lineParts = append(lineParts, "@"+elem.UserID)
					}
				}
			}
		}
		if len(lineParts) > 0 {
			textParts = append(textParts, strings.Join(lineParts, ""))
		}
	}

	return replaceMentions(strings.Join(textParts, "\n"), mentionMap)
}

// replaceMentions replaces mention placeholders (@_user_1, @_user_2, etc.) with real names
func replaceMentions(text string, mentionMap map[string]string) string {
	for key, name := range mentionMap {
		text = strings.ReplaceAll(text, key, "@"+name)
	}
	return text
}

// receiveIDType picks the id type for a receive id: open_ids start with "ou_"
func receiveIDType(id string) string {
	if strings.HasPrefix(id, "ou_") {
		return larkim.ReceiveIdTypeOpenId
	}
	return larkim.ReceiveIdTypeChatId
}

// SendText sends a text message, as a reply when replyToID is set
func (c *Client) SendText(ctx context.Context, chatID, text, replyToID string) (*Message, error) {
	contentJSON, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("failed to encode content: %w", err)
	}

	sent := &Message{
		Chat:       &Chat{ChatID: chatID},
		MsgType:    MsgTypeText,
		Text:       text,
		Content:    string(contentJSON),
		ParentID:   replyToID,
		CreateTime: time.Now(),
	}

	if replyToID != "" {
		req := larkim.NewReplyMessageReqBuilder().
			MessageId(replyToID).
			Body(larkim.NewReplyMessageReqBodyBuilder().
				MsgType(larkim.MsgTypeText).
				Content(string(contentJSON)).
				Build()).
			Build()

		err := c.call(ctx, "reply message", func(ctx context.Context) error {
			resp, err := c.larkCli.Im.Message.Reply(ctx, req)
			if err != nil {
				return err
			}
			if !resp.Success() {
				return &APIError{Op: "reply message", Code: resp.Code, Msg: resp.Msg}
			}
			if resp.Data != nil {
				fillSent(sent, resp.Data.MessageId, resp.Data.ChatId, resp.Data.CreateTime)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		c.log.Debug().Str("chat_id", chatID).Str("reply_to", replyToID).Msg("message replied")
		return sent, nil
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(receiveIDType(chatID)).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(chatID).
			MsgType(larkim.MsgTypeText).
			Content(string(contentJSON)).
			Build()).
		Build()

	err = c.call(ctx, "send message", func(ctx context.Context) error {
		resp, err := c.larkCli.Im.Message.Create(ctx, req)
		if err != nil {
			return err
		}
		if !resp.Success() {
			return &APIError{Op: "send message", Code: resp.Code, Msg: resp.Msg}
		}
		if resp.Data != nil {
			fillSent(sent, resp.Data.MessageId, resp.Data.ChatId, resp.Data.CreateTime)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.log.Debug().Str("chat_id", chatID).Msg("message sent")
	return sent, nil
}

func fillSent(sent *Message, messageID, chatID, createTime *string) {
	sent.MessageID = deref(messageID)
	if id := deref(chatID); id != "" {
		sent.Chat.ChatID = id
	}
	if createTime != nil {
		if t := parseMillis(*createTime); !t.IsZero() {
			sent.CreateTime = t
		}
	}
}

// DeleteMessage recalls a message the bot has sent
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	req := larkim.NewDeleteMessageReqBuilder().
		MessageId(messageID).
		Build()

	err := c.call(ctx, "delete message", func(ctx context.Context) error {
		resp, err := c.larkCli.Im.Message.Delete(ctx, req)
		if err != nil {
			return err
		}
		if !resp.Success() {
			return &APIError{Op: "delete message", Code: resp.Code, Msg: resp.Msg}
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.log.Debug().Str("chat_id", chatID).Str("message_id", messageID).Msg("message deleted")
	return nil
}

// GetMe returns the bot's own identity. The first successful lookup is cached.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	c.meMu.Lock()
	defer c.meMu.Unlock()
	if c.me != nil {
		return c.me, nil
	}

	var me *User
	err := c.call(ctx, "get bot info", func(ctx context.Context) error {
		var err error
		me, err = c.fetchBotInfo(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.me = me
	c.log.Info().Str("open_id", me.OpenID).Str("name", me.Name).Msg("bot identity")
	return me, nil
}

// fetchBotInfo gets a tenant_access_token, then the bot info
func (c *Client) fetchBotInfo(ctx context.Context) (*User, error) {
	tokenBody, err := json.Marshal(map[string]string{"app_id": c.appID, "app_secret": c.appSecret})
	if err != nil {
		return nil, fmt.Errorf("encode token request: %w", err)
	}
	tokenReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/open-apis/auth/v3/tenant_access_token/internal",
		strings.NewReader(string(tokenBody)))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	tokenReq.Header.Set("Content-Type", "application/json")

	tokenResp, err := c.httpCli.Do(tokenReq)
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	defer tokenResp.Body.Close()

	var tokenResult struct {
		Code              int    `json:"code"`
		Msg               string `json:"msg"`
		TenantAccessToken string `json:"tenant_access_token"`
	}
	if err := json.NewDecoder(tokenResp.Body).Decode(&tokenResult); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	if tokenResult.Code != 0 {
		return nil, &APIError{Op: "get token", Code: tokenResult.Code, Msg: tokenResult.Msg}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/open-apis/bot/v3/info", nil)
	if err != nil {
		return nil, fmt.Errorf("build bot info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tokenResult.TenantAccessToken)

	resp, err := c.httpCli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get bot info: %w", err)
	}
	defer resp.Body.Close()

	var botResult struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Bot  struct {
			OpenID  string `json:"open_id"`
			AppName string `json:"app_name"`
		} `json:"bot"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&botResult); err != nil {
		return nil, fmt.Errorf("decode bot info: %w", err)
	}
	if botResult.Code != 0 {
		return nil, &APIError{Op: "get bot info", Code: botResult.Code, Msg: botResult.Msg}
	}

	return &User{
		OpenID:     botResult.Bot.OpenID,
		Name:       botResult.Bot.AppName,
		SenderType: "app",
	}, nil
}

// call runs one API call between the request hooks and classifies transport errors
func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	c.fire(false, RequestEvent{Op: op})

	start := time.Now()
	err := fn(ctx)
	var apiErr *APIError
	if err != nil && !errors.As(err, &apiErr) {
		err = wrapTransportError(op, err)
	}

	c.fire(true, RequestEvent{Op: op, Duration: time.Since(start), Err: err})
	return err
}

func (c *Client) fire(response bool, ev RequestEvent) {
	c.hooksMu.RLock()
	hooks := c.onRequest
	if response {
		hooks = c.onResponse
	}
	c.hooksMu.RUnlock()

	for _, h := range hooks {
		h(ev)
	}
}

// wrapTransportError tags err as a timeout or a request failure
func wrapTransportError(op string, err error) error {
	if errors.Is(err, ErrRequestTimeout) || errors.Is(err, ErrMakingRequest) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%s: %w: %w", op, ErrRequestTimeout, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrMakingRequest, err)
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
