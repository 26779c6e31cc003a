package feishu

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Native message types as reported by Feishu
const (
	MsgTypeText               = "text"
	MsgTypePost               = "post"
	MsgTypeImage              = "image"
	MsgTypeFile               = "file"
	MsgTypeAudio              = "audio"
	MsgTypeMedia              = "media"
	MsgTypeSticker            = "sticker"
	MsgTypeInteractive        = "interactive"
	MsgTypeShareChat          = "share_chat"
	MsgTypeShareUser          = "share_user"
	MsgTypeLocation           = "location"
	MsgTypeHongbao            = "hongbao"
	MsgTypeShareCalendarEvent = "share_calendar_event"
	MsgTypeCalendar           = "calendar"
	MsgTypeGeneralCalendar    = "general_calendar"
	MsgTypeVideoChat          = "video_chat"
	MsgTypeTodo               = "todo"
	MsgTypeVote               = "vote"
	MsgTypeMergeForward       = "merge_forward"
	MsgTypeFolder             = "folder"
	MsgTypeSystem             = "system"
)

// Native chat types
const (
	ChatTypeP2P   = "p2p"
	ChatTypeGroup = "group"
	ChatTypeTopic = "topic"
)

// Chat is a Feishu chat as seen by the bot
type Chat struct {
	ChatID      string `json:"chat_id"`
	ChatType    string `json:"chat_type,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// User is a Feishu message sender
type User struct {
	OpenID     string `json:"open_id"`
	SenderType string `json:"sender_type,omitempty"` // user, app
	Name       string `json:"name,omitempty"`
	TenantKey  string `json:"tenant_key,omitempty"`
}

// IsBot reports whether the sender is an application
func (u *User) IsBot() bool {
	return u.SenderType == "app" || u.SenderType == "bot"
}

// Mention is an @ mention inside a message
type Mention struct {
	Key    string `json:"key"`
	OpenID string `json:"open_id,omitempty"`
	Name   string `json:"name,omitempty"`
}

// Message is a Feishu message
type Message struct {
	MessageID  string     `json:"message_id,omitempty"`
	ParentID   string     `json:"parent_id,omitempty"` // message this one replies to
	Chat       *Chat      `json:"chat,omitempty"`
	Sender     *User      `json:"sender,omitempty"`
	MsgType    string     `json:"msg_type"`
	Text       string     `json:"text,omitempty"`    // extracted plain text
	Content    string     `json:"content,omitempty"` // raw content JSON
	Mentions   []Mention  `json:"mentions,omitempty"`
	CreateTime time.Time  `json:"create_time"`
	UpdateTime *time.Time `json:"update_time,omitempty"` // set when the message was edited
}

// UpdateKind classifies an update from the event feed
type UpdateKind int

const (
	UpdateOther UpdateKind = iota
	UpdateMessage
	// UpdateEditedMessage carries a message with UpdateTime set. Client only
	// subscribes to im.message.receive_v1, which never delivers edits, so this
	// kind comes from other UpdateHandler sources such as a feed relaying
	// message edit events or a replay of stored updates.
	UpdateEditedMessage
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateMessage:
		return "message"
	case UpdateEditedMessage:
		return "edited_message"
	default:
		return "other"
	}
}

// Update is one item of the event feed
type Update struct {
	Kind    UpdateKind
	Message *Message
	Type    string // raw event type
}

// UpdateHandler receives updates from the event feed
type UpdateHandler func(ctx context.Context, update Update)

// ErrorHandler receives errors from the event feed and API calls
type ErrorHandler func(ctx context.Context, err error)

// RequestEvent describes one API call for diagnostics
type RequestEvent struct {
	Op       string
	Duration time.Duration
	Err      error
}

var (
	// ErrRequestTimeout wraps API calls that timed out
	ErrRequestTimeout = errors.New("request timed out")

	// ErrMakingRequest wraps API calls that failed before a response arrived
	ErrMakingRequest = errors.New("exception during making request")

	// ErrMessageNotFound matches API errors about messages that no longer exist
	ErrMessageNotFound = errors.New("message not found")
)

// Error codes Feishu returns for recalled or deleted messages
var messageGoneCodes = map[int]bool{
	230011: true,
	231003: true,
}

// APIError is a response from Feishu with a non-zero code
type APIError struct {
	Op   string
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s error: code=%d msg=%s", e.Op, e.Code, e.Msg)
}

// Is lets errors.Is(err, ErrMessageNotFound) match gone-message codes
func (e *APIError) Is(target error) bool {
	return target == ErrMessageNotFound && messageGoneCodes[e.Code]
}
