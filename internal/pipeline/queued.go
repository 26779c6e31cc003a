package pipeline

import (
	"time"

	"github.com/devricklin/feishu-messenger/internal/infra/feishu"
)

// QueuedMessage is a native message travelling through a processor buffer,
// plus the delivery state the pipeline tracks for it
type QueuedMessage struct {
	MessageID  string
	ParentID   string
	Chat       *feishu.Chat
	Sender     *feishu.User
	MsgType    string
	Text       string
	Content    string
	Mentions   []feishu.Mention
	CreateTime time.Time
	UpdateTime *time.Time

	SendingFails    int
	FailDescription string
	IsSucceed       bool
}

// NewQueuedMessage copies a received message. A missing create time becomes now.
func NewQueuedMessage(m *feishu.Message) *QueuedMessage {
	q := &QueuedMessage{}
	q.Apply(m)
	if q.CreateTime.IsZero() {
		q.CreateTime = time.Now()
	}
	return q
}

// NewOutgoingMessage builds a text message for chat, optionally replying to replyToID
func NewOutgoingMessage(chat *feishu.Chat, text, replyToID string) *QueuedMessage {
	return &QueuedMessage{
		Chat:       chat,
		ParentID:   replyToID,
		MsgType:    feishu.MsgTypeText,
		Text:       text,
		CreateTime: time.Now(),
	}
}

// Apply copies the native fields of m onto q, keeping the delivery state.
// A chat already set on q is kept since send results carry only the chat id.
func (q *QueuedMessage) Apply(m *feishu.Message) {
	if m == nil {
		return
	}
	q.MessageID = m.MessageID
	q.ParentID = m.ParentID
	if q.Chat == nil {
		q.Chat = m.Chat
	}
	if m.Sender != nil {
		q.Sender = m.Sender
	}
	q.MsgType = m.MsgType
	q.Text = m.Text
	q.Content = m.Content
	q.Mentions = m.Mentions
	if !m.CreateTime.IsZero() {
		q.CreateTime = m.CreateTime
	}
	q.UpdateTime = m.UpdateTime
}

// Native projects q back onto the native message shape
func (q *QueuedMessage) Native() *feishu.Message {
	return &feishu.Message{
		MessageID:  q.MessageID,
		ParentID:   q.ParentID,
		Chat:       q.Chat,
		Sender:     q.Sender,
		MsgType:    q.MsgType,
		Text:       q.Text,
		Content:    q.Content,
		Mentions:   q.Mentions,
		CreateTime: q.CreateTime,
		UpdateTime: q.UpdateTime,
	}
}

// IsEdited reports whether the message carries an edit timestamp
func (q *QueuedMessage) IsEdited() bool {
	return q.UpdateTime != nil
}
