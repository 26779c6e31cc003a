package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/devricklin/feishu-messenger/internal/biz/domain"
	"github.com/devricklin/feishu-messenger/internal/infra/feishu"
)

var messageTypes = map[string]domain.MessageType{
	feishu.MsgTypeText:      domain.MessageTypeText,
	feishu.MsgTypePost:      domain.MessageTypeText,
	feishu.MsgTypeImage:     domain.MessageTypePhoto,
	feishu.MsgTypeAudio:     domain.MessageTypeVoice,
	feishu.MsgTypeMedia:     domain.MessageTypeVideo,
	feishu.MsgTypeFile:      domain.MessageTypeDocument,
	feishu.MsgTypeSticker:   domain.MessageTypeSticker,
	feishu.MsgTypeLocation:  domain.MessageTypeLocation,
	feishu.MsgTypeShareUser: domain.MessageTypeContact,

	feishu.MsgTypeShareChat:          domain.MessageTypeOther,
	feishu.MsgTypeInteractive:        domain.MessageTypeOther,
	feishu.MsgTypeHongbao:            domain.MessageTypeOther,
	feishu.MsgTypeShareCalendarEvent: domain.MessageTypeOther,
	feishu.MsgTypeCalendar:           domain.MessageTypeOther,
	feishu.MsgTypeGeneralCalendar:    domain.MessageTypeOther,
	feishu.MsgTypeVideoChat:          domain.MessageTypeOther,
	feishu.MsgTypeTodo:               domain.MessageTypeOther,
	feishu.MsgTypeVote:               domain.MessageTypeOther,
	feishu.MsgTypeMergeForward:       domain.MessageTypeOther,
	feishu.MsgTypeFolder:             domain.MessageTypeOther,

	feishu.MsgTypeSystem: domain.MessageTypeService,
}

// ToGeneralMessageType classifies a native message type
func ToGeneralMessageType(msgType string) domain.MessageType {
	if t, ok := messageTypes[msgType]; ok {
		return t
	}
	return domain.MessageTypeUnknown
}

// ToGeneralChatType classifies a native chat type
func ToGeneralChatType(chatType string) domain.ChatType {
	switch chatType {
	case feishu.ChatTypeP2P:
		return domain.ChatTypePrivate
	case feishu.ChatTypeGroup:
		return domain.ChatTypeGroup
	case feishu.ChatTypeTopic:
		return domain.ChatTypeChannel
	default:
		return domain.ChatTypeUndefined
	}
}

// ItemConverter maps native Feishu entities to domain entities and back
type ItemConverter struct{}

// ToGeneralMessage converts a *feishu.Message or *QueuedMessage.
// Delivery state is carried over from a QueuedMessage.
func (ItemConverter) ToGeneralMessage(native any) (*domain.Message, error) {
	var (
		m *feishu.Message
		q *QueuedMessage
	)
	switch v := native.(type) {
	case *feishu.Message:
		m = v
	case *QueuedMessage:
		q = v
		if q != nil {
			m = q.Native()
		}
	default:
		return nil, fmt.Errorf("%w: %T is not a message", domain.ErrInvalidCast, native)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: nil message", domain.ErrInvalidCast)
	}

	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize message: %w", err)
	}

	msg := &domain.Message{
		MessengerID:   domain.MessengerFeishu,
		MessageTypeID: ToGeneralMessageType(m.MsgType),
		Text:          ReplaceEmoji(m.Text),
		IsSucceed:     true,
		InsertDate:    m.CreateTime,
		UpdateDate:    m.CreateTime,
	}
	if m.UpdateTime != nil {
		msg.UpdateDate = *m.UpdateTime
	}
	if q != nil {
		msg.IsSucceed = q.IsSucceed
		msg.FailsCount = q.SendingFails
		msg.FailDescription = q.FailDescription
	}
	msg.SetRawData(ReplaceEmoji(string(raw)))
	return msg, nil
}

// ToGeneralChat converts a *feishu.Chat
func (ItemConverter) ToGeneralChat(native any) (*domain.Chat, error) {
	c, ok := native.(*feishu.Chat)
	if !ok || c == nil {
		return nil, fmt.Errorf("%w: %T is not a chat", domain.ErrInvalidCast, native)
	}

	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize chat: %w", err)
	}

	chat := &domain.Chat{
		Name:        ReplaceEmoji(c.Name),
		Description: ReplaceEmoji(c.Description),
		ChatTypeID:  ToGeneralChatType(c.ChatType),
	}
	chat.SetRawData(ReplaceEmoji(string(raw)))
	return chat, nil
}

// ToGeneralUser converts a *feishu.User. The role is left for reconciliation.
func (ItemConverter) ToGeneralUser(native any) (*domain.User, error) {
	u, ok := native.(*feishu.User)
	if !ok || u == nil {
		return nil, fmt.Errorf("%w: %T is not a user", domain.ErrInvalidCast, native)
	}

	raw, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize user: %w", err)
	}

	user := &domain.User{
		Name:     ReplaceEmoji(u.Name),
		FullName: ReplaceEmoji(u.Name),
		IsBot:    u.IsBot(),
	}
	user.SetRawData(ReplaceEmoji(string(raw)))
	return user, nil
}

// ToNativeMessage restores the native message stored in a domain message
func (ItemConverter) ToNativeMessage(m *domain.Message) (*feishu.Message, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil message", domain.ErrInvalidArgument)
	}
	var native feishu.Message
	if err := json.Unmarshal([]byte(m.RawData), &native); err != nil {
		return nil, fmt.Errorf("%w: message %d raw data: %v", domain.ErrInvalidCast, m.ID, err)
	}
	return &native, nil
}

// ToNativeChat restores the native chat stored in a domain chat
func (ItemConverter) ToNativeChat(c *domain.Chat) (*feishu.Chat, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil chat", domain.ErrInvalidArgument)
	}
	var native feishu.Chat
	if err := json.Unmarshal([]byte(c.RawData), &native); err != nil {
		return nil, fmt.Errorf("%w: chat %d raw data: %v", domain.ErrInvalidCast, c.ID, err)
	}
	if native.ChatID == "" {
		return nil, fmt.Errorf("%w: chat %d has no native id", domain.ErrInvalidCast, c.ID)
	}
	return &native, nil
}

// ToNativeUser restores the native user stored in a domain user
func (ItemConverter) ToNativeUser(u *domain.User) (*feishu.User, error) {
	if u == nil {
		return nil, fmt.Errorf("%w: nil user", domain.ErrInvalidArgument)
	}
	var native feishu.User
	if err := json.Unmarshal([]byte(u.RawData), &native); err != nil {
		return nil, fmt.Errorf("%w: user %d raw data: %v", domain.ErrInvalidCast, u.ID, err)
	}
	return &native, nil
}

// BuildEvent converts a queued message with its chat and sender into an event envelope
func (c ItemConverter) BuildEvent(q *QueuedMessage, action domain.MessageAction) (*domain.MessageActionEvent, error) {
	if q == nil || q.Chat == nil {
		return nil, fmt.Errorf("%w: message without chat", domain.ErrInvalidArgument)
	}

	msg, err := c.ToGeneralMessage(q)
	if err != nil {
		return nil, err
	}
	chat, err := c.ToGeneralChat(q.Chat)
	if err != nil {
		return nil, err
	}

	ev := &domain.MessageActionEvent{
		Message:  msg,
		Chat:     chat,
		ChatType: chat.ChatTypeID,
		Action:   action,
	}
	if q.Sender != nil {
		if ev.User, err = c.ToGeneralUser(q.Sender); err != nil {
			return nil, err
		}
	}
	return ev, nil
}
