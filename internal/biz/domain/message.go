package domain

import "time"

// MessengerFeishu tags messages that came through the Feishu transport
const MessengerFeishu = "FS"

// MessageType is the classified message type tag
type MessageType string

const (
	MessageTypeText     MessageType = "TXT"
	MessageTypePhoto    MessageType = "PHT"
	MessageTypeAudio    MessageType = "AUD"
	MessageTypeVideo    MessageType = "VID"
	MessageTypeVoice    MessageType = "VOI"
	MessageTypeDocument MessageType = "DOC"
	MessageTypeSticker  MessageType = "STK"
	MessageTypeLocation MessageType = "LOC"
	MessageTypeContact  MessageType = "CNT"
	MessageTypeOther    MessageType = "OTH"
	MessageTypeService  MessageType = "SRV"
	MessageTypeUnknown  MessageType = "UKN"
)

// Message represents a stored chat message.
// ID stays 0 until the message is persisted or matched to an existing row.
type Message struct {
	ID               int64
	MessengerID      string
	ChatID           int64
	UserID           int64
	ReplyToMessageID *int64
	MessageTypeID    MessageType
	Text             string
	RawData          string
	RawDataHash      string
	IsSucceed        bool
	FailsCount       int
	FailDescription  string
	IsDeleted        bool
	InsertDate       time.Time
	UpdateDate       time.Time
}

// SetRawData replaces the raw payload and recomputes its hash
func (m *Message) SetRawData(raw string) {
	m.RawData = raw
	m.RawDataHash = HashRawData(raw)
}

// IsNew reports whether the message has no stored counterpart yet
func (m *Message) IsNew() bool {
	return m.ID == 0
}
