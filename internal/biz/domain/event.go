package domain

// MessageAction tags what happened to a message
type MessageAction string

const (
	MessageActionUndefined MessageAction = "UNDEFINED"
	MessageActionReceived  MessageAction = "RECEIVED"
	MessageActionEdited    MessageAction = "EDITED"
	MessageActionSending   MessageAction = "SENDING"
	MessageActionDeleted   MessageAction = "DELETED"
)

// MessageActionEvent correlates a message with its chat and author for one lifecycle action.
// Subscribers may set Handled to suppress the default fallback (the unknown command reply).
type MessageActionEvent struct {
	Message  *Message      `json:"message"`
	Chat     *Chat         `json:"chat"`
	User     *User         `json:"user,omitempty"`
	ChatType ChatType      `json:"chat_type"`
	Action   MessageAction `json:"action"`
	Handled  bool          `json:"handled"`
}
