package model

// PushNotification is one best-effort push to a single device token.
type PushNotification struct {
	Token string            `json:"token"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Push data keys
const (
	PushDataConversationID = "conversation_id"
	PushDataSenderID       = "sender_id"
	PushDataMessageID      = "message_id"
)
