package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event names emitted to and accepted from live connections.
const (
	EventAuthenticated       = "authenticated"
	EventError               = "error"
	EventNewMessage          = "new_message"
	EventMessageSent         = "message_sent"
	EventMessagesRead        = "messages_read"
	EventMessagesReadSync    = "messages_read_sync"
	EventTyping              = "typing"
	EventRoomJoined          = "room_joined"
	EventRoomLeft            = "room_left"
	EventFriendOnline        = "friend_online"
	EventFriendOffline       = "friend_offline"
	EventConversationStarted = "conversation_started"

	// inbound only
	EventSendMessage       = "send_message"
	EventMarkRead          = "mark_read"
	EventJoinRoom          = "join_room"
	EventLeaveRoom         = "leave_room"
	EventStartConversation = "start_conversation"
)

// Event is the envelope written to a live connection.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent marshals payload into an Event.
func NewEvent(eventType string, payload interface{}) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{Type: eventType, Data: data}, nil
}

// Decode unmarshals the event data into v.
func (e Event) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s has no data", e.Type)
	}
	return json.Unmarshal(e.Data, v)
}

// NewMessagePayload is the new_message event body. Text is already rendered in
// the receiving user's language when the target is a single user.
type NewMessagePayload struct {
	MessageID        string         `json:"message_id"`
	ConversationID   string         `json:"conversation_id"`
	SenderID         string         `json:"sender_id"`
	SenderName       string         `json:"sender_name"`
	Text             string         `json:"text"`
	OriginalText     string         `json:"original_text"`
	OriginalLanguage string         `json:"original_language,omitempty"`
	TranslatedTexts  TranslationMap `json:"translated_texts"`
	IsAnnouncement   bool           `json:"is_announcement"`
	SourceDevice     DeviceClass    `json:"source_device"`
	CreatedAt        time.Time      `json:"created_at"`
}

// AuthenticatedPayload confirms a socket handshake.
type AuthenticatedPayload struct {
	Success      bool        `json:"success"`
	UserID       string      `json:"user_id"`
	DeviceID     string      `json:"device_id"`
	DeviceType   DeviceClass `json:"device_type"`
	ConnectionID string      `json:"connection_id"`
}

// MessageSentPayload acknowledges a send to the originating connection.
type MessageSentPayload struct {
	TempID    string    `json:"temp_id,omitempty"`
	MessageID string    `json:"message_id"`
	CreatedAt time.Time `json:"created_at"`
}

// MessagesReadPayload is sent to an original sender, and mirrored to the
// reader's other devices as messages_read_sync.
type MessagesReadPayload struct {
	MessageIDs []string  `json:"message_ids"`
	ReadBy     string    `json:"read_by"`
	ReadAt     time.Time `json:"read_at"`
}

// TypingPayload is relayed to the other participants.
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id,omitempty"`
	IsTyping       bool   `json:"is_typing"`
}

// RoomPayload answers join_room/leave_room.
type RoomPayload struct {
	ConversationID string `json:"conversation_id"`
	RoomID         string `json:"room_id"`
}

// PresencePayload is the friend_online/friend_offline body.
type PresencePayload struct {
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorPayload is the error event body.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TempID  string `json:"temp_id,omitempty"`
}

// SendMessageCommand is the inbound send_message body.
type SendMessageCommand struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
	TempID         string `json:"temp_id"`
	SourceLang     string `json:"source_lang,omitempty"`
}

// MarkReadCommand is the inbound mark_read body.
type MarkReadCommand struct {
	MessageIDs []string `json:"message_ids"`
}

// RoomCommand is the inbound join_room/leave_room body.
type RoomCommand struct {
	ConversationID string `json:"conversation_id"`
}

// StartConversationCommand is the inbound start_conversation body.
type StartConversationCommand struct {
	UserID string `json:"user_id"`
}

// ConversationStartedPayload answers start_conversation.
type ConversationStartedPayload struct {
	Conversation *Conversation `json:"conversation"`
	IsNew        bool          `json:"is_new"`
}
