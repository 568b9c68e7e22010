package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// TranslationMap maps a language tag to the translated text. It may be partial.
type TranslationMap map[string]string

// Value stores the map as JSONB.
func (t TranslationMap) Value() (driver.Value, error) {
	if t == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(t)
}

// Scan reads a JSONB column.
func (t *TranslationMap) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*t = TranslationMap{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("scan translation map: unsupported type %T", src)
	}
	m := TranslationMap{}
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("scan translation map: %w", err)
	}
	*t = m
	return nil
}

// TextFor returns the translation for lang, or the original text.
func (m *Message) TextFor(lang string) string {
	if lang != "" {
		if s, ok := m.TranslatedTexts[lang]; ok && s != "" {
			return s
		}
	}
	return m.OriginalText
}

// Message is immutable once created except for ReadAt.
type Message struct {
	ID               string         `db:"id" json:"id"`
	ConversationID   string         `db:"conversation_id" json:"conversation_id"`
	SenderID         string         `db:"sender_id" json:"sender_id"`
	OriginalText     string         `db:"original_text" json:"original_text"`
	OriginalLanguage *string        `db:"original_language" json:"original_language"`
	TranslatedTexts  TranslationMap `db:"translated_texts" json:"translated_texts"`
	SenderLanguage   *string        `db:"sender_language" json:"sender_language,omitempty"`
	SourceDevice     DeviceClass    `db:"source_device" json:"source_device"`
	IsAnnouncement   bool           `db:"is_announcement" json:"is_announcement"`
	ReadAt           *time.Time     `db:"read_at" json:"read_at"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
}

// ReadMark is a message that was just transitioned to read.
type ReadMark struct {
	MessageID      string    `db:"id"`
	ConversationID string    `db:"conversation_id"`
	SenderID       string    `db:"sender_id"`
	ReadAt         time.Time `db:"read_at"`
}

// SendMessageRequest is the HTTP request body for sending a message.
type SendMessageRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang,omitempty"`
	TempID     string `json:"temp_id,omitempty"`
}

// MarkReadRequest is the request body for marking messages as read.
type MarkReadRequest struct {
	MessageIDs []string `json:"message_ids"`
}

// HistoryMessage is a message rendered for one viewer.
type HistoryMessage struct {
	ID               string     `json:"id"`
	SenderID         string     `json:"sender_id"`
	OriginalText     string     `json:"original_text"`
	OriginalLanguage *string    `json:"original_language"`
	TranslatedText   string     `json:"translated_text"`
	IsAnnouncement   bool       `json:"is_announcement"`
	SourceDevice     string     `json:"source_device"`
	CreatedAt        time.Time  `json:"created_at"`
	ReadAt           *time.Time `json:"read_at"`
}

// MessageListResponse is the paginated history response.
type MessageListResponse struct {
	Messages []HistoryMessage `json:"messages"`
	Total    int              `json:"total"`
	HasMore  bool             `json:"has_more"`
}
