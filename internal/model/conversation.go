package model

import (
	"time"
)

// ConversationKind tells direct and group conversations apart.
type ConversationKind string

const (
	ConversationDirect ConversationKind = "direct"
	ConversationGroup  ConversationKind = "group"
)

// Conversation is either a direct conversation (User1ID < User2ID) or a group
// conversation (GroupID). Exactly one of the two is set.
type Conversation struct {
	ID            string    `db:"id" json:"id"`
	User1ID       *string   `db:"user1_id" json:"user1_id,omitempty"`
	User2ID       *string   `db:"user2_id" json:"user2_id,omitempty"`
	GroupID       *string   `db:"group_id" json:"group_id,omitempty"`
	LastMessageAt time.Time `db:"last_message_at" json:"last_message_at"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Kind derives the conversation kind from which key is set.
func (c *Conversation) Kind() ConversationKind {
	if c.GroupID != nil {
		return ConversationGroup
	}
	return ConversationDirect
}

// CanonicalPair orders two user ids so (a, b) and (b, a) map to the same row.
func CanonicalPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// Members is the resolved recipient set of a conversation.
// UserIDs holds the pair for direct conversations and every member for groups;
// Group additionally carries member languages for translation targets.
type Members struct {
	Kind    ConversationKind
	UserIDs []string
	GroupID string
	Group   []GroupMember
}

// Contains reports whether userID is one of the members.
func (m Members) Contains(userID string) bool {
	for _, id := range m.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// ConversationSummary is one row of a user's conversation list.
type ConversationSummary struct {
	ID            string       `json:"id"`
	Kind          string       `json:"kind"`
	GroupID       *string      `json:"group_id,omitempty"`
	OtherUser     *UserSummary `json:"other_user,omitempty"`
	LastMessageAt time.Time    `json:"last_message_at"`
	UnreadCount   int          `json:"unread_count"`
}

// StartDirectRequest is the request body for opening a direct conversation.
type StartDirectRequest struct {
	UserID string `json:"user_id"`
}
