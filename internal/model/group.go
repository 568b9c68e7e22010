package model

import "time"

// Group member roles
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// GroupMember is one membership row joined with the member's language.
type GroupMember struct {
	GroupID      string    `db:"group_id" json:"group_id"`
	UserID       string    `db:"user_id" json:"user_id"`
	Role         string    `db:"role" json:"role"`
	LanguageCode *string   `db:"language_code" json:"language_code"`
	JoinedAt     time.Time `db:"joined_at" json:"joined_at"`
}

// AnnouncementRequest is the request body for a group announcement.
type AnnouncementRequest struct {
	Content    string `json:"content"`
	SenderLang string `json:"sender_lang"`
}
