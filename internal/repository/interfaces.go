package repository

import (
	"context"
	"time"

	"unitalk/internal/model"
)

type UserRepository interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	// GetSummaries returns the summaries of the given users keyed by id; unknown ids are skipped
	GetSummaries(ctx context.Context, ids []string) (map[string]model.UserSummary, error)
}

type ContactRepository interface {
	// GetContactIDs returns the users that userID has in its contact list
	GetContactIDs(ctx context.Context, userID string) ([]string, error)
}

type DeviceRepository interface {
	// Upsert creates or refreshes the (user, class) slot and marks it online
	Upsert(ctx context.Context, reg model.DeviceRegistration) (*model.Device, error)
	SetOnline(ctx context.Context, userID string, class model.DeviceClass, connectionID string) error
	SetOffline(ctx context.Context, userID string, class model.DeviceClass) error
	// SetOfflineByConnection returns nil when no slot holds connectionID
	SetOfflineByConnection(ctx context.Context, connectionID string) (*model.DeviceIdentity, error)
	AnyOnline(ctx context.Context, userID string) (bool, error)
	ListOnline(ctx context.Context, userID string) ([]model.OnlineDevice, error)
	ListByUser(ctx context.Context, userID string) ([]model.Device, error)
	// Delete returns model.ErrDeviceNotFound when deviceID is not owned by userID
	Delete(ctx context.Context, deviceID, userID string) error
}

type ConversationRepository interface {
	GetByID(ctx context.Context, id string) (*model.Conversation, error)
	GetDirect(ctx context.Context, user1ID, user2ID string) (*model.Conversation, error)
	GetByGroupID(ctx context.Context, groupID string) (*model.Conversation, error)
	// CreateDirect returns model.ErrConflict when the pair already has a conversation
	CreateDirect(ctx context.Context, user1ID, user2ID string) (*model.Conversation, error)
	// CreateForGroup returns model.ErrConflict when the group already has a conversation
	CreateForGroup(ctx context.Context, groupID string) (*model.Conversation, error)
	// ListForUser returns direct conversations of userID and those of its groups, newest first
	ListForUser(ctx context.Context, userID string) ([]model.Conversation, error)
	// TouchLastMessage never moves last_message_at backwards
	TouchLastMessage(ctx context.Context, id string, at time.Time) error
}

type GroupRepository interface {
	Exists(ctx context.Context, groupID string) (bool, error)
	// GetMembers returns members joined with their view language, oldest first
	GetMembers(ctx context.Context, groupID string) ([]model.GroupMember, error)
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
}

type MessageRepository interface {
	Create(ctx context.Context, msg *model.Message) error
	GetByIDs(ctx context.Context, ids []string) ([]model.Message, error)
	ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error)
	CountByConversation(ctx context.Context, conversationID string) (int, error)
	// MarkRead sets read_at on unread messages and returns only the rows it changed
	MarkRead(ctx context.Context, ids []string, at time.Time) ([]model.ReadMark, error)
	CountUnread(ctx context.Context, conversationID, userID string) (int, error)
}
