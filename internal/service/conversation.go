package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"unitalk/internal/model"
	"unitalk/internal/repository"
)

// RoomID is the broadcast room of a conversation.
func RoomID(conversationID string) string {
	return "room:" + conversationID
}

// ConversationService resolves conversations to their members and creates
// them idempotently.
type ConversationService struct {
	convRepo    repository.ConversationRepository
	groupRepo   repository.GroupRepository
	userRepo    repository.UserRepository
	messageRepo repository.MessageRepository
	logger      *zap.Logger
}

func NewConversationService(
	convRepo repository.ConversationRepository,
	groupRepo repository.GroupRepository,
	userRepo repository.UserRepository,
	messageRepo repository.MessageRepository,
	logger *zap.Logger,
) *ConversationService {
	return &ConversationService{
		convRepo:    convRepo,
		groupRepo:   groupRepo,
		userRepo:    userRepo,
		messageRepo: messageRepo,
		logger:      logger.Named("conversation"),
	}
}

// Get returns the conversation or model.ErrConversationNotFound.
func (s *ConversationService) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, model.ErrConversationNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

// ResolveMembers returns who belongs to the conversation right now.
// Group membership is read live, never cached.
func (s *ConversationService) ResolveMembers(ctx context.Context, conversationID string) (*model.Conversation, model.Members, error) {
	conv, err := s.Get(ctx, conversationID)
	if err != nil {
		return nil, model.Members{}, err
	}

	if conv.Kind() == model.ConversationDirect {
		return conv, model.Members{
			Kind:    model.ConversationDirect,
			UserIDs: []string{*conv.User1ID, *conv.User2ID},
		}, nil
	}

	group, err := s.groupRepo.GetMembers(ctx, *conv.GroupID)
	if err != nil {
		return nil, model.Members{}, fmt.Errorf("failed to get group members: %w", err)
	}
	ids := make([]string, 0, len(group))
	for _, m := range group {
		ids = append(ids, m.UserID)
	}
	return conv, model.Members{
		Kind:    model.ConversationGroup,
		UserIDs: ids,
		GroupID: *conv.GroupID,
		Group:   group,
	}, nil
}

// IsParticipant reports whether userID may read and write the conversation.
func (s *ConversationService) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	conv, err := s.Get(ctx, conversationID)
	if err != nil {
		return false, err
	}

	if conv.Kind() == model.ConversationDirect {
		return *conv.User1ID == userID || *conv.User2ID == userID, nil
	}

	ok, err := s.groupRepo.IsMember(ctx, *conv.GroupID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to check group membership: %w", err)
	}
	return ok, nil
}

// FindOrCreateDirect returns the direct conversation of a and b, creating it
// when missing. isNew is true only for the caller whose insert won.
func (s *ConversationService) FindOrCreateDirect(ctx context.Context, a, b string) (*model.Conversation, bool, error) {
	if a == "" || b == "" || a == b {
		return nil, false, model.ErrInvalidArgument
	}
	u1, u2 := model.CanonicalPair(a, b)

	conv, err := s.convRepo.GetDirect(ctx, u1, u2)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, model.ErrConversationNotFound) {
		return nil, false, fmt.Errorf("failed to get direct conversation: %w", err)
	}

	if _, err := s.userRepo.GetByID(ctx, b); err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("failed to get user: %w", err)
	}

	conv, err = s.convRepo.CreateDirect(ctx, u1, u2)
	if errors.Is(err, model.ErrConflict) {
		// Someone else created it between our lookup and insert
		conv, err = s.convRepo.GetDirect(ctx, u1, u2)
		if err != nil {
			return nil, false, fmt.Errorf("failed to get direct conversation after conflict: %w", err)
		}
		return conv, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create direct conversation: %w", err)
	}

	s.logger.Debug("Direct conversation created", zap.String("conversation", conv.ID), zap.String("user1", u1), zap.String("user2", u2))
	return conv, true, nil
}

// FindOrCreateForGroup returns the conversation of groupID, creating it when missing.
func (s *ConversationService) FindOrCreateForGroup(ctx context.Context, groupID string) (*model.Conversation, bool, error) {
	exists, err := s.groupRepo.Exists(ctx, groupID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to check group: %w", err)
	}
	if !exists {
		return nil, false, model.ErrGroupNotFound
	}

	conv, err := s.convRepo.GetByGroupID(ctx, groupID)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, model.ErrConversationNotFound) {
		return nil, false, fmt.Errorf("failed to get group conversation: %w", err)
	}

	conv, err = s.convRepo.CreateForGroup(ctx, groupID)
	if errors.Is(err, model.ErrConflict) {
		conv, err = s.convRepo.GetByGroupID(ctx, groupID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to get group conversation after conflict: %w", err)
		}
		return conv, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create group conversation: %w", err)
	}

	s.logger.Debug("Group conversation created", zap.String("conversation", conv.ID), zap.String("group", groupID))
	return conv, true, nil
}

// OpenGroupForMember is FindOrCreateForGroup restricted to members of the
// group, so outsiders cannot create the conversation.
func (s *ConversationService) OpenGroupForMember(ctx context.Context, groupID, userID string) (*model.Conversation, bool, error) {
	member, err := s.groupRepo.IsMember(ctx, groupID, userID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to check group membership: %w", err)
	}
	if !member {
		exists, err := s.groupRepo.Exists(ctx, groupID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to check group: %w", err)
		}
		if !exists {
			return nil, false, model.ErrGroupNotFound
		}
		return nil, false, model.ErrAccessDenied
	}
	return s.FindOrCreateForGroup(ctx, groupID)
}

// ListForUser returns userID's conversations, newest first, with the other
// participant of direct conversations and the unread count.
func (s *ConversationService) ListForUser(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	convs, err := s.convRepo.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	var otherIDs []string
	for _, c := range convs {
		if c.Kind() == model.ConversationDirect {
			otherIDs = append(otherIDs, otherParticipant(&c, userID))
		}
	}
	others := map[string]model.UserSummary{}
	if len(otherIDs) > 0 {
		others, err = s.userRepo.GetSummaries(ctx, otherIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to get user summaries: %w", err)
		}
	}

	result := make([]model.ConversationSummary, 0, len(convs))
	for i := range convs {
		c := &convs[i]
		unread, err := s.messageRepo.CountUnread(ctx, c.ID, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to count unread messages: %w", err)
		}

		summary := model.ConversationSummary{
			ID:            c.ID,
			Kind:          string(c.Kind()),
			GroupID:       c.GroupID,
			LastMessageAt: c.LastMessageAt,
			UnreadCount:   unread,
		}
		if c.Kind() == model.ConversationDirect {
			if other, ok := others[otherParticipant(c, userID)]; ok {
				summary.OtherUser = &other
			}
		}
		result = append(result, summary)
	}
	return result, nil
}

func otherParticipant(c *model.Conversation, userID string) string {
	if *c.User1ID == userID {
		return *c.User2ID
	}
	return *c.User1ID
}

// Touch moves last_message_at forward to at.
func (s *ConversationService) Touch(ctx context.Context, conversationID string, at time.Time) error {
	if err := s.convRepo.TouchLastMessage(ctx, conversationID, at); err != nil {
		return fmt.Errorf("failed to update last message time: %w", err)
	}
	return nil
}
