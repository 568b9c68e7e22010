package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"unitalk/internal/model"
	"unitalk/internal/repository/memory"
)

// =============================================================================
// MOCK REPOSITORY
// =============================================================================

// mockConversationRepository lets a test script the race between lookup and insert.
type mockConversationRepository struct {
	getDirectFn    func(ctx context.Context, u1, u2 string) (*model.Conversation, error)
	createDirectFn func(ctx context.Context, u1, u2 string) (*model.Conversation, error)

	getDirectCalls int
}

func (m *mockConversationRepository) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	return nil, model.ErrConversationNotFound
}

func (m *mockConversationRepository) GetDirect(ctx context.Context, u1, u2 string) (*model.Conversation, error) {
	m.getDirectCalls++
	return m.getDirectFn(ctx, u1, u2)
}

func (m *mockConversationRepository) GetByGroupID(ctx context.Context, groupID string) (*model.Conversation, error) {
	return nil, model.ErrConversationNotFound
}

func (m *mockConversationRepository) CreateDirect(ctx context.Context, u1, u2 string) (*model.Conversation, error) {
	return m.createDirectFn(ctx, u1, u2)
}

func (m *mockConversationRepository) CreateForGroup(ctx context.Context, groupID string) (*model.Conversation, error) {
	return nil, model.ErrConflict
}

func (m *mockConversationRepository) ListForUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	return nil, nil
}

func (m *mockConversationRepository) TouchLastMessage(ctx context.Context, id string, at time.Time) error {
	return nil
}

// =============================================================================
// FIND OR CREATE
// =============================================================================

func TestConversation_FindOrCreateDirectIsCanonical(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addUser("alice", "Alice", "en")
	env.addUser("bob", "Bob", "ko")

	first, isNew, err := env.conversations.FindOrCreateDirect(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, "alice", *first.User1ID)
	assert.Equal(t, "bob", *first.User2ID)

	second, isNew, err := env.conversations.FindOrCreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, first.ID, second.ID)
}

func TestConversation_FindOrCreateDirectConcurrent(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("alice", "Alice", "en")
	env.addUser("bob", "Bob", "ko")

	const callers = 20
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		ids   = make(map[string]struct{})
		fresh int
	)
	for i := 0; i < callers; i++ {
		a, b := "alice", "bob"
		if i%2 == 1 {
			a, b = b, a
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			conv, isNew, err := env.conversations.FindOrCreateDirect(context.Background(), a, b)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			ids[conv.ID] = struct{}{}
			if isNew {
				fresh++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, ids, 1)
	assert.Equal(t, 1, fresh)
}

func TestConversation_ConflictIsRetriedAsLookup(t *testing.T) {
	existing := &model.Conversation{ID: "conv-1", User1ID: strPtr("a"), User2ID: strPtr("b")}
	repo := &mockConversationRepository{
		createDirectFn: func(ctx context.Context, u1, u2 string) (*model.Conversation, error) {
			return nil, model.ErrConflict
		},
	}
	// The second lookup sees the row the other caller inserted
	repo.getDirectFn = func(ctx context.Context, u1, u2 string) (*model.Conversation, error) {
		if repo.getDirectCalls == 1 {
			return nil, model.ErrConversationNotFound
		}
		return existing, nil
	}

	store := memory.NewStore()
	store.AddUser(model.User{ID: "b"})
	svc := NewConversationService(repo, memory.NewGroupRepository(store), memory.NewUserRepository(store), memory.NewMessageRepository(store), zap.NewNop())

	conv, isNew, err := svc.FindOrCreateDirect(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, "conv-1", conv.ID)
	assert.Equal(t, 2, repo.getDirectCalls)
}

func TestConversation_FindOrCreateDirectRejects(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("alice", "Alice", "en")

	_, _, err := env.conversations.FindOrCreateDirect(context.Background(), "alice", "alice")
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	_, _, err = env.conversations.FindOrCreateDirect(context.Background(), "alice", "ghost")
	assert.ErrorIs(t, err, model.ErrUserNotFound)
}

func TestConversation_FindOrCreateForGroup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.AddGroup("g1")

	first, isNew, err := env.conversations.FindOrCreateForGroup(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, isNew)

	second, isNew, err := env.conversations.FindOrCreateForGroup(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, first.ID, second.ID)

	_, _, err = env.conversations.FindOrCreateForGroup(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrGroupNotFound)
}

func TestConversation_OpenGroupForMember(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addUser("a", "Minji", "ko")
	env.addUser("z", "Zed", "en")
	env.store.AddGroupMember("g1", "a", model.RoleMember)

	_, _, err := env.conversations.OpenGroupForMember(ctx, "g1", "z")
	assert.ErrorIs(t, err, model.ErrAccessDenied)

	conv, isNew, err := env.conversations.OpenGroupForMember(ctx, "g1", "a")
	require.NoError(t, err)
	assert.True(t, isNew, "outsider must not have created the conversation")
	require.NotNil(t, conv.GroupID)
	assert.Equal(t, "g1", *conv.GroupID)

	_, _, err = env.conversations.OpenGroupForMember(ctx, "missing", "a")
	assert.ErrorIs(t, err, model.ErrGroupNotFound)
}

// =============================================================================
// MEMBERS
// =============================================================================

func TestConversation_MembersAgreeWithParticipation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d"} {
		env.addUser(id, id, "en")
	}
	env.store.AddGroupMember("g1", "a", model.RoleAdmin)
	env.store.AddGroupMember("g1", "c", model.RoleMember)

	direct := env.direct(t, "a", "b")
	group, _, err := env.conversations.FindOrCreateForGroup(ctx, "g1")
	require.NoError(t, err)

	for _, conv := range []*model.Conversation{direct, group} {
		_, members, err := env.conversations.ResolveMembers(ctx, conv.ID)
		require.NoError(t, err)
		for _, user := range []string{"a", "b", "c", "d"} {
			ok, err := env.conversations.IsParticipant(ctx, conv.ID, user)
			require.NoError(t, err)
			assert.Equal(t, members.Contains(user), ok, "conversation %s user %s", conv.ID, user)
		}
	}

	_, members, err := env.conversations.ResolveMembers(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ConversationGroup, members.Kind)
	assert.Equal(t, "g1", members.GroupID)
	require.Len(t, members.Group, 2)

	// Membership is read live
	env.store.AddGroupMember("g1", "d", model.RoleMember)
	ok, err := env.conversations.IsParticipant(ctx, group.ID, "d")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = env.conversations.IsParticipant(ctx, "missing", "a")
	assert.ErrorIs(t, err, model.ErrConversationNotFound)
}

func TestConversation_RoomID(t *testing.T) {
	assert.Equal(t, "room:abc", RoomID("abc"))
}

func TestConversation_ListForUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addUser("a", "Alice", "en")
	env.addUser("b", "Bob", "en")
	env.store.AddGroupMember("g1", "a", model.RoleMember)
	env.store.AddGroupMember("g1", "b", model.RoleMember)

	direct := env.direct(t, "a", "b")
	group, _, err := env.conversations.FindOrCreateForGroup(ctx, "g1")
	require.NoError(t, err)
	sendText(t, env, direct.ID, "b", "one")
	sendText(t, env, direct.ID, "b", "two")

	list, err := env.conversations.ListForUser(ctx, "a")
	require.NoError(t, err)
	require.Len(t, list, 2)

	byID := map[string]model.ConversationSummary{}
	for _, s := range list {
		byID[s.ID] = s
	}
	require.Contains(t, byID, direct.ID)
	require.Contains(t, byID, group.ID)

	assert.Equal(t, 2, byID[direct.ID].UnreadCount)
	require.NotNil(t, byID[direct.ID].OtherUser)
	assert.Equal(t, "b", byID[direct.ID].OtherUser.ID)
	assert.Equal(t, string(model.ConversationGroup), byID[group.ID].Kind)
	assert.Nil(t, byID[group.ID].OtherUser)
}
