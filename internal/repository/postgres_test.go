package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unitalk/internal/model"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return sqlx.NewDb(db, "postgres"), mock
}

const (
	deviceID  = "0b4f3c1e-5d6a-4e1f-9a1b-2c3d4e5f6a70"
	convID    = "6f1c2d3e-4b5a-4c6d-8e7f-9a0b1c2d3e4f"
	groupID   = "a1b2c3d4-e5f6-4a7b-8c9d-0e1f2a3b4c5d"
	memberID  = "11111111-2222-4333-8444-555555555555"
	messageID = "9e8d7c6b-5a4f-4e3d-8c2b-1a0f9e8d7c6b"
	otherMsg  = "0f1e2d3c-4b5a-4968-8776-655443322110"
)

var (
	deviceCols       = []string{"id", "user_id", "device_type", "device_name", "device_token", "is_online", "socket_id", "last_active_at", "created_at"}
	conversationCols = []string{"id", "user1_id", "user2_id", "group_id", "last_message_at", "created_at"}
)

// ============================================================================
// Devices
// ============================================================================

func TestDeviceRepository_Upsert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDeviceRepository(db)
	now := time.Now()

	mock.ExpectQuery(`(?s)INSERT\s+INTO\s+user_devices.*ON\s+CONFLICT\s+\(user_id,\s*device_type\)`).
		WithArgs("u1", "pc", sqlmock.AnyArg(), sqlmock.AnyArg(), "h1").
		WillReturnRows(sqlmock.NewRows(deviceCols).
			AddRow("d1", "u1", "pc", nil, "tok", true, "h1", now, now))

	d, err := repo.Upsert(context.Background(), model.DeviceRegistration{UserID: "u1", Class: model.DevicePC, ConnectionID: "h1"})
	require.NoError(t, err)
	assert.Equal(t, "d1", d.ID)
	assert.Equal(t, model.DevicePC, d.Class)
	assert.True(t, d.IsOnline)
	assert.Nil(t, d.Name)
	require.NotNil(t, d.PushToken)
	assert.Equal(t, "tok", *d.PushToken)
}

func TestDeviceRepository_SetOfflineByConnection(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDeviceRepository(db)
	q := `(?s)UPDATE\s+user_devices\s+SET\s+is_online\s*=\s*false.*WHERE\s+socket_id\s*=\s*\$1`

	mock.ExpectQuery(q).WithArgs("h1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "device_type"}).AddRow("u1", "mobile"))
	id, err := repo.SetOfflineByConnection(context.Background(), "h1")
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "u1", id.UserID)
	assert.Equal(t, model.DeviceMobile, id.Class)

	// superseded handle: nothing matches
	mock.ExpectQuery(q).WithArgs("stale").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "device_type"}))
	id, err = repo.SetOfflineByConnection(context.Background(), "stale")
	require.NoError(t, err)
	assert.Nil(t, id)
}

func TestDeviceRepository_AnyOnline(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDeviceRepository(db)

	mock.ExpectQuery(`SELECT\s+EXISTS`).WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	online, err := repo.AnyOnline(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, online)

	mock.ExpectQuery(`SELECT\s+EXISTS`).WithArgs("u2").WillReturnError(errors.New("db down"))
	_, err = repo.AnyOnline(context.Background(), "u2")
	assert.ErrorContains(t, err, "db down")
}

func TestDeviceRepository_Delete(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDeviceRepository(db)
	q := `DELETE\s+FROM\s+user_devices\s+WHERE\s+id\s*=\s*\$1\s+AND\s+user_id\s*=\s*\$2`

	mock.ExpectExec(q).WithArgs(deviceID, "u1").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Delete(context.Background(), deviceID, "u1"))

	mock.ExpectExec(q).WithArgs(deviceID, "intruder").WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Delete(context.Background(), deviceID, "intruder"), model.ErrDeviceNotFound)

	// malformed id never reaches the database
	assert.ErrorIs(t, repo.Delete(context.Background(), "not-a-uuid", "u1"), model.ErrDeviceNotFound)
}

// ============================================================================
// Conversations
// ============================================================================

func TestConversationRepository_GetByIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewConversationRepository(db)

	mock.ExpectQuery(`FROM\s+conversations\s+WHERE\s+id\s*=\s*\$1`).WithArgs(convID).
		WillReturnRows(sqlmock.NewRows(conversationCols))

	_, err := repo.GetByID(context.Background(), convID)
	assert.ErrorIs(t, err, model.ErrConversationNotFound)
}

func TestConversationRepository_GetByIDMalformed(t *testing.T) {
	db, _ := newMockDB(t)
	repo := NewConversationRepository(db)

	// no query expected: "x" would fail the uuid cast
	_, err := repo.GetByID(context.Background(), "x")
	assert.ErrorIs(t, err, model.ErrConversationNotFound)
}

func TestConversationRepository_CreateDirect(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewConversationRepository(db)
	q := `(?s)INSERT\s+INTO\s+conversations\s+\(user1_id,\s*user2_id\).*ON\s+CONFLICT`
	now := time.Now()

	mock.ExpectQuery(q).WithArgs("a", "b").
		WillReturnRows(sqlmock.NewRows(conversationCols).AddRow("c1", "a", "b", nil, now, now))
	conv, err := repo.CreateDirect(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.Equal(t, "c1", conv.ID)
	assert.Equal(t, model.ConversationDirect, conv.Kind())

	// ON CONFLICT DO NOTHING returns no row
	mock.ExpectQuery(q).WithArgs("a", "b").WillReturnRows(sqlmock.NewRows(conversationCols))
	_, err = repo.CreateDirect(context.Background(), "a", "b")
	assert.ErrorIs(t, err, model.ErrConflict)

	mock.ExpectQuery(q).WithArgs("a", "b").WillReturnError(&pq.Error{Code: uniqueViolation})
	_, err = repo.CreateDirect(context.Background(), "a", "b")
	assert.ErrorIs(t, err, model.ErrConflict)
}

func TestConversationRepository_TouchLastMessage(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewConversationRepository(db)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectExec(`UPDATE\s+conversations\s+SET\s+last_message_at\s*=\s*GREATEST`).
		WithArgs("c1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.TouchLastMessage(context.Background(), "c1", at))
}

// ============================================================================
// Groups
// ============================================================================

func TestGroupRepository_IsMember(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGroupRepository(db)

	mock.ExpectQuery(`FROM\s+group_members\s+WHERE\s+group_id\s*=\s*\$1\s+AND\s+user_id\s*=\s*\$2`).
		WithArgs(groupID, memberID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	member, err := repo.IsMember(context.Background(), groupID, memberID)
	require.NoError(t, err)
	assert.False(t, member)

	member, err = repo.IsMember(context.Background(), "g1", memberID)
	require.NoError(t, err)
	assert.False(t, member)
}

// ============================================================================
// Messages
// ============================================================================

func TestMessageRepository_Create(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepository(db)
	now := time.Now()

	mock.ExpectQuery(`(?s)INSERT\s+INTO\s+messages.*RETURNING\s+id,\s*created_at`).
		WithArgs("c1", "u1", "hello", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "pc", false).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("m1", now))

	msg := &model.Message{ConversationID: "c1", SenderID: "u1", OriginalText: "hello", SourceDevice: model.DevicePC}
	require.NoError(t, repo.Create(context.Background(), msg))
	assert.Equal(t, "m1", msg.ID)
	assert.NotNil(t, msg.TranslatedTexts)
}

func TestMessageRepository_MarkRead(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepository(db)
	at := time.Now()

	marks, err := repo.MarkRead(context.Background(), nil, at)
	require.NoError(t, err)
	assert.Empty(t, marks)

	mock.ExpectQuery(`(?s)UPDATE\s+messages\s+SET\s+read_at.*read_at\s+IS\s+NULL`).
		WithArgs(sqlmock.AnyArg(), at).
		WillReturnRows(sqlmock.NewRows([]string{"id", "conversation_id", "sender_id", "read_at"}).
			AddRow(messageID, convID, "u2", at))

	marks, err = repo.MarkRead(context.Background(), []string{messageID, otherMsg}, at)
	require.NoError(t, err)
	require.Len(t, marks, 1)
	assert.Equal(t, messageID, marks[0].MessageID)
	assert.Equal(t, "u2", marks[0].SenderID)
}

func TestMessageRepository_MalformedIDsAreSkipped(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepository(db)
	at := time.Now()

	// only malformed ids: nothing to query
	msgs, err := repo.GetByIDs(context.Background(), []string{"x", ""})
	require.NoError(t, err)
	assert.Empty(t, msgs)

	mock.ExpectQuery(`FROM\s+messages\s+WHERE\s+id\s*=\s*ANY`).
		WithArgs(pq.Array([]string{messageID})).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(messageID))
	msgs, err = repo.GetByIDs(context.Background(), []string{"x", messageID})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, messageID, msgs[0].ID)

	mock.ExpectQuery(`UPDATE\s+messages\s+SET\s+read_at`).
		WithArgs(pq.Array([]string{messageID}), at).
		WillReturnRows(sqlmock.NewRows([]string{"id", "conversation_id", "sender_id", "read_at"}).
			AddRow(messageID, convID, "u2", at))
	marks, err := repo.MarkRead(context.Background(), []string{"x", messageID}, at)
	require.NoError(t, err)
	require.Len(t, marks, 1)
}
