package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unitalk/internal/model"
)

func sendText(t *testing.T, env *testEnv, convID, senderID, text string) *model.Message {
	t.Helper()
	msg, err := env.dispatcher.Send(context.Background(), SendRequest{
		ConversationID: convID,
		SenderID:       senderID,
		Text:           text,
		SourceLang:     "en",
	})
	require.NoError(t, err)
	return msg
}

func decodeRead(t *testing.T, ev model.Event) model.MessagesReadPayload {
	t.Helper()
	var p model.MessagesReadPayload
	require.NoError(t, ev.Decode(&p))
	return p
}

func TestReceipt_MarkReadFromPC(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		env.addUser(id, id, "en")
	}
	aMobile := env.connect(t, "a", model.DeviceMobile, "a-mobile")
	aPC := env.connect(t, "a", model.DevicePC, "a-pc")
	bConn := env.connect(t, "b", model.DeviceMobile, "b-mobile")
	cConn := env.connect(t, "c", model.DeviceMobile, "c-mobile")

	withB := env.direct(t, "a", "b")
	withC := env.direct(t, "a", "c")
	b1 := sendText(t, env, withB.ID, "b", "one")
	b2 := sendText(t, env, withB.ID, "b", "two")
	c1 := sendText(t, env, withC.ID, "c", "three")
	own := sendText(t, env, withB.ID, "a", "mine")

	marks, err := env.receipts.MarkRead(ctx, []string{b1.ID, b2.ID, c1.ID, own.ID, "missing"}, "a", "a-pc")
	require.NoError(t, err)
	assert.Len(t, marks, 3, "own and unknown messages are ignored")

	bEvents := bConn.ofType(model.EventMessagesRead)
	require.Len(t, bEvents, 1)
	bRead := decodeRead(t, bEvents[0])
	assert.ElementsMatch(t, []string{b1.ID, b2.ID}, bRead.MessageIDs)
	assert.Equal(t, "a", bRead.ReadBy)

	cEvents := cConn.ofType(model.EventMessagesRead)
	require.Len(t, cEvents, 1)
	assert.Equal(t, []string{c1.ID}, decodeRead(t, cEvents[0]).MessageIDs)

	// Mirrored to the phone, not back to the pc that read them
	assert.Empty(t, aPC.ofType(model.EventMessagesReadSync))
	syncs := aMobile.ofType(model.EventMessagesReadSync)
	require.Len(t, syncs, 1)
	assert.ElementsMatch(t, []string{b1.ID, b2.ID, c1.ID}, decodeRead(t, syncs[0]).MessageIDs)
}

func TestReceipt_MarkReadIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addUser("a", "a", "en")
	env.addUser("b", "b", "en")
	bConn := env.connect(t, "b", model.DeviceMobile, "b-mobile")
	conv := env.direct(t, "a", "b")
	msg := sendText(t, env, conv.ID, "b", "hello")

	first, err := env.receipts.MarkRead(ctx, []string{msg.ID, msg.ID}, "a", "")
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := env.receipts.MarkRead(ctx, []string{msg.ID}, "a", "")
	require.NoError(t, err)
	assert.Empty(t, second)

	assert.Len(t, bConn.ofType(model.EventMessagesRead), 1, "no event for an already read message")

	stored, err := env.messages.GetByIDs(ctx, []string{msg.ID})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.NotNil(t, stored[0].ReadAt)
	assert.True(t, stored[0].ReadAt.Equal(first[0].ReadAt))
}

func TestReceipt_NonParticipantCannotMarkRead(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addUser("a", "a", "en")
	env.addUser("b", "b", "en")
	env.addUser("z", "z", "en")
	conv := env.direct(t, "a", "b")
	msg := sendText(t, env, conv.ID, "b", "private")

	marks, err := env.receipts.MarkRead(ctx, []string{msg.ID}, "z", "")
	require.NoError(t, err)
	assert.Empty(t, marks)

	stored, err := env.messages.GetByIDs(ctx, []string{msg.ID})
	require.NoError(t, err)
	assert.Nil(t, stored[0].ReadAt)
}

func TestReceipt_EmptyInput(t *testing.T) {
	env := newTestEnv(t)
	marks, err := env.receipts.MarkRead(context.Background(), nil, "a", "")
	require.NoError(t, err)
	assert.Nil(t, marks)
}
