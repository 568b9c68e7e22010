package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"unitalk/internal/model"
)

// =============================================================================
// ROUTING
// =============================================================================

func TestPushRouter_RoutesByTokenFormat(t *testing.T) {
	fcm := &mockPushSender{}
	expo := &mockPushSender{}
	router := NewPushRouter(fcm, expo, nil, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, router.Send(ctx, model.PushNotification{Token: "ExponentPushToken[abc]"}))
	require.NoError(t, router.Send(ctx, model.PushNotification{Token: "fcm-registration-token"}))

	require.Len(t, expo.notifications(), 1)
	assert.Equal(t, "ExponentPushToken[abc]", expo.notifications()[0].Token)
	require.Len(t, fcm.notifications(), 1)
	assert.Equal(t, "fcm-registration-token", fcm.notifications()[0].Token)
}

func TestPushRouter_MissingProviderIsSkipped(t *testing.T) {
	router := NewPushRouter(nil, nil, nil, zap.NewNop())
	assert.NoError(t, router.Send(context.Background(), model.PushNotification{Token: "fcm-token"}))
}

func TestPushRouter_PropagatesProviderError(t *testing.T) {
	router := NewPushRouter(&mockPushSender{err: errors.New("quota")}, nil, nil, zap.NewNop())
	assert.Error(t, router.Send(context.Background(), model.PushNotification{Token: "fcm-token"}))
}

// =============================================================================
// PUSH SERVICE
// =============================================================================

func TestPushService_NotifyUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, reg := range []model.DeviceRegistration{
		{UserID: "a", Class: model.DeviceMobile, PushToken: strPtr("t-mobile")},
		{UserID: "a", Class: model.DeviceTablet, PushToken: strPtr("t-tablet")},
	} {
		_, err := env.devices.Upsert(ctx, reg)
		require.NoError(t, err)
	}

	sender := &mockPushSender{}
	svc := NewPushService(env.devices, sender, zap.NewNop())

	n, err := svc.NotifyUser(ctx, "a", "Title", "Body", map[string]string{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	tokens := []string{}
	for _, p := range sender.notifications() {
		tokens = append(tokens, p.Token)
		assert.Equal(t, "Title", p.Title)
		assert.Equal(t, "Body", p.Body)
		assert.Equal(t, "v", p.Data["k"])
	}
	assert.ElementsMatch(t, []string{"t-mobile", "t-tablet"}, tokens)
}

func TestPushService_AllSendsFail(t *testing.T) {
	env := newTestEnv(t)
	env.store.AddUser(model.User{ID: "a", FCMToken: strPtr("t")})

	svc := NewPushService(env.devices, &mockPushSender{err: errors.New("down")}, zap.NewNop())
	n, err := svc.NotifyUser(context.Background(), "a", "t", "b", nil)
	assert.Error(t, err)
	assert.Zero(t, n)
}

// =============================================================================
// PROVIDER CLIENTS
// =============================================================================

type fakeMessenger struct {
	sent []*messaging.Message
	err  error
}

func (f *fakeMessenger) Send(ctx context.Context, message *messaging.Message) (string, error) {
	f.sent = append(f.sent, message)
	if f.err != nil {
		return "", f.err
	}
	return "projects/p/messages/1", nil
}

func TestFCMClient_Send(t *testing.T) {
	messenger := &fakeMessenger{}
	client := &FCMClient{client: messenger, logger: zap.NewNop()}

	err := client.Send(context.Background(), model.PushNotification{
		Token: "fcm-token",
		Title: "Minji",
		Body:  "Hello",
		Data:  map[string]string{model.PushDataMessageID: "m1"},
	})
	require.NoError(t, err)

	require.Len(t, messenger.sent, 1)
	msg := messenger.sent[0]
	assert.Equal(t, "fcm-token", msg.Token)
	assert.Equal(t, "Minji", msg.Notification.Title)
	assert.Equal(t, "Hello", msg.Notification.Body)
	assert.Equal(t, "m1", msg.Data[model.PushDataMessageID])
	assert.Equal(t, "messages", msg.Android.Notification.ChannelID)
	require.NotNil(t, msg.APNS.Payload.Aps.Badge)
	assert.Equal(t, 1, *msg.APNS.Payload.Aps.Badge)
}

func TestFCMClient_SendError(t *testing.T) {
	client := &FCMClient{client: &fakeMessenger{err: errors.New("unregistered")}, logger: zap.NewNop()}
	assert.Error(t, client.Send(context.Background(), model.PushNotification{Token: "fcm-token"}))
}

func newExpoServer(t *testing.T, status int, reply string, got *ExpoPushMessage) *ExpoPushClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if assert.NoError(t, err) && got != nil {
			assert.NoError(t, json.Unmarshal(body, got))
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)

	client := NewExpoPushClient(zap.NewNop())
	client.endpoint = srv.URL
	return client
}

func TestExpoPushClient_Send(t *testing.T) {
	var got ExpoPushMessage
	client := newExpoServer(t, http.StatusOK, `{"data":[{"status":"ok","id":"ticket-1"}]}`, &got)

	err := client.Send(context.Background(), model.PushNotification{
		Token: "ExponentPushToken[abc]",
		Title: "Minji",
		Body:  "Hello",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"ExponentPushToken[abc]"}, got.To)
	assert.Equal(t, "Hello", got.Body)
	assert.Equal(t, "messages", got.ChannelID)
}

func TestExpoPushClient_TicketError(t *testing.T) {
	client := newExpoServer(t, http.StatusOK,
		`{"data":[{"status":"error","message":"not registered","details":{"error":"DeviceNotRegistered"}}]}`, nil)
	assert.Error(t, client.Send(context.Background(), model.PushNotification{Token: "ExpoPushToken[x]", Body: "b"}))
}

func TestExpoPushClient_HTTPError(t *testing.T) {
	client := newExpoServer(t, http.StatusInternalServerError, `oops`, nil)
	assert.Error(t, client.Send(context.Background(), model.PushNotification{Token: "ExpoPushToken[x]", Body: "b"}))
}

func TestExpoPushClient_SkipsForeignTokens(t *testing.T) {
	client := NewExpoPushClient(zap.NewNop())
	client.endpoint = "http://127.0.0.1:0/never-called"
	assert.NoError(t, client.Send(context.Background(), model.PushNotification{Token: "fcm-token"}))
}
