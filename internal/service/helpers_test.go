package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"unitalk/internal/cache"
	"unitalk/internal/model"
	"unitalk/internal/presence"
	"unitalk/internal/repository"
	"unitalk/internal/repository/memory"
)

// =============================================================================
// MOCKS
// =============================================================================

type mockTranslator struct {
	mu sync.Mutex

	detectFn    func(ctx context.Context, text string) (string, error)
	translateFn func(ctx context.Context, text, target, source string) (string, error)

	translateCalls []translateCall
}

type translateCall struct {
	Text, Target, Source string
}

func (m *mockTranslator) Translate(ctx context.Context, text, target, source string) (string, error) {
	m.mu.Lock()
	m.translateCalls = append(m.translateCalls, translateCall{Text: text, Target: target, Source: source})
	m.mu.Unlock()
	if m.translateFn != nil {
		return m.translateFn(ctx, text, target, source)
	}
	return "[" + target + "] " + text, nil
}

func (m *mockTranslator) DetectLanguage(ctx context.Context, text string) (string, error) {
	if m.detectFn != nil {
		return m.detectFn(ctx, text)
	}
	return "", errors.New("detection unavailable")
}

func (m *mockTranslator) calls() []translateCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]translateCall(nil), m.translateCalls...)
}

type mockPushSender struct {
	mu   sync.Mutex
	err  error
	gate chan struct{} // when set, Send waits for it to close
	sent []model.PushNotification
}

func (m *mockPushSender) Send(ctx context.Context, n model.PushNotification) error {
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	return m.err
}

func (m *mockPushSender) notifications() []model.PushNotification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.PushNotification(nil), m.sent...)
}

// recordingConn is a live connection that keeps every event it was sent.
type recordingConn struct {
	id string

	mu     sync.Mutex
	events []model.Event
}

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Send(ctx context.Context, ev model.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *recordingConn) ofType(eventType string) []model.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []model.Event
	for _, ev := range c.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// =============================================================================
// TEST ENVIRONMENT
// =============================================================================

// testEnv wires every service over the in-memory store and a single-instance
// presence registry.
type testEnv struct {
	store      *memory.Store
	messages   repository.MessageRepository
	engine     *mockTranslator
	pushSender *mockPushSender

	devices       *DeviceService
	conversations *ConversationService
	translation   *TranslationService
	registry      *presence.Registry
	dispatcher    *Dispatcher
	receipts      *ReceiptService
	history       *MessageService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	store := memory.NewStore()
	users := memory.NewUserRepository(store)
	messages := memory.NewMessageRepository(store)

	env := &testEnv{
		store:      store,
		messages:   messages,
		engine:     &mockTranslator{},
		pushSender: &mockPushSender{},
	}
	env.devices = NewDeviceService(memory.NewDeviceRepository(store), users, logger)
	env.conversations = NewConversationService(
		memory.NewConversationRepository(store),
		memory.NewGroupRepository(store),
		users,
		messages,
		logger,
	)
	env.translation = NewTranslationService(env.engine, cache.NewMemoryTranslationCache(0), 2, nil, logger)
	env.registry = presence.NewRegistry(
		env.devices,
		memory.NewContactRepository(store),
		presence.NewMemoryMarkerStore(),
		presence.NewLocalBus(),
		nil,
		logger,
	)
	push := NewPushService(env.devices, env.pushSender, logger)
	env.dispatcher = NewDispatcher(env.conversations, env.translation, messages, users, env.registry, env.registry, push, nil, logger)
	env.receipts = NewReceiptService(messages, env.conversations, env.registry, nil, logger)
	env.history = NewMessageService(messages, users, env.conversations)
	return env
}

func (e *testEnv) addUser(id, name, lang string) {
	n := name
	e.store.AddUser(model.User{ID: id, Name: &n, LanguageCode: lang})
}

// connect registers a device and binds a live connection to it.
func (e *testEnv) connect(t *testing.T, userID string, class model.DeviceClass, handleID string) *recordingConn {
	t.Helper()
	ctx := context.Background()
	_, err := e.devices.Upsert(ctx, model.DeviceRegistration{UserID: userID, Class: class, ConnectionID: handleID})
	require.NoError(t, err)
	conn := &recordingConn{id: handleID}
	e.registry.Register(ctx, userID, class, conn)
	return conn
}

func (e *testEnv) direct(t *testing.T, a, b string) *model.Conversation {
	t.Helper()
	conv, _, err := e.conversations.FindOrCreateDirect(context.Background(), a, b)
	require.NoError(t, err)
	return conv
}

func strPtr(s string) *string { return &s }
