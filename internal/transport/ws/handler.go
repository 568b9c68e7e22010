package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"unitalk/internal/httputil"
	"unitalk/internal/model"
	"unitalk/internal/presence"
	"unitalk/internal/service"
	"unitalk/internal/transport/http/middleware"
)

const (
	dispatchTimeout   = 30 * time.Second
	unregisterTimeout = 5 * time.Second
)

// Config holds the socket endpoint settings.
type Config struct {
	JWTSecret  string
	SendBuffer int
	// InsecureSkipVerify disables the origin check; development only.
	InsecureSkipVerify bool
}

// Services are the domain services a socket talks to.
type Services struct {
	Devices       *service.DeviceService
	Conversations *service.ConversationService
	Dispatcher    *service.Dispatcher
	Receipts      *service.ReceiptService
	Registry      *presence.Registry
}

type Handler struct {
	cfg    Config
	svc    Services
	logger *zap.Logger
}

func NewHandler(cfg Config, svc Services, logger *zap.Logger) *Handler {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	return &Handler{cfg: cfg, svc: svc, logger: logger.Named("ws")}
}

// session is the per-connection state of the read side.
type session struct {
	conn  *Conn
	sends chan model.SendMessageCommand
}

// ServeHTTP authenticates ?token=, upgrades the request and serves the socket
// until the client goes away.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	token := q.Get("token")
	if token == "" {
		httputil.WriteUnauthorized(w, "Missing authentication token")
		return
	}
	userID, err := middleware.ParseToken(token, h.cfg.JWTSecret)
	if err != nil {
		if errors.Is(err, middleware.ErrTokenExpired) {
			httputil.WriteUnauthorizedWithCode(w, model.CodeTokenExpired, "Access token has expired")
			return
		}
		httputil.WriteUnauthorizedWithCode(w, model.CodeTokenInvalid, "Invalid authentication token")
		return
	}

	class, err := model.ParseDeviceClass(q.Get("device"))
	if err != nil {
		httputil.WriteBadRequest(w, "Invalid device type")
		return
	}

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: h.cfg.InsecureSkipVerify})
	if err != nil {
		h.logger.Warn("Accept FAILED", zap.String("user", userID), zap.Error(err))
		return
	}

	conn := newConn(wsConn, userID, class, h.cfg.SendBuffer, h.logger)
	defer conn.close(websocket.StatusNormalClosure, "bye")

	ctx := conn.ctx
	device, err := h.svc.Devices.Upsert(ctx, model.DeviceRegistration{
		UserID:       userID,
		Class:        class,
		Name:         optional(q.Get("device_name")),
		PushToken:    optional(q.Get("push_token")),
		ConnectionID: conn.ID(),
	})
	if err != nil {
		h.logger.Error("Device upsert FAILED", zap.String("user", userID), zap.String("class", string(class)), zap.Error(err))
		conn.close(websocket.StatusInternalError, "device registration failed")
		return
	}

	conn.start()
	h.svc.Registry.Register(ctx, userID, class, conn)
	defer h.unregister(conn)

	h.emit(conn, model.EventAuthenticated, model.AuthenticatedPayload{
		Success:      true,
		UserID:       userID,
		DeviceID:     device.ID,
		DeviceType:   class,
		ConnectionID: conn.ID(),
	})
	conn.logger.Info("Socket authenticated", zap.String("class", string(class)))

	s := &session{conn: conn, sends: make(chan model.SendMessageCommand, h.cfg.SendBuffer)}
	go h.sendWorker(s)

	h.readLoop(s)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (h *Handler) unregister(conn *Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), unregisterTimeout)
	defer cancel()
	h.svc.Registry.Unregister(ctx, conn.ID())
	conn.logger.Info("Socket closed")
}

func (h *Handler) readLoop(s *session) {
	for {
		var ev model.Event
		if err := wsjson.Read(s.conn.ctx, s.conn.ws, &ev); err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				s.conn.logger.Debug("Read ended", zap.Error(err))
			}
			return
		}
		h.route(s, ev)
	}
}

func (h *Handler) route(s *session, ev model.Event) {
	ctx := s.conn.ctx

	switch ev.Type {
	case model.EventSendMessage:
		var cmd model.SendMessageCommand
		if err := ev.Decode(&cmd); err != nil {
			h.badRequest(s.conn, "Invalid send_message payload")
			return
		}
		// sends are handled in arrival order by sendWorker
		select {
		case s.sends <- cmd:
		case <-s.conn.Done():
		}

	case model.EventTyping:
		var cmd model.TypingPayload
		if err := ev.Decode(&cmd); err != nil {
			h.badRequest(s.conn, "Invalid typing payload")
			return
		}
		h.typing(ctx, s.conn, cmd)

	case model.EventMarkRead:
		var cmd model.MarkReadCommand
		if err := ev.Decode(&cmd); err != nil {
			h.badRequest(s.conn, "Invalid mark_read payload")
			return
		}
		if _, err := h.svc.Receipts.MarkRead(ctx, cmd.MessageIDs, s.conn.userID, s.conn.ID()); err != nil {
			h.sendError(s.conn, err, "")
		}

	case model.EventJoinRoom:
		var cmd model.RoomCommand
		if err := ev.Decode(&cmd); err != nil || cmd.ConversationID == "" {
			h.badRequest(s.conn, "Invalid join_room payload")
			return
		}
		h.joinRoom(ctx, s.conn, cmd.ConversationID)

	case model.EventLeaveRoom:
		var cmd model.RoomCommand
		if err := ev.Decode(&cmd); err != nil || cmd.ConversationID == "" {
			h.badRequest(s.conn, "Invalid leave_room payload")
			return
		}
		if err := h.svc.Registry.LeaveRoom(ctx, s.conn.ID(), service.RoomID(cmd.ConversationID), cmd.ConversationID); err != nil {
			s.conn.logger.Debug("LeaveRoom skipped", zap.Error(err))
		}

	case model.EventStartConversation:
		var cmd model.StartConversationCommand
		if err := ev.Decode(&cmd); err != nil {
			h.badRequest(s.conn, "Invalid start_conversation payload")
			return
		}
		conv, isNew, err := h.svc.Conversations.FindOrCreateDirect(ctx, s.conn.userID, cmd.UserID)
		if err != nil {
			h.sendError(s.conn, err, "")
			return
		}
		h.emit(s.conn, model.EventConversationStarted, model.ConversationStartedPayload{Conversation: conv, IsNew: isNew})

	default:
		h.badRequest(s.conn, "Unknown event type")
	}
}

// sendWorker runs send_message commands one at a time so a connection's
// messages are stored and delivered in the order they were sent.
func (h *Handler) sendWorker(s *session) {
	for {
		select {
		case <-s.conn.Done():
			return
		case cmd := <-s.sends:
			h.send(s.conn, cmd)
		}
	}
}

func (h *Handler) send(conn *Conn, cmd model.SendMessageCommand) {
	// a send that was accepted finishes even if the socket drops meanwhile
	ctx, cancel := context.WithTimeout(context.WithoutCancel(conn.ctx), dispatchTimeout)
	defer cancel()

	_, err := h.svc.Dispatcher.Send(ctx, service.SendRequest{
		ConversationID: cmd.ConversationID,
		SenderID:       conn.userID,
		Text:           cmd.Text,
		SourceLang:     cmd.SourceLang,
		TempID:         cmd.TempID,
		OriginHandle:   conn.ID(),
		SourceDevice:   conn.class,
	})
	if err != nil {
		h.sendError(conn, err, cmd.TempID)
	}
}

func (h *Handler) typing(ctx context.Context, conn *Conn, cmd model.TypingPayload) {
	_, members, err := h.svc.Conversations.ResolveMembers(ctx, cmd.ConversationID)
	if err != nil {
		conn.logger.Debug("Typing skipped", zap.String("conversation", cmd.ConversationID), zap.Error(err))
		return
	}
	if !members.Contains(conn.userID) {
		return
	}

	ev, err := model.NewEvent(model.EventTyping, model.TypingPayload{
		ConversationID: cmd.ConversationID,
		UserID:         conn.userID,
		IsTyping:       cmd.IsTyping,
	})
	if err != nil {
		conn.logger.Error("Build typing event FAILED", zap.Error(err))
		return
	}

	if members.Kind == model.ConversationGroup {
		h.svc.Registry.BroadcastToRoom(ctx, service.RoomID(cmd.ConversationID), ev, conn.ID())
		return
	}
	for _, userID := range members.UserIDs {
		if userID != conn.userID {
			h.svc.Registry.BroadcastToUser(ctx, userID, ev, "")
		}
	}
}

func (h *Handler) joinRoom(ctx context.Context, conn *Conn, conversationID string) {
	ok, err := h.svc.Conversations.IsParticipant(ctx, conversationID, conn.userID)
	if err != nil {
		h.sendError(conn, err, "")
		return
	}
	if !ok {
		h.sendError(conn, model.ErrAccessDenied, "")
		return
	}
	if err := h.svc.Registry.JoinRoom(ctx, conn.ID(), service.RoomID(conversationID), conversationID); err != nil {
		h.sendError(conn, err, "")
	}
}

func (h *Handler) emit(conn *Conn, eventType string, payload interface{}) {
	ev, err := model.NewEvent(eventType, payload)
	if err != nil {
		conn.logger.Error("Build event FAILED", zap.String("event", eventType), zap.Error(err))
		return
	}
	if err := conn.Send(conn.ctx, ev); err != nil {
		conn.logger.Debug("Emit FAILED", zap.String("event", eventType), zap.Error(err))
	}
}

func (h *Handler) sendError(conn *Conn, err error, tempID string) {
	status, code, message := httputil.Classify(err)
	if status == http.StatusInternalServerError {
		conn.logger.Error("Socket request FAILED", zap.String("temp_id", tempID), zap.Error(err))
	}
	h.emit(conn, model.EventError, model.ErrorPayload{Code: code, Message: message, TempID: tempID})
}

func (h *Handler) badRequest(conn *Conn, message string) {
	h.emit(conn, model.EventError, model.ErrorPayload{Code: httputil.ErrCodeBadRequest, Message: message})
}
