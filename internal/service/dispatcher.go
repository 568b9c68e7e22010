package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"unitalk/internal/metrics"
	"unitalk/internal/model"
	"unitalk/internal/repository"
)

// Broadcaster fans events out to live connections across the cluster.
type Broadcaster interface {
	BroadcastToUser(ctx context.Context, userID string, ev model.Event, excludeHandle string)
	BroadcastToRoom(ctx context.Context, roomID string, ev model.Event, excludeHandle string)
	SendToConnection(ctx context.Context, handleID string, ev model.Event)
}

// OnlineChecker answers whether any device of a user is connected anywhere.
type OnlineChecker interface {
	IsAnyDeviceOnline(ctx context.Context, userID string) (bool, error)
}

// Notifier pushes a notification to every push token of a user.
type Notifier interface {
	NotifyUser(ctx context.Context, userID, title, body string, data map[string]string) (int, error)
}

// DefaultPushTitle is used when the sender has no display name.
const DefaultPushTitle = "New message"

// pushTimeout bounds the push evaluation of one message.
const pushTimeout = 30 * time.Second

type dispatchState string

const (
	stateValidating     dispatchState = "validating"
	stateTranslating    dispatchState = "translating"
	statePersisting     dispatchState = "persisting"
	stateBroadcasting   dispatchState = "broadcasting"
	statePushEvaluating dispatchState = "push_evaluating"
	stateDone           dispatchState = "done"
	stateError          dispatchState = "error"
)

// SendRequest is one message send from a socket or HTTP caller.
type SendRequest struct {
	ConversationID string
	SenderID       string
	Text           string
	SourceLang     string // empty means detect
	TempID         string
	OriginHandle   string // connection that sent it; empty for HTTP
	SourceDevice   model.DeviceClass
	Announcement   bool
}

// dispatch is the in-flight state of one send.
type dispatch struct {
	req    SendRequest
	state  dispatchState
	logger *zap.Logger

	conv       *model.Conversation
	members    model.Members
	sender     *model.User
	recipient  *model.User // direct only
	sourceLang string
	msg        *model.Message
}

func (d *dispatch) enter(next dispatchState) {
	d.logger.Debug("Dispatch transition", zap.String("from", string(d.state)), zap.String("to", string(next)))
	d.state = next
}

func (d *dispatch) fail(err error) error {
	d.logger.Debug("Dispatch failed", zap.String("state", string(d.state)), zap.Error(err))
	d.state = stateError
	return err
}

// Dispatcher runs the send pipeline: validate, translate, persist, broadcast,
// push and acknowledge. Only validation and persistence can fail a send.
type Dispatcher struct {
	conversations *ConversationService
	translation   *TranslationService
	messages      repository.MessageRepository
	users         repository.UserRepository
	broadcaster   Broadcaster
	online        OnlineChecker
	notifier      Notifier
	metrics       *metrics.Metrics
	logger        *zap.Logger

	pending sync.WaitGroup // background push evaluations
}

func NewDispatcher(
	conversations *ConversationService,
	translation *TranslationService,
	messages repository.MessageRepository,
	users repository.UserRepository,
	broadcaster Broadcaster,
	online OnlineChecker,
	notifier Notifier,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		conversations: conversations,
		translation:   translation,
		messages:      messages,
		users:         users,
		broadcaster:   broadcaster,
		online:        online,
		notifier:      notifier,
		metrics:       m,
		logger:        logger.Named("dispatcher"),
	}
}

// Send delivers one message. The returned error is model.ErrInvalidArgument,
// model.ErrConversationNotFound, model.ErrAccessDenied or a persistence failure;
// once the message is stored Send succeeds whatever happens to delivery.
func (s *Dispatcher) Send(ctx context.Context, req SendRequest) (*model.Message, error) {
	d := &dispatch{
		req:   req,
		state: stateValidating,
		logger: s.logger.With(
			zap.String("conversation", req.ConversationID),
			zap.String("sender", req.SenderID),
			zap.String("temp_id", req.TempID)),
	}

	if err := s.validate(ctx, d); err != nil {
		return nil, d.fail(err)
	}

	d.enter(stateTranslating)
	translations := s.translate(ctx, d)

	d.enter(statePersisting)
	if err := s.persist(ctx, d, translations); err != nil {
		return nil, d.fail(err)
	}

	d.enter(stateBroadcasting)
	s.broadcast(ctx, d)

	d.enter(statePushEvaluating)
	s.pushInBackground(ctx, d)

	d.enter(stateDone)
	s.acknowledge(ctx, d)

	s.metrics.MessageDispatched(string(d.members.Kind))
	d.logger.Info("Send OK", zap.String("message", d.msg.ID), zap.Int("translations", len(d.msg.TranslatedTexts)))
	return d.msg, nil
}

// SendAnnouncement posts text to a group's conversation, creating the
// conversation on first use. The sender must be a member of the group.
func (s *Dispatcher) SendAnnouncement(ctx context.Context, groupID, senderID, text, senderLang string) (*model.Message, error) {
	conv, _, err := s.conversations.OpenGroupForMember(ctx, groupID, senderID)
	if err != nil {
		return nil, err
	}
	return s.Send(ctx, SendRequest{
		ConversationID: conv.ID,
		SenderID:       senderID,
		Text:           text,
		SourceLang:     senderLang,
		Announcement:   true,
	})
}

func (s *Dispatcher) validate(ctx context.Context, d *dispatch) error {
	if strings.TrimSpace(d.req.Text) == "" || d.req.ConversationID == "" {
		return model.ErrInvalidArgument
	}

	conv, members, err := s.conversations.ResolveMembers(ctx, d.req.ConversationID)
	if err != nil {
		return err
	}
	if !members.Contains(d.req.SenderID) {
		return model.ErrAccessDenied
	}
	if d.req.Announcement && members.Kind != model.ConversationGroup {
		return model.ErrInvalidArgument
	}

	d.conv = conv
	d.members = members
	return nil
}

// translate never fails; missing users or languages shrink the target set.
func (s *Dispatcher) translate(ctx context.Context, d *dispatch) model.TranslationMap {
	d.sender = s.lookupUser(ctx, d.req.SenderID)

	d.sourceLang = CanonicalLanguage(d.req.SourceLang)
	if d.sourceLang == "" {
		d.sourceLang = s.translation.Detect(ctx, d.req.Text)
	}
	if d.sourceLang == "" && d.sender.TargetLanguage != nil {
		d.sourceLang = CanonicalLanguage(*d.sender.TargetLanguage)
	}

	var targets []string
	switch d.members.Kind {
	case model.ConversationDirect:
		d.recipient = s.lookupUser(ctx, s.directRecipient(d))
		targets = DirectTargets(d.sourceLang, d.sender, d.recipient)
	case model.ConversationGroup:
		targets = GroupTargets(d.members.Group)
	}

	return s.translation.TranslateForTargets(ctx, d.req.Text, d.sourceLang, targets)
}

func (s *Dispatcher) directRecipient(d *dispatch) string {
	for _, id := range d.members.UserIDs {
		if id != d.req.SenderID {
			return id
		}
	}
	return d.req.SenderID
}

// lookupUser returns a bare user when the lookup fails.
func (s *Dispatcher) lookupUser(ctx context.Context, userID string) *model.User {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		s.logger.Warn("GetByID FAILED", zap.String("user", userID), zap.Error(err))
		return &model.User{ID: userID}
	}
	return user
}

func (s *Dispatcher) persist(ctx context.Context, d *dispatch, translations model.TranslationMap) error {
	msg := &model.Message{
		ConversationID:  d.conv.ID,
		SenderID:        d.req.SenderID,
		OriginalText:    d.req.Text,
		TranslatedTexts: translations,
		SourceDevice:    d.req.SourceDevice,
		IsAnnouncement:  d.req.Announcement,
	}
	if msg.SourceDevice == "" {
		msg.SourceDevice = model.DeviceMobile
	}
	if d.sourceLang != "" {
		lang := d.sourceLang
		msg.OriginalLanguage = &lang
		msg.SenderLanguage = &lang
	}

	if err := s.messages.Create(ctx, msg); err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	d.msg = msg

	if err := s.conversations.Touch(ctx, d.conv.ID, msg.CreatedAt); err != nil {
		d.logger.Warn("Touch FAILED", zap.Error(err))
	}
	return nil
}

func (s *Dispatcher) broadcast(ctx context.Context, d *dispatch) {
	senderName := d.sender.DisplayName("")

	switch d.members.Kind {
	case model.ConversationDirect:
		if ev, ok := s.newMessageEvent(d, senderName, d.recipient.LanguageCode); ok && d.recipient.ID != d.req.SenderID {
			s.broadcaster.BroadcastToUser(ctx, d.recipient.ID, ev, "")
		}
		if ev, ok := s.newMessageEvent(d, senderName, d.sender.LanguageCode); ok {
			s.broadcaster.BroadcastToUser(ctx, d.req.SenderID, ev, d.req.OriginHandle)
		}
	case model.ConversationGroup:
		if ev, ok := s.newMessageEvent(d, senderName, ""); ok {
			s.broadcaster.BroadcastToRoom(ctx, RoomID(d.conv.ID), ev, d.req.OriginHandle)
		}
	}
}

func (s *Dispatcher) newMessageEvent(d *dispatch, senderName, viewLang string) (model.Event, bool) {
	payload := model.NewMessagePayload{
		MessageID:        d.msg.ID,
		ConversationID:   d.msg.ConversationID,
		SenderID:         d.msg.SenderID,
		SenderName:       senderName,
		Text:             d.msg.TextFor(CanonicalLanguage(viewLang)),
		OriginalText:     d.msg.OriginalText,
		OriginalLanguage: d.sourceLang,
		TranslatedTexts:  d.msg.TranslatedTexts,
		IsAnnouncement:   d.msg.IsAnnouncement,
		SourceDevice:     d.msg.SourceDevice,
		CreatedAt:        d.msg.CreatedAt,
	}
	ev, err := model.NewEvent(model.EventNewMessage, payload)
	if err != nil {
		d.logger.Error("Build new_message FAILED", zap.Error(err))
		return model.Event{}, false
	}
	return ev, true
}

// pushInBackground runs evaluatePush off the send path so a slow provider
// never delays the sender's ack.
func (s *Dispatcher) pushInBackground(ctx context.Context, d *dispatch) {
	if s.notifier == nil {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
		defer cancel()
		s.evaluatePush(pushCtx, d)
	}()
}

// Wait blocks until every background push evaluation has finished.
func (s *Dispatcher) Wait() {
	s.pending.Wait()
}

// evaluatePush notifies every offline recipient. Failures are logged and counted only.
func (s *Dispatcher) evaluatePush(ctx context.Context, d *dispatch) {
	if s.notifier == nil {
		return
	}

	title := d.sender.DisplayName(DefaultPushTitle)
	data := map[string]string{
		model.PushDataConversationID: d.msg.ConversationID,
		model.PushDataSenderID:       d.msg.SenderID,
		model.PushDataMessageID:      d.msg.ID,
	}

	for _, userID := range d.members.UserIDs {
		if userID == d.req.SenderID {
			continue
		}

		online, err := s.online.IsAnyDeviceOnline(ctx, userID)
		if err != nil {
			// An unknown state pushes: a duplicate beats a missed message
			d.logger.Warn("IsAnyDeviceOnline FAILED", zap.String("recipient", userID), zap.Error(err))
			online = false
		}
		if online {
			continue
		}

		body := d.msg.TextFor(s.recipientLanguage(ctx, d, userID))
		sent, err := s.notifier.NotifyUser(ctx, userID, title, body, data)
		if err != nil {
			d.logger.Warn("Push FAILED", zap.String("recipient", userID), zap.Error(err))
			continue
		}
		d.logger.Debug("Push requested", zap.String("recipient", userID), zap.Int("tokens", sent))
	}
}

func (s *Dispatcher) recipientLanguage(ctx context.Context, d *dispatch, userID string) string {
	if d.recipient != nil && d.recipient.ID == userID {
		return CanonicalLanguage(d.recipient.LanguageCode)
	}
	for _, m := range d.members.Group {
		if m.UserID == userID && m.LanguageCode != nil {
			return CanonicalLanguage(*m.LanguageCode)
		}
	}
	return CanonicalLanguage(s.lookupUser(ctx, userID).LanguageCode)
}

func (s *Dispatcher) acknowledge(ctx context.Context, d *dispatch) {
	if d.req.OriginHandle == "" {
		return
	}
	ev, err := model.NewEvent(model.EventMessageSent, model.MessageSentPayload{
		TempID:    d.req.TempID,
		MessageID: d.msg.ID,
		CreatedAt: d.msg.CreatedAt,
	})
	if err != nil {
		d.logger.Error("Build message_sent FAILED", zap.Error(err))
		return
	}
	s.broadcaster.SendToConnection(ctx, d.req.OriginHandle, ev)
}

// IsRejection reports whether err is a validation rejection rather than a failure.
func IsRejection(err error) bool {
	return errors.Is(err, model.ErrInvalidArgument) ||
		errors.Is(err, model.ErrAccessDenied) ||
		model.IsNotFound(err)
}
