package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"unitalk/internal/metrics"
	"unitalk/internal/model"
)

// maxReconcileAttempts bounds the read-write-reread loop of one reconcile.
const maxReconcileAttempts = 5

type binding struct {
	conn       Connection
	userID     string
	class      model.DeviceClass
	rooms      map[string]struct{}
	superseded bool
}

// Registry owns this instance's live connections.
type Registry struct {
	directory Directory
	contacts  ContactLister
	markers   MarkerStore
	bus       Bus
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.RWMutex
	handles map[string]*binding
	slots   map[string]map[model.DeviceClass]string // user -> class -> handle
	rooms   map[string]map[string]struct{}          // room -> handles

	userLocks stripedMutex
}

func NewRegistry(directory Directory, contacts ContactLister, markers MarkerStore, bus Bus, m *metrics.Metrics, logger *zap.Logger) *Registry {
	return &Registry{
		directory: directory,
		contacts:  contacts,
		markers:   markers,
		bus:       bus,
		metrics:   m,
		logger:    logger.Named("presence"),
		now:       time.Now,
		handles:   make(map[string]*binding),
		slots:     make(map[string]map[model.DeviceClass]string),
		rooms:     make(map[string]map[string]struct{}),
	}
}

// Start subscribes to envelopes from other instances.
func (r *Registry) Start(ctx context.Context) error {
	return r.bus.Subscribe(ctx, r.deliverLocal)
}

// Register binds conn to the (userID, class) slot. A previous handle of the
// same slot stays open but stops receiving user and room traffic here.
func (r *Registry) Register(ctx context.Context, userID string, class model.DeviceClass, conn Connection) {
	handleID := conn.ID()

	r.mu.Lock()
	if _, exists := r.handles[handleID]; !exists {
		r.metrics.ConnectionOpened()
	}
	if byClass := r.slots[userID]; byClass != nil {
		if old, ok := byClass[class]; ok && old != handleID {
			r.supersedeLocked(old)
		}
	} else {
		r.slots[userID] = make(map[model.DeviceClass]string)
	}
	r.slots[userID][class] = handleID
	r.handles[handleID] = &binding{
		conn:   conn,
		userID: userID,
		class:  class,
		rooms:  make(map[string]struct{}),
	}
	r.mu.Unlock()

	if err := r.directory.SetOnline(ctx, userID, class, handleID); err != nil {
		r.logger.Error("SetOnline FAILED", zap.String("user", userID), zap.String("class", string(class)), zap.Error(err))
	}
	r.logger.Debug("Register OK", zap.String("user", userID), zap.String("class", string(class)), zap.String("handle", handleID))

	r.reconcile(ctx, userID)
}

// supersedeLocked detaches old from its slot and rooms. r.mu must be held.
func (r *Registry) supersedeLocked(old string) {
	b, ok := r.handles[old]
	if !ok {
		return
	}
	b.superseded = true
	for room := range b.rooms {
		r.leaveRoomLocked(old, room)
	}
	r.logger.Debug("Handle superseded", zap.String("user", b.userID), zap.String("class", string(b.class)), zap.String("handle", old))
}

// Unregister drops handleID. The directory decides whether a slot went
// offline: a superseded handle no longer owns its slot there.
func (r *Registry) Unregister(ctx context.Context, handleID string) {
	var localUser string

	r.mu.Lock()
	if b, ok := r.handles[handleID]; ok {
		localUser = b.userID
		for room := range b.rooms {
			r.leaveRoomLocked(handleID, room)
		}
		if byClass := r.slots[b.userID]; byClass != nil && byClass[b.class] == handleID {
			delete(byClass, b.class)
			if len(byClass) == 0 {
				delete(r.slots, b.userID)
			}
		}
		delete(r.handles, handleID)
		r.metrics.ConnectionClosed()
	}
	r.mu.Unlock()

	identity, err := r.directory.SetOfflineByConnectionHandle(ctx, handleID)
	if err != nil {
		r.logger.Error("SetOfflineByConnectionHandle FAILED", zap.String("handle", handleID), zap.Error(err))
		return
	}
	if identity == nil {
		// the row may be gone (device removed) while the marker is still set
		if localUser != "" {
			r.reconcile(ctx, localUser)
		}
		return
	}
	r.logger.Debug("Unregister OK", zap.String("user", identity.UserID), zap.String("class", string(identity.Class)), zap.String("handle", handleID))

	r.reconcile(ctx, identity.UserID)
}

// IsAnyDeviceOnline asks the directory, which is shared by every instance.
func (r *Registry) IsAnyDeviceOnline(ctx context.Context, userID string) (bool, error) {
	return r.directory.IsAnyDeviceOnline(ctx, userID)
}

// Reconcile re-aligns userID's online marker with the directory after a
// change made outside the socket lifecycle, such as a device removal.
func (r *Registry) Reconcile(ctx context.Context, userID string) {
	r.reconcile(ctx, userID)
}

// reconcile brings the online marker in line with the directory. Transitions
// for one user are serialized here; the loop re-reads the directory after each
// write so a concurrent change on another instance is not lost.
func (r *Registry) reconcile(ctx context.Context, userID string) {
	unlock := r.userLocks.lock(userID)
	defer unlock()

	for attempt := 0; attempt < maxReconcileAttempts; attempt++ {
		online, err := r.directory.IsAnyDeviceOnline(ctx, userID)
		if err != nil {
			r.logger.Error("Reconcile read FAILED", zap.String("user", userID), zap.Error(err))
			return
		}

		if online {
			created, err := r.markers.SetIfAbsent(ctx, userID)
			if err != nil {
				r.logger.Error("Set online marker FAILED", zap.String("user", userID), zap.Error(err))
				return
			}
			if created {
				r.notifyContacts(ctx, userID, model.EventFriendOnline)
			}
		} else {
			removed, err := r.markers.Clear(ctx, userID, r.now())
			if err != nil {
				r.logger.Error("Clear online marker FAILED", zap.String("user", userID), zap.Error(err))
				return
			}
			if removed {
				r.notifyContacts(ctx, userID, model.EventFriendOffline)
			}
		}

		after, err := r.directory.IsAnyDeviceOnline(ctx, userID)
		if err != nil {
			r.logger.Error("Reconcile re-read FAILED", zap.String("user", userID), zap.Error(err))
			return
		}
		if after == online {
			return
		}
	}
	r.logger.Warn("Reconcile did not settle", zap.String("user", userID), zap.Int("attempts", maxReconcileAttempts))
}

func (r *Registry) notifyContacts(ctx context.Context, userID, eventType string) {
	contactIDs, err := r.contacts.GetContactIDs(ctx, userID)
	if err != nil {
		r.logger.Error("GetContactIDs FAILED", zap.String("user", userID), zap.Error(err))
		return
	}
	if len(contactIDs) == 0 {
		return
	}

	ev, err := model.NewEvent(eventType, model.PresencePayload{UserID: userID, Timestamp: r.now().UTC()})
	if err != nil {
		r.logger.Error("Build presence event FAILED", zap.Error(err))
		return
	}
	for _, contactID := range contactIDs {
		r.BroadcastToUser(ctx, contactID, ev, "")
	}
	r.logger.Debug("Presence change sent", zap.String("user", userID), zap.String("event", eventType), zap.Int("contacts", len(contactIDs)))
}

// BroadcastToUser sends ev to every connection of userID except excludeHandle.
func (r *Registry) BroadcastToUser(ctx context.Context, userID string, ev model.Event, excludeHandle string) {
	r.broadcast(ctx, Envelope{Target: TargetUser, Key: userID, Exclude: excludeHandle, Event: ev})
}

// BroadcastToRoom sends ev to every connection that joined roomID except excludeHandle.
func (r *Registry) BroadcastToRoom(ctx context.Context, roomID string, ev model.Event, excludeHandle string) {
	r.broadcast(ctx, Envelope{Target: TargetRoom, Key: roomID, Exclude: excludeHandle, Event: ev})
}

func (r *Registry) broadcast(ctx context.Context, env Envelope) {
	r.deliverLocal(ctx, env)
	if err := r.bus.Publish(ctx, env); err != nil {
		r.metrics.TransportFailure("bus")
		r.logger.Warn("Publish FAILED", zap.String("target", env.Target), zap.String("key", env.Key), zap.Error(err))
	}
}

// deliverLocal sends env to the matching connections of this instance.
func (r *Registry) deliverLocal(ctx context.Context, env Envelope) {
	var targets []Connection

	r.mu.RLock()
	switch env.Target {
	case TargetUser:
		for _, handleID := range r.slots[env.Key] {
			if handleID == env.Exclude {
				continue
			}
			if b, ok := r.handles[handleID]; ok {
				targets = append(targets, b.conn)
			}
		}
	case TargetRoom:
		for handleID := range r.rooms[env.Key] {
			if handleID == env.Exclude {
				continue
			}
			if b, ok := r.handles[handleID]; ok {
				targets = append(targets, b.conn)
			}
		}
	}
	r.mu.RUnlock()

	for _, conn := range targets {
		r.send(ctx, conn, env.Event)
	}
}

func (r *Registry) send(ctx context.Context, conn Connection, ev model.Event) {
	if err := conn.Send(ctx, ev); err != nil {
		r.metrics.TransportFailure("connection")
		r.logger.Warn("Send FAILED", zap.String("handle", conn.ID()), zap.String("event", ev.Type), zap.Error(err))
	}
}

// SendToConnection delivers ev to one connection of this instance.
func (r *Registry) SendToConnection(ctx context.Context, handleID string, ev model.Event) {
	r.mu.RLock()
	b, ok := r.handles[handleID]
	r.mu.RUnlock()
	if !ok {
		r.logger.Debug("SendToConnection skipped: unknown handle", zap.String("handle", handleID), zap.String("event", ev.Type))
		return
	}
	r.send(ctx, b.conn, ev)
}

// JoinRoom subscribes handleID to roomID and confirms with room_joined.
// Membership checks belong to the caller.
func (r *Registry) JoinRoom(ctx context.Context, handleID, roomID, conversationID string) error {
	r.mu.Lock()
	b, ok := r.handles[handleID]
	if !ok || b.superseded {
		r.mu.Unlock()
		return ErrUnknownHandle
	}
	b.rooms[roomID] = struct{}{}
	members := r.rooms[roomID]
	if members == nil {
		members = make(map[string]struct{})
		r.rooms[roomID] = members
	}
	members[handleID] = struct{}{}
	r.mu.Unlock()

	r.confirmRoom(ctx, b.conn, model.EventRoomJoined, roomID, conversationID)
	return nil
}

// LeaveRoom unsubscribes handleID from roomID and confirms with room_left.
func (r *Registry) LeaveRoom(ctx context.Context, handleID, roomID, conversationID string) error {
	r.mu.Lock()
	b, ok := r.handles[handleID]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownHandle
	}
	r.leaveRoomLocked(handleID, roomID)
	r.mu.Unlock()

	r.confirmRoom(ctx, b.conn, model.EventRoomLeft, roomID, conversationID)
	return nil
}

func (r *Registry) leaveRoomLocked(handleID, roomID string) {
	if b, ok := r.handles[handleID]; ok {
		delete(b.rooms, roomID)
	}
	if members := r.rooms[roomID]; members != nil {
		delete(members, handleID)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
}

func (r *Registry) confirmRoom(ctx context.Context, conn Connection, eventType, roomID, conversationID string) {
	ev, err := model.NewEvent(eventType, model.RoomPayload{ConversationID: conversationID, RoomID: roomID})
	if err != nil {
		r.logger.Error("Build room event FAILED", zap.Error(err))
		return
	}
	r.send(ctx, conn, ev)
}

// LocalClasses lists the device classes of userID connected to this instance.
func (r *Registry) LocalClasses(userID string) []model.DeviceClass {
	r.mu.RLock()
	defer r.mu.RUnlock()

	classes := make([]model.DeviceClass, 0, len(r.slots[userID]))
	for class := range r.slots[userID] {
		classes = append(classes, class)
	}
	return classes
}
