package memory

import (
	"context"
	"sort"

	"unitalk/internal/model"
	"unitalk/internal/repository"
)

type deviceRepository struct{ s *Store }

func NewDeviceRepository(s *Store) repository.DeviceRepository {
	return &deviceRepository{s: s}
}

// slot must be called with the lock held.
func (r *deviceRepository) slot(userID string, class model.DeviceClass) *model.Device {
	for _, d := range r.s.devices {
		if d.UserID == userID && d.Class == class {
			return d
		}
	}
	return nil
}

func (r *deviceRepository) Upsert(ctx context.Context, reg model.DeviceRegistration) (*model.Device, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := r.s.now()
	d := r.slot(reg.UserID, reg.Class)
	if d == nil {
		d = &model.Device{
			ID:        newID(),
			UserID:    reg.UserID,
			Class:     reg.Class,
			CreatedAt: now,
		}
		r.s.devices[d.ID] = d
	}
	if reg.Name != nil {
		d.Name = cloneString(reg.Name)
	}
	if reg.PushToken != nil {
		d.PushToken = cloneString(reg.PushToken)
	}
	d.IsOnline = true
	if reg.ConnectionID != "" {
		d.ConnectionID = cloneString(&reg.ConnectionID)
	} else {
		d.ConnectionID = nil
	}
	d.LastActiveAt = now

	cp := *d
	return &cp, nil
}

func (r *deviceRepository) SetOnline(ctx context.Context, userID string, class model.DeviceClass, connectionID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if d := r.slot(userID, class); d != nil {
		d.IsOnline = true
		d.ConnectionID = cloneString(&connectionID)
		d.LastActiveAt = r.s.now()
	}
	return nil
}

func (r *deviceRepository) SetOffline(ctx context.Context, userID string, class model.DeviceClass) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if d := r.slot(userID, class); d != nil {
		d.IsOnline = false
		d.ConnectionID = nil
		d.LastActiveAt = r.s.now()
	}
	return nil
}

func (r *deviceRepository) SetOfflineByConnection(ctx context.Context, connectionID string) (*model.DeviceIdentity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, d := range r.s.devices {
		if d.ConnectionID != nil && *d.ConnectionID == connectionID {
			d.IsOnline = false
			d.ConnectionID = nil
			d.LastActiveAt = r.s.now()
			return &model.DeviceIdentity{UserID: d.UserID, Class: d.Class}, nil
		}
	}
	return nil, nil
}

func (r *deviceRepository) AnyOnline(ctx context.Context, userID string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, d := range r.s.devices {
		if d.UserID == userID && d.IsOnline {
			return true, nil
		}
	}
	return false, nil
}

func (r *deviceRepository) ListOnline(ctx context.Context, userID string) ([]model.OnlineDevice, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []model.OnlineDevice
	for _, d := range r.s.devices {
		if d.UserID == userID && d.IsOnline {
			out = append(out, model.OnlineDevice{Class: d.Class, PushToken: cloneString(d.PushToken)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Class < out[j].Class })
	return out, nil
}

func (r *deviceRepository) ListByUser(ctx context.Context, userID string) ([]model.Device, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []model.Device
	for _, d := range r.s.devices {
		if d.UserID == userID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActiveAt.After(out[j].LastActiveAt) })
	return out, nil
}

func (r *deviceRepository) Delete(ctx context.Context, deviceID, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d, ok := r.s.devices[deviceID]
	if !ok || d.UserID != userID {
		return model.ErrDeviceNotFound
	}
	delete(r.s.devices, deviceID)
	return nil
}
