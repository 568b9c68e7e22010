// Package presence tracks live connections per (user, device class), keeps the
// cluster-wide online marker in step with the device directory and fans events
// out to users and rooms across instances.
package presence

import (
	"context"
	"errors"

	"unitalk/internal/model"
)

// ErrUnknownHandle is returned for connection handles not registered here.
var ErrUnknownHandle = errors.New("unknown connection handle")

// Connection is one live client connection. Send must not block.
type Connection interface {
	ID() string
	Send(ctx context.Context, ev model.Event) error
}

// Directory is the durable device state the registry writes through to.
type Directory interface {
	SetOnline(ctx context.Context, userID string, class model.DeviceClass, handleID string) error
	SetOfflineByConnectionHandle(ctx context.Context, handleID string) (*model.DeviceIdentity, error)
	IsAnyDeviceOnline(ctx context.Context, userID string) (bool, error)
}

// ContactLister returns whom to notify about a user's presence changes.
type ContactLister interface {
	GetContactIDs(ctx context.Context, userID string) ([]string, error)
}
