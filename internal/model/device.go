package model

import (
	"time"
)

// DeviceClass identifies the kind of client. A user holds at most one
// registered device per class.
type DeviceClass string

// Device classes
const (
	DeviceMobile DeviceClass = "mobile"
	DevicePC     DeviceClass = "pc"
	DeviceTablet DeviceClass = "tablet"
)

// ParseDeviceClass validates a client-supplied device class.
// An empty string defaults to mobile.
func ParseDeviceClass(s string) (DeviceClass, error) {
	switch DeviceClass(s) {
	case "":
		return DeviceMobile, nil
	case DeviceMobile, DevicePC, DeviceTablet:
		return DeviceClass(s), nil
	default:
		return "", ErrInvalidDeviceClass
	}
}

// Device is the durable per-(user, class) slot.
type Device struct {
	ID           string      `db:"id" json:"id"`
	UserID       string      `db:"user_id" json:"-"`
	Class        DeviceClass `db:"device_type" json:"device_type"`
	Name         *string     `db:"device_name" json:"device_name"`
	PushToken    *string     `db:"device_token" json:"-"` // FCM or Expo token, hidden from JSON
	IsOnline     bool        `db:"is_online" json:"is_online"`
	ConnectionID *string     `db:"socket_id" json:"-"`
	LastActiveAt time.Time   `db:"last_active_at" json:"last_active_at"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
}

// DeviceRegistration carries the arguments of a device upsert.
// Nil Name/PushToken keep the stored values.
type DeviceRegistration struct {
	UserID       string
	Class        DeviceClass
	Name         *string
	PushToken    *string
	ConnectionID string
}

// DeviceIdentity names the slot a connection handle belonged to.
type DeviceIdentity struct {
	UserID string      `db:"user_id"`
	Class  DeviceClass `db:"device_type"`
}

// OnlineDevice is a currently connected slot and its push token.
type OnlineDevice struct {
	Class     DeviceClass `db:"device_type" json:"device_type"`
	PushToken *string     `db:"device_token" json:"-"`
}
