package model

import "errors"

var (
	// ErrAccessDenied is returned when the caller is not a participant of the conversation
	ErrAccessDenied = errors.New("access denied")

	// ErrConversationNotFound is returned when a conversation cannot be found
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrGroupNotFound is returned when a group cannot be found
	ErrGroupNotFound = errors.New("group not found")

	// ErrDeviceNotFound is returned when a device does not exist or belongs to another user
	ErrDeviceNotFound = errors.New("device not found")

	// ErrUserNotFound is returned when a user cannot be found
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidDeviceClass is returned for device classes outside mobile/pc/tablet
	ErrInvalidDeviceClass = errors.New("invalid device class")

	// ErrInvalidArgument is returned for malformed requests (empty text, self-conversation, ...)
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConflict is returned by repositories when a unique constraint rejected an insert
	ErrConflict = errors.New("conflict")
)

// IsNotFound reports whether err is one of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrConversationNotFound) ||
		errors.Is(err, ErrGroupNotFound) ||
		errors.Is(err, ErrDeviceNotFound) ||
		errors.Is(err, ErrUserNotFound)
}

// Socket/API error codes
const (
	CodeTokenExpired = "TOKEN_EXPIRED"
	CodeTokenInvalid = "TOKEN_INVALID"
)
