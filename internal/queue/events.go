package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"unitalk/internal/model"
)

// Event types for the push stream
const (
	EventPushRequested = "push_requested"
)

// Stream names
const (
	StreamPush = "stream:push"
)

// Consumer group name for push workers
const (
	ConsumerGroupPush = "push_workers"
)

// PushEvent is one push notification waiting for delivery.
type PushEvent struct {
	Type         string                 `json:"type"`
	Timestamp    int64                  `json:"timestamp"` // Unix timestamp when the push was requested
	Notification model.PushNotification `json:"notification"`
}

// NewPushRequestedEvent wraps a notification for the push stream.
func NewPushRequestedEvent(n model.PushNotification) PushEvent {
	return PushEvent{
		Type:         EventPushRequested,
		Timestamp:    time.Now().Unix(),
		Notification: n,
	}
}

// ToMap converts the event to a map for Redis XADD.
// Redis Streams store field-value pairs, so we serialize to JSON in a "data" field.
func (e PushEvent) ToMap() (map[string]interface{}, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return map[string]interface{}{
		"type": e.Type,
		"data": string(data),
	}, nil
}

// ParsePushEvent parses a PushEvent from Redis stream message values.
func ParsePushEvent(values map[string]interface{}) (PushEvent, error) {
	data, ok := values["data"].(string)
	if !ok {
		return PushEvent{}, fmt.Errorf("missing or invalid 'data' field")
	}

	var event PushEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return PushEvent{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return event, nil
}
