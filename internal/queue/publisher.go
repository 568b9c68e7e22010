package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"unitalk/internal/model"
)

// Publisher defines the interface for publishing events to a stream.
type Publisher interface {
	// Publish adds an event to the specified stream.
	// Returns the message ID assigned by Redis.
	Publish(ctx context.Context, stream string, event PushEvent) (messageID string, err error)
}

// RedisPublisher implements Publisher using Redis Streams.
type RedisPublisher struct {
	client *redis.Client
	logger *zap.Logger
}

// NewPublisher creates a new Publisher backed by Redis Streams.
func NewPublisher(client *redis.Client, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, logger: logger.Named("publisher")}
}

// Publish adds an event to the stream using XADD.
// Uses "*" for auto-generated message ID (timestamp-sequence).
func (p *RedisPublisher) Publish(ctx context.Context, stream string, event PushEvent) (string, error) {
	startTime := time.Now()

	values, err := event.ToMap()
	if err != nil {
		p.logger.Error("Publish FAILED", zap.String("stream", stream), zap.String("type", event.Type), zap.Error(err))
		return "", fmt.Errorf("serialize event: %w", err)
	}

	messageID, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Result()
	if err != nil {
		p.logger.Error("Publish FAILED", zap.String("stream", stream), zap.String("type", event.Type), zap.Error(err))
		return "", fmt.Errorf("xadd to stream: %w", err)
	}

	p.logger.Debug("Publish OK",
		zap.String("stream", stream),
		zap.String("type", event.Type),
		zap.String("msgID", messageID),
		zap.Duration("duration", time.Since(startTime)))
	return messageID, nil
}

// PushQueue hands notifications to the push workers instead of sending them
// inline. It satisfies the same Send contract as the direct push clients.
type PushQueue struct {
	publisher Publisher
}

func NewPushQueue(publisher Publisher) *PushQueue {
	return &PushQueue{publisher: publisher}
}

func (q *PushQueue) Send(ctx context.Context, n model.PushNotification) error {
	if _, err := q.publisher.Publish(ctx, StreamPush, NewPushRequestedEvent(n)); err != nil {
		return fmt.Errorf("enqueue push: %w", err)
	}
	return nil
}
