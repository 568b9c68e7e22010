package presence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"unitalk/internal/model"
)

// DefaultBusChannel is the Pub/Sub channel shared by all instances.
const DefaultBusChannel = "unitalk:fanout"

// Target kinds of an envelope
const (
	TargetUser = "user"
	TargetRoom = "room"
)

// Envelope is one fanout request as it travels between instances.
type Envelope struct {
	Origin  string      `json:"origin"`
	Target  string      `json:"target"`
	Key     string      `json:"key"`
	Exclude string      `json:"exclude,omitempty"`
	Event   model.Event `json:"event"`
}

// Bus carries envelopes to the other instances. Every instance delivers to
// its own connections itself, so a Bus only needs to reach remote ones.
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe starts delivering remote envelopes to handle until ctx ends.
	Subscribe(ctx context.Context, handle func(context.Context, Envelope)) error
}

// LocalBus is the Bus of a single-instance deployment: there is nobody to reach.
type LocalBus struct{}

func NewLocalBus() *LocalBus { return &LocalBus{} }

func (LocalBus) Publish(ctx context.Context, env Envelope) error { return nil }

func (LocalBus) Subscribe(ctx context.Context, handle func(context.Context, Envelope)) error {
	return nil
}

// RedisBus fans envelopes out over Redis Pub/Sub.
type RedisBus struct {
	client     *redis.Client
	channel    string
	instanceID string
	logger     *zap.Logger
}

func NewRedisBus(client *redis.Client, channel, instanceID string, logger *zap.Logger) *RedisBus {
	if channel == "" {
		channel = DefaultBusChannel
	}
	return &RedisBus{
		client:     client,
		channel:    channel,
		instanceID: instanceID,
		logger:     logger.Named("redis-bus"),
	}
}

func (b *RedisBus) Publish(ctx context.Context, env Envelope) error {
	env.Origin = b.instanceID
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish envelope: %w", err)
	}
	return nil
}

// Subscribe waits for the subscription to be confirmed, then consumes in the
// background. Envelopes published by this instance are skipped.
func (b *RedisBus) Subscribe(ctx context.Context, handle func(context.Context, Envelope)) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.logger.Info("Subscribed to fanout channel", zap.String("channel", b.channel))

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					b.logger.Warn("Failed to unmarshal envelope", zap.Error(err))
					continue
				}
				if env.Origin == b.instanceID {
					continue
				}
				handle(ctx, env)
			}
		}
	}()
	return nil
}
