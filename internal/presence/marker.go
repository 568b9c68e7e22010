package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	onlineKeyPrefix   = "online:"
	lastSeenKeyPrefix = "lastseen:"
)

// MarkerStore holds the per-user online marker shared by all instances.
type MarkerStore interface {
	// SetIfAbsent reports whether the marker was created by this call.
	SetIfAbsent(ctx context.Context, userID string) (bool, error)
	// Clear removes the marker, records lastSeen and reports whether a marker was removed.
	Clear(ctx context.Context, userID string, lastSeen time.Time) (bool, error)
	Exists(ctx context.Context, userID string) (bool, error)
	LastSeen(ctx context.Context, userID string) (time.Time, bool, error)
}

// RedisMarkerStore keeps markers at online:{id} and lastseen:{id}.
type RedisMarkerStore struct {
	client *redis.Client
}

func NewRedisMarkerStore(client *redis.Client) *RedisMarkerStore {
	return &RedisMarkerStore{client: client}
}

func (s *RedisMarkerStore) SetIfAbsent(ctx context.Context, userID string) (bool, error) {
	created, err := s.client.SetNX(ctx, onlineKeyPrefix+userID, "1", 0).Result()
	if err != nil {
		return false, fmt.Errorf("set online marker: %w", err)
	}
	return created, nil
}

func (s *RedisMarkerStore) Clear(ctx context.Context, userID string, lastSeen time.Time) (bool, error) {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, onlineKeyPrefix+userID)
	pipe.Set(ctx, lastSeenKeyPrefix+userID, lastSeen.UTC().Format(time.RFC3339), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("clear online marker: %w", err)
	}
	return del.Val() > 0, nil
}

func (s *RedisMarkerStore) Exists(ctx context.Context, userID string) (bool, error) {
	n, err := s.client.Exists(ctx, onlineKeyPrefix+userID).Result()
	if err != nil {
		return false, fmt.Errorf("check online marker: %w", err)
	}
	return n > 0, nil
}

func (s *RedisMarkerStore) LastSeen(ctx context.Context, userID string) (time.Time, bool, error) {
	raw, err := s.client.Get(ctx, lastSeenKeyPrefix+userID).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get last seen: %w", err)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse last seen: %w", err)
	}
	return t, true, nil
}

// MemoryMarkerStore is the single-instance MarkerStore.
type MemoryMarkerStore struct {
	mu       sync.Mutex
	online   map[string]bool
	lastSeen map[string]time.Time
}

func NewMemoryMarkerStore() *MemoryMarkerStore {
	return &MemoryMarkerStore{online: make(map[string]bool), lastSeen: make(map[string]time.Time)}
}

func (s *MemoryMarkerStore) SetIfAbsent(ctx context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.online[userID] {
		return false, nil
	}
	s.online[userID] = true
	return true, nil
}

func (s *MemoryMarkerStore) Clear(ctx context.Context, userID string, lastSeen time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.online[userID]
	delete(s.online, userID)
	s.lastSeen[userID] = lastSeen
	return removed, nil
}

func (s *MemoryMarkerStore) Exists(ctx context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online[userID], nil
}

func (s *MemoryMarkerStore) LastSeen(ctx context.Context, userID string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lastSeen[userID]
	return t, ok, nil
}
