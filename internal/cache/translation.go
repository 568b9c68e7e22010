package cache

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

const (
	// TranslationCachePrefix is the key prefix for cached translations
	TranslationCachePrefix = "trans:"

	// DefaultTranslationTTL applies when no TTL is configured
	DefaultTranslationTTL = 24 * time.Hour
)

// ContentHash returns the hex BLAKE2b-256 digest of text.
func ContentHash(text string) string {
	sum := blake2b.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// translationKey returns trans:{hash}:{lang}.
func translationKey(hash, lang string) string {
	return fmt.Sprintf("%s%s:%s", TranslationCachePrefix, hash, lang)
}

// TranslationCache stores translations keyed by content hash and target language.
type TranslationCache interface {
	// GetMany returns the cached translations among langs; misses are absent.
	GetMany(ctx context.Context, hash string, langs []string) (map[string]string, error)

	// SetMany stores translations with the cache TTL.
	SetMany(ctx context.Context, hash string, translations map[string]string) error
}

// RedisTranslationCache implements TranslationCache with plain string keys.
type RedisTranslationCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewTranslationCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) TranslationCache {
	if ttl <= 0 {
		ttl = DefaultTranslationTTL
	}
	return &RedisTranslationCache{client: client, ttl: ttl, logger: logger.Named("translation-cache")}
}

// GetMany reads every language with one MGET.
func (c *RedisTranslationCache) GetMany(ctx context.Context, hash string, langs []string) (map[string]string, error) {
	result := make(map[string]string, len(langs))
	if len(langs) == 0 {
		return result, nil
	}

	keys := make([]string, len(langs))
	for i, lang := range langs {
		keys[i] = translationKey(hash, lang)
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warn("GetMany FAILED", zap.String("hash", hash), zap.Error(err))
		return nil, fmt.Errorf("get cached translations: %w", err)
	}

	for i, v := range values {
		if s, ok := v.(string); ok && s != "" {
			result[langs[i]] = s
		}
	}
	c.logger.Debug("GetMany OK", zap.String("hash", hash), zap.Int("requested", len(langs)), zap.Int("hits", len(result)))
	return result, nil
}

// SetMany writes every translation in one pipeline.
func (c *RedisTranslationCache) SetMany(ctx context.Context, hash string, translations map[string]string) error {
	if len(translations) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	for lang, text := range translations {
		pipe.Set(ctx, translationKey(hash, lang), text, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("SetMany FAILED", zap.String("hash", hash), zap.Error(err))
		return fmt.Errorf("cache translations: %w", err)
	}
	return nil
}

type memoryEntry struct {
	text      string
	expiresAt time.Time
}

// MemoryTranslationCache is the in-process TranslationCache used without Redis.
type MemoryTranslationCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryTranslationCache(ttl time.Duration) *MemoryTranslationCache {
	if ttl <= 0 {
		ttl = DefaultTranslationTTL
	}
	return &MemoryTranslationCache{ttl: ttl, entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryTranslationCache) GetMany(ctx context.Context, hash string, langs []string) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	result := make(map[string]string, len(langs))
	for _, lang := range langs {
		key := translationKey(hash, lang)
		e, ok := c.entries[key]
		if !ok {
			continue
		}
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			continue
		}
		result[lang] = e.text
	}
	return result, nil
}

func (c *MemoryTranslationCache) SetMany(ctx context.Context, hash string, translations map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)
	for lang, text := range translations {
		c.entries[translationKey(hash, lang)] = memoryEntry{text: text, expiresAt: expiresAt}
	}
	return nil
}
