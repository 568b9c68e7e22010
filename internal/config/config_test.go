package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("TRANSLATION_CACHE_TTL", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, StorePostgres, cfg.StoreDriver)
	assert.Equal(t, 24*time.Hour, cfg.TranslationCacheTTL)
	assert.Equal(t, 64, cfg.WSSendBuffer)
	assert.NotEmpty(t, cfg.InstanceID)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_DRIVER", "MEMORY")
	t.Setenv("TRANSLATION_CACHE_TTL", "1h")
	t.Setenv("FIREBASE_PRIVATE_KEY", `line1\nline2`)
	t.Setenv("INSTANCE_ID", "node-a")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, time.Hour, cfg.TranslationCacheTTL)
	assert.Equal(t, "line1\nline2", cfg.FirebasePrivateKey)
	assert.Equal(t, "node-a", cfg.InstanceID)
}

func TestLoadConfig_RequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfig_RejectsUnknownDriver(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_DRIVER", "mongo")

	_, err := LoadConfig()
	assert.Error(t, err)
}
