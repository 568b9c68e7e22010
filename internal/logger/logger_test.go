package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unitalk/internal/config"
)

func TestNew_WritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unitalk.log")
	log, err := New(&config.Config{AppEnv: "production", LogLevel: "debug", LogFile: path, InstanceID: "node-1"})
	require.NoError(t, err)

	log.Named("test").Info("hello")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"instance":"node-1"`)
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	log, err := New(&config.Config{LogLevel: "loud"})
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(-1)) // debug
	assert.True(t, log.Core().Enabled(0))   // info
}
