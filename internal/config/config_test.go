package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BACKEND_HTTP_URL", "")
	t.Setenv("BACKEND_WS_URL", "")
	t.Setenv("BEY_ENABLED", "")

	cfg := Load()

	assert.False(t, cfg.CanConnect())
	assert.True(t, cfg.AudioOnly())
	assert.Equal(t, 1500*time.Millisecond, cfg.EndDelay)
	assert.Equal(t, 1200*time.Millisecond, cfg.SummaryEndDelay)
	assert.Equal(t, 4500*time.Millisecond, cfg.ToolToastDuration)
	assert.Equal(t, 5*time.Second, cfg.SummaryToastDuration)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BACKEND_HTTP_URL", "http://localhost:8000/")
	t.Setenv("BACKEND_WS_URL", "ws://localhost:8000")
	t.Setenv("BEY_ENABLED", "true")
	t.Setenv("END_DELAY_MS", "250")
	t.Setenv("CONTROL_PORT", "not-a-number")

	cfg := Load()

	assert.True(t, cfg.CanConnect())
	assert.False(t, cfg.AudioOnly())
	assert.Equal(t, "http://localhost:8000", cfg.BackendHTTPURL)
	assert.Equal(t, 250*time.Millisecond, cfg.EndDelay)
	assert.Equal(t, 8070, cfg.ControlPort)
}

func TestCanConnectRequiresBothAddresses(t *testing.T) {
	assert.False(t, (&Config{BackendHTTPURL: "http://x"}).CanConnect())
	assert.False(t, (&Config{BackendWSURL: "ws://x"}).CanConnect())
	assert.True(t, (&Config{BackendHTTPURL: "http://x", BackendWSURL: "ws://x"}).CanConnect())

	var nilCfg *Config
	assert.False(t, nilCfg.CanConnect())
}

func TestLoadDevBackendDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cfg := LoadDevBackend()

	assert.Equal(t, 8000, cfg.HTTPPort)
	assert.Equal(t, ":memory:", cfg.DatabaseURL)
	assert.Equal(t, time.Hour, cfg.TokenTTL)
	assert.Equal(t, int64(65536), cfg.MaxMessageSize)
}
