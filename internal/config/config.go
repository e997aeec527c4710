// Package config provides configuration for the voice-agent client and its development backend.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the client configuration.
type Config struct {
	// Backend settings
	BackendHTTPURL string
	BackendWSURL   string

	// Media settings
	AvatarEnabled bool // Subscribe to the avatar video track instead of running audio-only

	// Local control API port, 0 disables it
	ControlPort int

	// Timeouts
	HTTPTimeout     time.Duration
	EndDelay        time.Duration // Grace window after an end-of-conversation signal
	SummaryEndDelay time.Duration // Grace window after a summary while an end is pending

	// Presentation
	ToolToastDuration    time.Duration
	SummaryToastDuration time.Duration

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		BackendHTTPURL:       strings.TrimSuffix(getEnv("BACKEND_HTTP_URL", ""), "/"),
		BackendWSURL:         strings.TrimSuffix(getEnv("BACKEND_WS_URL", ""), "/"),
		AvatarEnabled:        getEnv("BEY_ENABLED", "") == "true",
		ControlPort:          getEnvInt("CONTROL_PORT", 8070),
		HTTPTimeout:          time.Duration(getEnvInt("BACKEND_TIMEOUT_MS", 30000)) * time.Millisecond,
		EndDelay:             time.Duration(getEnvInt("END_DELAY_MS", 1500)) * time.Millisecond,
		SummaryEndDelay:      time.Duration(getEnvInt("SUMMARY_END_DELAY_MS", 1200)) * time.Millisecond,
		ToolToastDuration:    time.Duration(getEnvInt("TOOL_TOAST_MS", 4500)) * time.Millisecond,
		SummaryToastDuration: time.Duration(getEnvInt("SUMMARY_TOAST_MS", 5000)) * time.Millisecond,
		LogLevel:             getEnv("LOG_LEVEL", "info"),
	}
}

// CanConnect reports whether both backend addresses are configured.
func (c *Config) CanConnect() bool {
	return c != nil && c.BackendHTTPURL != "" && c.BackendWSURL != ""
}

// AudioOnly reports whether the client runs without the avatar video track.
func (c *Config) AudioOnly() bool {
	return c == nil || !c.AvatarEnabled
}

// DevBackendConfig holds the development backend configuration.
type DevBackendConfig struct {
	// Server settings
	HTTPPort int
	// Advertised websocket base returned in ws_url, derived from HTTPPort when empty
	PublicWSURL string

	// Database
	DatabaseURL string

	// LiveKit settings for token minting
	LiveKitURL       string
	LiveKitAPIKey    string
	LiveKitAPISecret string
	TokenTTL         time.Duration

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// Logging
	LogLevel string
}

// LoadDevBackend loads the development backend configuration from environment variables.
func LoadDevBackend() *DevBackendConfig {
	return &DevBackendConfig{
		HTTPPort:         getEnvInt("HTTP_PORT", 8000),
		PublicWSURL:      getEnv("PUBLIC_WS_URL", ""),
		DatabaseURL:      getEnv("DATABASE_URL", ":memory:"),
		LiveKitURL:       getEnv("LIVEKIT_URL", "ws://localhost:7880"),
		LiveKitAPIKey:    getEnv("LIVEKIT_API_KEY", ""),
		LiveKitAPISecret: getEnv("LIVEKIT_API_SECRET", ""),
		TokenTTL:         time.Duration(getEnvInt("LIVEKIT_TOKEN_TTL_S", 3600)) * time.Second,
		PingInterval:     time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:     time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:      time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize:   int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
