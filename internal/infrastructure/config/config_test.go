package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.True(t, cfg.RateLimit.Enabled)

	assert.Equal(t, 500*time.Millisecond, cfg.Bridge.VerifyDelay)
	assert.Equal(t, 3, cfg.Bridge.MaxRetries)
	assert.Equal(t, SurfaceSandbox, cfg.Surface.Kind)
	assert.Equal(t, "browser-storage", cfg.Storage.Key)

	assert.NoError(t, cfg.Validate())
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                "9000",
		"HOST":                "127.0.0.1",
		"LOG_LEVEL":           "debug",
		"LOG_DEV":             "true",
		"RATE_LIMIT_ENABLED":  "false",
		"STORAGE_DIR":         "/tmp/shell",
		"STORAGE_MEMORY":      "true",
		"BRIDGE_VERIFY_DELAY": "250ms",
		"BRIDGE_MAX_RETRIES":  "5",
		"SURFACE_KIND":        "chromium",
		"DOWNLOAD_TIMEOUT":    "1m",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, "/tmp/shell", cfg.Storage.Dir)
	assert.True(t, cfg.Storage.Memory)
	assert.Equal(t, 250*time.Millisecond, cfg.Bridge.VerifyDelay)
	assert.Equal(t, 5, cfg.Bridge.MaxRetries)
	assert.Equal(t, SurfaceChromium, cfg.Surface.Kind)
	assert.Equal(t, time.Minute, cfg.Downloads.Timeout)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown surface", "SURFACE_KIND", "netscape"},
		{"negative retries", "BRIDGE_MAX_RETRIES", "-1"},
		{"bad duration", "BRIDGE_VERIFY_DELAY", "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)

			cfg := LoadOrDefault()
			assert.Equal(t, Default(), cfg)
		})
	}
}
