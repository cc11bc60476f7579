package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "production", cfg.GoEnv)
	assert.False(t, cfg.Development())
	assert.Equal(t, 64, cfg.SendBuffer)
	assert.Equal(t, 10*time.Second, cfg.WriteTimeout)
	assert.Zero(t, cfg.MessageRate)
	assert.Equal(t, "100-M", cfg.RateLimitWsIP)
	assert.Equal(t, []string{"*"}, cfg.Origins())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("GO_ENV", "development")
	t.Setenv("SEND_BUFFER", "128")
	t.Setenv("MESSAGE_RATE", "50")
	t.Setenv("ALLOWED_ORIGINS", "http://localhost:3000, https://example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.True(t, cfg.Development())
	assert.Equal(t, 128, cfg.SendBuffer)
	assert.Equal(t, 50.0, cfg.MessageRate)
	assert.Equal(t, []string{"http://localhost:3000", "https://example.com"}, cfg.Origins())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad port", "PORT", "70000"},
		{"non-numeric port", "PORT", "http"},
		{"zero send buffer", "SEND_BUFFER", "0"},
		{"negative message rate", "MESSAGE_RATE", "-1"},
		{"zero burst", "MESSAGE_BURST", "0"},
		{"zero write timeout", "WRITE_TIMEOUT", "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
