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

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, "public", cfg.PublicDir)
	assert.Equal(t, "uploads", cfg.UploadsDir)
	assert.Equal(t, 2000, cfg.MaxMessageLength)
	assert.Equal(t, int64(20971520), cfg.MaxFileSize)
	assert.Equal(t, time.Hour, cfg.RoomTTL)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, "duochat.audit", cfg.AuditExchange)
	assert.Equal(t, "dev", cfg.Environment)
	assert.False(t, cfg.Debug)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("MAX_MESSAGE_LENGTH", "500")
	t.Setenv("ROOM_TTL", "30m")
	t.Setenv("PUBLIC_BASE_URL", "https://chat.example.com")
	t.Setenv("DEBUG", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 500, cfg.MaxMessageLength)
	assert.Equal(t, 30*time.Minute, cfg.RoomTTL)
	assert.Equal(t, "https://chat.example.com", cfg.PublicBaseURL)
	assert.True(t, cfg.Debug)
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	t.Setenv("ROOM_TTL", "not-a-duration")

	_, err := Load()
	assert.Error(t, err)
}
