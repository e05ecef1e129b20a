package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoad_Defaults 環境変数未設定時のデフォルト値
func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"DB_HOST", "SERVER_PORT", "ENV", "PRESENCE_TTL", "HEARTBEAT_INTERVAL", "PRESENCE_BACKEND", "PREVIEW_LENGTH"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.DBHost)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, time.Hour, cfg.PresenceTTL)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, PresenceMemory, cfg.PresenceBackend)
	assert.Equal(t, 100, cfg.PreviewLength)
	assert.NoError(t, cfg.Validate())
}

// TestLoad_TrimsOrigins ALLOWED_ORIGINS の空白除去
func TestLoad_TrimsOrigins(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "http://a.example , http://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.AllowedOrigins)
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("PRESENCE_TTL", "one hour")

	_, err := Load()
	assert.ErrorContains(t, err, "PRESENCE_TTL")
}

func TestValidate(t *testing.T) {
	base := Config{
		Env:               "development",
		StoreBackend:      StoreMySQL,
		PresenceBackend:   PresenceMemory,
		PresenceTTL:       time.Hour,
		ActivityTTL:       30 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		NotifyTimeout:     5 * time.Second,
		PreviewLength:     100,
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"production without secret", func(c *Config) { c.Env = "production" }},
		{"unknown store", func(c *Config) { c.StoreBackend = "sqlite" }},
		{"unknown presence", func(c *Config) { c.PresenceBackend = "etcd" }},
		{"nats without url", func(c *Config) { c.PresenceBackend = PresenceNATS }},
		{"heartbeat longer than ttl", func(c *Config) { c.HeartbeatInterval = 2 * time.Hour }},
		{"zero preview", func(c *Config) { c.PreviewLength = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
