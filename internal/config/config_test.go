package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 3, cfg.Dialogue.TotalRounds)
	assert.Equal(t, 900*1024, cfg.Storage.MaxImageBytes)
	assert.Equal(t, "inprocess", cfg.Queue.Mode)
	assert.Equal(t, "Asia/Shanghai", cfg.Stats.Timezone)
	assert.Equal(t, 30*24*time.Hour, cfg.Auth.TokenTTL)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mathbuddy.yaml")
	body := []byte("server:\n  addr: \":9000\"\nqueue:\n  mode: asynq\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))

	t.Setenv("MATHBUDDY_AUTH_JWT_SECRET", "s3cret")
	t.Setenv("MATHBUDDY_DIALOGUE_TOTAL_ROUNDS", "5")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "asynq", cfg.Queue.Mode)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, 5, cfg.Dialogue.TotalRounds)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults with secret", func(c *Config) {}, false},
		{"missing secret", func(c *Config) { c.Auth.JWTSecret = "" }, true},
		{"http identity without url", func(c *Config) { c.Identity.Mode = "http" }, true},
		{"gcs without bucket", func(c *Config) { c.Storage.Mode = "gcs" }, true},
		{"unknown queue", func(c *Config) { c.Queue.Mode = "kafka" }, true},
		{"zero rounds", func(c *Config) { c.Dialogue.TotalRounds = 0 }, true},
		{"bad timezone", func(c *Config) { c.Stats.Timezone = "Mars/Olympus" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Auth.JWTSecret = "secret"
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}
