package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/mathbuddy/internal/config"
	"github.com/abhisek/mathbuddy/internal/jobs"
	"github.com/abhisek/mathbuddy/internal/logger"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Database.DSN = ":memory:"
	cfg.Storage.LocalDir = t.TempDir()
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Stats.Timezone = "UTC"
	return cfg
}

func TestNewWiresServices(t *testing.T) {
	t.Setenv("MATHBUDDY_LLM_PROVIDER", "mock")

	a, err := New(context.Background(), testConfig(t), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })

	assert.NotNil(t, a.Provider)
	assert.IsType(t, &jobs.Pool{}, a.Jobs)

	rec := httptest.NewRecorder()
	a.Server().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewRejectsBadTimezone(t *testing.T) {
	cfg := testConfig(t)
	cfg.Stats.Timezone = "Mars/Olympus"
	_, err := New(context.Background(), cfg, logger.Nop())
	assert.Error(t, err)
}

func TestNewRejectsBadRedisURL(t *testing.T) {
	cfg := testConfig(t)
	cfg.Queue.Mode = "asynq"
	cfg.Queue.RedisURL = "not a url"
	_, err := New(context.Background(), cfg, logger.Nop())
	assert.Error(t, err)
}
