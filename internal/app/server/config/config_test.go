package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URI", "postgres://localhost/shop")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, ":8080", cfg.Server.RunAddress)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 64, cfg.Server.RealtimeBuffer)
	assert.Empty(t, cfg.Server.AdminToken)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("DATABASE_URI", "postgres://db/shop")
	t.Setenv("RUN_ADDRESS", "127.0.0.1:9000")
	t.Setenv("APP_ENV", "prod")
	t.Setenv("REALTIME_BUFFER", "8")
	t.Setenv("ADMIN_TOKEN", "root-token")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, "root-token", cfg.Server.AdminToken)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.RunAddress)
	assert.Equal(t, 8, cfg.Server.RealtimeBuffer)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("DATABASE_URI", "")
	_, err := Load()
	assert.Error(t, err)
	assert.Panics(t, func() { MustLoad() })

	t.Setenv("DATABASE_URI", "postgres://localhost/shop")
	t.Setenv("REALTIME_BUFFER", "0")
	_, err = Load()
	assert.Error(t, err)
}
