package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "file")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ServerAddress)
	assert.Equal(t, ":8081", cfg.WorkerAddress)
	assert.Equal(t, BackendFile, cfg.StoreBackend)
	assert.Equal(t, "@every 5m", cfg.ActivationSchedule)
	assert.Equal(t, "@hourly", cfg.ExpirySchedule)
	assert.Equal(t, 10, cfg.ResolveChunkSize)
	assert.Equal(t, 10*time.Second, cfg.PushTimeout)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STORE_BACKEND", "mongo")
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("AUTH_MODE", "jwt")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("ALERT_TO_EMAILS", "a@campus.edu, b@campus.edu,")
	t.Setenv("RESOLVE_CHUNK_SIZE", "5")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, BackendMongo, cfg.StoreBackend)
	assert.Equal(t, AuthJWT, cfg.AuthMode)
	assert.Equal(t, 5, cfg.ResolveChunkSize)
	assert.Equal(t, []string{"a@campus.edu", "b@campus.edu"}, cfg.AlertRecipients())
	assert.False(t, cfg.NeedsFirebase())
}

func TestValidate(t *testing.T) {
	t.Run("mongo without uri", func(t *testing.T) {
		t.Setenv("STORE_BACKEND", "mongo")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("jwt without secret", func(t *testing.T) {
		t.Setenv("STORE_BACKEND", "file")
		t.Setenv("AUTH_MODE", "jwt")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("unknown backend", func(t *testing.T) {
		t.Setenv("STORE_BACKEND", "postgres")
		_, err := Load("")
		assert.Error(t, err)
	})
}
