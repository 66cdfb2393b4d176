package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, 5432, cfg.DBPort)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 8, cfg.SettleMaxAttempts)
	assert.Equal(t, 5*time.Millisecond, cfg.SettleBackoffBase)
	assert.Equal(t, "capped", cfg.CollabRewardPool)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Empty(t, cfg.RedisAddr)
	assert.Empty(t, cfg.PaymentsJWTSecret)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/x.db")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("SETTLE_BACKOFF_BASE", "20ms")
	t.Setenv("COLLAB_REWARD_POOL", "uncapped")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 20*time.Millisecond, cfg.SettleBackoffBase)
	assert.Equal(t, "uncapped", cfg.CollabRewardPool)
	assert.Contains(t, cfg.DSN(), "/tmp/x.db?")
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Run("missing secret", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "s3cret")
		t.Setenv("DB_DRIVER", "mysql")
		_, err := Load()
		assert.ErrorContains(t, err, "DB_DRIVER")
	})

	t.Run("bad pool", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "s3cret")
		t.Setenv("COLLAB_REWARD_POOL", "generous")
		_, err := Load()
		assert.ErrorContains(t, err, "COLLAB_REWARD_POOL")
	})

	t.Run("payments secret reused", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "s3cret")
		t.Setenv("PAYMENTS_JWT_SECRET", "s3cret")
		_, err := Load()
		assert.ErrorContains(t, err, "PAYMENTS_JWT_SECRET")
	})
}

func TestConnString(t *testing.T) {
	cfg := &Config{DBDriver: "postgres", DBHost: "db", DBPort: 5433, DBUser: "u", DBPassword: "p", DBName: "goals", DBSSLMode: "require"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=goals sslmode=require", cfg.DSN())
}
