package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "access")
	t.Setenv("JWT_REFRESH_SECRET", "refresh")
	t.Setenv("ACCESS_TOKEN_EXPIRE_MINUTES", "")
	t.Setenv("REFRESH_TOKEN_EXPIRE_DAYS", "")
	t.Setenv("AUTH_MODE", "")
	t.Setenv("AUTH_ADDR", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("KAFKA_USER_TOPIC", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, []byte("access"), cfg.JWTAccessSecret)
	assert.Equal(t, []byte("refresh"), cfg.JWTRefreshSecret)
	assert.Equal(t, 30*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.RefreshTTL)
	assert.Equal(t, ModeLocal, cfg.AuthMode)
	assert.False(t, cfg.Federated())
	assert.Nil(t, cfg.KafkaBrokers)
	assert.Equal(t, "user_events", cfg.KafkaTopic)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "access")
	t.Setenv("JWT_REFRESH_SECRET", "refresh")
	t.Setenv("ACCESS_TOKEN_EXPIRE_MINUTES", "5")
	t.Setenv("REFRESH_TOKEN_EXPIRE_DAYS", "1")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,,")
	t.Setenv("AUTH_MODE", "local")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 24*time.Hour, cfg.RefreshTTL)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
}

func TestLoad_FederatedReadsProjectID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"service_account","project_id":"quiz-prod"}`), 0o600))

	t.Setenv("AUTH_MODE", "Federated")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Federated())
	assert.Equal(t, "quiz-prod", cfg.FederatedProject)
	assert.Equal(t, DefaultJWKSURL, cfg.JWKSURL)
}

func TestLoad_Rejects(t *testing.T) {
	t.Run("unknown mode", func(t *testing.T) {
		t.Setenv("AUTH_MODE", "ldap")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("shared token secret", func(t *testing.T) {
		t.Setenv("AUTH_MODE", "local")
		t.Setenv("JWT_SECRET", "same")
		t.Setenv("JWT_REFRESH_SECRET", "same")
		_, err := Load()
		assert.ErrorContains(t, err, "must differ")
	})

	t.Run("federated without credentials", func(t *testing.T) {
		t.Setenv("AUTH_MODE", "federated")
		t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("credentials without project", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "creds.json")
		require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o600))
		t.Setenv("AUTH_MODE", "federated")
		t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", path)
		_, err := Load()
		assert.Error(t, err)
	})
}

func TestEnvIntDefault_BadValue(t *testing.T) {
	t.Setenv("SOME_INT", "x")
	assert.Equal(t, 3, EnvIntDefault("SOME_INT", 3))
}
