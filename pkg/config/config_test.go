package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/parley/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "parley.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
	assert.Equal(t, config.StoreMemory, cfg.Store.Driver)
	assert.False(t, cfg.OAuth.Enabled())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
prompt_timeout: 90s
max_attempts: "5"
store:
  driver: sqlite
  dsn: /tmp/parley.db
recognizer:
  kind: keyword
  intents:
    Logout: [logout, "sign out"]
oauth:
  client_id: abc
  auth_url: https://idp.example.test/authorize
  token_url: https://idp.example.test/token
  scopes: read:user,repo
`)
	t.Setenv("PARLEY_LOG_LEVEL", "warn")
	t.Setenv("PARLEY_STORE_DSN", "/var/lib/parley.db")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel, "environment wins over the file")
	assert.Equal(t, 90*time.Second, cfg.PromptTimeout)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, config.StoreSQLite, cfg.Store.Driver)
	assert.Equal(t, "/var/lib/parley.db", cfg.Store.DSN)
	assert.Equal(t, []string{"logout", "sign out"}, cfg.Recognizer.Intents["Logout"])
	assert.Equal(t, []string{"read:user", "repo"}, cfg.OAuth.Scopes)
	assert.True(t, cfg.OAuth.Enabled())
	assert.Equal(t, "/oauth/callback", cfg.OAuth.CallbackPath, "defaults survive partial sections")
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	_, err := config.Load(writeConfig(t, "stroe:\n  driver: redis\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown driver", func(c *config.Config) { c.Store.Driver = "mongo" }},
		{"file without dsn", func(c *config.Config) { c.Store.Driver = config.StoreFile }},
		{"lock without redis", func(c *config.Config) { c.Store.Lock = true }},
		{"luis without key", func(c *config.Config) { c.Recognizer.Kind = config.RecognizerLUIS }},
		{"negative attempts", func(c *config.Config) { c.MaxAttempts = -1 }},
		{"short key", func(c *config.Config) { c.Security.EncryptionKey = "abcd" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), config.ErrInvalid)
		})
	}
}

func TestSecurityKeys(t *testing.T) {
	hexKey := strings.Repeat("ab", 32)
	s := config.SecurityConfig{
		EncryptionKey: hexKey,
		FallbackKeys:  []string{"MDEyMzQ1Njc4OTAxMjM0NTY3ODkwMTIzNDU2Nzg5MDE="},
	}
	active, fallback, err := s.Keys()
	require.NoError(t, err)
	assert.Len(t, active, 32)
	require.Len(t, fallback, 1)
	assert.Equal(t, []byte("01234567890123456789012345678901"), fallback[0])

	active, _, err = config.SecurityConfig{}.Keys()
	require.NoError(t, err)
	assert.Nil(t, active)
}
