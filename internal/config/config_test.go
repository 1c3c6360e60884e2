package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "0", cfg.Engine.CancelCommand)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parley.yaml")
	content := `
server:
  addr: ":9000"
engine:
  default_flows:
    wa-main: support
  timeout_policy: end
  messages:
    no_flow: "Nobody home"
cache:
  ttl: 30s
flows:
  source: sqlite
  path: flows.db
store:
  driver: redis
  redis_addr: localhost:6379
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("PARLEY_ADDR", ":7000")
	t.Setenv("PARLEY_MAX_INVALID_ATTEMPTS", "5")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.Addr, "environment overrides the file")
	assert.Equal(t, 5, cfg.Engine.MaxInvalidAttempts)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, SourceSQLite, cfg.Flows.Source)
	assert.Equal(t, StoreRedis, cfg.Store.Driver)

	rt := cfg.Engine.Runtime()
	assert.Equal(t, "support", rt.DefaultFlows["wa-main"])
	assert.Equal(t, "end", rt.TimeoutPolicy)
	assert.Equal(t, "Nobody home", rt.Messages.NoFlow)
	assert.NotEmpty(t, rt.Messages.InvalidOption, "unset messages keep their defaults")
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  max_hopz: 3\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(env(map[string]string{
		"PARLEY_CACHE_TTL":   "1m",
		"PARLEY_PII_FIELDS":  "cpf, email ,",
		"DATABASE_URL":       "postgres://u@h/db",
		"TWILIO_ACCOUNT_SID": "AC1",
		"TWILIO_AUTH_TOKEN":  "tok",
		"TWILIO_FROM_NUMBER": "whatsapp:+100",
	}))
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.Cache.TTL)
	assert.Equal(t, []string{"cpf", "email"}, cfg.Store.PIIFields)
	assert.Equal(t, "postgres://u@h/db", cfg.Flows.DSN)
	assert.True(t, cfg.Twilio.Enabled())
}

func TestApplyEnv_BadValues(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(env(map[string]string{
		"PARLEY_MAX_HOPS":  "many",
		"PARLEY_CACHE_TTL": "soon",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PARLEY_MAX_HOPS")
	assert.Contains(t, err.Error(), "PARLEY_CACHE_TTL")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown source", func(c *Config) { c.Flows.Source = "ftp" }, "flows.source"},
		{"postgres without dsn", func(c *Config) { c.Flows.Source = SourcePostgres }, "flows.dsn"},
		{"file store without path", func(c *Config) { c.Store.Driver = StoreFile }, "store.path"},
		{"redis without addr", func(c *Config) { c.Store.Driver = StoreRedis }, "redis_addr"},
		{"short key", func(c *Config) { c.Store.EncryptionKey = "short" }, "encryption_key"},
		{"blank cancel", func(c *Config) { c.Engine.CancelCommand = " " }, "cancel_command"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
