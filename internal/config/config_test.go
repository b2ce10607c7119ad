package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tablestore/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"PORT", "DATABASE_URL", "REDIS_URL"} {
		t.Setenv(k, "")
	}
	for _, kv := range os.Environ() {
		if k, _, _ := strings.Cut(kv, "="); strings.HasPrefix(k, envPrefix) {
			t.Setenv(k, "")
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, ":3000", cfg.ListenAddr())
	assert.Equal(t, "sqlite", cfg.StorageDriver())
	assert.Equal(t, "app.sid", cfg.Session.CookieName)
	assert.Equal(t, 7*24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 15*time.Second, cfg.HTTP.RequestTimeout)
	assert.Equal(t, int64(50<<20), cfg.HTTP.MaxBodyBytes)
	assert.False(t, cfg.Collections.RequireAuthForWrites)

	ts, err := cfg.TableSet()
	require.NoError(t, err)
	assert.True(t, ts.Contains("prompts"))
	assert.False(t, ts.Contains("orders"))
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "tablestore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 8081
profile: pos
session:
  ttl: 2h
  secure: true
http:
  allowed_origins: ["http://localhost:5173"]
collections:
  require_auth_for_writes: true
`), 0o600))

	t.Setenv("TABLESTORE_PORT", "9090")
	t.Setenv("TABLESTORE_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, model.ProfilePOS, cfg.Profile)
	assert.Equal(t, 2*time.Hour, cfg.Session.TTL)
	assert.True(t, cfg.Session.Secure)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.HTTP.AllowedOrigins)
	assert.True(t, cfg.Collections.RequireAuthForWrites)
	assert.Equal(t, "debug", cfg.Log.Level)

	ts, err := cfg.TableSet()
	require.NoError(t, err)
	assert.True(t, ts.Contains("cash_closures"))
}

func TestLoad_ExplicitTables(t *testing.T) {
	clearEnv(t)
	t.Setenv("TABLESTORE_TABLES", "notes, todos")

	cfg, err := Load("")
	require.NoError(t, err)
	ts, err := cfg.TableSet()
	require.NoError(t, err)
	assert.Equal(t, []model.Table{"notes", "todos"}, ts.Tables())
}

func TestLoad_DatabaseURLSelectsPostgres(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/db")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.StorageDriver())
}

func TestLoad_BadEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("TABLESTORE_SESSION_TTL", "forever")
	t.Setenv("TABLESTORE_BCRYPT_COST", "high")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TABLESTORE_SESSION_TTL")
	assert.Contains(t, err.Error(), "TABLESTORE_BCRYPT_COST")
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"port":           func(c *Config) { c.Port = 0 },
		"profile":        func(c *Config) { c.Profile = "nope" },
		"reserved table": func(c *Config) { c.Tables = []string{"auth"} },
		"driver":         func(c *Config) { c.Storage.Driver = "oracle" },
		"postgres url":   func(c *Config) { c.Storage.Driver = "postgres" },
		"redis url":      func(c *Config) { c.Session.Backend = "redis" },
		"session ttl":    func(c *Config) { c.Session.TTL = 0 },
		"log format":     func(c *Config) { c.Log.Format = "xml" },
		"body limit":     func(c *Config) { c.HTTP.MaxBodyBytes = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}
