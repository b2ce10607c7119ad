// Package config assembles runtime settings from defaults, an optional YAML
// file, a .env file and the process environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"tablestore/internal/model"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "TABLESTORE_"

type Config struct {
	Port    int      `yaml:"port"`
	Profile string   `yaml:"profile"`
	Tables  []string `yaml:"tables"`

	Storage     StorageConfig     `yaml:"storage"`
	Session     SessionConfig     `yaml:"session"`
	Auth        AuthConfig        `yaml:"auth"`
	HTTP        HTTPConfig        `yaml:"http"`
	Collections CollectionsConfig `yaml:"collections"`
	Log         LogConfig         `yaml:"log"`
}

type StorageConfig struct {
	// Driver is sqlite, postgres or memory. Empty picks postgres when
	// DatabaseURL is set and sqlite otherwise.
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	DatabaseURL string `yaml:"database_url"`
}

type SessionConfig struct {
	CookieName    string        `yaml:"cookie_name"`
	TTL           time.Duration `yaml:"ttl"`
	Secure        bool          `yaml:"secure"`
	Backend       string        `yaml:"backend"`
	RedisURL      string        `yaml:"redis_url"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type AuthConfig struct {
	TokenSecret   string        `yaml:"token_secret"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
	BcryptCost    int           `yaml:"bcrypt_cost"`
	LoginBurst    int           `yaml:"login_burst"`
	LoginInterval time.Duration `yaml:"login_interval"`
}

type HTTPConfig struct {
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type CollectionsConfig struct {
	RequireAuthForWrites bool `yaml:"require_auth_for_writes"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() Config {
	return Config{
		Port:    3000,
		Profile: model.ProfilePrompts,
		Storage: StorageConfig{
			SQLitePath: "tablestore.db",
		},
		Session: SessionConfig{
			CookieName:    "app.sid",
			TTL:           7 * 24 * time.Hour,
			Backend:       "memory",
			SweepInterval: 10 * time.Minute,
		},
		Auth: AuthConfig{
			TokenTTL:      7 * 24 * time.Hour,
			BcryptCost:    10,
			LoginBurst:    10,
			LoginInterval: time.Minute,
		},
		HTTP: HTTPConfig{
			RequestTimeout:  15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    50 << 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path (if non-empty) over the defaults, then .env, then the
// environment, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = d
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok {
			*dst = splitList(v)
		}
	}

	// Platform conventions first so the prefixed names win.
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Storage.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Session.RedisURL = v
	}

	integer("PORT", &c.Port)
	str("PROFILE", &c.Profile)
	list("TABLES", &c.Tables)

	str("STORAGE_DRIVER", &c.Storage.Driver)
	str("SQLITE_PATH", &c.Storage.SQLitePath)
	str("DATABASE_URL", &c.Storage.DatabaseURL)

	str("SESSION_COOKIE_NAME", &c.Session.CookieName)
	duration("SESSION_TTL", &c.Session.TTL)
	boolean("SESSION_SECURE", &c.Session.Secure)
	str("SESSION_BACKEND", &c.Session.Backend)
	str("REDIS_URL", &c.Session.RedisURL)
	duration("SESSION_SWEEP_INTERVAL", &c.Session.SweepInterval)

	str("TOKEN_SECRET", &c.Auth.TokenSecret)
	duration("TOKEN_TTL", &c.Auth.TokenTTL)
	integer("BCRYPT_COST", &c.Auth.BcryptCost)
	integer("LOGIN_BURST", &c.Auth.LoginBurst)
	duration("LOGIN_INTERVAL", &c.Auth.LoginInterval)

	duration("REQUEST_TIMEOUT", &c.HTTP.RequestTimeout)
	duration("SHUTDOWN_TIMEOUT", &c.HTTP.ShutdownTimeout)
	if v, ok := lookup("MAX_BODY_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sMAX_BODY_BYTES: %w", envPrefix, err))
		} else {
			c.HTTP.MaxBodyBytes = n
		}
	}
	list("ALLOWED_ORIGINS", &c.HTTP.AllowedOrigins)

	boolean("REQUIRE_AUTH_FOR_WRITES", &c.Collections.RequireAuthForWrites)

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	return errors.Join(errs...)
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port >= 65536 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if _, err := c.TableSet(); err != nil {
		errs = append(errs, err)
	}

	switch c.StorageDriver() {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path is required for sqlite"))
		}
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			errs = append(errs, errors.New("storage.database_url is required for postgres"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}

	if c.Session.CookieName == "" {
		errs = append(errs, errors.New("session.cookie_name is required"))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("session.ttl must be positive"))
	}
	switch c.Session.Backend {
	case "memory":
	case "redis":
		if c.Session.RedisURL == "" {
			errs = append(errs, errors.New("session.redis_url is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown session backend %q", c.Session.Backend))
	}

	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("http.max_body_bytes must be positive"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// StorageDriver resolves the effective storage backend.
func (c Config) StorageDriver() string {
	if c.Storage.Driver != "" {
		return strings.ToLower(c.Storage.Driver)
	}
	if c.Storage.DatabaseURL != "" {
		return "postgres"
	}
	return "sqlite"
}

// TableSet returns the explicit table list when set, otherwise the profile's.
func (c Config) TableSet() (model.TableSet, error) {
	if len(c.Tables) > 0 {
		return model.NewTableSet(c.Tables...)
	}
	return model.ProfileTableSet(c.Profile)
}

func (c Config) ListenAddr() string {
	return ":" + strconv.Itoa(c.Port)
}
