// Package config loads the parley server configuration from a YAML file,
// a .env file and PARLEY_* environment variables, in that order of precedence
// (environment wins).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/parley/internal/flowcache"
	"github.com/aretw0/parley/internal/runtime"
)

// Flow sources.
const (
	SourceMemory   = "memory"
	SourceYAML     = "yaml"
	SourceSQLite   = "sqlite"
	SourcePostgres = "postgres"
	SourceLoam     = "loam"
)

// Session store drivers.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
	Engine EngineConfig `yaml:"engine"`
	Cache  CacheConfig  `yaml:"cache"`
	Flows  FlowsConfig  `yaml:"flows"`
	Store  StoreConfig  `yaml:"store"`
	Twilio TwilioConfig `yaml:"twilio"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// EngineConfig mirrors runtime.Config in file form.
type EngineConfig struct {
	CancelCommand      string            `yaml:"cancel_command"`
	MaxInvalidAttempts int               `yaml:"max_invalid_attempts"`
	MaxHops            int               `yaml:"max_hops"`
	MaxInputSize       int               `yaml:"max_input_size"`
	DefaultFlows       map[string]string `yaml:"default_flows"`
	DefaultFlow        string            `yaml:"default_flow"`
	TimeoutPolicy      string            `yaml:"timeout_policy"`
	HistoryLimit       int               `yaml:"history_limit"`
	Messages           runtime.Messages  `yaml:"messages"`
}

type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type FlowsConfig struct {
	Source string `yaml:"source"`
	// Path is a directory for yaml and loam sources, a file for sqlite.
	Path string `yaml:"path"`
	DSN  string `yaml:"dsn"`
}

type StoreConfig struct {
	Driver        string        `yaml:"driver"`
	Path          string        `yaml:"path"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	RedisPrefix   string        `yaml:"redis_prefix"`
	TTL           time.Duration `yaml:"ttl"`
	// EncryptionKey enables AES-GCM encryption of stored sessions (16, 24 or 32 bytes).
	EncryptionKey string `yaml:"encryption_key"`
	// PIIFields are regular expressions matched against session field keys;
	// matching values are masked before persistence.
	PIIFields []string `yaml:"pii_fields"`
}

type TwilioConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	From       string `yaml:"from"`
	// ConnectionID is the connection inbound Twilio messages belong to.
	ConnectionID string `yaml:"connection_id"`
	// WebhookURL is the public URL Twilio signs. Signatures are not checked when empty.
	WebhookURL string `yaml:"webhook_url"`
}

// Enabled reports whether enough credentials are present to send through Twilio.
func (t TwilioConfig) Enabled() bool {
	return t.AccountSID != "" && t.AuthToken != "" && t.From != ""
}

// Default returns a configuration that runs entirely in memory.
func Default() *Config {
	rt := runtime.DefaultConfig()
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Log:    LogConfig{Level: "info", Format: "text"},
		Engine: EngineConfig{
			CancelCommand:      rt.CancelCommand,
			MaxInvalidAttempts: rt.MaxInvalidAttempts,
			MaxHops:            rt.MaxHops,
			TimeoutPolicy:      rt.TimeoutPolicy,
			HistoryLimit:       rt.HistoryLimit,
			Messages:           rt.Messages,
		},
		Cache:  CacheConfig{TTL: flowcache.DefaultTTL},
		Flows:  FlowsConfig{Source: SourceYAML, Path: "flows"},
		Store:  StoreConfig{Driver: StoreMemory, RedisPrefix: "parley:"},
		Twilio: TwilioConfig{ConnectionID: "whatsapp"},
	}
}

// Load reads path (optional), then .env, then the environment, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Debug("failed to load .env file", "err", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("PARLEY_ADDR", &c.Server.Addr)
	str("PARLEY_LOG_LEVEL", &c.Log.Level)
	str("PARLEY_LOG_FORMAT", &c.Log.Format)

	str("PARLEY_CANCEL_COMMAND", &c.Engine.CancelCommand)
	num("PARLEY_MAX_INVALID_ATTEMPTS", &c.Engine.MaxInvalidAttempts)
	num("PARLEY_MAX_HOPS", &c.Engine.MaxHops)
	num("PARLEY_MAX_INPUT_SIZE", &c.Engine.MaxInputSize)
	str("PARLEY_DEFAULT_FLOW", &c.Engine.DefaultFlow)
	str("PARLEY_TIMEOUT_POLICY", &c.Engine.TimeoutPolicy)

	dur("PARLEY_CACHE_TTL", &c.Cache.TTL)

	str("PARLEY_FLOWS_SOURCE", &c.Flows.Source)
	str("PARLEY_FLOWS_PATH", &c.Flows.Path)
	str("PARLEY_FLOWS_DSN", &c.Flows.DSN)
	if c.Flows.DSN == "" {
		str("DATABASE_URL", &c.Flows.DSN)
	}

	str("PARLEY_STORE", &c.Store.Driver)
	str("PARLEY_STORE_PATH", &c.Store.Path)
	str("PARLEY_REDIS_ADDR", &c.Store.RedisAddr)
	str("PARLEY_REDIS_PASSWORD", &c.Store.RedisPassword)
	num("PARLEY_REDIS_DB", &c.Store.RedisDB)
	str("PARLEY_REDIS_PREFIX", &c.Store.RedisPrefix)
	dur("PARLEY_STORE_TTL", &c.Store.TTL)
	str("PARLEY_ENCRYPTION_KEY", &c.Store.EncryptionKey)
	if v, ok := lookup("PARLEY_PII_FIELDS"); ok && v != "" {
		c.Store.PIIFields = splitList(v)
	}

	str("TWILIO_ACCOUNT_SID", &c.Twilio.AccountSID)
	str("TWILIO_AUTH_TOKEN", &c.Twilio.AuthToken)
	str("TWILIO_FROM_NUMBER", &c.Twilio.From)
	str("TWILIO_CONNECTION_ID", &c.Twilio.ConnectionID)
	str("TWILIO_WEBHOOK_URL", &c.Twilio.WebhookURL)

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Flows.Source {
	case SourceMemory:
	case SourceYAML, SourceLoam:
		if c.Flows.Path == "" {
			errs = append(errs, fmt.Errorf("flows.path is required for source %q", c.Flows.Source))
		}
	case SourceSQLite:
		if c.Flows.Path == "" && c.Flows.DSN == "" {
			errs = append(errs, errors.New("flows.path or flows.dsn is required for sqlite"))
		}
	case SourcePostgres:
		if c.Flows.DSN == "" {
			errs = append(errs, errors.New("flows.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown flows.source %q", c.Flows.Source))
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StoreFile:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for the file store"))
		}
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redis_addr is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}

	if n := len(c.Store.EncryptionKey); n != 0 && n != 16 && n != 24 && n != 32 {
		errs = append(errs, fmt.Errorf("store.encryption_key must be 16, 24 or 32 bytes, got %d", n))
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, errors.New("cache.ttl must not be negative"))
	}
	if c.Engine.MaxInvalidAttempts < 0 || c.Engine.MaxHops < 0 {
		errs = append(errs, errors.New("engine limits must not be negative"))
	}
	if strings.TrimSpace(c.Engine.CancelCommand) == "" {
		errs = append(errs, errors.New("engine.cancel_command must not be blank"))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Runtime converts the engine section into runtime.Config.
func (e EngineConfig) Runtime() runtime.Config {
	return runtime.Config{
		CancelCommand:      e.CancelCommand,
		MaxInvalidAttempts: e.MaxInvalidAttempts,
		MaxHops:            e.MaxHops,
		MaxInputSize:       e.MaxInputSize,
		DefaultFlows:       e.DefaultFlows,
		GlobalDefaultFlow:  e.DefaultFlow,
		TimeoutPolicy:      e.TimeoutPolicy,
		HistoryLimit:       e.HistoryLimit,
		Messages:           e.Messages,
	}
}
