// Package config loads service configuration from an optional TOML file and
// COMMUNITY_ prefixed environment variables. Environment values win.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. Nested keys use a double
// underscore: COMMUNITY_MONGODB__URI sets mongodb.uri.
const EnvPrefix = "COMMUNITY_"

var (
	ErrMongoURIMissing = errors.New("mongodb.uri must be set")
	ErrJWTKeyMissing   = errors.New("jwt.secret or jwt.keys must be set")
)

type Config struct {
	Server    Server    `koanf:"server"`
	MongoDB   MongoDB   `koanf:"mongodb"`
	Redis     Redis     `koanf:"redis"`
	JWT       JWT       `koanf:"jwt"`
	Logging   Logging   `koanf:"logging"`
	Feed      Feed      `koanf:"feed"`
	Reconcile Reconcile `koanf:"reconcile"`
}

type Server struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
}

type MongoDB struct {
	URI      string `koanf:"uri"`
	Database string `koanf:"database"`
}

// Redis configures the connected-set cache. An empty Addr disables it.
type Redis struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	TTL      time.Duration `koanf:"ttl"`
}

// JWT configures token signing. Keys maps kid to secret and takes precedence
// over Secret.
type JWT struct {
	Secret    string            `koanf:"secret"`
	Keys      map[string]string `koanf:"keys"`
	ActiveKID string            `koanf:"active_kid"`
	TTL       time.Duration     `koanf:"ttl"`
}

type Logging struct {
	Level       string `koanf:"level"`
	Development bool   `koanf:"development"`
}

type Feed struct {
	DefaultPageSize int64 `koanf:"default_page_size"`
	MaxPageSize     int64 `koanf:"max_page_size"`
}

// Reconcile configures the unread-counter sweep. A zero Interval disables the
// periodic sweep in serve; the reconcile command ignores it.
type Reconcile struct {
	Interval      time.Duration `koanf:"interval"`
	BatchSize     int64         `koanf:"batch_size"`
	Workers       int           `koanf:"workers"`
	RatePerSecond float64       `koanf:"rate_per_second"`
}

// Load reads path (if non-empty) and then the environment, applies defaults
// and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":50051"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = 15 * time.Second
	}
	if c.MongoDB.Database == "" {
		c.MongoDB.Database = "fellowship"
	}
	if c.Redis.TTL <= 0 {
		c.Redis.TTL = 5 * time.Minute
	}
	if c.JWT.TTL <= 0 {
		c.JWT.TTL = 24 * time.Hour
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Feed.MaxPageSize <= 0 {
		c.Feed.MaxPageSize = 100
	}
	if c.Feed.DefaultPageSize <= 0 {
		c.Feed.DefaultPageSize = 20
	}
	if c.Reconcile.BatchSize <= 0 {
		c.Reconcile.BatchSize = 500
	}
	if c.Reconcile.Workers <= 0 {
		c.Reconcile.Workers = 4
	}
}

// Validate reports missing required settings.
func (c *Config) Validate() error {
	if c.MongoDB.URI == "" {
		return ErrMongoURIMissing
	}
	if c.JWT.Secret == "" && len(c.JWT.Keys) == 0 {
		return ErrJWTKeyMissing
	}
	if c.Feed.DefaultPageSize > c.Feed.MaxPageSize {
		return fmt.Errorf("feed.default_page_size %d exceeds feed.max_page_size %d",
			c.Feed.DefaultPageSize, c.Feed.MaxPageSize)
	}
	return nil
}
