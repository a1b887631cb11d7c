// Package config loads the daemon configuration: built-in defaults, then an
// optional YAML file, then AUTHZ_RPC_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"authz-rpc/store"

	"gopkg.in/yaml.v3"
)

const envPrefix = "AUTHZ_RPC_"

// Session strategies.
const (
	StrategyJWT      = "jwt"
	StrategyDatabase = "database"
)

// Log formats.
const (
	FormatTerminal = "terminal"
	FormatJSON     = "json"
	FormatLogfmt   = "logfmt"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Log      LogConfig      `yaml:"log"`
	Session  SessionConfig  `yaml:"session"`
	Store    StoreConfig    `yaml:"store"`
	Registry RegistryConfig `yaml:"registry"`
	Auth     AuthConfig     `yaml:"auth"`
	Limits   LimitsConfig   `yaml:"limits"`
}

type ServerConfig struct {
	Network         string        `yaml:"network"`
	Listen          string        `yaml:"listen"`
	Advertise       string        `yaml:"advertise"` // address announced to the registry
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type GatewayConfig struct {
	Listen string `yaml:"listen"` // empty disables the HTTP gateway
}

type LogConfig struct {
	Verbosity int    `yaml:"verbosity"` // 0=crit ... 5=trace
	Format    string `yaml:"format"`
}

type SessionConfig struct {
	Strategy string `yaml:"strategy"`
	Secret   string `yaml:"secret"` // HS256 key for the jwt strategy
}

type StoreConfig struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"` // empty runs without a store
	PoolSize int    `yaml:"poolSize"`
}

// Store converts the section into a store.Config.
func (c StoreConfig) Store() store.Config {
	return store.Config{Driver: c.Driver, DSN: c.DSN, PoolSize: c.PoolSize}
}

type RegistryConfig struct {
	Endpoints []string `yaml:"endpoints"` // etcd endpoints; empty disables registration
	Prefix    string   `yaml:"prefix"`
	TTL       int64    `yaml:"ttl"` // lease TTL in seconds
}

type AuthConfig struct {
	// CheckBeforeExecute validates the session address before the handler
	// runs. By default the check runs after the handler.
	CheckBeforeExecute bool `yaml:"checkBeforeExecute"`
}

type LimitsConfig struct {
	Rate    float64       `yaml:"rate"` // requests per second, 0 disables rate limiting
	Burst   int           `yaml:"burst"`
	Timeout time.Duration `yaml:"timeout"` // 0 disables the per-call timeout
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Network:         "tcp",
			Listen:          ":8545",
			Advertise:       "127.0.0.1:8545",
			ShutdownTimeout: 10 * time.Second,
		},
		Gateway: GatewayConfig{Listen: ":8080"},
		Log:     LogConfig{Verbosity: 3, Format: FormatTerminal},
		Session: SessionConfig{Strategy: StrategyJWT},
		Store:   StoreConfig{Driver: store.DriverPostgres, PoolSize: 10},
		Registry: RegistryConfig{
			Prefix: "/authz-rpc",
			TTL:    10,
		},
		Limits: LimitsConfig{Burst: 100},
	}
}

// Load builds the configuration from path (optional) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := ApplyEnvOverrides(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnvOverrides sets fields from AUTHZ_RPC_* variables found by lookup.
func ApplyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	env := func(name string) (string, bool) {
		v, ok := lookup(envPrefix + name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := env(name); ok {
			*dst = v
		}
	}
	num := func(name string, set func(string) error) {
		if v, ok := env(name); ok {
			if err := set(v); err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
			}
		}
	}

	str("SERVER_NETWORK", &cfg.Server.Network)
	str("SERVER_LISTEN", &cfg.Server.Listen)
	str("SERVER_ADVERTISE", &cfg.Server.Advertise)
	str("GATEWAY_LISTEN", &cfg.Gateway.Listen)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("SESSION_STRATEGY", &cfg.Session.Strategy)
	str("SESSION_SECRET", &cfg.Session.Secret)
	str("STORE_DRIVER", &cfg.Store.Driver)
	str("STORE_DSN", &cfg.Store.DSN)
	str("REGISTRY_PREFIX", &cfg.Registry.Prefix)
	if v, ok := env("REGISTRY_ENDPOINTS"); ok {
		cfg.Registry.Endpoints = strings.Split(v, ",")
	}
	num("SERVER_SHUTDOWN_TIMEOUT", func(v string) (err error) {
		cfg.Server.ShutdownTimeout, err = time.ParseDuration(v)
		return err
	})
	num("REGISTRY_TTL", func(v string) (err error) {
		cfg.Registry.TTL, err = strconv.ParseInt(v, 10, 64)
		return err
	})
	num("STORE_POOL_SIZE", func(v string) (err error) {
		cfg.Store.PoolSize, err = strconv.Atoi(v)
		return err
	})
	num("LOG_VERBOSITY", func(v string) (err error) {
		cfg.Log.Verbosity, err = strconv.Atoi(v)
		return err
	})
	num("AUTH_CHECK_BEFORE_EXECUTE", func(v string) (err error) {
		cfg.Auth.CheckBeforeExecute, err = strconv.ParseBool(v)
		return err
	})
	num("LIMITS_RATE", func(v string) (err error) {
		cfg.Limits.Rate, err = strconv.ParseFloat(v, 64)
		return err
	})
	num("LIMITS_BURST", func(v string) (err error) {
		cfg.Limits.Burst, err = strconv.Atoi(v)
		return err
	})
	num("LIMITS_TIMEOUT", func(v string) (err error) {
		cfg.Limits.Timeout, err = time.ParseDuration(v)
		return err
	})
	return errors.Join(errs...)
}

// Validate reports configuration errors that would fail at startup anyway.
func (c Config) Validate() error {
	var errs []error
	switch c.Session.Strategy {
	case StrategyJWT:
		if c.Session.Secret == "" {
			errs = append(errs, errors.New("session.secret is required for the jwt strategy"))
		}
	case StrategyDatabase:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for the database strategy"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown session strategy %q", c.Session.Strategy))
	}
	switch c.Log.Format {
	case FormatTerminal, FormatJSON, FormatLogfmt:
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	if c.Store.DSN != "" && c.Store.Driver != store.DriverPostgres && c.Store.Driver != store.DriverMySQL {
		errs = append(errs, fmt.Errorf("unsupported store driver %q", c.Store.Driver))
	}
	if c.Limits.Rate < 0 || c.Limits.Timeout < 0 {
		errs = append(errs, errors.New("limits must not be negative"))
	}
	if c.Limits.Rate > 0 && c.Limits.Burst <= 0 {
		errs = append(errs, errors.New("limits.burst must be positive when rate limiting is enabled"))
	}
	return errors.Join(errs...)
}
