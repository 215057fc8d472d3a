// Package config loads service configuration from a YAML file with an
// environment overlay.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Revocation backends.
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config is the root configuration.
// Sources, highest priority first: explicit path (-config), CONFIG_PATH, env only.
type Config struct {
	Env        string           `yaml:"env" env:"ENV" env-default:"local"`
	HTTP       HTTPConfig       `yaml:"http"`
	GRPC       GRPCConfig       `yaml:"grpc"`
	Auth       AuthConfig       `yaml:"auth"`
	DB         DBConfig         `yaml:"db"`
	Revocation RevocationConfig `yaml:"revocation"`
	Limiter    LimiterConfig    `yaml:"limiter"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr" env:"HTTP_ADDR" env-default:":8080"`
}

// GRPCConfig enables TLS when both files are set.
type GRPCConfig struct {
	Addr     string `yaml:"addr" env:"GRPC_ADDR" env-default:":9090"`
	CertFile string `yaml:"tls_cert" env:"GRPC_TLS_CERT"`
	KeyFile  string `yaml:"tls_key" env:"GRPC_TLS_KEY"`
}

// AuthConfig holds token issuing parameters.
type AuthConfig struct {
	SigningSecret   string        `yaml:"signing_secret" env:"AUTH_SIGNING_SECRET" env-required:"true"`
	AccessTTLMillis int64         `yaml:"access_ttl_ms" env:"AUTH_ACCESS_TTL_MS" env-required:"true"`
	Issuer          string        `yaml:"issuer" env:"AUTH_ISSUER" env-default:"tokenguard"`
	PublicPaths     []string      `yaml:"public_paths" env:"AUTH_PUBLIC_PATHS"`
	RegistrationTTL time.Duration `yaml:"registration_ttl" env:"AUTH_REGISTRATION_TTL" env-default:"24h"`
}

type DBConfig struct {
	DSN string `yaml:"dsn" env:"DATABASE_URL" env-required:"true"`
}

// RevocationConfig selects the revoked-token store.
type RevocationConfig struct {
	Backend  string `yaml:"backend" env:"REVOCATION_BACKEND" env-default:"postgres"`
	RedisURL string `yaml:"redis_url" env:"REDIS_URL"`
	Prefix   string `yaml:"prefix" env:"REVOCATION_PREFIX" env-default:"rv:"`
}

// LimiterConfig tunes the login rate limiter.
type LimiterConfig struct {
	Window   time.Duration `yaml:"window" env:"LIMITER_WINDOW" env-default:"15m"`
	MaxFails int           `yaml:"max_fails" env:"LIMITER_MAX_FAILS" env-default:"5"`
	BlockFor time.Duration `yaml:"block_for" env:"LIMITER_BLOCK_FOR" env-default:"15m"`
}

// Secret returns the decoded signing secret, nil if it does not decode.
func (c *Config) Secret() []byte {
	b, err := base64.StdEncoding.DecodeString(c.Auth.SigningSecret)
	if err != nil {
		return nil
	}
	return b
}

// AccessTTL returns the default access token lifetime.
func (c *Config) AccessTTL() time.Duration {
	return time.Duration(c.Auth.AccessTTLMillis) * time.Millisecond
}

// MustLoad is Load that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the file at path (or CONFIG_PATH), overlays env and validates.
// With neither set only env is read.
func Load(path string) (*Config, error) {
	var cfg Config

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", path, err)
		}
		// ReadConfig applies the env overlay after the file.
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide -config, CONFIG_PATH or env vars: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints and decodes the secret.
func (c *Config) Validate() error {
	if c.Auth.SigningSecret == "" {
		return errors.New("auth.signing_secret is required")
	}
	if _, err := base64.StdEncoding.DecodeString(c.Auth.SigningSecret); err != nil {
		return fmt.Errorf("auth.signing_secret: not base64: %w", err)
	}
	if len(c.Secret()) == 0 {
		return errors.New("auth.signing_secret decodes to empty key")
	}
	if c.Auth.AccessTTLMillis <= 0 {
		return errors.New("auth.access_ttl_ms must be positive")
	}
	if c.DB.DSN == "" {
		return errors.New("db.dsn is required")
	}
	switch c.Revocation.Backend {
	case BackendPostgres:
	case BackendRedis:
		if c.Revocation.RedisURL == "" {
			return errors.New("revocation.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("revocation.backend: unknown %q", c.Revocation.Backend)
	}
	if c.Limiter.MaxFails <= 0 {
		return errors.New("limiter.max_fails must be positive")
	}
	return nil
}
