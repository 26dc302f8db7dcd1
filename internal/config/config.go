package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultPath is the config file read by Load.
const DefaultPath = "draftkit.yaml"

const envPrefix = "DRAFTKIT_"

type Config struct {
	Backend      BackendConfig      `koanf:"backend"`
	Generation   GenerationConfig   `koanf:"generation"`
	Storage      StorageConfig      `koanf:"storage"`
	Invalidation InvalidationConfig `koanf:"invalidation"`
	DevServer    DevServerConfig    `koanf:"devserver"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
}

type BackendConfig struct {
	BaseURL string        `koanf:"base_url"`
	Token   string        `koanf:"token"` // supports ${VAR}
	Timeout time.Duration `koanf:"timeout"`
}

type GenerationConfig struct {
	GenerateImages     bool   `koanf:"generate_images"`
	MaxImages          int    `koanf:"max_images"`
	HistoryTokenBudget int    `koanf:"history_token_budget"` // 0 disables trimming
	TokenizerModel     string `koanf:"tokenizer_model"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // memory, sqlite, none
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type InvalidationConfig struct {
	Driver string      `koanf:"driver"` // direct, redis
	Redis  RedisConfig `koanf:"redis"`
}

type RedisConfig struct {
	Addr    string `koanf:"addr"`
	Channel string `koanf:"channel"`
}

type DevServerConfig struct {
	Port          int  `koanf:"port"`
	DisableStream bool `koanf:"disable_stream"`
}

type TelemetryConfig struct {
	Enabled bool `koanf:"enabled"`
}

var defaults = map[string]any{
	"backend.timeout":                 "2m",
	"generation.generate_images":      true,
	"generation.max_images":           4,
	"generation.history_token_budget": 8000,
	"generation.tokenizer_model":      "gpt-4o",
	"storage.type":                    "memory",
	"storage.sqlite.path":             "draftkit.db",
	"invalidation.driver":             "direct",
	"invalidation.redis.channel":      "draftkit:invalidate",
	"devserver.port":                  8787,
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads DefaultPath, if present, and the environment.
func Load() (*Config, error) {
	return LoadFile(DefaultPath)
}

// LoadFile reads the YAML file at path, if present, then applies DRAFTKIT_
// environment overrides (DRAFTKIT_BACKEND__BASE_URL sets backend.base_url).
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// File not found is OK, we'll use env vars
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Backend.Token = substituteEnvVars(cfg.Backend.Token)
	cfg.Invalidation.Redis.Addr = substituteEnvVars(cfg.Invalidation.Redis.Addr)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "memory", "none":
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path is required for sqlite storage")
		}
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}

	switch c.Invalidation.Driver {
	case "direct":
	case "redis":
		if c.Invalidation.Redis.Addr == "" {
			return fmt.Errorf("invalidation.redis.addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown invalidation driver %q", c.Invalidation.Driver)
	}

	if c.Generation.MaxImages < 0 {
		return fmt.Errorf("generation.max_images must not be negative")
	}
	return nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
