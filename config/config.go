// Package config loads service configuration from a YAML or TOML file
// overlaid with environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	mapstructure "github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"

	"github.com/shahidsiddiqui786/photoselect/ratelimit"
)

type Config struct {
	Env       string          `yaml:"env"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Drive     DriveConfig     `yaml:"drive"`
	Cache     CacheConfig     `yaml:"cache"`
	Listing   ListingConfig   `yaml:"listing"`
	Archive   ArchiveConfig   `yaml:"archive"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Redis     RedisConfig     `yaml:"redis"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	AdminToken      string        `yaml:"admin_token"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

type DriveConfig struct {
	BaseURL        string        `yaml:"base_url" validate:"url"`
	APIKeys        []string      `yaml:"api_keys" validate:"min=1,dive,required"`
	Timeout        time.Duration `yaml:"timeout" validate:"gt=0"`
	PageSize       int           `yaml:"page_size" validate:"min=1,max=1000"`
	MaxObjectBytes int64         `yaml:"max_object_bytes" validate:"gt=0"`
	KeyCooldown    time.Duration `yaml:"key_cooldown" validate:"gt=0"`
}

type CacheConfig struct {
	DefaultTTL      time.Duration `yaml:"default_ttl" validate:"gt=0"`
	MaxEntries      int           `yaml:"max_entries" validate:"min=1"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" validate:"gte=0"`
}

type ListingConfig struct {
	TTL time.Duration `yaml:"ttl" validate:"gt=0"`
}

type ArchiveConfig struct {
	Concurrency int           `yaml:"concurrency" validate:"min=1,max=16"`
	MaxObjects  int           `yaml:"max_objects" validate:"min=1"`
	Timeout     time.Duration `yaml:"timeout" validate:"gt=0"`
}

type RateLimitConfig struct {
	Provider      ratelimit.ProviderType    `yaml:"provider" validate:"oneof=memory redis"`
	SweepInterval time.Duration             `yaml:"sweep_interval" validate:"gte=0"`
	IdleGrace     time.Duration             `yaml:"idle_grace" validate:"gte=0"`
	Rules         map[string]ratelimit.Rule `yaml:"rules" validate:"dive"`
}

type RedisConfig struct {
	// URL, when set, wins over the discrete fields.
	URL      string `yaml:"url"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
	Prefix   string `yaml:"prefix"`
}

// envBindings maps environment variables onto dotted config paths.
var envBindings = map[string]string{
	"APP_ENV":             "env",
	"SERVER_ADDR":         "server.addr",
	"ADMIN_TOKEN":         "server.admin_token",
	"LOG_LEVEL":           "log.level",
	"DRIVE_BASE_URL":      "drive.base_url",
	"DRIVE_API_KEYS":      "drive.api_keys",
	"DRIVE_KEY_COOLDOWN":  "drive.key_cooldown",
	"CACHE_MAX_ENTRIES":   "cache.max_entries",
	"LISTING_TTL":         "listing.ttl",
	"ARCHIVE_CONCURRENCY": "archive.concurrency",
	"ARCHIVE_MAX_OBJECTS": "archive.max_objects",
	"RATE_LIMIT_PROVIDER": "rate_limit.provider",
	"REDIS_URL":           "redis.url",
	"REDIS_ADDR":          "redis.addr",
	"REDIS_PASSWORD":      "redis.password",
}

// Load reads path (when non-empty), applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	raw := map[string]any{}
	if path != "" {
		var err error
		if raw, err = readFile(path); err != nil {
			return nil, err
		}
	}

	for env, key := range envBindings {
		if v, ok := lookup(env); ok && v != "" {
			setPath(raw, key, v)
		}
	}

	cfg := &Config{}
	if err := decode(raw, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	raw := map[string]any{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &raw)
	default:
		err = yaml.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func decode(source, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           target,
		TagName:          "yaml",
	})
	if err != nil {
		return err
	}
	return decoder.Decode(source)
}

func setPath(m map[string]any, path, value string) {
	parts := strings.Split(path, ".")
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = value
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.Env == "" {
		c.Env = "development"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.Drive.BaseURL == "" {
		c.Drive.BaseURL = "https://www.googleapis.com/drive/v3"
	}
	c.Drive.APIKeys = trimKeys(c.Drive.APIKeys)
	if c.Drive.Timeout == 0 {
		c.Drive.Timeout = 30 * time.Second
	}
	if c.Drive.PageSize == 0 {
		c.Drive.PageSize = 1000
	}
	if c.Drive.MaxObjectBytes == 0 {
		c.Drive.MaxObjectBytes = 200 << 20
	}
	if c.Drive.KeyCooldown == 0 {
		c.Drive.KeyCooldown = time.Minute
	}

	if c.Cache.DefaultTTL == 0 {
		c.Cache.DefaultTTL = 5 * time.Minute
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 1000
	}
	if c.Cache.CleanupInterval == 0 {
		c.Cache.CleanupInterval = time.Minute
	}
	if c.Listing.TTL == 0 {
		c.Listing.TTL = 5 * time.Minute
	}

	if c.Archive.Concurrency == 0 {
		c.Archive.Concurrency = 3
	}
	if c.Archive.MaxObjects == 0 {
		c.Archive.MaxObjects = 500
	}
	if c.Archive.Timeout == 0 {
		c.Archive.Timeout = 300 * time.Second
	}

	if c.RateLimit.Provider == "" {
		c.RateLimit.Provider = ratelimit.ProviderMemory
	}
	if c.RateLimit.SweepInterval == 0 {
		c.RateLimit.SweepInterval = time.Minute
	}
	if c.RateLimit.IdleGrace == 0 {
		c.RateLimit.IdleGrace = 10 * time.Minute
	}
	if c.RateLimit.Rules == nil {
		c.RateLimit.Rules = map[string]ratelimit.Rule{}
	}
	for name, rule := range defaultRules {
		if _, ok := c.RateLimit.Rules[name]; !ok {
			c.RateLimit.Rules[name] = rule
		}
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "photoselect:ratelimit:"
	}
}

var defaultRules = map[string]ratelimit.Rule{
	"general":     {Limit: 100, Window: time.Minute},
	"archive":     {Limit: 5, Window: time.Minute},
	"diagnostics": {Limit: 10, Window: time.Minute},
}

func trimKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
