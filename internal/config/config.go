// Package config loads and validates the gateway's process configuration
// from defaults and the environment.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config is the complete, validated process configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"    validate:"required"`
	Database  DatabaseConfig  `koanf:"database"  validate:"required"`
	Redis     RedisConfig     `koanf:"redis"     validate:"required"`
	Vault     VaultConfig     `koanf:"vault"     validate:"required"`
	RateLimit RateLimitConfig `koanf:"ratelimit" validate:"required"`
	Providers ProvidersConfig `koanf:"providers"`
	Webhook   WebhookConfig   `koanf:"webhook"`
	Retention RetentionConfig `koanf:"retention"`
	Usage     UsageConfig     `koanf:"usage"`
	Log       LogConfig       `koanf:"log"`
}

// ServerConfig is the HTTP listener configuration.
type ServerConfig struct {
	Host             string        `koanf:"host"               validate:"required"        env:"SERVER_HOST"`
	Port             int           `koanf:"port"               validate:"min=1,max=65535" env:"SERVER_PORT"`
	BaseURL          string        `koanf:"base_url"           validate:"required,url"    env:"SERVER_BASE_URL"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"                          env:"SERVER_READ_HEADER_TIMEOUT"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"                              env:"SERVER_SHUTDOWN_TIMEOUT"`
	HMACSecret       SensitiveString `koanf:"hmac_secret"      validate:"required"        env:"SERVER_HMAC_SECRET" sensitive:"true"`
}

// DatabaseConfig is the persistent store (PostgreSQL) configuration.
type DatabaseConfig struct {
	DSN             SensitiveString `koanf:"dsn"               validate:"required" env:"DATABASE_DSN" sensitive:"true"`
	MaxOpenConns    int             `koanf:"max_open_conns"                        env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int             `koanf:"max_idle_conns"                        env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration   `koanf:"conn_max_lifetime"                     env:"DATABASE_CONN_MAX_LIFETIME"`
	PingTimeout     time.Duration   `koanf:"ping_timeout"                          env:"DATABASE_PING_TIMEOUT"`
}

// RedisConfig is the fast shared store configuration.
type RedisConfig struct {
	URL         SensitiveString `koanf:"url"          validate:"required" env:"REDIS_URL" sensitive:"true"`
	PoolSize    int             `koanf:"pool_size"                        env:"REDIS_POOL_SIZE"`
	DialTimeout time.Duration   `koanf:"dial_timeout"                     env:"REDIS_DIAL_TIMEOUT"`
	PingTimeout time.Duration   `koanf:"ping_timeout"                     env:"REDIS_PING_TIMEOUT"`
}

// VaultConfig carries the master key material for C1.
type VaultConfig struct {
	MasterKey             SensitiveString `koanf:"master_key"               validate:"required" env:"VAULT_MASTER_KEY" sensitive:"true"`
	KDFSalt               SensitiveString `koanf:"kdf_salt"                  validate:"required" env:"VAULT_KDF_SALT" sensitive:"true"`
	KDFIterations         int             `koanf:"kdf_iterations"            validate:"min=100000" env:"VAULT_KDF_ITERATIONS"`
	PersistPlaintextToken bool            `koanf:"persist_plaintext_token"                        env:"VAULT_PERSIST_PLAINTEXT_TOKEN"`
}

// RateLimitConfig controls C5's primary and secondary limiters.
type RateLimitConfig struct {
	DefaultPerMinute    int  `koanf:"default_per_minute"     validate:"min=1" env:"RATELIMIT_DEFAULT_PER_MINUTE"`
	SynchronousDailyCap bool `koanf:"synchronous_daily_cap"                   env:"RATELIMIT_SYNCHRONOUS_DAILY_CAP"`
	GlobalPerMinute     int  `koanf:"global_per_minute"       validate:"min=1" env:"RATELIMIT_GLOBAL_PER_MINUTE"`
}

// ProvidersConfig carries per-provider base-URL overrides, used for the
// caller-configured AZURE_OPENAI and CUSTOM provider tags.
type ProvidersConfig struct {
	AzureOpenAIBaseURL string `koanf:"azure_openai_base_url" env:"PROVIDERS_AZURE_OPENAI_BASE_URL"`
	CustomBaseURL      string `koanf:"custom_base_url"       env:"PROVIDERS_CUSTOM_BASE_URL"`
}

// WebhookConfig holds outbound webhook delivery settings (C10).
// DeliveryTimeout is not read by webhook.Delivery, which applies a fixed
// 30-second timeout.
type WebhookConfig struct {
	DeliveryTimeout time.Duration `koanf:"delivery_timeout" env:"WEBHOOK_DELIVERY_TIMEOUT"`
}

// RetentionConfig controls usage/audit log pruning.
type RetentionConfig struct {
	UsageLogDays int `koanf:"usage_log_days" validate:"min=1" env:"RETENTION_USAGE_LOG_DAYS"`
	AuditLogDays int `koanf:"audit_log_days" validate:"min=1" env:"RETENTION_AUDIT_LOG_DAYS"`
}

// UsageConfig controls the async usage recorder worker pool (C8).
type UsageConfig struct {
	Workers    int `koanf:"workers"     validate:"min=1" env:"USAGE_WORKERS"`
	BufferSize int `koanf:"buffer_size" validate:"min=1" env:"USAGE_BUFFER_SIZE"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level string `koanf:"level" validate:"oneof=debug info warn error" env:"LOG_LEVEL"`
	JSON  bool   `koanf:"json"                                         env:"LOG_JSON"`
}

// SensitiveString never renders its value in %v/%s formatting or JSON.
type SensitiveString string

func (SensitiveString) String() string    { return "***" }
func (s SensitiveString) Reveal() string   { return string(s) }
func (SensitiveString) MarshalJSON() ([]byte, error) { return []byte(`"***"`), nil }

// Defaults returns the baseline configuration loaded before the env layer.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			BaseURL:           "http://localhost:8080",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
			PingTimeout:     3 * time.Second,
		},
		Redis: RedisConfig{
			PoolSize:    10,
			DialTimeout: 5 * time.Second,
			PingTimeout: 3 * time.Second,
		},
		Vault: VaultConfig{
			KDFIterations:         210_000,
			PersistPlaintextToken: true,
		},
		RateLimit: RateLimitConfig{
			DefaultPerMinute: 60,
			GlobalPerMinute:  6000,
		},
		Webhook: WebhookConfig{
			DeliveryTimeout: 30 * time.Second,
		},
		Retention: RetentionConfig{
			UsageLogDays: 90,
			AuditLogDays: 90,
		},
		Usage: UsageConfig{
			Workers:    4,
			BufferSize: 1024,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// Load builds the configuration from defaults followed by the environment,
// then validates the result. The layering mirrors the teacher's loader:
// struct defaults first, environment variables as the only override source.
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: "",
		TransformFunc: func(key string, value string) (string, any) {
			return transformEnvKey(key), value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}
	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

// envToPath maps each `env:"..."` tag used above to its dotted koanf path.
// Kept explicit (rather than derived by positional splitting, as the
// teacher's generic transformEnvKey does) because this config's section
// names don't all split cleanly from their env var names.
var envToPath = map[string]string{
	"SERVER_HOST":                      "server.host",
	"SERVER_PORT":                      "server.port",
	"SERVER_BASE_URL":                  "server.base_url",
	"SERVER_READ_HEADER_TIMEOUT":       "server.read_header_timeout",
	"SERVER_SHUTDOWN_TIMEOUT":          "server.shutdown_timeout",
	"SERVER_HMAC_SECRET":               "server.hmac_secret",
	"DATABASE_DSN":                     "database.dsn",
	"DATABASE_MAX_OPEN_CONNS":          "database.max_open_conns",
	"DATABASE_MAX_IDLE_CONNS":          "database.max_idle_conns",
	"DATABASE_CONN_MAX_LIFETIME":       "database.conn_max_lifetime",
	"DATABASE_PING_TIMEOUT":            "database.ping_timeout",
	"REDIS_URL":                        "redis.url",
	"REDIS_POOL_SIZE":                  "redis.pool_size",
	"REDIS_DIAL_TIMEOUT":               "redis.dial_timeout",
	"REDIS_PING_TIMEOUT":               "redis.ping_timeout",
	"VAULT_MASTER_KEY":                 "vault.master_key",
	"VAULT_KDF_SALT":                   "vault.kdf_salt",
	"VAULT_KDF_ITERATIONS":             "vault.kdf_iterations",
	"VAULT_PERSIST_PLAINTEXT_TOKEN":    "vault.persist_plaintext_token",
	"RATELIMIT_DEFAULT_PER_MINUTE":     "ratelimit.default_per_minute",
	"RATELIMIT_SYNCHRONOUS_DAILY_CAP":  "ratelimit.synchronous_daily_cap",
	"RATELIMIT_GLOBAL_PER_MINUTE":      "ratelimit.global_per_minute",
	"PROVIDERS_AZURE_OPENAI_BASE_URL":  "providers.azure_openai_base_url",
	"PROVIDERS_CUSTOM_BASE_URL":        "providers.custom_base_url",
	"WEBHOOK_DELIVERY_TIMEOUT":         "webhook.delivery_timeout",
	"RETENTION_USAGE_LOG_DAYS":         "retention.usage_log_days",
	"RETENTION_AUDIT_LOG_DAYS":         "retention.audit_log_days",
	"USAGE_WORKERS":                    "usage.workers",
	"USAGE_BUFFER_SIZE":                "usage.buffer_size",
	"LOG_LEVEL":                        "log.level",
	"LOG_JSON":                         "log.json",
}

// transformEnvKey resolves an environment variable name to its koanf path,
// passing any unmapped name through unchanged.
func transformEnvKey(key string) string {
	if path, ok := envToPath[key]; ok {
		return path
	}
	return key
}
