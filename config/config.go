package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
// The custody host reads Signer, Vault, Audit, Admin, Database and Redis;
// the trading host reads Client and Exchange.
type Config struct {
	Signer   SignerConfig   `mapstructure:"signer"`
	Vault    VaultConfig    `mapstructure:"vault"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Client   ClientConfig   `mapstructure:"client"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
}

type SignerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Allowlist      []string      `mapstructure:"allowlist"`        // IPs or CIDR prefixes
	MaxMessageSize int           `mapstructure:"max_message_size"` // canonical string cap in bytes
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	Framing        string        `mapstructure:"framing"` // length-prefixed, raw
	FailureBackoff time.Duration `mapstructure:"failure_backoff"`
	RateLimit      int64         `mapstructure:"rate_limit"` // 0 = disabled
	RateWindow     time.Duration `mapstructure:"rate_window"`
}

// Addr returns the listen address of the signing service.
func (s SignerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type VaultConfig struct {
	Path string `mapstructure:"path"`
}

type AuditConfig struct {
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

type ClientConfig struct {
	SignerHost     string        `mapstructure:"signer_host"`
	SignerPort     int           `mapstructure:"signer_port"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	IOTimeout      time.Duration `mapstructure:"io_timeout"`
	Framing        string        `mapstructure:"framing"`
	MaxMessageSize int           `mapstructure:"max_message_size"`
}

// SignerAddr returns the address of the remote signing service.
func (c ClientConfig) SignerAddr() string {
	return fmt.Sprintf("%s:%d", c.SignerHost, c.SignerPort)
}

type ExchangeConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	RecvWindow  int64         `mapstructure:"recv_window"` // milliseconds
	Timeout     time.Duration `mapstructure:"timeout"`
	SignRetries int           `mapstructure:"sign_retries"`
}

type AdminConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Host      string   `mapstructure:"host"`
	Port      int      `mapstructure:"port"`
	Allowlist []string `mapstructure:"allowlist"`
}

// Addr returns the admin HTTP listen address.
func (a AdminConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: SRL_ (Signing ReLay).
// Nested keys use underscore: SRL_SIGNER_PORT, SRL_VAULT_PATH, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("signer.host", "0.0.0.0")
	v.SetDefault("signer.port", 18956)
	v.SetDefault("signer.allowlist", []string{"127.0.0.1"})
	v.SetDefault("signer.max_message_size", 256)
	v.SetDefault("signer.read_timeout", "5s")
	v.SetDefault("signer.write_timeout", "5s")
	v.SetDefault("signer.framing", "length-prefixed")
	v.SetDefault("signer.failure_backoff", "1s")
	v.SetDefault("signer.rate_limit", 0)
	v.SetDefault("signer.rate_window", "1m")
	v.SetDefault("vault.path", "constants")
	v.SetDefault("audit.dir", "log")
	v.SetDefault("audit.max_size_mb", 10)
	v.SetDefault("audit.max_backups", 5)
	v.SetDefault("client.signer_host", "127.0.0.1")
	v.SetDefault("client.signer_port", 18956)
	v.SetDefault("client.dial_timeout", "6s")
	v.SetDefault("client.io_timeout", "6s")
	v.SetDefault("client.framing", "length-prefixed")
	v.SetDefault("client.max_message_size", 256)
	v.SetDefault("exchange.base_url", "https://api.binance.com/api")
	v.SetDefault("exchange.api_key", "")
	v.SetDefault("exchange.recv_window", 7000)
	v.SetDefault("exchange.timeout", "10s")
	v.SetDefault("exchange.sign_retries", 2)
	v.SetDefault("admin.enabled", false)
	v.SetDefault("admin.host", "127.0.0.1")
	v.SetDefault("admin.port", 18957)
	v.SetDefault("admin.allowlist", []string{"127.0.0.1", "::1"})
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "signing_relay")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: SRL_SIGNER_PORT -> signer.port
	v.SetEnvPrefix("SRL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Signer.MaxMessageSize <= 0 {
		return fmt.Errorf("signer.max_message_size must be positive, got %d", c.Signer.MaxMessageSize)
	}
	if c.Client.MaxMessageSize <= 0 {
		return fmt.Errorf("client.max_message_size must be positive, got %d", c.Client.MaxMessageSize)
	}
	for _, f := range []string{c.Signer.Framing, c.Client.Framing} {
		if f != "length-prefixed" && f != "raw" {
			return fmt.Errorf("unknown framing %q (want length-prefixed or raw)", f)
		}
	}

	// A zero deadline expires immediately, so every exchange would fail.
	timeouts := []struct {
		key string
		d   time.Duration
	}{
		{"signer.read_timeout", c.Signer.ReadTimeout},
		{"signer.write_timeout", c.Signer.WriteTimeout},
		{"client.dial_timeout", c.Client.DialTimeout},
		{"client.io_timeout", c.Client.IOTimeout},
	}
	for _, t := range timeouts {
		if t.d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", t.key, t.d)
		}
	}
	if c.Signer.RateLimit > 0 && c.Signer.RateWindow <= 0 {
		return fmt.Errorf("signer.rate_window must be positive when signer.rate_limit is set, got %s", c.Signer.RateWindow)
	}
	return nil
}
