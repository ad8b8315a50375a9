package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all non-LLM configuration. LLM provider settings are read
// from the environment by llm.ConfigFromEnv.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Identity IdentityConfig `mapstructure:"identity"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Dialogue DialogueConfig `mapstructure:"dialogue"`
	Stats    StatsConfig    `mapstructure:"stats"`
}

type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown_grace"`
}

type DatabaseConfig struct {
	// DSN is a SQLite file path / URI, or a postgres:// URL.
	DSN string `mapstructure:"dsn"`
}

type LogConfig struct {
	Mode     string `mapstructure:"mode"`
	HashSalt string `mapstructure:"hash_salt"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type IdentityConfig struct {
	// Mode is "derived" (local UUIDv5) or "http" (platform exchange endpoint).
	Mode    string        `mapstructure:"mode"`
	Salt    string        `mapstructure:"salt"`
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type StorageConfig struct {
	// Mode is "local" or "gcs".
	Mode          string `mapstructure:"mode"`
	LocalDir      string `mapstructure:"local_dir"`
	GCSBucket     string `mapstructure:"gcs_bucket"`
	GCSCredsFile  string `mapstructure:"gcs_credentials_file"`
	GCSEmulator   string `mapstructure:"gcs_emulator_host"`
	MaxImageBytes int    `mapstructure:"max_image_bytes"`
}

type QueueConfig struct {
	// Mode is "inprocess" or "asynq".
	Mode     string `mapstructure:"mode"`
	RedisURL string `mapstructure:"redis_url"`
	Workers  int    `mapstructure:"workers"`
	Buffer   int    `mapstructure:"buffer"`
}

type DialogueConfig struct {
	TotalRounds int           `mapstructure:"total_rounds"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type StatsConfig struct {
	Timezone string `mapstructure:"timezone"`
}

// Load reads configuration from an optional file and MATHBUDDY_* environment
// variables. path may be empty, in which case mathbuddy.yaml and .env are
// looked up in the working directory and ./config.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MATHBUDDY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("mathbuddy")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration with only defaults applied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://127.0.0.1:3000"})
	v.SetDefault("server.shutdown_grace", 10*time.Second)

	v.SetDefault("database.dsn", "")

	v.SetDefault("log.mode", "dev")
	v.SetDefault("log.hash_salt", "")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 30*24*time.Hour)

	v.SetDefault("identity.mode", "derived")
	v.SetDefault("identity.salt", "mathbuddy")
	v.SetDefault("identity.url", "")
	v.SetDefault("identity.timeout", 5*time.Second)

	v.SetDefault("storage.mode", "local")
	v.SetDefault("storage.local_dir", "./data/uploads")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.gcs_credentials_file", "")
	v.SetDefault("storage.gcs_emulator_host", "")
	v.SetDefault("storage.max_image_bytes", 900*1024)

	v.SetDefault("queue.mode", "inprocess")
	v.SetDefault("queue.redis_url", "redis://localhost:6379")
	v.SetDefault("queue.workers", 2)
	v.SetDefault("queue.buffer", 256)

	v.SetDefault("dialogue.total_rounds", 3)
	v.SetDefault("dialogue.timeout", 20*time.Second)

	v.SetDefault("stats.timezone", "Asia/Shanghai")
}

// Validate checks settings that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret (MATHBUDDY_AUTH_JWT_SECRET) is required")
	}
	switch c.Identity.Mode {
	case "derived":
	case "http":
		if c.Identity.URL == "" {
			return fmt.Errorf("identity.url is required when identity.mode is http")
		}
	default:
		return fmt.Errorf("unknown identity mode: %q", c.Identity.Mode)
	}
	switch c.Storage.Mode {
	case "local":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required when storage.mode is gcs")
		}
	default:
		return fmt.Errorf("unknown storage mode: %q", c.Storage.Mode)
	}
	switch c.Queue.Mode {
	case "inprocess", "asynq":
	default:
		return fmt.Errorf("unknown queue mode: %q", c.Queue.Mode)
	}
	if c.Dialogue.TotalRounds < 1 {
		return fmt.Errorf("dialogue.total_rounds must be at least 1")
	}
	if c.Storage.MaxImageBytes <= 0 {
		return fmt.Errorf("storage.max_image_bytes must be positive")
	}
	if _, err := time.LoadLocation(c.Stats.Timezone); err != nil {
		return fmt.Errorf("stats.timezone: %w", err)
	}
	return nil
}
