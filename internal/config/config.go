// Package config provides the runtime settings for chatline: defaults,
// environment loading, validation, and the origin policy applied to
// WebSocket upgrades and CORS.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Blob storage backends accepted by BLOB_BACKEND.
const (
	BlobBackendFS = "fs"
	BlobBackendS3 = "s3"
)

const (
	defaultPort           = "3000"
	defaultSecret         = "dev-secret"
	defaultDatabasePath   = "db/database.sqlite"
	defaultUploadDir      = "uploads"
	defaultMaxUploadSize  = 10 << 20
	defaultMaxMessageSize = 4096
	defaultBcryptCost     = 10
	defaultRedisChannel   = "chatline:messages"
	defaultShutdown       = 10 * time.Second
)

// S3Config configures the S3-compatible blob backend.
type S3Config struct {
	Bucket          string `env:"S3_BUCKET"`
	Region          string `env:"S3_REGION" envDefault:"us-east-1"`
	Endpoint        string `env:"S3_ENDPOINT"`
	AccessKeyID     string `env:"S3_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY"`
}

// RedisConfig configures the optional cross-process relay. An empty Addr
// disables it.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	Channel  string `env:"REDIS_CHANNEL" envDefault:"chatline:messages"`
}

// Config holds the server configuration settings.
type Config struct {
	Debug bool `env:"DEBUG" envDefault:"false"`

	Port            string        `env:"PORT" envDefault:"3000"`
	JWTSecret       string        `env:"JWT_SECRET" envDefault:"dev-secret"`
	DatabasePath    string        `env:"DATABASE_PATH" envDefault:"db/database.sqlite"`
	UploadDir       string        `env:"UPLOAD_DIR" envDefault:"uploads"`
	MaxUploadSize   int64         `env:"MAX_UPLOAD_SIZE" envDefault:"10485760"`
	MaxMessageSize  int64         `env:"MAX_MESSAGE_SIZE" envDefault:"4096"`
	BcryptCost      int           `env:"BCRYPT_COST" envDefault:"10"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	BlobBackend     string        `env:"BLOB_BACKEND" envDefault:"fs"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	S3    S3Config
	Redis RedisConfig
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := &Config{
		Port:            defaultPort,
		JWTSecret:       defaultSecret,
		DatabasePath:    defaultDatabasePath,
		UploadDir:       defaultUploadDir,
		MaxUploadSize:   defaultMaxUploadSize,
		MaxMessageSize:  defaultMaxMessageSize,
		BcryptCost:      defaultBcryptCost,
		AllowedOrigins:  []string{"*"},
		BlobBackend:     BlobBackendFS,
		ShutdownTimeout: defaultShutdown,
		S3:              S3Config{Region: "us-east-1"},
		Redis:           RedisConfig{Channel: defaultRedisChannel},
	}
	return cfg
}

// Load reads a .env file when present, then the process environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	sanitizeConfig(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func sanitizeConfig(cfg *Config) {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = defaultSecret
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = defaultDatabasePath
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = defaultUploadDir
	}
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = defaultMaxUploadSize
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.BcryptCost <= 0 {
		cfg.BcryptCost = defaultBcryptCost
	}
	if cfg.BlobBackend == "" {
		cfg.BlobBackend = BlobBackendFS
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdown
	}
	if cfg.Redis.Channel == "" {
		cfg.Redis.Channel = defaultRedisChannel
	}
}

// Validate reports settings that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.BlobBackend {
	case BlobBackendFS:
	case BlobBackendS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when BLOB_BACKEND=%s", BlobBackendS3)
		}
	default:
		return fmt.Errorf("unknown BLOB_BACKEND %q", c.BlobBackend)
	}
	return nil
}

// Addr returns the listen address derived from Port.
func (c *Config) Addr() string {
	return ":" + c.Port
}

// Origins builds the origin policy described by AllowedOrigins.
func (c *Config) Origins() *OriginPolicy {
	return NewOriginPolicy(c.AllowedOrigins)
}
