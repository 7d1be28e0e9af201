// SPDX-License-Identifier: AGPL-3.0-only
package config

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"golang.org/x/crypto/hkdf"
)

// AppVersion is overridden at build time with -ldflags.
var AppVersion = "dev"

const devTokenSecret = "change-me-fbtracker-token-secret"

type AppConfig struct {
	Port              string        `mapstructure:"PORT"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	LocalDBPath       string        `mapstructure:"LOCAL_DB_PATH"`
	RedisURL          string        `mapstructure:"REDIS_URL"`
	GraphAPIBase      string        `mapstructure:"GRAPH_API_BASE"`
	GraphAPIVersion   string        `mapstructure:"GRAPH_API_VERSION"`
	MaxPageSize       int           `mapstructure:"MAX_PAGE_SIZE"`
	HTTPTimeout       time.Duration `mapstructure:"HTTP_TIMEOUT"`
	PhoneMaxFileBytes int64         `mapstructure:"PHONE_MAX_FILE_BYTES"`
	PhoneRedisKey     string        `mapstructure:"PHONE_REDIS_KEY"`
	CompactAfter      int           `mapstructure:"COMPACT_AFTER"`
	RefreshInterval   time.Duration `mapstructure:"REFRESH_INTERVAL"`
	TokenSecret       string        `mapstructure:"TOKEN_SECRET"`
	FacebookAppID     string        `mapstructure:"FACEBOOK_APP_ID"`
	FacebookAppSecret string        `mapstructure:"FACEBOOK_APP_SECRET"`
	FacebookCallback  string        `mapstructure:"FACEBOOK_CALLBACK_URL"`
	OutputsDir        string        `mapstructure:"OUTPUTS_DIR"`
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	DefaultUserID     string        `mapstructure:"DEFAULT_USER_ID"`
	UpdateCheckURL    string        `mapstructure:"UPDATE_CHECK_URL"`

	TokenEncryptionKey []byte `mapstructure:"-"`
	// DBInitErr is set when the cloud store could not be opened. Handlers
	// that need it report this error instead of failing later.
	DBInitErr error `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "22347")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("LOCAL_DB_PATH", "./data/fbtracker.db")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("GRAPH_API_BASE", "https://graph.facebook.com")
	v.SetDefault("GRAPH_API_VERSION", "v24.0")
	v.SetDefault("MAX_PAGE_SIZE", 100)
	v.SetDefault("HTTP_TIMEOUT", "60s")
	v.SetDefault("PHONE_MAX_FILE_BYTES", 64<<20)
	v.SetDefault("PHONE_REDIS_KEY", "fbtracker:phones")
	v.SetDefault("COMPACT_AFTER", 20)
	v.SetDefault("REFRESH_INTERVAL", "0s")
	v.SetDefault("TOKEN_SECRET", devTokenSecret)
	v.SetDefault("FACEBOOK_APP_ID", "")
	v.SetDefault("FACEBOOK_APP_SECRET", "")
	v.SetDefault("FACEBOOK_CALLBACK_URL", "")
	v.SetDefault("OUTPUTS_DIR", "./outputs")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DEFAULT_USER_ID", "local")
	v.SetDefault("UPDATE_CHECK_URL", "")
}

// Load reads an optional .env file, then the environment.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Config: Failed to read .env: %v", err)
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	key, err := DeriveTokenKey(cfg.TokenSecret)
	if err != nil {
		return nil, err
	}
	cfg.TokenEncryptionKey = key

	if cfg.TokenSecret == devTokenSecret {
		log.Println("Config: WARNING: TOKEN_SECRET is the development default. Set it before storing real tokens.")
	}

	return &cfg, nil
}

func (c *AppConfig) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.LocalDBPath == "" {
		return errors.New("LOCAL_DB_PATH is required")
	}
	if c.MaxPageSize <= 0 {
		return errors.New("MAX_PAGE_SIZE must be positive")
	}
	if len(c.TokenSecret) < 16 {
		return errors.New("TOKEN_SECRET must be at least 16 characters")
	}
	if c.HTTPTimeout <= 0 {
		return errors.New("HTTP_TIMEOUT must be positive")
	}
	if c.RefreshInterval < 0 {
		return errors.New("REFRESH_INTERVAL must not be negative")
	}
	return nil
}

// DeriveTokenKey stretches secret into a 32 byte AES key.
func DeriveTokenKey(secret string) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte("fbtracker access token"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive token key: %w", err)
	}
	return key, nil
}

// ConfigureLogging applies LOG_LEVEL to the standard logrus logger.
func (c *AppConfig) ConfigureLogging() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		log.Printf("Config: Unknown LOG_LEVEL %q, using info", c.LogLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)
}
