package config

import (
	"errors"
	"fmt"
	"os"
	"time"
)

var (
	// ErrMissingMongoURL is returned when no document store URL is configured.
	ErrMissingMongoURL = errors.New("MONGODB_URL is required")
	// ErrInvalidPingInterval is returned for a ping interval that is not a positive duration.
	ErrInvalidPingInterval = errors.New("ping interval must be a positive duration")
)

// Config holds application configuration.
type Config struct {
	HTTPPort         string        `yaml:"http_port" env:"HTTP_PORT"`
	MongoURL         string        `yaml:"mongodb_url" env:"MONGODB_URL"`
	MongoDatabase    string        `yaml:"mongodb_database" env:"MONGODB_DATABASE"`
	RedisURL         string        `yaml:"redis_url" env:"REDIS_URL"`
	DatabaseURL      string        `yaml:"database_url" env:"DATABASE_URL"`
	CatchupsHost     string        `yaml:"catchups_host" env:"CATCHUPS_HOST"`
	CatchupsHTTPRoot string        `yaml:"catchups_http_root" env:"CATCHUPS_HTTP_ROOT"`
	EpgURL           string        `yaml:"epg_url" env:"EPG_URL"`
	LogLevel         string        `yaml:"log_level" env:"LOG_LEVEL"`
	PingInterval     time.Duration `yaml:"ping_interval" env:"PING_INTERVAL"`
	// OperatorToken enables the operator API; requests must carry it as a
	// bearer token. Empty disables the operator routes.
	OperatorToken string `yaml:"operator_token" env:"OPERATOR_TOKEN"`
}

// Load builds config from environment variables.
// If MONGODB_URL is not set, Load tries to load .env.local and .env first.
func Load() (*Config, error) {
	if os.Getenv("MONGODB_URL") == "" {
		loadEnvFiles()
	}
	c := &Config{
		HTTPPort:         os.Getenv("HTTP_PORT"),
		MongoURL:         os.Getenv("MONGODB_URL"),
		MongoDatabase:    os.Getenv("MONGODB_DATABASE"),
		RedisURL:         os.Getenv("REDIS_URL"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		CatchupsHost:     os.Getenv("CATCHUPS_HOST"),
		CatchupsHTTPRoot: os.Getenv("CATCHUPS_HTTP_ROOT"),
		EpgURL:           os.Getenv("EPG_URL"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
		OperatorToken:    os.Getenv("OPERATOR_TOKEN"),
	}
	if s := os.Getenv("PING_INTERVAL"); s != "" {
		d, err := parsePingInterval(s)
		if err != nil {
			return nil, fmt.Errorf("PING_INTERVAL: %w", err)
		}
		c.PingInterval = d
	}
	c.applyDefaults()
	if c.MongoURL == "" {
		return nil, ErrMissingMongoURL
	}
	return c, nil
}

func parsePingInterval(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPingInterval, s)
	}
	return d, nil
}

func (c *Config) applyDefaults() {
	if c.HTTPPort == "" {
		c.HTTPPort = "8080"
	}
	if c.MongoDatabase == "" {
		c.MongoDatabase = "iptv"
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 60 * time.Second
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}
