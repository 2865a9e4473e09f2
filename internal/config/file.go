package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	HTTPPort         string `yaml:"http_port"`
	MongoURL         string `yaml:"mongodb_url"`
	MongoDatabase    string `yaml:"mongodb_database"`
	RedisURL         string `yaml:"redis_url"`
	DatabaseURL      string `yaml:"database_url"`
	CatchupsHost     string `yaml:"catchups_host"`
	CatchupsHTTPRoot string `yaml:"catchups_http_root"`
	EpgURL           string `yaml:"epg_url"`
	LogLevel         string `yaml:"log_level"`
	PingInterval     string `yaml:"ping_interval"`
	OperatorToken    string `yaml:"operator_token"`
}

// LoadFromFile loads config from a YAML file. mongodb_url is required.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f.MongoURL == "" {
		return nil, ErrMissingMongoURL
	}
	c := &Config{
		HTTPPort:         f.HTTPPort,
		MongoURL:         f.MongoURL,
		MongoDatabase:    f.MongoDatabase,
		RedisURL:         f.RedisURL,
		DatabaseURL:      f.DatabaseURL,
		CatchupsHost:     f.CatchupsHost,
		CatchupsHTTPRoot: f.CatchupsHTTPRoot,
		EpgURL:           f.EpgURL,
		LogLevel:         f.LogLevel,
		OperatorToken:    f.OperatorToken,
	}
	if f.PingInterval != "" {
		d, err := parsePingInterval(f.PingInterval)
		if err != nil {
			return nil, fmt.Errorf("ping_interval: %w", err)
		}
		c.PingInterval = d
	}
	c.applyDefaults()
	return c, nil
}
