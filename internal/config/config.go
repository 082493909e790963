// Package config loads the pipeline configuration from YAML plus a .env
// file for secrets and connection strings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Queue    QueueConfig    `yaml:"queue"`
	Validate ValidateConfig `yaml:"validate"`
	Detect   DetectConfig   `yaml:"detect"`
	Analyzer AnalyzerConfig `yaml:"analyzer"`
	Storage  StorageConfig  `yaml:"storage"`
	Redis    RedisConfig    `yaml:"redis"`
	PubSub   PubSubConfig   `yaml:"pubsub"`
	Sources  []SourceConfig `yaml:"sources"`
	Rules    []RuleConfig   `yaml:"rules"`
}

type ServerConfig struct {
	Port int    `yaml:"port"`
	Env  string `yaml:"env"`
}

type QueueConfig struct {
	MaxQueueSize    int `yaml:"max_queue_size"`
	BatchSize       int `yaml:"batch_size"`
	Workers         int `yaml:"workers"`
	FlushIntervalMs int `yaml:"flush_interval_ms"`
	MaxRetries      int `yaml:"max_retries"`
	RetryBaseMs     int `yaml:"retry_base_ms"`
	RetryMaxMs      int `yaml:"retry_max_ms"`
}

type ValidateConfig struct {
	MaxContentLength           int `yaml:"max_content_length"`
	MaxLineLength              int `yaml:"max_line_length"`
	MaxConsecutiveReplacements int `yaml:"max_consecutive_replacements"`
}

type DetectConfig struct {
	MaxPatterns int `yaml:"max_patterns"`
}

type AnalyzerConfig struct {
	TimeoutMs int `yaml:"timeout_ms"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"` // postgres or memory
	DSN    string `yaml:"dsn"`    // overridden by DATABASE_URL
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
	Password string `yaml:"-"` // from REDIS_PASSWORD
}

type PubSubConfig struct {
	Enabled bool   `yaml:"enabled"`
	Project string `yaml:"project"`
	Topic   string `yaml:"topic"`
}

type SourceConfig struct {
	Path     string `yaml:"path"`
	Name     string `yaml:"name"`
	Priority string `yaml:"priority"`
}

type RuleConfig struct {
	Name            string   `yaml:"name"`
	Enabled         bool     `yaml:"enabled"`
	MinSeverity     int      `yaml:"min_severity"`
	MaxSeverity     int      `yaml:"max_severity"`
	Categories      []string `yaml:"categories"`
	Sources         []string `yaml:"sources"`
	Channels        []string `yaml:"channels"`
	ThrottleMinutes int      `yaml:"throttle_minutes"`
}

// Load reads the YAML file, then applies .env overrides. A missing .env is
// not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a runnable configuration without any file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Storage.Driver = "postgres"
		c.Storage.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Enabled = true
		c.Redis.Addr = v
	}
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	if v := os.Getenv("PUBSUB_PROJECT"); v != "" {
		c.PubSub.Enabled = true
		c.PubSub.Project = v
	}
	if v := os.Getenv("PUBSUB_TOPIC"); v != "" {
		c.PubSub.Topic = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = "loglane:broadcast"
	}
	if c.PubSub.Topic == "" {
		c.PubSub.Topic = "loglane-notifications"
	}
	if c.Analyzer.TimeoutMs == 0 {
		c.Analyzer.TimeoutMs = 5000
	}
}

// FlushInterval converts the millisecond setting.
func (q QueueConfig) FlushInterval() time.Duration {
	return time.Duration(q.FlushIntervalMs) * time.Millisecond
}

// RetryBase converts the millisecond setting.
func (q QueueConfig) RetryBase() time.Duration {
	return time.Duration(q.RetryBaseMs) * time.Millisecond
}

// RetryMax converts the millisecond setting.
func (q QueueConfig) RetryMax() time.Duration {
	return time.Duration(q.RetryMaxMs) * time.Millisecond
}

// AnalyzerTimeout converts the millisecond setting.
func (a AnalyzerConfig) AnalyzerTimeout() time.Duration {
	return time.Duration(a.TimeoutMs) * time.Millisecond
}
