package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr    = ":3025"
	defaultPostmarkURL = "https://api.postmarkapp.com"
)

type Config struct {
	HTTPAddr    string        `yaml:"http_addr"`
	DatabaseURL string        `yaml:"database_url"`
	AuthSecret  string        `yaml:"auth_secret"`
	SessionTTL  time.Duration `yaml:"session_ttl"`
	LogLevel    string        `yaml:"log_level"`
	MQURL       string        `yaml:"mq_url"`

	Postmark PostmarkConfig `yaml:"postmark"`
}

// PostmarkConfig holds the upstream API credential and the shared secret
// pair the provider presents when calling the inbound webhook.
type PostmarkConfig struct {
	ServerToken     string        `yaml:"server_token"`
	APIURL          string        `yaml:"api_url"`
	Timeout         time.Duration `yaml:"timeout"`
	WebhookUsername string        `yaml:"webhook_username"`
	WebhookPassword string        `yaml:"webhook_password"`
	WebhookMaxBytes int           `yaml:"webhook_max_bytes"`
}

// Load builds the configuration from defaults and environment variables.
func Load() Config {
	cfg := defaults()
	cfg.applyEnv()
	return cfg
}

// LoadFromFile reads a YAML file as the base layer. Environment variables
// still win over anything set in the file.
func LoadFromFile(path string) (Config, error) {
	cfg := defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	cfg.applyEnv()
	return cfg, nil
}

// WebhookAuthConfigured reports whether both webhook secrets are set.
func (c Config) WebhookAuthConfigured() bool {
	return c.Postmark.WebhookUsername != "" && c.Postmark.WebhookPassword != ""
}

func defaults() Config {
	return Config{
		HTTPAddr:   defaultHTTPAddr,
		SessionTTL: 30 * 24 * time.Hour,
		LogLevel:   "info",
		Postmark: PostmarkConfig{
			APIURL:          defaultPostmarkURL,
			Timeout:         30 * time.Second,
			WebhookMaxBytes: 25 << 20,
		},
	}
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getEnvString("HTTP_ADDR", c.HTTPAddr)
	c.DatabaseURL = getEnvString("DATABASE_URL", c.DatabaseURL)
	c.AuthSecret = getEnvString("AUTH_SECRET", c.AuthSecret)
	c.SessionTTL = getEnvDuration("SESSION_TTL", c.SessionTTL)
	c.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", c.LogLevel))
	c.MQURL = getEnvString("MQ_URL", c.MQURL)

	c.Postmark.ServerToken = getEnvString("POSTMARK_SERVER_TOKEN", c.Postmark.ServerToken)
	c.Postmark.APIURL = strings.TrimRight(getEnvString("POSTMARK_API_URL", c.Postmark.APIURL), "/")
	c.Postmark.Timeout = getEnvDuration("POSTMARK_TIMEOUT", c.Postmark.Timeout)
	c.Postmark.WebhookUsername = getEnvString("POSTMARK_WEBHOOK_USERNAME", c.Postmark.WebhookUsername)
	c.Postmark.WebhookPassword = getEnvString("POSTMARK_WEBHOOK_PASSWORD", c.Postmark.WebhookPassword)
	c.Postmark.WebhookMaxBytes = getEnvInt("POSTMARK_WEBHOOK_MAX_BYTES", c.Postmark.WebhookMaxBytes)
}

func getEnvString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(strings.TrimSpace(value))
		if err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}
