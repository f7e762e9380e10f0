package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var envVars = []string{
	"HTTP_ADDR", "DATABASE_URL", "AUTH_SECRET", "SESSION_TTL", "LOG_LEVEL", "MQ_URL",
	"POSTMARK_SERVER_TOKEN", "POSTMARK_API_URL", "POSTMARK_TIMEOUT",
	"POSTMARK_WEBHOOK_USERNAME", "POSTMARK_WEBHOOK_PASSWORD", "POSTMARK_WEBHOOK_MAX_BYTES",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range envVars {
		t.Setenv(env, "")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.HTTPAddr != ":3025" {
		t.Errorf("HTTPAddr: got %q, want %q", cfg.HTTPAddr, ":3025")
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("DatabaseURL: got %q, want empty", cfg.DatabaseURL)
	}
	if cfg.SessionTTL != 30*24*time.Hour {
		t.Errorf("SessionTTL: got %v, want %v", cfg.SessionTTL, 30*24*time.Hour)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel: got %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.Postmark.APIURL != "https://api.postmarkapp.com" {
		t.Errorf("Postmark.APIURL: got %q, want %q", cfg.Postmark.APIURL, "https://api.postmarkapp.com")
	}
	if cfg.Postmark.Timeout != 30*time.Second {
		t.Errorf("Postmark.Timeout: got %v, want %v", cfg.Postmark.Timeout, 30*time.Second)
	}
	if cfg.Postmark.WebhookMaxBytes != 25<<20 {
		t.Errorf("Postmark.WebhookMaxBytes: got %d, want %d", cfg.Postmark.WebhookMaxBytes, 25<<20)
	}
	if cfg.WebhookAuthConfigured() {
		t.Error("WebhookAuthConfigured: got true with no secrets set")
	}
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_ADDR", ":8080")
	t.Setenv("DATABASE_URL", "postgres://u:p@db/mail")
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("MQ_URL", "amqp://guest:guest@mq:5672/")
	t.Setenv("POSTMARK_SERVER_TOKEN", "server-token")
	t.Setenv("POSTMARK_API_URL", "http://localhost:9999/")
	t.Setenv("POSTMARK_TIMEOUT", "5s")
	t.Setenv("POSTMARK_WEBHOOK_USERNAME", "hook")
	t.Setenv("POSTMARK_WEBHOOK_PASSWORD", "secret")
	t.Setenv("POSTMARK_WEBHOOK_MAX_BYTES", "1024")

	cfg := Load()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr: got %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.DatabaseURL != "postgres://u:p@db/mail" {
		t.Errorf("DatabaseURL: got %q", cfg.DatabaseURL)
	}
	if cfg.SessionTTL != 2*time.Hour {
		t.Errorf("SessionTTL: got %v, want %v", cfg.SessionTTL, 2*time.Hour)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel: got %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.MQURL != "amqp://guest:guest@mq:5672/" {
		t.Errorf("MQURL: got %q", cfg.MQURL)
	}
	if cfg.Postmark.ServerToken != "server-token" {
		t.Errorf("Postmark.ServerToken: got %q, want %q", cfg.Postmark.ServerToken, "server-token")
	}
	if cfg.Postmark.APIURL != "http://localhost:9999" {
		t.Errorf("Postmark.APIURL: got %q, want %q", cfg.Postmark.APIURL, "http://localhost:9999")
	}
	if cfg.Postmark.Timeout != 5*time.Second {
		t.Errorf("Postmark.Timeout: got %v, want %v", cfg.Postmark.Timeout, 5*time.Second)
	}
	if cfg.Postmark.WebhookMaxBytes != 1024 {
		t.Errorf("Postmark.WebhookMaxBytes: got %d, want 1024", cfg.Postmark.WebhookMaxBytes)
	}
	if !cfg.WebhookAuthConfigured() {
		t.Error("WebhookAuthConfigured: got false with both secrets set")
	}
}

func TestLoad_InvalidDurationKeepsDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("POSTMARK_TIMEOUT", "soon")

	cfg := Load()
	if cfg.Postmark.Timeout != 30*time.Second {
		t.Errorf("Postmark.Timeout: got %v, want %v", cfg.Postmark.Timeout, 30*time.Second)
	}
}

func TestWebhookAuthConfigured(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		username string
		password string
		expect   bool
	}{
		{name: "both set", username: "u", password: "p", expect: true},
		{name: "empty password", username: "u", password: "", expect: false},
		{name: "empty username", username: "", password: "p", expect: false},
		{name: "neither", expect: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Config{Postmark: PostmarkConfig{WebhookUsername: tt.username, WebhookPassword: tt.password}}
			if got := cfg.WebhookAuthConfigured(); got != tt.expect {
				t.Errorf("WebhookAuthConfigured: got %v, want %v", got, tt.expect)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("POSTMARK_WEBHOOK_PASSWORD", "from-env")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `http_addr: ":9000"
session_ttl: 1h
postmark:
  server_token: file-token
  timeout: 10s
  webhook_username: file-user
  webhook_password: file-pass
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":9000" {
		t.Errorf("HTTPAddr: got %q, want %q", cfg.HTTPAddr, ":9000")
	}
	if cfg.SessionTTL != time.Hour {
		t.Errorf("SessionTTL: got %v, want %v", cfg.SessionTTL, time.Hour)
	}
	if cfg.Postmark.ServerToken != "file-token" {
		t.Errorf("Postmark.ServerToken: got %q, want %q", cfg.Postmark.ServerToken, "file-token")
	}
	if cfg.Postmark.Timeout != 10*time.Second {
		t.Errorf("Postmark.Timeout: got %v, want %v", cfg.Postmark.Timeout, 10*time.Second)
	}
	if cfg.Postmark.WebhookUsername != "file-user" {
		t.Errorf("Postmark.WebhookUsername: got %q, want %q", cfg.Postmark.WebhookUsername, "file-user")
	}
	if cfg.Postmark.WebhookPassword != "from-env" {
		t.Errorf("Postmark.WebhookPassword: got %q, want %q", cfg.Postmark.WebhookPassword, "from-env")
	}
	if cfg.Postmark.APIURL != "https://api.postmarkapp.com" {
		t.Errorf("Postmark.APIURL: got %q, want default", cfg.Postmark.APIURL)
	}
}

func TestLoadFromFile_Missing(t *testing.T) {
	t.Parallel()

	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
