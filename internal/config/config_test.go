// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

auth:
  jwt_secret: "s3cret"

escalation:
  threshold: 3

openai:
  api_key: "sk-test"
  base_url: "http://localhost:11434/v1"
  model: "llama3"
  timeout: "15s"

knowledge:
  database_url: "postgres://kb@localhost/kb"
  top_k: 8

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  path: "/metrics"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Auth.JWTSecret != "s3cret" {
		t.Errorf("Auth.JWTSecret = %q", cfg.Auth.JWTSecret)
	}
	if cfg.Escalation.Threshold != 3 {
		t.Errorf("Escalation.Threshold = %d, want 3", cfg.Escalation.Threshold)
	}
	if cfg.OpenAI.Model != "llama3" {
		t.Errorf("OpenAI.Model = %q, want llama3", cfg.OpenAI.Model)
	}
	if cfg.OpenAI.EmbeddingModel != "text-embedding-3-small" {
		t.Errorf("OpenAI.EmbeddingModel default = %q", cfg.OpenAI.EmbeddingModel)
	}
	if cfg.OpenAI.Timeout != 15*time.Second {
		t.Errorf("OpenAI.Timeout = %v, want 15s", cfg.OpenAI.Timeout)
	}
	if cfg.Knowledge.TopK != 8 {
		t.Errorf("Knowledge.TopK = %d, want 8", cfg.Knowledge.TopK)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled should be true")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
openai:
  api_key: "sk-test"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Escalation.Threshold != 5 {
		t.Errorf("default threshold = %d, want 5", cfg.Escalation.Threshold)
	}
	if cfg.OpenAI.Model != "gpt-4o-mini" {
		t.Errorf("default model = %q", cfg.OpenAI.Model)
	}
	if cfg.OpenAI.Timeout != 60*time.Second {
		t.Errorf("default timeout = %v", cfg.OpenAI.Timeout)
	}
	if cfg.Knowledge.TopK != 5 {
		t.Errorf("default top_k = %d", cfg.Knowledge.TopK)
	}
	if cfg.Server.ReadLimit != 64<<10 {
		t.Errorf("default read_limit = %d", cfg.Server.ReadLimit)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("default logging = %+v", cfg.Logging)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[server]
http_addr = "127.0.0.1:9000"

[database]
path = "/var/lib/handoff/handoff.db"

[openai]
api_key = "sk-toml"
timeout = "5s"

[escalation]
threshold = 2
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:9000" {
		t.Errorf("Server.HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.OpenAI.Timeout != 5*time.Second {
		t.Errorf("OpenAI.Timeout = %v", cfg.OpenAI.Timeout)
	}
	if cfg.Escalation.Threshold != 2 {
		t.Errorf("Escalation.Threshold = %d", cfg.Escalation.Threshold)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-from-env")
	t.Setenv("TEST_DB_PATH", "/tmp/from-env.db")

	path := writeConfig(t, "config.yaml", `
server:
  http_addr: ":8080"
database:
  path: "${TEST_DB_PATH}"
openai:
  api_key: "${TEST_OPENAI_KEY}"
auth:
  jwt_secret: "${TEST_UNSET_SECRET}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.OpenAI.APIKey != "sk-from-env" {
		t.Errorf("OpenAI.APIKey = %q, want sk-from-env", cfg.OpenAI.APIKey)
	}
	if cfg.Database.Path != "/tmp/from-env.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Auth.JWTSecret != "" {
		t.Errorf("unset env var should expand to empty, got %q", cfg.Auth.JWTSecret)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
openai:
  api_key: "sk-test"
  timeout: "soon"
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "openai.timeout") {
		t.Errorf("expected duration error, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := &Config{
			Server:   ServerConfig{HTTPAddr: ":8080"},
			Database: DatabaseConfig{Path: "./x.db"},
			OpenAI:   OpenAIConfig{APIKey: "sk"},
		}
		c.applyDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing http addr", func(c *Config) { c.Server.HTTPAddr = "" }, "server.http_addr"},
		{"tailscale replaces http addr", func(c *Config) {
			c.Server.HTTPAddr = ""
			c.Tailscale = TailscaleConfig{Enabled: true, Hostname: "handoff"}
		}, ""},
		{"tailscale without hostname", func(c *Config) { c.Tailscale.Enabled = true }, "tailscale.hostname"},
		{"missing database", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"negative threshold", func(c *Config) { c.Escalation.Threshold = -1 }, "escalation.threshold"},
		{"missing api key", func(c *Config) { c.OpenAI.APIKey = "" }, "openai.api_key"},
		{"bad base url", func(c *Config) { c.OpenAI.BaseURL = "localhost:11434" }, "openai.base_url"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad metrics path", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Path = "metrics"
		}, "metrics.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
