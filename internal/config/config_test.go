package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Server.BindHost != "0.0.0.0" {
		t.Errorf("expected 0.0.0.0, got %s", cfg.Server.BindHost)
	}
	if cfg.RateLimit.RequestsPerMinute != 60 {
		t.Errorf("expected 60, got %d", cfg.RateLimit.RequestsPerMinute)
	}
	if cfg.ConvCtx.MaxWindow != 20 {
		t.Errorf("expected 20, got %d", cfg.ConvCtx.MaxWindow)
	}
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
[server]
bind_host = "127.0.0.1"
port = 9090

[rate_limit]
requests_per_minute = 30
`), 0644)

	cfg := Load(path)
	if cfg.Server.BindHost != "127.0.0.1" {
		t.Errorf("expected 127.0.0.1, got %s", cfg.Server.BindHost)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected 9090, got %d", cfg.Server.Port)
	}
	if cfg.RateLimit.RequestsPerMinute != 30 {
		t.Errorf("expected 30, got %d", cfg.RateLimit.RequestsPerMinute)
	}
	// Defaults preserved for fields not in the file.
	if cfg.Sandbox.PythonBin != "python3" {
		t.Errorf("default should be preserved, got %s", cfg.Sandbox.PythonBin)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("BIND_HOST", "127.0.0.1")
	t.Setenv("TORBO_MASTER_TOKEN", "env-token")
	t.Setenv("TORBO_ANTHROPIC_API_KEY", "env-key")

	cfg := Load("/nonexistent/path.toml")
	if cfg.Server.BindHost != "127.0.0.1" {
		t.Errorf("expected 127.0.0.1, got %s", cfg.Server.BindHost)
	}
	if cfg.Server.MasterToken != "env-token" {
		t.Errorf("expected env-token, got %s", cfg.Server.MasterToken)
	}
	if cfg.Providers.AnthropicAPIKey != "env-key" {
		t.Errorf("expected env-key, got %s", cfg.Providers.AnthropicAPIKey)
	}
}
