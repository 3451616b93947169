// Package config loads gateway configuration the way the teacher's
// internal/config package does: sensible defaults, overridden by a TOML
// file, overridden again by environment variables (env always wins).
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Providers ProvidersConfig `toml:"providers"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	CORS      CORSConfig      `toml:"cors"`
	Sandbox   SandboxConfig   `toml:"sandbox"`
	ConvCtx   ConvCtxConfig   `toml:"conversation_context"`
	Store     StoreConfig     `toml:"store"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

type ServerConfig struct {
	BindHost       string `toml:"bind_host"` // "0.0.0.0" default, "127.0.0.1" when restricted
	Port           int    `toml:"port"`
	MasterToken    string `toml:"master_token"`
	PairingCode    string `toml:"pairing_code"` // out-of-band code for POST /pair
	TrustedCIDR    string `toml:"trusted_cidr"` // for auto-pair, default 100.64.0.0/10
	ServiceName    string `toml:"service_name"`
	ServiceVersion string `toml:"service_version"`
	SystemPrompt   string `toml:"system_prompt"` // injected when the client sends no system message
}

type ProvidersConfig struct {
	AnthropicAPIKey string   `toml:"anthropic_api_key"`
	GeminiAPIKey    string   `toml:"gemini_api_key"`
	OpenAIAPIKey    string   `toml:"openai_api_key"`
	XAIAPIKey       string   `toml:"xai_api_key"`
	LocalBaseURL    string   `toml:"local_base_url"`
	DefaultModel    string   `toml:"default_model"`
	FallbackOrder   []string `toml:"fallback_order"` // e.g. ["openai", "gemini", "local"]
}

type RateLimitConfig struct {
	RequestsPerMinute int `toml:"requests_per_minute"`
}

type CORSConfig struct {
	AllowedOrigins []string `toml:"allowed_origins"`
}

type SandboxConfig struct {
	WorkspaceRoot  string `toml:"workspace_root"`
	PythonBin      string `toml:"python_bin"`
	NodeBin        string `toml:"node_bin"`
	MaxConcurrent  int    `toml:"max_concurrent"`
	MaxOutputBytes int    `toml:"max_output_bytes"`
	SSRFEnabled    bool   `toml:"ssrf_protection_enabled"`
	DockerBackend  bool   `toml:"docker_backend"`
}

type ConvCtxConfig struct {
	MaxWindow   int           `toml:"max_window"`   // default 20
	IdleTimeout time.Duration `toml:"idle_timeout"` // default 30m
}

type StoreConfig struct {
	DBPath           string `toml:"db_path"`
	PairedDevicePath string `toml:"paired_device_path"`
	AgentConfigPath  string `toml:"agent_config_path"`
}

type TelemetryConfig struct {
	Enabled      bool   `toml:"enabled"`
	OTLPEndpoint string `toml:"otlp_endpoint"`
}

// Default returns a Config with every field set to a safe, working value.
func Default() Config {
	home, err := os.UserHomeDir()
	if home == "" || err != nil {
		home = "/tmp"
	}
	return Config{
		Server: ServerConfig{
			BindHost:       "0.0.0.0",
			Port:           8787,
			TrustedCIDR:    "100.64.0.0/10",
			ServiceName:    "torbobase",
			ServiceVersion: "dev",
		},
		Providers: ProvidersConfig{
			DefaultModel:  "claude-sonnet-4-5",
			FallbackOrder: []string{"openai", "gemini"},
		},
		RateLimit: RateLimitConfig{RequestsPerMinute: 60},
		Sandbox: SandboxConfig{
			WorkspaceRoot:  home + "/torbobase-sandbox",
			PythonBin:      "python3",
			NodeBin:        "node",
			MaxConcurrent:  4,
			MaxOutputBytes: 512 * 1024,
			SSRFEnabled:    true,
		},
		ConvCtx: ConvCtxConfig{MaxWindow: 20, IdleTimeout: 30 * time.Minute},
		Store: StoreConfig{
			DBPath:           home + "/.torbobase/gateway.db",
			PairedDevicePath: home + "/.torbobase/paired-devices.json",
			AgentConfigPath:  home + "/.torbobase/agents.json",
		},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "torbobase.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	if v := os.Getenv("BIND_HOST"); v != "" {
		cfg.Server.BindHost = v
	}
	if v := os.Getenv("TORBO_MASTER_TOKEN"); v != "" {
		cfg.Server.MasterToken = v
	}
	if v := os.Getenv("TORBO_PAIRING_CODE"); v != "" {
		cfg.Server.PairingCode = v
	}
	if v := os.Getenv("TORBO_ANTHROPIC_API_KEY"); v != "" {
		cfg.Providers.AnthropicAPIKey = v
	}
	if v := os.Getenv("TORBO_GEMINI_API_KEY"); v != "" {
		cfg.Providers.GeminiAPIKey = v
	}
	if v := os.Getenv("TORBO_OPENAI_API_KEY"); v != "" {
		cfg.Providers.OpenAIAPIKey = v
	}
	if v := os.Getenv("TORBO_XAI_API_KEY"); v != "" {
		cfg.Providers.XAIAPIKey = v
	}
	if v := os.Getenv("TORBO_LOCAL_BASE_URL"); v != "" {
		cfg.Providers.LocalBaseURL = v
	}

	return cfg
}
