package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			Provider:        "anthropic",
			MaxIterations:   20,
			ContextWindow:   128000,
			ResponseReserve: 4096,
			MaxTokens:       8192,
			Temperature:     0.7,
		},
		Signal: SignalConfig{
			NoiseThreshold: 0.3,
		},
		Budget: BudgetConfig{
			LedgerPath: "~/.osa/budget.db",
		},
		Sessions: SessionsConfig{
			IdleTTL: "1h",
		},
		Tools: ToolsConfig{
			Workspace: "~/.osa/workspace",
		},
		Swarm: SwarmConfig{
			MaxConcurrent: 10,
			MaxWorkers:    10,
			Timeout:       "5m",
		},
		Gateway: GatewayConfig{
			Host:            "127.0.0.1",
			Port:            18800,
			RateLimitRPM:    60,
			MaxMessageChars: 32000,
		},
		Store: StoreConfig{
			Dir: "~/.osa",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	// Secrets: env only, never read from the file.
	envStr("OSA_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("OSA_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("OSA_SHARED_SECRET", &c.Gateway.SharedSecret)
	envStr("OSA_POSTGRES_DSN", &c.Store.PostgresDSN)

	envStr("OSA_PROVIDER", &c.Runtime.Provider)
	envStr("OSA_MODEL", &c.Runtime.Model)
	envStr("OSA_WORKSPACE", &c.Tools.Workspace)
	envStr("OSA_STORE_DIR", &c.Store.Dir)

	envStr("OSA_HOST", &c.Gateway.Host)
	if v := os.Getenv("OSA_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	if v := os.Getenv("OSA_NOISE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			c.Signal.NoiseThreshold = f
		}
	}
	if v := os.Getenv("OSA_BUDGET_DAILY_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			c.Budget.DailyUSD = f
		}
	}
	if v := os.Getenv("OSA_BUDGET_MONTHLY_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			c.Budget.MonthlyUSD = f
		}
	}

	envStr("OSA_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("OSA_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("OSA_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("OSA_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// Save writes the config to a JSON file. Secret fields carry `json:"-"`
// and are never written.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Hash returns a short SHA-256 of the persisted form, for change detection.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum[:8])
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if len(path) > 1 && (path[1] == '/' || path[1] == '\\') {
		return filepath.Join(home, path[2:])
	}
	return path
}
