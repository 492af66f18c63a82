// Package config holds the runtime configuration: a JSON5 file overlaid
// with OSA_* environment variables. Secrets (API keys, DSNs, the gateway
// shared secret) are env-only and never persisted.
package config

import (
	"sync"
	"time"
)

// Config is the root configuration for the OSA runtime.
type Config struct {
	Runtime   RuntimeConfig   `json:"runtime"`
	Signal    SignalConfig    `json:"signal"`
	Providers ProvidersConfig `json:"providers"`
	Budget    BudgetConfig    `json:"budget"`
	Sessions  SessionsConfig  `json:"sessions"`
	Tools     ToolsConfig     `json:"tools"`
	Swarm     SwarmConfig     `json:"swarm"`
	Gateway   GatewayConfig   `json:"gateway"`
	Store     StoreConfig     `json:"store"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// RuntimeConfig are the agent loop defaults.
type RuntimeConfig struct {
	Provider        string  `json:"provider"`                // "anthropic" or "openai"
	Model           string  `json:"model,omitempty"`         // empty = provider default
	MaxIterations   int     `json:"max_iterations"`          // tool-use round cap per turn
	ContextWindow   int     `json:"context_window"`          // prompt token budget
	ResponseReserve int     `json:"response_reserve"`        // tokens held back for the reply
	MaxTokens       int     `json:"max_tokens,omitempty"`    // response cap sent to the provider
	Temperature     float64 `json:"temperature,omitempty"`
}

// SignalConfig tunes inbound message classification.
type SignalConfig struct {
	NoiseThreshold float64 `json:"noise_threshold"` // signals below this weight are dropped
}

// ProviderCred is one provider's credentials and endpoint.
type ProviderCred struct {
	APIKey  string `json:"-"` // env only
	BaseURL string `json:"base_url,omitempty"`
}

// ProvidersConfig holds per-provider credentials.
type ProvidersConfig struct {
	Anthropic ProviderCred `json:"anthropic,omitempty"`
	OpenAI    ProviderCred `json:"openai,omitempty"`
}

// BudgetConfig sets spend ceilings in USD. Zero means unlimited.
type BudgetConfig struct {
	PerCallUSD float64 `json:"per_call_usd,omitempty"`
	DailyUSD   float64 `json:"daily_usd,omitempty"`
	MonthlyUSD float64 `json:"monthly_usd,omitempty"`
	LedgerPath string  `json:"ledger_path,omitempty"` // sqlite file; empty = in-memory only
}

// SessionsConfig controls session lifecycle.
type SessionsConfig struct {
	IdleTTL string `json:"idle_ttl,omitempty"` // Go duration, default "1h"
}

// IdleTTLDuration parses IdleTTL, falling back to one hour.
func (s SessionsConfig) IdleTTLDuration() time.Duration {
	if d, err := time.ParseDuration(s.IdleTTL); err == nil && d > 0 {
		return d
	}
	return time.Hour
}

// ToolsConfig controls the tool sandbox policy.
type ToolsConfig struct {
	Workspace    string   `json:"workspace"`               // root for exec and relative paths
	AllowPaths   []string `json:"allow_paths,omitempty"`   // absolute roots tools may touch
	DenyPatterns []string `json:"deny_patterns,omitempty"` // extra command deny regexps
}

// SwarmConfig bounds the orchestrator.
type SwarmConfig struct {
	MaxConcurrent int    `json:"max_concurrent,omitempty"` // simultaneous swarms (default 10)
	MaxWorkers    int    `json:"max_workers,omitempty"`    // workers per swarm (default 10)
	Timeout       string `json:"timeout,omitempty"`        // per-swarm wall clock, default "5m"
}

// TimeoutDuration parses Timeout, falling back to five minutes.
func (s SwarmConfig) TimeoutDuration() time.Duration {
	if d, err := time.ParseDuration(s.Timeout); err == nil && d > 0 {
		return d
	}
	return 5 * time.Minute
}

// GatewayConfig configures the HTTP surface.
type GatewayConfig struct {
	Host            string   `json:"host"`
	Port            int      `json:"port"`
	SharedSecret    string   `json:"-"` // env OSA_SHARED_SECRET only; bearer + HMAC signing key
	AllowedOrigins  []string `json:"allowed_origins,omitempty"`
	RateLimitRPM    int      `json:"rate_limit_rpm,omitempty"`    // per-client requests per minute (0 = disabled)
	MaxMessageChars int      `json:"max_message_chars,omitempty"` // inbound message cap (default 32000)
}

// StoreConfig locates durable state.
type StoreConfig struct {
	Dir         string `json:"dir"` // base for history/profiles; supports ~
	PostgresDSN string `json:"-"`   // env OSA_POSTGRES_DSN only; set = use Postgres history
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"` // e.g. "localhost:4318"
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
// Used by the file watcher to swap in a reloaded config.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Runtime = src.Runtime
	c.Signal = src.Signal
	c.Providers = src.Providers
	c.Budget = src.Budget
	c.Sessions = src.Sessions
	c.Tools = src.Tools
	c.Swarm = src.Swarm
	c.Gateway = src.Gateway
	c.Store = src.Store
	c.Telemetry = src.Telemetry
}
