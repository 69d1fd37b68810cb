package config

import (
	"sync"
	"time"
)

// Config is the root configuration for the StockFleet gateway.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Fleet     FleetConfig     `json:"fleet"`
	Model     ModelConfig     `json:"model,omitempty"`
	Vector    VectorConfig    `json:"vector,omitempty"`
	Workflow  WorkflowConfig  `json:"workflow,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// GatewayConfig configures the HTTP/WebSocket front door.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"` // empty = allow all
	RateLimitRPM   int      `json:"rate_limit_rpm,omitempty"`  // 0 = disabled
}

// FleetConfig carries the per-agent tunables recognized at the core boundary.
type FleetConfig struct {
	DataDir          string `json:"data_dir"`                     // per-agent sqlite files live here
	DefaultAgentType string `json:"default_agent_type,omitempty"` // orchestrator|warehouse|retail|fulfillment

	MsgMemRing   int    `json:"msg_mem_ring,omitempty"`  // in-memory message ring size (default 100)
	MsgRetention string `json:"msg_retention,omitempty"` // purge age, Go duration (default "720h")

	PingInterval string `json:"ping_interval,omitempty"` // default "10s"
	IdleMax      string `json:"idle_max,omitempty"`      // default "120s"

	CacheTTLState     string `json:"cache_ttl_state,omitempty"`     // default "30s"
	CacheTTLInventory string `json:"cache_ttl_inventory,omitempty"` // default "60s"

	ApprovalAmountThreshold int64  `json:"approval_amount_threshold,omitempty"` // default 1000
	ApprovalWait            string `json:"approval_wait,omitempty"`             // default "2s"
}

// ModelConfig configures the ModelClient binding. APIKey comes from env
// STOCKFLEET_MODEL_API_KEY only, never from the config file. An empty
// provider means the deterministic stub is used.
type ModelConfig struct {
	Provider string `json:"provider,omitempty"` // "" (stub) or "openai-compatible"
	APIBase  string `json:"api_base,omitempty"`
	APIKey   string `json:"-"`
	Model    string `json:"model,omitempty"`
	Timeout  string `json:"timeout,omitempty"` // default "30s"
}

// VectorConfig configures the VectorStore binding. An empty provider leaves
// similarity lookups disabled (they return empty, never error).
type VectorConfig struct {
	Provider    string `json:"provider,omitempty"` // "" (disabled) or "chromem"
	PersistPath string `json:"persist_path,omitempty"`
	Compress    bool   `json:"compress,omitempty"`
}

// WorkflowConfig configures the in-process workflow engine.
type WorkflowConfig struct {
	QueueSize       int    `json:"queue_size,omitempty"`       // default 64
	DispatchTimeout string `json:"dispatch_timeout,omitempty"` // default "5s"
	// Cron expression for the recurring forecast refresh job; empty disables it.
	ForecastSchedule string `json:"forecast_schedule,omitempty"`
}

// TelemetryConfig configures optional OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// Tunables is the resolved, duration-parsed view of FleetConfig. Agents read
// it per request so config hot reload takes effect without restart.
type Tunables struct {
	DefaultAgentType string
	MsgMemRing       int
	MsgRetention     time.Duration

	PingInterval time.Duration
	IdleMax      time.Duration

	CacheTTLState     time.Duration
	CacheTTLInventory time.Duration

	ApprovalAmountThreshold int64
	ApprovalWait            time.Duration
}

// Tunables resolves the fleet tunables with defaults applied.
func (c *Config) Tunables() Tunables {
	c.mu.RLock()
	defer c.mu.RUnlock()

	f := c.Fleet
	t := Tunables{
		DefaultAgentType:        "orchestrator",
		MsgMemRing:              100,
		MsgRetention:            30 * 24 * time.Hour,
		PingInterval:            10 * time.Second,
		IdleMax:                 120 * time.Second,
		CacheTTLState:           30 * time.Second,
		CacheTTLInventory:       60 * time.Second,
		ApprovalAmountThreshold: 1000,
		ApprovalWait:            2 * time.Second,
	}
	if f.DefaultAgentType != "" {
		t.DefaultAgentType = f.DefaultAgentType
	}
	if f.MsgMemRing > 0 {
		t.MsgMemRing = f.MsgMemRing
	}
	if f.ApprovalAmountThreshold > 0 {
		t.ApprovalAmountThreshold = f.ApprovalAmountThreshold
	}
	overlayDuration(&t.MsgRetention, f.MsgRetention)
	overlayDuration(&t.PingInterval, f.PingInterval)
	overlayDuration(&t.IdleMax, f.IdleMax)
	overlayDuration(&t.CacheTTLState, f.CacheTTLState)
	overlayDuration(&t.CacheTTLInventory, f.CacheTTLInventory)
	overlayDuration(&t.ApprovalWait, f.ApprovalWait)
	return t
}

func overlayDuration(dst *time.Duration, raw string) {
	if raw == "" {
		return
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		*dst = d
	}
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
// Used by the config watcher on hot reload.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Gateway = src.Gateway
	c.Fleet = src.Fleet
	c.Model = src.Model
	c.Vector = src.Vector
	c.Workflow = src.Workflow
	c.Telemetry = src.Telemetry
}

// GatewaySnapshot returns a copy of the gateway section.
func (c *Config) GatewaySnapshot() GatewayConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Gateway
}

// ModelSnapshot returns a copy of the model section.
func (c *Config) ModelSnapshot() ModelConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Model
}
