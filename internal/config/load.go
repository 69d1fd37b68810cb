package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:         "0.0.0.0",
			Port:         18980,
			RateLimitRPM: 0,
		},
		Fleet: FleetConfig{
			DataDir:          "~/.stockfleet/data",
			DefaultAgentType: "orchestrator",
		},
		Workflow: WorkflowConfig{
			QueueSize: 64,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error; defaults apply.
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
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	envStr("STOCKFLEET_HOST", &c.Gateway.Host)
	envInt("STOCKFLEET_PORT", &c.Gateway.Port)
	envStr("STOCKFLEET_DATA_DIR", &c.Fleet.DataDir)
	envStr("STOCKFLEET_DEFAULT_AGENT_TYPE", &c.Fleet.DefaultAgentType)
	envStr("STOCKFLEET_MODEL_PROVIDER", &c.Model.Provider)
	envStr("STOCKFLEET_MODEL_API_BASE", &c.Model.APIBase)
	envStr("STOCKFLEET_MODEL", &c.Model.Model)

	// Secret: only ever from env.
	envStr("STOCKFLEET_MODEL_API_KEY", &c.Model.APIKey)

	if v := os.Getenv("STOCKFLEET_ALLOWED_ORIGINS"); v != "" {
		parts := strings.Split(v, ",")
		origins := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				origins = append(origins, p)
			}
		}
		c.Gateway.AllowedOrigins = origins
	}
}

// ExpandHome expands a leading "~/" to the user home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
