// Package config provides configuration loading for the remediation
// engine. Policies and engine bounds are loaded once at process start;
// reload requires a restart.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kubeheal/remediator/internal/incident"
	"github.com/kubeheal/remediator/internal/policy"
)

// Config holds all engine configuration.
type Config struct {
	Engine   EngineConfig   `yaml:"engine"`
	History  HistoryConfig  `yaml:"history"`
	Server   ServerConfig   `yaml:"server"`
	Audit    AuditConfig    `yaml:"audit"`
	Policies []PolicyConfig `yaml:"policies"`
}

// EngineConfig bounds the execution pipeline.
type EngineConfig struct {
	MaxAttempts           int `yaml:"maxAttempts"`
	RetryBackoffMillis    int `yaml:"retryBackoffMillis"`
	AttemptTimeoutSeconds int `yaml:"attemptTimeoutSeconds"`
	WorkerIdleSeconds     int `yaml:"workerIdleSeconds"`
}

// HistoryConfig configures the durable action history.
type HistoryConfig struct {
	Path                 string `yaml:"path"`
	RetentionHours       int    `yaml:"retentionHours"`
	PruneIntervalMinutes int    `yaml:"pruneIntervalMinutes"`
}

// ServerConfig configures the HTTP surfaces.
type ServerConfig struct {
	ListenAddress  string `yaml:"listenAddress"`
	MetricsAddress string `yaml:"metricsAddress"`
}

// AuditConfig configures signed remediation manifests. An empty secret key
// disables manifest generation.
type AuditConfig struct {
	SecretKey string `yaml:"secretKey"`
	ClusterID string `yaml:"clusterId"`
}

// PolicyConfig is one declarative remediation rule as written in YAML.
type PolicyConfig struct {
	IncidentType        string  `yaml:"incidentType"`
	Action              string  `yaml:"action"`
	Multiplier          float64 `yaml:"multiplier"`
	Increment           *int64  `yaml:"increment"`
	MaxValue            int64   `yaml:"maxValue"`
	CooldownSeconds     int     `yaml:"cooldownSeconds"`
	MaxActionsPerWindow int     `yaml:"maxActionsPerWindow"`
	WindowSeconds       int     `yaml:"windowSeconds"`
	Guard               string  `yaml:"guard"`
}

// actionKinds maps config action names to action kinds.
var actionKinds = map[string]policy.ActionKind{
	"patch":     policy.KindPatchResourceSpec,
	"terminate": policy.KindTerminateInstance,
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate checks required fields and applies defaults for optional ones.
func (c *Config) Validate() error {
	if c.Engine.MaxAttempts == 0 {
		c.Engine.MaxAttempts = 3
	}
	if c.Engine.MaxAttempts < 1 || c.Engine.MaxAttempts > 10 {
		return fmt.Errorf("engine.maxAttempts must be between 1 and 10")
	}
	if c.Engine.RetryBackoffMillis == 0 {
		c.Engine.RetryBackoffMillis = 500
	}
	if c.Engine.AttemptTimeoutSeconds == 0 {
		c.Engine.AttemptTimeoutSeconds = 10
	}
	if c.Engine.WorkerIdleSeconds == 0 {
		c.Engine.WorkerIdleSeconds = 120
	}

	if c.History.Path == "" {
		return fmt.Errorf("history.path is required")
	}
	if c.History.RetentionHours == 0 {
		c.History.RetentionHours = 720
	}
	if c.History.PruneIntervalMinutes == 0 {
		c.History.PruneIntervalMinutes = 60
	}

	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = ":8080"
	}
	if c.Server.MetricsAddress == "" {
		c.Server.MetricsAddress = ":9090"
	}

	if len(c.Policies) == 0 {
		return fmt.Errorf("at least one policy is required")
	}
	for i, p := range c.Policies {
		if p.IncidentType == "" {
			return fmt.Errorf("policies[%d].incidentType is required", i)
		}
		if _, ok := actionKinds[p.Action]; !ok {
			return fmt.Errorf("policies[%d].action must be one of patch, terminate", i)
		}
	}

	return nil
}

// PolicyTable compiles the configured policies into the engine's lookup
// table. Guard expression errors surface here, at load time.
func (c *Config) PolicyTable() (*policy.Table, error) {
	policies := make([]policy.Policy, 0, len(c.Policies))
	for _, p := range c.Policies {
		policies = append(policies, policy.Policy{
			IncidentType:        incident.Type(p.IncidentType),
			Action:              actionKinds[p.Action],
			Multiplier:          p.Multiplier,
			Increment:           p.Increment,
			MaxValue:            p.MaxValue,
			Cooldown:            time.Duration(p.CooldownSeconds) * time.Second,
			MaxActionsPerWindow: p.MaxActionsPerWindow,
			Window:              time.Duration(p.WindowSeconds) * time.Second,
			Guard:               p.Guard,
		})
	}
	return policy.NewTable(policies)
}

// RetryBackoff returns the retry backoff as a duration.
func (c *EngineConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMillis) * time.Millisecond
}

// AttemptTimeout returns the per-attempt timeout as a duration.
func (c *EngineConfig) AttemptTimeout() time.Duration {
	return time.Duration(c.AttemptTimeoutSeconds) * time.Second
}

// WorkerIdleTimeout returns the worker idle teardown delay as a duration.
func (c *EngineConfig) WorkerIdleTimeout() time.Duration {
	return time.Duration(c.WorkerIdleSeconds) * time.Second
}

// Retention returns the history retention window as a duration.
func (c *HistoryConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// PruneInterval returns the prune cadence as a duration.
func (c *HistoryConfig) PruneInterval() time.Duration {
	return time.Duration(c.PruneIntervalMinutes) * time.Minute
}
