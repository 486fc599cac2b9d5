package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kubeheal/remediator/internal/incident"
	"github.com/kubeheal/remediator/internal/policy"
)

func validConfig() *Config {
	return &Config{
		History: HistoryConfig{Path: "/var/lib/remediator/history"},
		Policies: []PolicyConfig{
			{IncidentType: "OOMKilled", Action: "patch", Multiplier: 2.5, MaxValue: 1024, CooldownSeconds: 300},
		},
	}
}

func TestValidate_AppliesDefaults(t *testing.T) {
	cfg := validConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}

	if cfg.Engine.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want default 3", cfg.Engine.MaxAttempts)
	}
	if cfg.Engine.RetryBackoff() != 500*time.Millisecond {
		t.Errorf("RetryBackoff() = %v, want 500ms", cfg.Engine.RetryBackoff())
	}
	if cfg.Engine.AttemptTimeout() != 10*time.Second {
		t.Errorf("AttemptTimeout() = %v, want 10s", cfg.Engine.AttemptTimeout())
	}
	if cfg.Engine.WorkerIdleTimeout() != 2*time.Minute {
		t.Errorf("WorkerIdleTimeout() = %v, want 2m", cfg.Engine.WorkerIdleTimeout())
	}
	if cfg.Server.ListenAddress != ":8080" || cfg.Server.MetricsAddress != ":9090" {
		t.Errorf("server defaults = %q/%q", cfg.Server.ListenAddress, cfg.Server.MetricsAddress)
	}
	if cfg.History.Retention() != 720*time.Hour {
		t.Errorf("Retention() = %v, want 720h", cfg.History.Retention())
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing history path",
			mutate:  func(c *Config) { c.History.Path = "" },
			wantErr: "history.path",
		},
		{
			name:    "no policies",
			mutate:  func(c *Config) { c.Policies = nil },
			wantErr: "at least one policy",
		},
		{
			name:    "policy without incident type",
			mutate:  func(c *Config) { c.Policies[0].IncidentType = "" },
			wantErr: "incidentType",
		},
		{
			name:    "unknown action name",
			mutate:  func(c *Config) { c.Policies[0].Action = "reboot" },
			wantErr: "must be one of",
		},
		{
			name:    "scale action is not accepted",
			mutate:  func(c *Config) { c.Policies[0].Action = "scale" },
			wantErr: "must be one of",
		},
		{
			name:    "excessive retry attempts",
			mutate:  func(c *Config) { c.Engine.MaxAttempts = 50 },
			wantErr: "maxAttempts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")

	content := `
engine:
  maxAttempts: 5
history:
  path: /data/history
  retentionHours: 168
server:
  listenAddress: ":8181"
policies:
  - incidentType: OOMKilled
    action: patch
    multiplier: 2.5
    maxValue: 1024
    cooldownSeconds: 300
    maxActionsPerWindow: 3
    windowSeconds: 3600
  - incidentType: CrashLoop
    action: terminate
    cooldownSeconds: 600
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Engine.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.Engine.MaxAttempts)
	}
	if cfg.Server.ListenAddress != ":8181" {
		t.Errorf("ListenAddress = %q, want :8181", cfg.Server.ListenAddress)
	}
	if len(cfg.Policies) != 2 {
		t.Fatalf("got %d policies, want 2", len(cfg.Policies))
	}

	table, err := cfg.PolicyTable()
	if err != nil {
		t.Fatalf("PolicyTable() error: %v", err)
	}
	pol, ok := table.Lookup(incident.TypeOOMKilled)
	if !ok {
		t.Fatal("OOMKilled policy missing from table")
	}
	if pol.Action != policy.KindPatchResourceSpec {
		t.Errorf("Action = %q, want PatchResourceSpec", pol.Action)
	}
	if pol.Cooldown != 5*time.Minute {
		t.Errorf("Cooldown = %v, want 5m", pol.Cooldown)
	}
	if pol.Window != time.Hour {
		t.Errorf("Window = %v, want 1h", pol.Window)
	}
}

func TestLoad_Failures(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
			t.Error("expected an error for a missing file")
		}
	})

	t.Run("malformed yaml", func(t *testing.T) {
		cfgPath := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(cfgPath, []byte("engine: ["), 0o644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
		if _, err := Load(cfgPath); err == nil {
			t.Error("expected a parse error")
		}
	})

	t.Run("bad guard surfaces at load", func(t *testing.T) {
		cfg := validConfig()
		cfg.Policies[0].Guard = "currentValue <"
		if err := cfg.Validate(); err != nil {
			t.Fatalf("Validate() error: %v", err)
		}
		if _, err := cfg.PolicyTable(); err == nil {
			t.Error("expected a guard compilation error")
		}
	})
}
