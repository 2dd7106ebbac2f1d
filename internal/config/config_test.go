package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Aggregator.CycleInterval != 60*time.Second {
		t.Errorf("default cycle interval = %v, want 60s", cfg.Aggregator.CycleInterval)
	}
	if cfg.Solver.PoolSize != 4 {
		t.Errorf("default pool size = %d, want 4", cfg.Solver.PoolSize)
	}
	if cfg.Arbitrage.Threshold != 0.05 {
		t.Errorf("default arbitrage threshold = %v, want 0.05", cfg.Arbitrage.Threshold)
	}
	if !cfg.Adapters.AWS.Enabled {
		t.Errorf("aws adapter should be enabled by default")
	}
}

func TestLoadFromFile(t *testing.T) {
	yaml := `
aggregator:
  cycleInterval: 30s
  cycleDeadline: 3s
solver:
  deadline: 10s
  gap: 0.01
arbitrage:
  threshold: 0.1
  cooldown: 2m
adapters:
  runpod:
    enabled: false
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Aggregator.CycleInterval != 30*time.Second {
		t.Errorf("cycleInterval = %v, want 30s", cfg.Aggregator.CycleInterval)
	}
	if cfg.Solver.Gap != 0.01 {
		t.Errorf("gap = %v, want 0.01", cfg.Solver.Gap)
	}
	if cfg.Arbitrage.Cooldown != 2*time.Minute {
		t.Errorf("cooldown = %v, want 2m", cfg.Arbitrage.Cooldown)
	}
	if cfg.Adapters.RunPod.Enabled {
		t.Errorf("runpod should be disabled by the file")
	}
	// Fields the file does not set keep their defaults.
	if cfg.Solver.PoolSize != 4 {
		t.Errorf("poolSize = %d, want default 4", cfg.Solver.PoolSize)
	}
}

func TestLoadFromFileUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("aggregatr:\n  cycleInterval: 30s\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Errorf("misspelled key should be rejected")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero cycle interval", func(c *Config) { c.Aggregator.CycleInterval = 0 }},
		{"deadline over interval", func(c *Config) { c.Aggregator.CycleDeadline = 2 * c.Aggregator.CycleInterval }},
		{"negative gap", func(c *Config) { c.Solver.Gap = -0.1 }},
		{"zero pool", func(c *Config) { c.Solver.PoolSize = 0 }},
		{"lambda over one", func(c *Config) { c.Solver.BalanceLambda = 1.5 }},
		{"threshold one", func(c *Config) { c.Arbitrage.Threshold = 1 }},
		{"forecast without url", func(c *Config) { c.Forecast.Enabled = true; c.Forecast.URL = "" }},
	}
	for _, c := range cases {
		cfg := DefaultConfig()
		c.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: Validate() should fail", c.name)
		}
	}
}

func TestStalenessCeilingFor(t *testing.T) {
	cfg := AggregatorConfig{
		StalenessCeiling:  10 * time.Minute,
		StalenessCeilings: map[string]time.Duration{"runpod": 20 * time.Minute},
	}
	if got := cfg.StalenessCeilingFor("runpod"); got != 20*time.Minute {
		t.Errorf("runpod ceiling = %v, want 20m", got)
	}
	if got := cfg.StalenessCeilingFor("aws"); got != 10*time.Minute {
		t.Errorf("aws ceiling = %v, want default 10m", got)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LAMBDA_API_KEY", "ll-key")
	t.Setenv("RUNPOD_API_KEY", "rp-key")
	cfg := DefaultConfig()
	if cfg.Adapters.LambdaLabs.APIKey != "ll-key" {
		t.Errorf("lambda key = %q, want env value", cfg.Adapters.LambdaLabs.APIKey)
	}
	if cfg.Adapters.RunPod.APIKey != "rp-key" {
		t.Errorf("runpod key = %q, want env value", cfg.Adapters.RunPod.APIKey)
	}
}
