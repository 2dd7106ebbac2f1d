package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for CloudArb.
type Config struct {
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Adapters   AdaptersConfig   `yaml:"adapters"`
	Solver     SolverConfig     `yaml:"solver"`
	Arbitrage  ArbitrageConfig  `yaml:"arbitrage"`
	Forecast   ForecastConfig   `yaml:"forecast"`
	APIServer  APIServerConfig  `yaml:"apiServer"`
	Database   DatabaseConfig   `yaml:"database"`
}

type AggregatorConfig struct {
	CycleInterval    time.Duration `yaml:"cycleInterval"`    // cadence between cycles
	CycleDeadline    time.Duration `yaml:"cycleDeadline"`    // max wall-clock per cycle
	StalenessCeiling time.Duration `yaml:"stalenessCeiling"` // default max entry age before eviction
	// StalenessCeilings overrides the default per provider.
	StalenessCeilings map[string]time.Duration `yaml:"stalenessCeilings"`
	// ColdStartGrace bounds how long optimization calls wait for the first
	// successful publish before failing with PricingUnavailable.
	ColdStartGrace time.Duration `yaml:"coldStartGrace"`
	// SubscriberBuffer is the bounded generation-bus buffer per subscriber.
	SubscriberBuffer int `yaml:"subscriberBuffer"`
}

// BackoffConfig is the per-adapter retry discipline for transient failures.
type BackoffConfig struct {
	MaxAttempts  int           `yaml:"maxAttempts"`
	InitialDelay time.Duration `yaml:"initialDelay"`
	MaxDelay     time.Duration `yaml:"maxDelay"`
}

// AdapterConfig is the shared per-adapter I/O discipline. Zero values fall
// back to the adapter's own capability defaults.
type AdapterConfig struct {
	Enabled         bool          `yaml:"enabled"`
	RateLimitQPS    float64       `yaml:"rateLimitQPS"`
	MinPollInterval time.Duration `yaml:"minPollInterval"`
	Backoff         BackoffConfig `yaml:"backoff"`
}

type AWSAdapterConfig struct {
	AdapterConfig `yaml:",inline"`
	Regions       []string `yaml:"regions"`
}

type GCPAdapterConfig struct {
	AdapterConfig `yaml:",inline"`
	ProjectID     string   `yaml:"projectID"`
	Regions       []string `yaml:"regions"`
	// APIKey authenticates against the Cloud Billing Catalog API when no
	// oauth2 token source is available. Overridden by GCP_API_KEY.
	APIKey string `yaml:"apiKey"`
}

type AzureAdapterConfig struct {
	AdapterConfig `yaml:",inline"`
	Regions       []string `yaml:"regions"`
}

type BearerAdapterConfig struct {
	AdapterConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
}

type AdaptersConfig struct {
	AWS        AWSAdapterConfig    `yaml:"aws"`
	GCP        GCPAdapterConfig    `yaml:"gcp"`
	Azure      AzureAdapterConfig  `yaml:"azure"`
	LambdaLabs BearerAdapterConfig `yaml:"lambdalabs"`
	RunPod     BearerAdapterConfig `yaml:"runpod"`
}

type SolverConfig struct {
	Deadline      time.Duration `yaml:"deadline"`      // default per-request solve cap
	Gap           float64       `yaml:"gap"`           // target MILP optimality gap
	PoolSize      int           `yaml:"poolSize"`      // max concurrent solves
	BalanceLambda float64       `yaml:"balanceLambda"` // cost weight of the balanced objective
	CacheSize     int           `yaml:"cacheSize"`     // solution cache entries
}

type ArbitrageConfig struct {
	Threshold float64       `yaml:"threshold"` // min savings fraction to emit
	Cooldown  time.Duration `yaml:"cooldown"`  // per-pair suppression window
	// RegionClasses maps a region to its equivalence class. Regions absent
	// from the map fall back to the built-in same-continent classification.
	RegionClasses map[string]string `yaml:"regionClasses"`
	BufferSize    int               `yaml:"bufferSize"` // broadcast buffer per subscriber
}

type ForecastConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type APIServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

type DatabaseConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retentionDays"`
}

// DefaultConfig returns a Config with the documented defaults. Provider API
// keys come from environment variables.
func DefaultConfig() *Config {
	cfg := &Config{
		Aggregator: AggregatorConfig{
			CycleInterval:    60 * time.Second,
			CycleDeadline:    5 * time.Second,
			StalenessCeiling: 10 * time.Minute,
			ColdStartGrace:   15 * time.Second,
			SubscriberBuffer: 1,
		},
		Adapters: AdaptersConfig{
			AWS: AWSAdapterConfig{
				AdapterConfig: defaultAdapter(),
				Regions:       []string{"us-east-1", "us-west-2", "eu-west-1"},
			},
			GCP: GCPAdapterConfig{
				AdapterConfig: defaultAdapter(),
				Regions:       []string{"us-central1", "us-east1", "europe-west1"},
			},
			Azure: AzureAdapterConfig{
				AdapterConfig: defaultAdapter(),
				Regions:       []string{"eastus", "westus2", "westeurope"},
			},
			LambdaLabs: BearerAdapterConfig{AdapterConfig: defaultAdapter()},
			RunPod:     BearerAdapterConfig{AdapterConfig: defaultAdapter()},
		},
		Solver: SolverConfig{
			Deadline:      30 * time.Second,
			Gap:           0.001,
			PoolSize:      4,
			BalanceLambda: 0.5,
			CacheSize:     128,
		},
		Arbitrage: ArbitrageConfig{
			Threshold:  0.05,
			Cooldown:   5 * time.Minute,
			BufferSize: 64,
		},
		Forecast: ForecastConfig{
			Enabled: false,
			Timeout: 2 * time.Second,
		},
		APIServer: APIServerConfig{
			Enabled: true,
			Address: "0.0.0.0",
			Port:    8080,
		},
		Database: DatabaseConfig{
			Path:          "/data/cloudarb.db",
			RetentionDays: 90,
		},
	}
	cfg.applyEnvOverrides()
	return cfg
}

func defaultAdapter() AdapterConfig {
	return AdapterConfig{
		Enabled:         true,
		RateLimitQPS:    2,
		MinPollInterval: 30 * time.Second,
		Backoff: BackoffConfig{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
		},
	}
}

// LoadFromFile loads config from a YAML file, overlaying on defaults.
// Unknown keys are rejected.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides fills in credentials from environment variables. AWS uses
// the SDK's own credential chain, so only the HTTP-based adapters need keys
// here.
func (c *Config) applyEnvOverrides() {
	if c.Adapters.LambdaLabs.APIKey == "" {
		c.Adapters.LambdaLabs.APIKey = os.Getenv("LAMBDA_API_KEY")
	}
	if c.Adapters.RunPod.APIKey == "" {
		c.Adapters.RunPod.APIKey = os.Getenv("RUNPOD_API_KEY")
	}
	if c.Adapters.GCP.APIKey == "" {
		c.Adapters.GCP.APIKey = os.Getenv("GCP_API_KEY")
	}
	if c.Adapters.GCP.ProjectID == "" {
		c.Adapters.GCP.ProjectID = os.Getenv("GCP_PROJECT_ID")
	}
}

// Validate checks the config for errors.
func (c *Config) Validate() error {
	if c.Aggregator.CycleInterval <= 0 {
		return fmt.Errorf("aggregator.cycleInterval must be positive, got %v", c.Aggregator.CycleInterval)
	}
	if c.Aggregator.CycleDeadline <= 0 || c.Aggregator.CycleDeadline > c.Aggregator.CycleInterval {
		return fmt.Errorf("aggregator.cycleDeadline must be in (0, cycleInterval], got %v", c.Aggregator.CycleDeadline)
	}
	if c.Aggregator.StalenessCeiling <= 0 {
		return fmt.Errorf("aggregator.stalenessCeiling must be positive, got %v", c.Aggregator.StalenessCeiling)
	}
	if c.Solver.Gap < 0 || c.Solver.Gap >= 1 {
		return fmt.Errorf("solver.gap must be in [0, 1), got %v", c.Solver.Gap)
	}
	if c.Solver.PoolSize < 1 {
		return fmt.Errorf("solver.poolSize must be >= 1, got %d", c.Solver.PoolSize)
	}
	if c.Solver.BalanceLambda < 0 || c.Solver.BalanceLambda > 1 {
		return fmt.Errorf("solver.balanceLambda must be in [0, 1], got %v", c.Solver.BalanceLambda)
	}
	if c.Arbitrage.Threshold <= 0 || c.Arbitrage.Threshold >= 1 {
		return fmt.Errorf("arbitrage.threshold must be in (0, 1), got %v", c.Arbitrage.Threshold)
	}
	if c.Forecast.Enabled && c.Forecast.URL == "" {
		return fmt.Errorf("forecast.url is required when forecast.enabled is true")
	}
	return nil
}

// StalenessCeilingFor returns the eviction ceiling for one provider.
func (c *AggregatorConfig) StalenessCeilingFor(provider string) time.Duration {
	if d, ok := c.StalenessCeilings[provider]; ok && d > 0 {
		return d
	}
	return c.StalenessCeiling
}
