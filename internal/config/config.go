// Package config loads and validates hivemind runtime configuration from
// .hivemind/config.yaml. A configuration error is fatal: the runtime
// refuses to start on invalid values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all hivemind configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	LLM           LLMConfig           `yaml:"llm"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Store         StoreConfig         `yaml:"store"`
	Bus           BusConfig           `yaml:"bus"`
	Agents        AgentsConfig        `yaml:"agents"`
	Orchestrator  OrchestratorConfig  `yaml:"orchestrator"`
	Consolidation ConsolidationConfig `yaml:"consolidation"`
	Predictor     PredictorConfig     `yaml:"predictor"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// LLMConfig configures the text->text provider.
type LLMConfig struct {
	Provider  string `yaml:"provider"` // genai
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
	// Transient errors are retried with exponential backoff up to MaxRetries.
	MaxRetries int `yaml:"max_retries"`
}

// EmbeddingConfig configures the text->vector provider.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // ollama
	Endpoint   string `yaml:"endpoint"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// BusConfig configures the message bus.
type BusConfig struct {
	MaxQueueSize int `yaml:"max_queue_size"` // default 1000
	LogSize      int `yaml:"log_size"`       // recent-message ring, default 10000
}

// AgentsConfig configures worker behavior and health policy.
type AgentsConfig struct {
	HeartbeatIntervalSeconds   int `yaml:"heartbeat_interval_seconds"`    // default 30
	PollIntervalSeconds        int `yaml:"poll_interval_seconds"`         // default 5
	StaleThresholdSeconds      int `yaml:"stale_threshold_seconds"`       // default 60
	StuckThresholdSeconds      int `yaml:"stuck_threshold_seconds"`       // default 300
	HealthCheckIntervalSeconds int `yaml:"health_check_interval_seconds"` // default 10
	MaxRetries                 int `yaml:"max_retries"`                   // default 3
	MaxRespawns                int `yaml:"max_respawns"`                  // default 3
	RespawnBackoffSeconds      int `yaml:"respawn_backoff_seconds"`       // default 10
}

// OrchestratorConfig configures orchestration runs.
type OrchestratorConfig struct {
	MaxConcurrentAgents int `yaml:"max_concurrent_agents"` // default 4
	ContextTokenLimit   int `yaml:"context_token_limit"`   // default 200000
	// Offload triggers when the tracked working set exceeds this fraction
	// of ContextTokenLimit.
	OffloadThreshold float64 `yaml:"offload_threshold"` // default 0.8
}

// ConsolidationConfig configures the episodic->semantic pipeline.
type ConsolidationConfig struct {
	WindowHours        int     `yaml:"window_hours"`         // default 24
	MinConfidence      float64 `yaml:"min_confidence"`       // default 0.7
	SurpriseThreshold  float64 `yaml:"surprise_threshold"`   // default 3.5
	MaxTimeGapMinutes  int     `yaml:"max_time_gap_minutes"` // default 60
	ClusterStrategy    string  `yaml:"cluster_strategy"`     // context | surprise
	MaxPatternsPerCall int     `yaml:"max_patterns_per_call"`
	// Second-model validation of System 2 output; off unless a model is set.
	ValidationModel string `yaml:"validation_model"`
}

// PredictorConfig configures the forecasting subsystem.
type PredictorConfig struct {
	SaturationThreshold float64 `yaml:"saturation_threshold"` // default 0.85
	CriticalThreshold   float64 `yaml:"critical_threshold"`   // default 0.95
	AlertHorizonHours   int     `yaml:"alert_horizon_hours"`  // default 4
	PatternFloor        float64 `yaml:"pattern_floor"`        // default 0.6
}

// LoggingConfig mirrors the logging package configuration.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
}

// Default returns the configuration with all documented defaults applied.
func Default() *Config {
	return &Config{
		Name:    "hivemind",
		Version: "0.1.0",
		LLM: LLMConfig{
			Provider:   "genai",
			Model:      "gemini-2.0-flash",
			MaxTokens:  4096,
			MaxRetries: 3,
		},
		Embedding: EmbeddingConfig{
			Provider:   "ollama",
			Endpoint:   "http://localhost:11434",
			Model:      "embeddinggemma",
			Dimensions: 768,
		},
		Store: StoreConfig{
			DatabasePath: filepath.Join(".hivemind", "hivemind.db"),
		},
		Bus: BusConfig{
			MaxQueueSize: 1000,
			LogSize:      10000,
		},
		Agents: AgentsConfig{
			HeartbeatIntervalSeconds:   30,
			PollIntervalSeconds:        5,
			StaleThresholdSeconds:      60,
			StuckThresholdSeconds:      300,
			HealthCheckIntervalSeconds: 10,
			MaxRetries:                 3,
			MaxRespawns:                3,
			RespawnBackoffSeconds:      10,
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrentAgents: 4,
			ContextTokenLimit:   200000,
			OffloadThreshold:    0.8,
		},
		Consolidation: ConsolidationConfig{
			WindowHours:        24,
			MinConfidence:      0.7,
			SurpriseThreshold:  3.5,
			MaxTimeGapMinutes:  60,
			ClusterStrategy:    "context",
			MaxPatternsPerCall: 5,
		},
		Predictor: PredictorConfig{
			SaturationThreshold: 0.85,
			CriticalThreshold:   0.95,
			AlertHorizonHours:   4,
			PatternFloor:        0.6,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Path returns the config file location for a workspace.
func Path(workspace string) string {
	return filepath.Join(workspace, ".hivemind", "config.yaml")
}

// Load reads the config file for a workspace, applies defaults for unset
// values, and validates. A missing file yields the defaults.
func Load(workspace string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()

	// Secrets come from the environment, never from the file on disk.
	if key := os.Getenv("HIVEMIND_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero values with documented defaults so a partial
// YAML file behaves predictably.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Bus.MaxQueueSize == 0 {
		c.Bus.MaxQueueSize = d.Bus.MaxQueueSize
	}
	if c.Bus.LogSize == 0 {
		c.Bus.LogSize = d.Bus.LogSize
	}
	if c.Agents.HeartbeatIntervalSeconds == 0 {
		c.Agents.HeartbeatIntervalSeconds = d.Agents.HeartbeatIntervalSeconds
	}
	if c.Agents.PollIntervalSeconds == 0 {
		c.Agents.PollIntervalSeconds = d.Agents.PollIntervalSeconds
	}
	if c.Agents.StaleThresholdSeconds == 0 {
		c.Agents.StaleThresholdSeconds = d.Agents.StaleThresholdSeconds
	}
	if c.Agents.StuckThresholdSeconds == 0 {
		c.Agents.StuckThresholdSeconds = d.Agents.StuckThresholdSeconds
	}
	if c.Agents.HealthCheckIntervalSeconds == 0 {
		c.Agents.HealthCheckIntervalSeconds = d.Agents.HealthCheckIntervalSeconds
	}
	if c.Agents.MaxRetries == 0 {
		c.Agents.MaxRetries = d.Agents.MaxRetries
	}
	if c.Agents.MaxRespawns == 0 {
		c.Agents.MaxRespawns = d.Agents.MaxRespawns
	}
	if c.Agents.RespawnBackoffSeconds == 0 {
		c.Agents.RespawnBackoffSeconds = d.Agents.RespawnBackoffSeconds
	}
	if c.Orchestrator.MaxConcurrentAgents == 0 {
		c.Orchestrator.MaxConcurrentAgents = d.Orchestrator.MaxConcurrentAgents
	}
	if c.Orchestrator.ContextTokenLimit == 0 {
		c.Orchestrator.ContextTokenLimit = d.Orchestrator.ContextTokenLimit
	}
	if c.Orchestrator.OffloadThreshold == 0 {
		c.Orchestrator.OffloadThreshold = d.Orchestrator.OffloadThreshold
	}
	if c.Consolidation.WindowHours == 0 {
		c.Consolidation.WindowHours = d.Consolidation.WindowHours
	}
	if c.Consolidation.MinConfidence == 0 {
		c.Consolidation.MinConfidence = d.Consolidation.MinConfidence
	}
	if c.Consolidation.SurpriseThreshold == 0 {
		c.Consolidation.SurpriseThreshold = d.Consolidation.SurpriseThreshold
	}
	if c.Consolidation.MaxTimeGapMinutes == 0 {
		c.Consolidation.MaxTimeGapMinutes = d.Consolidation.MaxTimeGapMinutes
	}
	if c.Consolidation.ClusterStrategy == "" {
		c.Consolidation.ClusterStrategy = d.Consolidation.ClusterStrategy
	}
	if c.Consolidation.MaxPatternsPerCall == 0 {
		c.Consolidation.MaxPatternsPerCall = d.Consolidation.MaxPatternsPerCall
	}
	if c.Predictor.SaturationThreshold == 0 {
		c.Predictor.SaturationThreshold = d.Predictor.SaturationThreshold
	}
	if c.Predictor.CriticalThreshold == 0 {
		c.Predictor.CriticalThreshold = d.Predictor.CriticalThreshold
	}
	if c.Predictor.AlertHorizonHours == 0 {
		c.Predictor.AlertHorizonHours = d.Predictor.AlertHorizonHours
	}
	if c.Predictor.PatternFloor == 0 {
		c.Predictor.PatternFloor = d.Predictor.PatternFloor
	}
	if c.Store.DatabasePath == "" {
		c.Store.DatabasePath = d.Store.DatabasePath
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = d.LLM.Provider
	}
	if c.LLM.Model == "" {
		c.LLM.Model = d.LLM.Model
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = d.LLM.MaxTokens
	}
	if c.LLM.MaxRetries == 0 {
		c.LLM.MaxRetries = d.LLM.MaxRetries
	}
	if c.Embedding.Provider == "" {
		c.Embedding = d.Embedding
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
}

// Validate checks every tunable for sanity. Any error here aborts startup.
func (c *Config) Validate() error {
	if c.Bus.MaxQueueSize < 1 {
		return fmt.Errorf("config: bus.max_queue_size must be >= 1, got %d", c.Bus.MaxQueueSize)
	}
	if c.Agents.HeartbeatIntervalSeconds < 1 {
		return fmt.Errorf("config: agents.heartbeat_interval_seconds must be >= 1")
	}
	if c.Agents.PollIntervalSeconds < 1 {
		return fmt.Errorf("config: agents.poll_interval_seconds must be >= 1")
	}
	if c.Agents.StaleThresholdSeconds <= c.Agents.HeartbeatIntervalSeconds {
		return fmt.Errorf("config: agents.stale_threshold_seconds (%d) must exceed heartbeat interval (%d)",
			c.Agents.StaleThresholdSeconds, c.Agents.HeartbeatIntervalSeconds)
	}
	if c.Orchestrator.MaxConcurrentAgents < 1 {
		return fmt.Errorf("config: orchestrator.max_concurrent_agents must be >= 1")
	}
	if c.Orchestrator.OffloadThreshold <= 0 || c.Orchestrator.OffloadThreshold > 1 {
		return fmt.Errorf("config: orchestrator.offload_threshold must be in (0,1], got %v", c.Orchestrator.OffloadThreshold)
	}
	if c.Consolidation.MinConfidence < 0 || c.Consolidation.MinConfidence > 1 {
		return fmt.Errorf("config: consolidation.min_confidence must be in [0,1], got %v", c.Consolidation.MinConfidence)
	}
	switch c.Consolidation.ClusterStrategy {
	case "context", "surprise":
	default:
		return fmt.Errorf("config: consolidation.cluster_strategy must be context or surprise, got %q", c.Consolidation.ClusterStrategy)
	}
	if c.Predictor.SaturationThreshold <= 0 || c.Predictor.SaturationThreshold >= c.Predictor.CriticalThreshold {
		return fmt.Errorf("config: predictor thresholds must satisfy 0 < saturation (%v) < critical (%v)",
			c.Predictor.SaturationThreshold, c.Predictor.CriticalThreshold)
	}
	if c.Predictor.CriticalThreshold > 1 {
		return fmt.Errorf("config: predictor.critical_threshold must be <= 1, got %v", c.Predictor.CriticalThreshold)
	}
	return nil
}

// Save writes the config back to the workspace.
func (c *Config) Save(workspace string) error {
	dir := filepath.Join(workspace, ".hivemind")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(Path(workspace), data, 0644)
}
