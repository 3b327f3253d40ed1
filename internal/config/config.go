// Package config loads and validates the pipeline's frozen configuration
// object: YAML file plus environment variable overrides, the way the rest
// of the stack expects (no hot reload, no setters once Load returns).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opsmail/emailpipeline/pkg/shared/errors"
)

// ServerConfig controls the health/metrics HTTP mux (component C11).
type ServerConfig struct {
	HealthPort  string `yaml:"health_port"`
	MetricsPort string `yaml:"metrics_port"`
}

// QueueCaps sets the bounded channel capacity between each pipeline stage,
// per spec.md §4.7.
type QueueCaps struct {
	P1     int `yaml:"p1"`
	Chain  int `yaml:"chain"`
	Router int `yaml:"router"`
	P2     int `yaml:"p2"`
	P3     int `yaml:"p3"`
}

// PipelineConfig controls worker pool sizing and queue capacities.
type PipelineConfig struct {
	Phase2Concurrency int       `yaml:"phase2_concurrency"`
	Phase3Concurrency int       `yaml:"phase3_concurrency"`
	QueueCaps         QueueCaps `yaml:"queue_caps"`
}

// ModelConfig selects and bounds the two LLM backends (pkg/ai/llm).
type ModelConfig struct {
	PrimaryID          string        `yaml:"primary_id"`
	CriticalID         string        `yaml:"critical_id"`
	TimeoutPrimaryMS   int           `yaml:"timeout_primary_ms"`
	TimeoutCriticalMS  int           `yaml:"timeout_critical_ms"`
	AnthropicAPIKey    string        `yaml:"anthropic_api_key"`
	BedrockRegion      string        `yaml:"bedrock_region"`
}

// TimeoutPrimary returns the Phase-2 hard timeout as a Duration.
func (m ModelConfig) TimeoutPrimary() time.Duration {
	return time.Duration(m.TimeoutPrimaryMS) * time.Millisecond
}

// TimeoutCritical returns the Phase-3 hard timeout as a Duration.
func (m ModelConfig) TimeoutCritical() time.Duration {
	return time.Duration(m.TimeoutCriticalMS) * time.Millisecond
}

// RetryConfig controls the orchestrator's exponential backoff, per
// spec.md §4.7 ("base 500ms, factor 2, jitter ±20%, max 5 attempts").
type RetryConfig struct {
	MaxAttempts  int     `yaml:"max_attempts"`
	BaseDelayMS  int     `yaml:"base_delay_ms"`
	Factor       float64 `yaml:"factor"`
	JitterFrac   float64 `yaml:"jitter_fraction"`
}

// BaseDelay returns the initial retry backoff as a Duration.
func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMS) * time.Millisecond
}

// SLAConfig defines per-priority SLA deadlines and the at-risk threshold.
type SLAConfig struct {
	PolicyHours    map[string]int `yaml:"policy_hours"`
	AtRiskFraction float64        `yaml:"at_risk_fraction"`
}

// ChainConfig controls the completeness-score threshold used by the router.
type ChainConfig struct {
	CompleteThreshold int `yaml:"complete_threshold"`
}

// MoneyConfig controls the high-value money threshold used by the router.
type MoneyConfig struct {
	HighValueThresholdMinor int64 `yaml:"high_value_threshold_minor"`
}

// RouterConfig controls the adaptive routing rules beyond money/chain.
type RouterConfig struct {
	HighValueKeywords []string `yaml:"high_value_keywords"`
	PolicyPath        string   `yaml:"policy_path"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Backend string `yaml:"backend"` // "memory" or "postgres"
	DSN     string `yaml:"dsn"`
}

// EventBusConfig configures the Redis-backed event bus.
type EventBusConfig struct {
	RedisAddr string `yaml:"redis_addr"`
}

// LoggingConfig controls logrus output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the frozen, fully-resolved configuration object passed down
// through internal/runtime.Runtime. Nothing downstream mutates it.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Model    ModelConfig    `yaml:"model"`
	Retry    RetryConfig    `yaml:"retry"`
	SLA      SLAConfig      `yaml:"sla"`
	Chain    ChainConfig    `yaml:"chain"`
	Money    MoneyConfig    `yaml:"money"`
	Router   RouterConfig   `yaml:"router"`
	Storage  StorageConfig  `yaml:"storage"`
	EventBus EventBusConfig `yaml:"eventbus"`
	Logging  LoggingConfig  `yaml:"logging"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{HealthPort: "8080", MetricsPort: "9090"},
		Pipeline: PipelineConfig{
			Phase2Concurrency: 3,
			Phase3Concurrency: 1,
			QueueCaps:         QueueCaps{P1: 1024, Chain: 512, Router: 256, P2: 256, P3: 64},
		},
		Model: ModelConfig{
			PrimaryID:         "claude-3-5-sonnet-20241022",
			CriticalID:        "anthropic.claude-3-opus-20240229-v1:0",
			TimeoutPrimaryMS:  45000,
			TimeoutCriticalMS: 180000,
		},
		Retry: RetryConfig{MaxAttempts: 5, BaseDelayMS: 500, Factor: 2.0, JitterFrac: 0.2},
		SLA: SLAConfig{
			PolicyHours:    map[string]int{"critical": 4, "high": 24, "medium": 72, "low": 168},
			AtRiskFraction: 0.8,
		},
		Chain:    ChainConfig{CompleteThreshold: 70},
		Money:    MoneyConfig{HighValueThresholdMinor: 5000000},
		Router:   RouterConfig{HighValueKeywords: []string{"competitor", "expedite", "urgent", "escalate"}},
		Storage:  StorageConfig{Backend: "memory"},
		EventBus: EventBusConfig{RedisAddr: "localhost:6379"},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads path as YAML over a default configuration, applies environment
// variable overrides, validates the result, and returns the frozen config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromEnv applies a small set of environment overrides useful for
// container deployments, mirroring fields already present in the YAML
// schema. Unset variables leave cfg untouched.
func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("HEALTH_PORT"); v != "" {
		cfg.Server.HealthPort = v
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		cfg.Server.MetricsPort = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Model.AnthropicAPIKey = v
	}
	if v := os.Getenv("BEDROCK_REGION"); v != "" {
		cfg.Model.BedrockRegion = v
	}
	if v := os.Getenv("EVENTBUS_REDIS_ADDR"); v != "" {
		cfg.EventBus.RedisAddr = v
	}
	if v := os.Getenv("PHASE2_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PHASE2_CONCURRENCY: %w", err)
		}
		cfg.Pipeline.Phase2Concurrency = n
	}
	if v := os.Getenv("PHASE3_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PHASE3_CONCURRENCY: %w", err)
		}
		cfg.Pipeline.Phase3Concurrency = n
	}
	return nil
}

// validate checks invariants the rest of the pipeline relies on, returning
// a ConfigurationError naming the offending setting.
func validate(cfg *Config) error {
	if cfg.Pipeline.Phase2Concurrency <= 0 {
		return errors.ConfigurationError("pipeline.phase2_concurrency", "must be greater than 0")
	}
	if cfg.Pipeline.Phase3Concurrency <= 0 {
		return errors.ConfigurationError("pipeline.phase3_concurrency", "must be greater than 0")
	}
	for name, cap := range map[string]int{
		"p1": cfg.Pipeline.QueueCaps.P1, "chain": cfg.Pipeline.QueueCaps.Chain,
		"router": cfg.Pipeline.QueueCaps.Router, "p2": cfg.Pipeline.QueueCaps.P2,
		"p3": cfg.Pipeline.QueueCaps.P3,
	} {
		if cap <= 0 {
			return errors.ConfigurationError("pipeline.queue_caps."+name, "must be greater than 0")
		}
	}
	if cfg.Model.PrimaryID == "" {
		return errors.ConfigurationError("model.primary_id", "is required")
	}
	if cfg.Model.CriticalID == "" {
		return errors.ConfigurationError("model.critical_id", "is required")
	}
	if cfg.Model.TimeoutPrimaryMS <= 0 {
		return errors.ConfigurationError("model.timeout_primary_ms", "must be greater than 0")
	}
	if cfg.Model.TimeoutCriticalMS <= 0 {
		return errors.ConfigurationError("model.timeout_critical_ms", "must be greater than 0")
	}
	if cfg.Retry.MaxAttempts <= 0 {
		return errors.ConfigurationError("retry.max_attempts", "must be greater than 0")
	}
	for _, priority := range []string{"critical", "high", "medium", "low"} {
		if hours, ok := cfg.SLA.PolicyHours[priority]; !ok || hours <= 0 {
			return errors.ConfigurationError("sla.policy_hours."+priority, "must be a positive number of hours")
		}
	}
	if cfg.SLA.AtRiskFraction <= 0 || cfg.SLA.AtRiskFraction >= 1 {
		return errors.ConfigurationError("sla.at_risk_fraction", "must be between 0.0 and 1.0")
	}
	if cfg.Chain.CompleteThreshold < 0 || cfg.Chain.CompleteThreshold > 100 {
		return errors.ConfigurationError("chain.complete_threshold", "must be between 0 and 100")
	}
	if cfg.Money.HighValueThresholdMinor <= 0 {
		return errors.ConfigurationError("money.high_value_threshold_minor", "must be greater than 0")
	}
	switch cfg.Storage.Backend {
	case "memory", "postgres":
	default:
		return errors.ConfigurationError("storage.backend", "unsupported storage backend "+cfg.Storage.Backend)
	}
	if cfg.Storage.Backend == "postgres" && cfg.Storage.DSN == "" {
		return errors.ConfigurationError("storage.dsn", "is required when storage.backend is postgres")
	}
	return nil
}
