// Package config provides configuration loading and management for Gauntlet.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gauntletlabs/gauntlet/difficulty"
	"github.com/gauntletlabs/gauntlet/engine"
	"github.com/gauntletlabs/gauntlet/evaluate"
	"github.com/gauntletlabs/gauntlet/generation"
	"github.com/gauntletlabs/gauntlet/ratelimit"
)

// Config represents the complete Gauntlet configuration.
type Config struct {
	Difficulty difficulty.Rules      `yaml:"difficulty"`
	Scoring    evaluate.Config       `yaml:"scoring"`
	RateLimits ratelimit.Limits      `yaml:"rate_limits"`
	Leveling   engine.LevelingConfig `yaml:"leveling"`
	Generation GenerationConfig      `yaml:"generation"`
	Scenarios  ScenarioConfig        `yaml:"scenarios"`
	Storage    StorageConfig         `yaml:"storage"`
	NATS       NATSConfig            `yaml:"nats"`
	Metrics    MetricsConfig         `yaml:"metrics"`
	Engine     EngineConfig          `yaml:"engine"`
}

// GenerationConfig configures the external generation client.
type GenerationConfig struct {
	// Endpoints is the fallback chain, primary first.
	Endpoints []generation.Endpoint `yaml:"endpoints"`
	// Timeout is the maximum time to wait for one generation call.
	Timeout time.Duration `yaml:"timeout"`
}

// ScenarioConfig configures scenario sourcing.
type ScenarioConfig struct {
	// Source selects the provider: "template" or "llm".
	Source string `yaml:"source"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend"`
	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string `yaml:"sqlite_path"`
}

// NATSConfig configures the cycle event publisher.
type NATSConfig struct {
	// URL is the NATS server URL (empty = events disabled).
	URL string `yaml:"url"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the metrics HTTP address (empty = metrics disabled).
	Listen string `yaml:"listen"`
}

// EngineConfig configures the evaluation loop.
type EngineConfig struct {
	// Interval is the pause between roster passes.
	Interval time.Duration `yaml:"interval"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Difficulty: difficulty.DefaultRules(),
		Scoring:    evaluate.DefaultConfig(),
		RateLimits: ratelimit.DefaultLimits(),
		Leveling:   engine.DefaultLevelingConfig(),
		Generation: GenerationConfig{
			Endpoints: []generation.Endpoint{
				{Name: "local", Provider: "ollama", Model: "qwen2.5:32b", URL: "http://localhost:11434/v1"},
			},
			Timeout: 3 * time.Minute,
		},
		Scenarios: ScenarioConfig{
			Source: "template",
		},
		Storage: StorageConfig{
			Backend:    "memory",
			SQLitePath: "gauntlet.db",
		},
		NATS:    NATSConfig{URL: ""},
		Metrics: MetricsConfig{Listen: ""},
		Engine:  EngineConfig{Interval: 5 * time.Minute},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Difficulty.Validate(); err != nil {
		return fmt.Errorf("difficulty: %w", err)
	}
	if err := c.Scoring.Validate(); err != nil {
		return fmt.Errorf("scoring: %w", err)
	}
	if err := c.RateLimits.Validate(); err != nil {
		return fmt.Errorf("rate_limits: %w", err)
	}
	if len(c.Generation.Endpoints) == 0 {
		return fmt.Errorf("generation.endpoints must not be empty")
	}
	for _, ep := range c.Generation.Endpoints {
		if err := ep.Validate(); err != nil {
			return fmt.Errorf("generation: %w", err)
		}
	}
	switch c.Scenarios.Source {
	case "template", "llm":
	default:
		return fmt.Errorf("scenarios.source must be \"template\" or \"llm\", got %q", c.Scenarios.Source)
	}
	switch c.Storage.Backend {
	case "", "memory", "sqlite":
	default:
		return fmt.Errorf("storage.backend must be \"memory\" or \"sqlite\", got %q", c.Storage.Backend)
	}
	if c.Engine.Interval <= 0 {
		return fmt.Errorf("engine.interval must be positive")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for
// non-zero values; tables replace wholesale).
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Difficulty
	if other.Difficulty.EscalationStreak != 0 {
		c.Difficulty.EscalationStreak = other.Difficulty.EscalationStreak
	}
	if len(other.Difficulty.Deescalation) > 0 {
		c.Difficulty.Deescalation = other.Difficulty.Deescalation
	}

	// Scoring
	if len(other.Scoring.PassThresholds) > 0 {
		c.Scoring.PassThresholds = other.Scoring.PassThresholds
	}
	if len(other.Scoring.CategoryWeights) > 0 {
		c.Scoring.CategoryWeights = other.Scoring.CategoryWeights
	}
	if len(other.Scoring.MatchScores) > 0 {
		c.Scoring.MatchScores = other.Scoring.MatchScores
	}
	if other.Scoring.DivergenceBonusScale != 0 {
		c.Scoring.DivergenceBonusScale = other.Scoring.DivergenceBonusScale
	}

	// Rate limits
	if other.RateLimits.MonthlyTokens != 0 {
		c.RateLimits.MonthlyTokens = other.RateLimits.MonthlyTokens
	}
	if other.RateLimits.DailyTokens != 0 {
		c.RateLimits.DailyTokens = other.RateLimits.DailyTokens
	}
	if other.RateLimits.HourlyTokens != 0 {
		c.RateLimits.HourlyTokens = other.RateLimits.HourlyTokens
	}
	if other.RateLimits.PerRequestTokens != 0 {
		c.RateLimits.PerRequestTokens = other.RateLimits.PerRequestTokens
	}
	if other.RateLimits.Cooldown != 0 {
		c.RateLimits.Cooldown = other.RateLimits.Cooldown
	}
	if other.RateLimits.MaxConcurrency != 0 {
		c.RateLimits.MaxConcurrency = other.RateLimits.MaxConcurrency
	}

	// Leveling
	if other.Leveling.BaseXP != 0 {
		c.Leveling = other.Leveling
	}

	// Generation
	if len(other.Generation.Endpoints) > 0 {
		c.Generation.Endpoints = other.Generation.Endpoints
	}
	if other.Generation.Timeout != 0 {
		c.Generation.Timeout = other.Generation.Timeout
	}

	// Scenarios
	if other.Scenarios.Source != "" {
		c.Scenarios.Source = other.Scenarios.Source
	}

	// Storage
	if other.Storage.Backend != "" {
		c.Storage.Backend = other.Storage.Backend
	}
	if other.Storage.SQLitePath != "" {
		c.Storage.SQLitePath = other.Storage.SQLitePath
	}

	// NATS / Metrics / Engine
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.Metrics.Listen != "" {
		c.Metrics.Listen = other.Metrics.Listen
	}
	if other.Engine.Interval != 0 {
		c.Engine.Interval = other.Engine.Interval
	}
}
