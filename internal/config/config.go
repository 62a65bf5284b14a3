// Package config provides configuration loading and management for
// inspectcheck.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/inspectcheck/internal/submission"
)

// Config represents the complete inspectcheck configuration
type Config struct {
	Store      StoreConfig      `yaml:"store"`
	Schemas    SchemasConfig    `yaml:"schemas"`
	Submission SubmissionConfig `yaml:"submission"`
	Log        LogConfig        `yaml:"log"`
	Narrative  NarrativeConfig  `yaml:"narrative"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// StoreConfig configures persistence
type StoreConfig struct {
	// Driver is "sqlite" or "postgres"
	Driver string `yaml:"driver"`
	// DSN is the data source name passed to the driver
	DSN string `yaml:"dsn"`
}

// SchemasConfig configures where checklist schemas come from
type SchemasConfig struct {
	// Dir holds additional schema YAML files loaded on top of the built-in ones
	Dir string `yaml:"dir"`
}

// SubmissionConfig configures the submission checks
type SubmissionConfig struct {
	// RequireCompleteSections rejects submissions with untouched sections
	// (default: true)
	RequireCompleteSections *bool `yaml:"require_complete_sections"`
}

// LogConfig configures logging
type LogConfig struct {
	// Level is a logrus level name (default: info)
	Level string `yaml:"level"`
	// Format is "text" or "json" (default: text)
	Format string `yaml:"format"`
}

// NarrativeConfig configures the LLM findings summary
type NarrativeConfig struct {
	// Provider is "anthropic", "openai" or "google"
	Provider string `yaml:"provider"`
	// Model overrides the provider's default model
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	// Language of the summary, e.g. "French" (empty = checklist language)
	Language string `yaml:"language"`
	// Timeout bounds one summarize call including the repair attempt
	Timeout time.Duration `yaml:"timeout"`
}

// MetricsConfig configures the metrics dump
type MetricsConfig struct {
	// Textfile, when set, receives the metrics in Prometheus text format
	// after every command
	Textfile string `yaml:"textfile"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	requireComplete := true
	return &Config{
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "inspectcheck.db",
		},
		Submission: SubmissionConfig{
			RequireCompleteSections: &requireComplete,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Narrative: NarrativeConfig{
			Provider:    "anthropic",
			MaxTokens:   2048,
			Temperature: 0.2,
			Timeout:     2 * time.Minute,
		},
	}
}

// Policy returns the submission policy described by the configuration.
func (c *Config) Policy() submission.Policy {
	p := submission.DefaultPolicy()
	if c.Submission.RequireCompleteSections != nil {
		p.RequireCompleteSections = *c.Submission.RequireCompleteSections
	}
	return p
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("store.driver must be sqlite or postgres, got %q", c.Store.Driver)
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	switch strings.ToLower(c.Narrative.Provider) {
	case "anthropic", "openai", "google":
	default:
		return fmt.Errorf("narrative.provider must be anthropic, openai or google, got %q", c.Narrative.Provider)
	}
	if c.Narrative.MaxTokens <= 0 {
		return fmt.Errorf("narrative.max_tokens must be positive")
	}
	if c.Narrative.Temperature < 0 || c.Narrative.Temperature > 1 {
		return fmt.Errorf("narrative.temperature must be between 0 and 1")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
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

// SaveToFile saves configuration to a YAML file
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

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Store
	if other.Store.Driver != "" {
		c.Store.Driver = other.Store.Driver
	}
	if other.Store.DSN != "" {
		c.Store.DSN = other.Store.DSN
	}

	// Schemas
	if other.Schemas.Dir != "" {
		c.Schemas.Dir = other.Schemas.Dir
	}

	// Submission
	if other.Submission.RequireCompleteSections != nil {
		v := *other.Submission.RequireCompleteSections
		c.Submission.RequireCompleteSections = &v
	}

	// Log
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
	if other.Log.Format != "" {
		c.Log.Format = other.Log.Format
	}

	// Narrative
	if other.Narrative.Provider != "" {
		c.Narrative.Provider = other.Narrative.Provider
	}
	if other.Narrative.Model != "" {
		c.Narrative.Model = other.Narrative.Model
	}
	if other.Narrative.MaxTokens != 0 {
		c.Narrative.MaxTokens = other.Narrative.MaxTokens
	}
	if other.Narrative.Temperature != 0 {
		c.Narrative.Temperature = other.Narrative.Temperature
	}
	if other.Narrative.Language != "" {
		c.Narrative.Language = other.Narrative.Language
	}
	if other.Narrative.Timeout != 0 {
		c.Narrative.Timeout = other.Narrative.Timeout
	}

	// Metrics
	if other.Metrics.Textfile != "" {
		c.Metrics.Textfile = other.Metrics.Textfile
	}
}
