// Package config loads story-engine settings from defaults, an optional YAML
// file and the environment, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds all story-engine configuration.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Generation GenerationConfig `yaml:"generation"`
	Summary    SummaryConfig    `yaml:"summary"`
	Limits     LimitsConfig     `yaml:"limits"`
}

// DatabaseConfig locates the SQLite file.
type DatabaseConfig struct {
	Path string `yaml:"path" env:"STORY_ENGINE_DB"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr" env:"STORY_ENGINE_ADDR"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level  string `yaml:"level" env:"STORY_ENGINE_LOG_LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"STORY_ENGINE_LOG_FORMAT"` // json, console
}

// GenerationConfig selects and tunes the text generation provider.
type GenerationConfig struct {
	Provider        string       `yaml:"provider" env:"STORY_ENGINE_PROVIDER"` // mock, openai, ollama
	ExternalEnabled bool         `yaml:"external_enabled" env:"LLM_EXTERNAL_ENABLED"`
	APIKey          string       `yaml:"api_key" env:"OPENAI_API_KEY"`
	BaseURL         string       `yaml:"base_url" env:"STORY_ENGINE_BASE_URL"`
	Timeout         string       `yaml:"timeout" env:"STORY_ENGINE_GENERATION_TIMEOUT"`
	Models          ModelsConfig `yaml:"models"`
}

// ModelsConfig names the model used for each generation purpose.
type ModelsConfig struct {
	Character string `yaml:"character" env:"STORY_ENGINE_CHARACTER_MODEL"`
	Summary   string `yaml:"summary" env:"STORY_ENGINE_SUMMARY_MODEL"`
	Narrative string `yaml:"narrative" env:"STORY_ENGINE_NARRATIVE_MODEL"`
}

// SummaryConfig controls memory block summaries.
type SummaryConfig struct {
	Mode string `yaml:"mode" env:"STORY_ENGINE_SUMMARY_MODE"` // deterministic, generated

	// EveryPrompts triggers a rolling turn_delta block every N prompts.
	// Zero or a negative value disables rolling summaries. A pointer so an
	// explicit 0 in a file survives Merge.
	EveryPrompts *int `yaml:"every_prompts,omitempty" env:"STORY_ENGINE_SUMMARY_EVERY"`
}

// LimitsConfig bounds stored text and the transcript view.
type LimitsConfig struct {
	TextMaxChars     int `yaml:"text_max_chars" env:"STORY_ENGINE_TEXT_MAX_CHARS"`
	NameMaxChars     int `yaml:"name_max_chars" env:"STORY_ENGINE_NAME_MAX_CHARS"`
	TranscriptBudget int `yaml:"transcript_budget" env:"STORY_ENGINE_TRANSCRIPT_BUDGET"`
}

// DefaultDBPath is ~/.story-engine/story.db.
func DefaultDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".story-engine", "story.db")
}

// DefaultConfig returns a Config with defaults for every section.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{Path: DefaultDBPath()},
		Server:   ServerConfig{Addr: "127.0.0.1:8080"},
		Log:      LogConfig{Level: "info", Format: "json"},
		Generation: GenerationConfig{
			Provider: "mock",
			Timeout:  "120s",
			Models: ModelsConfig{
				Character: "gpt-4o-mini",
				Summary:   "gpt-4o-mini",
				Narrative: "gpt-4o-mini",
			},
		},
		Summary: SummaryConfig{
			Mode:         "generated",
			EveryPrompts: intPtr(7),
		},
		Limits: LimitsConfig{
			TextMaxChars:     5000,
			NameMaxChars:     120,
			TranscriptBudget: 60000,
		},
	}
}

// SummaryEvery returns the rolling summary interval; 0 when unset.
func (c *Config) SummaryEvery() int {
	if c.Summary.EveryPrompts == nil {
		return 0
	}
	return *c.Summary.EveryPrompts
}

func intPtr(v int) *int { return &v }

// Merge applies non-zero values from source into c. Summary.EveryPrompts is
// applied whenever it is set, including 0.
func (c *Config) Merge(source *Config) {
	if source.Database.Path != "" {
		c.Database.Path = source.Database.Path
	}
	if source.Server.Addr != "" {
		c.Server.Addr = source.Server.Addr
	}
	if source.Log.Level != "" {
		c.Log.Level = source.Log.Level
	}
	if source.Log.Format != "" {
		c.Log.Format = source.Log.Format
	}

	g := &source.Generation
	if g.Provider != "" {
		c.Generation.Provider = g.Provider
	}
	if g.ExternalEnabled {
		c.Generation.ExternalEnabled = true
	}
	if g.APIKey != "" {
		c.Generation.APIKey = g.APIKey
	}
	if g.BaseURL != "" {
		c.Generation.BaseURL = g.BaseURL
	}
	if g.Timeout != "" {
		c.Generation.Timeout = g.Timeout
	}
	if g.Models.Character != "" {
		c.Generation.Models.Character = g.Models.Character
	}
	if g.Models.Summary != "" {
		c.Generation.Models.Summary = g.Models.Summary
	}
	if g.Models.Narrative != "" {
		c.Generation.Models.Narrative = g.Models.Narrative
	}

	if source.Summary.Mode != "" {
		c.Summary.Mode = source.Summary.Mode
	}
	if source.Summary.EveryPrompts != nil {
		c.Summary.EveryPrompts = intPtr(*source.Summary.EveryPrompts)
	}

	if source.Limits.TextMaxChars > 0 {
		c.Limits.TextMaxChars = source.Limits.TextMaxChars
	}
	if source.Limits.NameMaxChars > 0 {
		c.Limits.NameMaxChars = source.Limits.NameMaxChars
	}
	if source.Limits.TranscriptBudget > 0 {
		c.Limits.TranscriptBudget = source.Limits.TranscriptBudget
	}
}

// Load builds the effective configuration. path may be empty; a missing file
// is an error only when a path was given explicitly.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		var loaded Config
		if err := yaml.Unmarshal(data, &loaded); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		cfg.Merge(&loaded)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// GenerationTimeout returns the generation timeout as a duration.
func (c *Config) GenerationTimeout() time.Duration {
	d, err := time.ParseDuration(c.Generation.Timeout)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}

var (
	validProviders   = []string{"mock", "openai", "ollama"}
	validSummaryMode = []string{"deterministic", "generated"}
	validLogFormats  = []string{"json", "console"}
)

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path not configured")
	}
	if !contains(validProviders, c.Generation.Provider) {
		return fmt.Errorf("invalid generation provider: %s (valid: %v)", c.Generation.Provider, validProviders)
	}
	if c.Generation.Provider == "openai" && c.Generation.ExternalEnabled && c.Generation.APIKey == "" {
		return fmt.Errorf("openai provider enabled but OPENAI_API_KEY is not set")
	}
	if _, err := time.ParseDuration(c.Generation.Timeout); err != nil {
		return fmt.Errorf("invalid generation timeout %q: %w", c.Generation.Timeout, err)
	}
	if !contains(validSummaryMode, c.Summary.Mode) {
		return fmt.Errorf("invalid summary mode: %s (valid: %v)", c.Summary.Mode, validSummaryMode)
	}
	if !contains(validLogFormats, c.Log.Format) {
		return fmt.Errorf("invalid log format: %s (valid: %v)", c.Log.Format, validLogFormats)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
