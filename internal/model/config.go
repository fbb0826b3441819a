package model

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the complete refcheck configuration
type Config struct {
	LLM         LLMConfig         `yaml:"llm" mapstructure:"llm"`
	Validation  ValidationConfig  `yaml:"validation" mapstructure:"validation"`
	Retry       RetryConfig       `yaml:"retry" mapstructure:"retry"`
	Cache       CacheConfig       `yaml:"cache" mapstructure:"cache"`
	HTTP        HTTPConfig        `yaml:"http" mapstructure:"http"`
	Output      OutputConfig      `yaml:"output" mapstructure:"output"`
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Concurrency ConcurrencyConfig `yaml:"concurrency" mapstructure:"concurrency"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" mapstructure:"telemetry"`
}

// LLMConfig selects and configures the validation backend
type LLMConfig struct {
	Provider    string  `yaml:"provider" mapstructure:"provider" validate:"oneof=openai gemini anthropic claude ollama"`
	Model       string  `yaml:"model" mapstructure:"model"`
	APIKey      string  `yaml:"-" mapstructure:"api_key"` // From environment only, never written to disk
	BaseURL     string  `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout     int     `yaml:"timeout" mapstructure:"timeout" validate:"gte=0"` // seconds
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens" validate:"gte=0"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature" validate:"gte=0,lte=2"`
}

// ValidationConfig controls the validation pipeline
type ValidationConfig struct {
	Mode              string        `yaml:"mode" mapstructure:"mode" validate:"oneof=research pharmaceutical"`
	StatementDelay    time.Duration `yaml:"statement_delay" mapstructure:"statement_delay" validate:"gte=0"` // Pause between statements
	DocumentDelay     time.Duration `yaml:"document_delay" mapstructure:"document_delay" validate:"gte=0"`   // Pause between documents of one statement
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second" validate:"gte=0"`
	MaxDocumentChars  int           `yaml:"max_document_chars" mapstructure:"max_document_chars" validate:"gte=0"`
	Normalize         bool          `yaml:"normalize" mapstructure:"normalize"`
}

// RetryConfig controls retries of transient backend failures
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" mapstructure:"max_attempts" validate:"gte=1"`
	InitialDelay time.Duration `yaml:"initial_delay" mapstructure:"initial_delay" validate:"gte=0"`
	MaxDelay     time.Duration `yaml:"max_delay" mapstructure:"max_delay" validate:"gte=0"`
	Multiplier   float64       `yaml:"multiplier" mapstructure:"multiplier" validate:"gte=1"`
}

// CacheConfig controls the persistent verdict cache
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	TTL       time.Duration `yaml:"ttl" mapstructure:"ttl"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
}

// HTTPConfig controls fetching of reference documents given as URLs
type HTTPConfig struct {
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent     string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes" validate:"gt=0"`
	RespectRobots bool          `yaml:"respect_robots" mapstructure:"respect_robots"`
	HTTPProxy     string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy    string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy       string        `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// OutputConfig controls reports and debug artifacts
type OutputConfig struct {
	Dir           string `yaml:"dir" mapstructure:"dir"`
	Markdown      bool   `yaml:"markdown" mapstructure:"markdown"`
	HTML          bool   `yaml:"html" mapstructure:"html"`
	Artifacts     bool   `yaml:"artifacts" mapstructure:"artifacts"` // conversion_output.json / validation_output.json
	Verbose       bool   `yaml:"verbose" mapstructure:"verbose"`
	IncludeFooter bool   `yaml:"include_footer" mapstructure:"include_footer"`
}

// StoreConfig controls the SQLite run store
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"` // Empty disables persistence
}

// ConcurrencyConfig controls the batch command
type ConcurrencyConfig struct {
	Jobs int `yaml:"jobs" mapstructure:"jobs" validate:"gte=1"`
}

// TelemetryConfig controls metrics and tracing
type TelemetryConfig struct {
	MetricsAddr string `yaml:"metrics_addr,omitempty" mapstructure:"metrics_addr"`
	Trace       bool   `yaml:"trace" mapstructure:"trace"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "",
			Timeout:     120,
			MaxTokens:   4096,
			Temperature: 0.15,
		},
		Validation: ValidationConfig{
			Mode:              "research",
			StatementDelay:    500 * time.Millisecond,
			DocumentDelay:     500 * time.Millisecond,
			RequestsPerSecond: 0, // unlimited, delays still apply
			MaxDocumentChars:  400_000,
			Normalize:         true,
		},
		Retry: RetryConfig{
			MaxAttempts:  5,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2,
		},
		Cache: CacheConfig{
			Enabled:   false,
			Dir:       defaultCacheDir(),
			TTL:       30 * 24 * time.Hour,
			MemoryTTL: time.Hour,
		},
		HTTP: HTTPConfig{
			Timeout:       30 * time.Second,
			UserAgent:     "refcheck/0.1 (+https://github.com/ppiankov/refcheck)",
			MaxBodyBytes:  50_000_000,
			RespectRobots: true,
		},
		Output: OutputConfig{
			Dir:           "./refcheck-output",
			Markdown:      true,
			HTML:          false,
			Artifacts:     true,
			IncludeFooter: true,
		},
		Store: StoreConfig{
			Path: filepath.Join(HomeDir(), "runs.db"),
		},
		Concurrency: ConcurrencyConfig{
			Jobs: 2,
		},
	}
}

// HomeDir returns the refcheck home directory (~/.refcheck)
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".refcheck"
	}
	return filepath.Join(home, ".refcheck")
}

func defaultCacheDir() string {
	return filepath.Join(HomeDir(), "cache")
}

var configValidate = validator.New()

// Validate checks the configuration for out-of-range values
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
