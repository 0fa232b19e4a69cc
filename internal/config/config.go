// Package config defines the process-wide configuration for diagnosis runs.
// Configuration is loaded once at startup into an immutable Config that is
// passed explicitly into the engine constructor.
package config

import "time"

// Config holds all configuration for the application.
type Config struct {
	// LogLevel is the logging level (debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// IssueDirs are directories scanned for issues. Each issue is a
	// subdirectory containing an issue.md description plus artifacts.
	IssueDirs []string `yaml:"issue_dirs"`

	// DefaultProfile names the model profile used when no override is given
	DefaultProfile string `yaml:"default_profile"`

	// Profiles are the available model profiles by name
	Profiles map[string]ModelProfile `yaml:"profiles"`

	// Investigator configures the primary reasoning loop
	Investigator RoleConfig `yaml:"investigator"`

	// Inspector configures the bounded inspection sub-loop
	Inspector RoleConfig `yaml:"inspector"`

	// Reviewer configures the review protocol
	Reviewer ReviewerConfig `yaml:"reviewer"`

	// Retry bounds delegate retries
	Retry RetryConfig `yaml:"retry"`

	// Knowledge configures the knowledge store
	Knowledge KnowledgeConfig `yaml:"knowledge"`

	// Masking configures the artifact preprocessing pipeline
	Masking MaskingConfig `yaml:"masking"`

	// Analyzer is the external source-analysis command, argv style
	Analyzer AnalyzerConfig `yaml:"analyzer"`

	// AuditLogPath is where the JSONL audit trail is written; empty disables it
	AuditLogPath string `yaml:"audit_log_path"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing configures OpenTelemetry trace export
	Tracing TracingConfig `yaml:"tracing"`
}

// ModelProfile selects and parameterizes a reasoning delegate.
type ModelProfile struct {
	// Provider is the delegate implementation: "anthropic" or "scripted"
	Provider string `yaml:"provider"`

	// Model is the model identifier (ignored by the scripted provider)
	Model string `yaml:"model"`

	// MaxTokens caps tokens per delegate response
	MaxTokens int `yaml:"max_tokens"`

	// Temperature controls sampling randomness
	Temperature float64 `yaml:"temperature"`

	// ScenarioPath points at the YAML script for the scripted provider
	ScenarioPath string `yaml:"scenario_path"`
}

// RoleConfig holds per-role budget ceilings. Zero values disable the
// corresponding ceiling.
type RoleConfig struct {
	// MaxSteps caps reasoning turns for the role
	MaxSteps int `yaml:"max_steps"`

	// MaxTokens caps cumulative token usage for the role
	MaxTokens int `yaml:"max_tokens"`

	// MaxWallSeconds caps elapsed wall time for the role
	MaxWallSeconds int `yaml:"max_wall_seconds"`
}

// MaxWall returns the wall-time ceiling as a duration.
func (r RoleConfig) MaxWall() time.Duration {
	return time.Duration(r.MaxWallSeconds) * time.Second
}

// ReviewerConfig holds review protocol settings.
type ReviewerConfig struct {
	// MaxReviewRounds bounds the revision loop. Exceeding it forces
	// acceptance of the latest draft with an annotation.
	MaxReviewRounds int `yaml:"max_review_rounds"`
}

// RetryConfig bounds delegate retries.
type RetryConfig struct {
	// Attempts is the number of tries per delegate call
	Attempts int `yaml:"attempts"`

	// BaseDelayMs is the initial backoff delay in milliseconds
	BaseDelayMs int `yaml:"base_delay_ms"`
}

// BaseDelay returns the initial backoff as a duration.
func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMs) * time.Millisecond
}

// KnowledgeConfig configures the knowledge store.
type KnowledgeConfig struct {
	// Dir holds the knowledge documents and their index.yaml; empty
	// disables knowledge injection
	Dir string `yaml:"dir"`
}

// MaskingConfig configures the preprocessing pipeline.
type MaskingConfig struct {
	// Enabled turns masking on; when false raw content passes through
	Enabled bool `yaml:"enabled"`

	// Rules are extra redaction rules applied after the built-in set
	Rules []MaskRuleConfig `yaml:"rules"`
}

// MaskRuleConfig is a single configured redaction rule.
type MaskRuleConfig struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// AnalyzerConfig configures the external source-analysis tool.
type AnalyzerConfig struct {
	// Command is the analyzer argv; the target file is appended per call.
	// Empty disables the analyze_code tool.
	Command []string `yaml:"command"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// TracingConfig configures OpenTelemetry trace export.
type TracingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	TLSCAPath string `yaml:"tls_ca_path"`
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if len(c.IssueDirs) == 0 {
		return NewConfigError("issue_dirs must not be empty")
	}

	if c.DefaultProfile == "" {
		return NewConfigError("default_profile must be set")
	}
	profile, ok := c.Profiles[c.DefaultProfile]
	if !ok {
		return NewConfigError("default_profile must name a configured profile")
	}
	if err := validateProfile(c.DefaultProfile, profile); err != nil {
		return err
	}
	for name, p := range c.Profiles {
		if err := validateProfile(name, p); err != nil {
			return err
		}
	}

	if c.Investigator.MaxSteps < 0 || c.Inspector.MaxSteps < 0 {
		return NewConfigError("max_steps must not be negative")
	}

	if c.Reviewer.MaxReviewRounds < 1 {
		return NewConfigError("reviewer.max_review_rounds must be at least 1")
	}

	if c.Retry.Attempts < 1 {
		return NewConfigError("retry.attempts must be at least 1")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return NewConfigError("metrics.addr must be set when metrics are enabled")
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return NewConfigError("tracing.endpoint must be set when tracing is enabled")
	}

	return nil
}

func validateProfile(name string, p ModelProfile) error {
	switch p.Provider {
	case "anthropic":
		if p.Model == "" {
			return NewConfigError("profile " + name + ": model must be set for the anthropic provider")
		}
	case "scripted":
		if p.ScenarioPath == "" {
			return NewConfigError("profile " + name + ": scenario_path must be set for the scripted provider")
		}
	default:
		return NewConfigError("profile " + name + ": provider must be anthropic or scripted")
	}
	return nil
}

// ConfigError represents a configuration error.
type ConfigError struct {
	message string
}

// NewConfigError creates a new configuration error.
func NewConfigError(message string) *ConfigError {
	return &ConfigError{message: message}
}

// Error returns the error message.
func (e *ConfigError) Error() string {
	return e.message
}
