package config

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load reads and validates a configuration file using Koanf.
// Returns the parsed and validated Config or an error.
//
// Error cases:
//   - File not found or cannot be read
//   - Invalid YAML syntax
//   - Validation failure (missing issue dirs, unknown default profile, ...)
func Load(path string) (*Config, error) {
	// Create new Koanf instance with dot delimiter
	k := koanf.New(".")

	// Load file using file provider with YAML parser
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config from %q: %w", path, err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to parse config from %q: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed for %q: %w", path, err)
	}

	return cfg, nil
}

// Default returns the baseline configuration that loaded files override.
func Default() *Config {
	return &Config{
		LogLevel:       "info",
		DefaultProfile: "default",
		Profiles: map[string]ModelProfile{
			"default": {
				Provider:  "anthropic",
				Model:     "claude-sonnet-4-5-20250929",
				MaxTokens: 4096,
			},
		},
		Investigator: RoleConfig{
			MaxSteps:       30,
			MaxTokens:      200000,
			MaxWallSeconds: 600,
		},
		Inspector: RoleConfig{
			MaxSteps:       10,
			MaxTokens:      80000,
			MaxWallSeconds: 300,
		},
		Reviewer: ReviewerConfig{
			MaxReviewRounds: 3,
		},
		Retry: RetryConfig{
			Attempts:    3,
			BaseDelayMs: 1000,
		},
		Masking: MaskingConfig{
			Enabled: true,
		},
	}
}
