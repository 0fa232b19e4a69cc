package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.IssueDirs = []string{"/var/lib/fathom/issues"}
	return cfg
}

func TestValidateAcceptsDefaults(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateRequiresIssueDirs(t *testing.T) {
	cfg := validConfig()
	cfg.IssueDirs = nil
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresKnownDefaultProfile(t *testing.T) {
	cfg := validConfig()
	cfg.DefaultProfile = "missing"
	assert.Error(t, cfg.Validate())
}

func TestValidateScriptedProfileNeedsScenario(t *testing.T) {
	cfg := validConfig()
	cfg.Profiles["offline"] = ModelProfile{Provider: "scripted"}
	assert.Error(t, cfg.Validate())

	cfg.Profiles["offline"] = ModelProfile{Provider: "scripted", ScenarioPath: "scenario.yaml"}
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	cfg := validConfig()
	cfg.Profiles["bad"] = ModelProfile{Provider: "openai", Model: "x"}
	assert.Error(t, cfg.Validate())
}

func TestValidateReviewRounds(t *testing.T) {
	cfg := validConfig()
	cfg.Reviewer.MaxReviewRounds = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateMetricsAddr(t *testing.T) {
	cfg := validConfig()
	cfg.Metrics.Enabled = true
	assert.Error(t, cfg.Validate())

	cfg.Metrics.Addr = ":9090"
	assert.NoError(t, cfg.Validate())
}

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fathom.yaml")
	content := `log_level: debug
issue_dirs:
  - ./issues
investigator:
  max_steps: 5
profiles:
  offline:
    provider: scripted
    scenario_path: scenario.yaml
default_profile: offline
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5, cfg.Investigator.MaxSteps)
	// Defaults survive for untouched fields.
	assert.Equal(t, 3, cfg.Reviewer.MaxReviewRounds)
	assert.Equal(t, "offline", cfg.DefaultProfile)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("issue_dirs: []\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
