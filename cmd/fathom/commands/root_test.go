package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevelFlagsDefault(t *testing.T) {
	level, pkgs, err := parseLogLevelFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, "info", level)
	assert.Empty(t, pkgs)
}

func TestParseLogLevelFlagsBareLevel(t *testing.T) {
	level, _, err := parseLogLevelFlags([]string{"debug"})
	require.NoError(t, err)
	assert.Equal(t, "debug", level)
}

func TestParseLogLevelFlagsPerPackage(t *testing.T) {
	level, pkgs, err := parseLogLevelFlags([]string{"warn", "diagnose.engine=debug"})
	require.NoError(t, err)
	assert.Equal(t, "warn", level)
	assert.Equal(t, "debug", pkgs["diagnose.engine"])
}

func TestParseLogLevelFlagsEnvOverriddenByFlag(t *testing.T) {
	t.Setenv("LOG_LEVEL_TOOLS_REGISTRY", "debug")

	_, pkgs, err := parseLogLevelFlags([]string{"tools.registry=error"})
	require.NoError(t, err)
	assert.Equal(t, "error", pkgs["tools.registry"])
}

func TestParseLogLevelFlagsRejectsInvalidLevel(t *testing.T) {
	_, _, err := parseLogLevelFlags([]string{"loud"})
	assert.Error(t, err)

	_, _, err = parseLogLevelFlags([]string{"diagnose.engine=loud"})
	assert.Error(t, err)
}

func TestConvertEnvKeyToPackageName(t *testing.T) {
	assert.Equal(t, "diagnose.engine", convertEnvKeyToPackageName("LOG_LEVEL_DIAGNOSE_ENGINE"))
}
