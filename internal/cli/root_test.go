package cli

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["bootstrap"], "bootstrap subcommand missing")
	assert.True(t, names["intake"], "intake subcommand missing")
}

func TestRootCommandExposesConfigFlag(t *testing.T) {
	flag := rootCmd.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "c", flag.Shorthand)
}

// testCmd carries just the persistent --config flag the RunE handlers read.
func testCmd() *cobra.Command {
	c := &cobra.Command{}
	c.Flags().String("config", "", "")
	return c
}

func TestBootstrap_ConfigValidationFailsFast(t *testing.T) {
	// No env, no config file: the command must abort before doing any work,
	// naming the missing variable.
	t.Setenv("GITHUB_APP_ID", "")

	err := bootstrapCmd.RunE(testCmd(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GITHUB_APP_ID")
}

func TestIntake_ConfigValidationFailsFast(t *testing.T) {
	t.Setenv("GITHUB_APP_ID", "")

	err := intakeCmd.RunE(testCmd(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GITHUB_APP_ID")
}

func TestNewLogger_Levels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus", ""} {
		assert.NotNil(t, newLogger(level, ""))
	}
	assert.NotNil(t, newLogger("info", "task-pod"))
}
