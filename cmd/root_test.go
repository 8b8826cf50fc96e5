package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	// Collect subcommand names.
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"dedup", "align", "tune", "validate", "chunk", "report", "runs"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "qrels-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestAlignCommand_Flags(t *testing.T) {
	flag := alignCmd.Flags().Lookup("manifest")
	require.NotNil(t, flag, "align command should have --manifest flag")
	require.NotNil(t, alignCmd.Flags().Lookup("sme-threshold"))
	require.NotNil(t, alignCmd.Flags().Lookup("chunk-threshold"))
}

func TestTuneCommand_Flags(t *testing.T) {
	for _, name := range []string{"manifest", "out", "xlsx"} {
		assert.NotNil(t, tuneCmd.Flags().Lookup(name), "tune command should have --%s flag", name)
	}
}

func TestValidateCommand_Flags(t *testing.T) {
	for _, name := range []string{"manifest", "annotations", "qrels"} {
		assert.NotNil(t, validateCmd.Flags().Lookup(name), "validate command should have --%s flag", name)
	}
	assert.True(t, validateCmd.SilenceUsage)
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "show", "stats"} {
		assert.True(t, names[name], "expected runs subcommand %q not found", name)
	}

	flag := runsListCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "50", flag.DefValue)
}
