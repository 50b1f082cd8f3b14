package cli

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "waypoint", cmd.Use)
	assert.Contains(t, cmd.Long, "tracking engine")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"simulate", "validate", "trace", "resolve"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err, "command %s should exist", name)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestSimulateCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	sim, _, err := cmd.Find([]string{"simulate"})
	require.NoError(t, err)

	for _, name := range []string{"config", "journal", "filter", "update"} {
		assert.NotNil(t, sim.Flags().Lookup(name), "flag %s", name)
	}
}

func TestInvalidFormat(t *testing.T) {
	_, _, err := execute(t, "--format", "yaml", "resolve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "yaml"`)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad path")))

	wrapped := WrapExitError(ExitFailure, "scenarios failed", errors.New("cause"))
	assert.Equal(t, "scenarios failed: cause", wrapped.Error())
	assert.Equal(t, ExitFailure, GetExitCode(wrapped))
	assert.EqualError(t, errors.Unwrap(wrapped), "cause")
}
