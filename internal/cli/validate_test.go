package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateValidConfig(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "waypoint.yaml"), constrainedConfig)

	out, _, err := execute(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid (2 trackable(s), codec json, default low/1m0s/50m)")
}

func TestValidateValidConfigJSON(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "waypoint.yaml"), constrainedConfig)

	out, _, err := execute(t, "--format", "json", "validate", path)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 2, resp.Data.Trackables)
}

func TestValidateSchemaViolations(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "bad.yaml"), `max_retry_count: -1
codec: xml
`)

	out, _, err := execute(t, "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, "max_retry_count")
	assert.Contains(t, out, "codec")
}

func TestValidateSchemaViolationsJSON(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "bad.yaml"), "battery: 140\n")

	out, _, err := execute(t, "--format", "json", "validate", path)
	require.Error(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidConfig, resp.Error.Code)
	assert.False(t, resp.Data.Valid)
	require.NotEmpty(t, resp.Data.Errors)
	assert.Equal(t, 1, resp.Data.Errors[0].Line)
}

func TestValidateDuplicateIDs(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "dup.yaml"), "trackables:\n  - id: a\n  - id: a\n")

	out, _, err := execute(t, "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, `duplicate id "a"`)
}

func TestValidateMissingFile(t *testing.T) {
	out, _, err := execute(t, "validate", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E001]")
}
