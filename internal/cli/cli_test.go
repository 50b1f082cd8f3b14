package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const passingScenario = `name: pass
steps:
  - action: track
    trackable: order-1
  - action: location
    location: {latitude: 51.5, longitude: -0.12, at: 0s}
  - action: fail_publishes
    trackable: order-1
    count: 1
    error: flaky
  - action: location
    location: {latitude: 51.6, longitude: -0.12, at: 10s}
assertions:
  - type: published
    trackable: order-1
    count: 2
`

const failingScenario = `name: fail
steps:
  - action: track
    trackable: order-1
assertions:
  - type: final_state
    trackable: order-1
    state: failed
`

const constrainedConfig = `default_resolution: {accuracy: low, desired_interval: 1m, minimum_displacement: 50}
trackables:
  - id: order-1
    constraints:
      resolutions:
        far_without_subscriber:  {accuracy: low, desired_interval: 30s, minimum_displacement: 100}
        far_with_subscriber:     {accuracy: balanced, desired_interval: 10s, minimum_displacement: 50}
        near_without_subscriber: {accuracy: balanced, desired_interval: 10s, minimum_displacement: 20}
        near_with_subscriber:    {accuracy: high, desired_interval: 1s, minimum_displacement: 5}
      proximity_threshold: {spatial: 200}
      battery_level_threshold: 20
      low_battery_multiplier: 2
  - id: order-2
`

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
