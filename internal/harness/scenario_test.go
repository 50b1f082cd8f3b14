package harness

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/waypoint/internal/model"
	"github.com/roach88/waypoint/internal/testutil"
)

func TestLoadScenario(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "retry_then_subscribe.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "retry_then_subscribe", s.Name)
	require.NotNil(t, s.Battery)
	assert.Equal(t, 80.0, *s.Battery)
	require.Len(t, s.Steps, 7)

	assert.Equal(t, ActionFailPublishes, s.Steps[2].Action)
	assert.Equal(t, 2, s.Steps[2].Count)
	assert.Equal(t, "network down", s.Steps[2].Error)

	sub := s.Steps[4]
	assert.Equal(t, ActionSubscribe, sub.Action)
	assert.Equal(t, "sub-1", sub.Client)
	require.NotNil(t, sub.Resolution)
	assert.Equal(t, model.Resolution{
		Accuracy:            model.AccuracyHigh,
		DesiredInterval:     time.Second,
		MinimumDisplacement: 5,
	}, *sub.Resolution)

	require.NotNil(t, s.Steps[3].Location)
	assert.Equal(t, 10*time.Second, s.Steps[3].Location.At)
	assert.NotEmpty(t, s.Assertions)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_AbsoluteConfigIsKept(t *testing.T) {
	dir := t.TempDir()
	abs := filepath.Join(t.TempDir(), "cfg.yaml")
	path := filepath.Join(dir, "s.yaml")
	writeFile(t, path, "name: abs\nconfig: "+abs+"\nsteps:\n  - action: stop\n")

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, abs, s.Config)
}

func TestSampleLocation(t *testing.T) {
	s := Sample{Latitude: 51.5, Longitude: -0.12, Accuracy: 4, Speed: 3, At: 90 * time.Second}
	l := s.Location(testutil.Epoch)

	assert.Equal(t, model.Coordinate{Latitude: 51.5, Longitude: -0.12}, l.Coordinate)
	assert.Equal(t, 4.0, l.Accuracy)
	assert.Equal(t, 3.0, l.Speed)
	assert.Equal(t, testutil.Epoch.Add(90*time.Second), l.Timestamp)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "missing name",
			doc:  "steps:\n  - action: stop\n",
			want: "name is required",
		},
		{
			name: "no steps",
			doc:  "name: empty\n",
			want: "at least one step is required",
		},
		{
			name: "unknown key",
			doc:  "name: x\nsteps:\n  - action: stop\nbogus: 1\n",
			want: "failed to parse YAML",
		},
		{
			name: "unknown action",
			doc:  "name: x\nsteps:\n  - action: teleport\n",
			want: `steps[0]: unknown action "teleport"`,
		},
		{
			name: "missing action",
			doc:  "name: x\nsteps:\n  - trackable: a\n",
			want: "steps[0]: action is required",
		},
		{
			name: "track without trackable",
			doc:  "name: x\nsteps:\n  - action: track\n",
			want: "trackable is required for track",
		},
		{
			name: "location without sample",
			doc:  "name: x\nsteps:\n  - action: location\n",
			want: "location is required",
		},
		{
			name: "fail_publishes without count",
			doc:  "name: x\nsteps:\n  - action: fail_publishes\n    trackable: a\n",
			want: "count must be positive",
		},
		{
			name: "unknown channel state",
			doc:  "name: x\nsteps:\n  - action: channel_state\n    trackable: a\n    state: melted\n",
			want: `unknown channel state "melted"`,
		},
		{
			name: "unknown connection state",
			doc:  "name: x\nsteps:\n  - action: connection_state\n    state: attached\n",
			want: `unknown connection state "attached"`,
		},
		{
			name: "subscribe without client",
			doc:  "name: x\nsteps:\n  - action: subscribe\n    trackable: a\n",
			want: "client is required for subscribe",
		},
		{
			name: "bad accuracy",
			doc:  "name: x\nsteps:\n  - action: change_resolution\n    client: c\n    resolution: {accuracy: extreme}\n",
			want: "unknown accuracy",
		},
		{
			name: "unknown assertion",
			doc:  "name: x\nsteps:\n  - action: stop\nassertions:\n  - type: vibes\n",
			want: `assertions[0]: unknown assertion type "vibes"`,
		},
		{
			name: "event_order needs two kinds",
			doc:  "name: x\nsteps:\n  - action: stop\nassertions:\n  - type: event_order\n    kinds: [retry]\n",
			want: "at least two kinds",
		},
		{
			name: "final_state needs state",
			doc:  "name: x\nsteps:\n  - action: stop\nassertions:\n  - type: final_state\n    trackable: a\n",
			want: "trackable and state are required",
		},
		{
			name: "aggregate needs resolution",
			doc:  "name: x\nsteps:\n  - action: stop\nassertions:\n  - type: aggregate\n",
			want: "resolution is required for aggregate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
