package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TraceSnapshot is the golden form of a run: the trace plus the final
// state, without anything that varies between runs.
type TraceSnapshot struct {
	ScenarioName string            `json:"scenario_name"`
	Trace        []TraceEvent      `json:"trace"`
	Final        map[string]string `json:"final,omitempty"`
	Aggregate    string            `json:"aggregate,omitempty"`
	Published    map[string]int    `json:"published,omitempty"`
	Sampler      []string          `json:"sampler,omitempty"`
}

// Snapshot returns the golden form of result.
func Snapshot(name string, result *Result) TraceSnapshot {
	return TraceSnapshot{
		ScenarioName: name,
		Trace:        result.Trace,
		Final:        result.Final,
		Aggregate:    result.Aggregate,
		Published:    result.Published,
		Sampler:      result.Sampler,
	}
}

// MarshalSnapshot renders a snapshot as indented JSON. Map keys are sorted
// by encoding/json, so the output is stable.
func MarshalSnapshot(s TraceSnapshot) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RunWithGolden runs a scenario and compares its snapshot with
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario, opts...)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result with its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(Snapshot(name, result))
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
