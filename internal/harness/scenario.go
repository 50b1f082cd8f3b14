package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/waypoint/internal/model"
)

// Scenario is a scripted run of one publisher and any number of
// subscribers.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Config is an optional configuration file. Relative paths are resolved
	// against the scenario file.
	Config string `yaml:"config,omitempty"`

	// Battery overrides the configured battery level.
	Battery *float64 `yaml:"battery,omitempty"`

	Steps []Step `yaml:"steps"`

	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scripted action. Which fields apply depends on Action.
type Step struct {
	Action string `yaml:"action"`

	Trackable   string             `yaml:"trackable,omitempty"`
	Destination *model.Coordinate  `yaml:"destination,omitempty"`
	Constraints *model.Constraints `yaml:"constraints,omitempty"`

	// Client names a subscriber.
	Client     string            `yaml:"client,omitempty"`
	Resolution *model.Resolution `yaml:"resolution,omitempty"`

	Location *Sample `yaml:"location,omitempty"`

	// Count is the number of publishes to fail.
	Count int `yaml:"count,omitempty"`
	// State is a channel or connection state name.
	State string `yaml:"state,omitempty"`
	// Error is the injected failure message.
	Error string `yaml:"error,omitempty"`

	Battery *float64 `yaml:"battery,omitempty"`

	// ExpectError makes the step pass only if its operation fails with an
	// error containing this text.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Sample is a location fed to the publisher.
type Sample struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Accuracy  float64 `yaml:"accuracy,omitempty"`
	Altitude  float64 `yaml:"altitude,omitempty"`
	Bearing   float64 `yaml:"bearing,omitempty"`
	Speed     float64 `yaml:"speed,omitempty"`
	// At is the capture time as an offset from the scenario epoch.
	At time.Duration `yaml:"at"`
}

// Location converts the sample, stamping it relative to epoch.
func (s Sample) Location(epoch time.Time) model.Location {
	return model.Location{
		Coordinate: model.Coordinate{Latitude: s.Latitude, Longitude: s.Longitude},
		Accuracy:   s.Accuracy,
		Altitude:   s.Altitude,
		Bearing:    s.Bearing,
		Speed:      s.Speed,
		Timestamp:  epoch.Add(s.At),
	}
}

// Step actions.
const (
	ActionTrack            = "track"
	ActionAdd              = "add"
	ActionRemove           = "remove"
	ActionSetDestination   = "set_destination"
	ActionLocation         = "location"
	ActionBattery          = "battery"
	ActionFailPublishes    = "fail_publishes"
	ActionChannelState     = "channel_state"
	ActionConnectionState  = "connection_state"
	ActionSubscribe        = "subscribe"
	ActionChangeResolution = "change_resolution"
	ActionUnsubscribe      = "unsubscribe"
	ActionStop             = "stop"
)

// Assertion checks the trace, the journal or the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	Kind      string   `yaml:"kind,omitempty"`
	Kinds     []string `yaml:"kinds,omitempty"`
	Source    string   `yaml:"source,omitempty"`
	Trackable string   `yaml:"trackable,omitempty"`
	// Detail is matched as a substring of the event detail.
	Detail string `yaml:"detail,omitempty"`
	Count  int    `yaml:"count,omitempty"`
	State  string `yaml:"state,omitempty"`
	// Resolution is compared with the rendered resolution, e.g. "high/1s/5m".
	Resolution string `yaml:"resolution,omitempty"`

	Delivered int `yaml:"delivered,omitempty"`
	Retried   int `yaml:"retried,omitempty"`
	Exhausted int `yaml:"exhausted,omitempty"`
}

// Assertion types.
const (
	AssertEventContains = "event_contains"
	AssertEventCount    = "event_count"
	AssertEventOrder    = "event_order"
	AssertFinalState    = "final_state"
	AssertPublished     = "published"
	AssertAggregate     = "aggregate"
	AssertOutcome       = "outcome"
)

// LoadScenario reads a scenario file. Unknown keys are rejected and a
// relative config path is resolved against the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if scenario.Config != "" && !filepath.IsAbs(scenario.Config) {
		scenario.Config = filepath.Join(filepath.Dir(path), scenario.Config)
	}
	return scenario, nil
}

// ParseScenario decodes and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}
	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step Step) error {
	needTrackable := func() error {
		if step.Trackable == "" {
			return fmt.Errorf("steps[%d]: trackable is required for %s", index, step.Action)
		}
		return nil
	}
	needClient := func() error {
		if step.Client == "" {
			return fmt.Errorf("steps[%d]: client is required for %s", index, step.Action)
		}
		return nil
	}

	switch step.Action {
	case ActionTrack, ActionAdd, ActionRemove, ActionSetDestination:
		return needTrackable()
	case ActionLocation:
		if step.Location == nil {
			return fmt.Errorf("steps[%d]: location is required for location", index)
		}
	case ActionFailPublishes:
		if err := needTrackable(); err != nil {
			return err
		}
		if step.Count <= 0 {
			return fmt.Errorf("steps[%d]: count must be positive for fail_publishes", index)
		}
	case ActionChannelState:
		if err := needTrackable(); err != nil {
			return err
		}
		if _, ok := channelStates[step.State]; !ok {
			return fmt.Errorf("steps[%d]: unknown channel state %q", index, step.State)
		}
	case ActionConnectionState:
		if _, ok := transportStates[step.State]; !ok {
			return fmt.Errorf("steps[%d]: unknown connection state %q", index, step.State)
		}
	case ActionSubscribe:
		if err := needClient(); err != nil {
			return err
		}
		return needTrackable()
	case ActionChangeResolution, ActionUnsubscribe:
		return needClient()
	case ActionBattery, ActionStop:
	case "":
		return fmt.Errorf("steps[%d]: action is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", index, step.Action)
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case AssertEventContains:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for event_contains", index)
		}
	case AssertEventCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for event_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	case AssertEventOrder:
		if len(a.Kinds) < 2 {
			return fmt.Errorf("assertions[%d]: at least two kinds are required for event_order", index)
		}
	case AssertFinalState:
		if a.Trackable == "" || a.State == "" {
			return fmt.Errorf("assertions[%d]: trackable and state are required for final_state", index)
		}
	case AssertPublished:
		if a.Trackable == "" {
			return fmt.Errorf("assertions[%d]: trackable is required for published", index)
		}
	case AssertAggregate:
		if a.Resolution == "" {
			return fmt.Errorf("assertions[%d]: resolution is required for aggregate", index)
		}
	case AssertOutcome:
		if a.Trackable == "" {
			return fmt.Errorf("assertions[%d]: trackable is required for outcome", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
