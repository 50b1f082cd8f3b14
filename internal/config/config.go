package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"

	"github.com/roach88/waypoint/internal/model"
	"github.com/roach88/waypoint/internal/publisher"
	"github.com/roach88/waypoint/internal/resolution"
	"github.com/roach88/waypoint/internal/wire"
)

//go:embed schema.cue
var schemaCUE string

// Config is a validated configuration with defaults applied.
type Config struct {
	DefaultResolution model.Resolution
	MaxRetryCount     int
	Codec             string
	// Battery is a fixed battery level. Nil means the level is unavailable.
	Battery    *float64
	Trackables []model.Trackable
}

type document struct {
	DefaultResolution *model.Resolution `yaml:"default_resolution"`
	MaxRetryCount     *int              `yaml:"max_retry_count"`
	Codec             string            `yaml:"codec"`
	Battery           *float64          `yaml:"battery"`
	Trackables        []model.Trackable `yaml:"trackables"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		DefaultResolution: publisher.DefaultResolution,
		MaxRetryCount:     publisher.DefaultMaxRetryCount,
		Codec:             wire.JSON.Name(),
	}
}

// Issue is one schema violation.
type Issue struct {
	Path    string
	Line    int
	Column  int
	Message string
}

func (i Issue) String() string {
	var b strings.Builder
	if i.Line > 0 {
		fmt.Fprintf(&b, "%d:%d: ", i.Line, i.Column)
	}
	if i.Path != "" {
		b.WriteString(i.Path + ": ")
	}
	b.WriteString(i.Message)
	return b.String()
}

// ValidationError lists every problem found in a configuration file.
type ValidationError struct {
	File   string
	Issues []Issue
}

func (e *ValidationError) Error() string {
	lines := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		lines[i] = issue.String()
	}
	return fmt.Sprintf("invalid config %s: %s", e.File, strings.Join(lines, "; "))
}

// IsValidationError reports whether err is, or wraps, a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(path, data)
}

// Parse validates data against the schema, decodes it and applies defaults.
// name is used in error positions.
func Parse(name string, data []byte) (*Config, error) {
	if err := checkSchema(name, data); err != nil {
		return nil, err
	}

	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config %s: %w", name, err)
	}

	cfg := Default()
	if doc.DefaultResolution != nil {
		cfg.DefaultResolution = *doc.DefaultResolution
	}
	if doc.MaxRetryCount != nil {
		cfg.MaxRetryCount = *doc.MaxRetryCount
	}
	if doc.Codec != "" {
		cfg.Codec = doc.Codec
	}
	cfg.Battery = doc.Battery
	cfg.Trackables = doc.Trackables

	if err := cfg.Validate(); err != nil {
		return nil, &ValidationError{File: name, Issues: []Issue{{Message: err.Error()}}}
	}
	return cfg, nil
}

// Validate checks the decoded values. It normalizes trackable IDs in place.
func (c *Config) Validate() error {
	var errs []error
	if err := c.DefaultResolution.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("default_resolution: %w", err))
	}
	if c.MaxRetryCount < 0 {
		errs = append(errs, fmt.Errorf("max_retry_count must not be negative, got %d", c.MaxRetryCount))
	}
	if _, err := wire.CodecByName(c.Codec); err != nil {
		errs = append(errs, err)
	}
	seen := make(map[string]bool, len(c.Trackables))
	for i := range c.Trackables {
		t := &c.Trackables[i]
		t.ID = model.NormalizeID(t.ID)
		if err := t.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("trackables[%d]: %w", i, err))
			continue
		}
		if seen[t.ID] {
			errs = append(errs, fmt.Errorf("trackables[%d]: duplicate id %q", i, t.ID))
		}
		seen[t.ID] = true
	}
	return errors.Join(errs...)
}

// Trackable returns the configured trackable with the given ID.
func (c *Config) Trackable(id string) (model.Trackable, bool) {
	id = model.NormalizeID(id)
	for _, t := range c.Trackables {
		if t.ID == id {
			return t, true
		}
	}
	return model.Trackable{}, false
}

// BatterySource reports the configured battery level.
func (c *Config) BatterySource() resolution.Battery {
	if c.Battery == nil {
		return resolution.BatteryFunc(func() (float64, bool) { return 0, false })
	}
	level := *c.Battery
	return resolution.BatteryFunc(func() (float64, bool) { return level, true })
}

// Policy builds the resolution policy for this configuration.
func (c *Config) Policy(opts ...resolution.PolicyOption) *resolution.Policy {
	opts = append([]resolution.PolicyOption{resolution.WithBattery(c.BatterySource())}, opts...)
	return resolution.NewPolicy(c.DefaultResolution, opts...)
}

// PublisherOptions translates the configuration into publisher options.
func (c *Config) PublisherOptions(opts ...resolution.PolicyOption) ([]publisher.Option, error) {
	codec, err := wire.CodecByName(c.Codec)
	if err != nil {
		return nil, err
	}
	return []publisher.Option{
		publisher.WithPolicy(c.Policy(opts...)),
		publisher.WithCodec(codec),
		publisher.WithMaxRetryCount(c.MaxRetryCount),
	}, nil
}

// checkSchema unifies the YAML document with #Config.
func checkSchema(name string, data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	file, err := cueyaml.Extract(name, data)
	if err != nil {
		return schemaError(name, err)
	}
	value := ctx.BuildFile(file)
	if err := value.Err(); err != nil {
		return schemaError(name, err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return schemaError(name, err)
	}
	return nil
}

func schemaError(name string, err error) error {
	ve := &ValidationError{File: name}
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		issue := Issue{
			Path:    strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
		}
		for _, pos := range cueerrors.Positions(e) {
			if pos.Filename() == name {
				issue.Line, issue.Column = pos.Line(), pos.Column()
				break
			}
		}
		ve.Issues = append(ve.Issues, issue)
	}
	if len(ve.Issues) == 0 {
		ve.Issues = []Issue{{Message: err.Error()}}
	}
	return ve
}
