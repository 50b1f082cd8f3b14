package cli

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/waypoint/internal/config"
	"github.com/roach88/waypoint/internal/engine"
	"github.com/roach88/waypoint/internal/harness"
	"github.com/roach88/waypoint/internal/store"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	Config  string // overrides every scenario's config
	Journal string // SQLite journal path; empty keeps runs in memory
	Filter  string // scenario filter (glob pattern)
	Update  bool   // regenerate golden files

	// IDs generates journal run IDs. Default: UUIDv7.
	IDs engine.IDGenerator
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	File   string   `json:"file"`
	Pass   bool     `json:"pass"`
	RunID  string   `json:"run_id,omitempty"`
	Events int      `json:"events"`
	Errors []string `json:"errors,omitempty"`

	trace []harness.TraceEvent
}

// SimulateResult holds the overall result.
type SimulateResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate <scenario-file-or-dir>",
		Short: "Run tracking scenarios",
		Long: `Run scenario files against an in-memory transport.

Each scenario drives a publisher and its subscribers step by step and
checks its assertions. When golden/<name>.golden exists next to a
scenario, the trace must match it as well.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, unreadable config, etc.)

Examples:
  waypoint simulate ./scenarios
  waypoint simulate ./scenarios/retry.yaml --journal ./runs.db
  waypoint simulate ./scenarios --filter "retry*" --update
  waypoint simulate ./scenarios --config ./waypoint.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "configuration file applied to every scenario")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite journal")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")

	return cmd
}

func runSimulate(opts *SimulateOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	files, err := findScenarioFiles(path, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	runOpts := []harness.Option{harness.WithLogger(newLogger(opts.RootOptions, cmd.ErrOrStderr()))}
	if opts.Config != "" {
		cfg, err := config.Load(opts.Config)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}
		runOpts = append(runOpts, harness.WithConfig(cfg))
	}

	var journal *store.Store
	if opts.Journal != "" {
		journal, err = store.Open(opts.Journal)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer journal.Close()
	}
	ids := opts.IDs
	if ids == nil {
		ids = engine.UUIDv7Generator{}
	}

	result := SimulateResult{Scenarios: make([]ScenarioResult, 0, len(files)), Total: len(files)}
	for _, file := range files {
		scenOpts := runOpts
		if journal != nil {
			scenOpts = append(scenOpts[:len(scenOpts):len(scenOpts)], harness.WithJournal(journal, ids.Generate()))
		}
		sr := simulateScenario(ctx, file, opts, scenOpts)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Scenarios = append(result.Scenarios, sr)
		if !formatter.JSON() {
			printScenario(formatter, sr)
		}
	}

	if formatter.JSON() {
		resp := CLIResponse{Status: "ok", Data: result}
		if result.Failed > 0 {
			resp.Status = "error"
			resp.Error = &CLIError{
				Code:    ErrCodeScenarioFailed,
				Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
			}
		}
		if err := formatter.Respond(resp); err != nil {
			return err
		}
	} else {
		w := formatter.Writer
		if result.Total == 0 {
			fmt.Fprintln(w, "No scenarios found.")
			return nil
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Simulation Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

func simulateScenario(ctx context.Context, file string, opts *SimulateOptions, runOpts []harness.Option) ScenarioResult {
	sr := ScenarioResult{Name: filepath.Base(file), File: file}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		sr.Errors = []string{fmt.Sprintf("failed to load scenario: %v", err)}
		return sr
	}
	sr.Name = scenario.Name

	result, err := harness.Run(ctx, scenario, runOpts...)
	if err != nil {
		sr.Errors = []string{fmt.Sprintf("execution failed: %v", err)}
		return sr
	}
	sr.RunID = result.RunID
	sr.Events = len(result.Trace)
	sr.Errors = result.Errors
	sr.trace = result.Trace
	sr.Pass = result.Pass

	if err := checkGolden(scenario.Name, file, result, opts.Update); err != nil {
		sr.Pass = false
		sr.Errors = append(sr.Errors, err.Error())
	}
	return sr
}

// findScenarioFiles returns the scenario at path, or every YAML file below
// it when path is a directory. Files under golden/ are skipped.
func findScenarioFiles(path, filter string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "golden" {
				return filepath.SkipDir
			}
			return nil
		}

		ext := filepath.Ext(p)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(p), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, p)
		return nil
	})
	return files, err
}

// goldenFilePath returns golden/<name>.golden next to the scenario file.
func goldenFilePath(scenarioFile, name string) string {
	return filepath.Join(filepath.Dir(scenarioFile), "golden", name+".golden")
}

// checkGolden compares the run with its golden file, or rewrites it when
// update is set. A missing golden file is not an error.
func checkGolden(name, scenarioFile string, result *harness.Result, update bool) error {
	path := goldenFilePath(scenarioFile, name)
	data, err := harness.MarshalSnapshot(harness.Snapshot(name, result))
	if err != nil {
		return fmt.Errorf("failed to marshal trace: %w", err)
	}

	if update {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create golden directory: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("failed to write golden file: %w", err)
		}
		return nil
	}

	want, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read golden file: %w", err)
	}
	if !bytes.Equal(want, data) {
		return fmt.Errorf("trace does not match %s (run with --update to regenerate)", path)
	}
	return nil
}

func printScenario(f *OutputFormatter, sr ScenarioResult) {
	w := f.Writer
	if sr.Pass {
		fmt.Fprintf(w, "✓ %s (%d events)\n", sr.Name, sr.Events)
	} else {
		fmt.Fprintf(w, "✗ %s\n", sr.Name)
		for _, e := range sr.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
	if sr.RunID != "" {
		f.VerboseLog("  run %s", sr.RunID)
	}
	for _, ev := range sr.trace {
		f.VerboseLog("  %s", ev)
	}
}
