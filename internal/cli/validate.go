package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/waypoint/internal/config"
)

// ConfigIssue is one problem found in a configuration file.
type ConfigIssue struct {
	Path    string `json:"path,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	File       string        `json:"file"`
	Valid      bool          `json:"valid"`
	Trackables int           `json:"trackables"`
	Codec      string        `json:"codec,omitempty"`
	Default    string        `json:"default_resolution,omitempty"`
	Errors     []ConfigIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a configuration file",
		Long: `Validate a waypoint configuration file against its schema.

Reports every schema violation with its line and column, then checks
what the schema cannot express, such as duplicate trackable IDs.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	formatter.VerboseLog("Validating %s", path)

	cfg, err := config.Load(path)
	if err != nil {
		var ve *config.ValidationError
		if !errors.As(err, &ve) {
			_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}
		return outputValidationErrors(formatter, path, ve)
	}

	result := ValidationResult{
		File:       path,
		Valid:      true,
		Trackables: len(cfg.Trackables),
		Codec:      cfg.Codec,
		Default:    cfg.DefaultResolution.String(),
	}
	if formatter.JSON() {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ %s is valid (%d trackable(s), codec %s, default %s)\n",
		path, result.Trackables, result.Codec, result.Default)
	return nil
}

// outputValidationErrors reports schema violations. They are validation
// failures, not command errors.
func outputValidationErrors(formatter *OutputFormatter, path string, ve *config.ValidationError) error {
	issues := make([]ConfigIssue, len(ve.Issues))
	for i, issue := range ve.Issues {
		issues[i] = ConfigIssue{Path: issue.Path, Line: issue.Line, Column: issue.Column, Message: issue.Message}
	}
	failure := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))

	if formatter.JSON() {
		resp := CLIResponse{
			Status: "error",
			Data:   ValidationResult{File: path, Valid: false, Errors: issues},
			Error:  &CLIError{Code: ErrCodeInvalidConfig, Message: failure.Message},
		}
		if err := formatter.Respond(resp); err != nil {
			return err
		}
		return failure
	}

	w := formatter.Writer
	fmt.Fprintln(w, "✗ Validation failed")
	fmt.Fprintln(w)
	for _, issue := range ve.Issues {
		fmt.Fprintf(w, "  %s\n", issue)
	}
	return failure
}
