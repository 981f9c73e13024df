package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/sepflow/internal/config"
	"github.com/roach88/sepflow/internal/facility"
	"github.com/roach88/sepflow/internal/sim"
)

// ValidationIssue is one problem found in a configuration.
type ValidationIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid      bool              `json:"valid"`
	Facilities int               `json:"facilities,omitempty"`
	Duration   int               `json:"duration,omitempty"`
	Errors     []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config.yaml>",
		Short: "Validate a run configuration without running it",
		Long: `Validate a run configuration without running it.

Checks the file against the configuration schema, then builds every
facility so semantic problems (efficiency budgets, stream collisions,
unknown recipes) are reported before a run starts.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return outputValidateError(formatter, ErrCodeNotFound, fmt.Sprintf("config not found: %s", path))
		}
		return outputValidateError(formatter, ErrCodeGeneric, err.Error())
	}

	issues, cfg := ValidateConfig(path, data)
	if len(issues) > 0 {
		return outputValidationErrors(formatter, issues)
	}

	formatter.VerboseLog("Built %d facilities from %s", len(cfg.Facilities), path)
	return outputValidateSuccess(formatter, ValidationResult{
		Valid:      true,
		Facilities: len(cfg.Facilities),
		Duration:   cfg.Simulation.Duration,
	})
}

// ValidateConfig checks a configuration document in both layers: schema
// structure first, then a facility build. The decoded config is returned
// when there are no issues.
func ValidateConfig(filename string, data []byte) ([]ValidationIssue, *config.Config) {
	cfg, err := config.Parse(filename, data)
	if err != nil {
		return schemaIssues(err), nil
	}

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := sim.FromConfig(cfg, sim.WithLogger(quiet)); err != nil {
		return []ValidationIssue{buildIssue(err)}, nil
	}
	return nil, cfg
}

func schemaIssues(err error) []ValidationIssue {
	var ve *config.ValidationError
	if !errors.As(err, &ve) {
		return []ValidationIssue{{Field: "config", Message: err.Error(), Code: ErrCodeValidation}}
	}

	out := make([]ValidationIssue, 0, len(ve.Errors))
	for _, fe := range ve.Errors {
		issue := ValidationIssue{Field: fe.Path, Message: fe.Message, Code: ErrCodeValidation}
		if fe.Pos.IsValid() {
			issue.Line = fe.Pos.Line()
			issue.Column = fe.Pos.Column()
		}
		out = append(out, issue)
	}
	return out
}

func buildIssue(err error) ValidationIssue {
	issue := ValidationIssue{Field: "facilities", Message: err.Error(), Code: ErrorCode(err)}
	var fe *facility.Error
	if errors.As(err, &fe) && fe.Facility != "" {
		issue.Field = "facilities." + fe.Facility
	}
	return issue
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Config valid: %d facilities, duration %d\n", result.Facilities, result.Duration)
	return nil
}

// outputValidateError outputs a single command-level error.
func outputValidateError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, issues []ValidationIssue) error {
	exitErr := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))

	if formatter.Format == "json" {
		resp := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: issues},
			Error: &CLIError{
				Code:    issues[0].Code,
				Message: issues[0].Message,
			},
		}
		if err := formatter.JSON(resp); err != nil {
			return err
		}
		return exitErr
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, issue := range issues {
		if issue.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d, column %d\n", issue.Line, issue.Column)
		}
		fmt.Fprintf(formatter.Writer, "  %s %s: %s\n\n", issue.Code, issue.Field, issue.Message)
	}
	return exitErr
}
