package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/tether/internal/config"
)

// Error codes reported by validate.
const (
	ErrCodeConfigInvalid    = "E_CONFIG_INVALID"
	ErrCodeConfigUnreadable = "E_CONFIG_UNREADABLE"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool           `json:"valid"`
	Path   string         `json:"path,omitempty"`
	Config *config.Config `json:"config,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [config.yaml]",
		Short: "Validate a config file",
		Long: `Load a config file with environment overrides applied and check it
against the config schema. Without an argument the --config file is used,
and without either the defaults plus environment are checked.

Exit codes:
  0 - Valid
  1 - Schema violation
  2 - File unreadable or malformed`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.Config
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(rootOpts, path, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	formatter.VerboseLog("Validating %q with %s_* overrides", path, config.EnvPrefix)

	cfg, err := config.Load(path)
	if errors.Is(err, config.ErrInvalid) {
		if ferr := formatter.Error(ErrCodeConfigInvalid, err.Error(), path); ferr != nil {
			return ferr
		}
		return WrapExitError(ExitFailure, "config invalid", err)
	}
	if err != nil {
		if ferr := formatter.Error(ErrCodeConfigUnreadable, err.Error(), path); ferr != nil {
			return ferr
		}
		return WrapExitError(ExitCommandError, "config unreadable", err)
	}

	if opts.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Path: path, Config: &cfg})
	}
	fmt.Fprintln(formatter.Writer, "✓ Config valid")
	rows := [][]string{
		{"tick", cfg.Tick.String()},
		{"pace", cfg.Pace.String()},
		{"listen", cfg.Listen},
		{"store", cfg.StorePath},
		{"log level", cfg.LogLevel},
		{"max_time", cfg.Limits.MaxTime.String()},
		{"max_resource_blocks", fmt.Sprint(cfg.Limits.MaxResourceBlocks)},
		{"max_effect_blocks", fmt.Sprint(cfg.Limits.MaxEffectBlocks)},
		{"max_resource_cleanups", fmt.Sprint(cfg.Limits.MaxResourceCleanups)},
		{"max_effect_cleanups", fmt.Sprint(cfg.Limits.MaxEffectCleanups)},
		{"max_ticks_behind_pacing", fmt.Sprint(cfg.Limits.MaxTicksBehindPacing)},
	}
	return formatter.Table([]string{"Setting", "Value"}, rows)
}
