package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/tether/internal/config"
	"github.com/roach88/tether/internal/engine"
	"github.com/roach88/tether/internal/harness"
	"github.com/roach88/tether/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Label    string

	// RunIDs allows overriding the run ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs engine.IDGenerator
}

// RunOutput is the JSON payload of the run command.
type RunOutput struct {
	Scenario   string            `json:"scenario"`
	RunID      string            `json:"run_id,omitempty"`
	Pass       bool              `json:"pass"`
	Trace      []string          `json:"trace"`
	Executions []engine.Snapshot `json:"executions"`
	Errors     []string          `json:"errors,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Play one scenario and print its trace",
		Long: `Play a scenario file against a fresh scheduler and print the lifecycle
trace and final executions.

With --db the complete trace, shutdown included, is journaled to a SQLite
database as a new run that "tether trace" can read back.

Exit codes:
  0 - All assertions held
  1 - One or more assertions failed
  2 - Command error (unreadable scenario, database error, etc.)

Examples:
  tether run ./scenarios/child_restart.yaml
  tether run ./scenarios/child_restart.yaml --db ./tether.db --label nightly
  tether run ./scenarios/child_restart.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "journal the run to this SQLite database")
	cmd.Flags().StringVar(&opts.Label, "label", "", "run label (defaults to the scenario name)")

	return cmd
}

func runScenarioFile(opts *RunOptions, path string, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.SlogLevel(), opts.Verbose)

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	runOpts := []harness.Option{harness.WithLogger(logger)}
	out := RunOutput{Scenario: scenario.Name}

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = cfg.StorePath
	}
	if dbPath != "" {
		st, err := store.Open(dbPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()

		ids := opts.RunIDs
		if ids == nil {
			ids = engine.UUIDv7Generator{}
		}
		label := opts.Label
		if label == "" {
			label = scenario.Name
		}
		limits := engine.Unlimited()
		if scenario.Limits != nil {
			limits = *scenario.Limits
		}

		run, err := st.BeginRun(context.Background(), ids.Generate(), label, limits)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to begin run", err)
		}
		out.RunID = run.ID()
		runOpts = append(runOpts, harness.WithJournal(run))
		logger.Info("journaling run", "db", dbPath, "run", run.ID(), "label", label)
	}

	result, err := harness.Run(scenario, runOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to play scenario", err)
	}

	out.Pass = result.Pass
	out.Executions = result.Executions
	out.Errors = result.Errors
	out.Trace = make([]string, 0, len(result.Trace))
	for _, ev := range result.Trace {
		out.Trace = append(out.Trace, harness.FormatEvent(ev))
	}

	formatter := newFormatter(opts.RootOptions, cmd)
	if opts.Format == "json" {
		if err := formatter.Success(out); err != nil {
			return err
		}
	} else {
		writeRunText(formatter, out, result)
	}

	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("%d assertion(s) failed", len(result.Errors)))
	}
	return nil
}

func writeRunText(f *OutputFormatter, out RunOutput, result *harness.Result) {
	w := f.Writer
	fmt.Fprintf(w, "Scenario: %s\n", out.Scenario)
	if out.RunID != "" {
		fmt.Fprintf(w, "Run: %s\n", out.RunID)
	}
	fmt.Fprintln(w)
	_, _ = w.Write(harness.FormatResult(result))

	f.VerboseLog("%d ticks, %d events", len(result.Ticks), len(result.Trace))
	for _, r := range result.Ticks {
		if r.Throttled {
			f.VerboseLog("tick %d throttled by %s after %d entries", r.Tick, r.Reason, r.Processed)
		}
	}

	fmt.Fprintln(w)
	if result.Pass {
		fmt.Fprintln(w, "✓ All assertions held")
		return
	}
	for _, e := range result.Errors {
		fmt.Fprintf(w, "✗ %s\n", e)
	}
}
