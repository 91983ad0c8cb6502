package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/tether/internal/engine"
	"github.com/roach88/tether/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database  string
	RunID     string // defaults to the latest run
	Execution string // optional - filter to one execution
	ListRuns  bool
}

// TraceEvent is one journaled lifecycle event.
type TraceEvent struct {
	Seq       int64  `json:"seq"`
	Tick      uint64 `json:"tick"`
	Kind      string `json:"kind"`
	Binding   string `json:"binding,omitempty"`
	Execution string `json:"execution,omitempty"`
	Entity    string `json:"entity,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	RunID    string        `json:"run_id"`
	Label    string        `json:"label"`
	Limits   engine.Limits `json:"limits"`
	Timeline []TraceEvent  `json:"timeline"`
	Stats    TraceStats    `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalEvents int            `json:"total_events"`
	ByKind      map[string]int `json:"by_kind"`
	Restarts    int            `json:"restarts"`
	Throttled   int            `json:"throttled"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show a journaled run",
		Long: `Read a run back from the journal database.

Shows every lifecycle event of the run in sequence order, optionally
restricted to one execution, followed by summary statistics.

Examples:
  tether trace --db ./tether.db
  tether trace --db ./tether.db --runs
  tether trace --db ./tether.db --run 0190a1b2-... --execution exec-3
  tether trace --db ./tether.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run to show (defaults to the latest)")
	cmd.Flags().StringVar(&opts.Execution, "execution", "", "filter to one execution ID")
	cmd.Flags().BoolVar(&opts.ListRuns, "runs", false, "list recorded runs instead")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := newFormatter(opts.RootOptions, cmd)

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if opts.ListRuns {
		return listRuns(ctx, st, formatter)
	}

	info, err := findRun(ctx, st, opts.RunID)
	if errors.Is(err, store.ErrRunNotFound) {
		if opts.Format == "json" {
			return formatter.Error("E_RUN_NOT_FOUND", err.Error(), opts.RunID)
		}
		if opts.RunID != "" {
			fmt.Fprintf(formatter.Writer, "Run not found: %s\n", opts.RunID)
			return nil
		}
		fmt.Fprintln(formatter.Writer, "No runs recorded.")
		return nil
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find run", err)
	}

	var events []engine.Event
	if opts.Execution != "" {
		events, err = st.ReadExecution(ctx, info.ID, opts.Execution)
	} else {
		events, err = st.ReadAll(ctx, info.ID)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read events", err)
	}

	result := TraceResult{
		RunID:    info.ID,
		Label:    info.Label,
		Limits:   info.Limits,
		Timeline: buildTimeline(events),
		Stats:    buildStats(events),
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	return outputTraceText(formatter, result)
}

func findRun(ctx context.Context, st *store.Store, id string) (store.RunInfo, error) {
	if id == "" {
		return st.LatestRun(ctx)
	}
	runs, err := st.Runs(ctx)
	if err != nil {
		return store.RunInfo{}, err
	}
	for _, r := range runs {
		if r.ID == id {
			return r, nil
		}
	}
	return store.RunInfo{}, fmt.Errorf("%w: %s", store.ErrRunNotFound, id)
}

func listRuns(ctx context.Context, st *store.Store, f *OutputFormatter) error {
	runs, err := st.Runs(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}
	if f.Format == "json" {
		return f.Success(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(f.Writer, "No runs recorded.")
		return nil
	}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{r.ID, r.Label, strconv.Itoa(r.Events)})
	}
	return f.Table([]string{"Run", "Label", "Events"}, rows)
}

// buildTimeline converts journaled events to trace timeline events.
func buildTimeline(events []engine.Event) []TraceEvent {
	timeline := make([]TraceEvent, 0, len(events))
	for _, ev := range events {
		timeline = append(timeline, TraceEvent{
			Seq:       ev.Seq,
			Tick:      ev.Tick,
			Kind:      string(ev.Kind),
			Binding:   ev.Binding,
			Execution: ev.Execution,
			Entity:    ev.Entity,
			Detail:    ev.Detail,
		})
	}
	return timeline
}

func buildStats(events []engine.Event) TraceStats {
	stats := TraceStats{TotalEvents: len(events), ByKind: make(map[string]int)}
	for _, ev := range events {
		stats.ByKind[string(ev.Kind)]++
		switch ev.Kind {
		case engine.EventRestarted:
			stats.Restarts++
		case engine.EventThrottled:
			stats.Throttled++
		}
	}
	return stats
}

// outputTraceText renders the timeline as a table followed by the stats.
func outputTraceText(f *OutputFormatter, result TraceResult) error {
	w := f.Writer
	fmt.Fprintf(w, "Run: %s (%s)\n\n", result.RunID, result.Label)

	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "No events.")
		return nil
	}

	rows := make([][]string, 0, len(result.Timeline))
	for _, ev := range result.Timeline {
		rows = append(rows, []string{
			strconv.FormatInt(ev.Seq, 10),
			strconv.FormatUint(ev.Tick, 10),
			ev.Kind,
			ev.Execution,
			ev.Entity,
			ev.Detail,
		})
	}
	if err := f.Table([]string{"Seq", "Tick", "Kind", "Execution", "Entity", "Detail"}, rows); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nEvents: %d  Restarts: %d  Throttled ticks: %d\n",
		result.Stats.TotalEvents, result.Stats.Restarts, result.Stats.Throttled)
	return nil
}
