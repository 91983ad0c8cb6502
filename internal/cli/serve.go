package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/tether/internal/config"
	"github.com/roach88/tether/internal/engine"
	"github.com/roach88/tether/internal/metrics"
	"github.com/roach88/tether/internal/resource"
	"github.com/roach88/tether/internal/store"
	"github.com/roach88/tether/internal/world"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Rooms int
	Churn time.Duration
}

// demoZone is the node whose children the demo binding watches.
const demoZone = "/zone"

// snapshotTimeout bounds how long an HTTP handler waits for the scheduler
// loop to answer.
const snapshotTimeout = 2 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler against a churning demo world",
		Long: `Run the scheduler loop on the configured tick and pacing periods.

A demo world of rooms is bound to a behavior that waits for each room's
sensor; a background churner adds and removes sensors so executions keep
suspending, resuming and restarting. Changing the limits in the config
file applies them from the next tick.

Endpoints:
  GET /metrics     Prometheus metrics
  GET /executions  live executions as JSON
  GET /limits      current limits as JSON
  GET /health      liveness

Examples:
  tether serve
  tether serve --config ./tether.yaml --rooms 64 --churn 50ms`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Rooms, "rooms", 8, "number of demo rooms")
	cmd.Flags().DurationVar(&opts.Churn, "churn", 250*time.Millisecond, "period of demo sensor changes (0 disables)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	if opts.Rooms < 1 {
		return NewExitError(ExitCommandError, "--rooms must be at least 1")
	}

	// Configure logging from the config file, then keep it for reloads.
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.SlogLevel(), opts.Verbose)
	slog.SetDefault(logger)

	collector := metrics.New(prometheus.NewRegistry())
	mopts := []engine.Option{
		engine.WithLimits(cfg.Limits),
		engine.WithLogger(logger),
		engine.WithObserver(collector),
	}

	if cfg.StorePath != "" {
		st, err := store.Open(cfg.StorePath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		run, err := st.BeginRun(context.Background(), engine.UUIDv7Generator{}.Generate(), "serve", cfg.Limits)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to begin run", err)
		}
		logger.Info("journaling run", "db", cfg.StorePath, "run", run.ID())
		mopts = append(mopts, engine.WithJournal(run))
	}

	m := engine.New(mopts...)

	if opts.Config != "" {
		if _, err := config.Watch(opts.Config, logger, func(next config.Config) {
			if err := m.SetLimits(next.Limits); err != nil {
				logger.Warn("reloaded limits rejected", "error", err)
			}
		}); err != nil {
			return WrapExitError(ExitCommandError, "failed to watch config", err)
		}
	}

	w, err := buildDemoWorld(opts.Rooms)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build demo world", err)
	}
	binding := m.Bind("sensor", sensorBehavior(w, logger))
	stopWatch, err := w.WatchChildren(demoZone, binding)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to watch demo world", err)
	}

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           newServeRouter(m, collector),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http listening", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	if opts.Churn > 0 {
		go churn(ctx, m, w, opts.Rooms, opts.Churn)
	}

	ticks := time.NewTicker(cfg.Tick)
	defer ticks.Stop()
	var pacing <-chan time.Time
	if cfg.Pace > 0 {
		pt := time.NewTicker(cfg.Pace)
		defer pt.Stop()
		pacing = pt.C
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Scheduler started with %d rooms. Metrics on http://%s/metrics\n", opts.Rooms, cfg.Listen)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	runErr := m.Run(ctx, ticks.C, pacing)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	stopWatch()
	m.Shutdown()
	logger.Info("scheduler stopped gracefully", "live", m.Live())

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "scheduler error", runErr)
	}
	return nil
}

// buildDemoWorld creates /zone/room-N, every room starting with a sensor.
func buildDemoWorld(rooms int) (*world.World, error) {
	w := world.New()
	if _, err := w.Add(demoZone); err != nil {
		return nil, err
	}
	for i := range rooms {
		room := fmt.Sprintf("%s/room-%d", demoZone, i)
		if _, err := w.Add(room); err != nil {
			return nil, err
		}
		if _, err := w.Add(room + "/sensor"); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func sensorBehavior(w *world.World, logger *slog.Logger) engine.Behavior {
	return func(ctx context.Context, e engine.Entity) engine.CleanupFn {
		sensor, err := resource.WaitFor(ctx, w.Child(e, "sensor"))
		if err != nil {
			return nil
		}
		logger.Debug("sensor online", "room", e.ID(), "sensor", sensor.ID())
		return func() {
			logger.Debug("sensor offline", "room", e.ID())
		}
	}
}

// churn toggles the sensor of a random room every period. The world is
// only touched from the scheduler goroutine through Submit.
func churn(ctx context.Context, m *engine.Manager, w *world.World, rooms int, period time.Duration) {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sensor := fmt.Sprintf("%s/room-%d/sensor", demoZone, rand.IntN(rooms))
			if !m.Submit(func() { toggle(w, sensor) }) {
				return
			}
		}
	}
}

func toggle(w *world.World, path string) {
	if _, ok := w.Lookup(path); ok {
		_ = w.Remove(path)
		return
	}
	_, _ = w.Add(path)
}

// newServeRouter wires the HTTP endpoints of the serve command.
func newServeRouter(m *engine.Manager, c *metrics.Collector) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", c.Handler()).Methods("GET")

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":    "healthy",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}).Methods("GET")

	r.HandleFunc("/limits", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, m.Limits())
	}).Methods("GET")

	r.HandleFunc("/executions", func(w http.ResponseWriter, r *http.Request) {
		snaps, err := snapshot(r.Context(), m)
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, snaps)
	}).Methods("GET")

	return r
}

var errSchedulerUnavailable = errors.New("scheduler not running")

// snapshot asks the scheduler goroutine for the live executions.
func snapshot(ctx context.Context, m *engine.Manager) ([]engine.Snapshot, error) {
	out := make(chan []engine.Snapshot, 1)
	if !m.Submit(func() { out <- m.Executions() }) {
		return nil, errSchedulerUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()
	select {
	case snaps := <-out:
		if snaps == nil {
			snaps = []engine.Snapshot{}
		}
		return snaps, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", errSchedulerUnavailable, ctx.Err())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
