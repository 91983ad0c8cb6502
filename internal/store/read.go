package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/tether/internal/engine"
)

// ErrRunNotFound is returned for unknown run IDs.
var ErrRunNotFound = errors.New("store: run not found")

// RunInfo describes a recorded run.
type RunInfo struct {
	ID     string
	Label  string
	Limits engine.Limits
	Events int
}

// Runs lists runs in the order they were begun.
func (s *Store) Runs(ctx context.Context) ([]RunInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.label, r.limits, COUNT(e.seq)
		FROM runs r
		LEFT JOIN events e ON e.run_id = r.id
		GROUP BY r.id
		ORDER BY r.rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunInfo{}
	for rows.Next() {
		var (
			info       RunInfo
			limitsJSON string
		)
		if err := rows.Scan(&info.ID, &info.Label, &limitsJSON, &info.Events); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if err := json.Unmarshal([]byte(limitsJSON), &info.Limits); err != nil {
			return nil, fmt.Errorf("decode limits of run %s: %w", info.ID, err)
		}
		runs = append(runs, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// LatestRun returns the most recently begun run.
func (s *Store) LatestRun(ctx context.Context) (RunInfo, error) {
	runs, err := s.Runs(ctx)
	if err != nil {
		return RunInfo{}, err
	}
	if len(runs) == 0 {
		return RunInfo{}, ErrRunNotFound
	}
	return runs[len(runs)-1], nil
}

// ReadAll returns every event of a run ordered by seq.
//
// Returns an empty slice (not nil) if the run has no events.
func (s *Store) ReadAll(ctx context.Context, runID string) ([]engine.Event, error) {
	return s.readEvents(ctx, `
		SELECT seq, tick, kind, binding, execution_id, entity, detail
		FROM events
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
}

// ReadExecution returns the events of one execution ordered by seq.
func (s *Store) ReadExecution(ctx context.Context, runID, executionID string) ([]engine.Event, error) {
	return s.readEvents(ctx, `
		SELECT seq, tick, kind, binding, execution_id, entity, detail
		FROM events
		WHERE run_id = ? AND execution_id = ?
		ORDER BY seq ASC
	`, runID, executionID)
}

func (s *Store) readEvents(ctx context.Context, query string, args ...any) ([]engine.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []engine.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func scanEvent(rows *sql.Rows) (engine.Event, error) {
	var (
		ev   engine.Event
		tick int64
		kind string
	)
	if err := rows.Scan(&ev.Seq, &tick, &kind, &ev.Binding, &ev.Execution, &ev.Entity, &ev.Detail); err != nil {
		return engine.Event{}, fmt.Errorf("scan event: %w", err)
	}
	ev.Tick = uint64(tick)
	ev.Kind = engine.EventKind(kind)
	return ev, nil
}
