package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/tether/internal/engine"
)

// Run is one process's slice of the journal. It implements engine.Journal.
type Run struct {
	store *Store
	id    string
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// BeginRun registers a run and returns the journal that writes into it.
// Beginning an existing run again reuses it.
func (s *Store) BeginRun(ctx context.Context, id, label string, limits engine.Limits) (*Run, error) {
	limitsJSON, err := json.Marshal(limits)
	if err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, label, limits)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, label, string(limitsJSON))
	if err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}
	return &Run{store: s, id: id}, nil
}

// Record appends ev to the run. Uses ON CONFLICT DO NOTHING so a retried
// write of the same seq is ignored.
func (r *Run) Record(ctx context.Context, ev engine.Event) error {
	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO events
		(run_id, seq, tick, kind, binding, execution_id, entity, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		r.id,
		ev.Seq,
		int64(ev.Tick),
		string(ev.Kind),
		ev.Binding,
		ev.Execution,
		ev.Entity,
		ev.Detail,
	)
	if err != nil {
		return fmt.Errorf("record %s event seq=%d: %w", ev.Kind, ev.Seq, err)
	}
	return nil
}

var _ engine.Journal = (*Run)(nil)
