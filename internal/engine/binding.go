package engine

import (
	"log/slog"

	"github.com/roach88/tether/internal/thread"
)

// Binding attaches one behavior to a changing set of entities. It is the
// Add / Remove / RemoveAll triple an entity event source drives.
//
// Thread-safety: none. Call from the driving goroutine, or use
// Manager.Submit.
type Binding struct {
	mgr       *Manager
	name      string
	behavior  Behavior
	traceback string

	executions map[string]*Execution
	order      []*Execution
}

// Name returns the binding's name.
func (b *Binding) Name() string { return b.name }

// Add starts an Execution for entity. The behavior first runs on the next
// tick. Adding an entity that is already live is reported and ignored.
func (b *Binding) Add(entity Entity) error {
	m := b.mgr
	id := entity.ID()
	if _, ok := b.executions[id]; ok {
		err := NewDuplicateAddError(b.name, id)
		m.logger.Warn("duplicate add ignored",
			"binding", b.name,
			"entity", id,
		)
		m.emit(Event{Kind: EventDiagnostic, Binding: b.name, Entity: id, Detail: err.Error()})
		return err
	}

	e := &Execution{
		id:      m.ids.Generate(),
		mgr:     m,
		binding: b,
		entity:  entity,
		state:   StatePending,
		queued:  DirectiveContinue,
	}
	b.executions[id] = e
	b.order = append(b.order, e)
	m.live++
	m.work.push(e)

	m.emitFor(e, EventAdded, "")
	return nil
}

// Remove finishes the Execution for entity. Cleanups run on the next tick.
func (b *Binding) Remove(entity Entity) error {
	id := entity.ID()
	e, ok := b.executions[id]
	if !ok {
		b.mgr.logger.Debug("remove for unknown entity",
			"binding", b.name,
			"entity", id,
		)
		return NewUnknownEntityError(b.name, id)
	}
	b.forget(e)
	e.request(DirectiveFinish)
	return nil
}

// RemoveAll finishes every Execution of the binding, in the order the
// entities were added.
func (b *Binding) RemoveAll() {
	order := b.order
	b.order = nil
	b.executions = make(map[string]*Execution)
	for _, e := range order {
		e.request(DirectiveFinish)
	}
}

// Execution returns the live Execution for an entity ID.
func (b *Binding) Execution(entityID string) (*Execution, bool) {
	e, ok := b.executions[entityID]
	return e, ok
}

// Len returns the number of entities currently added.
func (b *Binding) Len() int {
	return len(b.executions)
}

func (b *Binding) forget(e *Execution) {
	delete(b.executions, e.entity.ID())
	for i, x := range b.order {
		if x == e {
			b.order = append(b.order[:i:i], b.order[i+1:]...)
			return
		}
	}
}

func (b *Binding) logAttrs(e *Execution) []any {
	return []any{
		slog.String("binding", b.name),
		slog.String("execution", e.id),
		slog.String("entity", e.entity.ID()),
	}
}

// traceFor builds the traceback attached to diagnostics of e's computation.
func (b *Binding) traceFor(e *Execution) string {
	return behaviorTraceback(b.traceback, e.entity)
}

var _ thread.Owner = owner{}
