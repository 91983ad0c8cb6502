package world

import (
	"github.com/roach88/tether/internal/engine"
	"github.com/roach88/tether/internal/resource"
)

// Child is the condition "parent has a child called name". The value is
// the child node; it is lost when that node is removed.
func (w *World) Child(parent engine.Entity, name string) resource.Condition[*Node] {
	return childCondition{w: w, parent: parent.ID(), name: name}
}

// Path is the condition "a node exists at path".
func (w *World) Path(path string) resource.Condition[*Node] {
	clean, err := Clean(path)
	if err != nil {
		clean = path
	}
	return pathCondition{w: w, path: clean}
}

type childCondition struct {
	w      *World
	parent string
	name   string
}

func (c childCondition) target() pathCondition {
	clean, err := Clean(c.parent + "/" + c.name)
	if err != nil {
		clean = ""
	}
	return pathCondition{w: c.w, path: clean}
}

func (c childCondition) CheckNow(report func(*Node)) {
	c.target().CheckNow(report)
}

func (c childCondition) TrackUntilFound(report func(*Node)) func() {
	return c.target().TrackUntilFound(report)
}

func (c childCondition) TrackUntilLost(n *Node, reportLost func()) func() {
	return c.target().TrackUntilLost(n, reportLost)
}

type pathCondition struct {
	w    *World
	path string
}

func (c pathCondition) CheckNow(report func(*Node)) {
	if n, ok := c.w.nodes[c.path]; ok {
		report(n)
	}
}

func (c pathCondition) TrackUntilFound(report func(*Node)) func() {
	if c.path == "" {
		return func() {}
	}
	return c.w.onAppear(c.path, report)
}

func (c pathCondition) TrackUntilLost(n *Node, reportLost func()) func() {
	if n == nil || n.removed {
		reportLost()
		return func() {}
	}
	return c.w.onVanish(n.path, func(*Node) { reportLost() })
}
