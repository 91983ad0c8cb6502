// Package world is an in-memory tree of named entities.
//
// It stands in for the host's entity graph: nodes appear and disappear,
// bindings are fed with the children of a node, and behaviors wait for a
// named child through Child. Names are NFC-normalised so that visually
// identical names always address the same node.
//
// Thread-safety: none. A World belongs to the goroutine driving the
// scheduler; other goroutines mutate it through engine.Manager.Submit.
package world

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/tether/internal/engine"
)

var (
	// ErrExists is returned when adding a node that is already present.
	ErrExists = errors.New("world: node already exists")
	// ErrNotFound is returned for paths that do not name a node.
	ErrNotFound = errors.New("world: node not found")
	// ErrInvalidPath is returned for malformed paths.
	ErrInvalidPath = errors.New("world: invalid path")
)

// Node is one entity of the tree. It implements engine.Entity; its ID is
// its normalised path.
type Node struct {
	name     string
	path     string
	parent   *Node
	children []*Node
	removed  bool
}

// ID returns the node's path, e.g. "/room/lamp".
func (n *Node) ID() string { return n.path }

// Name returns the last path segment.
func (n *Node) Name() string { return n.name }

// Parent returns the parent node, nil for the root.
func (n *Node) Parent() *Node { return n.parent }

// Removed reports whether the node has been removed from its world.
func (n *Node) Removed() bool { return n.removed }

// Children returns the direct children in insertion order.
func (n *Node) Children() []*Node {
	return append([]*Node(nil), n.children...)
}

func (n *Node) String() string { return n.path }

// ChildSink receives the children of a watched node. engine.Binding
// implements it.
type ChildSink interface {
	Add(e engine.Entity) error
	Remove(e engine.Entity) error
	RemoveAll()
}

// World is the tree plus its watchers.
type World struct {
	root  *Node
	nodes map[string]*Node

	// appear is keyed by the path of a node that does not exist yet.
	appear map[string]*watchers[*Node]
	// vanish is keyed by the path of an existing node.
	vanish map[string]*watchers[*Node]
	// subs is keyed by the parent path of WatchChildren subscriptions.
	subs map[string]*watchers[childEvent]
}

type childEvent struct {
	node  *Node
	added bool
}

// New creates a world holding only the root node "/".
func New() *World {
	root := &Node{path: "/"}
	return &World{
		root:   root,
		nodes:  map[string]*Node{"/": root},
		appear: make(map[string]*watchers[*Node]),
		vanish: make(map[string]*watchers[*Node]),
		subs:   make(map[string]*watchers[childEvent]),
	}
}

// Root returns the root node.
func (w *World) Root() *Node { return w.root }

// Len returns the number of nodes, the root included.
func (w *World) Len() int { return len(w.nodes) }

// Clean normalises a path: NFC names, a single leading slash, no empty,
// "." or ".." segments.
func Clean(path string) (string, error) {
	segments, err := split(path)
	if err != nil {
		return "", err
	}
	return "/" + strings.Join(segments, "/"), nil
}

func split(path string) ([]string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, nil
	}
	parts := strings.Split(trimmed, "/")
	for i, p := range parts {
		p = norm.NFC.String(strings.TrimSpace(p))
		if p == "" || p == "." || p == ".." {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
		parts[i] = p
	}
	return parts, nil
}

func join(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

// Lookup returns the node at path.
func (w *World) Lookup(path string) (*Node, bool) {
	clean, err := Clean(path)
	if err != nil {
		return nil, false
	}
	n, ok := w.nodes[clean]
	return n, ok
}

// Add creates the node at path. Its parent must exist. Watchers waiting for
// the node and subscribers of the parent are notified synchronously.
func (w *World) Add(path string) (*Node, error) {
	segments, err := split(path)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: root", ErrExists)
	}
	parentPath := "/" + strings.Join(segments[:len(segments)-1], "/")
	parent, ok := w.nodes[parentPath]
	if !ok {
		return nil, fmt.Errorf("%w: parent %s", ErrNotFound, parentPath)
	}
	name := segments[len(segments)-1]
	p := join(parent.path, name)
	if _, exists := w.nodes[p]; exists {
		return nil, fmt.Errorf("%w: %s", ErrExists, p)
	}

	n := &Node{name: name, path: p, parent: parent}
	parent.children = append(parent.children, n)
	w.nodes[p] = n

	if ws, ok := w.appear[p]; ok {
		ws.each(func(fn func(*Node)) { fn(n) })
	}
	if ws, ok := w.subs[parent.path]; ok {
		ws.each(func(fn func(childEvent)) { fn(childEvent{node: n, added: true}) })
	}
	return n, nil
}

// MustAdd is Add for fixtures; it panics on error.
func (w *World) MustAdd(path string) *Node {
	n, err := w.Add(path)
	if err != nil {
		panic(err)
	}
	return n
}

// Remove deletes the node at path together with its subtree. Descendants
// go first, deepest first, so watchers observe children vanishing before
// their parent.
func (w *World) Remove(path string) error {
	clean, err := Clean(path)
	if err != nil {
		return err
	}
	if clean == "/" {
		return fmt.Errorf("%w: cannot remove root", ErrInvalidPath)
	}
	n, ok := w.nodes[clean]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, clean)
	}
	w.remove(n)
	return nil
}

func (w *World) remove(n *Node) {
	for len(n.children) > 0 {
		w.remove(n.children[len(n.children)-1])
	}

	parent := n.parent
	for i, c := range parent.children {
		if c == n {
			parent.children = append(parent.children[:i:i], parent.children[i+1:]...)
			break
		}
	}
	delete(w.nodes, n.path)
	n.removed = true

	if ws, ok := w.vanish[n.path]; ok {
		ws.each(func(fn func(*Node)) { fn(n) })
	}
	if ws, ok := w.subs[parent.path]; ok {
		ws.each(func(fn func(childEvent)) { fn(childEvent{node: n}) })
	}
}

// WatchChildren feeds sink with the direct children of the node at
// parentPath: every current child is added immediately, later children as
// they appear, and removed children are removed. The returned stop
// function unsubscribes and calls sink.RemoveAll.
func (w *World) WatchChildren(parentPath string, sink ChildSink) (stop func(), err error) {
	clean, err := Clean(parentPath)
	if err != nil {
		return nil, err
	}
	ws, ok := w.subs[clean]
	if !ok {
		ws = newWatchers[childEvent]()
		w.subs[clean] = ws
	}
	unsubscribe := ws.add(func(ev childEvent) {
		if ev.added {
			_ = sink.Add(ev.node)
			return
		}
		_ = sink.Remove(ev.node)
	})

	if parent, ok := w.nodes[clean]; ok {
		for _, c := range parent.Children() {
			if err := sink.Add(c); err != nil {
				unsubscribe()
				return nil, err
			}
		}
	}

	stopped := false
	return func() {
		if stopped {
			return
		}
		stopped = true
		unsubscribe()
		sink.RemoveAll()
	}, nil
}

func (w *World) onAppear(path string, fn func(*Node)) func() {
	ws, ok := w.appear[path]
	if !ok {
		ws = newWatchers[*Node]()
		w.appear[path] = ws
	}
	remove := ws.add(fn)
	return func() {
		remove()
		if ws.len() == 0 && w.appear[path] == ws {
			delete(w.appear, path)
		}
	}
}

func (w *World) onVanish(path string, fn func(*Node)) func() {
	ws, ok := w.vanish[path]
	if !ok {
		ws = newWatchers[*Node]()
		w.vanish[path] = ws
	}
	remove := ws.add(fn)
	return func() {
		remove()
		if ws.len() == 0 && w.vanish[path] == ws {
			delete(w.vanish, path)
		}
	}
}

// Watchers returns the number of active appear and vanish watchers.
func (w *World) Watchers() int {
	total := 0
	for _, ws := range w.appear {
		total += ws.len()
	}
	for _, ws := range w.vanish {
		total += ws.len()
	}
	return total
}
