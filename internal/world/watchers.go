package world

// watchers is an insertion-ordered set of callbacks. Callbacks may add or
// remove watchers while being notified; each notification works on a
// snapshot and skips entries removed meanwhile.
type watchers[T any] struct {
	next    int
	entries []watcher[T]
}

type watcher[T any] struct {
	id int
	fn func(T)
}

func newWatchers[T any]() *watchers[T] {
	return &watchers[T]{}
}

func (ws *watchers[T]) add(fn func(T)) (remove func()) {
	ws.next++
	id := ws.next
	ws.entries = append(ws.entries, watcher[T]{id: id, fn: fn})
	return func() {
		for i, e := range ws.entries {
			if e.id == id {
				ws.entries = append(ws.entries[:i:i], ws.entries[i+1:]...)
				return
			}
		}
	}
}

func (ws *watchers[T]) has(id int) bool {
	for _, e := range ws.entries {
		if e.id == id {
			return true
		}
	}
	return false
}

func (ws *watchers[T]) each(call func(fn func(T))) {
	snapshot := append([]watcher[T](nil), ws.entries...)
	for _, e := range snapshot {
		if ws.has(e.id) {
			call(e.fn)
		}
	}
}

func (ws *watchers[T]) len() int {
	return len(ws.entries)
}
