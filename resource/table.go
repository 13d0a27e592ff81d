package resource

import (
	"sync"

	"github.com/wippyai/dynffi/value"
)

// Table maps host values passed as pointer-obj to stable handles.
// A value keeps the same handle for as long as it is in the table, and
// the table holds one reference to it.
//
// An entry added by Insert stays until Remove. An entry added by Acquire
// is pinned, and goes away when Release drops the last pin.
type Table struct {
	slots     slots
	byValue   map[*value.Value]Handle
	pins      map[Handle]int
	held      map[Handle]bool
	observers []Observer
	mu        sync.RWMutex
	obsMu     sync.RWMutex
	closed    bool
}

// NewTable creates an empty object table.
func NewTable() *Table {
	return &Table{
		slots:   newSlots(),
		byValue: make(map[*value.Value]Handle),
		pins:    make(map[Handle]int),
		held:    make(map[Handle]bool),
	}
}

// Insert returns the handle for v, adding it on first use. The entry is
// kept until Remove.
func (t *Table) Insert(v *value.Value) (Handle, error) {
	return t.add(v, false)
}

// Acquire returns the handle for v and pins it. Each Acquire must be
// matched by one Release.
func (t *Table) Acquire(v *value.Value) (Handle, error) {
	return t.add(v, true)
}

func (t *Table) add(v *value.Value, pin bool) (Handle, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, ErrClosed
	}
	h, ok := t.byValue[v]
	if !ok {
		v.IncrRef()
		h = t.slots.create(v)
		t.byValue[v] = h
	}
	if pin {
		t.pins[h]++
	} else {
		t.held[h] = true
	}
	t.mu.Unlock()

	if !ok {
		t.notify(Event{Type: EventCreated, Handle: h, Value: v})
	}
	return h, nil
}

// Release drops one pin taken by Acquire. The entry is removed with its
// last pin unless Insert also added it. It reports whether h was pinned.
func (t *Table) Release(h Handle) bool {
	t.mu.Lock()
	n, ok := t.pins[h]
	if !ok {
		t.mu.Unlock()
		return false
	}
	if n > 1 {
		t.pins[h] = n - 1
		t.mu.Unlock()
		return true
	}
	delete(t.pins, h)
	if t.held[h] {
		t.mu.Unlock()
		return true
	}
	v, dropped := t.drop(h)
	t.mu.Unlock()

	if dropped {
		v.DecrRef()
		t.notify(Event{Type: EventDropped, Handle: h, Value: v})
	}
	return true
}

// Get returns the value behind h.
func (t *Table) Get(h Handle) (*value.Value, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.slots.get(h)
}

// Remove drops h and releases the table's reference.
func (t *Table) Remove(h Handle) (*value.Value, bool) {
	t.mu.Lock()
	v, ok := t.drop(h)
	t.mu.Unlock()
	if !ok {
		return nil, false
	}

	v.DecrRef()
	t.notify(Event{Type: EventDropped, Handle: h, Value: v})
	return v, true
}

func (t *Table) drop(h Handle) (*value.Value, bool) {
	v, ok := t.slots.drop(h)
	if ok {
		delete(t.byValue, v)
		delete(t.pins, h)
		delete(t.held, h)
	}
	return v, ok
}

// Subscribe adds an observer for lifecycle events.
func (t *Table) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Len returns the number of live handles.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.slots.live
}

// Clear drops every handle.
func (t *Table) Clear() {
	// Collect handles first to avoid holding the lock during Remove
	var handles []Handle
	t.mu.RLock()
	t.slots.each(func(h Handle, _ *value.Value) bool {
		handles = append(handles, h)
		return true
	})
	t.mu.RUnlock()
	for _, h := range handles {
		t.Remove(h)
	}
}

// Close drops every handle and rejects further inserts.
func (t *Table) Close() error {
	t.Clear()
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnObjectEvent(e)
	}
}
