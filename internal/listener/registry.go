// Package listener holds the per-event-type listener table used by the bridge.
//
// Removal leaves a tombstone in place of the listener so that the slot index
// handed out by Add stays valid for every other listener of the same event.
package listener

import (
	"sync"

	"github.com/HsiangNianian/AMonItor/bridge/internal/protocol"
)

// Func is a listener callback. Returning the bool false vetoes the event;
// any other value, nil included, allows it.
type Func func(args ...any) any

// Listener gives a Func an identity so it can later be removed by reference.
type Listener struct {
	fn Func
}

func New(fn Func) *Listener {
	return &Listener{fn: fn}
}

func (l *Listener) Call(args ...any) any {
	return l.fn(args...)
}

// Slot is the stable index of a listener within one event type.
type Slot int

// Positional as notify data spreads Args over the listener parameters
// instead of passing the data as a single argument.
type Positional struct {
	Args []any
}

type slot struct {
	listener *Listener // nil once removed
}

type Registry struct {
	mu     sync.Mutex
	events map[protocol.EventType][]*slot
}

func NewRegistry() *Registry {
	return &Registry{events: make(map[protocol.EventType][]*slot)}
}

// Add appends l to the listeners of t and returns its slot.
func (r *Registry) Add(t protocol.EventType, l *Listener) Slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[t] = append(r.events[t], &slot{listener: l})
	return Slot(len(r.events[t]) - 1)
}

func (r *Registry) AddFunc(t protocol.EventType, fn Func) (Slot, *Listener) {
	l := New(fn)
	return r.Add(t, l), l
}

func (r *Registry) AddAll(listeners map[protocol.EventType]*Listener) map[protocol.EventType]Slot {
	slots := make(map[protocol.EventType]Slot, len(listeners))
	for t, l := range listeners {
		slots[t] = r.Add(t, l)
	}
	return slots
}

// Remove tombstones the slot. Unknown event types and slots are ignored.
func (r *Registry) Remove(t protocol.EventType, s Slot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	slots := r.events[t]
	if s < 0 || int(s) >= len(slots) {
		return
	}
	slots[s].listener = nil
}

// RemoveListener tombstones the first active slot holding l.
func (r *Registry) RemoveListener(t protocol.EventType, l *Listener) bool {
	if l == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.events[t] {
		if s.listener == l {
			s.listener = nil
			return true
		}
	}
	return false
}

// RemoveAll drops every listener of t. The next Add for t starts at slot 0.
func (r *Registry) RemoveAll(t protocol.EventType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drop(t)
}

// Clear empties the whole registry.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for t := range r.events {
		r.drop(t)
	}
}

// drop tombstones before deleting so that a notify pass holding a snapshot
// of the sequence stops calling the removed listeners.
func (r *Registry) drop(t protocol.EventType) {
	for _, s := range r.events[t] {
		s.listener = nil
	}
	delete(r.events, t)
}

// Len returns the number of active listeners of t.
func (r *Registry) Len(t protocol.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.events[t] {
		if s.listener != nil {
			n++
		}
	}
	return n
}

// Notify calls every active listener of t in slot order and reports whether
// none of them returned false. All listeners run even after a veto.
//
// The sequence is captured on entry: listeners added while the pass runs are
// not called, listeners removed while it runs are skipped once reached.
// Callbacks run without the registry lock held and may modify the registry.
func (r *Registry) Notify(t protocol.EventType, data any) bool {
	r.mu.Lock()
	snapshot := append([]*slot(nil), r.events[t]...)
	r.mu.Unlock()

	args := []any{data}
	if p, ok := data.(Positional); ok {
		args = p.Args
	}

	allow := true
	for _, s := range snapshot {
		r.mu.Lock()
		l := s.listener
		r.mu.Unlock()
		if l == nil {
			continue
		}
		if v, ok := l.Call(args...).(bool); ok && !v {
			allow = false
		}
	}
	return allow
}
