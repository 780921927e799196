package resources

import (
	"sort"
	"sync"
)

type Listener func(payload any)

// Emitter fans events out to listeners registered per event name.
// Listeners run synchronously on the emitting goroutine, in registration
// order, outside the emitter lock.
type Emitter struct {
	mu   sync.Mutex
	next uint64
	subs map[string]map[uint64]Listener
}

// On registers fn for event and returns its unsubscribe func. Calling the
// unsubscribe func more than once is a no-op.
func (e *Emitter) On(event string, fn Listener) func() {
	e.mu.Lock()
	if e.subs == nil {
		e.subs = make(map[string]map[uint64]Listener)
	}
	if e.subs[event] == nil {
		e.subs[event] = make(map[uint64]Listener)
	}
	e.next++
	id := e.next
	e.subs[event][id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs[event], id)
		if len(e.subs[event]) == 0 {
			delete(e.subs, event)
		}
	}
}

func (e *Emitter) Emit(event string, payload any) {
	e.mu.Lock()
	set := e.subs[event]
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]Listener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, set[id])
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(payload)
	}
}

// ListenerCount reports listeners registered for event.
func (e *Emitter) ListenerCount(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs[event])
}
