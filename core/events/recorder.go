package events

import "sync"

// MemoryRecorder keeps every published event. It is safe for concurrent use.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Emitter.
func (r *MemoryRecorder) Publish(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *MemoryRecorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Contracts returns the recorded contract events for one contract id, or all
// of them when id is empty.
func (r *MemoryRecorder) Contracts(id string) []ContractEvent {
	var out []ContractEvent
	for _, e := range r.Events() {
		if ce, ok := e.(ContractEvent); ok && (id == "" || ce.ContractID == id) {
			out = append(out, ce)
		}
	}
	return out
}

// Count returns how many recorded events match the predicate.
func (r *MemoryRecorder) Count(match func(Event) bool) int {
	n := 0
	for _, e := range r.Events() {
		if match(e) {
			n++
		}
	}
	return n
}
