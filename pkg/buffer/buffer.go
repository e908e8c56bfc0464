package buffer

import (
	"sync"

	"github.com/ericvolp12/rental-monitor/pkg/events"
)

// DefaultCap is the size of the event monitor's recent activity list.
const DefaultCap = 1000

// Push returns a new buffer with evt at the front, most recent first.
// An event whose Key is already present leaves the buffer unchanged. Once
// the buffer holds cap events the oldest arrival is dropped. Order is
// arrival order; timestamps are never consulted. buf is not modified.
func Push(buf []events.Event, evt events.Event, cap int) []events.Event {
	out, _ := push(buf, evt, cap)
	return out
}

func push(buf []events.Event, evt events.Event, cap int) ([]events.Event, bool) {
	if cap < 1 {
		cap = DefaultCap
	}

	key := evt.Key()
	for i := range buf {
		if buf[i].Key() == key {
			return buf, false
		}
	}

	n := min(len(buf)+1, cap)
	out := make([]events.Event, n)
	out[0] = evt
	copy(out[1:], buf[:n-1])
	return out, true
}

// Buffer guards a bounded event list for concurrent producers.
type Buffer struct {
	mu     sync.RWMutex
	cap    int
	events []events.Event
}

func New(cap int) *Buffer {
	if cap < 1 {
		cap = DefaultCap
	}
	return &Buffer{cap: cap}
}

// Add pushes evt and reports whether it was new.
func (b *Buffer) Add(evt events.Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	var added bool
	b.events, added = push(b.events, evt, b.cap)
	if added {
		bufferSize.Set(float64(len(b.events)))
	}
	return added
}

// Snapshot returns the events most recent first. The returned slice is never
// written to again, so callers may keep it.
func (b *Buffer) Snapshot() []events.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.events
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}

func (b *Buffer) Cap() int {
	return b.cap
}

func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
	bufferSize.Set(0)
}
