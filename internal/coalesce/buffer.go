// Package coalesce collapses bursts of events per source key into a single
// emission per debounce window.
//
// Each key owns a pending list and a timer. The first event for an idle key
// arms the timer; events arriving before it fires are appended. When the
// timer fires only the most recent event is handed to the sink and the key
// goes back to idle. Earlier events in the same window are dropped.
package coalesce

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultWindow is the debounce window used when none is configured.
const DefaultWindow = 250 * time.Millisecond

// Sink receives one coalesced event per key per window.
type Sink[K comparable, E any] func(key K, event E)

// Stats is a snapshot of buffer counters.
type Stats struct {
	Submitted  uint64 `json:"submitted"`
	Emitted    uint64 `json:"emitted"`
	Superseded uint64 `json:"superseded"`
	Pending    int    `json:"pending"`
}

// entry holds the window state of one key. timer != nil iff len(pending) > 0.
type entry[E any] struct {
	pending []E
	timer   *time.Timer
}

// Buffer is a keyed debounce buffer. All methods are safe for concurrent use.
type Buffer[K comparable, E any] struct {
	window time.Duration
	sink   Sink[K, E]

	// emitMu is held shared while a sink runs so Shutdown can wait for
	// in-flight emissions before returning.
	emitMu  sync.RWMutex
	mu      sync.Mutex
	entries map[K]*entry[E]
	closed  bool

	submitted  atomic.Uint64
	emitted    atomic.Uint64
	superseded atomic.Uint64
}

// New creates a buffer that emits to sink after window. A non-positive window
// falls back to DefaultWindow.
func New[K comparable, E any](window time.Duration, sink Sink[K, E]) *Buffer[K, E] {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Buffer[K, E]{
		window:  window,
		sink:    sink,
		entries: make(map[K]*entry[E]),
	}
}

// Window returns the configured debounce window.
func (b *Buffer[K, E]) Window() time.Duration {
	return b.window
}

// Submit appends event to the pending list of key and arms the key's timer
// when it is not already running. Calls after Shutdown are ignored.
func (b *Buffer[K, E]) Submit(key K, event E) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.submitted.Add(1)

	e, ok := b.entries[key]
	if !ok {
		e = &entry[E]{}
		b.entries[key] = e
	}
	e.pending = append(e.pending, event)

	if e.timer == nil {
		e.timer = time.AfterFunc(b.window, func() { b.fire(key, e) })
	}
}

// fire runs on the timer goroutine of key.
func (b *Buffer[K, E]) fire(key K, e *entry[E]) {
	b.emitMu.RLock()
	defer b.emitMu.RUnlock()

	b.mu.Lock()
	if b.closed || b.entries[key] != e {
		// Shut down, or the entry was replaced after this timer was armed.
		b.mu.Unlock()
		return
	}
	delete(b.entries, key)
	pending := e.pending
	e.pending = nil
	e.timer = nil
	b.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	b.superseded.Add(uint64(len(pending) - 1))
	b.emitted.Add(1)
	b.sink(key, pending[len(pending)-1])
}

// Shutdown cancels every window without emitting and waits for emissions
// already in progress. It is idempotent.
func (b *Buffer[K, E]) Shutdown() {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for key, e := range b.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(b.entries, key)
	}
}

// Pending returns the number of events currently held for key.
func (b *Buffer[K, E]) Pending(key K) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.entries[key]; ok {
		return len(e.pending)
	}
	return 0
}

// Stats returns a snapshot of the buffer counters.
func (b *Buffer[K, E]) Stats() Stats {
	b.mu.Lock()
	pending := len(b.entries)
	b.mu.Unlock()

	return Stats{
		Submitted:  b.submitted.Load(),
		Emitted:    b.emitted.Load(),
		Superseded: b.superseded.Load(),
		Pending:    pending,
	}
}
