package worker

import (
	"sync"

	"github.com/mercadime/scraperd/internal/scraper"
)

// DefaultLogCapacity is the per-store ring size when none is given.
const DefaultLogCapacity = 500

// LogBuffer keeps the most recent worker log lines per store in a fixed-size
// ring. Old lines fall off once a store's ring is full.
type LogBuffer struct {
	mu       sync.Mutex
	capacity int
	rings    map[string]*ring
}

type ring struct {
	lines []scraper.LogLine
	next  int
	full  bool
}

// NewLogBuffer constructs a LogBuffer with the given per-store capacity.
func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &LogBuffer{
		capacity: capacity,
		rings:    make(map[string]*ring),
	}
}

// Append adds a line to the store's ring.
func (b *LogBuffer) Append(store string, line scraper.LogLine) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rings[store]
	if !ok {
		r = &ring{lines: make([]scraper.LogLine, b.capacity)}
		b.rings[store] = r
	}
	r.lines[r.next] = line
	r.next = (r.next + 1) % b.capacity
	if r.next == 0 {
		r.full = true
	}
}

// Lines returns the store's buffered lines in chronological order.
func (b *LogBuffer) Lines(store string) []scraper.LogLine {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rings[store]
	if !ok {
		return nil
	}
	if !r.full {
		out := make([]scraper.LogLine, r.next)
		copy(out, r.lines[:r.next])
		return out
	}
	out := make([]scraper.LogLine, 0, b.capacity)
	out = append(out, r.lines[r.next:]...)
	out = append(out, r.lines[:r.next]...)
	return out
}

// Clear drops a store's buffered lines.
func (b *LogBuffer) Clear(store string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.rings, store)
}
