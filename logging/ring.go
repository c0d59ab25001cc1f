package logging

import "sync"

const MemoryLogCapacity = 500

// RingBuffer keeps the most recent entries in insertion order. Once full,
// each Append overwrites the oldest entry.
type RingBuffer struct {
	mu      sync.RWMutex
	entries []Entry
	head    int
	size    int
}

func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = MemoryLogCapacity
	}
	return &RingBuffer{entries: make([]Entry, capacity)}
}

func (r *RingBuffer) Append(entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.head] = entry
	r.head = (r.head + 1) % len(r.entries)
	if r.size < len(r.entries) {
		r.size++
	}
}

// Snapshot returns up to limit of the newest entries, oldest first, as
// copies. limit <= 0 returns everything retained.
func (r *RingBuffer) Snapshot(limit int) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.size
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]Entry, 0, n)
	start := r.head - n
	if start < 0 {
		start += len(r.entries)
	}
	for i := 0; i < n; i++ {
		out = append(out, r.entries[(start+i)%len(r.entries)].Clone())
	}
	return out
}

func (r *RingBuffer) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

func (r *RingBuffer) Cap() int {
	return len(r.entries)
}
