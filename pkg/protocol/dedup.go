package protocol

import (
	"sync"
)

// DefaultDedupWindow is the number of message ids Dedup remembers by default.
const DefaultDedupWindow = 256

// Dedup remembers the most recent message ids so redelivered messages can be dropped. Once the
// window is full the oldest id is forgotten. Safe for concurrent use.
type Dedup struct {
	mu     sync.Mutex
	seen   map[string]struct{}
	ring   []string
	next   int
	filled bool
}

// NewDedup returns a window of size ids. size must be positive.
func NewDedup(size int) *Dedup {
	if size <= 0 {
		size = DefaultDedupWindow
	}
	return &Dedup{
		seen: make(map[string]struct{}, size),
		ring: make([]string, size),
	}
}

// Seen records id and reports whether it was already in the window. The empty id is never
// recorded and never reported as seen.
func (d *Dedup) Seen(id string) bool {
	if id == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return true
	}

	if d.filled {
		delete(d.seen, d.ring[d.next])
	}
	d.ring[d.next] = id
	d.seen[id] = struct{}{}

	d.next++
	if d.next == len(d.ring) {
		d.next = 0
		d.filled = true
	}
	return false
}

// Len is the number of ids currently remembered.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
