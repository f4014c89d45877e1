// Package history keeps the composed outputs of past generations. A History is
// owned by its caller (a web session, a chat, a CLI run); it only grows.
package history

import (
	"image"
	"sync"
	"time"
)

type Entry struct {
	Image     image.Image
	Prompt    string
	Samples   int
	CreatedAt time.Time
}

type History struct {
	mu      sync.Mutex
	entries []Entry
}

func New() *History {
	return &History{}
}

// Append records e and returns the new length.
func (h *History) Append(e Entry) int {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, e)
	return len(h.entries)
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

func (h *History) At(i int) (Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if i < 0 || i >= len(h.entries) {
		return Entry{}, false
	}
	return h.entries[i], true
}

func (h *History) Latest() (Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.entries) == 0 {
		return Entry{}, false
	}
	return h.entries[len(h.entries)-1], true
}

// Snapshot copies the entry list; the images themselves are shared.
func (h *History) Snapshot() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}
