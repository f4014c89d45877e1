package mediagroup

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sink struct {
	mu      sync.Mutex
	batches []Batch
	done    chan struct{}
}

func newSink() *sink {
	return &sink{done: make(chan struct{}, 16)}
}

func (s *sink) flush(b Batch) {
	s.mu.Lock()
	s.batches = append(s.batches, b)
	s.mu.Unlock()
	s.done <- struct{}{}
}

func (s *sink) wait(t *testing.T) {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatal("batch was not flushed")
	}
}

func TestAggregatorCollectsAlbum(t *testing.T) {
	s := newSink()
	a := New(Options{Debounce: 20 * time.Millisecond, OnFlush: s.flush})

	a.Add(Item{ChatID: 1, MediaGroupID: "g", FileID: "a"})
	a.Add(Item{ChatID: 1, MediaGroupID: "g", FileID: "b", Caption: "make it neon"})
	a.Add(Item{ChatID: 1, MediaGroupID: "g", FileID: "c"})
	s.wait(t)

	require.Len(t, s.batches, 1)
	assert.Equal(t, []string{"a", "b", "c"}, s.batches[0].FileIDs)
	assert.Equal(t, "make it neon", s.batches[0].Caption)
	assert.Equal(t, 0, a.Pending())
}

func TestAggregatorSeparatesChats(t *testing.T) {
	s := newSink()
	a := New(Options{Debounce: 20 * time.Millisecond, OnFlush: s.flush})

	a.Add(Item{ChatID: 1, MediaGroupID: "g", FileID: "a"})
	a.Add(Item{ChatID: 2, MediaGroupID: "g", FileID: "b"})
	s.wait(t)
	s.wait(t)

	assert.Len(t, s.batches, 2)
}

func TestAggregatorFlushesFullAlbum(t *testing.T) {
	s := newSink()
	a := New(Options{Debounce: time.Hour, OnFlush: s.flush})

	for i := range MaxItems {
		a.Add(Item{ChatID: 1, MediaGroupID: "g", FileID: string(rune('a' + i))})
	}
	s.wait(t)

	assert.Len(t, s.batches[0].FileIDs, MaxItems)
	assert.Equal(t, 0, a.Pending())
}

func TestAggregatorIgnoresIncompleteItemsAndClose(t *testing.T) {
	s := newSink()
	a := New(Options{Debounce: time.Hour, OnFlush: s.flush})

	a.Add(Item{ChatID: 1, FileID: "a"})
	a.Add(Item{ChatID: 1, MediaGroupID: "g"})
	assert.Equal(t, 0, a.Pending())

	a.Add(Item{ChatID: 1, MediaGroupID: "g", FileID: "a"})
	assert.Equal(t, 1, a.Pending())

	a.Close()
	assert.Equal(t, 0, a.Pending())
	a.Add(Item{ChatID: 1, MediaGroupID: "h", FileID: "b"})
	assert.Equal(t, 0, a.Pending())
}
