package history

import (
	"image"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndSnapshot(t *testing.T) {
	h := New()
	_, ok := h.Latest()
	assert.False(t, ok)

	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	assert.Equal(t, 1, h.Append(Entry{Image: img, Prompt: "a"}))
	assert.Equal(t, 2, h.Append(Entry{Image: img, Prompt: "b", Samples: 4}))

	snap := h.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].Prompt)
	assert.False(t, snap[0].CreatedAt.IsZero())

	h.Append(Entry{Prompt: "c"})
	assert.Len(t, snap, 2, "snapshot must not observe later appends")
	assert.Equal(t, 3, h.Len())

	last, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, "c", last.Prompt)

	e, ok := h.At(1)
	require.True(t, ok)
	assert.Equal(t, 4, e.Samples)

	_, ok = h.At(3)
	assert.False(t, ok)
	_, ok = h.At(-1)
	assert.False(t, ok)
}

func TestConcurrentAppend(t *testing.T) {
	h := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Append(Entry{})
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, h.Len())
}
