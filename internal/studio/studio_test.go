package studio

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"img2img-lab/internal/grid"
	"img2img-lab/internal/history"
	"img2img-lab/internal/pipeline"
)

type fakePipeline struct {
	mu     sync.Mutex
	calls  []pipeline.Params
	colors []color.NRGBA
	err    error
}

func (f *fakePipeline) Name() string { return "fake" }

func (f *fakePipeline) Generate(_ context.Context, p pipeline.Params) (image.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, p)
	if f.err != nil {
		return nil, f.err
	}
	c := color.NRGBA{R: uint8(40 * len(f.calls)), A: 255}
	f.colors = append(f.colors, c)
	return imaging.New(p.Width, p.Height, c), nil
}

func source(w, h int) image.Image {
	return imaging.New(w, h, color.White)
}

func TestGenerateSingleSampleIsUnmodified(t *testing.T) {
	want := imaging.New(16, 16, color.NRGBA{B: 255, A: 255})
	p := pipeline.Func(func(context.Context, pipeline.Params) (image.Image, error) {
		return want, nil
	})
	o := New(Options{Pipeline: p, MaxPixels: DefaultMaxPixels})
	h := history.New()

	res := o.Generate(context.Background(), h, Request{Image: source(16, 16), Prompt: "cat", Samples: 1})

	require.True(t, res.OK(), res.Log())
	assert.Same(t, want, res.Image)
	assert.Equal(t, []string{"Generating 1/1...", "Generation complete."}, res.Logs)
	assert.Equal(t, 1, h.Len())
	assert.Len(t, res.History, 1)
}

func TestGenerateTilesSamplesRowMajor(t *testing.T) {
	fp := &fakePipeline{}
	o := New(Options{Pipeline: fp, Layout: grid.LayoutPair})

	res := o.Generate(context.Background(), history.New(), Request{
		Image:      source(100, 100),
		Prompt:     "cat",
		Resolution: "10x10",
		Samples:    4,
	})
	require.True(t, res.OK(), res.Log())

	canvas, ok := res.Image.(*image.NRGBA)
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 20, 20), canvas.Bounds())
	assert.Equal(t, fp.colors[0], canvas.NRGBAAt(5, 5))
	assert.Equal(t, fp.colors[1], canvas.NRGBAAt(15, 5))
	assert.Equal(t, fp.colors[2], canvas.NRGBAAt(5, 15))
	assert.Equal(t, fp.colors[3], canvas.NRGBAAt(15, 15))
	assert.Len(t, res.Samples, 4)
	assert.Equal(t, []string{
		"Generating 1/4...",
		"Generating 2/4...",
		"Generating 3/4...",
		"Generating 4/4...",
		"Generation complete.",
	}, res.Logs)
}

func TestGenerateSquareLayout(t *testing.T) {
	o := New(Options{Pipeline: &fakePipeline{}, Layout: grid.LayoutSquare})

	res := o.Generate(context.Background(), history.New(), Request{Image: source(8, 8), Prompt: "x", Samples: 5})
	require.True(t, res.OK())
	assert.Equal(t, image.Rect(0, 0, 24, 16), res.Image.Bounds())
}

func TestGenerateRejectsMissingInput(t *testing.T) {
	fp := &fakePipeline{}
	o := New(Options{Pipeline: fp})
	h := history.New()

	for _, req := range []Request{
		{Image: source(8, 8), Prompt: "   "},
		{Prompt: "cat"},
	} {
		res := o.Generate(context.Background(), h, req)
		assert.Equal(t, StatusRejected, res.Status)
		assert.Nil(t, res.Image)
		assert.Equal(t, []string{"No input or prompt."}, res.Logs)
	}
	assert.Empty(t, fp.calls)
	assert.Equal(t, 0, h.Len())
}

func TestGenerateRejectsOversizedResolution(t *testing.T) {
	fp := &fakePipeline{}
	o := New(Options{Pipeline: fp, MaxPixels: DefaultMaxPixels})
	h := history.New()

	res := o.Generate(context.Background(), h, Request{Image: source(8, 8), Prompt: "cat", Resolution: "3000x3000"})

	assert.Equal(t, StatusRejected, res.Status)
	assert.Nil(t, res.Image)
	assert.Equal(t, []string{"Requested resolution 3000x3000 exceeds the maximum of 4194304 pixels."}, res.Logs)
	assert.ErrorIs(t, res.Err, ErrResolution)
	assert.Empty(t, fp.calls)
	assert.Equal(t, 0, h.Len())
}

func TestGenerateRejectsHugeSides(t *testing.T) {
	tests := []struct {
		name      string
		maxPixels int
		res       string
		wantLog   string
	}{
		{
			name:      "product wraps to zero",
			maxPixels: DefaultMaxPixels,
			res:       "4294967296x4294967296",
			wantLog:   "Requested resolution 4294967296x4294967296 exceeds the maximum side of 16384 pixels.",
		},
		{
			name:      "no pixel budget",
			maxPixels: 0,
			res:       "20000x10",
			wantLog:   "Requested resolution 20000x10 exceeds the maximum side of 16384 pixels.",
		},
		{
			name:      "within sides over budget",
			maxPixels: DefaultMaxPixels,
			res:       "16384x16384",
			wantLog:   "Requested resolution 16384x16384 exceeds the maximum of 4194304 pixels.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := &fakePipeline{}
			h := history.New()
			o := New(Options{Pipeline: fp, MaxPixels: tt.maxPixels})

			res := o.Generate(context.Background(), h, Request{Image: source(8, 8), Prompt: "cat", Resolution: tt.res})

			assert.Equal(t, StatusRejected, res.Status)
			assert.Equal(t, []string{tt.wantLog}, res.Logs)
			assert.ErrorIs(t, res.Err, ErrResolution)
			assert.Empty(t, fp.calls)
			assert.Equal(t, 0, h.Len())
		})
	}
}

func TestGenerateAcceptsExactPixelBudget(t *testing.T) {
	fp := &fakePipeline{}
	o := New(Options{Pipeline: fp, MaxPixels: 64})

	res := o.Generate(context.Background(), history.New(), Request{Image: source(4, 4), Prompt: "cat", Resolution: "16x4"})
	require.True(t, res.OK())

	res = o.Generate(context.Background(), history.New(), Request{Image: source(4, 4), Prompt: "cat", Resolution: "17x4"})
	assert.Equal(t, StatusRejected, res.Status)
}

func TestGenerateRejectsBadResolution(t *testing.T) {
	o := New(Options{Pipeline: &fakePipeline{}})

	res := o.Generate(context.Background(), history.New(), Request{Image: source(8, 8), Prompt: "cat", Resolution: "big"})
	assert.Equal(t, StatusRejected, res.Status)
	assert.ErrorIs(t, res.Err, ErrResolution)
}

func TestGenerateFailureIsTyped(t *testing.T) {
	boom := errors.New("cuda out of memory")
	o := New(Options{Pipeline: &fakePipeline{err: boom}})
	h := history.New()

	res := o.Generate(context.Background(), h, Request{Image: source(8, 8), Prompt: "cat", Samples: 3})

	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, boom)
	assert.Nil(t, res.Image)
	assert.Equal(t, []string{"Generating 1/3...", "Generation failed: cuda out of memory"}, res.Logs)
	assert.Equal(t, 0, h.Len())
}

func TestGenerateNilImageFails(t *testing.T) {
	p := pipeline.Func(func(context.Context, pipeline.Params) (image.Image, error) { return nil, nil })
	res := New(Options{Pipeline: p}).Generate(context.Background(), history.New(), Request{Image: source(4, 4), Prompt: "x"})

	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, pipeline.ErrNoImage)
}

func TestHistoryGrowsByOnePerSuccess(t *testing.T) {
	o := New(Options{Pipeline: &fakePipeline{}})
	h := history.New()

	for i, n := range []int{1, 4, 9, 2} {
		res := o.Generate(context.Background(), h, Request{Image: source(4, 4), Prompt: "cat", Samples: n})
		require.True(t, res.OK())
		assert.Equal(t, i+1, h.Len())
	}
}

func TestGenerateResolvesParams(t *testing.T) {
	fp := &fakePipeline{}
	o := New(Options{Pipeline: fp})

	res := o.Generate(context.Background(), history.New(), Request{
		Image:     source(30, 20),
		Prompt:    " neon cat ",
		Style:     "Cyberpunk",
		Samples:   42,
		Strength:  1.7,
		Guidance:  50,
		Steps:     500,
		Scheduler: "Euler A",
		Seed:      7,
	})
	require.True(t, res.OK())
	require.Len(t, fp.calls, 9)

	first := fp.calls[0]
	assert.Equal(t, "neon cat, in Cyberpunk style", first.Prompt)
	assert.Equal(t, 30, first.Width)
	assert.Equal(t, 20, first.Height)
	assert.Equal(t, image.Rect(0, 0, 30, 20), first.Image.Bounds())
	assert.Equal(t, 1.0, first.Strength)
	assert.Equal(t, 20.0, first.GuidanceScale)
	assert.Equal(t, 100, first.Steps)
	assert.Equal(t, "Euler A", first.Scheduler)
	assert.Equal(t, int64(7), first.Seed)
	assert.Equal(t, int64(8), fp.calls[1].Seed)
}

func TestGenerateKeepsZeroStrength(t *testing.T) {
	fp := &fakePipeline{}
	o := New(Options{Pipeline: fp})

	res := o.Generate(context.Background(), history.New(), Request{Image: source(4, 4), Prompt: "cat", Strength: 0, Guidance: 0})
	require.True(t, res.OK())

	assert.Equal(t, 0.0, fp.calls[0].Strength)
	assert.Equal(t, 1.0, fp.calls[0].GuidanceScale)
	assert.Equal(t, 50, fp.calls[0].Steps)
	assert.NotZero(t, fp.calls[0].Seed)
}

func TestGenerateReportsProgress(t *testing.T) {
	var lines []string
	o := New(Options{Pipeline: &fakePipeline{}})

	res := o.Generate(context.Background(), history.New(), Request{
		Image:    source(4, 4),
		Prompt:   "cat",
		Samples:  2,
		Progress: func(line string) { lines = append(lines, line) },
	})
	require.True(t, res.OK())
	assert.Equal(t, res.Logs, lines)
}

func TestGenerateSerializesPipeline(t *testing.T) {
	var active, peak atomic.Int32
	p := pipeline.Func(func(context.Context, pipeline.Params) (image.Image, error) {
		n := active.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return imaging.New(2, 2, color.Black), nil
	})
	o := New(Options{Pipeline: p})

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.Generate(context.Background(), history.New(), Request{Image: source(2, 2), Prompt: "x", Samples: 2})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
}

func TestGenerateCanceledWhileQueued(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	p := pipeline.Func(func(context.Context, pipeline.Params) (image.Image, error) {
		close(started)
		<-release
		return imaging.New(2, 2, color.Black), nil
	})
	o := New(Options{Pipeline: p})

	done := make(chan Result)
	go func() {
		done <- o.Generate(context.Background(), history.New(), Request{Image: source(2, 2), Prompt: "x"})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := o.Generate(ctx, history.New(), Request{Image: source(2, 2), Prompt: "y"})
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, context.Canceled)

	close(release)
	assert.True(t, (<-done).OK())
}

func TestParseResolution(t *testing.T) {
	src := image.Rect(0, 0, 640, 480)

	tests := []struct {
		in      string
		w, h    int
		wantErr bool
	}{
		{in: "Same as Input", w: 640, h: 480},
		{in: "", w: 640, h: 480},
		{in: "512x512", w: 512, h: 512},
		{in: " 1024 X 768 ", w: 1024, h: 768},
		{in: "0x10", wantErr: true},
		{in: "axb", wantErr: true},
		{in: "512", wantErr: true},
	}
	for _, tt := range tests {
		w, h, err := ParseResolution(tt.in, src)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrResolution, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.w, w, tt.in)
		assert.Equal(t, tt.h, h, tt.in)
	}
}

func TestComposePrompt(t *testing.T) {
	assert.Equal(t, "cat", ComposePrompt("cat", "None"))
	assert.Equal(t, "cat", ComposePrompt(" cat ", ""))
	assert.Equal(t, "cat", ComposePrompt("cat", "none"))
	assert.Equal(t, "cat, in Oil Painting style", ComposePrompt("cat", "Oil Painting"))
}
