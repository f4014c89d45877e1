// Package studio turns one generation request into a composed image: it
// validates the request, drives the pipeline once per sample and tiles the
// samples into a grid.
package studio

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/semaphore"

	"img2img-lab/internal/grid"
	"img2img-lab/internal/history"
	"img2img-lab/internal/pipeline"
	"img2img-lab/internal/presets"
)

const DefaultMaxPixels = 2048 * 2048

// MaxSide bounds either dimension regardless of the pixel budget.
const MaxSide = 16384

const (
	maxSteps    = 100
	minGuidance = 1
	maxGuidance = 20
)

var ErrResolution = errors.New("invalid resolution")

type Status string

const (
	StatusOK       Status = "ok"
	StatusRejected Status = "rejected"
	StatusFailed   Status = "failed"
)

type Request struct {
	Image          image.Image
	Prompt         string
	NegativePrompt string
	Style          string
	Resolution     string
	Samples        int
	// Strength and Guidance are taken as given and only clamped; front-ends
	// fill in preset defaults. Zero strength is a valid request.
	Strength float64
	Guidance float64
	Scheduler      string
	Steps          int
	Seed           int64

	// Progress, when set, receives every log line as it is produced.
	Progress func(line string)
}

type Result struct {
	Status  Status
	Image   image.Image
	Samples []image.Image
	Logs    []string
	History []history.Entry
	Err     error
}

func (r Result) OK() bool {
	return r.Status == StatusOK
}

// Log joins the log lines the way front-ends display them.
func (r Result) Log() string {
	return strings.Join(r.Logs, "\n")
}

type Options struct {
	Pipeline  pipeline.Pipeline
	Layout    grid.Layout
	MaxPixels int
	Logger    *slog.Logger
}

type Orchestrator struct {
	pipeline  pipeline.Pipeline
	layout    grid.Layout
	maxPixels int
	sem       *semaphore.Weighted
	logger    *slog.Logger
}

func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	layout := opts.Layout
	if layout == "" {
		layout = grid.LayoutSquare
	}
	return &Orchestrator{
		pipeline:  opts.Pipeline,
		layout:    layout,
		maxPixels: opts.MaxPixels,
		sem:       semaphore.NewWeighted(1),
		logger:    logger,
	}
}

type run struct {
	req  Request
	logs []string
}

func (r *run) log(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	r.logs = append(r.logs, line)
	if r.req.Progress != nil {
		r.req.Progress(line)
	}
}

func (r *run) result(status Status, err error) Result {
	return Result{Status: status, Logs: r.logs, Err: err}
}

// Generate runs req against the pipeline and, on success, appends the composed
// image to h. Rejected and failed requests leave h untouched.
func (o *Orchestrator) Generate(ctx context.Context, h *history.History, req Request) Result {
	r := &run{req: req}

	if req.Image == nil || strings.TrimSpace(req.Prompt) == "" {
		r.log("No input or prompt.")
		return r.result(StatusRejected, nil)
	}

	width, height, err := ParseResolution(req.Resolution, req.Image.Bounds())
	if err != nil {
		r.log("Invalid resolution %q.", req.Resolution)
		return r.result(StatusRejected, err)
	}
	if width > MaxSide || height > MaxSide {
		r.log("Requested resolution %dx%d exceeds the maximum side of %d pixels.", width, height, MaxSide)
		return r.result(StatusRejected, fmt.Errorf("%w: %dx%d exceeds side %d", ErrResolution, width, height, MaxSide))
	}
	// Compared by division so w*h cannot overflow.
	if o.maxPixels > 0 && width > o.maxPixels/height {
		r.log("Requested resolution %dx%d exceeds the maximum of %d pixels.", width, height, o.maxPixels)
		return r.result(StatusRejected, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrResolution, width, height, o.maxPixels))
	}

	samples := clampInt(req.Samples, 1, presets.MaxSamples)
	params := pipeline.Params{
		Prompt:         ComposePrompt(req.Prompt, req.Style),
		NegativePrompt: req.NegativePrompt,
		Image:          imaging.Resize(req.Image, width, height, imaging.Lanczos),
		Strength:       clampFloat(req.Strength, 0, 1),
		GuidanceScale:  clampFloat(req.Guidance, minGuidance, maxGuidance),
		Width:          width,
		Height:         height,
		Steps:          clampInt(orDefaultInt(req.Steps, presets.DefaultSteps), 1, maxSteps),
		Scheduler:      req.Scheduler,
	}
	seed := req.Seed
	if seed == 0 {
		seed = rand.Int64N(1 << 32)
	}

	if err := o.sem.Acquire(ctx, 1); err != nil {
		r.log("Generation failed: %v", err)
		return r.result(StatusFailed, err)
	}
	defer o.sem.Release(1)

	outputs := make([]image.Image, 0, samples)
	for i := range samples {
		r.log("Generating %d/%d...", i+1, samples)
		params.Seed = seed + int64(i)

		img, err := o.pipeline.Generate(ctx, params)
		if err == nil && img == nil {
			err = pipeline.ErrNoImage
		}
		if err != nil {
			o.logger.Warn("pipeline call failed", "backend", o.pipeline.Name(), "sample", i+1, "error", err)
			r.log("Generation failed: %v", err)
			return r.result(StatusFailed, fmt.Errorf("sample %d: %w", i+1, err))
		}
		outputs = append(outputs, img)
	}

	composed := outputs[0]
	if samples > 1 {
		canvas, err := grid.Compose(outputs, o.layout.Columns(samples))
		if err != nil {
			r.log("Generation failed: %v", err)
			return r.result(StatusFailed, err)
		}
		composed = canvas
	}

	h.Append(history.Entry{Image: composed, Prompt: params.Prompt, Samples: samples})
	r.log("Generation complete.")
	o.logger.Info("generation complete", "backend", o.pipeline.Name(), "samples", samples, "width", width, "height", height)

	return Result{
		Status:  StatusOK,
		Image:   composed,
		Samples: outputs,
		Logs:    r.logs,
		History: h.Snapshot(),
	}
}

// ParseResolution returns the target size for choice. "Same as Input" and the
// empty string use the source bounds; anything else must be "WxH".
func ParseResolution(choice string, source image.Rectangle) (int, int, error) {
	choice = strings.TrimSpace(choice)
	if choice == "" || strings.EqualFold(choice, presets.SameAsInput) {
		if source.Dx() <= 0 || source.Dy() <= 0 {
			return 0, 0, fmt.Errorf("%w: empty source image", ErrResolution)
		}
		return source.Dx(), source.Dy(), nil
	}

	ws, hs, ok := strings.Cut(strings.ToLower(choice), "x")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrResolution, choice)
	}
	w, errW := strconv.Atoi(strings.TrimSpace(ws))
	h, errH := strconv.Atoi(strings.TrimSpace(hs))
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("%w: %q", ErrResolution, choice)
	}
	return w, h, nil
}

// ComposePrompt appends the style suffix unless style is empty or "None".
func ComposePrompt(prompt, style string) string {
	prompt = strings.TrimSpace(prompt)
	style = strings.TrimSpace(style)
	if style == "" || strings.EqualFold(style, presets.NoneStyle) {
		return prompt
	}
	return fmt.Sprintf("%s, in %s style", prompt, style)
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

func clampFloat(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
