// Package pipeline adapts external image-to-image backends to one contract:
// given a source image and sampling parameters, return one generated image.
// Backends are slow, stateful and not safe for concurrent use; callers
// serialize access.
package pipeline

import (
	"context"
	"errors"
	"image"
)

const DefaultNegativePrompt = "deformed, distorted, cartoonish, unrealistic, extra limbs, mutated, blurry"

// Scheduler names offered to users.
const (
	SchedulerDDIM   = "DDIM"
	SchedulerEulerA = "Euler A"
	SchedulerPNDM   = "PNDM"
)

var ErrNoImage = errors.New("pipeline returned no image")

type Params struct {
	Prompt         string
	NegativePrompt string
	Image          image.Image
	Strength       float64
	GuidanceScale  float64
	Width          int
	Height         int
	Steps          int
	Scheduler      string
	Seed           int64
}

type Pipeline interface {
	Generate(ctx context.Context, p Params) (image.Image, error)
	Name() string
}

// Func lets a plain function act as a Pipeline.
type Func func(ctx context.Context, p Params) (image.Image, error)

func (f Func) Generate(ctx context.Context, p Params) (image.Image, error) {
	return f(ctx, p)
}

func (f Func) Name() string {
	return "func"
}
