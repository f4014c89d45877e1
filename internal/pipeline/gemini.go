package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/disintegration/imaging"

	"img2img-lab/internal/gemini"
)

// Gemini runs generations through the Gemini image model. The model has no
// notion of strength, guidance or steps, so those are folded into the
// instruction text.
type Gemini struct {
	client *gemini.Client
}

func NewGemini(client *gemini.Client) *Gemini {
	return &Gemini{client: client}
}

func (g *Gemini) Name() string {
	return "gemini"
}

func (g *Gemini) Generate(ctx context.Context, p Params) (image.Image, error) {
	if p.Image == nil {
		return nil, errors.New("gemini: source image is required")
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, p.Image, imaging.PNG); err != nil {
		return nil, fmt.Errorf("gemini: encode source: %w", err)
	}

	source := gemini.ImageInput{
		DataBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		MimeType:   "image/png",
	}
	resp, err := g.client.EditImage(ctx, instruction(p), source, gemini.EditOptions{
		AspectRatio: aspectRatio(p.Width, p.Height),
		Temperature: temperatureFor(p.GuidanceScale),
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	if len(resp.Images) == 0 {
		return nil, ErrNoImage
	}

	_, data, ok := gemini.SplitDataURL(resp.Images[0])
	if !ok {
		return nil, errors.New("gemini: malformed image payload")
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("gemini: decode base64: %w", err)
	}
	out, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("gemini: decode image: %w", err)
	}

	if p.Width > 0 && p.Height > 0 && (out.Bounds().Dx() != p.Width || out.Bounds().Dy() != p.Height) {
		out = imaging.Fill(out, p.Width, p.Height, imaging.Center, imaging.Lanczos)
	}
	return out, nil
}

func instruction(p Params) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(p.Prompt))

	switch {
	case p.Strength >= 0.8:
		b.WriteString("\n\nFeel free to depart strongly from the source image.")
	case p.Strength > 0 && p.Strength <= 0.4:
		b.WriteString("\n\nStay very close to the source image; make only subtle changes.")
	}

	negative := p.NegativePrompt
	if negative == "" {
		negative = DefaultNegativePrompt
	}
	b.WriteString("\n\nAvoid: ")
	b.WriteString(negative)
	return b.String()
}

// temperatureFor maps a guidance scale in [1,20] onto a sampling temperature:
// stronger prompt adherence means less randomness.
func temperatureFor(guidance float64) float64 {
	if guidance <= 0 {
		return 0
	}
	t := 1.2 - guidance/20
	return max(0.2, min(1.2, t))
}

var supportedRatios = []struct {
	label string
	value float64
}{
	{"1:1", 1},
	{"4:3", 4.0 / 3},
	{"3:4", 3.0 / 4},
	{"16:9", 16.0 / 9},
	{"9:16", 9.0 / 16},
	{"3:2", 3.0 / 2},
	{"2:3", 2.0 / 3},
}

// aspectRatio returns the closest ratio the image model accepts.
func aspectRatio(w, h int) string {
	if w <= 0 || h <= 0 {
		return ""
	}
	target := float64(w) / float64(h)
	best := supportedRatios[0]
	bestDiff := math.Abs(target - best.value)
	for _, r := range supportedRatios[1:] {
		if d := math.Abs(target - r.value); d < bestDiff {
			best, bestDiff = r, d
		}
	}
	return best.label
}

