// Package grid tiles equally sized images into one canvas for side-by-side
// comparison of several samples.
package grid

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"

	"github.com/disintegration/imaging"
)

var ErrNoImages = errors.New("grid: no images to compose")

// Background fills cells left empty when the last row is not full.
var Background color.Color = color.Black

// Layout picks the column count for n tiles.
type Layout string

const (
	// LayoutPair uses at most two columns.
	LayoutPair Layout = "pair"
	// LayoutSquare uses ceil(sqrt(n)) columns.
	LayoutSquare Layout = "square"
)

func ParseLayout(value string) Layout {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(LayoutPair):
		return LayoutPair
	default:
		return LayoutSquare
	}
}

func (l Layout) Columns(n int) int {
	if n < 1 {
		return 1
	}
	if l == LayoutPair {
		return min(n, 2)
	}
	return int(math.Ceil(math.Sqrt(float64(n))))
}

// Cell returns the column and row of tile i in a grid with cols columns.
func Cell(i, cols int) (col, row int) {
	return i % cols, i / cols
}

// Compose places images left-to-right, top-to-bottom. The tile size is taken
// from the first image; images of another size are drawn at their cell origin
// as they are.
func Compose(images []image.Image, cols int) (*image.NRGBA, error) {
	if len(images) == 0 {
		return nil, ErrNoImages
	}
	if cols < 1 {
		return nil, fmt.Errorf("grid: invalid column count %d", cols)
	}

	tile := images[0].Bounds().Size()
	rows := (len(images) + cols - 1) / cols

	canvas := imaging.New(cols*tile.X, rows*tile.Y, Background)
	for i, img := range images {
		col, row := Cell(i, cols)
		origin := image.Pt(col*tile.X, row*tile.Y)
		b := img.Bounds()
		draw.Draw(canvas, image.Rectangle{Min: origin, Max: origin.Add(b.Size())}, img, b.Min, draw.Src)
	}
	return canvas, nil
}
