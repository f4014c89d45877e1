package grid

import (
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.NRGBA) image.Image {
	return imaging.New(w, h, c)
}

func palette(n int) []color.NRGBA {
	out := make([]color.NRGBA, n)
	for i := range out {
		out[i] = color.NRGBA{R: uint8(20 * (i + 1)), G: uint8(200 - 15*i), B: uint8(7 * i), A: 255}
	}
	return out
}

func TestComposeCanvasSize(t *testing.T) {
	tests := []struct {
		n, cols      int
		wantW, wantH int
		tileW, tileH int
	}{
		{n: 1, cols: 1, tileW: 8, tileH: 6, wantW: 8, wantH: 6},
		{n: 2, cols: 2, tileW: 8, tileH: 6, wantW: 16, wantH: 6},
		{n: 3, cols: 2, tileW: 8, tileH: 6, wantW: 16, wantH: 12},
		{n: 5, cols: 3, tileW: 4, tileH: 5, wantW: 12, wantH: 10},
		{n: 9, cols: 3, tileW: 4, tileH: 4, wantW: 12, wantH: 12},
		{n: 1, cols: 2, tileW: 4, tileH: 4, wantW: 8, wantH: 4},
	}

	for _, tt := range tests {
		images := make([]image.Image, tt.n)
		for i := range images {
			images[i] = solid(tt.tileW, tt.tileH, color.NRGBA{A: 255})
		}

		canvas, err := Compose(images, tt.cols)
		require.NoError(t, err)

		assert.Equal(t, tt.wantW, canvas.Bounds().Dx(), "n=%d cols=%d", tt.n, tt.cols)
		assert.Equal(t, tt.wantH, canvas.Bounds().Dy(), "n=%d cols=%d", tt.n, tt.cols)
	}
}

func TestComposeRowMajorPlacement(t *testing.T) {
	const w, h = 10, 10
	colors := palette(4)
	images := make([]image.Image, len(colors))
	for i, c := range colors {
		images[i] = solid(w, h, c)
	}

	canvas, err := Compose(images, 2)
	require.NoError(t, err)

	want := map[image.Point]color.NRGBA{
		{X: 0, Y: 0}: colors[0],
		{X: 1, Y: 0}: colors[1],
		{X: 0, Y: 1}: colors[2],
		{X: 1, Y: 1}: colors[3],
	}
	for cell, c := range want {
		got := canvas.NRGBAAt(cell.X*w+w/2, cell.Y*h+h/2)
		assert.Equal(t, c, got, "cell %v", cell)
	}
}

func TestComposeLeavesBackgroundInPartialRow(t *testing.T) {
	colors := palette(3)
	images := []image.Image{solid(4, 4, colors[0]), solid(4, 4, colors[1]), solid(4, 4, colors[2])}

	canvas, err := Compose(images, 2)
	require.NoError(t, err)

	assert.Equal(t, color.NRGBA{A: 255}, canvas.NRGBAAt(6, 6))
	assert.Equal(t, colors[2], canvas.NRGBAAt(1, 6))
}

func TestComposeErrors(t *testing.T) {
	_, err := Compose(nil, 2)
	assert.ErrorIs(t, err, ErrNoImages)

	_, err = Compose([]image.Image{solid(2, 2, color.NRGBA{A: 255})}, 0)
	assert.Error(t, err)
}

func TestComposeHandlesOffsetBounds(t *testing.T) {
	base := imaging.New(8, 8, color.NRGBA{R: 255, A: 255})
	sub := base.SubImage(image.Rect(4, 4, 8, 8))

	canvas, err := Compose([]image.Image{sub, sub}, 2)
	require.NoError(t, err)

	assert.Equal(t, 8, canvas.Bounds().Dx())
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, canvas.NRGBAAt(5, 1))
}

func TestLayoutColumns(t *testing.T) {
	tests := []struct {
		layout Layout
		n      int
		want   int
	}{
		{LayoutPair, 1, 1},
		{LayoutPair, 2, 2},
		{LayoutPair, 7, 2},
		{LayoutSquare, 1, 1},
		{LayoutSquare, 2, 2},
		{LayoutSquare, 4, 2},
		{LayoutSquare, 5, 3},
		{LayoutSquare, 9, 3},
		{LayoutSquare, 0, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.layout.Columns(tt.n), "%s n=%d", tt.layout, tt.n)
	}

	assert.Equal(t, LayoutPair, ParseLayout(" PAIR "))
	assert.Equal(t, LayoutSquare, ParseLayout("anything"))
}

func TestCell(t *testing.T) {
	col, row := Cell(5, 2)
	assert.Equal(t, 1, col)
	assert.Equal(t, 2, row)
}
