// Package render writes traversal grids and spectra as image files.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
	"gonum.org/v1/plot/palette"

	"github.com/openfluke/latentlens/analysis"
	"github.com/openfluke/latentlens/checkpoint"
	"github.com/openfluke/latentlens/nn"
)

// Options controls grid layout.
type Options struct {
	// Scale is the nearest-neighbour upscaling factor of each cell.
	Scale int
	// Gap is the number of background pixels between cells.
	Gap int
	// ColorMap colours single-channel cells; nil renders grayscale.
	ColorMap palette.ColorMap
	// Background fills the gaps.
	Background color.Color
}

// DefaultOptions renders 4x cells with a 2 pixel white gap.
var DefaultOptions = Options{Scale: 4, Gap: 2, Background: color.White}

// GridName returns the figure file name for one sample.
func GridName(sampleIndex int, lambda float64) string {
	return fmt.Sprintf("sample_augmentations%d_lam%s.png", sampleIndex, checkpoint.FormatLambda(lambda))
}

// GridImage lays the grid out row by row.
func GridImage(g *analysis.Grid, opts Options) (*image.NRGBA, error) {
	if g == nil || g.Rows == 0 || g.Cols == 0 {
		return nil, fmt.Errorf("render: empty grid")
	}
	if opts.Scale < 1 {
		opts.Scale = 1
	}
	if opts.Gap < 0 {
		opts.Gap = 0
	}
	if opts.Background == nil {
		opts.Background = color.White
	}
	s := g.Shape
	cw, ch := s.W*opts.Scale, s.H*opts.Scale
	width := g.Cols*cw + (g.Cols+1)*opts.Gap
	height := g.Rows*ch + (g.Rows+1)*opts.Gap

	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(opts.Background), image.Point{}, draw.Src)

	for r, row := range g.Cells {
		for c, cell := range row {
			if len(cell) != s.Size() {
				return nil, fmt.Errorf("render: cell (%d,%d) has %d values, want %v: %w", r, c, len(cell), s, nn.ErrShapeMismatch)
			}
			src, err := CellImage(cell, s, opts.ColorMap)
			if err != nil {
				return nil, err
			}
			x0 := opts.Gap + c*(cw+opts.Gap)
			y0 := opts.Gap + r*(ch+opts.Gap)
			draw.NearestNeighbor.Scale(dst, image.Rect(x0, y0, x0+cw, y0+ch), src, src.Bounds(), draw.Src, nil)
		}
	}
	return dst, nil
}

// CellImage converts one C·H·W cell to an image. Single-channel cells are
// min-max scaled per cell; three-channel cells are clipped to [0, 1].
func CellImage(cell []float32, s nn.Shape, cmap palette.ColorMap) (*image.NRGBA, error) {
	img := image.NewNRGBA(image.Rect(0, 0, s.W, s.H))
	plane := s.H * s.W
	switch s.C {
	case 1:
		lo, hi := nn.MinMax(cell)
		span := hi - lo
		if cmap != nil {
			cmap.SetMin(0)
			cmap.SetMax(1)
		}
		for i, v := range cell {
			t := float32(0)
			if span > 0 {
				t = (v - lo) / span
			}
			var col color.Color = color.Gray{Y: to8(t)}
			if cmap != nil {
				var err error
				if col, err = cmap.At(float64(t)); err != nil {
					return nil, fmt.Errorf("render: colormap: %w", err)
				}
			}
			img.Set(i%s.W, i/s.W, col)
		}
	case 3:
		for i := 0; i < plane; i++ {
			img.SetNRGBA(i%s.W, i/s.W, color.NRGBA{
				R: to8(cell[i]), G: to8(cell[plane+i]), B: to8(cell[2*plane+i]), A: 255,
			})
		}
	default:
		return nil, fmt.Errorf("render: %d channels unsupported", s.C)
	}
	return img, nil
}

func to8(v float32) uint8 {
	switch {
	case v <= 0 || math.IsNaN(float64(v)):
		return 0
	case v >= 1:
		return 255
	}
	return uint8(v*255 + 0.5)
}

// SaveGrid writes the grid as a PNG, creating parent directories.
func SaveGrid(path string, g *analysis.Grid, opts Options) error {
	img, err := GridImage(g, opts)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("render: encode %s: %w", path, err)
	}
	return f.Close()
}
