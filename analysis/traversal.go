package analysis

import (
	"context"
	"fmt"
	"math"

	"github.com/openfluke/latentlens/nn"
)

// TraversalParams selects how many directions are walked and how far.
type TraversalParams struct {
	NumDirections int     `yaml:"num_directions"`
	CoeffRange    float64 `yaml:"coeff_range"`
	NumSteps      int     `yaml:"num_steps"`
}

// DefaultTraversal is 5 directions, ±10, 5 steps per side.
var DefaultTraversal = TraversalParams{NumDirections: 5, CoeffRange: 10, NumSteps: 5}

func (p TraversalParams) validate(z int) error {
	switch {
	case p.NumDirections < 1 || p.NumDirections > z:
		return fmt.Errorf("num_directions %d outside [1,%d]: %w", p.NumDirections, z, ErrInvalidParams)
	case p.NumSteps < 1:
		return fmt.Errorf("num_steps %d: %w", p.NumSteps, ErrInvalidParams)
	case p.CoeffRange < 0 || math.IsNaN(p.CoeffRange) || math.IsInf(p.CoeffRange, 0):
		return fmt.Errorf("coeff_range %v: %w", p.CoeffRange, ErrInvalidParams)
	}
	return nil
}

// Image is one decoded sample in C·H·W order.
type Image []float32

// Grid is the traversal figure of one sample. Row k walks the k-th direction;
// columns [0, Center) use coefficients from -CoeffRange to 0, column Center is
// the input image and columns (Center, Cols) use 0 to CoeffRange.
type Grid struct {
	Rows, Cols int
	Center     int
	Shape      nn.Shape
	// Coeffs[c] is the coefficient of column c; NaN for the center column.
	Coeffs []float64
	Cells  [][]Image
}

// Linspace returns n evenly spaced values from lo to hi inclusive. n == 1
// yields {lo}.
func Linspace(lo, hi float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	if n == 1 {
		out[0] = lo
		return out
	}
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	out[n-1] = hi
	return out
}

// RenderTraversals decodes latent + c·direction for the first NumDirections
// directions. Each direction's 2·NumSteps codes are decoded as one batch.
func RenderTraversals(ctx context.Context, dec Decoder, latent []float32, input []float32, dirs *Directions, p TraversalParams) (*Grid, error) {
	z, shape := dec.LatentDim(), dec.OutShape()
	if len(latent) != z {
		return nil, fmt.Errorf("latent has %d values, want %d: %w", len(latent), z, ErrShapeMismatch)
	}
	if len(input) != shape.Size() {
		return nil, fmt.Errorf("input has %d values, want %v: %w", len(input), shape, ErrShapeMismatch)
	}
	if dirs == nil || dirs.Len() != z {
		return nil, fmt.Errorf("directions do not span %d latent dims: %w", z, ErrShapeMismatch)
	}
	if err := p.validate(z); err != nil {
		return nil, err
	}

	coeffs := append(Linspace(-p.CoeffRange, 0, p.NumSteps), Linspace(0, p.CoeffRange, p.NumSteps)...)
	grid := &Grid{
		Rows:   p.NumDirections,
		Cols:   2*p.NumSteps + 1,
		Center: p.NumSteps,
		Shape:  shape,
		Cells:  make([][]Image, p.NumDirections),
	}
	grid.Coeffs = make([]float64, 0, grid.Cols)
	grid.Coeffs = append(grid.Coeffs, coeffs[:p.NumSteps]...)
	grid.Coeffs = append(grid.Coeffs, math.NaN())
	grid.Coeffs = append(grid.Coeffs, coeffs[p.NumSteps:]...)

	size := shape.Size()
	codes := make([]float32, len(coeffs)*z)
	for k := 0; k < p.NumDirections; k++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dir := dirs.Direction(k)
		for i, c := range coeffs {
			for d := 0; d < z; d++ {
				codes[i*z+d] = float32(float64(latent[d]) + c*dir[d])
			}
		}
		tape, err := dec.Decode(codes, len(coeffs))
		if err != nil {
			return nil, fmt.Errorf("decode direction %d: %w", k, err)
		}
		out := tape.Output()
		tape.Release()
		if len(out) != len(coeffs)*size {
			return nil, fmt.Errorf("decoder produced %d values, want %d x %v: %w", len(out), len(coeffs), shape, ErrShapeMismatch)
		}

		row := make([]Image, grid.Cols)
		for i := range coeffs {
			col := i
			if i >= p.NumSteps {
				col++
			}
			row[col] = Image(out[i*size : (i+1)*size])
		}
		row[grid.Center] = append(Image(nil), input...)
		grid.Cells[k] = row
	}
	return grid, nil
}
