package analysis

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/openfluke/latentlens/nn"
)

// DefaultMaxElements caps a single dense Jacobian at 2^28 float64 values (2 GiB).
const DefaultMaxElements = 1 << 28

// Options controls Jacobian estimation.
type Options struct {
	// Workers is the number of VJPs evaluated concurrently; values below 1
	// mean sequential.
	Workers int
	// MaxElements bounds C·H·W·Z per sample; 0 selects DefaultMaxElements.
	MaxElements int
}

func (o Options) workers() int {
	if o.Workers < 1 {
		return 1
	}
	return o.Workers
}

func (o Options) maxElements() int {
	if o.MaxElements <= 0 {
		return DefaultMaxElements
	}
	return o.MaxElements
}

// Jacobian holds the derivatives of one sample. Data is laid out [c][h][w][d]
// so that rows of the C·H·W × Z matrix are contiguous.
type Jacobian struct {
	Shape  nn.Shape
	Latent int
	Data   []float64
}

func allocJacobians(n int, s nn.Shape, z int, opts Options) ([]*Jacobian, error) {
	if s.Size() > opts.maxElements()/z {
		return nil, fmt.Errorf("%v x %d exceeds %d elements: %w", s, z, opts.maxElements(), ErrTooLarge)
	}
	jacs := make([]*Jacobian, n)
	for i := range jacs {
		jacs[i] = &Jacobian{Shape: s, Latent: z, Data: make([]float64, s.Size()*z)}
	}
	return jacs, nil
}

// At returns ∂pixel(c,h,w)/∂z_d.
func (j *Jacobian) At(c, h, w, d int) float64 {
	return j.Data[((c*j.Shape.H+h)*j.Shape.W+w)*j.Latent+d]
}

// Matrix views the Jacobian as a (C·H·W) × Z matrix sharing Data.
func (j *Jacobian) Matrix() *mat.Dense {
	return mat.NewDense(j.Shape.Size(), j.Latent, j.Data)
}

func checkBatch(x []float32, n int, s nn.Shape, what string) error {
	if n <= 0 {
		return fmt.Errorf("batch size %d: %w", n, ErrInvalidParams)
	}
	if len(x) != n*s.Size() {
		return fmt.Errorf("%s has %d values, want %d x %v: %w", what, len(x), n, s, ErrShapeMismatch)
	}
	return nil
}

// EstimateJacobian returns, for each of the n samples in x, the exact Jacobian
// of the latent code with respect to the input pixels.
//
// The encoder runs once; every column is a VJP of that single tape seeded with
// a one-hot over latent dimension d for all samples at once, so all columns
// share the same base point. Each VJP yields its own gradient slice.
func EstimateJacobian(ctx context.Context, enc Encoder, x []float32, n int, opts Options) ([]*Jacobian, error) {
	in, z := enc.InShape(), enc.LatentDim()
	if z <= 0 {
		return nil, fmt.Errorf("latent dim %d: %w", z, ErrInvalidParams)
	}
	if err := checkBatch(x, n, in, "input"); err != nil {
		return nil, err
	}
	jacs, err := allocJacobians(n, in, z, opts)
	if err != nil {
		return nil, err
	}

	tape, err := enc.Encode(x, n)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	defer tape.Release()
	return jacobianFromTape(ctx, tape, jacs, opts)
}

// jacobianFromTape fills jacs from an encoder tape; it does not release it.
func jacobianFromTape(ctx context.Context, tape *nn.Tape, jacs []*Jacobian, opts Options) ([]*Jacobian, error) {
	n, z, size := len(jacs), jacs[0].Latent, jacs[0].Shape.Size()
	if tape.Batch() != n {
		return nil, fmt.Errorf("tape holds %d samples, want %d: %w", tape.Batch(), n, ErrShapeMismatch)
	}
	if len(tape.Output()) != n*z {
		return nil, fmt.Errorf("encoder produced %d values, want %d x %d: %w", len(tape.Output()), n, z, ErrShapeMismatch)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers())
	for d := 0; d < z; d++ {
		d := d
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			seed := make([]float32, n*z)
			for b := 0; b < n; b++ {
				seed[b*z+d] = 1
			}
			grad, err := tape.VJP(seed)
			if err != nil {
				return fmt.Errorf("latent %d: %w", d, err)
			}
			for b, j := range jacs {
				for i, v := range grad[b*size : (b+1)*size] {
					j.Data[i*z+d] = float64(v)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return jacs, nil
}

// EstimateDecoderJacobian returns, for each of the n latent codes in z, the
// exact Jacobian of the decoded image with respect to the code. It needs one
// VJP per output pixel.
func EstimateDecoderJacobian(ctx context.Context, dec Decoder, z []float32, n int, opts Options) ([]*Jacobian, error) {
	out, zd := dec.OutShape(), dec.LatentDim()
	if zd <= 0 {
		return nil, fmt.Errorf("latent dim %d: %w", zd, ErrInvalidParams)
	}
	if err := checkBatch(z, n, nn.Flat(zd), "latent batch"); err != nil {
		return nil, err
	}
	jacs, err := allocJacobians(n, out, zd, opts)
	if err != nil {
		return nil, err
	}

	tape, err := dec.Decode(z, n)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	defer tape.Release()
	rows := out.Size()
	if len(tape.Output()) != n*rows {
		return nil, fmt.Errorf("decoder produced %d values, want %d x %v: %w", len(tape.Output()), n, out, ErrShapeMismatch)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers())
	for r := 0; r < rows; r++ {
		r := r
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			seed := make([]float32, n*rows)
			for b := 0; b < n; b++ {
				seed[b*rows+r] = 1
			}
			grad, err := tape.VJP(seed)
			if err != nil {
				return fmt.Errorf("pixel %d: %w", r, err)
			}
			for b, j := range jacs {
				for d, v := range grad[b*zd : (b+1)*zd] {
					j.Data[r*zd+d] = float64(v)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return jacs, nil
}
