package analysis

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// JacobianMode selects which map is linearized.
type JacobianMode int

const (
	// EncoderJacobian differentiates the latent code with respect to the input.
	EncoderJacobian JacobianMode = iota
	// DecoderJacobian differentiates the decoded image with respect to the code.
	DecoderJacobian
)

func (m JacobianMode) String() string {
	if m == DecoderJacobian {
		return "decoder"
	}
	return "encoder"
}

// ParseJacobianMode accepts "encoder" or "decoder".
func ParseJacobianMode(s string) (JacobianMode, error) {
	switch s {
	case "", "encoder":
		return EncoderJacobian, nil
	case "decoder":
		return DecoderJacobian, nil
	}
	return 0, fmt.Errorf("jacobian mode %q: %w", s, ErrInvalidParams)
}

// Params configures Analyze.
type Params struct {
	Traversal TraversalParams
	Jacobian  Options
	Mode      JacobianMode
	// Workers is the number of samples analyzed concurrently.
	Workers int
}

// Result is the analysis of one sample.
type Result struct {
	Index      int
	Latent     []float32
	Jacobian   *Jacobian
	Directions *Directions
	Grid       *Grid
}

// Analyze encodes the batch once, linearizes each sample and renders its
// traversal grid. Results are ordered by sample index.
func Analyze(ctx context.Context, ae Autoencoder, x []float32, n int, p Params) ([]Result, error) {
	in, z := ae.InShape(), ae.LatentDim()
	if z <= 0 {
		return nil, fmt.Errorf("latent dim %d: %w", z, ErrInvalidParams)
	}
	if err := checkBatch(x, n, in, "input"); err != nil {
		return nil, err
	}
	if err := p.Traversal.validate(z); err != nil {
		return nil, err
	}
	if ae.OutShape() != in {
		return nil, fmt.Errorf("decoder output %v differs from encoder input %v: %w", ae.OutShape(), in, ErrShapeMismatch)
	}

	tape, err := ae.Encode(x, n)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	latents := append([]float32(nil), tape.Output()...)
	if len(latents) != n*z {
		tape.Release()
		return nil, fmt.Errorf("encoder produced %d values, want %d x %d: %w", len(latents), n, z, ErrShapeMismatch)
	}

	var jacs []*Jacobian
	switch p.Mode {
	case DecoderJacobian:
		tape.Release()
		jacs, err = EstimateDecoderJacobian(ctx, ae, latents, n, p.Jacobian)
	default:
		jacs, err = allocJacobians(n, in, z, p.Jacobian)
		if err == nil {
			jacs, err = jacobianFromTape(ctx, tape, jacs, p.Jacobian)
		}
		tape.Release()
	}
	if err != nil {
		return nil, fmt.Errorf("%s jacobian: %w", p.Mode, err)
	}

	results := make([]Result, n)
	size := in.Size()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.Workers, 1))
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			dirs, err := ExtractDirections(jacs[i])
			if err != nil {
				return fmt.Errorf("sample %d: %w", i, err)
			}
			latent := latents[i*z : (i+1)*z]
			grid, err := RenderTraversals(gctx, ae, latent, x[i*size:(i+1)*size], dirs, p.Traversal)
			if err != nil {
				return fmt.Errorf("sample %d: %w", i, err)
			}
			results[i] = Result{Index: i, Latent: latent, Jacobian: jacs[i], Directions: dirs, Grid: grid}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
