// Package analysis computes local tangent directions of an autoencoder's
// latent space and renders decoded traversals along them.
//
// The pipeline for one batch is:
//
//	jacs, _ := EstimateJacobian(ctx, enc, x, n, opts)   // one forward pass, Z VJPs
//	dirs, _ := ExtractDirections(jacs[i])               // SVD, right singular vectors
//	grid, _ := RenderTraversals(ctx, dec, z_i, x_i, dirs, params)
//
// Analyze runs all three steps for every sample of a batch.
package analysis

import (
	"errors"

	"github.com/openfluke/latentlens/nn"
)

var (
	// ErrShapeMismatch is returned when a model's input or output size does not
	// match the data it is given. It is the same value as nn.ErrShapeMismatch.
	ErrShapeMismatch = nn.ErrShapeMismatch

	// ErrNoConvergence is returned when the singular value decomposition fails.
	ErrNoConvergence = errors.New("analysis: svd did not converge")

	// ErrInvalidParams is returned for non-positive counts or ranges.
	ErrInvalidParams = errors.New("analysis: invalid parameters")

	// ErrTooLarge is returned when a dense Jacobian would exceed the element
	// budget.
	ErrTooLarge = errors.New("analysis: jacobian too large")
)

// Encoder maps images to latent codes.
type Encoder interface {
	InShape() nn.Shape
	LatentDim() int
	Encode(x []float32, n int) (*nn.Tape, error)
}

// Decoder maps latent codes to images.
type Decoder interface {
	OutShape() nn.Shape
	LatentDim() int
	Decode(z []float32, n int) (*nn.Tape, error)
}

// Autoencoder is an Encoder and Decoder sharing one latent space.
type Autoencoder interface {
	Encoder
	Decoder
}
