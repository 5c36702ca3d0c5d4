package analysis

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Directions are the right singular vectors of a Jacobian ordered by
// descending singular value.
type Directions struct {
	// Vectors is Z×Z; column k is the k-th direction.
	Vectors *mat.Dense
	// Values has length Z. When the Jacobian has fewer rows than Z the
	// trailing values are zero.
	Values []float64
}

// ExtractDirections factorizes j as U·Σ·Vᵀ and returns V with Σ.
// An all-zero Jacobian is not an error; its directions are arbitrary.
func ExtractDirections(j *Jacobian) (*Directions, error) {
	if j == nil || j.Latent <= 0 || j.Shape.Size() <= 0 {
		return nil, fmt.Errorf("empty jacobian: %w", ErrInvalidParams)
	}
	var svd mat.SVD
	if ok := svd.Factorize(j.Matrix(), mat.SVDFullV); !ok {
		return nil, fmt.Errorf("%v x %d: %w", j.Shape, j.Latent, ErrNoConvergence)
	}

	values := make([]float64, j.Latent)
	copy(values, svd.Values(nil))

	var v mat.Dense
	svd.VTo(&v)
	return &Directions{Vectors: &v, Values: values}, nil
}

// Len returns the number of directions (Z).
func (d *Directions) Len() int { return len(d.Values) }

// Direction returns a copy of the k-th direction.
func (d *Directions) Direction(k int) []float64 {
	return mat.Col(nil, k, d.Vectors)
}
