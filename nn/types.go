package nn

import (
	"errors"
	"fmt"
)

var (
	// ErrShapeMismatch is returned when a buffer or parameter does not have the
	// size implied by the layer configuration.
	ErrShapeMismatch = errors.New("nn: shape mismatch")

	// ErrMissingParam is returned by LoadState when a parameter key is absent.
	ErrMissingParam = errors.New("nn: missing parameter")

	// ErrBatchSize is returned for non-positive batch sizes.
	ErrBatchSize = errors.New("nn: batch size must be > 0")
)

// Shape is the per-sample shape of an activation (channels, height, width).
// Flat feature vectors use H = W = 1.
type Shape struct {
	C, H, W int
}

// Size returns C*H*W.
func (s Shape) Size() int { return s.C * s.H * s.W }

func (s Shape) String() string { return fmt.Sprintf("(%d,%d,%d)", s.C, s.H, s.W) }

// Flat returns the shape of a flat feature vector of length n.
func Flat(n int) Shape { return Shape{C: n, H: 1, W: 1} }

// Param is a named tensor owned by a layer. Data aliases the layer's storage,
// so copying into it updates the layer.
type Param struct {
	Name  string
	Shape []int
	Data  []float32
}

// Layer is one differentiable step of a Sequential network.
//
// Forward must not retain or mutate its input. Backward receives the input and
// output buffers of the matching forward call and returns a new slice holding
// the gradient with respect to the input; it must not mutate the layer.
type Layer interface {
	Name() string
	Kind() string
	OutShape(in Shape) (Shape, error)
	Forward(in []float32, batch int, s Shape) ([]float32, error)
	Backward(gradOut, in, out []float32, batch int, s Shape) ([]float32, error)
	Params() []Param
}

func checkLen(what string, got, want int) error {
	if got != want {
		return fmt.Errorf("%s: got %d values, want %d: %w", what, got, want, ErrShapeMismatch)
	}
	return nil
}

func paramCount(l Layer) int {
	n := 0
	for _, p := range l.Params() {
		n += len(p.Data)
	}
	return n
}
