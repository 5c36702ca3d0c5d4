package nn

import (
	"fmt"
	"math"
	"math/rand"
)

// AffineAccelerator computes y[b,o] = sum_i w[o*in+i]*x[b*in+i] + bias[o]
// on an alternative device.
type AffineAccelerator interface {
	Affine(x []float32, batch, in, out int, weights, bias []float32) ([]float32, error)
}

// Linear is a fully-connected layer. The input is flattened per sample.
// Weight layout: [out][in]
type Linear struct {
	name    string
	In      int
	Out     int
	Weights []float32
	Bias    []float32 // nil when the layer has no bias

	// Accel, when set, evaluates the forward pass. A failing accelerator falls
	// back to the CPU path.
	Accel AffineAccelerator
}

// NewLinear creates a Linear layer with He-initialized weights and zero bias.
func NewLinear(name string, in, out int, bias bool) *Linear {
	stddev := float32(math.Sqrt(2.0 / float64(in)))
	weights := make([]float32, in*out)
	for i := range weights {
		weights[i] = float32(rand.NormFloat64()) * stddev
	}
	var b []float32
	if bias {
		b = make([]float32, out)
	}
	return &Linear{name: name, In: in, Out: out, Weights: weights, Bias: b}
}

func (l *Linear) Name() string { return l.name }
func (l *Linear) Kind() string { return "linear" }

func (l *Linear) OutShape(in Shape) (Shape, error) {
	if in.Size() != l.In {
		return Shape{}, fmt.Errorf("%s: input %v has %d features, want %d: %w", l.name, in, in.Size(), l.In, ErrShapeMismatch)
	}
	return Flat(l.Out), nil
}

func (l *Linear) Params() []Param {
	ps := []Param{{Name: "weight", Shape: []int{l.Out, l.In}, Data: l.Weights}}
	if l.Bias != nil {
		ps = append(ps, Param{Name: "bias", Shape: []int{l.Out}, Data: l.Bias})
	}
	return ps
}

// Forward computes output = input @ weightsᵀ + bias
// input: [batchSize * in], output: [batchSize * out]
func (l *Linear) Forward(input []float32, batchSize int, s Shape) ([]float32, error) {
	if err := checkLen(l.name, len(input), batchSize*l.In); err != nil {
		return nil, err
	}
	if l.Accel != nil {
		bias := l.Bias
		if bias == nil {
			bias = make([]float32, l.Out)
		}
		if out, err := l.Accel.Affine(input, batchSize, l.In, l.Out, l.Weights, bias); err == nil && len(out) == batchSize*l.Out {
			return out, nil
		}
	}

	output := make([]float32, batchSize*l.Out)
	for b := 0; b < batchSize; b++ {
		x := input[b*l.In : (b+1)*l.In]
		for o := 0; o < l.Out; o++ {
			w := l.Weights[o*l.In : (o+1)*l.In]
			var sum float32
			for i, v := range x {
				sum += w[i] * v
			}
			if l.Bias != nil {
				sum += l.Bias[o]
			}
			output[b*l.Out+o] = sum
		}
	}
	return output, nil
}

// Backward computes gradInput[b,i] = sum_o gradOutput[b,o] * W[o,i]
func (l *Linear) Backward(gradOutput, _, _ []float32, batchSize int, s Shape) ([]float32, error) {
	if err := checkLen(l.name+" grad", len(gradOutput), batchSize*l.Out); err != nil {
		return nil, err
	}
	gradInput := make([]float32, batchSize*l.In)
	for b := 0; b < batchSize; b++ {
		gi := gradInput[b*l.In : (b+1)*l.In]
		for o := 0; o < l.Out; o++ {
			grad := gradOutput[b*l.Out+o]
			if grad == 0 {
				continue
			}
			w := l.Weights[o*l.In : (o+1)*l.In]
			for i := range gi {
				gi[i] += w[i] * grad
			}
		}
	}
	return gradInput, nil
}
