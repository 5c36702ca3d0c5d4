package nn

import (
	"fmt"
	"math"
)

// BatchNorm2D normalizes each channel with its running statistics
// (inference mode): y = (x - mean) / sqrt(var + eps) * weight + bias.
type BatchNorm2D struct {
	name        string
	Channels    int
	Eps         float32
	Weight      []float32
	Bias        []float32
	RunningMean []float32
	RunningVar  []float32
}

// NewBatchNorm2D creates an identity-initialized batch norm layer.
func NewBatchNorm2D(name string, channels int) *BatchNorm2D {
	bn := &BatchNorm2D{
		name:        name,
		Channels:    channels,
		Eps:         1e-5,
		Weight:      make([]float32, channels),
		Bias:        make([]float32, channels),
		RunningMean: make([]float32, channels),
		RunningVar:  make([]float32, channels),
	}
	for c := 0; c < channels; c++ {
		bn.Weight[c] = 1
		bn.RunningVar[c] = 1
	}
	return bn
}

func (bn *BatchNorm2D) Name() string { return bn.name }
func (bn *BatchNorm2D) Kind() string { return "batchnorm2d" }

func (bn *BatchNorm2D) OutShape(in Shape) (Shape, error) {
	if in.C != bn.Channels {
		return Shape{}, fmt.Errorf("%s: input channels %d, want %d: %w", bn.name, in.C, bn.Channels, ErrShapeMismatch)
	}
	return in, nil
}

func (bn *BatchNorm2D) Params() []Param {
	shape := []int{bn.Channels}
	return []Param{
		{Name: "weight", Shape: shape, Data: bn.Weight},
		{Name: "bias", Shape: shape, Data: bn.Bias},
		{Name: "running_mean", Shape: shape, Data: bn.RunningMean},
		{Name: "running_var", Shape: shape, Data: bn.RunningVar},
	}
}

func (bn *BatchNorm2D) scales() []float32 {
	scale := make([]float32, bn.Channels)
	for c := range scale {
		scale[c] = bn.Weight[c] / float32(math.Sqrt(float64(bn.RunningVar[c]+bn.Eps)))
	}
	return scale
}

func (bn *BatchNorm2D) Forward(in []float32, batch int, s Shape) ([]float32, error) {
	if _, err := bn.OutShape(s); err != nil {
		return nil, err
	}
	if err := checkLen(bn.name, len(in), batch*s.Size()); err != nil {
		return nil, err
	}
	scale := bn.scales()
	plane := s.H * s.W
	out := make([]float32, len(in))
	for b := 0; b < batch; b++ {
		for c := 0; c < s.C; c++ {
			base := (b*s.C + c) * plane
			for i := base; i < base+plane; i++ {
				out[i] = (in[i]-bn.RunningMean[c])*scale[c] + bn.Bias[c]
			}
		}
	}
	return out, nil
}

func (bn *BatchNorm2D) Backward(gradOut, _, _ []float32, batch int, s Shape) ([]float32, error) {
	if err := checkLen(bn.name+" grad", len(gradOut), batch*s.Size()); err != nil {
		return nil, err
	}
	scale := bn.scales()
	plane := s.H * s.W
	gradIn := make([]float32, len(gradOut))
	for b := 0; b < batch; b++ {
		for c := 0; c < s.C; c++ {
			base := (b*s.C + c) * plane
			for i := base; i < base+plane; i++ {
				gradIn[i] = gradOut[i] * scale[c]
			}
		}
	}
	return gradIn, nil
}
