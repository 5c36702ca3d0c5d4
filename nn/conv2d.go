package nn

import (
	"fmt"
	"math"
	"math/rand"
)

// Conv2D is a 2D convolution with square kernels.
// Kernel layout: [filters][inChannels][kernelH][kernelW]
type Conv2D struct {
	name       string
	InChannels int
	Filters    int
	KernelSize int
	Stride     int
	Padding    int
	Kernel     []float32
	Bias       []float32 // nil when the layer has no bias
}

// NewConv2D creates a Conv2D layer with He-initialized weights and zero bias.
func NewConv2D(name string, inChannels, filters, kernelSize, stride, padding int, bias bool) *Conv2D {
	kernel := make([]float32, filters*inChannels*kernelSize*kernelSize)
	stddev := float32(math.Sqrt(2.0 / float64(inChannels*kernelSize*kernelSize)))
	for i := range kernel {
		kernel[i] = float32(rand.NormFloat64()) * stddev
	}
	var b []float32
	if bias {
		b = make([]float32, filters)
	}
	return &Conv2D{
		name:       name,
		InChannels: inChannels,
		Filters:    filters,
		KernelSize: kernelSize,
		Stride:     stride,
		Padding:    padding,
		Kernel:     kernel,
		Bias:       b,
	}
}

func (c *Conv2D) Name() string { return c.name }
func (c *Conv2D) Kind() string { return "conv2d" }

func (c *Conv2D) OutShape(in Shape) (Shape, error) {
	if in.C != c.InChannels {
		return Shape{}, fmt.Errorf("%s: input channels %d, want %d: %w", c.name, in.C, c.InChannels, ErrShapeMismatch)
	}
	outH := (in.H+2*c.Padding-c.KernelSize)/c.Stride + 1
	outW := (in.W+2*c.Padding-c.KernelSize)/c.Stride + 1
	if outH <= 0 || outW <= 0 {
		return Shape{}, fmt.Errorf("%s: input %v too small for kernel %d: %w", c.name, in, c.KernelSize, ErrShapeMismatch)
	}
	return Shape{C: c.Filters, H: outH, W: outW}, nil
}

func (c *Conv2D) Params() []Param {
	k := c.KernelSize
	ps := []Param{{Name: "weight", Shape: []int{c.Filters, c.InChannels, k, k}, Data: c.Kernel}}
	if c.Bias != nil {
		ps = append(ps, Param{Name: "bias", Shape: []int{c.Filters}, Data: c.Bias})
	}
	return ps
}

// Forward performs 2D convolution
// input shape: [batch][inChannels][height][width] (flattened)
// output shape: [batch][filters][outHeight][outWidth] (flattened)
func (c *Conv2D) Forward(input []float32, batchSize int, s Shape) ([]float32, error) {
	if err := checkLen(c.name, len(input), batchSize*s.Size()); err != nil {
		return nil, err
	}
	o, err := c.OutShape(s)
	if err != nil {
		return nil, err
	}
	inC, inH, inW := s.C, s.H, s.W
	kSize, stride, padding := c.KernelSize, c.Stride, c.Padding
	filters, outH, outW := o.C, o.H, o.W

	output := make([]float32, batchSize*o.Size())

	for b := 0; b < batchSize; b++ {
		for f := 0; f < filters; f++ {
			var bias float32
			if c.Bias != nil {
				bias = c.Bias[f]
			}
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					sum := bias

					// Convolve over input channels
					for ic := 0; ic < inC; ic++ {
						for kh := 0; kh < kSize; kh++ {
							ih := oh*stride + kh - padding
							if ih < 0 || ih >= inH {
								continue
							}
							for kw := 0; kw < kSize; kw++ {
								iw := ow*stride + kw - padding
								if iw < 0 || iw >= inW {
									continue
								}
								inputIdx := b*inC*inH*inW + ic*inH*inW + ih*inW + iw
								kernelIdx := f*inC*kSize*kSize + ic*kSize*kSize + kh*kSize + kw
								sum += input[inputIdx] * c.Kernel[kernelIdx]
							}
						}
					}

					output[b*filters*outH*outW+f*outH*outW+oh*outW+ow] = sum
				}
			}
		}
	}

	return output, nil
}

// Backward computes the gradient with respect to the convolution input.
func (c *Conv2D) Backward(gradOutput, _, _ []float32, batchSize int, s Shape) ([]float32, error) {
	o, err := c.OutShape(s)
	if err != nil {
		return nil, err
	}
	if err := checkLen(c.name+" grad", len(gradOutput), batchSize*o.Size()); err != nil {
		return nil, err
	}
	inC, inH, inW := s.C, s.H, s.W
	kSize, stride, padding := c.KernelSize, c.Stride, c.Padding
	filters, outH, outW := o.C, o.H, o.W

	gradInput := make([]float32, batchSize*s.Size())

	for b := 0; b < batchSize; b++ {
		for f := 0; f < filters; f++ {
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					gradOut := gradOutput[b*filters*outH*outW+f*outH*outW+oh*outW+ow]
					if gradOut == 0 {
						continue
					}

					// Backprop through convolution
					for ic := 0; ic < inC; ic++ {
						for kh := 0; kh < kSize; kh++ {
							ih := oh*stride + kh - padding
							if ih < 0 || ih >= inH {
								continue
							}
							for kw := 0; kw < kSize; kw++ {
								iw := ow*stride + kw - padding
								if iw < 0 || iw >= inW {
									continue
								}
								inputIdx := b*inC*inH*inW + ic*inH*inW + ih*inW + iw
								kernelIdx := f*inC*kSize*kSize + ic*kSize*kSize + kh*kSize + kw
								gradInput[inputIdx] += gradOut * c.Kernel[kernelIdx]
							}
						}
					}
				}
			}
		}
	}

	return gradInput, nil
}
