package nn

import (
	"fmt"
	"math"
	"math/rand"
)

// ConvTranspose2D is the adjoint of Conv2D (a fractionally strided convolution).
// Kernel layout: [inChannels][outChannels][kernelH][kernelW]
type ConvTranspose2D struct {
	name        string
	InChannels  int
	OutChannels int
	KernelSize  int
	Stride      int
	Padding     int
	Kernel      []float32
	Bias        []float32 // nil when the layer has no bias
}

// NewConvTranspose2D creates a transposed convolution with He-initialized
// weights and zero bias.
func NewConvTranspose2D(name string, inChannels, outChannels, kernelSize, stride, padding int, bias bool) *ConvTranspose2D {
	kernel := make([]float32, inChannels*outChannels*kernelSize*kernelSize)
	stddev := float32(math.Sqrt(2.0 / float64(outChannels*kernelSize*kernelSize)))
	for i := range kernel {
		kernel[i] = float32(rand.NormFloat64()) * stddev
	}
	var b []float32
	if bias {
		b = make([]float32, outChannels)
	}
	return &ConvTranspose2D{
		name:        name,
		InChannels:  inChannels,
		OutChannels: outChannels,
		KernelSize:  kernelSize,
		Stride:      stride,
		Padding:     padding,
		Kernel:      kernel,
		Bias:        b,
	}
}

func (c *ConvTranspose2D) Name() string { return c.name }
func (c *ConvTranspose2D) Kind() string { return "conv_transpose2d" }

func (c *ConvTranspose2D) OutShape(in Shape) (Shape, error) {
	if in.C != c.InChannels {
		return Shape{}, fmt.Errorf("%s: input channels %d, want %d: %w", c.name, in.C, c.InChannels, ErrShapeMismatch)
	}
	outH := (in.H-1)*c.Stride - 2*c.Padding + c.KernelSize
	outW := (in.W-1)*c.Stride - 2*c.Padding + c.KernelSize
	if outH <= 0 || outW <= 0 {
		return Shape{}, fmt.Errorf("%s: padding %d too large for input %v: %w", c.name, c.Padding, in, ErrShapeMismatch)
	}
	return Shape{C: c.OutChannels, H: outH, W: outW}, nil
}

func (c *ConvTranspose2D) Params() []Param {
	k := c.KernelSize
	ps := []Param{{Name: "weight", Shape: []int{c.InChannels, c.OutChannels, k, k}, Data: c.Kernel}}
	if c.Bias != nil {
		ps = append(ps, Param{Name: "bias", Shape: []int{c.OutChannels}, Data: c.Bias})
	}
	return ps
}

// Forward scatters every input pixel through the kernel into the output:
// out[oc, ih*stride-padding+kh, iw*stride-padding+kw] += in[ic, ih, iw] * K[ic, oc, kh, kw]
func (c *ConvTranspose2D) Forward(input []float32, batchSize int, s Shape) ([]float32, error) {
	if err := checkLen(c.name, len(input), batchSize*s.Size()); err != nil {
		return nil, err
	}
	o, err := c.OutShape(s)
	if err != nil {
		return nil, err
	}
	inC, inH, inW := s.C, s.H, s.W
	kSize, stride, padding := c.KernelSize, c.Stride, c.Padding
	outC, outH, outW := o.C, o.H, o.W

	output := make([]float32, batchSize*o.Size())

	for b := 0; b < batchSize; b++ {
		outBase := b * outC * outH * outW
		if c.Bias != nil {
			for oc := 0; oc < outC; oc++ {
				plane := output[outBase+oc*outH*outW : outBase+(oc+1)*outH*outW]
				for i := range plane {
					plane[i] = c.Bias[oc]
				}
			}
		}
		for ic := 0; ic < inC; ic++ {
			for ih := 0; ih < inH; ih++ {
				for iw := 0; iw < inW; iw++ {
					v := input[b*inC*inH*inW+ic*inH*inW+ih*inW+iw]
					if v == 0 {
						continue
					}
					for oc := 0; oc < outC; oc++ {
						for kh := 0; kh < kSize; kh++ {
							oh := ih*stride - padding + kh
							if oh < 0 || oh >= outH {
								continue
							}
							for kw := 0; kw < kSize; kw++ {
								ow := iw*stride - padding + kw
								if ow < 0 || ow >= outW {
									continue
								}
								kernelIdx := ic*outC*kSize*kSize + oc*kSize*kSize + kh*kSize + kw
								output[outBase+oc*outH*outW+oh*outW+ow] += v * c.Kernel[kernelIdx]
							}
						}
					}
				}
			}
		}
	}

	return output, nil
}

// Backward gathers the output gradient back through the kernel.
func (c *ConvTranspose2D) Backward(gradOutput, _, _ []float32, batchSize int, s Shape) ([]float32, error) {
	o, err := c.OutShape(s)
	if err != nil {
		return nil, err
	}
	if err := checkLen(c.name+" grad", len(gradOutput), batchSize*o.Size()); err != nil {
		return nil, err
	}
	inC, inH, inW := s.C, s.H, s.W
	kSize, stride, padding := c.KernelSize, c.Stride, c.Padding
	outC, outH, outW := o.C, o.H, o.W

	gradInput := make([]float32, batchSize*s.Size())

	for b := 0; b < batchSize; b++ {
		outBase := b * outC * outH * outW
		for ic := 0; ic < inC; ic++ {
			for ih := 0; ih < inH; ih++ {
				for iw := 0; iw < inW; iw++ {
					var sum float32
					for oc := 0; oc < outC; oc++ {
						for kh := 0; kh < kSize; kh++ {
							oh := ih*stride - padding + kh
							if oh < 0 || oh >= outH {
								continue
							}
							for kw := 0; kw < kSize; kw++ {
								ow := iw*stride - padding + kw
								if ow < 0 || ow >= outW {
									continue
								}
								kernelIdx := ic*outC*kSize*kSize + oc*kSize*kSize + kh*kSize + kw
								sum += gradOutput[outBase+oc*outH*outW+oh*outW+ow] * c.Kernel[kernelIdx]
							}
						}
					}
					gradInput[b*inC*inH*inW+ic*inH*inW+ih*inW+iw] = sum
				}
			}
		}
	}

	return gradInput, nil
}
