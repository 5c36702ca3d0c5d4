package nn

import (
	"fmt"
	"math"
)

// ActivationType defines the element-wise nonlinearity of an Activation layer
type ActivationType int

const (
	ActivationIdentity  ActivationType = 0 // v
	ActivationReLU      ActivationType = 1 // max(0, v)
	ActivationLeakyReLU ActivationType = 2 // v if v >= 0, else v * 0.01
	ActivationSigmoid   ActivationType = 3 // 1 / (1 + exp(-v))
	ActivationTanh      ActivationType = 4 // tanh(v)
)

func (a ActivationType) String() string {
	switch a {
	case ActivationIdentity:
		return "identity"
	case ActivationReLU:
		return "relu"
	case ActivationLeakyReLU:
		return "leaky_relu"
	case ActivationSigmoid:
		return "sigmoid"
	case ActivationTanh:
		return "tanh"
	default:
		return fmt.Sprintf("activation(%d)", int(a))
	}
}

// activateCPU applies the activation function to a single value
func activateCPU(v float32, activation ActivationType) float32 {
	switch activation {
	case ActivationReLU:
		if v < 0 {
			return 0
		}
		return v
	case ActivationLeakyReLU:
		if v < 0 {
			return v * 0.01
		}
		return v
	case ActivationSigmoid:
		return 1.0 / (1.0 + float32(math.Exp(float64(-v))))
	case ActivationTanh:
		return float32(math.Tanh(float64(v)))
	default:
		return v
	}
}

// activateDerivativeCPU computes the derivative of the activation function
// with respect to the PRE-activation value
func activateDerivativeCPU(preActivation float32, activation ActivationType) float32 {
	switch activation {
	case ActivationReLU:
		// PyTorch convention: d/dv relu(0) = 0
		if preActivation > 0 {
			return 1
		}
		return 0
	case ActivationLeakyReLU:
		if preActivation > 0 {
			return 1
		}
		return 0.01
	case ActivationSigmoid:
		sig := 1.0 / (1.0 + float32(math.Exp(float64(-preActivation))))
		return sig * (1.0 - sig)
	case ActivationTanh:
		t := float32(math.Tanh(float64(preActivation)))
		return 1.0 - t*t
	default:
		return 1.0
	}
}

// Activation is a parameter-free element-wise layer.
type Activation struct {
	name string
	Type ActivationType
}

// NewActivation creates an element-wise activation layer.
func NewActivation(name string, t ActivationType) *Activation {
	return &Activation{name: name, Type: t}
}

func (a *Activation) Name() string                     { return a.name }
func (a *Activation) Kind() string                     { return a.Type.String() }
func (a *Activation) OutShape(in Shape) (Shape, error) { return in, nil }
func (a *Activation) Params() []Param                  { return nil }

func (a *Activation) Forward(in []float32, batch int, s Shape) ([]float32, error) {
	if err := checkLen(a.name, len(in), batch*s.Size()); err != nil {
		return nil, err
	}
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = activateCPU(v, a.Type)
	}
	return out, nil
}

func (a *Activation) Backward(gradOut, in, _ []float32, batch int, s Shape) ([]float32, error) {
	if err := checkLen(a.name, len(gradOut), batch*s.Size()); err != nil {
		return nil, err
	}
	gradIn := make([]float32, len(gradOut))
	for i, g := range gradOut {
		gradIn[i] = g * activateDerivativeCPU(in[i], a.Type)
	}
	return gradIn, nil
}
