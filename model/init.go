package model

import (
	"math"
	"math/rand"

	"github.com/openfluke/latentlens/nn"
)

// InitWeights draws conv and linear weights from N(0, 0.05²) and zeroes
// linear biases. Transposed convolutions and batch norms are left alone.
func InitWeights(seq *nn.Sequential, rng *rand.Rand) {
	for _, l := range seq.Layers() {
		switch l := l.(type) {
		case *nn.Conv2D:
			fillNormal(l.Kernel, 0.05, rng)
		case *nn.Linear:
			fillNormal(l.Weights, 0.05, rng)
			fill(l.Bias, 0)
		}
	}
}

// KaimingInit applies He-normal initialization (fan-in, ReLU gain) to conv and
// linear weights with zero bias, and resets batch norm affine parameters.
func KaimingInit(seq *nn.Sequential, rng *rand.Rand) {
	for _, l := range seq.Layers() {
		switch l := l.(type) {
		case *nn.Conv2D:
			fanIn := l.InChannels * l.KernelSize * l.KernelSize
			fillNormal(l.Kernel, math.Sqrt(2/float64(fanIn)), rng)
			fill(l.Bias, 0)
		case *nn.Linear:
			fillNormal(l.Weights, math.Sqrt(2/float64(l.In)), rng)
			fill(l.Bias, 0)
		case *nn.BatchNorm2D:
			fill(l.Weight, 1)
			fill(l.Bias, 0)
		}
	}
}

// Reparameterize samples z = μ + ε·exp(½·logvar) with ε ~ N(0, 1).
func Reparameterize(mu, logvar []float32, rng *rand.Rand) []float32 {
	z := make([]float32, len(mu))
	for i := range mu {
		std := math.Exp(0.5 * float64(logvar[i]))
		z[i] = mu[i] + float32(rng.NormFloat64()*std)
	}
	return z
}

func fillNormal(v []float32, std float64, rng *rand.Rand) {
	for i := range v {
		v[i] = float32(rng.NormFloat64() * std)
	}
}

func fill(v []float32, x float32) {
	for i := range v {
		v[i] = x
	}
}
