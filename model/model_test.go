package model

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/latentlens/nn"
)

func TestRegisteredArchitecturesRoundTripShapes(t *testing.T) {
	cases := []struct {
		family   string
		size     int
		channels int
	}{
		{"cae", 28, 1},
		{"cae", 32, 3},
		{"cae", 64, 3},
		{"betavae", 28, 1},
		{"betavae", 64, 3},
	}
	for _, tc := range cases {
		t.Run(tc.family, func(t *testing.T) {
			ae, err := New(tc.family, ArchConfig{LatentDim: 6, Channels: tc.channels, ImageSize: tc.size, Filters: 8})
			require.NoError(t, err)

			img := nn.Shape{C: tc.channels, H: tc.size, W: tc.size}
			assert.Equal(t, img, ae.InShape())
			assert.Equal(t, img, ae.OutShape())
			assert.Equal(t, 6, ae.LatentDim())

			x := make([]float32, 2*img.Size())
			for i := range x {
				x[i] = float32(i%7) / 7
			}
			tape, err := ae.Encode(x, 2)
			require.NoError(t, err)
			require.Len(t, tape.Output(), 12)

			dec, err := ae.Decode(tape.Output(), 2)
			require.NoError(t, err)
			assert.Len(t, dec.Output(), len(x))
		})
	}
}

func TestLookupUnknownSize(t *testing.T) {
	_, err := Lookup("cae", 48)
	assert.ErrorIs(t, err, ErrUnknownArch)
	_, err = New("nope", ArchConfig{LatentDim: 2, Channels: 1, ImageSize: 28})
	assert.ErrorIs(t, err, ErrUnknownArch)

	assert.Contains(t, ListArchs(), "cae/28")
	assert.Contains(t, ListArchs(), "betavae/64")
}

func TestStateKeysFollowModuleNames(t *testing.T) {
	ae, err := New("cae", ArchConfig{LatentDim: 4, Channels: 1, ImageSize: 28, Filters: 4})
	require.NoError(t, err)
	enc := ae.Encoder.ParamKeys("")
	assert.Contains(t, enc, "model_enc.0.weight")
	assert.Contains(t, enc, "model_enc.1.running_mean")
	assert.Contains(t, enc, "model_enc.7.bias")
	assert.Contains(t, enc, "fc_mean.bias")
	dec := ae.Decoder.ParamKeys("")
	assert.Contains(t, dec, "fc.0.weight")
	assert.Contains(t, dec, "model.6.weight")

	deep, err := New("cae", ArchConfig{LatentDim: 4, Channels: 3, ImageSize: 32, Filters: 4})
	require.NoError(t, err)
	enc = deep.Encoder.ParamKeys("")
	assert.Contains(t, enc, "main.3.running_var")
	assert.Contains(t, enc, "fc.weight")
	assert.NotContains(t, enc, "main.0.bias")
	assert.Contains(t, deep.Decoder.ParamKeys(""), "main.15.bias")
	assert.Contains(t, deep.Decoder.ParamKeys(""), "proj.0.weight")

	vae, err := New("betavae", ArchConfig{LatentDim: 4, Channels: 1, ImageSize: 28})
	require.NoError(t, err)
	assert.Contains(t, vae.Encoder.ParamKeys("encoder."), "encoder.9.weight")
	assert.Contains(t, vae.Decoder.ParamKeys("decoder."), "decoder.9.bias")
}

func TestNormalizedLatentHasUnitNorm(t *testing.T) {
	ae, err := New("cae", ArchConfig{LatentDim: 5, Channels: 1, ImageSize: 28, Filters: 4, NormalizeLatent: true})
	require.NoError(t, err)
	InitWeights(ae.Encoder, rand.New(rand.NewSource(1)))

	x := make([]float32, 28*28)
	for i := range x {
		x[i] = float32(i%11) / 11
	}
	z, err := ae.Encoder.Predict(x, 1)
	require.NoError(t, err)
	var ss float64
	for _, v := range z {
		ss += float64(v) * float64(v)
	}
	assert.InDelta(t, 1, math.Sqrt(ss), 1e-5)
}

func TestInitializers(t *testing.T) {
	ae, err := New("cae", ArchConfig{LatentDim: 3, Channels: 1, ImageSize: 28, Filters: 4})
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(9))

	for _, l := range ae.Encoder.Layers() {
		if bn, ok := l.(*nn.BatchNorm2D); ok {
			bn.Weight[0] = 3
		}
	}
	KaimingInit(ae.Encoder, rng)
	for _, l := range ae.Encoder.Layers() {
		switch l := l.(type) {
		case *nn.BatchNorm2D:
			assert.Equal(t, float32(1), l.Weight[0])
		case *nn.Linear:
			assert.Equal(t, make([]float32, l.Out), l.Bias)
		}
	}

	InitWeights(ae.Decoder, rng)
	lin := ae.Decoder.Layers()[0].(*nn.Linear)
	var ss float64
	for _, w := range lin.Weights {
		ss += float64(w) * float64(w)
	}
	assert.InDelta(t, 0.05, math.Sqrt(ss/float64(len(lin.Weights))), 0.01)
}

func TestReparameterizeZeroVarianceIsMean(t *testing.T) {
	mu := []float32{1, -2, 3}
	z := Reparameterize(mu, []float32{-200, -200, -200}, rand.New(rand.NewSource(2)))
	assert.InDeltaSlice(t, mu, z, 1e-6)
}
