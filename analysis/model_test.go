package analysis_test

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/latentlens/analysis"
	"github.com/openfluke/latentlens/model"
)

func newCAE(t *testing.T, seed int64) *model.Autoencoder {
	t.Helper()
	ae, err := model.New("cae", model.ArchConfig{LatentDim: 10, Channels: 1, ImageSize: 28, Filters: 4})
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(seed))
	model.InitWeights(ae.Encoder, rng)
	model.InitWeights(ae.Decoder, rng)
	return ae
}

func uniformBatch(rng *rand.Rand, n, size int) []float32 {
	x := make([]float32, n*size)
	for i := range x {
		x[i] = rng.Float32()
	}
	return x
}

func TestCAEJacobianMatchesFiniteDifferences(t *testing.T) {
	ae := newCAE(t, 21)
	rng := rand.New(rand.NewSource(22))
	const n, size, z = 3, 28 * 28, 10
	x := uniformBatch(rng, n, size)

	jacs, err := analysis.EstimateJacobian(context.Background(), ae, x, n, analysis.Options{Workers: 4})
	require.NoError(t, err)
	require.Len(t, jacs, n)

	const eps = 1e-3
	pixels := []int{0, 203, 406, 407, 600, 783}
	shifted := make([]float32, len(x))
	for _, p := range pixels {
		copy(shifted, x)
		for b := 0; b < n; b++ {
			shifted[b*size+p] = x[b*size+p] + eps
		}
		plus, err := ae.Encoder.Predict(shifted, n)
		require.NoError(t, err)
		for b := 0; b < n; b++ {
			shifted[b*size+p] = x[b*size+p] - eps
		}
		minus, err := ae.Encoder.Predict(shifted, n)
		require.NoError(t, err)

		for b := 0; b < n; b++ {
			for d := 0; d < z; d++ {
				want := float64(plus[b*z+d]-minus[b*z+d]) / (2 * eps)
				got := jacs[b].At(0, p/28, p%28, d)
				assert.InDelta(t, want, got, 1e-2*math.Max(1, math.Abs(want)), "sample %d pixel %d latent %d", b, p, d)
			}
		}
	}
}

func TestAnalyzeCAE(t *testing.T) {
	ae := newCAE(t, 31)
	rng := rand.New(rand.NewSource(32))
	const n, size = 3, 28 * 28
	x := uniformBatch(rng, n, size)

	results, err := analysis.Analyze(context.Background(), ae, x, n, analysis.Params{
		Traversal: analysis.DefaultTraversal,
		Workers:   2,
	})
	require.NoError(t, err)
	require.Len(t, results, n)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.Len(t, r.Latent, 10)
		require.Equal(t, 10, r.Directions.Len())
		for k := 1; k < len(r.Directions.Values); k++ {
			assert.LessOrEqual(t, r.Directions.Values[k], r.Directions.Values[k-1])
		}

		g := r.Grid
		require.Len(t, g.Cells, 5)
		for _, row := range g.Cells {
			require.Len(t, row, 11)
			assert.Equal(t, analysis.Image(x[i*size:(i+1)*size]), row[g.Center])
			for c, img := range row {
				require.Len(t, img, size)
				if c == g.Center {
					continue
				}
				for _, v := range img {
					assert.True(t, v >= 0 && v <= 1, "decoded pixel %v outside [0,1]", v)
				}
			}
		}
	}
}
