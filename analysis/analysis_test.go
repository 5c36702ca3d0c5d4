package analysis

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/openfluke/latentlens/nn"
)

// toyAE wires two Sequentials into an Autoencoder.
type toyAE struct {
	enc, dec *nn.Sequential
}

func (a *toyAE) InShape() nn.Shape  { return a.enc.InShape() }
func (a *toyAE) OutShape() nn.Shape { return a.dec.OutShape() }
func (a *toyAE) LatentDim() int     { return a.enc.OutShape().Size() }
func (a *toyAE) Encode(x []float32, n int) (*nn.Tape, error) {
	return a.enc.Forward(x, n)
}
func (a *toyAE) Decode(z []float32, n int) (*nn.Tape, error) {
	return a.dec.Forward(z, n)
}

func randMatrix(rng *rand.Rand, rows, cols int) [][]float32 {
	a := make([][]float32, rows)
	for i := range a {
		a[i] = make([]float32, cols)
		for j := range a[i] {
			a[i][j] = float32(rng.NormFloat64())
		}
	}
	return a
}

// linearAE builds encode(x) = Aᵀx and decode(z) = A·z for A of shape (C·H·W, Z).
func linearAE(t *testing.T, s nn.Shape, a [][]float32) *toyAE {
	t.Helper()
	rows, z := len(a), len(a[0])
	encFC := nn.NewLinear("fc", rows, z, false)
	decFC := nn.NewLinear("fc", z, rows, false)
	for i := 0; i < rows; i++ {
		for d := 0; d < z; d++ {
			encFC.Weights[d*rows+i] = a[i][d]
			decFC.Weights[i*z+d] = a[i][d]
		}
	}
	enc, err := nn.NewSequential(s, nn.NewReshape("flat", nn.Flat(rows)), encFC)
	require.NoError(t, err)
	dec, err := nn.NewSequential(nn.Flat(z), decFC, nn.NewReshape("view", s))
	require.NoError(t, err)
	return &toyAE{enc: enc, dec: dec}
}

// smoothAE is a small nonlinear autoencoder with tanh/sigmoid activations.
func smoothAE(t *testing.T, s nn.Shape, z int) *toyAE {
	t.Helper()
	size := s.Size()
	enc, err := nn.NewSequential(s,
		nn.NewConv2D("conv", s.C, 2, 3, 1, 1, true),
		nn.NewActivation("act", nn.ActivationTanh),
		nn.NewReshape("flat", nn.Flat(2*s.H*s.W)),
		nn.NewLinear("fc", 2*s.H*s.W, z, true),
	)
	require.NoError(t, err)
	dec, err := nn.NewSequential(nn.Flat(z),
		nn.NewLinear("fc", z, size, true),
		nn.NewActivation("act", nn.ActivationSigmoid),
		nn.NewReshape("view", s),
	)
	require.NoError(t, err)
	return &toyAE{enc: enc, dec: dec}
}

func randBatch(rng *rand.Rand, n int, s nn.Shape) []float32 {
	x := make([]float32, n*s.Size())
	for i := range x {
		x[i] = rng.Float32()
	}
	return x
}

func TestLinearEncoderJacobianEqualsA(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	s := nn.Shape{C: 2, H: 3, W: 2}
	a := randMatrix(rng, s.Size(), 4)
	ae := linearAE(t, s, a)

	jacs, err := EstimateJacobian(context.Background(), ae, randBatch(rng, 3, s), 3, Options{})
	require.NoError(t, err)
	require.Len(t, jacs, 3)
	for _, j := range jacs {
		for i := 0; i < s.Size(); i++ {
			for d := 0; d < 4; d++ {
				assert.InDelta(t, float64(a[i][d]), j.Data[i*4+d], 1e-6)
			}
		}
		// [c][h][w][d] indexing
		assert.Equal(t, float64(a[(1*3+2)*2+1][3]), j.At(1, 2, 1, 3))
	}
}

func TestLinearDecoderJacobianEqualsA(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	s := nn.Shape{C: 1, H: 3, W: 3}
	a := randMatrix(rng, s.Size(), 5)
	ae := linearAE(t, s, a)

	z := make([]float32, 2*5)
	for i := range z {
		z[i] = float32(rng.NormFloat64())
	}
	jacs, err := EstimateDecoderJacobian(context.Background(), ae, z, 2, Options{Workers: 3})
	require.NoError(t, err)
	for _, j := range jacs {
		for i := 0; i < s.Size(); i++ {
			assert.InDeltaSlice(t, toF64(a[i]), j.Data[i*5:(i+1)*5], 1e-6)
		}
	}
}

func toF64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func TestJacobianIsIdempotentAndWorkerIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	s := nn.Shape{C: 1, H: 6, W: 6}
	ae := smoothAE(t, s, 4)
	x := randBatch(rng, 2, s)

	first, err := EstimateJacobian(context.Background(), ae, x, 2, Options{})
	require.NoError(t, err)
	second, err := EstimateJacobian(context.Background(), ae, x, 2, Options{})
	require.NoError(t, err)
	parallel, err := EstimateJacobian(context.Background(), ae, x, 2, Options{Workers: 4})
	require.NoError(t, err)
	for i := range first {
		assert.Equal(t, first[i].Data, second[i].Data)
		assert.Equal(t, first[i].Data, parallel[i].Data)
	}
}

func TestJacobianMatchesFiniteDifferences(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	s := nn.Shape{C: 1, H: 4, W: 4}
	ae := smoothAE(t, s, 3)
	x := randBatch(rng, 1, s)

	jacs, err := EstimateJacobian(context.Background(), ae, x, 1, Options{})
	require.NoError(t, err)

	const eps = 1e-2
	shifted := make([]float32, len(x))
	for i := range x {
		copy(shifted, x)
		shifted[i] = x[i] + eps
		plus, err := ae.enc.Predict(shifted, 1)
		require.NoError(t, err)
		shifted[i] = x[i] - eps
		minus, err := ae.enc.Predict(shifted, 1)
		require.NoError(t, err)
		for d := 0; d < 3; d++ {
			want := float64(plus[d]-minus[d]) / (2 * eps)
			assert.InDelta(t, want, jacs[0].Data[i*3+d], 1e-2)
		}
	}
}

func TestJacobianErrors(t *testing.T) {
	s := nn.Shape{C: 1, H: 4, W: 4}
	ae := smoothAE(t, s, 3)
	ctx := context.Background()

	_, err := EstimateJacobian(ctx, ae, make([]float32, 15), 1, Options{})
	assert.ErrorIs(t, err, ErrShapeMismatch)
	_, err = EstimateJacobian(ctx, ae, nil, 0, Options{})
	assert.ErrorIs(t, err, ErrInvalidParams)
	_, err = EstimateJacobian(ctx, ae, make([]float32, 16), 1, Options{MaxElements: 47})
	assert.ErrorIs(t, err, ErrTooLarge)
	_, err = EstimateDecoderJacobian(ctx, ae, make([]float32, 4), 1, Options{})
	assert.ErrorIs(t, err, ErrShapeMismatch)

	tape, err := ae.enc.Forward(make([]float32, 32), 2)
	require.NoError(t, err)
	jacs, err := allocJacobians(1, s, 3, Options{})
	require.NoError(t, err)
	_, err = jacobianFromTape(ctx, tape, jacs, Options{})
	assert.ErrorIs(t, err, ErrShapeMismatch)
	tape.Release()

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = EstimateJacobian(cancelled, ae, make([]float32, 16), 1, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func assertOrthonormal(t *testing.T, dirs *Directions) {
	t.Helper()
	var gram mat.Dense
	gram.Mul(dirs.Vectors.T(), dirs.Vectors)
	r, c := gram.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			assert.InDelta(t, want, gram.At(i, j), 1e-5, "gram[%d,%d]", i, j)
		}
	}
}

func assertDescending(t *testing.T, values []float64) {
	t.Helper()
	for k := 1; k < len(values); k++ {
		assert.LessOrEqual(t, values[k], values[k-1])
	}
}

func TestDirectionsAreOrthonormalAndOrdered(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	s := nn.Shape{C: 1, H: 5, W: 5}
	ae := smoothAE(t, s, 6)

	jacs, err := EstimateJacobian(context.Background(), ae, randBatch(rng, 3, s), 3, Options{})
	require.NoError(t, err)
	for _, j := range jacs {
		dirs, err := ExtractDirections(j)
		require.NoError(t, err)
		require.Equal(t, 6, dirs.Len())
		assertOrthonormal(t, dirs)
		assertDescending(t, dirs.Values)

		// ||J·v_k|| = σ_k
		jm := j.Matrix()
		for k := 0; k < dirs.Len(); k++ {
			var jv mat.VecDense
			jv.MulVec(jm, mat.NewVecDense(6, dirs.Direction(k)))
			assert.InDelta(t, dirs.Values[k], mat.Norm(&jv, 2), 1e-6)
		}
	}
}

func TestDirectionsPadValuesWhenFewerRowsThanLatents(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	s := nn.Shape{C: 1, H: 1, W: 2}
	ae := linearAE(t, s, randMatrix(rng, 2, 4))

	jacs, err := EstimateJacobian(context.Background(), ae, randBatch(rng, 1, s), 1, Options{})
	require.NoError(t, err)
	dirs, err := ExtractDirections(jacs[0])
	require.NoError(t, err)
	require.Len(t, dirs.Values, 4)
	assert.Greater(t, dirs.Values[1], 0.0)
	assert.Equal(t, 0.0, dirs.Values[2])
	assert.Equal(t, 0.0, dirs.Values[3])
	assertOrthonormal(t, dirs)
}

func TestConstantDecoderYieldsZeroSpectrum(t *testing.T) {
	s := nn.Shape{C: 1, H: 4, W: 4}
	ae := smoothAE(t, s, 3)
	fc := ae.dec.Layers()[0].(*nn.Linear)
	for i := range fc.Weights {
		fc.Weights[i] = 0
	}
	for i := range fc.Bias {
		fc.Bias[i] = 0.25
	}

	rng := rand.New(rand.NewSource(7))
	results, err := Analyze(context.Background(), ae, randBatch(rng, 2, s), 2, Params{
		Traversal: TraversalParams{NumDirections: 2, CoeffRange: 3, NumSteps: 2},
		Mode:      DecoderJacobian,
	})
	require.NoError(t, err)
	for _, r := range results {
		for _, v := range r.Jacobian.Data {
			assert.Equal(t, 0.0, v)
		}
		assert.InDeltaSlice(t, []float64{0, 0, 0}, r.Directions.Values, 1e-12)
		assert.Equal(t, 2, r.Grid.Rows)
	}
}

func TestLinspace(t *testing.T) {
	assert.Equal(t, []float64{-10, -7.5, -5, -2.5, 0}, Linspace(-10, 0, 5))
	assert.Equal(t, []float64{0, 2.5, 5, 7.5, 10}, Linspace(0, 10, 5))
	assert.Equal(t, []float64{3}, Linspace(3, 7, 1))
	assert.Nil(t, Linspace(0, 1, 0))
}

func TestAnalyzeProducesOneGridPerSample(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	s := nn.Shape{C: 1, H: 28, W: 28}
	ae := smoothAE(t, s, 10)
	x := randBatch(rng, 3, s)

	results, err := Analyze(context.Background(), ae, x, 3, Params{Traversal: DefaultTraversal, Workers: 2})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		g := r.Grid
		assert.Equal(t, 5, g.Rows)
		assert.Equal(t, 11, g.Cols)
		assert.Equal(t, 5, g.Center)
		require.Len(t, g.Cells, 5)
		for _, row := range g.Cells {
			require.Len(t, row, 11)
			for _, img := range row {
				assert.Len(t, img, 28*28)
			}
			assert.Equal(t, Image(x[i*784:(i+1)*784]), row[g.Center])
		}
		assert.Equal(t, -10.0, g.Coeffs[0])
		assert.True(t, math.IsNaN(g.Coeffs[5]))
		assert.Equal(t, 10.0, g.Coeffs[10])
		assertOrthonormal(t, r.Directions)
		assertDescending(t, r.Directions.Values)
	}
}

func TestZeroCoefficientDecodesLatent(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	s := nn.Shape{C: 1, H: 6, W: 6}
	ae := smoothAE(t, s, 4)
	x := randBatch(rng, 1, s)

	z, err := ae.enc.Predict(x, 1)
	require.NoError(t, err)
	want, err := ae.dec.Predict(z, 1)
	require.NoError(t, err)

	jacs, err := EstimateJacobian(context.Background(), ae, x, 1, Options{})
	require.NoError(t, err)
	dirs, err := ExtractDirections(jacs[0])
	require.NoError(t, err)

	p := TraversalParams{NumDirections: 3, CoeffRange: 2, NumSteps: 4}
	grid, err := RenderTraversals(context.Background(), ae, z, x, dirs, p)
	require.NoError(t, err)
	for _, row := range grid.Cells {
		assert.Equal(t, Image(want), row[grid.Center-1])
		assert.Equal(t, Image(want), row[grid.Center+1])
	}

	again, err := RenderTraversals(context.Background(), ae, z, x, dirs, p)
	require.NoError(t, err)
	assert.Equal(t, grid.Cells, again.Cells)
}

func TestRenderTraversalsValidatesParams(t *testing.T) {
	s := nn.Shape{C: 1, H: 4, W: 4}
	ae := smoothAE(t, s, 3)
	dirs := &Directions{Vectors: mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}), Values: []float64{3, 2, 1}}
	z := []float32{0, 0, 0}
	x := make([]float32, 16)
	ctx := context.Background()

	_, err := RenderTraversals(ctx, ae, z, x, dirs, TraversalParams{NumDirections: 4, CoeffRange: 1, NumSteps: 2})
	assert.ErrorIs(t, err, ErrInvalidParams)
	_, err = RenderTraversals(ctx, ae, z, x, dirs, TraversalParams{NumDirections: 1, CoeffRange: -1, NumSteps: 2})
	assert.ErrorIs(t, err, ErrInvalidParams)
	_, err = RenderTraversals(ctx, ae, z, x, dirs, TraversalParams{NumDirections: 1, CoeffRange: 1, NumSteps: 0})
	assert.ErrorIs(t, err, ErrInvalidParams)
	_, err = RenderTraversals(ctx, ae, z[:2], x, dirs, DefaultTraversal)
	assert.ErrorIs(t, err, ErrShapeMismatch)
	_, err = RenderTraversals(ctx, ae, z, x[:3], dirs, DefaultTraversal)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestParseJacobianMode(t *testing.T) {
	m, err := ParseJacobianMode("decoder")
	require.NoError(t, err)
	assert.Equal(t, DecoderJacobian, m)
	m, err = ParseJacobianMode("")
	require.NoError(t, err)
	assert.Equal(t, EncoderJacobian, m)
	_, err = ParseJacobianMode("both")
	assert.ErrorIs(t, err, ErrInvalidParams)
}
