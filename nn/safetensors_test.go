package nn

import (
	"encoding/binary"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafetensorsRoundTrip(t *testing.T) {
	tensors := map[string]TensorWithShape{
		"encoder.fc.weight": {Values: []float32{1, -2.5, 3, 0.125, 7, -8}, Shape: []int{2, 3}, DType: "F32"},
		"encoder.fc.bias":   {Values: []float32{0.5, -0.25}, Shape: []int{2}, DType: "F16"},
		"decoder.scale":     {Values: []float32{1.5, -3}, Shape: []int{2}, DType: "BF16"},
		"decoder.offset":    {Values: []float32{1e-3}, Shape: []int{1}, DType: "F64"},
	}

	path := filepath.Join(t.TempDir(), "model.safetensors")
	require.NoError(t, SaveSafetensors(path, tensors))

	loaded, err := LoadSafetensors(path)
	require.NoError(t, err)
	require.Len(t, loaded, len(tensors))
	for name, want := range tensors {
		assert.InDeltaSlice(t, want.Values, loaded[name], 1e-6, name)
	}
}

func TestSerializeSafetensorsRejectsBadTensors(t *testing.T) {
	_, err := SerializeSafetensors(map[string]TensorWithShape{
		"x": {Values: []float32{1, 2, 3}, Shape: []int{2, 2}, DType: "F32"},
	})
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = SerializeSafetensors(map[string]TensorWithShape{
		"x": {Values: []float32{1}, Shape: []int{1}, DType: "I8"},
	})
	assert.Error(t, err)
}

func TestDecodeSafetensorsRejectsTruncatedData(t *testing.T) {
	data, err := SerializeSafetensors(map[string]TensorWithShape{
		"x": {Values: []float32{1, 2, 3, 4}, Shape: []int{4}, DType: "F32"},
	})
	require.NoError(t, err)

	_, err = DecodeSafetensors(data[:len(data)-4])
	assert.Error(t, err)
	_, err = DecodeSafetensors(data[:4])
	assert.Error(t, err)
}

func TestHalfPrecisionConversions(t *testing.T) {
	for _, v := range []float32{0, 1, -2, 0.5, 1.5, 65504} {
		assert.Equal(t, v, float16ToFloat32(float32ToFloat16(v)), "f16 %v", v)
	}
	for _, v := range []float32{0, 1, -2, 0.5, 1.5, 65280} {
		assert.Equal(t, v, bfloat16ToFloat32(float32ToBFloat16(v)), "bf16 %v", v)
	}
	// 65504 is not a bfloat16; the nearest even neighbour is 65536.
	assert.Equal(t, float32(65536), bfloat16ToFloat32(float32ToBFloat16(65504)))

	// Smallest subnormal half.
	assert.InDelta(t, 5.960464477539063e-08, float64(float16ToFloat32(0x0001)), 1e-12)
}

func TestFloat16Subnormals(t *testing.T) {
	tiny := float32(math.Ldexp(1, -24))
	cases := []struct {
		name string
		in   float32
		want uint16
	}{
		{"smallest", tiny, 0x0001},
		{"negative smallest", -tiny, 0x8001},
		{"largest", float32(math.Ldexp(1023, -24)), 0x03FF},
		{"tie rounds to even zero", tiny / 2, 0x0000},
		{"tie rounds to even two", tiny * 1.5, 0x0002},
		{"above half rounds up", tiny * 0.75, 0x0001},
		{"rounds into normal", float32(math.Ldexp(1023.75, -24)), 0x0400},
		{"underflow", float32(math.Ldexp(1, -30)), 0x0000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, float32ToFloat16(tc.in))
		})
	}

	v := float32(1e-5)
	assert.InDelta(t, float64(v), float64(float16ToFloat32(float32ToFloat16(v))), float64(tiny)/2)
}

func TestDecodeSafetensorsConvertsIntegerTensors(t *testing.T) {
	header := `{"bn.num_batches_tracked":{"dtype":"I64","shape":[],"data_offsets":[0,8]},` +
		`"ids":{"dtype":"I32","shape":[2],"data_offsets":[8,16]},` +
		`"mask":{"dtype":"BOOL","shape":[2],"data_offsets":[16,18]}}`
	data := make([]byte, 8+len(header)+18)
	binary.LittleEndian.PutUint64(data, uint64(len(header)))
	copy(data[8:], header)
	body := data[8+len(header):]
	binary.LittleEndian.PutUint64(body[0:], 1200)
	binary.LittleEndian.PutUint32(body[8:], uint32(0xFFFFFFFD)) // -3
	binary.LittleEndian.PutUint32(body[12:], 7)
	body[16], body[17] = 1, 0

	tensors, err := DecodeSafetensors(data)
	require.NoError(t, err)
	assert.Equal(t, []float32{1200}, tensors["bn.num_batches_tracked"].Values)
	assert.Equal(t, "I64", tensors["bn.num_batches_tracked"].DType)
	assert.Equal(t, []float32{-3, 7}, tensors["ids"].Values)
	assert.Equal(t, []float32{1, 0}, tensors["mask"].Values)
}

func TestSequentialStateRoundTrip(t *testing.T) {
	build := func() *Sequential {
		seq, err := NewSequential(Shape{C: 1, H: 4, W: 4},
			NewConv2D("0", 1, 2, 3, 1, 1, false),
			NewBatchNorm2D("1", 2),
			NewReshape("2", Flat(32)),
			NewLinear("fc", 32, 3, true),
		)
		require.NoError(t, err)
		return seq
	}
	src, dst := build(), build()

	data, err := SerializeSafetensors(src.State("encoder."))
	require.NoError(t, err)
	state, err := LoadSafetensorsFromBytes(data)
	require.NoError(t, err)
	require.NoError(t, dst.LoadState(state, "encoder."))

	x := []float32{
		1, 2, 3, 4, 5, 6, 7, 8,
		-1, -2, -3, -4, -5, -6, -7, -8,
	}
	a, err := src.Predict(x, 1)
	require.NoError(t, err)
	b, err := dst.Predict(x, 1)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	assert.Equal(t, []string{
		"encoder.0.weight",
		"encoder.1.bias", "encoder.1.running_mean", "encoder.1.running_var", "encoder.1.weight",
		"encoder.fc.bias", "encoder.fc.weight",
	}, src.ParamKeys("encoder."))
}

func TestLoadStateReportsMissingAndMismatched(t *testing.T) {
	seq, err := NewSequential(Flat(2), NewLinear("fc", 2, 1, true))
	require.NoError(t, err)

	err = seq.LoadState(map[string][]float32{"fc.weight": {1, 2}}, "")
	assert.ErrorIs(t, err, ErrMissingParam)

	err = seq.LoadState(map[string][]float32{"fc.weight": {1, 2, 3}, "fc.bias": {0}}, "")
	assert.ErrorIs(t, err, ErrShapeMismatch)
}
