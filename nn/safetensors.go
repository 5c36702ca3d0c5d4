package nn

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// TensorWithShape is one named tensor of a safetensors file. Values are
// always held as float32; DType selects the on-disk encoding.
type TensorWithShape struct {
	Values []float32
	Shape  []int
	DType  string
}

// TensorInfo describes a tensor's properties in the file header
type TensorInfo struct {
	DType  string `json:"dtype"`
	Shape  []int  `json:"shape"`
	Offset []int  `json:"data_offsets"`
}

// LoadSafetensors reads a safetensors file and returns tensors by name
func LoadSafetensors(filepath string) (map[string][]float32, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return LoadSafetensorsFromBytes(data)
}

// LoadSafetensorsFromBytes reads safetensors data from a byte slice and returns tensors by name
func LoadSafetensorsFromBytes(data []byte) (map[string][]float32, error) {
	tensors, err := DecodeSafetensors(data)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]float32, len(tensors))
	for name, t := range tensors {
		out[name] = t.Values
	}
	return out, nil
}

// DecodeSafetensors parses a safetensors image keeping each tensor's shape and
// stored dtype. Integer and bool tensors, such as PyTorch's batch norm
// num_batches_tracked counters, are converted to float32.
func DecodeSafetensors(data []byte) (map[string]TensorWithShape, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("data too short: need at least 8 bytes for header size")
	}

	// Read header size (first 8 bytes, little-endian)
	headerSize := binary.LittleEndian.Uint64(data[0:8])
	if headerSize > uint64(len(data)-8) {
		return nil, fmt.Errorf("data too short: header size %d but only %d bytes available", headerSize, len(data)-8)
	}

	var rawHeader map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+headerSize], &rawHeader); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	// Tensor data starts after header
	allData := data[8+headerSize:]

	tensors := make(map[string]TensorWithShape, len(rawHeader))
	for name, raw := range rawHeader {
		if name == "__metadata__" {
			continue
		}
		var info TensorInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			return nil, fmt.Errorf("tensor %s: bad header entry: %w", name, err)
		}
		if len(info.Offset) != 2 {
			return nil, fmt.Errorf("tensor %s: data_offsets must have two entries", name)
		}

		numElements := 1
		for _, dim := range info.Shape {
			numElements *= dim
		}
		width := readWidth(info.DType)
		if width == 0 {
			return nil, fmt.Errorf("tensor %s: unsupported dtype %s", name, info.DType)
		}

		start, end := info.Offset[0], info.Offset[1]
		if start < 0 || end > len(allData) || end-start != numElements*width {
			return nil, fmt.Errorf("tensor %s: data out of bounds", name)
		}
		buf := allData[start:end]

		values := make([]float32, numElements)
		for i := range values {
			switch info.DType {
			case "F64":
				values[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:])))
			case "F32":
				values[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
			case "F16":
				values[i] = float16ToFloat32(binary.LittleEndian.Uint16(buf[i*2:]))
			case "BF16":
				values[i] = bfloat16ToFloat32(binary.LittleEndian.Uint16(buf[i*2:]))
			case "I64":
				values[i] = float32(int64(binary.LittleEndian.Uint64(buf[i*8:])))
			case "I32":
				values[i] = float32(int32(binary.LittleEndian.Uint32(buf[i*4:])))
			case "I16":
				values[i] = float32(int16(binary.LittleEndian.Uint16(buf[i*2:])))
			case "I8":
				values[i] = float32(int8(buf[i]))
			case "U8", "BOOL":
				values[i] = float32(buf[i])
			}
		}
		tensors[name] = TensorWithShape{Values: values, Shape: info.Shape, DType: info.DType}
	}

	return tensors, nil
}

// readWidth returns the element size of every dtype DecodeSafetensors reads,
// or 0 for an unknown dtype.
func readWidth(dtype string) int {
	switch dtype {
	case "I64":
		return 8
	case "I32":
		return 4
	case "I16":
		return 2
	case "I8", "U8", "BOOL":
		return 1
	}
	return getBytesPerElement(dtype)
}

// float16ToFloat32 converts a float16 (half precision) to float32
func float16ToFloat32(f16 uint16) float32 {
	sign := uint32(f16>>15) & 0x1
	exponent := int32(f16>>10) & 0x1F
	mantissa := uint32(f16 & 0x3FF)

	var f32bits uint32
	switch {
	case exponent == 0 && mantissa == 0:
		f32bits = sign << 31
	case exponent == 0:
		// Subnormal: renormalize
		exponent = 1
		for mantissa&0x400 == 0 {
			mantissa <<= 1
			exponent--
		}
		mantissa &= 0x3FF
		f32bits = (sign << 31) | uint32(exponent+127-15)<<23 | (mantissa << 13)
	case exponent == 0x1F:
		// Inf or NaN
		f32bits = (sign << 31) | (0xFF << 23) | (mantissa << 13)
	default:
		f32bits = (sign << 31) | uint32(exponent+127-15)<<23 | (mantissa << 13)
	}

	return math.Float32frombits(f32bits)
}

// bfloat16ToFloat32 converts a bfloat16 to float32
func bfloat16ToFloat32(bf16 uint16) float32 {
	// bfloat16 is just the top 16 bits of float32
	return math.Float32frombits(uint32(bf16) << 16)
}
