package nn

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
)

// SaveSafetensors writes tensors to a safetensors file
func SaveSafetensors(filepath string, tensors map[string]TensorWithShape) error {
	data, err := SerializeSafetensors(tensors)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath, data, 0644)
}

// SerializeSafetensors converts tensors to safetensors format bytes.
// Tensors are laid out in sorted name order so output is deterministic.
func SerializeSafetensors(tensors map[string]TensorWithShape) ([]byte, error) {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]TensorInfo, len(names))
	currentOffset := 0
	for _, name := range names {
		tensor := tensors[name]
		bytesPerElement := getBytesPerElement(tensor.DType)
		if bytesPerElement == 0 {
			return nil, fmt.Errorf("tensor %s: unsupported dtype: %s", name, tensor.DType)
		}
		numElements := 1
		for _, dim := range tensor.Shape {
			numElements *= dim
		}
		if numElements != len(tensor.Values) {
			return nil, fmt.Errorf("tensor %s: shape %v holds %d values, got %d: %w", name, tensor.Shape, numElements, len(tensor.Values), ErrShapeMismatch)
		}
		dataSize := numElements * bytesPerElement
		header[name] = TensorInfo{
			DType:  tensor.DType,
			Shape:  tensor.Shape,
			Offset: []int{currentOffset, currentOffset + dataSize},
		}
		currentOffset += dataSize
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal header: %w", err)
	}

	// Build file: [header_size (8 bytes)] [header JSON] [tensor data]
	headerSize := uint64(len(headerJSON))
	result := make([]byte, 8+headerSize+uint64(currentOffset))
	binary.LittleEndian.PutUint64(result[0:8], headerSize)
	copy(result[8:8+headerSize], headerJSON)

	dataStart := int(8 + headerSize)
	for _, name := range names {
		info := header[name]
		if err := writeTensorData(result[dataStart+info.Offset[0]:], tensors[name]); err != nil {
			return nil, fmt.Errorf("failed to write tensor %s: %w", name, err)
		}
	}

	return result, nil
}

// getBytesPerElement returns bytes per element for a dtype
func getBytesPerElement(dtype string) int {
	switch dtype {
	case "F64":
		return 8
	case "F32":
		return 4
	case "F16", "BF16":
		return 2
	default:
		return 0
	}
}

// writeTensorData writes tensor data in the specified dtype format
func writeTensorData(dest []byte, tensor TensorWithShape) error {
	switch tensor.DType {
	case "F32":
		for i, val := range tensor.Values {
			binary.LittleEndian.PutUint32(dest[i*4:], math.Float32bits(val))
		}
	case "F64":
		for i, val := range tensor.Values {
			binary.LittleEndian.PutUint64(dest[i*8:], math.Float64bits(float64(val)))
		}
	case "F16":
		for i, val := range tensor.Values {
			binary.LittleEndian.PutUint16(dest[i*2:], float32ToFloat16(val))
		}
	case "BF16":
		for i, val := range tensor.Values {
			binary.LittleEndian.PutUint16(dest[i*2:], float32ToBFloat16(val))
		}
	default:
		return fmt.Errorf("unsupported dtype: %s", tensor.DType)
	}
	return nil
}

// float32ToFloat16 rounds to the nearest half-precision value, ties to even.
// Values below the smallest normal half become subnormals.
func float32ToFloat16(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16(bits>>16) & 0x8000
	exponent := int32(bits>>23)&0xFF - 127 + 15
	mantissa := bits & 0x7FFFFF

	switch {
	case bits&0x7FFFFFFF == 0:
		return sign
	case int32(bits>>23)&0xFF == 0xFF:
		// Inf or NaN
		if mantissa != 0 {
			return sign | 0x7E00
		}
		return sign | 0x7C00
	case exponent >= 0x1F:
		return sign | 0x7C00
	case exponent <= 0:
		if exponent < -10 {
			return sign
		}
		// value = m·2^(exponent-38); a subnormal half holds value/2^-24.
		m := mantissa | 0x800000
		shift := uint32(14 - exponent)
		return sign | uint16(roundShift(m, shift))
	}

	// A mantissa carry rolls into the exponent, up to Inf.
	return sign | uint16(roundShift(uint32(exponent)<<23|mantissa, 13))
}

// roundShift returns v >> shift rounded to nearest, ties to even.
func roundShift(v, shift uint32) uint32 {
	half := uint32(1) << (shift - 1)
	rem := v & (half<<1 - 1)
	out := v >> shift
	if rem > half || (rem == half && out&1 == 1) {
		out++
	}
	return out
}

// float32ToBFloat16 truncates to the top 16 bits with round-to-nearest-even.
func float32ToBFloat16(f float32) uint16 {
	bits := math.Float32bits(f)
	if f != f {
		return uint16(bits>>16) | 0x40
	}
	rounding := uint32(0x7FFF) + (bits>>16)&1
	return uint16((bits + rounding) >> 16)
}
