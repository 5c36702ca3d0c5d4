package gpu

import (
	"fmt"

	"github.com/openfluke/webgpu/wgpu"
)

// Limits is the subset of adapter limits the kernels dispatch against.
// A zero field means the adapter did not report it.
type Limits struct {
	MaxComputeInvocationsPerWorkgroup uint32
	MaxComputeWorkgroupSizeX          uint32
	MaxComputeWorkgroupsPerDimension  uint32
	MaxStorageBufferBindingSize       uint64
	MaxBufferSize                     uint64
}

func limitsFrom(l wgpu.SupportedLimits) Limits {
	return Limits{
		MaxComputeInvocationsPerWorkgroup: l.Limits.MaxComputeInvocationsPerWorkgroup,
		MaxComputeWorkgroupSizeX:          l.Limits.MaxComputeWorkgroupSizeX,
		MaxComputeWorkgroupsPerDimension:  l.Limits.MaxComputeWorkgroupsPerDimension,
		MaxStorageBufferBindingSize:       l.Limits.MaxStorageBufferBindingSize,
		MaxBufferSize:                     l.Limits.MaxBufferSize,
	}
}

// Workgroup returns the largest 1D workgroup size up to 256 that the
// adapter accepts.
func (l Limits) Workgroup() uint32 {
	for _, c := range []uint32{256, 128, 64, 32, 16, 8, 4, 1} {
		if (l.MaxComputeWorkgroupSizeX == 0 || c <= l.MaxComputeWorkgroupSizeX) &&
			(l.MaxComputeInvocationsPerWorkgroup == 0 || c <= l.MaxComputeInvocationsPerWorkgroup) {
			return c
		}
	}
	return 1
}

// Dispatch returns the number of workgroups covering n invocations.
func (l Limits) Dispatch(n int) (uint32, error) {
	wg := int(l.Workgroup())
	groups := (n + wg - 1) / wg
	if limit := l.MaxComputeWorkgroupsPerDimension; limit != 0 && groups > int(limit) {
		return 0, fmt.Errorf("gpu: %d workgroups exceed the per-dimension limit %d", groups, limit)
	}
	return uint32(groups), nil
}

// CheckBinding verifies a storage buffer of n float32 values can be bound.
func (l Limits) CheckBinding(n int) error {
	size := uint64(n) * 4
	if limit := l.MaxStorageBufferBindingSize; limit != 0 && size > limit {
		return fmt.Errorf("gpu: %d byte binding exceeds limit %d", size, limit)
	}
	if limit := l.MaxBufferSize; limit != 0 && size > limit {
		return fmt.Errorf("gpu: %d byte buffer exceeds limit %d", size, limit)
	}
	return nil
}
