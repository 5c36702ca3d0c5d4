package nn

import (
	"fmt"
	"sort"
)

// LoadState copies parameters from a flat state dict. Keys are
// "<prefix><layer name>.<param name>", matching PyTorch state_dict naming.
// Keys in state that no layer asks for are ignored.
func (s *Sequential) LoadState(state map[string][]float32, prefix string) error {
	for _, l := range s.layers {
		for _, p := range l.Params() {
			key := prefix + l.Name() + "." + p.Name
			values, ok := state[key]
			if !ok {
				return fmt.Errorf("%s: %w", key, ErrMissingParam)
			}
			if len(values) != len(p.Data) {
				return fmt.Errorf("%s: got %d values, want %d %v: %w", key, len(values), len(p.Data), p.Shape, ErrShapeMismatch)
			}
			copy(p.Data, values)
		}
	}
	return nil
}

// State exports every parameter as an F32 tensor keyed like LoadState expects.
func (s *Sequential) State(prefix string) map[string]TensorWithShape {
	out := make(map[string]TensorWithShape)
	for _, l := range s.layers {
		for _, p := range l.Params() {
			values := make([]float32, len(p.Data))
			copy(values, p.Data)
			out[prefix+l.Name()+"."+p.Name] = TensorWithShape{
				Values: values,
				Shape:  append([]int(nil), p.Shape...),
				DType:  "F32",
			}
		}
	}
	return out
}

// ParamKeys lists the state keys of the stack in sorted order.
func (s *Sequential) ParamKeys(prefix string) []string {
	var keys []string
	for _, l := range s.layers {
		for _, p := range l.Params() {
			keys = append(keys, prefix+l.Name()+"."+p.Name)
		}
	}
	sort.Strings(keys)
	return keys
}
