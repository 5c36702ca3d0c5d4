package nn

import "fmt"

// Sequential runs a fixed stack of layers in order.
// shapes[0] is the input shape, shapes[i+1] the output shape of layer i.
type Sequential struct {
	layers []Layer
	shapes []Shape
}

// NewSequential validates the stack against the per-sample input shape.
func NewSequential(in Shape, layers ...Layer) (*Sequential, error) {
	if in.Size() <= 0 {
		return nil, fmt.Errorf("sequential: empty input shape %v: %w", in, ErrShapeMismatch)
	}
	shapes := make([]Shape, len(layers)+1)
	shapes[0] = in
	for i, l := range layers {
		out, err := l.OutShape(shapes[i])
		if err != nil {
			return nil, fmt.Errorf("sequential layer %d: %w", i, err)
		}
		shapes[i+1] = out
	}
	return &Sequential{layers: layers, shapes: shapes}, nil
}

// InShape returns the per-sample input shape.
func (s *Sequential) InShape() Shape { return s.shapes[0] }

// OutShape returns the per-sample output shape.
func (s *Sequential) OutShape() Shape { return s.shapes[len(s.shapes)-1] }

// Layers returns the layer stack.
func (s *Sequential) Layers() []Layer { return s.layers }

// Forward executes the stack and retains every intermediate activation on the
// returned Tape for later VJPs.
func (s *Sequential) Forward(input []float32, batch int) (*Tape, error) {
	if batch <= 0 {
		return nil, ErrBatchSize
	}
	if err := checkLen("sequential input", len(input), batch*s.shapes[0].Size()); err != nil {
		return nil, err
	}
	acts := make([][]float32, len(s.layers)+1)
	acts[0] = make([]float32, len(input))
	copy(acts[0], input)

	data := acts[0]
	for i, l := range s.layers {
		out, err := l.Forward(data, batch, s.shapes[i])
		if err != nil {
			return nil, fmt.Errorf("forward %s: %w", l.Name(), err)
		}
		acts[i+1] = out
		data = out
	}

	return &Tape{seq: s, batch: batch, acts: acts}, nil
}

// Predict runs a forward pass and keeps only the output.
func (s *Sequential) Predict(input []float32, batch int) ([]float32, error) {
	tape, err := s.Forward(input, batch)
	if err != nil {
		return nil, err
	}
	out := tape.Output()
	tape.Release()
	return out, nil
}

// Tape is the record of one forward pass.
type Tape struct {
	seq   *Sequential
	batch int
	acts  [][]float32
}

// Batch returns the number of samples in the forward pass.
func (t *Tape) Batch() int { return t.batch }

// Output returns the network output. Callers must not modify it.
func (t *Tape) Output() []float32 {
	if t.acts == nil {
		return nil
	}
	return t.acts[len(t.acts)-1]
}

// VJP back-propagates seed (shaped like the output) through the recorded pass
// and returns seedᵀ·∂output/∂input as a new slice shaped like the input.
func (t *Tape) VJP(seed []float32) ([]float32, error) {
	if t.acts == nil {
		return nil, fmt.Errorf("vjp on released tape")
	}
	s := t.seq
	if err := checkLen("vjp seed", len(seed), t.batch*s.OutShape().Size()); err != nil {
		return nil, err
	}

	grad := seed
	for i := len(s.layers) - 1; i >= 0; i-- {
		l := s.layers[i]
		next, err := l.Backward(grad, t.acts[i], t.acts[i+1], t.batch, s.shapes[i])
		if err != nil {
			return nil, fmt.Errorf("backward %s: %w", l.Name(), err)
		}
		grad = next
	}
	if len(s.layers) == 0 {
		grad = append([]float32(nil), seed...)
	}
	return grad, nil
}

// Release drops the retained activations.
func (t *Tape) Release() {
	t.acts = nil
}
