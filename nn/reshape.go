package nn

import (
	"fmt"
	"math"
)

// ZeroPad2D pads every channel with zeros on each side.
type ZeroPad2D struct {
	name                     string
	Left, Right, Top, Bottom int
}

// NewZeroPad2D creates a padding layer; argument order matches (left, right, top, bottom).
func NewZeroPad2D(name string, left, right, top, bottom int) *ZeroPad2D {
	return &ZeroPad2D{name: name, Left: left, Right: right, Top: top, Bottom: bottom}
}

func (p *ZeroPad2D) Name() string    { return p.name }
func (p *ZeroPad2D) Kind() string    { return "zeropad2d" }
func (p *ZeroPad2D) Params() []Param { return nil }

func (p *ZeroPad2D) OutShape(in Shape) (Shape, error) {
	return Shape{C: in.C, H: in.H + p.Top + p.Bottom, W: in.W + p.Left + p.Right}, nil
}

func (p *ZeroPad2D) Forward(in []float32, batch int, s Shape) ([]float32, error) {
	if err := checkLen(p.name, len(in), batch*s.Size()); err != nil {
		return nil, err
	}
	o, _ := p.OutShape(s)
	out := make([]float32, batch*o.Size())
	for b := 0; b < batch; b++ {
		for c := 0; c < s.C; c++ {
			for h := 0; h < s.H; h++ {
				src := ((b*s.C+c)*s.H + h) * s.W
				dst := ((b*o.C+c)*o.H+h+p.Top)*o.W + p.Left
				copy(out[dst:dst+s.W], in[src:src+s.W])
			}
		}
	}
	return out, nil
}

func (p *ZeroPad2D) Backward(gradOut, _, _ []float32, batch int, s Shape) ([]float32, error) {
	o, _ := p.OutShape(s)
	if err := checkLen(p.name+" grad", len(gradOut), batch*o.Size()); err != nil {
		return nil, err
	}
	gradIn := make([]float32, batch*s.Size())
	for b := 0; b < batch; b++ {
		for c := 0; c < s.C; c++ {
			for h := 0; h < s.H; h++ {
				dst := ((b*s.C+c)*s.H + h) * s.W
				src := ((b*o.C+c)*o.H+h+p.Top)*o.W + p.Left
				copy(gradIn[dst:dst+s.W], gradOut[src:src+s.W])
			}
		}
	}
	return gradIn, nil
}

// Reshape reinterprets each sample with a new shape of the same size.
type Reshape struct {
	name string
	To   Shape
}

// NewReshape creates a view layer.
func NewReshape(name string, to Shape) *Reshape {
	return &Reshape{name: name, To: to}
}

func (r *Reshape) Name() string    { return r.name }
func (r *Reshape) Kind() string    { return "reshape" }
func (r *Reshape) Params() []Param { return nil }

func (r *Reshape) OutShape(in Shape) (Shape, error) {
	if in.Size() != r.To.Size() {
		return Shape{}, fmt.Errorf("%s: cannot view %v as %v: %w", r.name, in, r.To, ErrShapeMismatch)
	}
	return r.To, nil
}

// Forward returns its input unchanged; buffers are never mutated after a
// forward pass, so sharing is safe.
func (r *Reshape) Forward(in []float32, batch int, s Shape) ([]float32, error) {
	if err := checkLen(r.name, len(in), batch*s.Size()); err != nil {
		return nil, err
	}
	return in, nil
}

func (r *Reshape) Backward(gradOut, _, _ []float32, batch int, s Shape) ([]float32, error) {
	if err := checkLen(r.name+" grad", len(gradOut), batch*s.Size()); err != nil {
		return nil, err
	}
	gradIn := make([]float32, len(gradOut))
	copy(gradIn, gradOut)
	return gradIn, nil
}

// Slice keeps features [From, To) of each flattened sample.
type Slice struct {
	name     string
	From, To int
}

// NewSlice creates a feature slicing layer.
func NewSlice(name string, from, to int) *Slice {
	return &Slice{name: name, From: from, To: to}
}

func (sl *Slice) Name() string    { return sl.name }
func (sl *Slice) Kind() string    { return "slice" }
func (sl *Slice) Params() []Param { return nil }

func (sl *Slice) OutShape(in Shape) (Shape, error) {
	if sl.From < 0 || sl.To > in.Size() || sl.From >= sl.To {
		return Shape{}, fmt.Errorf("%s: range [%d,%d) outside %d features: %w", sl.name, sl.From, sl.To, in.Size(), ErrShapeMismatch)
	}
	return Flat(sl.To - sl.From), nil
}

func (sl *Slice) Forward(in []float32, batch int, s Shape) ([]float32, error) {
	if err := checkLen(sl.name, len(in), batch*s.Size()); err != nil {
		return nil, err
	}
	n := s.Size()
	width := sl.To - sl.From
	out := make([]float32, batch*width)
	for b := 0; b < batch; b++ {
		copy(out[b*width:(b+1)*width], in[b*n+sl.From:b*n+sl.To])
	}
	return out, nil
}

func (sl *Slice) Backward(gradOut, _, _ []float32, batch int, s Shape) ([]float32, error) {
	width := sl.To - sl.From
	if err := checkLen(sl.name+" grad", len(gradOut), batch*width); err != nil {
		return nil, err
	}
	n := s.Size()
	gradIn := make([]float32, batch*n)
	for b := 0; b < batch; b++ {
		copy(gradIn[b*n+sl.From:b*n+sl.To], gradOut[b*width:(b+1)*width])
	}
	return gradIn, nil
}

// L2Normalize divides each flattened sample by its Euclidean norm,
// clamped below at Eps.
type L2Normalize struct {
	name string
	Eps  float64
}

// NewL2Normalize creates a per-sample normalization layer.
func NewL2Normalize(name string) *L2Normalize {
	return &L2Normalize{name: name, Eps: 1e-12}
}

func (n *L2Normalize) Name() string                     { return n.name }
func (n *L2Normalize) Kind() string                     { return "l2normalize" }
func (n *L2Normalize) Params() []Param                  { return nil }
func (n *L2Normalize) OutShape(in Shape) (Shape, error) { return in, nil }

func (n *L2Normalize) norm(x []float32) float64 {
	var ss float64
	for _, v := range x {
		ss += float64(v) * float64(v)
	}
	return math.Sqrt(ss)
}

func (n *L2Normalize) Forward(in []float32, batch int, s Shape) ([]float32, error) {
	if err := checkLen(n.name, len(in), batch*s.Size()); err != nil {
		return nil, err
	}
	size := s.Size()
	out := make([]float32, len(in))
	for b := 0; b < batch; b++ {
		x := in[b*size : (b+1)*size]
		d := math.Max(n.norm(x), n.Eps)
		for i, v := range x {
			out[b*size+i] = float32(float64(v) / d)
		}
	}
	return out, nil
}

// Backward: for r = ||x|| > Eps, dy/dx = (I - y yᵀ) / r; below Eps the map is x / Eps.
func (n *L2Normalize) Backward(gradOut, in, out []float32, batch int, s Shape) ([]float32, error) {
	if err := checkLen(n.name+" grad", len(gradOut), batch*s.Size()); err != nil {
		return nil, err
	}
	size := s.Size()
	gradIn := make([]float32, len(gradOut))
	for b := 0; b < batch; b++ {
		x := in[b*size : (b+1)*size]
		g := gradOut[b*size : (b+1)*size]
		r := n.norm(x)
		if r <= n.Eps {
			for i := range g {
				gradIn[b*size+i] = float32(float64(g[i]) / n.Eps)
			}
			continue
		}
		y := out[b*size : (b+1)*size]
		var dot float64
		for i := range g {
			dot += float64(y[i]) * float64(g[i])
		}
		for i := range g {
			gradIn[b*size+i] = float32((float64(g[i]) - float64(y[i])*dot) / r)
		}
	}
	return gradIn, nil
}
