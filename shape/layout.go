package shape

import "github.com/tensorcore/tensorcore/errs"

// Layout is the triple (shape, strides, start_offset) that maps logical
// tensor indices onto positions in a flat storage buffer. Strides are
// counted in elements, never bytes.
type Layout struct {
	shape   Shape
	strides []int
	offset  int
}

// NewContiguous builds the default row-major layout for shape at offset 0.
func NewContiguous(s Shape) Layout {
	return Layout{shape: s.Clone(), strides: ContiguousStrides(s), offset: 0}
}

// NewLayout builds a layout from explicit shape, strides and offset. The
// caller is responsible for strides.len() == shape.len().
func NewLayout(s Shape, strides []int, offset int) Layout {
	st := make([]int, len(strides))
	copy(st, strides)
	return Layout{shape: s.Clone(), strides: st, offset: offset}
}

func (l Layout) Shape() Shape      { return l.shape }
func (l Layout) Rank() int         { return l.shape.Rank() }
func (l Layout) ElemCount() int    { return l.shape.ElemCount() }
func (l Layout) Offset() int       { return l.offset }
func (l Layout) Strides() []int    { return l.strides }
func (l Layout) Stride(i int) int  { return l.strides[i] }
func (l Layout) Dim(i int) (int, error) { return l.shape.Dim(i) }

// IsContiguous reports whether l is the row-major default at offset 0.
func (l Layout) IsContiguous() bool {
	if l.offset != 0 {
		return false
	}
	want := ContiguousStrides(l.shape)
	for i := range want {
		if l.strides[i] != want[i] {
			return false
		}
	}
	return true
}

// Narrow advances start_offset by start*strides[dim] and sets
// shape[dim] = length. Requires start+length <= shape[dim].
func (l Layout) Narrow(dim, start, length int) (Layout, error) {
	d, err := l.resolveDim(dim)
	if err != nil {
		return Layout{}, err
	}
	if start < 0 || length < 0 || start+length > l.shape[d] {
		return Layout{}, errs.IndexRange("layout.Narrow", start+length, l.shape[d])
	}
	out := l.clone()
	out.offset += start * out.strides[d]
	out.shape[d] = length
	return out, nil
}

// Transpose swaps the shape and stride entries at d1, d2.
func (l Layout) Transpose(d1, d2 int) (Layout, error) {
	a, err := l.resolveDim(d1)
	if err != nil {
		return Layout{}, err
	}
	b, err := l.resolveDim(d2)
	if err != nil {
		return Layout{}, err
	}
	out := l.clone()
	out.shape[a], out.shape[b] = out.shape[b], out.shape[a]
	out.strides[a], out.strides[b] = out.strides[b], out.strides[a]
	return out, nil
}

// Reshape is permitted iff l is contiguous and the element count matches;
// otherwise the caller must materialize a contiguous copy first. This is
// an explicit error, never a silent misbehaving reshape.
func (l Layout) Reshape(newShape Shape) (Layout, error) {
	if !l.IsContiguous() {
		return Layout{}, errs.New(errs.ReshapeNotContiguous, "layout.Reshape", "call Contiguous() first")
	}
	if newShape.ElemCount() != l.ElemCount() {
		return Layout{}, errs.ShapeMismatch("layout.Reshape", l.shape, newShape)
	}
	return NewContiguous(newShape), nil
}

// BroadcastAs returns a new layout over the same storage view, expanded to
// target: stride 0 on every expanded dimension, zero-stride dims prepended
// as needed. Fails if the shapes are not broadcast-compatible.
func (l Layout) BroadcastAs(target Shape) (Layout, error) {
	if _, err := BroadcastShape(l.shape, target); err != nil {
		return Layout{}, err
	}
	left := len(target) - len(l.shape)
	if left < 0 {
		return Layout{}, errs.Broadcast(l.shape, target)
	}
	strides := make([]int, len(target))
	for i := 0; i < left; i++ {
		strides[i] = 0
	}
	for i, d := range l.shape {
		ti := target[left+i]
		switch {
		case d == ti:
			strides[left+i] = l.strides[i]
		case d == 1:
			strides[left+i] = 0
		default:
			return Layout{}, errs.Broadcast(l.shape, target)
		}
	}
	return Layout{shape: target.Clone(), strides: strides, offset: l.offset}, nil
}

// Index maps a multi-dimensional logical index to the flat storage
// position it addresses.
func (l Layout) Index(idx []int) int {
	pos := l.offset
	for i, v := range idx {
		pos += v * l.strides[i]
	}
	return pos
}

func (l Layout) resolveDim(i int) (int, error) {
	d := i
	if d < 0 {
		d += l.shape.Rank()
	}
	if d < 0 || d >= l.shape.Rank() {
		return 0, errs.DimRange("layout", i, l.shape.Rank())
	}
	return d, nil
}

func (l Layout) clone() Layout {
	out := Layout{shape: l.shape.Clone(), strides: make([]int, len(l.strides)), offset: l.offset}
	copy(out.strides, l.strides)
	return out
}
