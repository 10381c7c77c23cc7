// Package shape implements dimension arithmetic, stride computation and
// contiguity analysis: the algebra a strided tensor layout needs for
// broadcasting, narrowing, transposing and reshaping. See DESIGN.md for
// the stdlib-only justification.
package shape

import (
	"fmt"

	"github.com/tensorcore/tensorcore/errs"
)

// Shape is an ordered, value-typed sequence of non-negative dimension
// extents.
type Shape []int

// Rank is the number of dimensions.
func (s Shape) Rank() int { return len(s) }

// ElemCount is the product of all extents (1 for the empty shape).
func (s Shape) ElemCount() int {
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Dim returns the extent at index i, supporting negative indices counted
// from the end (i == -1 is the last dimension), the way the rest of the
// engine addresses axes.
func (s Shape) Dim(i int) (int, error) {
	d, err := s.resolve(i)
	if err != nil {
		return 0, err
	}
	return s[d], nil
}

func (s Shape) resolve(i int) (int, error) {
	d := i
	if d < 0 {
		d += len(s)
	}
	if d < 0 || d >= len(s) {
		return 0, errs.DimRange("shape.Dim", i, len(s))
	}
	return d, nil
}

// Clone returns an independent copy of the shape.
func (s Shape) Clone() Shape {
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

// Equal reports whether two shapes have identical rank and extents.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

func (s Shape) String() string {
	return fmt.Sprintf("%v", []int(s))
}

// ContiguousStrides returns the row-major strides for s (elements, not
// bytes): strides[i] == product(shape[i+1:]).
func ContiguousStrides(s Shape) []int {
	strides := make([]int, len(s))
	acc := 1
	for i := len(s) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= s[i]
	}
	return strides
}

// BroadcastShape right-aligns a and b, pads the shorter with leading 1s,
// then for each dimension requires equality unless one side is 1. It is
// commutative up to result equality and associative.
func BroadcastShape(a, b Shape) (Shape, error) {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make(Shape, n)
	for i := 0; i < n; i++ {
		ai, bi := 1, 1
		if k := len(a) - n + i; k >= 0 {
			ai = a[k]
		}
		if k := len(b) - n + i; k >= 0 {
			bi = b[k]
		}
		switch {
		case ai == bi:
			out[i] = ai
		case ai == 1:
			out[i] = bi
		case bi == 1:
			out[i] = ai
		default:
			return nil, errs.Broadcast(a, b)
		}
	}
	return out, nil
}
