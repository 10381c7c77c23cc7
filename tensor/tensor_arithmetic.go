// tensor_arithmetic.go - elementwise binary/unary/compare/affine kernels
// and their tape-recording wrappers.
package tensor

import (
	"math"

	"github.com/tensorcore/tensorcore/dtype"
	"github.com/tensorcore/tensorcore/shape"
	"github.com/tensorcore/tensorcore/storage"
)

func (t *Tensor) binary(op string, other *Tensor, kind BinaryKind, f func(a, b float64) float64) (*Tensor, error) {
	if err := checkSameDType(op, t, other); err != nil {
		return nil, err
	}
	if err := checkSameDevice(op, t, other); err != nil {
		return nil, err
	}
	buf, outShape, err := binaryElemwise(op, *t.storage, *other.storage, t.layout, other.layout, t.DType(), f)
	if err != nil {
		return nil, err
	}
	out := newFromOp(storage.NewCPU(buf), shape.NewContiguous(outShape), nil)
	if t.TrackOp() || other.TrackOp() {
		out.op = OpBinary{Lhs: t, Rhs: other, Kind: kind}
	}
	return out, nil
}

// Add is elementwise t + other, broadcasting shapes first.
func (t *Tensor) Add(other *Tensor) (*Tensor, error) {
	return t.binary("add", other, Add, func(a, b float64) float64 { return a + b })
}

// Sub is elementwise t - other.
func (t *Tensor) Sub(other *Tensor) (*Tensor, error) {
	return t.binary("sub", other, Sub, func(a, b float64) float64 { return a - b })
}

// Mul is elementwise t * other.
func (t *Tensor) Mul(other *Tensor) (*Tensor, error) {
	return t.binary("mul", other, Mul, func(a, b float64) float64 { return a * b })
}

// Div is elementwise t / other.
func (t *Tensor) Div(other *Tensor) (*Tensor, error) {
	return t.binary("div", other, Div, func(a, b float64) float64 { return a / b })
}

func (t *Tensor) cmp(op string, other *Tensor, kind CmpKind, f func(a, b float64) bool) (*Tensor, error) {
	if err := checkSameDType(op, t, other); err != nil {
		return nil, err
	}
	if err := checkSameDevice(op, t, other); err != nil {
		return nil, err
	}
	buf, outShape, err := binaryElemwise(op, *t.storage, *other.storage, t.layout, other.layout, dtype.U8, func(a, b float64) float64 {
		if f(a, b) {
			return 1
		}
		return 0
	})
	if err != nil {
		return nil, err
	}
	out := newFromOp(storage.NewCPU(buf), shape.NewContiguous(outShape), nil)
	// Cmp never records gradient flow: the tape entry is attached only for
	// introspection (e.g. LogValue), never consulted by the backward pass.
	if t.TrackOp() {
		out.op = OpCmp{X: t, Kind: kind}
	}
	return out, nil
}

// Eq, Ne, Le, Ge, Lt, Gt produce a U8 mask (0/1) of the broadcast shape.
func (t *Tensor) Eq(o *Tensor) (*Tensor, error) { return t.cmp("eq", o, Eq, func(a, b float64) bool { return a == b }) }
func (t *Tensor) Ne(o *Tensor) (*Tensor, error) { return t.cmp("ne", o, Ne, func(a, b float64) bool { return a != b }) }
func (t *Tensor) Le(o *Tensor) (*Tensor, error) { return t.cmp("le", o, Le, func(a, b float64) bool { return a <= b }) }
func (t *Tensor) Ge(o *Tensor) (*Tensor, error) { return t.cmp("ge", o, Ge, func(a, b float64) bool { return a >= b }) }
func (t *Tensor) Lt(o *Tensor) (*Tensor, error) { return t.cmp("lt", o, Lt, func(a, b float64) bool { return a < b }) }
func (t *Tensor) Gt(o *Tensor) (*Tensor, error) { return t.cmp("gt", o, Gt, func(a, b float64) bool { return a > b }) }

func (t *Tensor) unary(op string, kind UnaryKind, f func(x float64) float64) (*Tensor, error) {
	buf, err := unaryElemwise(op, *t.storage, t.layout, f)
	if err != nil {
		return nil, err
	}
	out := newFromOp(storage.NewCPU(buf), shape.NewContiguous(t.Shape()), nil)
	if t.TrackOp() {
		out.op = OpUnary{X: t, Kind: kind}
	}
	return out, nil
}

func (t *Tensor) Exp() (*Tensor, error)   { return t.unary("exp", Exp, math.Exp) }
func (t *Tensor) Log() (*Tensor, error)   { return t.unary("log", Log, math.Log) }
func (t *Tensor) Sin() (*Tensor, error)   { return t.unary("sin", Sin, math.Sin) }
func (t *Tensor) Cos() (*Tensor, error)   { return t.unary("cos", Cos, math.Cos) }
func (t *Tensor) Abs() (*Tensor, error)   { return t.unary("abs", Abs, math.Abs) }
func (t *Tensor) Neg() (*Tensor, error)   { return t.unary("neg", Neg, func(x float64) float64 { return -x }) }
func (t *Tensor) Recip() (*Tensor, error) { return t.unary("recip", Recip, func(x float64) float64 { return 1 / x }) }
func (t *Tensor) Sqr() (*Tensor, error)   { return t.unary("sqr", Sqr, func(x float64) float64 { return x * x }) }
func (t *Tensor) Sqrt() (*Tensor, error)  { return t.unary("sqrt", Sqrt, math.Sqrt) }
func (t *Tensor) Relu() (*Tensor, error)  { return t.unary("relu", Relu, func(x float64) float64 { return math.Max(x, 0) }) }

// Gelu uses the tanh-approximation form:
// 0.5*v*(1 + tanh(sqrt(2/pi)*(v + 0.044715*v^3))).
func (t *Tensor) Gelu() (*Tensor, error) {
	const k = 0.7978845608028654 // sqrt(2/pi)
	return t.unary("gelu", Gelu, func(v float64) float64 {
		return 0.5 * v * (1 + math.Tanh(k*(v+0.044715*v*v*v)))
	})
}

// Affine computes mul*x + add. When mul == 0 the result is a constant
// (add) broadcast to x's shape, and autograd must then not record a
// dependency on x — Affine's tape entry is only attached when mul != 0,
// so sortedNodes in the autograd package finds no Op to walk through.
func (t *Tensor) Affine(mul, add float64) (*Tensor, error) {
	buf, err := unaryElemwise("affine", *t.storage, t.layout, func(x float64) float64 { return mul*x + add })
	if err != nil {
		return nil, err
	}
	out := newFromOp(storage.NewCPU(buf), shape.NewContiguous(t.Shape()), nil)
	if mul != 0 && t.TrackOp() {
		out.op = OpAffine{Arg: t, Mul: mul, Add: add}
	}
	return out, nil
}

// Elu computes x if x >= 0 else alpha*(exp(x)-1).
func (t *Tensor) Elu(alpha float64) (*Tensor, error) {
	buf, err := unaryElemwise("elu", *t.storage, t.layout, func(x float64) float64 {
		if x >= 0 {
			return x
		}
		return alpha * (math.Exp(x) - 1)
	})
	if err != nil {
		return nil, err
	}
	out := newFromOp(storage.NewCPU(buf), shape.NewContiguous(t.Shape()), nil)
	if t.TrackOp() {
		out.op = OpElu{Arg: t, Alpha: alpha}
	}
	return out, nil
}

// ValueEqual reports per-element, per-dtype-aware equality: same dtype,
// same shape, and every element equal — a comparison operator, never
// implied by handle equality. Compares elements directly in one loop
// rather than through Cmp and a reduction.
func (t *Tensor) ValueEqual(other *Tensor) (bool, error) {
	if t.DType() != other.DType() {
		return false, nil
	}
	if !t.Shape().Equal(other.Shape()) {
		return false, nil
	}
	aBuf, err := t.storage.RequireCPU("value_equal")
	if err != nil {
		return false, err
	}
	bBuf, err := other.storage.RequireCPU("value_equal")
	if err != nil {
		return false, err
	}
	posA := shape.Positions(t.layout)
	posB := shape.Positions(other.layout)
	for i := range posA {
		if aBuf.At(posA[i]) != bBuf.At(posB[i]) {
			return false, nil
		}
	}
	return true, nil
}
