package tensor

import "github.com/tensorcore/tensorcore/shape"

// Op is the tagged-union description of a producing operation. Each
// variant is a small struct holding its input Tensors by shared
// handle (keeping them, and their storage, alive as long as a
// gradient-capable descendant exists) plus whatever op-specific
// parameters the backward pass needs.
type Op interface {
	// opTag exists only to close the set of permissible Op implementers
	// to this package, mirroring a Rust sum type's exhaustiveness.
	opTag()
}

type BinaryKind int

const (
	Add BinaryKind = iota
	Sub
	Mul
	Div
)

var binaryNames = [...]string{"add", "sub", "mul", "div"}

func (k BinaryKind) String() string { return binaryNames[k] }

type UnaryKind int

const (
	Exp UnaryKind = iota
	Log
	Sin
	Cos
	Abs
	Neg
	Recip
	Sqr
	Sqrt
	Gelu
	Relu
)

var unaryNames = [...]string{"exp", "log", "sin", "cos", "abs", "neg", "recip", "sqr", "sqrt", "gelu", "relu"}

func (k UnaryKind) String() string { return unaryNames[k] }

type CmpKind int

const (
	Eq CmpKind = iota
	Ne
	Le
	Ge
	Lt
	Gt
)

type ReduceKind int

const (
	Sum ReduceKind = iota
	Min
	Max
	ArgMin
	ArgMax
)

// OpBinary is Binary(lhs, rhs, kind) ∈ {Add,Sub,Mul,Div}.
type OpBinary struct {
	Lhs, Rhs *Tensor
	Kind     BinaryKind
}

// OpUnary is Unary(x, kind).
type OpUnary struct {
	X    *Tensor
	Kind UnaryKind
}

// OpCmp produces a U8 mask; non-differentiable.
type OpCmp struct {
	X    *Tensor
	Kind CmpKind
}

// OpReduce is Reduce(x, op, reduced-shape-with-keepdim). Dims holds the
// collapsed axes; KeepdimShape is the shape with those axes set to 1
// (what broadcast_back in autograd reshapes into before re-expanding).
type OpReduce struct {
	X            *Tensor
	Kind         ReduceKind
	Dims         []int
	KeepdimShape shape.Shape
}

// OpMatmul is Matmul(a, b).
type OpMatmul struct{ A, B *Tensor }

// OpGather is Gather(x, idx, dim).
type OpGather struct {
	X, Idx *Tensor
	Dim    int
}

// OpScatterAdd is ScatterAdd(init, idx, src, dim).
type OpScatterAdd struct {
	Init, Idx, Src *Tensor
	Dim            int
}

// OpIndexSelect is IndexSelect(x, idx, dim).
type OpIndexSelect struct {
	X, Idx *Tensor
	Dim    int
}

// OpIndexAdd is IndexAdd(init, idx, src, dim).
type OpIndexAdd struct {
	Init, Idx, Src *Tensor
	Dim            int
}

// OpWhereCond is WhereCond(pred, t, f).
type OpWhereCond struct{ Pred, T, F *Tensor }

// OpConv1D is Conv1D{arg, kernel, stride, padding}. Backward is
// intentionally unsupported; users needing differentiable convolution
// wrap it in a CustomOp.
type OpConv1D struct {
	Arg, Kernel     *Tensor
	Stride, Padding int
}

// OpConv2D is Conv2D{arg, kernel, stride, padding}.
type OpConv2D struct {
	Arg, Kernel     *Tensor
	Stride, Padding int
}

// OpAvgPool2D is AvgPool2D{arg, kernel_size, stride}.
type OpAvgPool2D struct {
	Arg                    *Tensor
	KernelH, KernelW       int
	StrideH, StrideW       int
}

// OpMaxPool2D is MaxPool2D{arg, kernel_size, stride}.
type OpMaxPool2D struct {
	Arg              *Tensor
	KernelH, KernelW int
	StrideH, StrideW int
}

// OpUpsampleNearest2D is UpsampleNearest2D(arg).
type OpUpsampleNearest2D struct {
	Arg    *Tensor
	H, W   int
}

// OpCat is Cat(args, dim).
type OpCat struct {
	Args []*Tensor
	Dim  int
}

// OpAffine is Affine{arg, mul, add} = mul*x + add. When Mul == 0 the
// constructor (Affine) must not record this variant at all (the
// autograd tape then has no dependency on arg) — see tensor_arithmetic.go.
type OpAffine struct {
	Arg      *Tensor
	Mul, Add float64
}

// OpToDType is ToDType(arg).
type OpToDType struct{ Arg *Tensor }

// OpCopy is Copy(arg).
type OpCopy struct{ Arg *Tensor }

// OpBroadcast is Broadcast(arg).
type OpBroadcast struct{ Arg *Tensor }

// OpNarrow is Narrow(arg, dim, start, len).
type OpNarrow struct {
	Arg              *Tensor
	Dim, Start, Len  int
}

// OpReshape is Reshape(arg).
type OpReshape struct{ Arg *Tensor }

// OpToDevice is ToDevice(arg).
type OpToDevice struct{ Arg *Tensor }

// OpTranspose is Transpose(a, d1, d2).
type OpTranspose struct {
	Arg        *Tensor
	Dim1, Dim2 int
}

// OpElu is Elu(a, alpha). See autograd's gradient table: its backward is
// computed rather than left an error, since the derivative is
// mathematically trivial.
type OpElu struct {
	Arg   *Tensor
	Alpha float64
}

// OpCustomOp1/2/3 carry a shared-owned custom-op object implementing
// CustomOp1/2/3 (see customop.go).
type OpCustomOp1 struct {
	Arg *Tensor
	C   CustomOp1
}

type OpCustomOp2 struct {
	Arg1, Arg2 *Tensor
	C          CustomOp2
}

type OpCustomOp3 struct {
	Arg1, Arg2, Arg3 *Tensor
	C                CustomOp3
}

func (OpBinary) opTag()             {}
func (OpUnary) opTag()              {}
func (OpCmp) opTag()                {}
func (OpReduce) opTag()             {}
func (OpMatmul) opTag()             {}
func (OpGather) opTag()             {}
func (OpScatterAdd) opTag()         {}
func (OpIndexSelect) opTag()        {}
func (OpIndexAdd) opTag()           {}
func (OpWhereCond) opTag()          {}
func (OpConv1D) opTag()             {}
func (OpConv2D) opTag()             {}
func (OpAvgPool2D) opTag()          {}
func (OpMaxPool2D) opTag()          {}
func (OpUpsampleNearest2D) opTag()  {}
func (OpCat) opTag()                {}
func (OpAffine) opTag()             {}
func (OpToDType) opTag()            {}
func (OpCopy) opTag()               {}
func (OpBroadcast) opTag()          {}
func (OpNarrow) opTag()             {}
func (OpReshape) opTag()            {}
func (OpToDevice) opTag()           {}
func (OpTranspose) opTag()          {}
func (OpElu) opTag()                {}
func (OpCustomOp1) opTag()          {}
func (OpCustomOp2) opTag()          {}
func (OpCustomOp3) opTag()          {}
