// Package tensor is the core of the engine: the immutable Tensor handle,
// the tagged-union Op tape entry recording how each tensor was produced,
// and the per-op dispatch surface plus its specialized kernels. The
// autograd engine (package autograd) walks the tape this package builds.
//
// Op and Tensor live in one package: Op variants hold *Tensor fields, so
// splitting them across Go packages would create an import cycle.
package tensor

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/tensorcore/tensorcore/device"
	"github.com/tensorcore/tensorcore/dtype"
	"github.com/tensorcore/tensorcore/errs"
	"github.com/tensorcore/tensorcore/shape"
	"github.com/tensorcore/tensorcore/storage"
)

// ID uniquely and monotonically identifies a Tensor for its lifetime; it
// is the key GradStore maps gradients by and is never reused.
type ID uint64

var idCounter atomic.Uint64

func nextID() ID {
	return ID(idCounter.Add(1))
}

// Tensor is an immutable, reference-counted handle over (Storage, Layout,
// an optional Op tape entry, id, is_variable). Multiple Tensors may share
// a *storage.Storage; Go's GC frees it once the last handle drops,
// giving reference-counted lifetime semantics without an explicit
// refcount field.
type Tensor struct {
	id         ID
	storage    *storage.Storage
	layout     shape.Layout
	op         Op
	isVariable bool
}

// Id returns the tensor's unique identifier.
func (t *Tensor) Id() ID { return t.id }

// DType returns the tensor's scalar type.
func (t *Tensor) DType() dtype.DType { return t.storage.DType() }

// Device returns the device the tensor's storage lives on.
func (t *Tensor) Device() device.Device { return t.storage.Device }

// Shape returns the tensor's logical shape.
func (t *Tensor) Shape() shape.Shape { return t.layout.Shape() }

// Dims is shorthand for []int(t.Shape()).
func (t *Tensor) Dims() []int { return []int(t.layout.Shape()) }

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return t.layout.Rank() }

// ElemCount returns the total number of elements.
func (t *Tensor) ElemCount() int { return t.layout.ElemCount() }

// Dim returns the extent of dimension i (negative indices count from the
// end).
func (t *Tensor) Dim(i int) (int, error) { return t.layout.Shape().Dim(i) }

// Layout exposes the tensor's (shape, strides, offset) triple.
func (t *Tensor) Layout() shape.Layout { return t.layout }

// Storage exposes the tensor's shared storage. Two tensors are the same
// storage iff this returns the identical pointer for both.
func (t *Tensor) Storage() *storage.Storage { return t.storage }

// Op returns the tape entry describing how this tensor was produced, or
// nil for a leaf (a freshly allocated tensor, or a Variable).
func (t *Tensor) Op() Op { return t.op }

// IsVariable reports whether this tensor is a differentiable leaf mutable
// via Var.Set.
func (t *Tensor) IsVariable() bool { return t.isVariable }

// TrackOp reports whether an operation consuming this tensor should
// record a tape entry: either this tensor is itself a Variable, or it
// already carries an Op (meaning some variable is reachable upstream —
// sorted_nodes resolves the precise reachability; TrackOp is the cheap
// local check BackpropOp-equivalents use at construction time).
func (t *Tensor) TrackOp() bool {
	return t.isVariable || t.op != nil
}

// SameStorage reports whether a and b share the identical storage object.
func SameStorage(a, b *Tensor) bool { return a.storage == b.storage }

// LogValue lets slog print a Tensor as a structured group instead of a
// raw pointer dump.
func (t *Tensor) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("id", uint64(t.id)),
		slog.String("dtype", t.DType().String()),
		slog.Any("shape", t.Dims()),
		slog.Bool("variable", t.isVariable),
	)
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor{id=%d dtype=%s shape=%v}", t.id, t.DType(), t.Dims())
}

// DetachedClone returns a tensor over an independent copy of t's storage,
// with a fresh id, no Op and is_variable=false — a non-differentiable leaf
// sharing no memory with t (SPEC_FULL.md SUPPLEMENTED FEATURES; useful for
// snapshotting a Variable without the snapshot itself becoming a Variable
// or dragging the producing tape along).
func (t *Tensor) DetachedClone() (*Tensor, error) {
	c, err := t.Contiguous()
	if err != nil {
		return nil, err
	}
	buf, err := c.storage.RequireCPU("detached_clone")
	if err != nil {
		return nil, err
	}
	return newLeaf(storage.NewCPU(buf.Clone()), shape.NewContiguous(t.Shape()), false), nil
}

func newLeaf(s storage.Storage, l shape.Layout, isVariable bool) *Tensor {
	return &Tensor{id: nextID(), storage: &s, layout: l, isVariable: isVariable}
}

func newFromOp(s storage.Storage, l shape.Layout, op Op) *Tensor {
	return &Tensor{id: nextID(), storage: &s, layout: l, op: op}
}

// checkSameDType is the shared guard binary ops use.
func checkSameDType(op string, a, b *Tensor) error {
	if a.DType() != b.DType() {
		return errs.New(errs.DTypeMismatch, op, fmt.Sprintf("%s vs %s", a.DType(), b.DType()))
	}
	return nil
}

// checkSameDevice is the shared guard binary ops use; backends differing
// across inputs of a binary op fail with DeviceMismatchBinaryOp.
func checkSameDevice(op string, a, b *Tensor) error {
	if !a.Device().Equal(b.Device()) {
		return errs.New(errs.DeviceMismatchBinaryOp, op, fmt.Sprintf("%s vs %s", a.Device(), b.Device()))
	}
	return nil
}
