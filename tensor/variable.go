package tensor

import (
	"github.com/tensorcore/tensorcore/errs"
	"github.com/tensorcore/tensorcore/shape"
	"github.com/tensorcore/tensorcore/storage"
)

// NewVariable wraps s as a differentiable leaf: is_variable=true, no Op,
// contiguous layout required.
func NewVariable(s storage.Storage, sh shape.Shape) (*Tensor, error) {
	l := shape.NewContiguous(sh)
	if s.Len() != sh.ElemCount() {
		return nil, errs.New(errs.ShapeMismatchBinaryOp, "new_variable", "storage length does not match shape")
	}
	return newLeaf(s, l, true), nil
}

// FromStorage wraps s as an ordinary (non-variable) leaf tensor: no Op, not
// trainable, but still eligible to be an upstream dependency of a
// Variable-rooted computation if the caller later decides to track it.
// This is the constructor external loaders (package loader) use to hand
// back plain data without implying it should be trained.
func FromStorage(s storage.Storage, sh shape.Shape) (*Tensor, error) {
	if s.Len() != sh.ElemCount() {
		return nil, errs.New(errs.ShapeMismatchBinaryOp, "from_storage", "storage length does not match shape")
	}
	return newLeaf(s, shape.NewContiguous(sh), false), nil
}

// Set overwrites the variable's storage in place with src's values,
// without allocating and without being recorded on the tape — the
// mechanism optimizer steps use to update parameters. It requires: t is a
// variable, t and src are not aliased (Set cannot copy a tensor's storage
// into itself), and shapes match. src need not be contiguous; t must be.
func (t *Tensor) Set(src *Tensor) error {
	if !t.isVariable {
		return errs.New(errs.CannotSetVar, "set", "target is not a variable")
	}
	if !t.layout.IsContiguous() {
		return errs.New(errs.CannotSetVar, "set", "variable storage is not contiguous")
	}
	if SameStorage(t, src) {
		return errs.New(errs.CannotSetVar, "set", "source aliases the variable's own storage")
	}
	if !t.Shape().Equal(src.Shape()) {
		return errs.ShapeMismatch("set", t.Shape(), src.Shape())
	}
	if t.DType() != src.DType() {
		return errs.New(errs.DTypeMismatch, "set", "variable and source dtypes differ")
	}
	dstBuf, err := t.storage.RequireCPU("set")
	if err != nil {
		return err
	}
	srcBuf, err := src.storage.RequireCPU("set")
	if err != nil {
		return err
	}
	pos := shape.Positions(src.layout)
	for i, p := range pos {
		dstBuf.Set(i, srcBuf.At(p))
	}
	return nil
}
