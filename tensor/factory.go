// factory.go - device-dispatching tensor builders: zeros, ones, uniform
// random, and from-data construction. spec.md §3: "tensors are created by
// device factories (zeros/ones/rand/from-data) or by operations." Grounded
// in ml/context.go's device-aware tensor builders and candle's
// Tensor::zeros/Tensor::ones/Tensor::rand, which dispatch on Device the
// same way. Random-number generator *policy* is explicitly out of scope
// (spec.md §1 Non-goals); RandUniform exists only as the builder's shape,
// backed by math/rand's default source rather than a configurable one.
package tensor

import (
	"math/rand"

	"github.com/tensorcore/tensorcore/device"
	"github.com/tensorcore/tensorcore/dtype"
	"github.com/tensorcore/tensorcore/errs"
	"github.com/tensorcore/tensorcore/shape"
	"github.com/tensorcore/tensorcore/storage"
)

func requireCPUDevice(op string, dev device.Device) error {
	if !dev.IsCPU() {
		return errs.New(errs.Backend, op, "no cuda implementation for "+op)
	}
	return nil
}

// Zeros allocates a fresh, contiguous, zero-filled tensor of shape sh and
// dtype d on dev. The returned tensor is a plain leaf: no Op, not a
// Variable.
func Zeros(sh shape.Shape, d dtype.DType, dev device.Device) (*Tensor, error) {
	if err := requireCPUDevice("zeros", dev); err != nil {
		return nil, err
	}
	buf, err := storage.NewCPUBuffer(d, sh.ElemCount())
	if err != nil {
		return nil, err
	}
	return newLeaf(storage.NewCPU(buf), shape.NewContiguous(sh), false), nil
}

// Ones allocates a fresh tensor of shape sh and dtype d on dev with every
// element set to one.
func Ones(sh shape.Shape, d dtype.DType, dev device.Device) (*Tensor, error) {
	z, err := Zeros(sh, d, dev)
	if err != nil {
		return nil, err
	}
	return z.Affine(0, 1)
}

// RandUniform allocates a fresh float tensor of shape sh with values drawn
// independently from U(0,1). Only FloatDType is accepted — a uniform
// sample over U8/U32 has no useful contract here.
func RandUniform(sh shape.Shape, d dtype.DType, dev device.Device) (*Tensor, error) {
	if err := requireCPUDevice("rand", dev); err != nil {
		return nil, err
	}
	if !d.IsFloat() {
		return nil, errs.New(errs.DTypeUnsupported, "rand", "rand requires a float dtype, got "+d.String())
	}
	n := sh.ElemCount()
	buf, err := storage.NewCPUBuffer(d, n)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		buf.Set(i, rand.Float64())
	}
	return newLeaf(storage.NewCPU(buf), shape.NewContiguous(sh), false), nil
}

// FromFloatSlice builds a leaf tensor directly from caller-supplied values
// in row-major order — the "from-data" factory, for literal/in-memory data
// as opposed to loader.FromRawBuffer's raw-byte boundary for externally
// sourced weights.
func FromFloatSlice(vals []float64, sh shape.Shape, d dtype.DType, dev device.Device) (*Tensor, error) {
	if err := requireCPUDevice("from_data", dev); err != nil {
		return nil, err
	}
	if len(vals) != sh.ElemCount() {
		return nil, errs.New(errs.ShapeMismatchBinaryOp, "from_data", "value count does not match shape")
	}
	buf, err := storage.NewCPUBuffer(d, len(vals))
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		buf.Set(i, v)
	}
	return newLeaf(storage.NewCPU(buf), shape.NewContiguous(sh), false), nil
}
