package tensor

import (
	"github.com/google/uuid"

	"github.com/tensorcore/tensorcore/errs"
	"github.com/tensorcore/tensorcore/shape"
	"github.com/tensorcore/tensorcore/storage"
)

// CustomOp1 is the 1-input extension point for user-defined ops: a user
// supplies a name and a CPU forward. Backward is optional (checked by the
// autograd package via CustomOp1Backward) and fails when absent.
// ApplyCustomOp1 always calls CPUForward, whatever the input's device;
// the CUDA interfaces below are not consulted by this package.
//
// The forward receives the storage and layout of its input — the layout
// may be non-contiguous, and the op must honor it (read through the
// strides rather than assuming a dense buffer).
type CustomOp1 interface {
	Name() string
	CPUForward(s storage.Storage, l shape.Layout) (storage.Storage, shape.Shape, error)
}

// CustomOp1CUDA is implemented by ops that also provide a GPU forward.
// ApplyCustomOp1 does not call CUDAForward: a CUDA-resident input is
// handed to CPUForward, and any error it returns is wrapped as a Backend
// error naming the op.
type CustomOp1CUDA interface {
	CUDAForward(s storage.Storage, l shape.Layout) (storage.Storage, shape.Shape, error)
}

// CustomOp1Backward is implemented by ops that contribute a gradient.
// Absent this interface, backward fails with BackwardNotSupported.
type CustomOp1Backward interface {
	Backward(arg, res, gradRes *Tensor) (*Tensor, error)
}

// CustomOp2 is the 2-input extension point.
type CustomOp2 interface {
	Name() string
	CPUForward(s1 storage.Storage, l1 shape.Layout, s2 storage.Storage, l2 shape.Layout) (storage.Storage, shape.Shape, error)
}

type CustomOp2CUDA interface {
	CUDAForward(s1 storage.Storage, l1 shape.Layout, s2 storage.Storage, l2 shape.Layout) (storage.Storage, shape.Shape, error)
}

type CustomOp2Backward interface {
	Backward(arg1, arg2, res, gradRes *Tensor) (*Tensor, *Tensor, error)
}

// CustomOp3 is the 3-input extension point.
type CustomOp3 interface {
	Name() string
	CPUForward(s1 storage.Storage, l1 shape.Layout, s2 storage.Storage, l2 shape.Layout, s3 storage.Storage, l3 shape.Layout) (storage.Storage, shape.Shape, error)
}

type CustomOp3CUDA interface {
	CUDAForward(s1 storage.Storage, l1 shape.Layout, s2 storage.Storage, l2 shape.Layout, s3 storage.Storage, l3 shape.Layout) (storage.Storage, shape.Shape, error)
}

type CustomOp3Backward interface {
	Backward(arg1, arg2, arg3, res, gradRes *Tensor) (*Tensor, *Tensor, *Tensor, error)
}

// customOpID disambiguates anonymous custom-op registrations sharing a
// human-readable Name() — grounded in ml/backend.go's RegisterBackend,
// which panics on name collision; CustomOp instances are per-call values
// rather than a global registry, so collisions are rarer, but a caller
// building tooling keyed by op name (logging, profiling) benefits from a
// guaranteed-unique suffix.
func customOpID(name string) string {
	return name + "-" + uuid.NewString()
}

// ApplyCustomOp1 runs a CustomOp1's CPU forward on x and records the tape
// entry if x tracks gradients.
func ApplyCustomOp1(x *Tensor, c CustomOp1) (*Tensor, error) {
	s, outShape, err := c.CPUForward(*x.storage, x.layout)
	if err != nil {
		return nil, errs.Wrap(errs.Backend, customOpID(c.Name()), err)
	}
	out := newFromOp(s, shape.NewContiguous(outShape), nil)
	if x.TrackOp() {
		out.op = OpCustomOp1{Arg: x, C: c}
	}
	return out, nil
}

// ApplyCustomOp2 runs a CustomOp2's CPU forward on (x, y).
func ApplyCustomOp2(x, y *Tensor, c CustomOp2) (*Tensor, error) {
	s, outShape, err := c.CPUForward(*x.storage, x.layout, *y.storage, y.layout)
	if err != nil {
		return nil, errs.Wrap(errs.Backend, customOpID(c.Name()), err)
	}
	out := newFromOp(s, shape.NewContiguous(outShape), nil)
	if x.TrackOp() || y.TrackOp() {
		out.op = OpCustomOp2{Arg1: x, Arg2: y, C: c}
	}
	return out, nil
}

// ApplyCustomOp3 runs a CustomOp3's CPU forward on (x, y, z).
func ApplyCustomOp3(x, y, z *Tensor, c CustomOp3) (*Tensor, error) {
	s, outShape, err := c.CPUForward(*x.storage, x.layout, *y.storage, y.layout, *z.storage, z.layout)
	if err != nil {
		return nil, errs.Wrap(errs.Backend, customOpID(c.Name()), err)
	}
	out := newFromOp(s, shape.NewContiguous(outShape), nil)
	if x.TrackOp() || y.TrackOp() || z.TrackOp() {
		out.op = OpCustomOp3{Arg1: x, Arg2: y, Arg3: z, C: c}
	}
	return out, nil
}
