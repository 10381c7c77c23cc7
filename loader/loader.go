// Package loader is the boundary between tensorcore and external tensor
// sources (safetensors, npz, GGUF and similar container formats). It
// takes ownership of nothing and keeps no reference to the caller's
// bytes: a misaligned buffer is first copied into an aligned one, and
// storage.FromBytes always decodes into a freshly allocated typed buffer,
// so the caller's mmap or file handle is not needed once FromRawBuffer
// returns.
package loader

import (
	"unsafe"

	"github.com/tensorcore/tensorcore/device"
	"github.com/tensorcore/tensorcore/dtype"
	"github.com/tensorcore/tensorcore/errs"
	"github.com/tensorcore/tensorcore/shape"
	"github.com/tensorcore/tensorcore/storage"
	"github.com/tensorcore/tensorcore/tensor"
)

// FromRawBuffer constructs a Tensor over raw, externally supplied bytes
// for the given dtype/shape/device: the core is handed a byte buffer, a
// declared dtype, and a declared shape, and it is the loader's job to
// interpret or copy those bytes rather than parse a container format
// itself. If the buffer's length doesn't match dtype.Size() *
// shape.ElemCount(), this fails with errs.IO. CUDA destinations fail with
// a Backend error (no GPU upload path in this core).
func FromRawBuffer(raw []byte, d dtype.DType, sh shape.Shape, dev device.Device) (*tensor.Tensor, error) {
	want := d.Size() * sh.ElemCount()
	if len(raw) != want {
		return nil, errs.New(errs.IO, "from_raw_buffer", "buffer length does not match dtype/shape")
	}
	if !dev.IsCPU() {
		return nil, errs.New(errs.Backend, "from_raw_buffer", "no cuda implementation for from_raw_buffer")
	}

	aligned := raw
	if !isNaturallyAligned(raw, d.Size()) {
		aligned = make([]byte, len(raw))
		copy(aligned, raw)
	}

	buf, err := storage.FromBytes(d, aligned)
	if err != nil {
		return nil, errs.Wrap(errs.IO, "from_raw_buffer", err)
	}
	return tensor.FromStorage(storage.NewCPU(buf), sh)
}

// isNaturallyAligned reports whether b's backing address is a multiple of
// elemSize; FromRawBuffer copies a buffer that fails this check before
// decoding it.
func isNaturallyAligned(b []byte, elemSize int) bool {
	if len(b) == 0 || elemSize <= 1 {
		return true
	}
	return uintptr(unsafe.Pointer(&b[0]))%uintptr(elemSize) == 0
}
