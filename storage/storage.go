// Package storage implements the typed, device-resident byte buffers
// tensors share. Storage carries a dtype and a device but no shape;
// Tensor (in package tensor) layers a Layout on top.
package storage

import (
	"math"

	"github.com/tensorcore/tensorcore/device"
	"github.com/tensorcore/tensorcore/dtype"
	"github.com/tensorcore/tensorcore/errs"
)

// CPUBuffer is one of six owned contiguous arrays, one per DType. Only the
// field matching DType is populated. Integer/float bit-width types that
// aren't a native Go numeric type (BF16, F16) are stored as their raw
// uint16 bit pattern and decoded on demand via the dtype package.
type CPUBuffer struct {
	DType dtype.DType
	U8    []uint8
	U32   []uint32
	BF16  []uint16
	F16   []uint16
	F32   []float32
	F64   []float64
}

// Len returns the element count of the populated arm.
func (b *CPUBuffer) Len() int {
	switch b.DType {
	case dtype.U8:
		return len(b.U8)
	case dtype.U32:
		return len(b.U32)
	case dtype.BF16:
		return len(b.BF16)
	case dtype.F16:
		return len(b.F16)
	case dtype.F32:
		return len(b.F32)
	case dtype.F64:
		return len(b.F64)
	default:
		return 0
	}
}

// NewCPUBuffer allocates a zeroed buffer of n elements for d.
func NewCPUBuffer(d dtype.DType, n int) (*CPUBuffer, error) {
	b := &CPUBuffer{DType: d}
	switch d {
	case dtype.U8:
		b.U8 = make([]uint8, n)
	case dtype.U32:
		b.U32 = make([]uint32, n)
	case dtype.BF16:
		b.BF16 = make([]uint16, n)
	case dtype.F16:
		b.F16 = make([]uint16, n)
	case dtype.F32:
		b.F32 = make([]float32, n)
	case dtype.F64:
		b.F64 = make([]float64, n)
	default:
		return nil, errs.New(errs.DTypeUnsupported, "storage.NewCPUBuffer", d.String())
	}
	return b, nil
}

// At widens element i to float64 regardless of dtype (the "to_f64" leg of
// the generic scalar conversion every dtype supports).
func (b *CPUBuffer) At(i int) float64 {
	switch b.DType {
	case dtype.U8:
		return float64(b.U8[i])
	case dtype.U32:
		return float64(b.U32[i])
	case dtype.BF16:
		return float64(dtype.BF16ToFloat32(b.BF16[i]))
	case dtype.F16:
		return dtype.ToFloat64(dtype.F16, uint64(b.F16[i]))
	case dtype.F32:
		return float64(b.F32[i])
	case dtype.F64:
		return b.F64[i]
	default:
		return 0
	}
}

// Set narrows v into element i (the "from_f64" leg), wrapping modulo the
// integer range for integer dtypes.
func (b *CPUBuffer) Set(i int, v float64) {
	switch b.DType {
	case dtype.U8:
		b.U8[i] = uint8(int64(v))
	case dtype.U32:
		b.U32[i] = uint32(int64(v))
	case dtype.BF16:
		b.BF16[i] = dtype.Float32ToBF16(float32(v))
	case dtype.F16:
		b.F16[i] = uint16(dtype.FromFloat64(dtype.F16, v))
	case dtype.F32:
		b.F32[i] = float32(v)
	case dtype.F64:
		b.F64[i] = v
	}
}

// Bytes returns the buffer's contents as a raw little-endian byte slice,
// the contract external loaders (safetensors/npz/ggml) hand to and take
// from the core.
func (b *CPUBuffer) Bytes() []byte {
	switch b.DType {
	case dtype.U8:
		return append([]byte(nil), b.U8...)
	case dtype.U32:
		return encodeU32(b.U32)
	case dtype.BF16:
		return encodeU16(b.BF16)
	case dtype.F16:
		return encodeU16(b.F16)
	case dtype.F32:
		return encodeF32(b.F32)
	case dtype.F64:
		return encodeF64(b.F64)
	default:
		return nil
	}
}

// Clone makes an independent deep copy (a fresh contiguous buffer), used
// by Tensor.DetachedClone.
func (b *CPUBuffer) Clone() *CPUBuffer {
	out := &CPUBuffer{DType: b.DType}
	out.U8 = append(out.U8, b.U8...)
	out.U32 = append(out.U32, b.U32...)
	out.BF16 = append(out.BF16, b.BF16...)
	out.F16 = append(out.F16, b.F16...)
	out.F32 = append(out.F32, b.F32...)
	out.F64 = append(out.F64, b.F64...)
	return out
}

// Storage is the tagged variant Cpu(typed-buffer) | Cuda(device-buffer).
// Only the arm matching Device.Kind() is populated; the engine dispatches
// on it and delegates to the per-backend implementation.
type Storage struct {
	Device device.Device
	Cpu    *CPUBuffer
	// Cuda holds an opaque device-buffer handle. No CUDA backend ships in
	// this core; any op reaching this arm fails with a Backend error
	// naming the op.
	Cuda *CUDABuffer
}

// CUDABuffer is an intentionally opaque placeholder: no field is
// populated by this core. A real CUDA backend would allocate device
// memory here and implement the same per-op methods the CPU backend does.
type CUDABuffer struct {
	ElemCount int
	DType     dtype.DType
}

// NewCPU wraps a CPUBuffer as a CPU-resident Storage.
func NewCPU(b *CPUBuffer) Storage {
	return Storage{Device: device.Cpu(), Cpu: b}
}

// DType returns the storage's scalar type.
func (s Storage) DType() dtype.DType {
	if s.Cpu != nil {
		return s.Cpu.DType
	}
	if s.Cuda != nil {
		return s.Cuda.DType
	}
	return 0
}

// Len returns the element count.
func (s Storage) Len() int {
	if s.Cpu != nil {
		return s.Cpu.Len()
	}
	if s.Cuda != nil {
		return s.Cuda.ElemCount
	}
	return 0
}

// RequireCPU returns the CPU buffer or a Backend error naming op if s is a
// CUDA storage, the pattern every CPU-only kernel in this core uses to
// reject (for now) GPU-resident inputs.
func (s Storage) RequireCPU(op string) (*CPUBuffer, error) {
	if s.Cpu == nil {
		return nil, errs.New(errs.Backend, op, "no cuda implementation for "+op)
	}
	return s.Cpu, nil
}

func encodeU32(v []uint32) []byte {
	out := make([]byte, 4*len(v))
	for i, x := range v {
		out[4*i] = byte(x)
		out[4*i+1] = byte(x >> 8)
		out[4*i+2] = byte(x >> 16)
		out[4*i+3] = byte(x >> 24)
	}
	return out
}

func encodeU16(v []uint16) []byte {
	out := make([]byte, 2*len(v))
	for i, x := range v {
		out[2*i] = byte(x)
		out[2*i+1] = byte(x >> 8)
	}
	return out
}

func encodeF32(v []float32) []byte {
	bits := make([]uint32, len(v))
	for i, x := range v {
		bits[i] = math.Float32bits(x)
	}
	return encodeU32(bits)
}

func encodeF64(v []float64) []byte {
	out := make([]byte, 8*len(v))
	for i, x := range v {
		bits := math.Float64bits(x)
		for k := 0; k < 8; k++ {
			out[8*i+k] = byte(bits >> (8 * k))
		}
	}
	return out
}
