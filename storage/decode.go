package storage

import (
	"math"

	"github.com/tensorcore/tensorcore/dtype"
	"github.com/tensorcore/tensorcore/errs"
)

// FromBytes decodes a raw little-endian byte buffer into a CPUBuffer of
// the given dtype. Callers (safetensors/npz/ggml loaders) already hand
// us dtype + shape + contiguous bytes; we just have to reinterpret the
// bytes as the right scalar array.
func FromBytes(d dtype.DType, b []byte) (*CPUBuffer, error) {
	size := d.Size()
	if size == 0 || len(b)%size != 0 {
		return nil, errs.New(errs.DTypeUnsupported, "storage.FromBytes", d.String())
	}
	n := len(b) / size
	buf := &CPUBuffer{DType: d}
	switch d {
	case dtype.U8:
		buf.U8 = append([]byte(nil), b...)
	case dtype.U32:
		buf.U32 = make([]uint32, n)
		for i := range buf.U32 {
			buf.U32[i] = decodeU32(b[4*i:])
		}
	case dtype.BF16:
		buf.BF16 = make([]uint16, n)
		for i := range buf.BF16 {
			buf.BF16[i] = decodeU16(b[2*i:])
		}
	case dtype.F16:
		buf.F16 = make([]uint16, n)
		for i := range buf.F16 {
			buf.F16[i] = decodeU16(b[2*i:])
		}
	case dtype.F32:
		buf.F32 = make([]float32, n)
		for i := range buf.F32 {
			buf.F32[i] = math.Float32frombits(decodeU32(b[4*i:]))
		}
	case dtype.F64:
		buf.F64 = make([]float64, n)
		for i := range buf.F64 {
			buf.F64[i] = math.Float64frombits(decodeU64(b[8*i:]))
		}
	default:
		return nil, errs.New(errs.DTypeUnsupported, "storage.FromBytes", d.String())
	}
	return buf, nil
}

func decodeU16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func decodeU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func decodeU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
