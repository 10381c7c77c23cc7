// Package dtype is the numeric-type registry: the closed enumeration of
// scalar types tensorcore storages and tensors carry, plus the per-type
// conversions the rest of the engine dispatches through.
package dtype

import (
	"fmt"
	"math"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// DType is the closed set of scalar types a Storage or Tensor may hold.
type DType int

const (
	U8 DType = iota
	U32
	BF16
	F16
	F32
	F64
)

var allDTypes = [...]DType{U8, U32, BF16, F16, F32, F64}

// All returns every DType in declaration order.
func All() []DType { return allDTypes[:] }

func (d DType) String() string {
	switch d {
	case U8:
		return "U8"
	case U32:
		return "U32"
	case BF16:
		return "BF16"
	case F16:
		return "F16"
	case F32:
		return "F32"
	case F64:
		return "F64"
	default:
		return "unknown"
	}
}

// Parse resolves the display name back into a DType.
func Parse(s string) (DType, error) {
	for _, d := range allDTypes {
		if d.String() == s {
			return d, nil
		}
	}
	return 0, fmt.Errorf("dtype: unsupported type %q", s)
}

// Size returns the element size in bytes.
func (d DType) Size() int {
	switch d {
	case U8:
		return 1
	case U32:
		return 4
	case BF16, F16:
		return 2
	case F32:
		return 4
	case F64:
		return 8
	default:
		return 0
	}
}

// IsFloat reports whether d is in FloatDType = {BF16, F16, F32, F64}.
func (d DType) IsFloat() bool {
	switch d {
	case BF16, F16, F32, F64:
		return true
	default:
		return false
	}
}

// IsInt reports whether d is in IntDType = {U32} (the index-usable family;
// U8 is a storage type but not index-usable).
func (d DType) IsInt() bool {
	return d == U32
}

// ToFloat64 widens a single scalar, stored as its native bit pattern, to
// float64. Integer dtypes reinterpret bits as unsigned magnitude.
func ToFloat64(d DType, bits uint64) float64 {
	switch d {
	case U8:
		return float64(uint8(bits))
	case U32:
		return float64(uint32(bits))
	case BF16:
		return float64(BF16ToFloat32(uint16(bits)))
	case F16:
		return float64(float16.Frombits(uint16(bits)).Float32())
	case F32:
		return float64(math.Float32frombits(uint32(bits)))
	case F64:
		return math.Float64frombits(bits)
	default:
		return 0
	}
}

// FromFloat64 narrows v into d's native bit pattern. Out-of-range integer
// conversions wrap modulo 2^n.
func FromFloat64(d DType, v float64) uint64 {
	switch d {
	case U8:
		return uint64(uint8(int64(v)))
	case U32:
		return uint64(uint32(int64(v)))
	case BF16:
		return uint64(Float32ToBF16(float32(v)))
	case F16:
		return uint64(float16.Fromfloat32(float32(v)).Bits())
	case F32:
		return uint64(math.Float32bits(float32(v)))
	case F64:
		return math.Float64bits(v)
	default:
		return 0
	}
}

// BF16ToFloat32 decodes a single bfloat16 bit pattern. go-bfloat16 operates
// on byte buffers; we round-trip a two-byte slice for the scalar case so
// the dependency backs both the bulk cast path (tensor.ToDType's bulkCast)
// and this one-off conversion.
func BF16ToFloat32(bits uint16) float32 {
	b := []byte{byte(bits), byte(bits >> 8)}
	return bfloat16.DecodeFloat32(b)[0]
}

// Float32ToBF16 encodes a single float32 into its bfloat16 bit pattern.
func Float32ToBF16(v float32) uint16 {
	b := bfloat16.EncodeFloat32([]float32{v})
	return uint16(b[0]) | uint16(b[1])<<8
}

// DecodeBF16Slice bulk-decodes a BF16 byte buffer into float32, delegating
// to go-bfloat16's vectorized path rather than looping scalar-wise.
func DecodeBF16Slice(b []byte) []float32 {
	return bfloat16.DecodeFloat32(b)
}

// EncodeBF16Slice bulk-encodes float32 into a BF16 byte buffer.
func EncodeBF16Slice(f []float32) []byte {
	return bfloat16.EncodeFloat32(f)
}

// DecodeF16Slice bulk-decodes F16 bit patterns (one uint16 per element)
// into float32 using x448/float16.
func DecodeF16Slice(bits []uint16) []float32 {
	out := make([]float32, len(bits))
	for i, b := range bits {
		out[i] = float16.Frombits(b).Float32()
	}
	return out
}

// EncodeF16Slice bulk-encodes float32 into F16 bit patterns.
func EncodeF16Slice(f []float32) []uint16 {
	out := make([]uint16, len(f))
	for i, v := range f {
		out[i] = float16.Fromfloat32(v).Bits()
	}
	return out
}
