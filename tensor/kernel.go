package tensor

import (
	"github.com/tensorcore/tensorcore/dtype"
	"github.com/tensorcore/tensorcore/internal/cpuinfo"
	"github.com/tensorcore/tensorcore/internal/threadpool"
	"github.com/tensorcore/tensorcore/shape"
	"github.com/tensorcore/tensorcore/storage"
)

// binaryElemwise is the generic strided kernel behind every {Add,Sub,Mul,
// Div} and Cmp op: both input layouts are first broadcast to their common
// shape, then the output is allocated contiguously and produced by an
// iteration driven by the broadcast shape. It fans out over the worker
// pool for the data-parallel inner loop.
func binaryElemwise(op string, a, b storage.Storage, la, lb shape.Layout, out dtype.DType, f func(x, y float64) float64) (*storage.CPUBuffer, shape.Shape, error) {
	outShape, err := shape.BroadcastShape(la.Shape(), lb.Shape())
	if err != nil {
		return nil, nil, err
	}
	aBuf, err := a.RequireCPU(op)
	if err != nil {
		return nil, nil, err
	}
	bBuf, err := b.RequireCPU(op)
	if err != nil {
		return nil, nil, err
	}
	la2, err := la.BroadcastAs(outShape)
	if err != nil {
		return nil, nil, err
	}
	lb2, err := lb.BroadcastAs(outShape)
	if err != nil {
		return nil, nil, err
	}

	n := outShape.ElemCount()
	result, err := storage.NewCPUBuffer(out, n)
	if err != nil {
		return nil, nil, err
	}

	if la2.IsContiguous() && lb2.IsContiguous() {
		fastBinaryContiguous(aBuf, bBuf, result, n, f)
		return result, outShape, nil
	}

	posA := shape.Positions(la2)
	posB := shape.Positions(lb2)
	err = threadpool.ParallelFor(n, func(start, end int) error {
		for i := start; i < end; i++ {
			result.Set(i, f(aBuf.At(posA[i]), bBuf.At(posB[i])))
		}
		return nil
	})
	return result, outShape, err
}

// fastBinaryContiguous is the contiguous fast path: both inputs already
// sit at the offset the default row-major layout would use, so element i
// of the output reads element i of each input directly — no per-element
// layout index computation. cpuinfo.HasFastVector gates a 4-wide unrolled
// loop as a portable stand-in for a real SIMD specialization.
func fastBinaryContiguous(a, b, out *storage.CPUBuffer, n int, f func(x, y float64) float64) {
	threadpool.ParallelFor(n, func(start, end int) error {
		if cpuinfo.HasFastVector() {
			i := start
			for ; i+4 <= end; i += 4 {
				out.Set(i, f(a.At(i), b.At(i)))
				out.Set(i+1, f(a.At(i+1), b.At(i+1)))
				out.Set(i+2, f(a.At(i+2), b.At(i+2)))
				out.Set(i+3, f(a.At(i+3), b.At(i+3)))
			}
			for ; i < end; i++ {
				out.Set(i, f(a.At(i), b.At(i)))
			}
			return nil
		}
		for i := start; i < end; i++ {
			out.Set(i, f(a.At(i), b.At(i)))
		}
		return nil
	})
}

// unaryElemwise is the generic strided kernel behind every Unary op: one
// input, one output of the same dtype and shape.
func unaryElemwise(op string, a storage.Storage, la shape.Layout, f func(x float64) float64) (*storage.CPUBuffer, error) {
	aBuf, err := a.RequireCPU(op)
	if err != nil {
		return nil, err
	}
	n := la.ElemCount()
	result, err := storage.NewCPUBuffer(a.DType(), n)
	if err != nil {
		return nil, err
	}
	if la.IsContiguous() {
		err = threadpool.ParallelFor(n, func(start, end int) error {
			for i := start; i < end; i++ {
				result.Set(i, f(aBuf.At(i)))
			}
			return nil
		})
		return result, err
	}
	pos := shape.Positions(la)
	err = threadpool.ParallelFor(n, func(start, end int) error {
		for i := start; i < end; i++ {
			result.Set(i, f(aBuf.At(pos[i])))
		}
		return nil
	})
	return result, err
}
