// tensor_matrix.go - batched matrix multiplication, with a BLAS-backed
// fast path for contiguous F32/F64 2-D operands.
package tensor

import (
	"gonum.org/v1/gonum/mat"

	"github.com/tensorcore/tensorcore/errs"
	"github.com/tensorcore/tensorcore/shape"
	"github.com/tensorcore/tensorcore/storage"
)

// Matmul computes batched (...,M,K) x (...,K,N) -> (...,M,N). Batch
// dimensions broadcast the way binary ops do; the K dimension never
// broadcasts.
func (t *Tensor) Matmul(other *Tensor) (*Tensor, error) {
	if err := checkSameDType("matmul", t, other); err != nil {
		return nil, err
	}
	if err := checkSameDevice("matmul", t, other); err != nil {
		return nil, err
	}
	if t.Rank() < 2 || other.Rank() < 2 {
		return nil, errs.New(errs.Other, "matmul", "both operands must have rank >= 2")
	}
	m, k, err := matmulDims2D(t)
	if err != nil {
		return nil, err
	}
	k2, n, err := matmulDims2D(other)
	if err != nil {
		return nil, err
	}
	if k != k2 {
		return nil, errs.ShapeMismatch("matmul", t.Shape(), other.Shape())
	}

	aBatch := t.Shape()[:t.Rank()-2]
	bBatch := other.Shape()[:other.Rank()-2]
	batchShape, err := shape.BroadcastShape(aBatch, bBatch)
	if err != nil {
		return nil, err
	}

	outShape := append(batchShape.Clone(), m, n)
	aBuf, err := t.storage.RequireCPU("matmul")
	if err != nil {
		return nil, err
	}
	bBuf, err := other.storage.RequireCPU("matmul")
	if err != nil {
		return nil, err
	}
	result, err := storage.NewCPUBuffer(t.DType(), outShape.ElemCount())
	if err != nil {
		return nil, err
	}

	aTargetShape := append(batchShape.Clone(), m, k)
	bTargetShape := append(batchShape.Clone(), k, n)
	aLayout, err := t.layout.BroadcastAs(aTargetShape)
	if err != nil {
		return nil, err
	}
	bLayout, err := other.layout.BroadcastAs(bTargetShape)
	if err != nil {
		return nil, err
	}

	nBatch := batchShape.ElemCount()
	matSize := m * k
	matSizeB := k * n
	matSizeOut := m * n

	useBLAS := t.fastMatmulDType() && aLayout.IsContiguous() && bLayout.IsContiguous()

	for b := 0; b < nBatch; b++ {
		aStart := b * matSize
		bStart := b * matSizeB
		outStart := b * matSizeOut
		if useBLAS {
			matmulBLAS(aBuf, bBuf, result, aStart, bStart, outStart, m, k, n)
			continue
		}
		matmulNaive(aBuf, bBuf, result, aLayout, bLayout, b, m, k, n, outStart)
	}

	out := newFromOp(storage.NewCPU(result), shape.NewContiguous(outShape), nil)
	if t.TrackOp() || other.TrackOp() {
		out.op = OpMatmul{A: t, B: other}
	}
	return out, nil
}

func matmulDims2D(t *Tensor) (int, int, error) {
	m, err := t.Dim(-2)
	if err != nil {
		return 0, 0, err
	}
	n, err := t.Dim(-1)
	if err != nil {
		return 0, 0, err
	}
	return m, n, nil
}

// fastMatmulDType reports whether t's dtype has a gonum blas64 kernel this
// core wires a fast path through (F32 and F64 only — gonum's blas64
// operates on float64, so F32 buffers widen, multiply, and narrow back,
// still far cheaper than the scalar triple loop for large contiguous
// operands).
func (t *Tensor) fastMatmulDType() bool {
	d := t.DType()
	return d.String() == "F32" || d.String() == "F64"
}

// matmulBLAS multiplies one (m,k) x (k,n) slab using gonum's
// mat.Dense.Mul: the contiguous F32/F64 fast path delegates to gonum
// instead of the naive triple loop.
func matmulBLAS(a, b, out *storage.CPUBuffer, aStart, bStart, outStart, m, k, n int) {
	aSlab := make([]float64, m*k)
	bSlab := make([]float64, k*n)
	for i := 0; i < m*k; i++ {
		aSlab[i] = a.At(aStart + i)
	}
	for i := 0; i < k*n; i++ {
		bSlab[i] = b.At(bStart + i)
	}
	am := mat.NewDense(m, k, aSlab)
	bm := mat.NewDense(k, n, bSlab)
	var cm mat.Dense
	cm.Mul(am, bm)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			out.Set(outStart+i*n+j, cm.At(i, j))
		}
	}
}

// matmulNaive is the strided fallback for non-contiguous or non-BLAS-typed
// operands: triple loop over the logical (i,k,j) indices of batch b.
func matmulNaive(a, b, out *storage.CPUBuffer, aLayout, bLayout shape.Layout, batch, m, k, n, outStart int) {
	aBatchIdx := batchIndexPrefix(aLayout, batch)
	bBatchIdx := batchIndexPrefix(bLayout, batch)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			var sum float64
			for p := 0; p < k; p++ {
				aIdx := append(append([]int(nil), aBatchIdx...), i, p)
				bIdx := append(append([]int(nil), bBatchIdx...), p, j)
				sum += a.At(aLayout.Index(aIdx)) * b.At(bLayout.Index(bIdx))
			}
			out.Set(outStart+i*n+j, sum)
		}
	}
}

// batchIndexPrefix decodes a flat batch index into l's leading (non-matrix)
// dimensions, row-major.
func batchIndexPrefix(l shape.Layout, batch int) []int {
	rank := l.Rank()
	batchRank := rank - 2
	if batchRank <= 0 {
		return nil
	}
	idx := make([]int, batchRank)
	sh := l.Shape()
	rem := batch
	for d := batchRank - 1; d >= 0; d-- {
		idx[d] = rem % sh[d]
		rem /= sh[d]
	}
	return idx
}
