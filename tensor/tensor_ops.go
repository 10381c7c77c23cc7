// tensor_ops.go - layout-algebra ops (Reshape/Transpose/Narrow/Broadcast),
// indexing primitives, cat, where_cond, and reduction dispatch.
package tensor

import (
	"github.com/tensorcore/tensorcore/device"
	"github.com/tensorcore/tensorcore/dtype"
	"github.com/tensorcore/tensorcore/errs"
	"github.com/tensorcore/tensorcore/shape"
	"github.com/tensorcore/tensorcore/storage"
)

// Contiguous returns t unchanged if it is already contiguous, otherwise a
// fresh contiguous copy materialized by walking the strided layout.
// Recorded on the tape as Copy when a copy is made: reshape of a
// non-contiguous tensor goes through here explicitly rather than
// silently reinterpreting strides.
func (t *Tensor) Contiguous() (*Tensor, error) {
	if t.layout.IsContiguous() {
		return t, nil
	}
	return t.Copy()
}

// Copy materializes an independent, contiguous copy of t's values.
func (t *Tensor) Copy() (*Tensor, error) {
	buf, err := unaryElemwise("copy", *t.storage, t.layout, func(x float64) float64 { return x })
	if err != nil {
		return nil, err
	}
	out := newFromOp(storage.NewCPU(buf), shape.NewContiguous(t.Shape()), nil)
	if t.TrackOp() {
		out.op = OpCopy{Arg: t}
	}
	return out, nil
}

// Reshape requires t be contiguous (REDESIGN FLAG iii); callers needing to
// reshape a strided view must call Contiguous first.
func (t *Tensor) Reshape(newShape shape.Shape) (*Tensor, error) {
	l, err := t.layout.Reshape(newShape)
	if err != nil {
		return nil, err
	}
	out := &Tensor{id: nextID(), storage: t.storage, layout: l}
	if t.TrackOp() {
		out.op = OpReshape{Arg: t}
	}
	return out, nil
}

// Transpose swaps two dimensions, producing a view over the same storage
// (stride permutation only, no data movement).
func (t *Tensor) Transpose(d1, d2 int) (*Tensor, error) {
	l, err := t.layout.Transpose(d1, d2)
	if err != nil {
		return nil, err
	}
	out := &Tensor{id: nextID(), storage: t.storage, layout: l}
	if t.TrackOp() {
		out.op = OpTranspose{Arg: t, Dim1: d1, Dim2: d2}
	}
	return out, nil
}

// Narrow restricts dimension dim to [start, start+length), a view over the
// same storage.
func (t *Tensor) Narrow(dim, start, length int) (*Tensor, error) {
	l, err := t.layout.Narrow(dim, start, length)
	if err != nil {
		return nil, err
	}
	out := &Tensor{id: nextID(), storage: t.storage, layout: l}
	if t.TrackOp() {
		out.op = OpNarrow{Arg: t, Dim: dim, Start: start, Len: length}
	}
	return out, nil
}

// BroadcastAs expands t to target, a zero-stride view sharing storage.
func (t *Tensor) BroadcastAs(target shape.Shape) (*Tensor, error) {
	l, err := t.layout.BroadcastAs(target)
	if err != nil {
		return nil, err
	}
	out := &Tensor{id: nextID(), storage: t.storage, layout: l}
	if t.TrackOp() {
		out.op = OpBroadcast{Arg: t}
	}
	return out, nil
}

// ToDType converts every element to d, allocating a fresh contiguous
// buffer. Contiguous BF16/F16 <-> F32 conversions take a whole-buffer
// fast path through the dtype package's vectorized codecs rather than
// the generic scalar loop.
func (t *Tensor) ToDType(d dtype.DType) (*Tensor, error) {
	if d == t.DType() {
		return t, nil
	}
	aBuf, err := t.storage.RequireCPU("to_dtype")
	if err != nil {
		return nil, err
	}
	n := t.ElemCount()
	result, err := storage.NewCPUBuffer(d, n)
	if err != nil {
		return nil, err
	}
	if !t.layout.IsContiguous() || !bulkCast(aBuf, result) {
		pos := shape.Positions(t.layout)
		for i, p := range pos {
			result.Set(i, aBuf.At(p))
		}
	}
	out := newFromOp(storage.NewCPU(result), shape.NewContiguous(t.Shape()), nil)
	if t.TrackOp() {
		out.op = OpToDType{Arg: t}
	}
	return out, nil
}

// bulkCast handles the packed-float dtype pairs (BF16/F16 <-> F32) with
// dtype's whole-slice codecs instead of per-element BF16ToFloat32/
// Float32ToBF16 round-trips. Returns false for any other pair, leaving
// ToDType to fall back to its generic scalar loop.
func bulkCast(src, dst *storage.CPUBuffer) bool {
	switch {
	case src.DType == dtype.F16 && dst.DType == dtype.F32:
		copy(dst.F32, dtype.DecodeF16Slice(src.F16))
		return true
	case src.DType == dtype.F32 && dst.DType == dtype.F16:
		copy(dst.F16, dtype.EncodeF16Slice(src.F32))
		return true
	case src.DType == dtype.BF16 && dst.DType == dtype.F32:
		copy(dst.F32, dtype.DecodeBF16Slice(src.Bytes()))
		return true
	case src.DType == dtype.F32 && dst.DType == dtype.BF16:
		copy(dst.BF16, bytesToU16(dtype.EncodeBF16Slice(src.F32)))
		return true
	default:
		return false
	}
}

// bytesToU16 unpacks a little-endian byte buffer into uint16 bit
// patterns, the inverse of storage.CPUBuffer.Bytes()'s BF16/F16 arm.
func bytesToU16(b []byte) []uint16 {
	out := make([]uint16, len(b)/2)
	for i := range out {
		out[i] = uint16(b[2*i]) | uint16(b[2*i+1])<<8
	}
	return out
}

// ToDevice moves t to dev, copying storage when the device actually
// differs. CPU is the only device with a working backend in this core; a
// request targeting CUDA fails with a Backend error.
func (t *Tensor) ToDevice(dev device.Device) (*Tensor, error) {
	if dev.IsCPU() && t.Device().IsCPU() {
		return t, nil
	}
	if !dev.IsCPU() {
		return nil, errs.New(errs.Backend, "to_device", "no cuda implementation for to_device")
	}
	out, err := t.Copy()
	if err != nil {
		return nil, err
	}
	if t.TrackOp() {
		out.op = OpToDevice{Arg: t}
	}
	return out, nil
}

// Cat concatenates tensors along dim. All inputs must share dtype, device,
// and every dimension except dim.
func Cat(ts []*Tensor, dim int) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, errs.New(errs.Other, "cat", "no tensors to concatenate")
	}
	first := ts[0]
	outShape := first.Shape().Clone()
	total := 0
	for _, x := range ts {
		if err := checkSameDType("cat", first, x); err != nil {
			return nil, err
		}
		if err := checkSameDevice("cat", first, x); err != nil {
			return nil, err
		}
		d, err := x.Dim(dim)
		if err != nil {
			return nil, err
		}
		total += d
	}
	rdim := dim
	if rdim < 0 {
		rdim += first.Rank()
	}
	for _, x := range ts {
		if x.Rank() != first.Rank() {
			return nil, errs.ShapeMismatch("cat", first.Shape(), x.Shape())
		}
		for i, d := range x.Shape() {
			if i != rdim && d != outShape[i] {
				return nil, errs.ShapeMismatch("cat", first.Shape(), x.Shape())
			}
		}
	}
	outShape[rdim] = total

	n := outShape.ElemCount()
	result, err := storage.NewCPUBuffer(first.DType(), n)
	if err != nil {
		return nil, err
	}
	outLayout := shape.NewContiguous(outShape)

	offset := 0
	track := false
	for _, x := range ts {
		if x.TrackOp() {
			track = true
		}
		buf, err := x.storage.RequireCPU("cat")
		if err != nil {
			return nil, err
		}
		pos := shape.Positions(x.layout)
		idx := make([]int, outLayout.Rank())
		xShape := x.Shape()
		for _, p := range pos {
			dst := outLayout.Index(addOffset(idx, rdim, offset))
			result.Set(dst, buf.At(p))
			incIdx(idx, xShape)
		}
		offset += xShape[rdim]
	}

	out := newFromOp(storage.NewCPU(result), outLayout, nil)
	if track {
		out.op = OpCat{Args: ts, Dim: dim}
	}
	return out, nil
}

func addOffset(idx []int, dim, offset int) []int {
	out := append([]int(nil), idx...)
	out[dim] += offset
	return out
}

func incIdx(idx []int, sh shape.Shape) {
	for d := len(idx) - 1; d >= 0; d-- {
		idx[d]++
		if idx[d] < sh[d] {
			return
		}
		idx[d] = 0
	}
}

// IndexSelect gathers slices of x along dim at the positions named by idx
// (a 1-D U32 tensor), producing shape with dim replaced by len(idx).
func (t *Tensor) IndexSelect(idx *Tensor, dim int) (*Tensor, error) {
	if err := checkIndexDType("index_select", idx); err != nil {
		return nil, err
	}
	idxBuf, err := idx.storage.RequireCPU("index_select")
	if err != nil {
		return nil, err
	}
	xBuf, err := t.storage.RequireCPU("index_select")
	if err != nil {
		return nil, err
	}
	rdim := dim
	if rdim < 0 {
		rdim += t.Rank()
	}
	dimSize, err := t.Dim(dim)
	if err != nil {
		return nil, err
	}
	nIdx := idx.ElemCount()
	outShape := t.Shape().Clone()
	outShape[rdim] = nIdx

	result, err := storage.NewCPUBuffer(t.DType(), outShape.ElemCount())
	if err != nil {
		return nil, err
	}
	outLayout := shape.NewContiguous(outShape)
	idxPos := shape.Positions(idx.layout)

	srcIdx := make([]int, t.Rank())
	dstIdx := make([]int, outLayout.Rank())
	for {
		for k, v := range idxPos {
			sel := int(idxBuf.At(v))
			if sel < 0 || sel >= dimSize {
				return nil, errs.IndexRange("index_select", sel, dimSize)
			}
			copy(srcIdx, dstIdx)
			srcIdx[rdim] = sel
			dstIdx[rdim] = k
			result.Set(outLayout.Index(dstIdx), xBuf.At(t.layout.Index(srcIdx)))
		}
		if !advanceExceptDim(dstIdx, outShape, rdim) {
			break
		}
	}

	out := newFromOp(storage.NewCPU(result), outLayout, nil)
	if t.TrackOp() {
		out.op = OpIndexSelect{X: t, Idx: idx, Dim: dim}
	}
	return out, nil
}

// checkIndexDType enforces that an index operand is U32, the only IntDType
// usable as an index (spec.md §3, §4.B).
func checkIndexDType(op string, idx *Tensor) error {
	if idx.DType() != dtype.U32 {
		return errs.New(errs.DTypeUnsupported, op, "index tensor must be U32, got "+idx.DType().String())
	}
	return nil
}

// advanceExceptDim increments idx in row-major order, skipping dim (which
// the caller drives itself), returning false once exhausted.
func advanceExceptDim(idx []int, sh shape.Shape, dim int) bool {
	for d := len(idx) - 1; d >= 0; d-- {
		if d == dim {
			continue
		}
		idx[d]++
		if idx[d] < sh[d] {
			return true
		}
		idx[d] = 0
	}
	return false
}

// Gather picks, for every output position, the element of x at the index
// named by idx along dim — idx and x share every dimension except dim.
func (t *Tensor) Gather(idx *Tensor, dim int) (*Tensor, error) {
	if err := checkIndexDType("gather", idx); err != nil {
		return nil, err
	}
	xBuf, err := t.storage.RequireCPU("gather")
	if err != nil {
		return nil, err
	}
	idxBuf, err := idx.storage.RequireCPU("gather")
	if err != nil {
		return nil, err
	}
	rdim := dim
	if rdim < 0 {
		rdim += t.Rank()
	}
	dimSize, err := t.Dim(dim)
	if err != nil {
		return nil, err
	}
	outShape := idx.Shape().Clone()
	result, err := storage.NewCPUBuffer(t.DType(), outShape.ElemCount())
	if err != nil {
		return nil, err
	}
	outLayout := shape.NewContiguous(outShape)
	idxPositions := shape.Positions(idx.layout)

	dstIdx := make([]int, outLayout.Rank())
	for _, p := range idxPositions {
		sel := int(idxBuf.At(p))
		if sel < 0 || sel >= dimSize {
			return nil, errs.IndexRange("gather", sel, dimSize)
		}
		srcIdx := append([]int(nil), dstIdx...)
		srcIdx[rdim] = sel
		result.Set(outLayout.Index(dstIdx), xBuf.At(t.layout.Index(srcIdx)))
		incIdx(dstIdx, outShape)
	}

	out := newFromOp(storage.NewCPU(result), outLayout, nil)
	if t.TrackOp() {
		out.op = OpGather{X: t, Idx: idx, Dim: dim}
	}
	return out, nil
}

// ScatterAdd adds src into a copy of init at the positions idx names along
// dim; init, idx and src all share shape except dim may differ between
// init/src.
func ScatterAdd(init, idx, src *Tensor, dim int) (*Tensor, error) {
	if err := checkIndexDType("scatter_add", idx); err != nil {
		return nil, err
	}
	base, err := init.Copy()
	if err != nil {
		return nil, err
	}
	baseBuf, err := base.storage.RequireCPU("scatter_add")
	if err != nil {
		return nil, err
	}
	srcBuf, err := src.storage.RequireCPU("scatter_add")
	if err != nil {
		return nil, err
	}
	idxBuf, err := idx.storage.RequireCPU("scatter_add")
	if err != nil {
		return nil, err
	}
	rdim := dim
	if rdim < 0 {
		rdim += init.Rank()
	}
	dimSize, err := init.Dim(dim)
	if err != nil {
		return nil, err
	}
	srcShape := src.Shape()
	dstIdx := make([]int, src.Rank())
	for {
		sel := int(idxBuf.At(idx.layout.Index(dstIdx)))
		if sel < 0 || sel >= dimSize {
			return nil, errs.IndexRange("scatter_add", sel, dimSize)
		}
		outIdx := append([]int(nil), dstIdx...)
		outIdx[rdim] = sel
		pos := base.layout.Index(outIdx)
		baseBuf.Set(pos, baseBuf.At(pos)+srcBuf.At(src.layout.Index(dstIdx)))
		if !incIdxOk(dstIdx, srcShape) {
			break
		}
	}
	out := newFromOp(*base.storage, base.layout, nil)
	if init.TrackOp() || src.TrackOp() {
		out.op = OpScatterAdd{Init: init, Idx: idx, Src: src, Dim: dim}
	}
	return out, nil
}

// IndexAdd adds src into a copy of init along dim at the index named by
// idx for each slice of src's dim-th axis (a 1-D index tensor, unlike
// ScatterAdd's full-shaped index).
func IndexAdd(init, idx, src *Tensor, dim int) (*Tensor, error) {
	if err := checkIndexDType("index_add", idx); err != nil {
		return nil, err
	}
	base, err := init.Copy()
	if err != nil {
		return nil, err
	}
	baseBuf, err := base.storage.RequireCPU("index_add")
	if err != nil {
		return nil, err
	}
	srcBuf, err := src.storage.RequireCPU("index_add")
	if err != nil {
		return nil, err
	}
	idxBuf, err := idx.storage.RequireCPU("index_add")
	if err != nil {
		return nil, err
	}
	rdim := dim
	if rdim < 0 {
		rdim += init.Rank()
	}
	dimSize, err := init.Dim(dim)
	if err != nil {
		return nil, err
	}
	srcShape := src.Shape()
	idxPos := shape.Positions(idx.layout)

	dstIdx := make([]int, src.Rank())
	for {
		sel := int(idxBuf.At(idxPos[dstIdx[rdim]]))
		if sel < 0 || sel >= dimSize {
			return nil, errs.IndexRange("index_add", sel, dimSize)
		}
		outIdx := append([]int(nil), dstIdx...)
		outIdx[rdim] = sel
		pos := base.layout.Index(outIdx)
		baseBuf.Set(pos, baseBuf.At(pos)+srcBuf.At(src.layout.Index(dstIdx)))
		if !incIdxOk(dstIdx, srcShape) {
			break
		}
	}
	out := newFromOp(*base.storage, base.layout, nil)
	if init.TrackOp() || src.TrackOp() {
		out.op = OpIndexAdd{Init: init, Idx: idx, Src: src, Dim: dim}
	}
	return out, nil
}

func incIdxOk(idx []int, sh shape.Shape) bool {
	for d := len(idx) - 1; d >= 0; d-- {
		idx[d]++
		if idx[d] < sh[d] {
			return true
		}
		idx[d] = 0
	}
	return false
}

// WhereCond selects elementwise from onTrue where pred != 0, else from
// onFalse. All three broadcast to a common shape; pred carries no
// gradient, onTrue/onFalse do.
func WhereCond(pred, onTrue, onFalse *Tensor) (*Tensor, error) {
	if err := checkSameDType("where_cond", onTrue, onFalse); err != nil {
		return nil, err
	}
	sh, err := shape.BroadcastShape(pred.Shape(), onTrue.Shape())
	if err != nil {
		return nil, err
	}
	sh, err = shape.BroadcastShape(sh, onFalse.Shape())
	if err != nil {
		return nil, err
	}
	pBuf, err := pred.storage.RequireCPU("where_cond")
	if err != nil {
		return nil, err
	}
	tBuf, err := onTrue.storage.RequireCPU("where_cond")
	if err != nil {
		return nil, err
	}
	fBuf, err := onFalse.storage.RequireCPU("where_cond")
	if err != nil {
		return nil, err
	}
	pl, err := pred.layout.BroadcastAs(sh)
	if err != nil {
		return nil, err
	}
	tl, err := onTrue.layout.BroadcastAs(sh)
	if err != nil {
		return nil, err
	}
	fl, err := onFalse.layout.BroadcastAs(sh)
	if err != nil {
		return nil, err
	}
	result, err := storage.NewCPUBuffer(onTrue.DType(), sh.ElemCount())
	if err != nil {
		return nil, err
	}
	pPos := shape.Positions(pl)
	tPos := shape.Positions(tl)
	fPos := shape.Positions(fl)
	for i := range pPos {
		if pBuf.At(pPos[i]) != 0 {
			result.Set(i, tBuf.At(tPos[i]))
		} else {
			result.Set(i, fBuf.At(fPos[i]))
		}
	}
	out := newFromOp(storage.NewCPU(result), shape.NewContiguous(sh), nil)
	if onTrue.TrackOp() || onFalse.TrackOp() {
		out.op = OpWhereCond{Pred: pred, T: onTrue, F: onFalse}
	}
	return out, nil
}

// reduceIdentity returns the fold's identity element: Sum's identity over
// an empty reduction is 0; Min/Max over an empty reduction has no
// identity and is reported as an error rather than left to panic.
func reduceIdentity(op string, kind ReduceKind) (float64, error) {
	switch kind {
	case Sum:
		return 0, nil
	default:
		return 0, errs.New(errs.Other, op, "cannot reduce an empty dimension with min/max/argmin/argmax")
	}
}

// Reduce folds x along dims using kind, producing keepdim's shape (dims set
// to 1) when keepdim is true, else the dims removed entirely.
func (t *Tensor) Reduce(kind ReduceKind, dims []int, keepdim bool) (*Tensor, error) {
	rdims := make([]int, len(dims))
	seen := make(map[int]bool, len(dims))
	for i, d := range dims {
		rd := d
		if rd < 0 {
			rd += t.Rank()
		}
		if rd < 0 || rd >= t.Rank() {
			return nil, errs.DimRange("reduce", d, t.Rank())
		}
		rdims[i] = rd
		seen[rd] = true
	}

	keepShape := t.Shape().Clone()
	for _, d := range rdims {
		keepShape[d] = 1
	}

	xBuf, err := t.storage.RequireCPU("reduce")
	if err != nil {
		return nil, err
	}

	n := keepShape.ElemCount()
	outDType := t.DType()
	if kind == ArgMin || kind == ArgMax {
		outDType = dtype.U32
	}
	result, err := storage.NewCPUBuffer(outDType, n)
	if err != nil {
		return nil, err
	}

	acc := make([]float64, n)
	argAcc := make([]int, n)
	visited := make([]bool, n)

	srcShape := t.Shape()
	outLayout := shape.NewContiguous(keepShape)
	srcIdx := make([]int, t.Rank())
	if t.ElemCount() > 0 {
		for {
			dstIdx := append([]int(nil), srcIdx...)
			for _, d := range rdims {
				dstIdx[d] = 0
			}
			slot := outLayout.Index(dstIdx)
			v := xBuf.At(t.layout.Index(srcIdx))
			flat := argFlatIndex(srcIdx, rdims, t.Shape())

			switch kind {
			case Sum:
				acc[slot] += v
			case Min:
				if !visited[slot] || v < acc[slot] {
					acc[slot] = v
				}
			case Max:
				if !visited[slot] || v > acc[slot] {
					acc[slot] = v
				}
			case ArgMin:
				// Ties resolve to the lowest flat index, the first one
				// visited in row-major order.
				if !visited[slot] || v < acc[slot] {
					acc[slot] = v
					argAcc[slot] = flat
				}
			case ArgMax:
				if !visited[slot] || v > acc[slot] {
					acc[slot] = v
					argAcc[slot] = flat
				}
			}
			visited[slot] = true

			if !incIdxOk(srcIdx, srcShape) {
				break
			}
		}
	}

	if t.ElemCount() == 0 {
		id, err := reduceIdentity("reduce", kind)
		if err != nil {
			return nil, err
		}
		for i := range acc {
			acc[i] = id
		}
	}

	for i := 0; i < n; i++ {
		if kind == ArgMin || kind == ArgMax {
			result.Set(i, float64(argAcc[i]))
		} else {
			result.Set(i, acc[i])
		}
	}

	outShape := keepShape
	if !keepdim {
		outShape = collapseDims(keepShape, rdims)
	}
	outLayoutFinal := shape.NewContiguous(outShape)

	out := newFromOp(storage.NewCPU(result), outLayoutFinal, nil)
	if t.TrackOp() && kind == Sum {
		// Only Sum/Min/Max propagate a gradient in this core; ArgMin/ArgMax
		// are index-producing and non-differentiable.
		out.op = OpReduce{X: t, Kind: kind, Dims: rdims, KeepdimShape: keepShape}
	} else if t.TrackOp() && (kind == Min || kind == Max) {
		out.op = OpReduce{X: t, Kind: kind, Dims: rdims, KeepdimShape: keepShape}
	}
	return out, nil
}

// argFlatIndex computes the flat row-major index of idx restricted to the
// reduced axes rdims: the index within the reduced dimension(s),
// flattened in row-major order if more than one dimension is reduced.
func argFlatIndex(idx []int, rdims []int, fullShape shape.Shape) int {
	flat := 0
	for _, d := range rdims {
		flat = flat*fullShape[d] + idx[d]
	}
	return flat
}

func collapseDims(sh shape.Shape, dims []int) shape.Shape {
	drop := make(map[int]bool, len(dims))
	for _, d := range dims {
		drop[d] = true
	}
	out := make(shape.Shape, 0, len(sh)-len(dims))
	for i, d := range sh {
		if drop[i] {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Sum reduces dims, replacing each with size 1.
func (t *Tensor) Sum(dims []int) (*Tensor, error) { return t.Reduce(Sum, dims, true) }

// SumAll reduces every dimension to a scalar.
func (t *Tensor) SumAll() (*Tensor, error) {
	dims := make([]int, t.Rank())
	for i := range dims {
		dims[i] = i
	}
	return t.Reduce(Sum, dims, false)
}
