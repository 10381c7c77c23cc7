package autograd

import (
	"github.com/tensorcore/tensorcore/errs"
	"github.com/tensorcore/tensorcore/shape"
	"github.com/tensorcore/tensorcore/tensor"
)

// propagate distributes node's accumulated gradient to each of node's
// direct inputs, following the standard reverse-mode chain-rule
// contribution for node's producing Op. node is the tensor exactly as
// produced by forward (so its own
// value, e.g. exp(x), is available to the derivative formulas that need
// it without recomputing).
func propagate(store *GradStore, node *tensor.Tensor, grad *tensor.Tensor) error {
	switch op := node.Op().(type) {
	case nil:
		return nil
	case tensor.OpBinary:
		return propagateBinary(store, op, grad)
	case tensor.OpUnary:
		return propagateUnary(store, op, node, grad)
	case tensor.OpCmp:
		return nil // non-differentiable
	case tensor.OpReduce:
		return propagateReduce(store, op, node, grad)
	case tensor.OpMatmul:
		return propagateMatmul(store, op, grad)
	case tensor.OpGather:
		return propagateGather(store, op, grad)
	case tensor.OpScatterAdd:
		return propagateScatterAdd(store, op, grad)
	case tensor.OpIndexSelect:
		return propagateIndexSelect(store, op, grad)
	case tensor.OpIndexAdd:
		return propagateIndexAdd(store, op, grad)
	case tensor.OpWhereCond:
		return propagateWhereCond(store, op, grad)
	case tensor.OpCat:
		return propagateCat(store, op, grad)
	case tensor.OpAffine:
		return propagateAffine(store, op, grad)
	case tensor.OpToDType:
		return contributeReshapeLike(store, op.Arg, grad, func(g *tensor.Tensor) (*tensor.Tensor, error) {
			return g.ToDType(op.Arg.DType())
		})
	case tensor.OpCopy:
		return store.accumulate(op.Arg, grad)
	case tensor.OpBroadcast:
		g, err := sumToShape(grad, op.Arg.Shape())
		if err != nil {
			return err
		}
		return store.accumulate(op.Arg, g)
	case tensor.OpNarrow:
		return propagateNarrow(store, op, grad)
	case tensor.OpReshape:
		g, err := grad.Reshape(op.Arg.Shape())
		if err != nil {
			return err
		}
		return store.accumulate(op.Arg, g)
	case tensor.OpToDevice:
		return store.accumulate(op.Arg, grad)
	case tensor.OpTranspose:
		g, err := grad.Transpose(op.Dim1, op.Dim2)
		if err != nil {
			return err
		}
		return store.accumulate(op.Arg, g)
	case tensor.OpElu:
		return propagateElu(store, op, node, grad)
	case tensor.OpConv1D, tensor.OpConv2D, tensor.OpAvgPool2D, tensor.OpMaxPool2D, tensor.OpUpsampleNearest2D:
		return errs.NotSupported("backward")
	case tensor.OpCustomOp1:
		return propagateCustomOp1(store, op, node, grad)
	case tensor.OpCustomOp2:
		return propagateCustomOp2(store, op, node, grad)
	case tensor.OpCustomOp3:
		return propagateCustomOp3(store, op, node, grad)
	default:
		return errs.NotSupported("backward")
	}
}

func contributeReshapeLike(store *GradStore, arg *tensor.Tensor, grad *tensor.Tensor, f func(*tensor.Tensor) (*tensor.Tensor, error)) error {
	g, err := f(grad)
	if err != nil {
		return err
	}
	return store.accumulate(arg, g)
}

func propagateBinary(store *GradStore, op tensor.OpBinary, grad *tensor.Tensor) error {
	switch op.Kind {
	case tensor.Add:
		dl, err := sumToShape(grad, op.Lhs.Shape())
		if err != nil {
			return err
		}
		if err := store.accumulate(op.Lhs, dl); err != nil {
			return err
		}
		dr, err := sumToShape(grad, op.Rhs.Shape())
		if err != nil {
			return err
		}
		return store.accumulate(op.Rhs, dr)
	case tensor.Sub:
		dl, err := sumToShape(grad, op.Lhs.Shape())
		if err != nil {
			return err
		}
		if err := store.accumulate(op.Lhs, dl); err != nil {
			return err
		}
		neg, err := grad.Neg()
		if err != nil {
			return err
		}
		dr, err := sumToShape(neg, op.Rhs.Shape())
		if err != nil {
			return err
		}
		return store.accumulate(op.Rhs, dr)
	case tensor.Mul:
		glr, err := grad.Mul(op.Rhs)
		if err != nil {
			return err
		}
		dl, err := sumToShape(glr, op.Lhs.Shape())
		if err != nil {
			return err
		}
		if err := store.accumulate(op.Lhs, dl); err != nil {
			return err
		}
		gll, err := grad.Mul(op.Lhs)
		if err != nil {
			return err
		}
		dr, err := sumToShape(gll, op.Rhs.Shape())
		if err != nil {
			return err
		}
		return store.accumulate(op.Rhs, dr)
	case tensor.Div:
		glr, err := grad.Div(op.Rhs)
		if err != nil {
			return err
		}
		dl, err := sumToShape(glr, op.Lhs.Shape())
		if err != nil {
			return err
		}
		if err := store.accumulate(op.Lhs, dl); err != nil {
			return err
		}
		// d/dRhs (Lhs/Rhs) = -Lhs/Rhs^2
		rSqr, err := op.Rhs.Sqr()
		if err != nil {
			return err
		}
		lOverRSqr, err := op.Lhs.Div(rSqr)
		if err != nil {
			return err
		}
		negLOverRSqr, err := lOverRSqr.Neg()
		if err != nil {
			return err
		}
		gr, err := grad.Mul(negLOverRSqr)
		if err != nil {
			return err
		}
		dr, err := sumToShape(gr, op.Rhs.Shape())
		if err != nil {
			return err
		}
		return store.accumulate(op.Rhs, dr)
	default:
		return errs.NotSupported("binary backward")
	}
}

func propagateUnary(store *GradStore, op tensor.OpUnary, node, grad *tensor.Tensor) error {
	var dx *tensor.Tensor
	var err error
	switch op.Kind {
	case tensor.Exp:
		dx, err = grad.Mul(node)
	case tensor.Log:
		dx, err = grad.Div(op.X)
	case tensor.Sin:
		var c *tensor.Tensor
		c, err = op.X.Cos()
		if err == nil {
			dx, err = grad.Mul(c)
		}
	case tensor.Cos:
		var s, negS *tensor.Tensor
		s, err = op.X.Sin()
		if err == nil {
			negS, err = s.Neg()
		}
		if err == nil {
			dx, err = grad.Mul(negS)
		}
	case tensor.Abs:
		// Fix for the dangling-where_cond bug: the intended gradient is
		// grad * (2*(x>=0) - 1), i.e. +1 where x>=0, -1 where x<0.
		var mask, signed *tensor.Tensor
		mask, err = nonNegMask(op.X)
		if err == nil {
			signed, err = mask.Affine(2, -1)
		}
		if err == nil {
			dx, err = grad.Mul(signed)
		}
	case tensor.Neg:
		dx, err = grad.Neg()
	case tensor.Recip:
		var sqrNode, negSqrNode *tensor.Tensor
		sqrNode, err = node.Sqr()
		if err == nil {
			negSqrNode, err = sqrNode.Neg()
		}
		if err == nil {
			dx, err = grad.Mul(negSqrNode)
		}
	case tensor.Sqr:
		var twoX *tensor.Tensor
		twoX, err = op.X.Affine(2, 0)
		if err == nil {
			dx, err = grad.Mul(twoX)
		}
	case tensor.Sqrt:
		var halfOverNode *tensor.Tensor
		halfOverNode, err = node.Affine(2, 0)
		if err == nil {
			halfOverNode, err = halfOverNode.Recip()
		}
		if err == nil {
			dx, err = grad.Mul(halfOverNode)
		}
	case tensor.Relu:
		var mask, maskF *tensor.Tensor
		zero, zerr := op.X.Affine(0, 0)
		if zerr != nil {
			return zerr
		}
		mask, err = op.X.Gt(zero)
		if err == nil {
			maskF, err = mask.ToDType(op.X.DType())
		}
		if err == nil {
			dx, err = grad.Mul(maskF)
		}
	case tensor.Gelu:
		return errs.NotSupported("gelu backward")
	default:
		return errs.NotSupported("unary backward")
	}
	if err != nil {
		return err
	}
	return store.accumulate(op.X, dx)
}

// nonNegMask returns 1.0 where x >= 0, 0.0 elsewhere, in x's own dtype.
func nonNegMask(x *tensor.Tensor) (*tensor.Tensor, error) {
	zero, err := x.Affine(0, 0)
	if err != nil {
		return nil, err
	}
	mask, err := x.Ge(zero)
	if err != nil {
		return nil, err
	}
	return mask.ToDType(x.DType())
}

func propagateAffine(store *GradStore, op tensor.OpAffine, grad *tensor.Tensor) error {
	// y = mul*x + add; OpAffine is only ever recorded when mul != 0
	// (tensor.Affine skips the tape entry entirely otherwise), so the
	// pruning this function would otherwise need is already structural.
	dx, err := grad.Affine(op.Mul, 0)
	if err != nil {
		return err
	}
	return store.accumulate(op.Arg, dx)
}

func propagateElu(store *GradStore, op tensor.OpElu, node, grad *tensor.Tensor) error {
	// d/dx elu(x,alpha) = 1 for x>=0, alpha*exp(x) = node+alpha for x<0.
	zero, err := op.Arg.Affine(0, 0)
	if err != nil {
		return err
	}
	mask, err := op.Arg.Ge(zero)
	if err != nil {
		return err
	}
	one, err := op.Arg.Affine(0, 1)
	if err != nil {
		return err
	}
	negBranch, err := node.Affine(1, op.Alpha)
	if err != nil {
		return err
	}
	deriv, err := tensor.WhereCond(mask, one, negBranch)
	if err != nil {
		return err
	}
	dx, err := grad.Mul(deriv)
	if err != nil {
		return err
	}
	return store.accumulate(op.Arg, dx)
}

func propagateReduce(store *GradStore, op tensor.OpReduce, node, grad *tensor.Tensor) error {
	switch op.Kind {
	case tensor.Sum:
		reshaped, err := grad.Reshape(op.KeepdimShape)
		if err != nil {
			return err
		}
		bcast, err := reshaped.BroadcastAs(op.X.Shape())
		if err != nil {
			return err
		}
		dx, err := bcast.Contiguous()
		if err != nil {
			return err
		}
		return store.accumulate(op.X, dx)
	case tensor.Min, tensor.Max:
		reshapedNode, err := node.Reshape(op.KeepdimShape)
		if err != nil {
			return err
		}
		bNode, err := reshapedNode.BroadcastAs(op.X.Shape())
		if err != nil {
			return err
		}
		mask, err := op.X.Eq(bNode)
		if err != nil {
			return err
		}
		maskF, err := mask.ToDType(op.X.DType())
		if err != nil {
			return err
		}
		reshapedGrad, err := grad.Reshape(op.KeepdimShape)
		if err != nil {
			return err
		}
		bGrad, err := reshapedGrad.BroadcastAs(op.X.Shape())
		if err != nil {
			return err
		}
		dx, err := maskF.Mul(bGrad)
		if err != nil {
			return err
		}
		return store.accumulate(op.X, dx)
	default:
		return errs.NotSupported("reduce backward")
	}
}

func propagateMatmul(store *GradStore, op tensor.OpMatmul, grad *tensor.Tensor) error {
	bT, err := op.B.Transpose(-2, -1)
	if err != nil {
		return err
	}
	daFull, err := grad.Matmul(bT)
	if err != nil {
		return err
	}
	da, err := sumToShape(daFull, op.A.Shape())
	if err != nil {
		return err
	}
	if err := store.accumulate(op.A, da); err != nil {
		return err
	}

	aT, err := op.A.Transpose(-2, -1)
	if err != nil {
		return err
	}
	dbFull, err := aT.Matmul(grad)
	if err != nil {
		return err
	}
	db, err := sumToShape(dbFull, op.B.Shape())
	if err != nil {
		return err
	}
	return store.accumulate(op.B, db)
}

func propagateGather(store *GradStore, op tensor.OpGather, grad *tensor.Tensor) error {
	zeroX, err := op.X.Affine(0, 0)
	if err != nil {
		return err
	}
	dx, err := tensor.ScatterAdd(zeroX, op.Idx, grad, op.Dim)
	if err != nil {
		return err
	}
	return store.accumulate(op.X, dx)
}

func propagateScatterAdd(store *GradStore, op tensor.OpScatterAdd, grad *tensor.Tensor) error {
	if err := store.accumulate(op.Init, grad); err != nil {
		return err
	}
	dsrc, err := grad.Gather(op.Idx, op.Dim)
	if err != nil {
		return err
	}
	return store.accumulate(op.Src, dsrc)
}

func propagateIndexSelect(store *GradStore, op tensor.OpIndexSelect, grad *tensor.Tensor) error {
	zeroX, err := op.X.Affine(0, 0)
	if err != nil {
		return err
	}
	dx, err := tensor.IndexAdd(zeroX, op.Idx, grad, op.Dim)
	if err != nil {
		return err
	}
	return store.accumulate(op.X, dx)
}

func propagateIndexAdd(store *GradStore, op tensor.OpIndexAdd, grad *tensor.Tensor) error {
	if err := store.accumulate(op.Init, grad); err != nil {
		return err
	}
	dsrc, err := grad.IndexSelect(op.Idx, op.Dim)
	if err != nil {
		return err
	}
	return store.accumulate(op.Src, dsrc)
}

func propagateWhereCond(store *GradStore, op tensor.OpWhereCond, grad *tensor.Tensor) error {
	zero, err := grad.Affine(0, 0)
	if err != nil {
		return err
	}
	dtFull, err := tensor.WhereCond(op.Pred, grad, zero)
	if err != nil {
		return err
	}
	dt, err := sumToShape(dtFull, op.T.Shape())
	if err != nil {
		return err
	}
	if err := store.accumulate(op.T, dt); err != nil {
		return err
	}
	dfFull, err := tensor.WhereCond(op.Pred, zero, grad)
	if err != nil {
		return err
	}
	df, err := sumToShape(dfFull, op.F.Shape())
	if err != nil {
		return err
	}
	return store.accumulate(op.F, df)
}

func propagateCat(store *GradStore, op tensor.OpCat, grad *tensor.Tensor) error {
	rdim := op.Dim
	if rdim < 0 {
		rdim += grad.Rank()
	}
	offset := 0
	for _, arg := range op.Args {
		length, err := arg.Dim(op.Dim)
		if err != nil {
			return err
		}
		slice, err := grad.Narrow(rdim, offset, length)
		if err != nil {
			return err
		}
		if err := store.accumulate(arg, slice); err != nil {
			return err
		}
		offset += length
	}
	return nil
}

func propagateNarrow(store *GradStore, op tensor.OpNarrow, grad *tensor.Tensor) error {
	zero, err := op.Arg.Affine(0, 0)
	if err != nil {
		return err
	}
	window, err := zero.Narrow(op.Dim, op.Start, op.Len)
	if err != nil {
		return err
	}
	if err := addGradIntoWindow(window, grad); err != nil {
		return err
	}
	return store.accumulate(op.Arg, zero)
}

// addGradIntoWindow writes grad's values into window's shared storage in
// row-major order. window must be a freshly allocated view with no other
// live readers (the zeroed buffer built for one Narrow backward pass), so
// plain assignment — not accumulation — is correct.
func addGradIntoWindow(window, grad *tensor.Tensor) error {
	gradC, err := grad.Contiguous()
	if err != nil {
		return err
	}
	buf, err := window.Storage().RequireCPU("narrow_backward")
	if err != nil {
		return err
	}
	gBuf, err := gradC.Storage().RequireCPU("narrow_backward")
	if err != nil {
		return err
	}
	wPos := shape.Positions(window.Layout())
	for i, p := range wPos {
		buf.Set(p, gBuf.At(i))
	}
	return nil
}

// sumToShape reduces grad's broadcast-expanded dimensions back down to
// target — the inverse of the zero-stride expansion BroadcastAs
// performs: sum every leading dimension grad has beyond target's rank,
// then sum every dimension where target is 1 but grad is not.
func sumToShape(grad *tensor.Tensor, target shape.Shape) (*tensor.Tensor, error) {
	gShape := grad.Shape()
	leading := len(gShape) - len(target)
	if leading < 0 {
		return nil, errs.New(errs.Other, "sum_to_shape", "gradient rank smaller than target rank")
	}
	var dims []int
	for i := 0; i < leading; i++ {
		dims = append(dims, i)
	}
	for i, d := range target {
		if d == 1 && gShape[leading+i] != 1 {
			dims = append(dims, leading+i)
		}
	}
	if len(dims) == 0 {
		return grad, nil
	}
	reduced, err := grad.Reduce(tensor.Sum, dims, true)
	if err != nil {
		return nil, err
	}
	return reduced.Reshape(target)
}

func propagateCustomOp1(store *GradStore, op tensor.OpCustomOp1, node, grad *tensor.Tensor) error {
	bw, ok := op.C.(tensor.CustomOp1Backward)
	if !ok {
		return errs.NotSupported(op.C.Name())
	}
	dx, err := bw.Backward(op.Arg, node, grad)
	if err != nil {
		return err
	}
	return accumulateIfPresent(store, op.Arg, dx)
}

func propagateCustomOp2(store *GradStore, op tensor.OpCustomOp2, node, grad *tensor.Tensor) error {
	bw, ok := op.C.(tensor.CustomOp2Backward)
	if !ok {
		return errs.NotSupported(op.C.Name())
	}
	d1, d2, err := bw.Backward(op.Arg1, op.Arg2, node, grad)
	if err != nil {
		return err
	}
	if err := accumulateIfPresent(store, op.Arg1, d1); err != nil {
		return err
	}
	return accumulateIfPresent(store, op.Arg2, d2)
}

func propagateCustomOp3(store *GradStore, op tensor.OpCustomOp3, node, grad *tensor.Tensor) error {
	bw, ok := op.C.(tensor.CustomOp3Backward)
	if !ok {
		return errs.NotSupported(op.C.Name())
	}
	d1, d2, d3, err := bw.Backward(op.Arg1, op.Arg2, op.Arg3, node, grad)
	if err != nil {
		return err
	}
	if err := accumulateIfPresent(store, op.Arg1, d1); err != nil {
		return err
	}
	if err := accumulateIfPresent(store, op.Arg2, d2); err != nil {
		return err
	}
	return accumulateIfPresent(store, op.Arg3, d3)
}

// accumulateIfPresent accumulates contribution into arg's gradient unless
// contribution is nil, the Go encoding of the spec's Option<Tensor>::None
// for a custom op declining to contribute a gradient for that input.
func accumulateIfPresent(store *GradStore, arg, contribution *tensor.Tensor) error {
	if contribution == nil {
		return nil
	}
	return store.accumulate(arg, contribution)
}
