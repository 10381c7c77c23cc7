// tensor_nn.go - convolution, pooling and upsampling. These ops are
// forward-only: their Op tape entries exist for introspection, but the
// autograd backward pass returns BackwardNotSupported for all of them.
package tensor

import (
	"github.com/tensorcore/tensorcore/errs"
	"github.com/tensorcore/tensorcore/shape"
	"github.com/tensorcore/tensorcore/storage"
)

// Conv1D computes a 1-D cross-correlation: arg is (batch, cIn, length),
// kernel is (cOut, cIn, k). No dilation or groups.
func (t *Tensor) Conv1D(kernel *Tensor, stride, padding int) (*Tensor, error) {
	if err := checkSameDType("conv1d", t, kernel); err != nil {
		return nil, err
	}
	if t.Rank() != 3 || kernel.Rank() != 3 {
		return nil, errs.New(errs.Other, "conv1d", "arg and kernel must be rank 3")
	}
	batch, cIn, length := t.Shape()[0], t.Shape()[1], t.Shape()[2]
	cOut, cInK, ksize := kernel.Shape()[0], kernel.Shape()[1], kernel.Shape()[2]
	if cIn != cInK {
		return nil, errs.ShapeMismatch("conv1d", t.Shape(), kernel.Shape())
	}
	outLen := (length+2*padding-ksize)/stride + 1
	if outLen <= 0 {
		return nil, errs.New(errs.Other, "conv1d", "kernel larger than padded input")
	}

	xBuf, err := t.storage.RequireCPU("conv1d")
	if err != nil {
		return nil, err
	}
	wBuf, err := kernel.storage.RequireCPU("conv1d")
	if err != nil {
		return nil, err
	}
	outShape := shape.Shape{batch, cOut, outLen}
	result, err := storage.NewCPUBuffer(t.DType(), outShape.ElemCount())
	if err != nil {
		return nil, err
	}
	outLayout := shape.NewContiguous(outShape)

	for b := 0; b < batch; b++ {
		for oc := 0; oc < cOut; oc++ {
			for ox := 0; ox < outLen; ox++ {
				var sum float64
				base := ox*stride - padding
				for ic := 0; ic < cIn; ic++ {
					for kx := 0; kx < ksize; kx++ {
						ix := base + kx
						if ix < 0 || ix >= length {
							continue
						}
						sum += xBuf.At(t.layout.Index([]int{b, ic, ix})) *
							wBuf.At(kernel.layout.Index([]int{oc, ic, kx}))
					}
				}
				result.Set(outLayout.Index([]int{b, oc, ox}), sum)
			}
		}
	}

	out := newFromOp(storage.NewCPU(result), outLayout, nil)
	if t.TrackOp() || kernel.TrackOp() {
		out.op = OpConv1D{Arg: t, Kernel: kernel, Stride: stride, Padding: padding}
	}
	return out, nil
}

// Conv2D computes a 2-D cross-correlation: arg is (batch, cIn, h, w),
// kernel is (cOut, cIn, kh, kw).
func (t *Tensor) Conv2D(kernel *Tensor, stride, padding int) (*Tensor, error) {
	if err := checkSameDType("conv2d", t, kernel); err != nil {
		return nil, err
	}
	if t.Rank() != 4 || kernel.Rank() != 4 {
		return nil, errs.New(errs.Other, "conv2d", "arg and kernel must be rank 4")
	}
	sh := t.Shape()
	batch, cIn, h, w := sh[0], sh[1], sh[2], sh[3]
	ksh := kernel.Shape()
	cOut, cInK, kh, kw := ksh[0], ksh[1], ksh[2], ksh[3]
	if cIn != cInK {
		return nil, errs.ShapeMismatch("conv2d", t.Shape(), kernel.Shape())
	}
	outH := (h+2*padding-kh)/stride + 1
	outW := (w+2*padding-kw)/stride + 1
	if outH <= 0 || outW <= 0 {
		return nil, errs.New(errs.Other, "conv2d", "kernel larger than padded input")
	}

	xBuf, err := t.storage.RequireCPU("conv2d")
	if err != nil {
		return nil, err
	}
	wBuf, err := kernel.storage.RequireCPU("conv2d")
	if err != nil {
		return nil, err
	}
	outShape := shape.Shape{batch, cOut, outH, outW}
	result, err := storage.NewCPUBuffer(t.DType(), outShape.ElemCount())
	if err != nil {
		return nil, err
	}
	outLayout := shape.NewContiguous(outShape)

	for b := 0; b < batch; b++ {
		for oc := 0; oc < cOut; oc++ {
			for oy := 0; oy < outH; oy++ {
				for ox := 0; ox < outW; ox++ {
					var sum float64
					baseY := oy*stride - padding
					baseX := ox*stride - padding
					for ic := 0; ic < cIn; ic++ {
						for ky := 0; ky < kh; ky++ {
							iy := baseY + ky
							if iy < 0 || iy >= h {
								continue
							}
							for kx := 0; kx < kw; kx++ {
								ix := baseX + kx
								if ix < 0 || ix >= w {
									continue
								}
								sum += xBuf.At(t.layout.Index([]int{b, ic, iy, ix})) *
									wBuf.At(kernel.layout.Index([]int{oc, ic, ky, kx}))
							}
						}
					}
					result.Set(outLayout.Index([]int{b, oc, oy, ox}), sum)
				}
			}
		}
	}

	out := newFromOp(storage.NewCPU(result), outLayout, nil)
	if t.TrackOp() || kernel.TrackOp() {
		out.op = OpConv2D{Arg: t, Kernel: kernel, Stride: stride, Padding: padding}
	}
	return out, nil
}

// AvgPool2D averages each (kh,kw) window with the given strides; arg is
// (batch, channels, h, w).
func (t *Tensor) AvgPool2D(kh, kw, strideH, strideW int) (*Tensor, error) {
	return t.pool2D(kh, kw, strideH, strideW, true)
}

// MaxPool2D takes the max of each window.
func (t *Tensor) MaxPool2D(kh, kw, strideH, strideW int) (*Tensor, error) {
	return t.pool2D(kh, kw, strideH, strideW, false)
}

func (t *Tensor) pool2D(kh, kw, strideH, strideW int, avg bool) (*Tensor, error) {
	if t.Rank() != 4 {
		return nil, errs.New(errs.Other, "pool2d", "arg must be rank 4")
	}
	sh := t.Shape()
	batch, ch, h, w := sh[0], sh[1], sh[2], sh[3]
	outH := (h-kh)/strideH + 1
	outW := (w-kw)/strideW + 1
	if outH <= 0 || outW <= 0 {
		return nil, errs.New(errs.Other, "pool2d", "kernel larger than input")
	}

	xBuf, err := t.storage.RequireCPU("pool2d")
	if err != nil {
		return nil, err
	}
	outShape := shape.Shape{batch, ch, outH, outW}
	result, err := storage.NewCPUBuffer(t.DType(), outShape.ElemCount())
	if err != nil {
		return nil, err
	}
	outLayout := shape.NewContiguous(outShape)

	for b := 0; b < batch; b++ {
		for c := 0; c < ch; c++ {
			for oy := 0; oy < outH; oy++ {
				for ox := 0; ox < outW; ox++ {
					baseY := oy * strideH
					baseX := ox * strideW
					var sum float64
					max := 0.0
					first := true
					for ky := 0; ky < kh; ky++ {
						for kx := 0; kx < kw; kx++ {
							v := xBuf.At(t.layout.Index([]int{b, c, baseY + ky, baseX + kx}))
							sum += v
							if first || v > max {
								max = v
								first = false
							}
						}
					}
					if avg {
						result.Set(outLayout.Index([]int{b, c, oy, ox}), sum/float64(kh*kw))
					} else {
						result.Set(outLayout.Index([]int{b, c, oy, ox}), max)
					}
				}
			}
		}
	}

	out := newFromOp(storage.NewCPU(result), outLayout, nil)
	if t.TrackOp() {
		if avg {
			out.op = OpAvgPool2D{Arg: t, KernelH: kh, KernelW: kw, StrideH: strideH, StrideW: strideW}
		} else {
			out.op = OpMaxPool2D{Arg: t, KernelH: kh, KernelW: kw, StrideH: strideH, StrideW: strideW}
		}
	}
	return out, nil
}

// UpsampleNearest2D resizes the spatial dims of a (batch, channels, h, w)
// tensor to (targetH, targetW) by nearest-neighbor sampling.
func (t *Tensor) UpsampleNearest2D(targetH, targetW int) (*Tensor, error) {
	if t.Rank() != 4 {
		return nil, errs.New(errs.Other, "upsample_nearest2d", "arg must be rank 4")
	}
	sh := t.Shape()
	batch, ch, h, w := sh[0], sh[1], sh[2], sh[3]

	xBuf, err := t.storage.RequireCPU("upsample_nearest2d")
	if err != nil {
		return nil, err
	}
	outShape := shape.Shape{batch, ch, targetH, targetW}
	result, err := storage.NewCPUBuffer(t.DType(), outShape.ElemCount())
	if err != nil {
		return nil, err
	}
	outLayout := shape.NewContiguous(outShape)

	for b := 0; b < batch; b++ {
		for c := 0; c < ch; c++ {
			for oy := 0; oy < targetH; oy++ {
				sy := oy * h / targetH
				for ox := 0; ox < targetW; ox++ {
					sx := ox * w / targetW
					v := xBuf.At(t.layout.Index([]int{b, c, sy, sx}))
					result.Set(outLayout.Index([]int{b, c, oy, ox}), v)
				}
			}
		}
	}

	out := newFromOp(storage.NewCPU(result), outLayout, nil)
	if t.TrackOp() {
		out.op = OpUpsampleNearest2D{Arg: t, H: targetH, W: targetW}
	}
	return out, nil
}
