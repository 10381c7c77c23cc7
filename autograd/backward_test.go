package autograd

import (
	"math"
	"testing"

	"github.com/tensorcore/tensorcore/dtype"
	"github.com/tensorcore/tensorcore/shape"
	"github.com/tensorcore/tensorcore/storage"
	"github.com/tensorcore/tensorcore/tensor"
)

func newVar(t *testing.T, vals []float64, sh shape.Shape) *tensor.Tensor {
	t.Helper()
	buf, err := storage.NewCPUBuffer(dtype.F32, len(vals))
	if err != nil {
		t.Fatalf("NewCPUBuffer: %v", err)
	}
	for i, v := range vals {
		buf.Set(i, v)
	}
	v, err := tensor.NewVariable(storage.NewCPU(buf), sh)
	if err != nil {
		t.Fatalf("NewVariable: %v", err)
	}
	return v
}

func scalarOf(t *testing.T, x *tensor.Tensor) float64 {
	t.Helper()
	buf, err := x.Storage().RequireCPU("test")
	if err != nil {
		t.Fatalf("RequireCPU: %v", err)
	}
	pos := shape.Positions(x.Layout())
	if len(pos) != 1 {
		t.Fatalf("expected a scalar, got %d elements", len(pos))
	}
	return buf.At(pos[0])
}

func valuesOf(t *testing.T, x *tensor.Tensor) []float64 {
	t.Helper()
	buf, err := x.Storage().RequireCPU("test")
	if err != nil {
		t.Fatalf("RequireCPU: %v", err)
	}
	pos := shape.Positions(x.Layout())
	out := make([]float64, len(pos))
	for i, p := range pos {
		out[i] = buf.At(p)
	}
	return out
}

// TestLinearLayerGradient exercises the w*x+b scalar example: y = sum(w*x) + b.
func TestLinearLayerGradient(t *testing.T) {
	w := newVar(t, []float64{2, 3}, shape.Shape{2})
	x := newVar(t, []float64{4, 5}, shape.Shape{2})
	b := newVar(t, []float64{1}, shape.Shape{1})

	wx, err := w.Mul(x)
	if err != nil {
		t.Fatalf("Mul: %v", err)
	}
	sum, err := wx.SumAll()
	if err != nil {
		t.Fatalf("SumAll: %v", err)
	}
	y, err := sum.Add(b)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	store, err := Backward(y)
	if err != nil {
		t.Fatalf("Backward: %v", err)
	}

	gw, ok := store.Get(w)
	if !ok {
		t.Fatalf("no gradient recorded for w")
	}
	wantGW := valuesOf(t, x)
	gotGW := valuesOf(t, gw)
	for i := range wantGW {
		if math.Abs(gotGW[i]-wantGW[i]) > 1e-6 {
			t.Errorf("dy/dw[%d]: got %v want %v", i, gotGW[i], wantGW[i])
		}
	}

	gx, ok := store.Get(x)
	if !ok {
		t.Fatalf("no gradient recorded for x")
	}
	wantGX := valuesOf(t, w)
	gotGX := valuesOf(t, gx)
	for i := range wantGX {
		if math.Abs(gotGX[i]-wantGX[i]) > 1e-6 {
			t.Errorf("dy/dx[%d]: got %v want %v", i, gotGX[i], wantGX[i])
		}
	}

	gb, ok := store.Get(b)
	if !ok {
		t.Fatalf("no gradient recorded for b")
	}
	if scalarOf(t, gb) != 1 {
		t.Errorf("dy/db: got %v want 1", scalarOf(t, gb))
	}
}

// TestSelfAddAccumulatesGradient exercises y = x + x, dy/dx == 2.
func TestSelfAddAccumulatesGradient(t *testing.T) {
	x := newVar(t, []float64{3}, shape.Shape{1})
	y, err := x.Add(x)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	store, err := Backward(y)
	if err != nil {
		t.Fatalf("Backward: %v", err)
	}
	gx, ok := store.Get(x)
	if !ok {
		t.Fatalf("no gradient recorded for x")
	}
	if got := scalarOf(t, gx); got != 2 {
		t.Errorf("d(x+x)/dx: got %v want 2", got)
	}
}

// TestIntermediatesAreConsumed checks that non-variable intermediates do
// not survive in the GradStore past Backward, while variables do (spec.md
// §7: "Variables remain visible in the gradient map ... ; non-variable
// intermediates are consumed").
func TestIntermediatesAreConsumed(t *testing.T) {
	w := newVar(t, []float64{2, 3}, shape.Shape{2})
	x := newVar(t, []float64{4, 5}, shape.Shape{2})

	wx, err := w.Mul(x)
	if err != nil {
		t.Fatalf("Mul: %v", err)
	}
	sum, err := wx.SumAll()
	if err != nil {
		t.Fatalf("SumAll: %v", err)
	}
	store, err := Backward(sum)
	if err != nil {
		t.Fatalf("Backward: %v", err)
	}
	if _, ok := store.Get(w); !ok {
		t.Errorf("expected gradient retained for variable w")
	}
	if _, ok := store.Get(x); !ok {
		t.Errorf("expected gradient retained for variable x")
	}
	if _, ok := store.Get(wx); ok {
		t.Errorf("expected non-variable intermediate wx to be consumed")
	}
}

// TestConcatSumGradient exercises sum(concat([x, y])) — each element's
// gradient contribution must be exactly 1, split back to its source tensor.
func TestConcatSumGradient(t *testing.T) {
	x := newVar(t, []float64{1, 2}, shape.Shape{2})
	y := newVar(t, []float64{3, 4, 5}, shape.Shape{3})
	cat, err := tensor.Cat([]*tensor.Tensor{x, y}, 0)
	if err != nil {
		t.Fatalf("Cat: %v", err)
	}
	total, err := cat.SumAll()
	if err != nil {
		t.Fatalf("SumAll: %v", err)
	}
	store, err := Backward(total)
	if err != nil {
		t.Fatalf("Backward: %v", err)
	}
	gx, ok := store.Get(x)
	if !ok {
		t.Fatalf("no gradient recorded for x")
	}
	for _, v := range valuesOf(t, gx) {
		if v != 1 {
			t.Errorf("dsum/dx: got %v want 1", v)
		}
	}
	gy, ok := store.Get(y)
	if !ok {
		t.Fatalf("no gradient recorded for y")
	}
	for _, v := range valuesOf(t, gy) {
		if v != 1 {
			t.Errorf("dsum/dy: got %v want 1", v)
		}
	}
}

// TestAbsBackwardMatchesSign checks the bug-fixed Abs gradient: d|x|/dx is
// +1 for x > 0 and -1 for x < 0.
func TestAbsBackwardMatchesSign(t *testing.T) {
	x := newVar(t, []float64{-2, 3}, shape.Shape{2})
	absX, err := x.Abs()
	if err != nil {
		t.Fatalf("Abs: %v", err)
	}
	sum, err := absX.SumAll()
	if err != nil {
		t.Fatalf("SumAll: %v", err)
	}
	store, err := Backward(sum)
	if err != nil {
		t.Fatalf("Backward: %v", err)
	}
	gx, ok := store.Get(x)
	if !ok {
		t.Fatalf("no gradient recorded for x")
	}
	got := valuesOf(t, gx)
	want := []float64{-1, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("d|x|/dx[%d]: got %v want %v", i, got[i], want[i])
		}
	}
}

// TestEluBackwardClosesGap checks the Elu backward gradient is computed
// (not BackwardNotSupported), matching grad*where(x>=0, 1, elu(x)+alpha).
func TestEluBackwardClosesGap(t *testing.T) {
	x := newVar(t, []float64{-1, 1}, shape.Shape{2})
	out, err := x.Elu(1.0)
	if err != nil {
		t.Fatalf("Elu: %v", err)
	}
	sum, err := out.SumAll()
	if err != nil {
		t.Fatalf("SumAll: %v", err)
	}
	if _, err := Backward(sum); err != nil {
		t.Fatalf("Elu backward should be supported, got error: %v", err)
	}
}

// TestGeluBackwardUnsupported checks the deliberately open gap: Gelu's
// backward cannot be composed from the closed unary-kind set.
func TestGeluBackwardUnsupported(t *testing.T) {
	x := newVar(t, []float64{1, 2}, shape.Shape{2})
	out, err := x.Gelu()
	if err != nil {
		t.Fatalf("Gelu: %v", err)
	}
	sum, err := out.SumAll()
	if err != nil {
		t.Fatalf("SumAll: %v", err)
	}
	if _, err := Backward(sum); err == nil {
		t.Errorf("expected Gelu backward to fail with BackwardNotSupported")
	}
}

// TestMatmulGradientFiniteDifference checks d(sum(A@B))/dA via a central
// finite difference at one entry (eps=1e-3, tolerance 1e-2).
func TestMatmulGradientFiniteDifference(t *testing.T) {
	const eps = 1e-3
	a := newVar(t, []float64{1, 2, 3, 4}, shape.Shape{2, 2})
	b := newVar(t, []float64{5, 6, 7, 8}, shape.Shape{2, 2})

	forward := func(a00 float64) float64 {
		buf, _ := storage.NewCPUBuffer(dtype.F32, 4)
		vals := []float64{a00, 2, 3, 4}
		for i, v := range vals {
			buf.Set(i, v)
		}
		av, _ := tensor.NewVariable(storage.NewCPU(buf), shape.Shape{2, 2})
		prod, err := av.Matmul(b)
		if err != nil {
			t.Fatalf("Matmul: %v", err)
		}
		sum, err := prod.SumAll()
		if err != nil {
			t.Fatalf("SumAll: %v", err)
		}
		return scalarOf(t, sum)
	}

	numeric := (forward(1+eps) - forward(1-eps)) / (2 * eps)

	prod, err := a.Matmul(b)
	if err != nil {
		t.Fatalf("Matmul: %v", err)
	}
	sum, err := prod.SumAll()
	if err != nil {
		t.Fatalf("SumAll: %v", err)
	}
	store, err := Backward(sum)
	if err != nil {
		t.Fatalf("Backward: %v", err)
	}
	ga, ok := store.Get(a)
	if !ok {
		t.Fatalf("no gradient recorded for a")
	}
	analytic := valuesOf(t, ga)[0]

	if math.Abs(analytic-numeric) > 1e-2 {
		t.Errorf("analytic gradient %v does not match numeric gradient %v", analytic, numeric)
	}
}

// copyFirstOp is a CustomOp2 whose forward copies its first argument
// verbatim (ignoring the second) and whose backward declines to
// contribute a gradient for that second argument at all (returns a nil
// *tensor.Tensor, the Go encoding of spec.md §4.D's Option<Tensor>::None).
type copyFirstOp struct{}

func (copyFirstOp) Name() string { return "test_copy_first" }

func (copyFirstOp) CPUForward(s1 storage.Storage, l1 shape.Layout, s2 storage.Storage, l2 shape.Layout) (storage.Storage, shape.Shape, error) {
	buf1, err := s1.RequireCPU("test_copy_first")
	if err != nil {
		return storage.Storage{}, nil, err
	}
	pos := shape.Positions(l1)
	out, err := storage.NewCPUBuffer(s1.DType(), len(pos))
	if err != nil {
		return storage.Storage{}, nil, err
	}
	for i, p := range pos {
		out.Set(i, buf1.At(p))
	}
	return storage.NewCPU(out), l1.Shape(), nil
}

func (copyFirstOp) Backward(arg1, arg2, res, gradRes *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	return gradRes, nil, nil
}

// TestCustomOpNilGradientSkipped is the maintainer-review regression: a
// CustomOp2 backward declining a gradient for one input (returning nil)
// must not panic when that input already has an accumulated gradient
// from another path, and must leave that other path's gradient intact.
func TestCustomOpNilGradientSkipped(t *testing.T) {
	x := newVar(t, []float64{1, 2}, shape.Shape{2})
	y := newVar(t, []float64{3, 4}, shape.Shape{2})

	out, err := tensor.ApplyCustomOp2(x, y, copyFirstOp{})
	if err != nil {
		t.Fatalf("ApplyCustomOp2: %v", err)
	}
	outSum, err := out.SumAll()
	if err != nil {
		t.Fatalf("SumAll: %v", err)
	}
	ySum, err := y.SumAll()
	if err != nil {
		t.Fatalf("SumAll: %v", err)
	}
	total, err := outSum.Add(ySum)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	store, err := Backward(total)
	if err != nil {
		t.Fatalf("Backward: %v (must not panic on a declined custom-op gradient)", err)
	}

	gy, ok := store.Get(y)
	if !ok {
		t.Fatalf("expected y to retain the gradient accumulated via ySum")
	}
	for _, v := range valuesOf(t, gy) {
		if v != 1 {
			t.Errorf("grad[y] = %v, want all-ones (only ySum contributes; the custom op declined)", valuesOf(t, gy))
			break
		}
	}

	gx, ok := store.Get(x)
	if !ok {
		t.Fatalf("expected x to have a gradient from the custom op")
	}
	for _, v := range valuesOf(t, gx) {
		if v != 1 {
			t.Errorf("grad[x] = %v, want all-ones", valuesOf(t, gx))
			break
		}
	}
}

// TestBackwardAcceptsNonScalarRoot is the maintainer-review regression:
// spec.md §2/§4.C permit backward from any shape of root (the seed is
// ones_like(root)), not only a scalar.
func TestBackwardAcceptsNonScalarRoot(t *testing.T) {
	x := newVar(t, []float64{1, 2, 3}, shape.Shape{3})
	y, err := x.Sqr()
	if err != nil {
		t.Fatalf("Sqr: %v", err)
	}
	store, err := Backward(y)
	if err != nil {
		t.Fatalf("Backward on a non-scalar root should succeed, got: %v", err)
	}
	gx, ok := store.Get(x)
	if !ok {
		t.Fatalf("no gradient recorded for x")
	}
	want := []float64{2, 4, 6}
	got := valuesOf(t, gx)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("grad[x] = %v, want %v", got, want)
			break
		}
	}
}
