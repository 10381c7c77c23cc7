package tensor

import (
	"testing"

	"github.com/tensorcore/tensorcore/device"
	"github.com/tensorcore/tensorcore/dtype"
	"github.com/tensorcore/tensorcore/shape"
)

func TestZerosOnes(t *testing.T) {
	z, err := Zeros(shape.Shape{2, 3}, dtype.F32, device.Cpu())
	if err != nil {
		t.Fatalf("Zeros: %v", err)
	}
	for _, v := range values(t, z) {
		if v != 0 {
			t.Errorf("Zeros: got %v want 0", v)
		}
	}
	o, err := Ones(shape.Shape{2, 3}, dtype.F32, device.Cpu())
	if err != nil {
		t.Fatalf("Ones: %v", err)
	}
	for _, v := range values(t, o) {
		if v != 1 {
			t.Errorf("Ones: got %v want 1", v)
		}
	}
	if o.IsVariable() {
		t.Errorf("Ones should not produce a variable")
	}
}

func TestRandUniformRange(t *testing.T) {
	r, err := RandUniform(shape.Shape{100}, dtype.F32, device.Cpu())
	if err != nil {
		t.Fatalf("RandUniform: %v", err)
	}
	for _, v := range values(t, r) {
		if v < 0 || v >= 1 {
			t.Errorf("RandUniform: got %v, want in [0,1)", v)
		}
	}
	if _, err := RandUniform(shape.Shape{4}, dtype.U32, device.Cpu()); err == nil {
		t.Errorf("RandUniform on an int dtype should fail")
	}
}

func TestFromFloatSlice(t *testing.T) {
	x, err := FromFloatSlice([]float64{1, 2, 3, 4}, shape.Shape{2, 2}, dtype.F32, device.Cpu())
	if err != nil {
		t.Fatalf("FromFloatSlice: %v", err)
	}
	got := values(t, x)
	want := []float64{1, 2, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("elem %d: got %v want %v", i, got[i], want[i])
		}
	}
	if _, err := FromFloatSlice([]float64{1, 2, 3}, shape.Shape{2, 2}, dtype.F32, device.Cpu()); err == nil {
		t.Errorf("mismatched value count should fail")
	}
}

func TestZerosRejectsCUDA(t *testing.T) {
	if _, err := Zeros(shape.Shape{1}, dtype.F32, device.Cuda(0)); err == nil {
		t.Errorf("Zeros on a cuda device should fail (no backend in this core)")
	}
}
