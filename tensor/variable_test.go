package tensor

import (
	"testing"

	"github.com/tensorcore/tensorcore/dtype"
	"github.com/tensorcore/tensorcore/shape"
	"github.com/tensorcore/tensorcore/storage"
)

func TestNewVariableRequiresMatchingLength(t *testing.T) {
	buf, err := storage.NewCPUBuffer(dtype.F32, 3)
	if err != nil {
		t.Fatalf("NewCPUBuffer: %v", err)
	}
	if _, err := NewVariable(storage.NewCPU(buf), shape.Shape{4}); err == nil {
		t.Errorf("expected a shape/storage length mismatch error")
	}
	v, err := NewVariable(storage.NewCPU(buf), shape.Shape{3})
	if err != nil {
		t.Fatalf("NewVariable: %v", err)
	}
	if !v.IsVariable() {
		t.Errorf("NewVariable must produce a variable leaf")
	}
	if v.Op() != nil {
		t.Errorf("a fresh variable must have no Op")
	}
}

func TestFromStorageIsNotAVariable(t *testing.T) {
	buf, err := storage.NewCPUBuffer(dtype.F32, 2)
	if err != nil {
		t.Fatalf("NewCPUBuffer: %v", err)
	}
	leaf, err := FromStorage(storage.NewCPU(buf), shape.Shape{2})
	if err != nil {
		t.Fatalf("FromStorage: %v", err)
	}
	if leaf.IsVariable() {
		t.Errorf("FromStorage must not produce a variable")
	}
	if leaf.TrackOp() {
		t.Errorf("a plain non-variable leaf must not track gradients")
	}
}

func TestSetOverwritesInPlace(t *testing.T) {
	v := variable(t, []float64{1, 2, 3}, shape.Shape{3})
	src := mustTensor(t, []float64{9, 9, 9}, shape.Shape{3})
	if err := v.Set(src); err != nil {
		t.Fatalf("Set: %v", err)
	}
	for _, got := range values(t, v) {
		if got != 9 {
			t.Errorf("got %v want 9", got)
		}
	}
}

func TestSetRejectsAliasedStorage(t *testing.T) {
	v := variable(t, []float64{1, 2, 3}, shape.Shape{3})
	if err := v.Set(v); err == nil {
		t.Errorf("Set must reject a source that aliases the variable's own storage")
	}
}

func TestSetRejectsShapeMismatch(t *testing.T) {
	v := variable(t, []float64{1, 2, 3}, shape.Shape{3})
	src := mustTensor(t, []float64{1, 2}, shape.Shape{2})
	if err := v.Set(src); err == nil {
		t.Errorf("Set must reject a shape mismatch")
	}
}

func TestSetRejectsNonVariableTarget(t *testing.T) {
	plain := mustTensor(t, []float64{1, 2}, shape.Shape{2})
	src := mustTensor(t, []float64{3, 4}, shape.Shape{2})
	if err := plain.Set(src); err == nil {
		t.Errorf("Set on a non-variable target must fail")
	}
}

func TestDetachedCloneIsIndependent(t *testing.T) {
	v := variable(t, []float64{1, 2, 3}, shape.Shape{3})
	clone, err := v.DetachedClone()
	if err != nil {
		t.Fatalf("DetachedClone: %v", err)
	}
	if clone.IsVariable() {
		t.Errorf("DetachedClone must not be a variable")
	}
	if SameStorage(v, clone) {
		t.Errorf("DetachedClone must not share storage with its source")
	}
	src := mustTensor(t, []float64{7, 7, 7}, shape.Shape{3})
	if err := v.Set(src); err != nil {
		t.Fatalf("Set: %v", err)
	}
	for _, got := range values(t, clone) {
		if got == 7 {
			t.Errorf("mutating v through Set must not affect its detached clone")
		}
	}
}
