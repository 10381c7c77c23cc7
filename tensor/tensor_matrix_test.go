package tensor

import (
	"testing"

	"github.com/tensorcore/tensorcore/shape"
)

func TestMatmul2x2(t *testing.T) {
	a := mustTensor(t, []float64{1, 2, 3, 4}, shape.Shape{2, 2})
	b := mustTensor(t, []float64{5, 6, 7, 8}, shape.Shape{2, 2})
	out, err := a.Matmul(b)
	if err != nil {
		t.Fatalf("Matmul: %v", err)
	}
	want := []float64{19, 22, 43, 50}
	got := values(t, out)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("elem %d: got %v want %v", i, got[i], want[i])
		}
	}
}

func TestMatmulBatchBroadcast(t *testing.T) {
	a := mustTensor(t, []float64{1, 0, 0, 1, 2, 0, 0, 2}, shape.Shape{2, 2, 2})
	b := mustTensor(t, []float64{1, 2, 3, 4}, shape.Shape{2, 2})
	out, err := a.Matmul(b)
	if err != nil {
		t.Fatalf("Matmul: %v", err)
	}
	if !out.Shape().Equal(shape.Shape{2, 2, 2}) {
		t.Fatalf("got shape %v", out.Shape())
	}
	got := values(t, out)
	want := []float64{1, 2, 3, 4, 2, 4, 6, 8}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("elem %d: got %v want %v", i, got[i], want[i])
		}
	}
}

func TestMatmulKMismatch(t *testing.T) {
	a := mustTensor(t, []float64{1, 2, 3}, shape.Shape{1, 3})
	b := mustTensor(t, []float64{1, 2}, shape.Shape{2, 1})
	if _, err := a.Matmul(b); err == nil {
		t.Errorf("expected an error for mismatched K dimension")
	}
}

func TestMatmulNonContiguousOperand(t *testing.T) {
	a := mustTensor(t, []float64{1, 2, 3, 4, 5, 6}, shape.Shape{2, 3})
	at, err := a.Transpose(0, 1)
	if err != nil {
		t.Fatalf("Transpose: %v", err)
	}
	b := mustTensor(t, []float64{1, 0, 0, 1}, shape.Shape{2, 2})
	out, err := at.Matmul(b)
	if err != nil {
		t.Fatalf("Matmul: %v", err)
	}
	want := []float64{1, 4, 2, 5, 3, 6}
	got := values(t, out)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("elem %d: got %v want %v", i, got[i], want[i])
		}
	}
}
