package tensor

import (
	"testing"

	"github.com/tensorcore/tensorcore/shape"
)

func TestConv1D(t *testing.T) {
	// arg: batch=1, cIn=1, length=4; kernel: cOut=1, cIn=1, k=2.
	x := mustTensor(t, []float64{1, 2, 3, 4}, shape.Shape{1, 1, 4})
	k := mustTensor(t, []float64{1, 1}, shape.Shape{1, 1, 2})
	out, err := x.Conv1D(k, 1, 0)
	if err != nil {
		t.Fatalf("Conv1D: %v", err)
	}
	want := []float64{3, 5, 7}
	got := values(t, out)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("elem %d: got %v want %v", i, got[i], want[i])
		}
	}
}

func TestConv2DIdentityKernel(t *testing.T) {
	x := mustTensor(t, []float64{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	}, shape.Shape{1, 1, 3, 3})
	k := mustTensor(t, []float64{1}, shape.Shape{1, 1, 1, 1})
	out, err := x.Conv2D(k, 1, 0)
	if err != nil {
		t.Fatalf("Conv2D: %v", err)
	}
	got := values(t, out)
	want := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("elem %d: got %v want %v", i, got[i], want[i])
		}
	}
}

func TestPool2D(t *testing.T) {
	x := mustTensor(t, []float64{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
		13, 14, 15, 16,
	}, shape.Shape{1, 1, 4, 4})
	avg, err := x.AvgPool2D(2, 2, 2, 2)
	if err != nil {
		t.Fatalf("AvgPool2D: %v", err)
	}
	wantAvg := []float64{3.5, 5.5, 11.5, 13.5}
	got := values(t, avg)
	for i := range wantAvg {
		if got[i] != wantAvg[i] {
			t.Errorf("avg elem %d: got %v want %v", i, got[i], wantAvg[i])
		}
	}

	mx, err := x.MaxPool2D(2, 2, 2, 2)
	if err != nil {
		t.Fatalf("MaxPool2D: %v", err)
	}
	wantMax := []float64{6, 8, 14, 16}
	got = values(t, mx)
	for i := range wantMax {
		if got[i] != wantMax[i] {
			t.Errorf("max elem %d: got %v want %v", i, got[i], wantMax[i])
		}
	}
}

func TestUpsampleNearest2D(t *testing.T) {
	x := mustTensor(t, []float64{1, 2, 3, 4}, shape.Shape{1, 1, 2, 2})
	out, err := x.UpsampleNearest2D(4, 4)
	if err != nil {
		t.Fatalf("UpsampleNearest2D: %v", err)
	}
	if !out.Shape().Equal(shape.Shape{1, 1, 4, 4}) {
		t.Fatalf("got shape %v", out.Shape())
	}
	got := values(t, out)
	want := []float64{
		1, 1, 2, 2,
		1, 1, 2, 2,
		3, 3, 4, 4,
		3, 3, 4, 4,
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("elem %d: got %v want %v", i, got[i], want[i])
		}
	}
}

func TestConv1DRecordsOpForVariable(t *testing.T) {
	x := variable(t, []float64{1, 2, 3, 4}, shape.Shape{1, 1, 4})
	k := mustTensor(t, []float64{1, 1}, shape.Shape{1, 1, 2})
	out, err := x.Conv1D(k, 1, 0)
	if err != nil {
		t.Fatalf("Conv1D: %v", err)
	}
	if _, ok := out.Op().(OpConv1D); !ok {
		t.Errorf("expected a recorded OpConv1D tape entry when the input is a variable")
	}
}
