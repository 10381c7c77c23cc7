package loader

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/tensorcore/tensorcore/device"
	"github.com/tensorcore/tensorcore/dtype"
	"github.com/tensorcore/tensorcore/shape"
)

func f32Bytes(vals []float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

func TestFromRawBufferDecodesF32(t *testing.T) {
	raw := f32Bytes([]float32{1, 2, 3, 4})
	tsr, err := FromRawBuffer(raw, dtype.F32, shape.Shape{2, 2}, device.Cpu())
	if err != nil {
		t.Fatalf("FromRawBuffer: %v", err)
	}
	if tsr.IsVariable() {
		t.Errorf("a raw-loaded tensor must not default to being a trainable variable")
	}
	if !tsr.Shape().Equal(shape.Shape{2, 2}) {
		t.Errorf("got shape %v", tsr.Shape())
	}
	buf, err := tsr.Storage().RequireCPU("test")
	if err != nil {
		t.Fatalf("RequireCPU: %v", err)
	}
	pos := shape.Positions(tsr.Layout())
	want := []float64{1, 2, 3, 4}
	for i, p := range pos {
		if buf.At(p) != want[i] {
			t.Errorf("elem %d: got %v want %v", i, buf.At(p), want[i])
		}
	}
}

func TestFromRawBufferRejectsLengthMismatch(t *testing.T) {
	raw := f32Bytes([]float32{1, 2, 3})
	if _, err := FromRawBuffer(raw, dtype.F32, shape.Shape{2, 2}, device.Cpu()); err == nil {
		t.Errorf("expected a length mismatch error")
	}
}

func TestFromRawBufferRejectsNonCPUDevice(t *testing.T) {
	raw := f32Bytes([]float32{1, 2})
	if _, err := FromRawBuffer(raw, dtype.F32, shape.Shape{2}, device.Cuda(0)); err == nil {
		t.Errorf("expected a backend error for a non-cpu destination")
	}
}

func TestFromRawBufferHandlesMisalignedInput(t *testing.T) {
	raw := f32Bytes([]float32{1, 2, 3, 4})
	// Shift the buffer by one byte so its backing address is very likely
	// to land on an odd address relative to a 4-byte element.
	padded := append([]byte{0}, raw...)
	tsr, err := FromRawBuffer(padded[1:], dtype.F32, shape.Shape{4}, device.Cpu())
	if err != nil {
		t.Fatalf("FromRawBuffer: %v", err)
	}
	buf, err := tsr.Storage().RequireCPU("test")
	if err != nil {
		t.Fatalf("RequireCPU: %v", err)
	}
	pos := shape.Positions(tsr.Layout())
	want := []float64{1, 2, 3, 4}
	for i, p := range pos {
		if buf.At(p) != want[i] {
			t.Errorf("elem %d: got %v want %v", i, buf.At(p), want[i])
		}
	}
}
