// Package device implements the allocator/back-end selector: a small
// value type naming which compute device a Storage lives on.
package device

import "fmt"

// Kind distinguishes the two backend families a Device can select.
type Kind int

const (
	CPU Kind = iota
	CUDA
)

func (k Kind) String() string {
	if k == CUDA {
		return "cuda"
	}
	return "cpu"
}

// Device identifies where a Storage's bytes live. CUDA devices carry an
// ordinal; equality of CUDA devices compares ordinal plus context identity
// (here, the ordinal alone — there is no real CUDA context in this core,
// only its contract is named).
type Device struct {
	kind    Kind
	ordinal int
}

// Cpu returns the single CPU device.
func Cpu() Device { return Device{kind: CPU} }

// Cuda returns the device for the given ordinal.
func Cuda(ordinal int) Device { return Device{kind: CUDA, ordinal: ordinal} }

func (d Device) Kind() Kind     { return d.kind }
func (d Device) Ordinal() int   { return d.ordinal }
func (d Device) IsCPU() bool    { return d.kind == CPU }
func (d Device) IsCUDA() bool   { return d.kind == CUDA }

// Equal compares devices by kind, and additionally by ordinal for CUDA.
func (d Device) Equal(o Device) bool {
	if d.kind != o.kind {
		return false
	}
	if d.kind == CUDA {
		return d.ordinal == o.ordinal
	}
	return true
}

func (d Device) String() string {
	if d.kind == CUDA {
		return fmt.Sprintf("cuda:%d", d.ordinal)
	}
	return "cpu"
}
