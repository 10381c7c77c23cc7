// Package cpuinfo probes host SIMD capability to gate the contiguous fast
// path in the binary CPU kernel, using golang.org/x/sys/cpu instead of
// build-tag assembly.
package cpuinfo

import "golang.org/x/sys/cpu"

// HasFastVector reports whether the host exposes a wide SIMD unit worth
// batching contiguous float kernels over. It is advisory only: kernels
// must produce identical results whether or not this is true, since
// bitwise reproducibility across thread counts or vector widths was
// never guaranteed in the first place.
func HasFastVector() bool {
	switch {
	case cpu.X86.HasAVX2, cpu.X86.HasAVX512F:
		return true
	case cpu.ARM64.HasASIMD:
		return true
	default:
		return false
	}
}
