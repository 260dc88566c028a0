package structure

import "unsafe"

// Alignment is the byte boundary every weight, bias and scratch buffer starts on.
// 32 bytes is one AVX register.
const Alignment = 32

// AlignedFloat32 allocates n zeroed float32 values whose first element sits on an
// Alignment boundary. The backing array is over-allocated by Alignment-1 bytes and
// kept alive by the returned slice, so the GC releases it exactly once.
func AlignedFloat32(n int) []float32 {
	if n <= 0 {
		return nil
	}
	buf := make([]byte, n*4+Alignment-1)
	addr := uintptr(unsafe.Pointer(&buf[0]))
	offset := (Alignment - addr&(Alignment-1)) & (Alignment - 1)
	return unsafe.Slice((*float32)(unsafe.Pointer(&buf[offset])), n)
}

// AlignedCopy returns an aligned copy of src.
func AlignedCopy(src []float32) []float32 {
	dst := AlignedFloat32(len(src))
	copy(dst, src)
	return dst
}

// IsAligned reports whether the first element of s sits on an Alignment boundary.
// Empty slices are trivially aligned.
func IsAligned(s []float32) bool {
	if len(s) == 0 {
		return true
	}
	return uintptr(unsafe.Pointer(&s[0]))%Alignment == 0
}
