//go:build !goexperiment.arenas

package arena

import "unsafe"

// Arena is the heap-backed fallback used when the binary is not built with
// GOEXPERIMENT=arenas. Free is a no-op; the garbage collector reclaims
// allocations normally. The type exists so coherence/gate's buffer pool
// compiles and behaves identically regardless of the experiment flag.
type Arena struct{}

// New constructs a no-op arena handle.
func New() *Arena { return &Arena{} }

// Free is a no-op on the fallback: the GC owns these allocations.
func (a *Arena) Free() {}

// NewValue allocates a zero-initialised T on the heap.
func NewValue[T any](a *Arena) *T {
	var v T
	return &v
}

// MakeSlice allocates a plain heap slice of length==cap==n.
func MakeSlice[T any](a *Arena, n int) []T { return make([]T, n) }

// AllocBytes copies buf into a freshly allocated heap slice.
func AllocBytes(a *Arena, buf []byte) []byte {
	dst := make([]byte, len(buf))
	copy(dst, buf)
	return dst
}

// UnsafePointer converts a heap pointer to unsafe.Pointer, mirroring the
// arena-backed variant's signature.
func UnsafePointer[T any](p *T) unsafe.Pointer { return unsafe.Pointer(p) }
