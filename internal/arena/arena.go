//go:build goexperiment.arenas
// +build goexperiment.arenas

// Package arena wraps Go 1.24's standard `arena` experimental package and
// hides its verbose low‑level API behind a tiny, stable surface. It backs the
// fixed-size metadata/data buffer pools (coherence/gate) used to stage
// evictions, swaps, and speculative fetches without holding a line slot. We
// expose only the primitives required:
//   • `New()` – construct an arena.
//   • `Free()` – release all memory at once (O(1)).
//   • `NewValue[T]()` – allocate a single value of type T.
//   • `MakeSlice[T]()` – allocate a slice of T with length==cap.
//
// The wrapper is intentionally minimal: **no pooling, no stats, no GC hooks** –
// such concerns belong to the buffer pool above it. Keeping it thin also
// simplifies future migration should the upstream `arena` API change.
//
// Concurrency
// -----------
// arena.Arena is *not* thread‑safe; the owning buffer pool already serialises
// access with a mutex. Therefore we do not add any locking here.
//
// ⚠️  DISCLAIMER  ----------------------------------------------
// Using arenas bypasses the garbage collector; ensure objects allocated inside
// never escape to the heap **after** Free() is called. A pool buffer must be
// returned before the arena backing it is freed.
// -------------------------------------------------------------

package arena

import (
	"arena" // standard library experimental package
	"unsafe"
)

// Arena is a thin new‑type wrapper that prevents external packages from
// directly depending on `arena.Arena`, giving us the freedom to switch to a
// different allocator if needed.

type Arena struct{ ar arena.Arena }

// New constructs an empty arena ready for allocations.
func New() *Arena {
	return &Arena{ar: *arena.NewArena()}
}

// Free releases **all** memory allocated in the arena.  After the call, any
// pointer previously returned from New/MakeSlice becomes invalid.
func (a *Arena) Free() {
	a.ar.Free()
}

// NewValue allocates zero‑initialised T inside the arena and returns a pointer to it.
// The pointer is valid until Free() on the arena.
func NewValue[T any](a *Arena) *T { return arena.New[T](&a.ar) }

// MakeSlice allocates a slice of length==cap==n inside the arena and returns
// it.  The backing array is owned by the arena and will be released on Free().
func MakeSlice[T any](a *Arena, n int) []T { return arena.MakeSlice[T](&a.ar, n, n) }

// AllocBytes copies buf into the arena and returns a reference to the new
// memory.  Convenience helper used when we need an immutable grain inside the
// cache.
func AllocBytes(a *Arena, buf []byte) []byte {
	dst := arena.MakeSlice[byte](&a.ar, len(buf), len(buf))
	copy(dst, buf)
	return dst
}

// UnsafePointer converts an *arena-backed* pointer to unsafe.Pointer so that it
// can be stored inside cache metadata.  Usage is rare; provided for
// completeness.
func UnsafePointer[T any](p *T) unsafe.Pointer { return unsafe.Pointer(p) }
