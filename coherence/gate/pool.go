package gate

import (
	"fmt"
	"sync"

	"github.com/Voskan/coherentcache/internal/arena"
)

// Pool is the fixed-count buffer pool (§3 "Buffer pools"): a small set of
// pre-allocated T values used to stage evictions, swaps, and speculative
// fetches without holding a real line slot. Backed by internal/arena, which
// allocates from a real arena when built with GOEXPERIMENT=arenas and from
// the ordinary GC heap otherwise. Acquire blocks under multithread when the pool is empty; under
// single-threaded mode it panics immediately (§7 "Pool exhaustion").
type Pool[T any] struct {
	mu          sync.Mutex
	cond        *sync.Cond
	free        []*T
	ar          *arena.Arena
	multithread bool
}

// NewPool constructs a pool of n pre-allocated buffers. n is clamped to a
// minimum of 2, matching §3's "a small fixed count (>=2)".
func NewPool[T any](n int, multithread bool) *Pool[T] {
	if n < 2 {
		n = 2
	}
	ar := arena.New()
	p := &Pool[T]{ar: ar, multithread: multithread, free: make([]*T, 0, n)}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < n; i++ {
		p.free = append(p.free, arena.NewValue[T](ar))
	}
	return p
}

// Acquire removes and returns a buffer from the pool.
func (p *Pool[T]) Acquire() *T {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.free) == 0 {
		if !p.multithread {
			panic(fmt.Sprintf("gate: buffer pool exhausted (%T) — insufficient MSHR depth for the workload", *new(T)))
		}
		p.cond.Wait()
	}
	n := len(p.free) - 1
	v := p.free[n]
	p.free = p.free[:n]
	return v
}

// Release returns a buffer to the pool and wakes one waiter, if any.
func (p *Pool[T]) Release(v *T) {
	p.mu.Lock()
	p.free = append(p.free, v)
	p.mu.Unlock()
	p.cond.Signal()
}

// Len reports the number of buffers currently free (diagnostics only).
func (p *Pool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
