package index

import (
	"errors"

	"github.com/Voskan/coherentcache/internal/epoch"
)

// ErrRemapUnsupportedMultithread is returned by Remapper.Begin when the
// owning cache is multithreaded — the distilled spec marks "remap in
// multithread" explicitly unsupported (§9 Open Questions) until
// single-threaded remap stabilizes.
var ErrRemapUnsupportedMultithread = errors.New("index: dynamic remap is not supported under multithread")

// Remapper implements §4.9's dynamic re-indexing: while a remap is active,
// lookups consult both the old and the new indexer, keyed by a per-partition
// pointer that advances as lines are relocated. On completion the new
// indexer becomes current and the next seed is generated.
type Remapper struct {
	multithread bool
	ring        *epoch.Ring

	current *Skewed
	next    *Skewed
	// pointer[p] is the set boundary for partition p: sets >= pointer use
	// `current`, sets < pointer have already been relocated into `next`.
	pointer []uint32
	active  bool
	sets    uint32
}

// NewRemapper wraps base as the initially-active indexer. sets is the
// per-partition set count (2^IW), used to size the remap pointer.
func NewRemapper(base *Skewed, sets uint32, multithread bool) *Remapper {
	return &Remapper{
		multithread: multithread,
		ring:        epoch.New(),
		current:     base,
		pointer:     make([]uint32, base.Partitions()),
		sets:        sets,
	}
}

// Begin starts a remap epoch with a freshly-seeded indexer. Returns
// ErrRemapUnsupportedMultithread if the cache is multithreaded.
func (r *Remapper) Begin() error {
	if r.multithread {
		return ErrRemapUnsupportedMultithread
	}
	r.next = NewSkewed(int(log2(r.sets)), r.current.Partitions())
	for i := range r.pointer {
		r.pointer[i] = 0
	}
	r.active = true
	return nil
}

// Active reports whether a remap epoch is currently in progress.
func (r *Remapper) Active() bool { return r.active }

// Lookup returns the set index for partition p, choosing the old indexer
// for sets not yet relocated (set >= pointer[p]) and the new indexer
// otherwise, per §4.9's "two lookups per partition" rule. When no remap is
// active it simply delegates to the current indexer.
func (r *Remapper) Lookup(addr uint64, p int) uint32 {
	var idx [1]uint32
	if !r.active {
		r.indexOne(r.current, addr, p, idx[:])
		return idx[0]
	}
	r.indexOne(r.current, addr, p, idx[:])
	set := idx[0]
	if set >= r.pointer[p] {
		return set
	}
	r.indexOne(r.next, addr, p, idx[:])
	return idx[0]
}

func (r *Remapper) indexOne(s *Skewed, addr uint64, p int, out []uint32) {
	full := make([]uint32, s.Partitions())
	s.Index(addr, full)
	out[0] = full[p]
}

// Advance moves partition p's remap pointer to the next set, called as each
// set finishes relocating its lines into the new indexer's position.
func (r *Remapper) Advance(p int) {
	if r.pointer[p] < r.sets {
		r.pointer[p]++
	}
}

// Done reports whether every partition has fully relocated.
func (r *Remapper) Done() bool {
	for _, p := range r.pointer {
		if p < r.sets {
			return false
		}
	}
	return true
}

// Complete rotates the new indexer into place and generates the next
// epoch's id, per §4.9 "indexers rotate and the next seed is generated".
func (r *Remapper) Complete() epoch.Generation {
	r.current = r.next
	r.next = nil
	r.active = false
	return r.ring.Rotate()
}

func log2(n uint32) uint32 {
	var l uint32
	for n > 1 {
		n >>= 1
		l++
	}
	return l
}
