// Package epoch tracks the generation bookkeeping behind a remap cycle
// (coherence/index's dynamic re-indexing, §4.9). A remap swaps one indexer
// for a freshly-seeded one while a per-partition pointer walks the sets being
// relocated; this package owns the generation identifiers and the rotation
// that happens when a remap completes, the same ring-of-generations idiom
// used elsewhere in this lineage for bounding the lifetime of a retired
// resource before it is released.
package epoch

import "sync/atomic"

// Generation identifies one indexer lifetime. Generation 0 is reserved for
// "no epoch has ever completed".
type Generation struct {
	id uint32
}

// ID returns the stable identifier for this generation.
func (g Generation) ID() uint32 { return g.id }

// Valid reports whether g was ever produced by a Ring (as opposed to the
// zero value).
func (g Generation) Valid() bool { return g.id != 0 }

// Ring hands out monotonically increasing generation ids and tracks which
// one is currently active. Unlike the lineage's byte-budgeted generation
// ring, this ring carries no memory accounting of its own: remap epochs are
// bounded by "every N evictions" (a monitor hook decision), not by bytes.
type Ring struct {
	idCtr   atomic.Uint32
	current atomic.Uint32
}

// New constructs a ring whose first generation is already active.
func New() *Ring {
	r := &Ring{}
	r.idCtr.Store(1)
	r.current.Store(1)
	return r
}

// Active returns the generation currently indexing live sets.
func (r *Ring) Active() Generation {
	return Generation{id: r.current.Load()}
}

// Rotate retires the active generation and activates a freshly minted one,
// returning it. Called once a remap's per-partition pointer has swept every
// set and the next indexer takes over as the sole indexer.
func (r *Ring) Rotate() Generation {
	next := r.idCtr.Add(1)
	r.current.Store(next)
	return Generation{id: next}
}
