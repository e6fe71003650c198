// Package array implements the cache array (§4.3): per-partition
// set-associative storage of metadata and optional data, contiguous per set,
// plus the extra "extend" ways directory-exclusive caches use for
// directory-only bookkeeping (§4.7).
//
// Tag storage is simplified relative to a bit-exact hardware model: Tag
// holds the full block-aligned address (addr with the low 6 bits cleared)
// rather than index-excluded tag bits. Hit comparison (Tag == blockAddr) is
// therefore still exact; only the bit-packing a real cache would do to save
// SRAM is skipped, which has no bearing on any §8 invariant.
package array

import (
	"fmt"
	"sync"

	"github.com/Voskan/coherentcache/coherence/gate"
	"github.com/Voskan/coherentcache/coherence/meta"
	"github.com/Voskan/coherentcache/coherence/replace"
)

// Partition is one indexed partition of a cache array (a normal
// set-associative cache has exactly one; a skewed cache has several,
// each independently indexed, §4.1).
type Partition struct {
	name        string
	sets        int
	ways        int
	extraWays   int
	voidData    bool
	multithread bool

	lines   []*meta.Directory // len == sets*ways
	extras  []*meta.Directory // len == sets*extraWays
	data    []*meta.Data      // len == sets*ways, entries nil if voidData
	gates   []*gate.SetGate   // len == sets
	locks   []*gate.LineLock  // len == sets*ways
	elocks  []*gate.LineLock  // len == sets*extraWays
	repl    []replace.Set     // len == sets

	busyMu sync.Mutex
	busy   []bool // len == sets*ways; marks a way claimed by an in-flight replace (§4.2)
}

// New constructs a partition. name identifies it in diagnostics (panics,
// lock-check violations). replPolicy builds the per-set replacement state.
func New(name string, sets, ways, extraWays int, voidData, multithread bool, replPolicy replace.Policy) *Partition {
	p := &Partition{
		name:        name,
		sets:        sets,
		ways:        ways,
		extraWays:   extraWays,
		voidData:    voidData,
		multithread: multithread,
		lines:       make([]*meta.Directory, sets*ways),
		data:        make([]*meta.Data, sets*ways),
		gates:       make([]*gate.SetGate, sets),
		locks:       make([]*gate.LineLock, sets*ways),
		repl:        make([]replace.Set, sets),
		busy:        make([]bool, sets*ways),
	}
	if extraWays > 0 {
		p.extras = make([]*meta.Directory, sets*extraWays)
		p.elocks = make([]*gate.LineLock, sets*extraWays)
	}
	for i := range p.lines {
		p.lines[i] = meta.NewDirectory()
		if !voidData {
			p.data[i] = &meta.Data{}
		}
		p.locks[i] = gate.NewLineLock(multithread, fmt.Sprintf("%s/line[%d]", name, i))
	}
	for i := range p.extras {
		p.extras[i] = meta.NewDirectory()
		p.extras[i].Extend = true
		p.elocks[i] = gate.NewLineLock(multithread, fmt.Sprintf("%s/ext[%d]", name, i))
	}
	for s := 0; s < sets; s++ {
		p.gates[s] = gate.NewSetGate(multithread)
		p.repl[s] = replPolicy.NewSet(ways)
	}
	return p
}

func (p *Partition) Name() string { return p.name }
func (p *Partition) Sets() int    { return p.sets }
func (p *Partition) Ways() int    { return p.ways }
func (p *Partition) ExtraWays() int { return p.extraWays }
func (p *Partition) VoidData() bool { return p.voidData }

func blockAddr(addr uint64) uint64 { return addr &^ 0x3F }

// Meta returns the stable metadata reference for (set, way).
func (p *Partition) Meta(set, way int) *meta.Directory { return p.lines[set*p.ways+way] }

// Data returns the stable data reference for (set, way), or nil for a
// void-data cache.
func (p *Partition) Data(set, way int) *meta.Data { return p.data[set*p.ways+way] }

// MetaExt returns the metadata reference for extended way `way` of `set`.
func (p *Partition) MetaExt(set, way int) *meta.Directory { return p.extras[set*p.extraWays+way] }

// Gate returns the priority gate guarding `set`.
func (p *Partition) Gate(set int) *gate.SetGate { return p.gates[set] }

// LineLock returns the per-line lock for (set, way).
func (p *Partition) LineLock(set, way int) *gate.LineLock { return p.locks[set*p.ways+way] }

// LineLockExt returns the per-line lock for extended way `way` of `set`.
func (p *Partition) LineLockExt(set, way int) *gate.LineLock { return p.elocks[set*p.extraWays+way] }

// Replacer returns the replacement state for `set`.
func (p *Partition) Replacer(set int) replace.Set { return p.repl[set] }

// Hit scans the normal ways of `set` for addr, returning the matching way.
func (p *Partition) Hit(set int, addr uint64) (way int, ok bool) {
	want := blockAddr(addr)
	base := set * p.ways
	for w := 0; w < p.ways; w++ {
		l := p.lines[base+w]
		if l.State != meta.Invalid && l.Tag == want {
			return w, true
		}
	}
	return 0, false
}

// HitExt scans the extended ways of `set` for addr.
func (p *Partition) HitExt(set int, addr uint64) (way int, ok bool) {
	if p.extraWays == 0 {
		return 0, false
	}
	want := blockAddr(addr)
	base := set * p.extraWays
	for w := 0; w < p.extraWays; w++ {
		l := p.extras[base+w]
		if l.State != meta.Invalid && l.Tag == want {
			return w, true
		}
	}
	return 0, false
}

// Valid reports, for each way of `set`, whether it currently holds a line —
// the shape Replace's empty-first flag needs.
func (p *Partition) Valid(set int) []bool {
	v := make([]bool, p.ways)
	base := set * p.ways
	for w := range v {
		v[w] = p.lines[base+w].State != meta.Invalid
	}
	return v
}

// BusyView reports, for each way of `set`, whether it is currently claimed
// by an in-flight replace (§4.2's "busy-way marker prevents double-selection
// within a set").
func (p *Partition) BusyView(set int) []bool {
	p.busyMu.Lock()
	defer p.busyMu.Unlock()
	v := make([]bool, p.ways)
	base := set * p.ways
	copy(v, p.busy[base:base+p.ways])
	return v
}

// MarkBusy claims (set, way) for an in-flight replace.
func (p *Partition) MarkBusy(set, way int) {
	p.busyMu.Lock()
	p.busy[set*p.ways+way] = true
	p.busyMu.Unlock()
}

// ClearBusy releases a previously claimed way once its replace completes
// (line installed or the attempt aborted).
func (p *Partition) ClearBusy(set, way int) {
	p.busyMu.Lock()
	p.busy[set*p.ways+way] = false
	p.busyMu.Unlock()
}
