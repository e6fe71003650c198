package replace

// counterSet implements both FIFO and LRU via a single monotonic counter per
// way: the victim is the valid, non-busy way with the smallest counter
// value. FIFO stamps the counter once, at install time, and never again
// (insertion order). LRU restamps it on every qualifying access (recency
// order). This is the same monotonic-generation-counter idiom this module's
// remap-epoch bookkeeping (internal/epoch) uses, narrowed here to a single
// per-way integer instead of a ring of generation objects.
type counterSet struct {
	common
	promoteOnAccess bool
	next            uint64
	seq             []uint64
	installed       []bool
}

func newCounterSet(ways int, emptyFirst, demandOnly, promoteOnAccess bool) *counterSet {
	return &counterSet{
		common:          common{emptyFirst: emptyFirst, demandOnly: demandOnly},
		promoteOnAccess: promoteOnAccess,
		seq:             make([]uint64, ways),
		installed:       make([]bool, ways),
	}
}

func (s *counterSet) Replace(valid, busy []bool) int {
	s.lock()
	defer s.unlock()
	if s.emptyFirst {
		if w := pickFree(valid, busy); w >= 0 {
			return w
		}
	}
	best := -1
	for i := range valid {
		if !valid[i] || busy[i] {
			continue
		}
		if best == -1 || s.seq[i] < s.seq[best] {
			best = i
		}
	}
	return best
}

func (s *counterSet) Access(way int, isDemand, isPrefetch bool) {
	s.lock()
	defer s.unlock()
	if !s.installed[way] {
		s.next++
		s.seq[way] = s.next
		s.installed[way] = true
		return
	}
	if s.promoteOnAccess && (isDemand || !s.demandOnly) {
		s.next++
		s.seq[way] = s.next
	}
}

func (s *counterSet) Invalidate(way int) {
	s.lock()
	defer s.unlock()
	s.installed[way] = false
	s.seq[way] = 0
}

// FIFO is the insertion-order replacement policy (§4.2).
type FIFO struct {
	emptyFirst, demandOnly bool
}

// NewFIFO constructs a FIFO policy factory.
func NewFIFO(emptyFirst, demandOnly bool) *FIFO { return &FIFO{emptyFirst, demandOnly} }

func (p *FIFO) Name() string { return "FIFO" }

func (p *FIFO) NewSet(ways int) Set {
	return newCounterSet(ways, p.emptyFirst, p.demandOnly, false)
}

// LRU is the recency-order replacement policy (§4.2).
type LRU struct {
	emptyFirst, demandOnly bool
}

// NewLRU constructs an LRU policy factory.
func NewLRU(emptyFirst, demandOnly bool) *LRU { return &LRU{emptyFirst, demandOnly} }

func (p *LRU) Name() string { return "LRU" }

func (p *LRU) NewSet(ways int) Set {
	return newCounterSet(ways, p.emptyFirst, p.demandOnly, true)
}
