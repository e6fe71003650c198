package replace

// SRRIP is the Static Re-Reference Interval Prediction policy (§4.2):
// 2-bit RRPV per way, bumped toward the maximum (3) on every way in the set
// when no way is already at the maximum. Access sets RRPV to 2 for a
// prefetch and to 0 for any other qualifying access; Invalidate sets it to
// 2. The set is not told when a way is filled, so a demand fill, whose
// first Access is a demand access, is inserted at 0, not 2. Tie-break among
// maximal-RRPV ways is ascending way index.
type SRRIP struct {
	emptyFirst, demandOnly bool
}

// NewSRRIP constructs an SRRIP policy factory.
func NewSRRIP(emptyFirst, demandOnly bool) *SRRIP { return &SRRIP{emptyFirst, demandOnly} }

func (p *SRRIP) Name() string { return "SRRIP" }

func (p *SRRIP) NewSet(ways int) Set {
	s := &srripSet{
		common: common{emptyFirst: p.emptyFirst, demandOnly: p.demandOnly},
		rrpv:   make([]uint8, ways),
	}
	for i := range s.rrpv {
		s.rrpv[i] = maxRRPV
	}
	return s
}

const maxRRPV uint8 = 3
const installRRPV uint8 = 2

type srripSet struct {
	common
	rrpv []uint8
}

func (s *srripSet) Replace(valid, busy []bool) int {
	s.lock()
	defer s.unlock()
	if s.emptyFirst {
		if w := pickFree(valid, busy); w >= 0 {
			return w
		}
	}
	for {
		for i := range valid {
			if valid[i] && !busy[i] && s.rrpv[i] == maxRRPV {
				return i
			}
		}
		bumped := false
		for i := range valid {
			if valid[i] && !busy[i] && s.rrpv[i] < maxRRPV {
				s.rrpv[i]++
				bumped = true
			}
		}
		if !bumped {
			// every candidate way is busy; caller must retry later.
			return -1
		}
	}
}

func (s *srripSet) Access(way int, isDemand, isPrefetch bool) {
	s.lock()
	defer s.unlock()
	if isPrefetch {
		s.rrpv[way] = installRRPV
		return
	}
	if isDemand || !s.demandOnly {
		s.rrpv[way] = 0
	}
}

func (s *srripSet) Invalidate(way int) {
	s.lock()
	defer s.unlock()
	s.rrpv[way] = installRRPV
}
