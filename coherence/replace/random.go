package replace

import "math/rand"

// Random is the uniform-random replacement policy (§4.2): uniform over free
// ways when empty-first applies, else uniform over all non-busy ways.
type Random struct {
	emptyFirst, demandOnly bool
	seed                   int64
}

// NewRandom constructs a Random policy factory seeded deterministically so
// boundary-scenario tests (§8) reproduce exactly.
func NewRandom(emptyFirst, demandOnly bool, seed int64) *Random {
	return &Random{emptyFirst, demandOnly, seed}
}

func (p *Random) Name() string { return "Random" }

func (p *Random) NewSet(ways int) Set {
	return &randomSet{
		common: common{emptyFirst: p.emptyFirst, demandOnly: p.demandOnly},
		rng:    rand.New(rand.NewSource(p.seed)),
	}
}

type randomSet struct {
	common
	rng *rand.Rand
}

func (s *randomSet) Replace(valid, busy []bool) int {
	s.lock()
	defer s.unlock()
	var candidates []int
	if s.emptyFirst {
		for i := range valid {
			if !valid[i] && !busy[i] {
				candidates = append(candidates, i)
			}
		}
	}
	if len(candidates) == 0 {
		for i := range valid {
			if !busy[i] {
				candidates = append(candidates, i)
			}
		}
	}
	if len(candidates) == 0 {
		return -1
	}
	return candidates[s.rng.Intn(len(candidates))]
}

func (s *randomSet) Access(way int, isDemand, isPrefetch bool) {}

func (s *randomSet) Invalidate(way int) {}
