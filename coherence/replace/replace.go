// Package replace implements the per-set replacement policies (§4.2): FIFO,
// LRU, SRRIP and Random, each with the empty-first and demand-update-only
// flags, and the busy-way marker that keeps a concurrent replace from
// selecting a way another in-flight transaction already claimed.
package replace

import "sync"

// Set is one set's replacement state. Replace/Access/Invalidate are called
// with the set's mutex already held by the caller's gate.SetGate at the
// appropriate priority — Lock/Unlock here guard the age structure itself
// against concurrent replacement-policy bookkeeping specifically (§4.2 "a
// per-set mutex protects the age structure"), which is a narrower critical
// section than the whole-set transaction gate.
type Set interface {
	// Replace chooses a victim way given which ways currently hold valid
	// lines (valid[i] == true) and which are marked busy by a concurrent
	// in-flight replace (busy[i] == true, never re-selected).
	Replace(valid, busy []bool) int
	// Access records a hit/fetch on way, promoting its age unless
	// demand-update-only is set and this access is not a demand access.
	Access(way int, isDemand, isPrefetch bool)
	// Invalidate resets way's age bookkeeping (line evicted or invalidated).
	Invalidate(way int)
}

// Policy constructs per-set replacement state for a given way count.
type Policy interface {
	NewSet(ways int) Set
	Name() string
}

// common holds the two orthogonal flags and the mutex shared by every
// concrete policy.
type common struct {
	mu           sync.Mutex
	emptyFirst   bool
	demandOnly   bool
}

func (c *common) lock()   { c.mu.Lock() }
func (c *common) unlock() { c.mu.Unlock() }

// pickFree returns the lowest-indexed way with valid[i]==false and
// busy[i]==false, or -1 if none (used by every policy's empty-first path).
func pickFree(valid, busy []bool) int {
	for i := range valid {
		if !valid[i] && !busy[i] {
			return i
		}
	}
	return -1
}
