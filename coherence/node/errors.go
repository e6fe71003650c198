package node

import "fmt"

// ConfigError reports a structural misconfiguration caught at construction
// or Connect time (§7): incompatible port wiring, a child count exceeding
// meta.MaxSharers, or a size mismatch between connected levels.
type ConfigError struct {
	Node   string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("coherence: config error in %q: %s", e.Node, e.Reason)
}

// InvariantError reports a runtime invariant violation (§7): a dirty line
// evicted without writeback, a probe response claiming pending-writeback
// from a clean line, or a release into an exclusive cache with peer
// sharers still present. No engine path in this module panics with an
// InvariantError: the invariant panics raised by coherence/port and
// coherence/mirage carry a formatted string naming the cache, the address
// and the violated invariant.
type InvariantError struct {
	Node      string
	Invariant string
	Addr      uint64
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("coherence: invariant violated in %q at addr=%#x: %s", e.Node, e.Addr, e.Invariant)
}

// ErrNotImplemented is returned by CoreInterface.WritebackInvalidate, which
// the distilled spec requires to exist for interface symmetry but never
// actually perform an invalidating writeback at any level (§7, §9).
var ErrNotImplemented = fmt.Errorf("coherence: WritebackInvalidate is not implemented at this level")
