// Package port implements the inner-port algorithms (§4.5, §4.6): acquire,
// writeback/release, probe and finish, plus eviction and flush, wired
// through the same four-method interface in both directions — a cache's
// parent and its children are both just a Port from its point of view.
package port

import (
	"github.com/Voskan/coherentcache/coherence/meta"
	"github.com/Voskan/coherentcache/coherence/policy"
)

// Port is implemented by everything an Engine can address as a neighbor:
// the parent cache (or terminal memory), and every inner child cache. A
// core-facing driver call is just AcquireResp with RequesterID == -1 (§4.5
// step 4, "uncached requester").
type Port interface {
	// AcquireResp grants cmd for addr, returning the line's data and the
	// command actually used to grant it (its Action may differ from the
	// request, e.g. a read request satisfied by a cache already in M).
	AcquireResp(cmd policy.Cmd, addr uint64) (*meta.Data, policy.Cmd)
	// WritebackResp applies a child's release or writeback into this port.
	WritebackResp(cmd policy.Cmd, addr uint64, data *meta.Data)
	// ProbeResp asks this port to act on cmd (downgrade or invalidate) for
	// addr, reporting whether it held the line and whether it carried dirty
	// data that must be written back.
	ProbeResp(cmd policy.Cmd, addr uint64) (hit, writeback bool, data *meta.Data)
	// FinishResp acknowledges a previously granted acquire, releasing the
	// line lock this port's engine took on its behalf.
	FinishResp(cmd policy.Cmd, addr uint64)
}
