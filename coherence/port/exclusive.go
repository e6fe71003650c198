package port

import (
	"github.com/Voskan/coherentcache/coherence/gate"
	"github.com/Voskan/coherentcache/coherence/meta"
	"github.com/Voskan/coherentcache/coherence/policy"
)

// acquireExclusive implements §4.7: a line is present at exactly one of
// this level, its inner hierarchy, or neither — never both.
func (e *Engine) acquireExclusive(cmd policy.Cmd, addr uint64) (*meta.Data, policy.Cmd) {
	if e.direx {
		return e.acquireDirectoryExclusive(cmd, addr)
	}
	return e.acquireBroadcastExclusive(cmd, addr)
}

// acquireBroadcastExclusive: fetch into a buffer, probe peers, and only
// install a real way when no peer already held the block and the requester
// itself is uncached (a core, not an inner cache) — otherwise the fetched
// buffer is handed straight to the requester and this level stays empty for
// that address, preserving the "stored here XOR stored below" invariant.
func (e *Engine) acquireBroadcastExclusive(cmd policy.Cmd, addr uint64) (*meta.Data, policy.Cmd) {
	pi, set, way, hit := e.locate(addr)
	if hit {
		// A prior probe-miss path can still find the line resident here
		// (installed for an earlier uncached requester); fall back to the
		// ordinary inclusive-style grant for that case.
		m := e.arr[pi].Meta(set, way)
		lock := e.arr[pi].LineLock(set, way)
		lock.Lock(e.chk)
		data := e.arr[pi].Data(set, way)
		e.finishGrant(cmd, addr, pi, set, way, m, data)
		return data, cmd
	}

	buf := e.buffers.Acquire()
	outerCmd := e.pol.CmdForOuterAcquire(cmd)
	if e.outer != nil {
		d, _ := e.outer.AcquireResp(outerCmd, addr)
		if d != nil {
			*buf = *d
		}
	}

	scratch := meta.NewDirectory()
	scratch.Init(addr)
	peerHit, _, peerData := e.probeAll(translateExclusiveProbe(cmd), addr, scratch)
	if peerData != nil {
		*buf = *peerData
	}

	if !peerHit && cmd.RequesterID < 0 {
		way = e.chooseVictim(pi, set)
		if way >= 0 {
			m := e.arr[pi].Meta(set, way)
			lock := e.arr[pi].LineLock(set, way)
			lock.Lock(e.chk)
			if m.State != meta.Invalid {
				e.evictLocked(pi, set, way)
			}
			m.Init(addr)
			e.pol.MetaAfterFetch(outerCmd, m, addr)
			local := e.arr[pi].Data(set, way)
			if local != nil {
				*local = *buf
			}
			e.arr[pi].ClearBusy(set, way)
			e.finishGrant(cmd, addr, pi, set, way, m, local)
			e.buffers.Release(buf)
			return local, cmd
		}
	}

	// Pass the buffered line straight to the requester; it migrates into
	// the inner hierarchy instead of occupying a way here.
	if cmd.RequesterID >= 0 {
		e.pending.Insert(gate.PendingKey{Requester: cmd.RequesterID, Addr: addr}, gate.PendingEntry{Partition: -1})
	}
	return buf, cmd
}

func translateExclusiveProbe(cmd policy.Cmd) policy.Cmd {
	if policy.IsFetchWrite(cmd) {
		return policy.CmdForProbeRelease(cmd.RequesterID)
	}
	return policy.CmdForProbeDowngrade(cmd.RequesterID)
}

// acquireDirectoryExclusive implements the DW-extended-way variant: normal
// ways hold data, extended ways hold directory-only bookkeeping. A hit in a
// normal way migrates the data into an extended way (writing back dirty
// data first) so the requester's inner cache becomes the sole data holder;
// a hit in an extended way re-fetches (or borrows via probe) the block.
func (e *Engine) acquireDirectoryExclusive(cmd policy.Cmd, addr uint64) (*meta.Data, policy.Cmd) {
	const pi = 0
	part := e.arr[pi]
	set := e.setFor(addr, pi)

	if way, ok := part.Hit(set, addr); ok {
		if cmd.RequesterID >= 0 {
			m := part.Meta(set, way)
			data := part.Data(set, way)
			lock := part.LineLock(set, way)
			lock.Lock(e.chk)
			if m.Dirty && e.outer != nil {
				e.outer.WritebackResp(policy.CmdForReleaseWriteback(-1), addr, data)
			}
			extWay := e.chooseExtendedWay(set)
			if extWay >= 0 {
				elock := part.LineLockExt(set, extWay)
				elock.Lock(e.chk)
				em := part.MetaExt(set, extWay)
				em.Init(addr)
				em.ToModified(cmd.RequesterID)
				elock.Unlock(e.chk)
			}
			m.ToInvalid()
			part.Replacer(set).Invalidate(way)
			lock.Unlock(e.chk)
			return data, cmd
		}
	}

	if extWay, ok := part.HitExt(set, addr); ok {
		em := part.MetaExt(set, extWay)
		elock := part.LineLockExt(set, extWay)
		elock.Lock(e.chk)
		defer elock.Unlock(e.chk)

		_, wb, peerData := e.probeAll(translateExclusiveProbe(cmd), addr, em)
		outerCmd := e.pol.CmdForOuterAcquire(cmd)
		buf := e.buffers.Acquire()
		defer e.buffers.Release(buf)
		if e.outer != nil {
			d, _ := e.outer.AcquireResp(outerCmd, addr)
			if d != nil {
				*buf = *d
			}
		}
		if wb && peerData != nil {
			*buf = *peerData
		}
		em.ToModified(cmd.RequesterID)
		return buf, cmd
	}

	// Neither a normal nor extended way holds addr: ordinary miss into a
	// normal data-bearing way.
	way := e.chooseVictim(pi, set)
	if way < 0 {
		return &meta.Data{}, cmd
	}
	m := part.Meta(set, way)
	lock := part.LineLock(set, way)
	lock.Lock(e.chk)
	if m.State != meta.Invalid {
		e.evictLocked(pi, set, way)
	}
	outerCmd := e.pol.CmdForOuterAcquire(cmd)
	data, _ := func() (*meta.Data, policy.Cmd) {
		if e.outer == nil {
			return &meta.Data{}, outerCmd
		}
		return e.outer.AcquireResp(outerCmd, addr)
	}()
	m.Init(addr)
	e.pol.MetaAfterFetch(outerCmd, m, addr)
	local := part.Data(set, way)
	if local != nil && data != nil {
		*local = *data
	}
	part.ClearBusy(set, way)
	e.finishGrant(cmd, addr, pi, set, way, m, local)
	return local, cmd
}

// chooseExtendedWay picks a free extended way in set, evicting the entry in
// extended way 0 if all are occupied — extended ways carry
// no data, so eviction here is a pure directory invalidation.
func (e *Engine) chooseExtendedWay(set int) int {
	part := e.arr[0]
	for w := 0; w < part.ExtraWays(); w++ {
		if part.MetaExt(set, w).State == meta.Invalid {
			return w
		}
	}
	if part.ExtraWays() == 0 {
		return -1
	}
	victim := 0
	part.MetaExt(set, victim).ToInvalid()
	return victim
}
