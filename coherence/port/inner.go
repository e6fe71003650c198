package port

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/Voskan/coherentcache/coherence/array"
	"github.com/Voskan/coherentcache/coherence/gate"
	"github.com/Voskan/coherentcache/coherence/index"
	"github.com/Voskan/coherentcache/coherence/meta"
	"github.com/Voskan/coherentcache/coherence/policy"
	"github.com/Voskan/coherentcache/monitor"
)

// Engine is one cache level's inner port: the acquire/writeback/probe/finish
// algorithms of §4.5, operating over one or more indexed partitions (§4.1)
// of a single array.Partition set. It implements Port both as seen by its
// children (inner caches or the uncached core, RequesterID == -1) and is
// itself a Port as seen by its own outer neighbor.
type Engine struct {
	Name string

	arr []*array.Partition
	idx index.Func
	rmp *index.Remapper // nil when dynamic remap is disabled for this engine
	pol policy.Policy

	outer    Port
	children []Port

	pending *gate.PendingTable
	fetch   *FetchGroup
	buffers *gate.Pool[meta.Data]
	hook    monitor.Hook
	chk     *gate.LockCheck

	multithread bool
	exclusive   bool // §4.7: this level stores a block XOR its inner hierarchy does
	direx       bool // directory-exclusive (extended ways), vs broadcast-exclusive
}

// Config bundles Engine construction parameters.
type Config struct {
	Name        string
	Partitions  []*array.Partition
	Indexer     index.Func
	Remapper    *index.Remapper
	Policy      policy.Policy
	Outer       Port
	Children    []Port
	Hook        monitor.Hook
	LockCheck   *gate.LockCheck
	MSHRDepth   int
	Multithread bool
	Exclusive   bool
	Directory   bool // only meaningful combined with Exclusive: selects directory-exclusive
}

// New constructs an Engine from cfg, defaulting Hook to monitor.Noop when
// unset.
func New(cfg Config) *Engine {
	hook := cfg.Hook
	if hook == nil {
		hook = monitor.Noop{}
	}
	return &Engine{
		Name:        cfg.Name,
		arr:         cfg.Partitions,
		idx:         cfg.Indexer,
		rmp:         cfg.Remapper,
		pol:         cfg.Policy,
		outer:       cfg.Outer,
		children:    cfg.Children,
		pending:     gate.NewPendingTable(),
		fetch:       &FetchGroup{},
		buffers:     gate.NewPool[meta.Data](cfg.MSHRDepth, cfg.Multithread),
		hook:        hook,
		chk:         cfg.LockCheck,
		multithread: cfg.Multithread,
		exclusive:   cfg.Exclusive,
		direx:       cfg.Exclusive && cfg.Directory,
	}
}

// SetOuter wires this engine's parent neighbor, set once by Connect after
// construction (a cache is built before its place in the hierarchy is known).
func (e *Engine) SetOuter(p Port) { e.outer = p }

// SetChildren wires this engine's inner children, indexed by child id —
// index i is the id a directory sharer bitmap records as bit i.
func (e *Engine) SetChildren(children []Port) { e.children = children }

// ChildCount reports how many children are currently wired.
func (e *Engine) ChildCount() int { return len(e.children) }

// locate finds the (partition, set, way) holding addr, consulting the
// remapper when a remap epoch is active (§4.9 "two lookups per partition").
func (e *Engine) locate(addr uint64) (p, set, way int, hit bool) {
	n := e.idx.Partitions()
	for pi := 0; pi < n; pi++ {
		s := e.setFor(addr, pi)
		if w, ok := e.arr[pi].Hit(s, addr); ok {
			return pi, s, w, true
		}
	}
	return 0, e.setFor(addr, 0), 0, false
}

func (e *Engine) setFor(addr uint64, partition int) int {
	if e.rmp != nil {
		return int(e.rmp.Lookup(addr, partition))
	}
	indices := make([]uint32, e.idx.Partitions())
	e.idx.Index(addr, indices)
	return int(indices[partition])
}

// AcquireResp implements §4.5's acquire (fault-in) algorithm, or the §4.7
// exclusive-cache variant when this engine was built with WithExclusive.
func (e *Engine) AcquireResp(cmd policy.Cmd, addr uint64) (*meta.Data, policy.Cmd) {
	if e.exclusive {
		return e.acquireExclusive(cmd, addr)
	}
	for {
		pi, set, way, hit := e.locate(addr)
		gt := e.arr[pi].Gate(set)
		gt.Set(gate.PriorityAcquire)

		if !hit {
			// re-check: a concurrent acquire may have installed the line
			// while we waited for the gate.
			if w, ok := e.arr[pi].Hit(set, addr); ok {
				way, hit = w, true
			}
		}

		if hit {
			m := e.arr[pi].Meta(set, way)
			lock := e.arr[pi].LineLock(set, way)
			lock.Lock(e.chk)

			if needSync, probeCmd := e.pol.AccessNeedSync(cmd, m); needSync {
				if _, wb, recalled := e.probeAll(probeCmd, addr, m); wb && recalled != nil {
					if local := e.arr[pi].Data(set, way); local != nil {
						*local = *recalled
					}
					m.SetDirty(true)
				}
			}

			if needsOuter, canSelfPromote, promoteCmd := e.pol.AccessNeedPromote(cmd, m); needsOuter {
				lock.Unlock(e.chk)
				gt.Reset(gate.PriorityAcquire)
				if e.outer != nil {
					e.outer.AcquireResp(promoteCmd, addr)
				}
				continue
			} else if canSelfPromote {
				m.ToModified(cmd.RequesterID)
			}

			data := e.arr[pi].Data(set, way)
			e.finishGrant(cmd, addr, pi, set, way, m, data)
			e.arr[pi].Replacer(set).Access(way, cmd.RequesterID >= -1, policy.IsPrefetch(cmd))
			e.hookAccess(cmd, addr, pi, set, way, true, m, data)
			return data, cmd
		}

		// Miss: choose a victim, evict if occupied, fetch from outer.
		way = e.chooseVictim(pi, set)
		if way < 0 {
			gt.Reset(gate.PriorityAcquire)
			continue // every candidate busy; retry
		}
		m := e.arr[pi].Meta(set, way)
		lock := e.arr[pi].LineLock(set, way)
		lock.Lock(e.chk)
		if m.State != meta.Invalid {
			e.evictLocked(pi, set, way)
		}

		outerCmd := e.pol.CmdForOuterAcquire(cmd)
		key := fmt.Sprintf("%d:%d:%d", addr, outerCmd.Act, pi)
		data, grantCmd := e.fetch.Fetch(key, func() (*meta.Data, policy.Cmd) {
			if e.outer == nil {
				return &meta.Data{}, outerCmd
			}
			d, c := e.outer.AcquireResp(outerCmd, addr)
			return d, c
		})

		m.Init(addr)
		e.pol.MetaAfterFetch(outerCmd, m, addr)
		local := e.arr[pi].Data(set, way)
		if local != nil && data != nil {
			*local = *data
		}
		e.arr[pi].ClearBusy(set, way)
		e.finishGrant(cmd, addr, pi, set, way, m, local)
		e.arr[pi].Replacer(set).Access(way, true, policy.IsPrefetch(cmd))
		e.hookAccess(cmd, addr, pi, set, way, false, m, local)
		_ = grantCmd
		return local, cmd
	}
}

// chooseVictim asks the replacement policy for a free or evictable way,
// marking it busy so a concurrent replace on the same set cannot select it
// too (§4.2).
func (e *Engine) chooseVictim(pi, set int) int {
	part := e.arr[pi]
	valid := part.Valid(set)
	busy := part.BusyView(set)
	way := part.Replacer(set).Replace(valid, busy)
	if way < 0 {
		return -1
	}
	part.MarkBusy(set, way)
	return way
}

// finishGrant applies MetaAfterGrant and records the pending-finish entry,
// unlocking immediately for an uncached requester.
func (e *Engine) finishGrant(cmd policy.Cmd, addr uint64, pi, set, way int, m *meta.Directory, data *meta.Data) {
	mInner := meta.NewDirectory()
	e.pol.MetaAfterGrant(cmd, m, mInner)
	gt := e.arr[pi].Gate(set)
	lock := e.arr[pi].LineLock(set, way)

	if cmd.RequesterID < 0 {
		lock.Unlock(e.chk)
		gt.Reset(gate.PriorityAcquire)
		return
	}
	e.pending.Insert(gate.PendingKey{Requester: cmd.RequesterID, Addr: addr}, gate.PendingEntry{
		Partition: pi, Set: set, Way: way, Forward: e.pol.InnerNeedRelease(),
	})
	// The line lock and set gate remain held until Finish arrives.
}

// MarkWriteDirty marks addr's line dirty following a successful
// write-acquire. Mirrors the original CoreInterfaceBase::write, which calls
// meta->to_dirty() on the line access_line just granted — AcquireResp itself
// only reports data, so the core interface calls this immediately after
// copying the written bytes in.
func (e *Engine) MarkWriteDirty(addr uint64) {
	pi, set, way, hit := e.locate(addr)
	if !hit {
		return
	}
	lock := e.arr[pi].LineLock(set, way)
	lock.Lock(e.chk)
	defer lock.Unlock(e.chk)
	e.arr[pi].Meta(set, way).SetDirty(true)
}

// FinishResp implements §4.5's finish handling.
func (e *Engine) FinishResp(cmd policy.Cmd, addr uint64) {
	key := gate.PendingKey{Requester: cmd.RequesterID, Addr: addr}
	entry, ok := e.pending.Lookup(key)
	if !ok {
		return
	}
	e.pending.Remove(key)
	lock := e.arr[entry.Partition].LineLock(entry.Set, entry.Way)
	lock.Unlock(e.chk)
	e.arr[entry.Partition].Gate(entry.Set).Reset(gate.PriorityAcquire)
	if entry.Forward && e.outer != nil {
		e.outer.FinishResp(cmd, addr)
	}
}

// WritebackResp implements §4.5's writeback/release handling.
func (e *Engine) WritebackResp(cmd policy.Cmd, addr uint64, data *meta.Data) {
	if policy.IsFlush(cmd) {
		e.flushFrom(cmd, addr)
		return
	}
	pi, set, way, hit := e.locate(addr)
	if !hit {
		if e.exclusive {
			e.writebackExclusiveMiss(cmd, addr, pi, set, data)
			return
		}
		panic(fmt.Sprintf("coherence: %s invariant violation: release for unknown line addr=%#x", e.Name, addr))
	}
	gt := e.arr[pi].Gate(set)
	gt.Set(gate.PriorityRelease)
	defer gt.Reset(gate.PriorityRelease)

	m := e.arr[pi].Meta(set, way)
	mInner := meta.NewDirectory()
	local := e.arr[pi].Data(set, way)
	if local != nil && data != nil {
		*local = *data
	}
	e.pol.MetaAfterRelease(cmd, m, mInner)
	e.hookAccess(policy.CmdForWrite(cmd.RequesterID), addr, pi, set, way, true, m, local)
}

// writebackExclusiveMiss installs a line released from an inner cache that
// this exclusive level does not itself hold (§4.7): under exclusivity a
// release is how data *arrives* at this level, so a miss here is the
// expected path rather than an invariant violation. Mirrors
// ExclusiveMSIPolicy::write_line's normal-way install: evict whatever
// occupies the chosen victim, then init and install the released line.
func (e *Engine) writebackExclusiveMiss(cmd policy.Cmd, addr uint64, pi, set int, data *meta.Data) {
	way := e.chooseVictim(pi, set)
	if way < 0 {
		return
	}
	m := e.arr[pi].Meta(set, way)
	lock := e.arr[pi].LineLock(set, way)
	lock.Lock(e.chk)
	defer lock.Unlock(e.chk)
	if m.State != meta.Invalid {
		e.evictLocked(pi, set, way)
	}
	m.Init(addr)
	mInner := meta.NewDirectory()
	local := e.arr[pi].Data(set, way)
	if local != nil && data != nil {
		*local = *data
	}
	e.pol.MetaAfterRelease(cmd, m, mInner)
	e.arr[pi].ClearBusy(set, way)
	e.hookAccess(policy.CmdForWrite(cmd.RequesterID), addr, pi, set, way, true, m, local)
}

// ProbeResp implements the snoop side of §4.5's probe algorithm, applied to
// this engine's own line (called by a parent forwarding a probe it chose to
// dispatch to us).
func (e *Engine) ProbeResp(cmd policy.Cmd, addr uint64) (hit, writeback bool, data *meta.Data) {
	pi, set, way, found := e.locate(addr)
	if !found {
		return false, false, nil
	}
	m := e.arr[pi].Meta(set, way)
	gt := e.arr[pi].Gate(set)
	gt.Set(gate.PriorityProbe)
	defer gt.Reset(gate.PriorityProbe)

	lock := e.arr[pi].LineLock(set, way)
	lock.Lock(e.chk)
	defer lock.Unlock(e.chk)

	// Forward the probe into this cache's own children first (§4.5 "probe
	// all children concurrently"), so a modified copy further down the tree
	// is recalled before we answer our parent.
	childHit, childWB, childData := e.probeChildren(cmd, addr, m)
	if childHit && childData != nil {
		data = childData
	} else {
		data = e.arr[pi].Data(set, way)
	}

	h, wb := e.pol.MetaAfterProbe(cmd, m, cmd.RequesterID)
	hit = h || childHit
	writeback = wb || childWB
	e.hookAccess(cmd, addr, pi, set, way, hit, m, data)
	if !h && !childHit {
		return hit, writeback, nil
	}
	return hit, writeback, data
}

// probeChildren fans a probe out to every qualifying child concurrently.
func (e *Engine) probeChildren(cmd policy.Cmd, addr uint64, m *meta.Directory) (anyHit, anyWriteback bool, data *meta.Data) {
	if len(e.children) == 0 {
		return false, false, nil
	}
	var g errgroup.Group
	results := make([]struct {
		hit, wb bool
		data    *meta.Data
	}, len(e.children))
	for i := range e.children {
		i := i
		if !e.pol.ProbeNeedProbe(cmd, m, int32(i)) {
			continue
		}
		g.Go(func() error {
			h, wb, d := e.children[i].ProbeResp(cmd, addr)
			results[i] = struct {
				hit, wb bool
				data    *meta.Data
			}{h, wb, d}
			return nil
		})
	}
	_ = g.Wait()
	for _, r := range results {
		if r.hit {
			anyHit = true
			if r.data != nil {
				data = r.data
			}
		}
		if r.wb {
			anyWriteback = true
		}
	}
	return anyHit, anyWriteback, data
}

// probeAll forwards a probe to every qualifying child and returns whatever
// dirty data comes back, so callers can absorb it into their own line before
// forwarding to their own outer or returning to a requester — mirroring how
// the original's probe_resp mutates the caller's CMDataBase* in place.
func (e *Engine) probeAll(cmd policy.Cmd, addr uint64, m *meta.Directory) (anyHit, anyWriteback bool, data *meta.Data) {
	return e.probeChildren(cmd, addr, m)
}

// evictLocked implements §4.6's eviction algorithm on an already-locked line.
func (e *Engine) evictLocked(pi, set, way int) {
	m := e.arr[pi].Meta(set, way)
	data := e.arr[pi].Data(set, way)

	if e.pol.WritebackNeedSync(m) {
		if _, wb, recalled := e.probeAll(policy.CmdForProbeRelease(-1), m.Tag, m); wb && recalled != nil {
			if data != nil {
				*data = *recalled
			}
			m.SetDirty(true)
		}
	}
	if e.pol.WritebackNeedWriteback(m) && e.outer != nil {
		e.outer.WritebackResp(policy.CmdForReleaseWriteback(-1), m.Tag, data)
	}
	e.pol.MetaAfterEvict(m)
	e.arr[pi].Replacer(set).Invalidate(way)
	e.hookAccess(policy.CmdForEvict(), m.Tag, pi, set, way, true, m, data)
}

// flushFrom implements §4.5's flush handling. Once this level has dealt
// with its own copy (hit or miss), the same flush command is passed to the
// outer level, so it continues outward until memory ignores it.
func (e *Engine) flushFrom(cmd policy.Cmd, addr uint64) {
	defer func() {
		if e.outer != nil {
			e.outer.WritebackResp(cmd, addr, nil)
		}
	}()
	pi, set, way, hit := e.locate(addr)
	if !hit {
		return
	}
	gt := e.arr[pi].Gate(set)
	gt.Set(gate.PriorityFlush)
	defer gt.Reset(gate.PriorityFlush)

	m := e.arr[pi].Meta(set, way)
	lock := e.arr[pi].LineLock(set, way)
	lock.Lock(e.chk)
	defer lock.Unlock(e.chk)

	data := e.arr[pi].Data(set, way)
	if e.pol.FlushNeedSync(cmd, m) {
		probeCmd := policy.CmdForProbeRelease(-1)
		if policy.IsWriteback(cmd) {
			probeCmd = policy.CmdForProbeDowngrade(-1)
		}
		if _, wb, recalled := e.probeAll(probeCmd, addr, m); wb && recalled != nil {
			if data != nil {
				*data = *recalled
			}
			m.SetDirty(true)
		}
	}
	if m.Dirty && e.outer != nil {
		e.outer.WritebackResp(policy.CmdForReleaseWriteback(-1), addr, data)
	}
	e.pol.MetaAfterFlush(cmd, m)
	e.arr[pi].Replacer(set).Invalidate(way)
	e.hookAccess(cmd, addr, pi, set, way, true, m, data)
}

// Flush drops addr from this level, everything below it, and every level
// above it (clflush-like). flushFrom reads this engine's own data/dirty state (syncing children and
// forwarding real bytes to outer when dirty) before any bypass would matter,
// matching CoreInterfaceBase::flush's unconditional flush_line call.
func (e *Engine) Flush(addr uint64) {
	e.flushFrom(policy.CmdForFlush(-1), addr)
}

// Writeback writes back dirty data for addr but keeps it shared (clwb-like).
func (e *Engine) Writeback(addr uint64) {
	e.flushFrom(policy.CmdForWritebackFlush(-1), addr)
}

// FlushCache iterates every valid line in every partition and flushes it.
func (e *Engine) FlushCache() {
	for pi, part := range e.arr {
		for s := 0; s < part.Sets(); s++ {
			for w := 0; w < part.Ways(); w++ {
				m := part.Meta(s, w)
				if m.State == meta.Invalid {
					continue
				}
				addr := m.Tag
				e.flushFrom(policy.CmdForFlush(-1), addr)
				_ = pi
			}
		}
	}
}

func (e *Engine) hookAccess(cmd policy.Cmd, addr uint64, pi, set, way int, hit bool, m *meta.Directory, data *meta.Data) {
	view := monitor.View{State: m.State, Dirty: m.Dirty, Tag: m.Tag}
	var bytes []byte
	if data != nil {
		bytes = data.Bytes()
	}
	rank := -1
	switch {
	case policy.IsProbe(cmd) || policy.IsFlush(cmd) || cmd.Act == policy.Evict:
		e.hook.OnInvalid(e.Name, addr, uint32(pi), uint32(set), uint32(way), rank, hit, view, bytes)
	case policy.IsFetchWrite(cmd) || policy.IsWriteback(cmd):
		e.hook.OnWrite(e.Name, addr, uint32(pi), uint32(set), uint32(way), rank, hit, view, bytes)
	default:
		e.hook.OnRead(e.Name, addr, uint32(pi), uint32(set), uint32(way), rank, hit, view, bytes)
	}
}
