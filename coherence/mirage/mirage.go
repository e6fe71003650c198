// Package mirage implements the MIRAGE-style data-indirected skewed cache
// (§4.8): metadata and data live in separate arrays, a metadata entry
// carries a pointer to its data slot, and a data slot back-points to its
// owning metadata entry. Allocation first tries to relocate an occupying
// metadata entry cuckoo-style across partitions (up to MaxRelocN hops)
// before falling back to an ordinary eviction, and separately picks a data
// slot at random, evicting whatever metadata previously pointed at it.
// Grounded on original_source/cache/mirage.hpp's MirageCache/replace/
// cuckoo_search/cuckoo_relocate, restructured around this module's
// array.Partition/gate/policy substrate instead of the original's
// templated CacheArray hierarchy.
package mirage

import (
	"fmt"
	"math/rand"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Voskan/coherentcache/coherence/array"
	"github.com/Voskan/coherentcache/coherence/gate"
	"github.com/Voskan/coherentcache/coherence/index"
	"github.com/Voskan/coherentcache/coherence/meta"
	"github.com/Voskan/coherentcache/coherence/policy"
	"github.com/Voskan/coherentcache/coherence/port"
	"github.com/Voskan/coherentcache/coherence/replace"
	"github.com/Voskan/coherentcache/monitor"
)

// policyLRU backs the metadata partitions' replacement state: the original
// defers to whatever replacer the cache is configured with, but an LRU
// default matches this module's own default (node.defaultConfig) and needs
// no extra configuration surface on mirage.Config.
func policyLRU() replace.Policy { return replace.NewLRU(true, false) }

// policyRandom backs the data pool: the original picks a data slot
// uniformly at random within its set (replace_data), which Random already
// models directly.
func policyRandom(seed int64) replace.Policy { return replace.NewRandom(true, false, seed) }

// slot addresses one metadata way in one partition.
type slot struct{ pi, set, way int }

// dataPointer is a metadata entry's pointer to its data slot.
type dataPointer struct {
	bound        bool
	set, way     int
}

// backPointer is a data slot's pointer back to its owning metadata entry.
type backPointer struct {
	bound    bool
	pi, set, way int
}

// Config bundles Cache construction parameters.
type Config struct {
	Name        string
	IW          int // 2^IW sets, shared by metadata partitions and the data pool
	NW          int // ways per metadata partition
	Partitions  int // P: number of skewed metadata partitions
	MaxRelocN   int // cuckoo relocation chain limit
	Policy      policy.Policy
	Outer       port.Port
	Children    []port.Port
	Hook        monitor.Hook
	LockCheck   *gate.LockCheck
	MSHRDepth   int
	Multithread bool
	Seed        int64
}

// Cache is the MIRAGE engine: it implements port.Port like an ordinary
// coherence level, but its replace() and the internals of AcquireResp
// differ fundamentally from coherence/port.Engine's, so it is its own type
// rather than a configuration of Engine.
type Cache struct {
	Name string

	p, nw, maxRelocN int
	metaIdx          *index.Skewed
	metaArr          []*array.Partition // len p, voidData: true

	ptrMu sync.Mutex
	ptr   [][]dataPointer // [p][sets*nw]

	dataIdx index.Func // single-partition random hash over the data pool's sets
	dataArr *array.Partition

	backMu sync.Mutex
	back   []backPointer // len sets*ways of dataArr

	pol      policy.Policy
	outer    port.Port
	children []port.Port

	pending *gate.PendingTable
	fetch   *port.FetchGroup
	buffers *gate.Pool[meta.Data]
	hook    monitor.Hook
	chk     *gate.LockCheck

	multithread bool
	rngMu       sync.Mutex
	rng         *rand.Rand
}

// New constructs a MIRAGE cache from cfg.
func New(cfg Config) *Cache {
	hook := cfg.Hook
	if hook == nil {
		hook = monitor.Noop{}
	}
	sets := 1 << uint(cfg.IW)
	c := &Cache{
		Name:        cfg.Name,
		p:           cfg.Partitions,
		nw:          cfg.NW,
		maxRelocN:   cfg.MaxRelocN,
		metaIdx:     index.NewSkewed(cfg.IW, cfg.Partitions),
		metaArr:     make([]*array.Partition, cfg.Partitions),
		ptr:         make([][]dataPointer, cfg.Partitions),
		dataIdx:     index.NewRandom(cfg.IW),
		pol:         cfg.Policy,
		outer:       cfg.Outer,
		children:    cfg.Children,
		pending:     gate.NewPendingTable(),
		fetch:       &port.FetchGroup{},
		buffers:     gate.NewPool[meta.Data](cfg.MSHRDepth, cfg.Multithread),
		hook:        hook,
		chk:         cfg.LockCheck,
		multithread: cfg.Multithread,
		rng:         rand.New(rand.NewSource(cfg.Seed)),
	}
	lru := policyLRU()
	for i := 0; i < cfg.Partitions; i++ {
		c.metaArr[i] = array.New(fmt.Sprintf("%s/meta%d", cfg.Name, i), sets, cfg.NW, 0, true, cfg.Multithread, lru)
		c.ptr[i] = make([]dataPointer, sets*cfg.NW)
	}
	dataWays := cfg.Partitions * cfg.NW
	c.dataArr = array.New(cfg.Name+"/data", sets, dataWays, 0, false, cfg.Multithread, policyRandom(cfg.Seed+1))
	c.back = make([]backPointer, sets*dataWays)
	return c
}

// SetOuter wires this cache's outer neighbor (the memory backend; MIRAGE is
// always the last-level cache, §4.8).
func (c *Cache) SetOuter(p port.Port) { c.outer = p }

// SetChildren wires this cache's inner children, indexed by child id.
func (c *Cache) SetChildren(children []port.Port) { c.children = children }

func (c *Cache) setFor(addr uint64, partition int) int {
	indices := make([]uint32, c.p)
	c.metaIdx.Index(addr, indices)
	return int(indices[partition])
}

func (c *Cache) dataSetFor(addr uint64) int {
	indices := make([]uint32, 1)
	c.dataIdx.Index(addr, indices)
	return int(indices[0])
}

func (c *Cache) getPtr(s slot) dataPointer {
	c.ptrMu.Lock()
	defer c.ptrMu.Unlock()
	return c.ptr[s.pi][s.set*c.nw+s.way]
}

func (c *Cache) setPtr(s slot, d dataPointer) {
	c.ptrMu.Lock()
	c.ptr[s.pi][s.set*c.nw+s.way] = d
	c.ptrMu.Unlock()
}

func (c *Cache) getBack(set, way int) backPointer {
	c.backMu.Lock()
	defer c.backMu.Unlock()
	return c.back[set*c.dataArr.Ways()+way]
}

func (c *Cache) setBack(set, way int, b backPointer) {
	c.backMu.Lock()
	c.back[set*c.dataArr.Ways()+way] = b
	c.backMu.Unlock()
}

// locate finds the (partition, set, way) holding addr across every
// metadata partition.
func (c *Cache) locate(addr uint64) (pi, set, way int, hit bool) {
	for i := 0; i < c.p; i++ {
		s := c.setFor(addr, i)
		if w, ok := c.metaArr[i].Hit(s, addr); ok {
			return i, s, w, true
		}
	}
	return 0, c.setFor(addr, 0), 0, false
}

func (c *Cache) dataFor(s slot) *meta.Data {
	ptr := c.getPtr(s)
	if !ptr.bound {
		return nil
	}
	return c.dataArr.Data(ptr.set, ptr.way)
}

// AcquireResp implements §4.8's fault-in algorithm: a local hit proceeds
// exactly as an ordinary directory cache's hit path (sync/promote against
// the policy); a miss picks a metadata home via replace (cuckoo-relocating
// occupants across partitions when every candidate way is full) and a data
// slot via the random data indexer, evicting whichever line previously
// owned that slot.
func (c *Cache) AcquireResp(cmd policy.Cmd, addr uint64) (*meta.Data, policy.Cmd) {
	for {
		pi, set, way, hit := c.locate(addr)
		if hit {
			m := c.metaArr[pi].Meta(set, way)
			gt := c.metaArr[pi].Gate(set)
			gt.Set(gate.PriorityAcquire)
			lock := c.metaArr[pi].LineLock(set, way)
			lock.Lock(c.chk)

			if needSync, probeCmd := c.pol.AccessNeedSync(cmd, m); needSync {
				if _, wb, recalled := c.probeAll(probeCmd, addr, m); wb && recalled != nil {
					if local := c.dataFor(slot{pi, set, way}); local != nil {
						*local = *recalled
					}
					m.SetDirty(true)
				}
			}
			if needsOuter, canSelfPromote, promoteCmd := c.pol.AccessNeedPromote(cmd, m); needsOuter {
				lock.Unlock(c.chk)
				gt.Reset(gate.PriorityAcquire)
				if c.outer != nil {
					c.outer.AcquireResp(promoteCmd, addr)
				}
				continue
			} else if canSelfPromote {
				m.ToModified(cmd.RequesterID)
			}

			data := c.dataFor(slot{pi, set, way})
			c.finishGrant(cmd, addr, pi, set, way, m)
			c.metaArr[pi].Replacer(set).Access(way, cmd.RequesterID >= -1, policy.IsPrefetch(cmd))
			c.hookAccess(cmd, addr, pi, set, way, true, m, data)
			return data, cmd
		}

		pi, set, way, ok := c.allocateMeta(addr)
		if !ok {
			continue // every candidate busy under concurrent replace; retry
		}
		m := c.metaArr[pi].Meta(set, way)
		lock := c.metaArr[pi].LineLock(set, way)
		lock.Lock(c.chk)

		dset, dway := c.allocateData(addr)
		m.Init(addr)
		c.pol.MetaAfterFetch(c.pol.CmdForOuterAcquire(cmd), m, addr)
		c.setPtr(slot{pi, set, way}, dataPointer{bound: true, set: dset, way: dway})
		c.setBack(dset, dway, backPointer{bound: true, pi: pi, set: set, way: way})

		outerCmd := c.pol.CmdForOuterAcquire(cmd)
		key := fmt.Sprintf("%d:%d", addr, outerCmd.Act)
		fetched, _ := c.fetch.Fetch(key, func() (*meta.Data, policy.Cmd) {
			if c.outer == nil {
				return &meta.Data{}, outerCmd
			}
			d, gc := c.outer.AcquireResp(outerCmd, addr)
			return d, gc
		})
		local := c.dataArr.Data(dset, dway)
		if local != nil && fetched != nil {
			*local = *fetched
		}
		c.dataArr.Replacer(dset).Access(dway, true, policy.IsPrefetch(cmd))
		c.metaArr[pi].ClearBusy(set, way)
		c.finishGrant(cmd, addr, pi, set, way, m)
		c.metaArr[pi].Replacer(set).Access(way, true, policy.IsPrefetch(cmd))
		c.hookAccess(cmd, addr, pi, set, way, false, m, local)
		return local, cmd
	}
}

// allocateMeta implements replace() + cuckoo_search + cuckoo_relocate: pick
// the partition with the most free ways in its candidate set, relocate any
// occupant out of the way (chaining across partitions up to MaxRelocN
// times), and return the now-empty slot claimed busy.
func (c *Cache) allocateMeta(addr uint64) (pi, set, way int, ok bool) {
	type cand struct{ pi, set, free int }
	var candidates []cand
	maxFree := -1
	for i := 0; i < c.p; i++ {
		s := c.setFor(addr, i)
		valid := c.metaArr[i].Valid(s)
		busy := c.metaArr[i].BusyView(s)
		free := 0
		for j := range valid {
			if !valid[j] && !busy[j] {
				free++
			}
		}
		if free > maxFree {
			maxFree = free
			candidates = candidates[:0]
		}
		if free >= maxFree {
			candidates = append(candidates, cand{i, s, free})
		}
	}
	if len(candidates) == 0 {
		return 0, 0, 0, false
	}
	c.rngMu.Lock()
	chosen := candidates[c.rng.Intn(len(candidates))]
	c.rngMu.Unlock()

	start := slot{chosen.pi, chosen.set, 0}
	valid := c.metaArr[start.pi].Valid(start.set)
	busy := c.metaArr[start.pi].BusyView(start.set)
	w := c.metaArr[start.pi].Replacer(start.set).Replace(valid, busy)
	if w < 0 {
		return 0, 0, 0, false
	}
	start.way = w
	c.metaArr[start.pi].MarkBusy(start.set, start.way)

	final, stack := c.cuckooSearch(addr, start)
	if c.metaArr[final.pi].Meta(final.set, final.way).State != meta.Invalid {
		c.evictMeta(final)
	}
	empty := final
	for i := len(stack) - 1; i >= 0; i-- {
		src := stack[i]
		c.moveMeta(src, empty)
		empty = src
	}
	return empty.pi, empty.set, empty.way, true
}

// cuckooSearch walks the relocation chain starting at start, returning the
// final slot to evict into (or to leave empty for a straight install) and
// the stack of intermediate slots that must each receive their predecessor's
// content on the way back.
func (c *Cache) cuckooSearch(addr uint64, start slot) (final slot, stack []slot) {
	cur := start
	curAddr := addr
	seen := map[uint64]bool{}
	for i := 0; i < c.maxRelocN; i++ {
		m := c.metaArr[cur.pi].Meta(cur.set, cur.way)
		if m.State == meta.Invalid {
			break
		}
		nextPi := (cur.pi + 1) % c.p
		nextSet := c.setFor(curAddr, nextPi)
		valid := c.metaArr[nextPi].Valid(nextSet)
		busy := c.metaArr[nextPi].BusyView(nextSet)
		nextWay := c.metaArr[nextPi].Replacer(nextSet).Replace(valid, busy)
		if nextWay < 0 {
			break
		}
		next := slot{nextPi, nextSet, nextWay}
		nextM := c.metaArr[next.pi].Meta(next.set, next.way)
		nextAddr := nextM.Tag
		if nextM.State == meta.Invalid {
			// An empty slot surfaced at the far end of the chain: relocate
			// straight into it with no further hops.
			c.metaArr[next.pi].MarkBusy(next.set, next.way)
			stack = append(stack, cur)
			return next, stack
		}
		if seen[nextAddr] {
			break
		}
		seen[curAddr] = true
		stack = append(stack, cur)
		c.metaArr[next.pi].MarkBusy(next.set, next.way)
		cur, curAddr = next, nextAddr
	}
	return cur, stack
}

// moveMeta copies src's metadata and data pointer into dst (already an
// empty, locked-by-busy slot), rebinds the data back-pointer, and
// invalidates src.
func (c *Cache) moveMeta(src, dst slot) {
	srcM := c.metaArr[src.pi].Meta(src.set, src.way)
	dstM := c.metaArr[dst.pi].Meta(dst.set, dst.way)
	dstM.CopyFrom(srcM)
	srcM.ToInvalid()
	c.metaArr[src.pi].Replacer(src.set).Invalidate(src.way)

	p := c.getPtr(src)
	c.setPtr(dst, p)
	c.setPtr(src, dataPointer{})
	if p.bound {
		c.setBack(p.set, p.way, backPointer{bound: true, pi: dst.pi, set: dst.set, way: dst.way})
	}
	c.metaArr[dst.pi].ClearBusy(dst.set, dst.way)
	c.hookAccess(policy.CmdForEvict(), dstM.Tag, dst.pi, dst.set, dst.way, true, dstM, c.dataFor(dst))
}

// evictMeta flushes whatever currently occupies s, probing peers and
// writing back to memory as an ordinary eviction would (§4.6), then
// invalidates both the metadata and its data slot's back-pointer.
func (c *Cache) evictMeta(s slot) {
	m := c.metaArr[s.pi].Meta(s.set, s.way)
	data := c.dataFor(s)
	if c.pol.WritebackNeedSync(m) {
		if _, wb, recalled := c.probeAll(policy.CmdForProbeRelease(-1), m.Tag, m); wb && recalled != nil {
			if data != nil {
				*data = *recalled
			}
			m.SetDirty(true)
		}
	}
	if c.pol.WritebackNeedWriteback(m) && c.outer != nil {
		c.outer.WritebackResp(policy.CmdForReleaseWriteback(-1), m.Tag, data)
	}
	c.pol.MetaAfterEvict(m)
	c.metaArr[s.pi].Replacer(s.set).Invalidate(s.way)
	p := c.getPtr(s)
	if p.bound {
		c.setBack(p.set, p.way, backPointer{})
	}
	c.setPtr(s, dataPointer{})
	c.hookAccess(policy.CmdForEvict(), m.Tag, s.pi, s.set, s.way, true, m, data)
}

// allocateData picks a data slot via the random data indexer, evicting
// whichever metadata entry previously owned it if occupied.
func (c *Cache) allocateData(addr uint64) (set, way int) {
	dset := c.dataSetFor(addr)
	valid := c.dataArr.Valid(dset)
	busy := c.dataArr.BusyView(dset)
	dway := c.dataArr.Replacer(dset).Replace(valid, busy)
	if dway < 0 {
		dway = 0
	}
	c.dataArr.MarkBusy(dset, dway)
	if back := c.getBack(dset, dway); back.bound {
		owner := slot{back.pi, back.set, back.way}
		ownerLock := c.metaArr[owner.pi].LineLock(owner.set, owner.way)
		ownerLock.Lock(c.chk)
		c.evictMeta(owner)
		ownerLock.Unlock(c.chk)
	}
	return dset, dway
}

func (c *Cache) finishGrant(cmd policy.Cmd, addr uint64, pi, set, way int, m *meta.Directory) {
	mInner := meta.NewDirectory()
	c.pol.MetaAfterGrant(cmd, m, mInner)
	gt := c.metaArr[pi].Gate(set)
	lock := c.metaArr[pi].LineLock(set, way)

	if cmd.RequesterID < 0 {
		lock.Unlock(c.chk)
		gt.Reset(gate.PriorityAcquire)
		return
	}
	c.pending.Insert(gate.PendingKey{Requester: cmd.RequesterID, Addr: addr}, gate.PendingEntry{
		Partition: pi, Set: set, Way: way, Forward: c.pol.InnerNeedRelease(),
	})
}

// FinishResp implements §4.5's finish handling over the metadata array.
func (c *Cache) FinishResp(cmd policy.Cmd, addr uint64) {
	key := gate.PendingKey{Requester: cmd.RequesterID, Addr: addr}
	entry, ok := c.pending.Lookup(key)
	if !ok {
		return
	}
	c.pending.Remove(key)
	lock := c.metaArr[entry.Partition].LineLock(entry.Set, entry.Way)
	lock.Unlock(c.chk)
	c.metaArr[entry.Partition].Gate(entry.Set).Reset(gate.PriorityAcquire)
	if entry.Forward && c.outer != nil {
		c.outer.FinishResp(cmd, addr)
	}
}

// WritebackResp implements §4.5's release handling.
func (c *Cache) WritebackResp(cmd policy.Cmd, addr uint64, data *meta.Data) {
	pi, set, way, hit := c.locate(addr)
	if !hit {
		if policy.IsFlush(cmd) {
			return // a flush passed outward for a line this cache does not hold
		}
		panic(fmt.Sprintf("coherence: %s invariant violation: release for unknown line addr=%#x", c.Name, addr))
	}
	gt := c.metaArr[pi].Gate(set)
	gt.Set(gate.PriorityRelease)
	defer gt.Reset(gate.PriorityRelease)

	m := c.metaArr[pi].Meta(set, way)
	mInner := meta.NewDirectory()
	local := c.dataFor(slot{pi, set, way})
	if local != nil && data != nil {
		*local = *data
	}
	c.pol.MetaAfterRelease(cmd, m, mInner)
	c.hookAccess(policy.CmdForWrite(cmd.RequesterID), addr, pi, set, way, true, m, local)
}

// ProbeResp implements the snoop side of §4.5's probe algorithm.
func (c *Cache) ProbeResp(cmd policy.Cmd, addr uint64) (hit, writeback bool, data *meta.Data) {
	pi, set, way, found := c.locate(addr)
	if !found {
		return false, false, nil
	}
	m := c.metaArr[pi].Meta(set, way)
	gt := c.metaArr[pi].Gate(set)
	gt.Set(gate.PriorityProbe)
	defer gt.Reset(gate.PriorityProbe)

	lock := c.metaArr[pi].LineLock(set, way)
	lock.Lock(c.chk)
	defer lock.Unlock(c.chk)

	childHit, childWB, childData := c.probeChildren(cmd, addr, m)
	if childHit && childData != nil {
		data = childData
	} else {
		data = c.dataFor(slot{pi, set, way})
	}

	h, wb := c.pol.MetaAfterProbe(cmd, m, cmd.RequesterID)
	hit = h || childHit
	writeback = wb || childWB
	c.hookAccess(cmd, addr, pi, set, way, hit, m, data)
	if !h && !childHit {
		return hit, writeback, nil
	}
	return hit, writeback, data
}

func (c *Cache) probeChildren(cmd policy.Cmd, addr uint64, m *meta.Directory) (anyHit, anyWriteback bool, data *meta.Data) {
	if len(c.children) == 0 {
		return false, false, nil
	}
	var g errgroup.Group
	results := make([]struct {
		hit, wb bool
		data    *meta.Data
	}, len(c.children))
	for i := range c.children {
		i := i
		if !c.pol.ProbeNeedProbe(cmd, m, int32(i)) {
			continue
		}
		g.Go(func() error {
			h, wb, d := c.children[i].ProbeResp(cmd, addr)
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
// dirty data comes back, so callers can absorb it into their own slot before
// forwarding it to their own outer or returning it to a requester.
func (c *Cache) probeAll(cmd policy.Cmd, addr uint64, m *meta.Directory) (anyHit, anyWriteback bool, data *meta.Data) {
	return c.probeChildren(cmd, addr, m)
}

func (c *Cache) hookAccess(cmd policy.Cmd, addr uint64, pi, set, way int, hit bool, m *meta.Directory, data *meta.Data) {
	view := monitor.View{State: m.State, Dirty: m.Dirty, Tag: m.Tag}
	var bytes []byte
	if data != nil {
		bytes = data.Bytes()
	}
	switch {
	case policy.IsProbe(cmd) || policy.IsFlush(cmd) || cmd.Act == policy.Evict:
		c.hook.OnInvalid(c.Name, addr, uint32(pi), uint32(set), uint32(way), -1, hit, view, bytes)
	case policy.IsFetchWrite(cmd) || policy.IsWriteback(cmd):
		c.hook.OnWrite(c.Name, addr, uint32(pi), uint32(set), uint32(way), -1, hit, view, bytes)
	default:
		c.hook.OnRead(c.Name, addr, uint32(pi), uint32(set), uint32(way), -1, hit, view, bytes)
	}
}
