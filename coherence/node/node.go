// Package node wires the coherence substrate into complete cache levels
// (§6): array + indexer + replacement + policy + inner port, exposed to a
// driver through CoreInterface and to neighboring levels through
// port.Port. One Cache corresponds to one level of the hierarchy (an L1 per
// core, a shared L2/L3, or an LLC slice).
package node

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Voskan/coherentcache/coherence/array"
	"github.com/Voskan/coherentcache/coherence/gate"
	"github.com/Voskan/coherentcache/coherence/index"
	"github.com/Voskan/coherentcache/coherence/meta"
	"github.com/Voskan/coherentcache/coherence/policy"
	"github.com/Voskan/coherentcache/coherence/port"
)

// Cache is one coherent cache level. It implements port.Port so neighboring
// levels (parent or children) address it uniformly, and exposes
// CoreInterface (core.go) to a driving core when it is an L1.
type Cache struct {
	name string
	cfg  *config
	eng  *port.Engine
	pol  policy.Policy
	idx  index.Func
	rmp  *index.Remapper

	children   []port.Port
	childNames []string
	outer      port.Port

	log *zap.Logger
}

// New constructs a cache level named name. The level is not yet connected
// to any neighbor; use Connect (connect.go) to wire parent/child
// relationships before first use.
func New(name string, opts ...Option) *Cache {
	cfg, err := applyOptions(name, opts)
	if err != nil {
		zap.NewNop().Sugar().Errorf("coherence: %v", err)
		panic(err)
	}

	pol := buildPolicy(cfg)

	var idx index.Func
	var rmp *index.Remapper
	switch cfg.indexer {
	case IndexerSkewed:
		sk := index.NewSkewed(cfg.iw, cfg.partitions)
		idx = sk
		if cfg.remap {
			rmp = index.NewRemapper(sk, uint32(1)<<uint(cfg.iw), cfg.multithread)
		}
	case IndexerRandom:
		idx = index.NewRandom(cfg.iw)
	default:
		idx = index.NewNorm(cfg.iw)
	}

	sets := 1 << uint(cfg.iw)
	parts := make([]*array.Partition, idx.Partitions())
	for i := range parts {
		parts[i] = array.New(fmt.Sprintf("%s/p%d", name, i), sets, cfg.nw, cfg.extraWays, cfg.voidData, cfg.multithread, cfg.replacement)
	}

	var chk *gate.LockCheck
	if cfg.multithread {
		chk = gate.NewLockCheck()
	}

	c := &Cache{name: name, cfg: cfg, pol: pol, idx: idx, rmp: rmp, log: cfg.logger}
	c.eng = port.New(port.Config{
		Name:        name,
		Partitions:  parts,
		Indexer:     idx,
		Remapper:    rmp,
		Policy:      pol,
		Hook:        cfg.hook,
		LockCheck:   chk,
		MSHRDepth:   cfg.mshrDepth,
		Multithread: cfg.multithread,
		Exclusive:   cfg.exclusive,
		Directory:   cfg.extraWays > 0,
	})
	return c
}

func buildPolicy(cfg *config) policy.Policy {
	switch cfg.policy {
	case PolicyMI:
		return policy.NewMI(cfg.isL1, cfg.uncachedParent, cfg.directory)
	case PolicyMESI:
		return policy.NewMESI(cfg.isL1, cfg.uncachedParent)
	default:
		return policy.NewMSI(cfg.isL1, cfg.uncachedParent, cfg.directory)
	}
}

// Name returns the cache level's diagnostic name.
func (c *Cache) Name() string { return c.name }

// AcquireResp, WritebackResp, ProbeResp, FinishResp implement port.Port by
// delegating to the inner engine.
func (c *Cache) AcquireResp(cmd policy.Cmd, addr uint64) (*meta.Data, policy.Cmd) {
	return c.eng.AcquireResp(cmd, addr)
}
func (c *Cache) WritebackResp(cmd policy.Cmd, addr uint64, data *meta.Data) {
	c.eng.WritebackResp(cmd, addr, data)
}
func (c *Cache) ProbeResp(cmd policy.Cmd, addr uint64) (bool, bool, *meta.Data) {
	return c.eng.ProbeResp(cmd, addr)
}
func (c *Cache) FinishResp(cmd policy.Cmd, addr uint64) {
	c.eng.FinishResp(cmd, addr)
}
