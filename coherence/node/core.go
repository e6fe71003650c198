package node

import (
	"github.com/Voskan/coherentcache/coherence/meta"
	"github.com/Voskan/coherentcache/coherence/policy"
)

// CoreInterface is the driver-facing API of an L1 cache (§6): the four
// memory operations a core issues (Read, Write, Flush, Writeback), the
// FlushCache sweep, and the always-unimplemented WritebackInvalidate kept
// for interface symmetry. delay, when non-nil,
// accumulates the configured DelayModel's latency contributions; it is an
// approximate cost counter, not a cycle-accurate timing model, since no
// invariant in §8 depends on its exact value.
type CoreInterface interface {
	Read(addr uint64, delay *uint64) []byte
	Write(addr uint64, data []byte, delay *uint64)
	Flush(addr uint64, delay *uint64)
	Writeback(addr uint64, delay *uint64)
	FlushCache(delay *uint64)
	WritebackInvalidate(addr uint64, delay *uint64) error
}

func (c *Cache) addDelay(delay *uint64, ev DelayEvent) {
	if delay != nil {
		*delay += c.cfg.delayModel(ev)
	}
}

// Read fetches addr (allocating read-only if not already cached) and
// returns a copy of its 64-byte block.
func (c *Cache) Read(addr uint64, delay *uint64) []byte {
	data, _ := c.eng.AcquireResp(policy.CmdForRead(-1), addr)
	c.addDelay(delay, DelayHit)
	if data == nil {
		return make([]byte, meta.BlockBytes)
	}
	out := make([]byte, meta.BlockBytes)
	copy(out, data.Bytes())
	return out
}

// Write fetches addr for writing (allocating/promoting to Modified as
// needed) and overwrites its 64-byte block with data.
func (c *Cache) Write(addr uint64, data []byte, delay *uint64) {
	line, _ := c.eng.AcquireResp(policy.CmdForWrite(-1), addr)
	c.addDelay(delay, DelayHit)
	if line == nil {
		return
	}
	padded := make([]byte, meta.BlockBytes)
	copy(padded, data)
	line.CopyFrom(padded)
	c.eng.MarkWriteDirty(addr)
}

// Flush drops addr from this level, the levels below it and every level
// above it, writing dirty data back on the way out to memory (§4.5).
func (c *Cache) Flush(addr uint64, delay *uint64) {
	c.eng.Flush(addr)
	c.addDelay(delay, DelayWriteback)
}

// Writeback writes back addr's dirty data but keeps it shared (§4.5).
func (c *Cache) Writeback(addr uint64, delay *uint64) {
	c.eng.Writeback(addr)
	c.addDelay(delay, DelayWriteback)
}

// FlushCache flushes every valid line this level holds (§4.5).
func (c *Cache) FlushCache(delay *uint64) {
	c.eng.FlushCache()
	c.addDelay(delay, DelayWriteback)
}

// WritebackInvalidate always returns ErrNotImplemented (§7, §9 Open
// Questions): no level performs an invalidating writeback, but the method
// exists so every CoreInterface binds against the same six-method set.
func (c *Cache) WritebackInvalidate(addr uint64, delay *uint64) error {
	_ = addr
	_ = delay
	return ErrNotImplemented
}
