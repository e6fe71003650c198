package main

import (
	"sync/atomic"

	"github.com/Voskan/coherentcache/monitor"
)

// statsHook decorates a monitor.Hook with a plain atomic-counter snapshot
// cheap enough to marshal to JSON on every request, while still forwarding
// every event to the wrapped hook (normally a *monitor.PromHook) so
// /metrics stays populated.
type statsHook struct {
	wrapped monitor.Hook

	reads, writes, invalidates, hits, misses atomic.Uint64
}

func newStatsHook(wrapped monitor.Hook) *statsHook {
	return &statsHook{wrapped: wrapped}
}

type statsSnapshot struct {
	Reads       uint64 `json:"reads"`
	Writes      uint64 `json:"writes"`
	Invalidates uint64 `json:"invalidates"`
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
}

func (h *statsHook) snapshot() statsSnapshot {
	return statsSnapshot{
		Reads:       h.reads.Load(),
		Writes:      h.writes.Load(),
		Invalidates: h.invalidates.Load(),
		Hits:        h.hits.Load(),
		Misses:      h.misses.Load(),
	}
}

func (h *statsHook) countHit(hit bool) {
	if hit {
		h.hits.Add(1)
	} else {
		h.misses.Add(1)
	}
}

func (h *statsHook) OnRead(cacheID string, addr uint64, ai, s, w uint32, rank int, hit bool, m monitor.View, data []byte) {
	h.reads.Add(1)
	h.countHit(hit)
	h.wrapped.OnRead(cacheID, addr, ai, s, w, rank, hit, m, data)
}

func (h *statsHook) OnWrite(cacheID string, addr uint64, ai, s, w uint32, rank int, hit bool, m monitor.View, data []byte) {
	h.writes.Add(1)
	h.countHit(hit)
	h.wrapped.OnWrite(cacheID, addr, ai, s, w, rank, hit, m, data)
}

func (h *statsHook) OnInvalid(cacheID string, addr uint64, ai, s, w uint32, rank int, hit bool, m monitor.View, data []byte) {
	h.invalidates.Add(1)
	h.wrapped.OnInvalid(cacheID, addr, ai, s, w, rank, hit, m, data)
}

func (h *statsHook) OnMagic(cacheID string, addr uint64, magicID uint32, opaque any) {
	h.wrapped.OnMagic(cacheID, addr, magicID, opaque)
}

func (h *statsHook) Start()  { h.wrapped.Start() }
func (h *statsHook) Stop()   { h.wrapped.Stop() }
func (h *statsHook) Pause()  { h.wrapped.Pause() }
func (h *statsHook) Resume() { h.wrapped.Resume() }
func (h *statsHook) Reset() {
	h.reads.Store(0)
	h.writes.Store(0)
	h.invalidates.Store(0)
	h.hits.Store(0)
	h.misses.Store(0)
	h.wrapped.Reset()
}
