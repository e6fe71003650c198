// Package monitor implements the tracer/statistics side channel (§6): a
// Hook consumed by every cache node on read/write/invalidate/magic events,
// decoupled from the coherence engine itself so tracing can be swapped or
// disabled without touching port logic.
package monitor

import "github.com/Voskan/coherentcache/coherence/meta"

// View is a read-only snapshot of a line's metadata, passed to hooks instead
// of the live *meta.Directory so a tracer can never mutate engine state.
type View struct {
	State      meta.State
	Dirty      bool
	Tag        uint64
	SharerMask uint64
}

// Hook receives lifecycle and per-access notifications from cache nodes.
// cacheID identifies the emitting node; ai/s/w are partition/set/way;
// evictionRank is the replacement-policy rank of the touched way at the time
// of the event, -1 when none is reported. The engines in this module
// (coherence/port) pass -1 for every event, so PromHook's evictions counter,
// which counts only events with a rank of 0 or more, stays at zero.
type Hook interface {
	OnRead(cacheID string, addr uint64, ai, s, w uint32, evictionRank int, hit bool, m View, data []byte)
	OnWrite(cacheID string, addr uint64, ai, s, w uint32, evictionRank int, hit bool, m View, data []byte)
	OnInvalid(cacheID string, addr uint64, ai, s, w uint32, evictionRank int, hit bool, m View, data []byte)
	// OnMagic is a keyed side-channel for non-standard probes, e.g. the §4.9
	// remap trigger: magicID distinguishes the kind of signal, opaque carries
	// whatever payload that signal needs.
	OnMagic(cacheID string, addr uint64, magicID uint32, opaque any)

	Start()
	Stop()
	Pause()
	Resume()
	Reset()
}
