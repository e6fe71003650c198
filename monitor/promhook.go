package monitor

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// PromHook is the default Hook implementation (§6): Prometheus counters
// labeled by cache_id, gauges for dirty-line occupancy, and a zap logger for
// the Start/Stop/Reset lifecycle transitions. Adapted from this module's
// original per-shard metrics sink, relabeled cache_id instead of shard and
// extended with invalidate/magic counters the coherence engine needs that a
// plain capacity cache never did.
type PromHook struct {
	log *zap.Logger

	reads      *prometheus.CounterVec
	writes     *prometheus.CounterVec
	invalids   *prometheus.CounterVec
	hits       *prometheus.CounterVec
	misses     *prometheus.CounterVec
	evictions  *prometheus.CounterVec
	magic      *prometheus.CounterVec
	dirtyLines *prometheus.GaugeVec

	paused atomic.Bool
}

// NewPromHook registers the hook's collectors on reg and returns it ready to
// use. reg must be non-nil; callers that want metrics disabled should use
// Noop instead of passing a throwaway registry.
func NewPromHook(reg *prometheus.Registry, log *zap.Logger) *PromHook {
	label := []string{"cache_id"}
	h := &PromHook{
		log: log,
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coherentcache", Name: "reads_total", Help: "Core read accesses observed.",
		}, label),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coherentcache", Name: "writes_total", Help: "Core write accesses observed.",
		}, label),
		invalids: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coherentcache", Name: "invalidates_total", Help: "Lines invalidated (probe or flush).",
		}, label),
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coherentcache", Name: "hits_total", Help: "Accesses that hit in this cache.",
		}, label),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coherentcache", Name: "misses_total", Help: "Accesses that missed in this cache.",
		}, label),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coherentcache", Name: "evictions_total", Help: "Lines evicted by the replacement policy.",
		}, label),
		magic: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coherentcache", Name: "magic_total", Help: "Non-standard monitor signals (e.g. remap triggers).",
		}, []string{"cache_id", "magic_id"}),
		dirtyLines: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "coherentcache", Name: "dirty_lines", Help: "Lines currently holding unwritten-back data.",
		}, label),
	}
	reg.MustRegister(h.reads, h.writes, h.invalids, h.hits, h.misses, h.evictions, h.magic, h.dirtyLines)
	return h
}

func (h *PromHook) record(c *prometheus.CounterVec, cacheID string, hit bool, m View, dirtyDelta int) {
	if h.paused.Load() {
		return
	}
	c.WithLabelValues(cacheID).Inc()
	if hit {
		h.hits.WithLabelValues(cacheID).Inc()
	} else {
		h.misses.WithLabelValues(cacheID).Inc()
	}
	if dirtyDelta != 0 {
		h.dirtyLines.WithLabelValues(cacheID).Add(float64(dirtyDelta))
	}
	_ = m
}

func (h *PromHook) OnRead(cacheID string, addr uint64, ai, s, w uint32, evictionRank int, hit bool, m View, data []byte) {
	h.record(h.reads, cacheID, hit, m, 0)
	_ = addr
	_ = ai
	_ = s
	_ = w
	_ = evictionRank
	_ = data
}

func (h *PromHook) OnWrite(cacheID string, addr uint64, ai, s, w uint32, evictionRank int, hit bool, m View, data []byte) {
	delta := 0
	if m.Dirty {
		delta = 1
	}
	h.record(h.writes, cacheID, hit, m, delta)
	if evictionRank >= 0 {
		h.evictions.WithLabelValues(cacheID).Inc()
	}
	_ = addr
	_ = ai
	_ = s
	_ = w
	_ = data
}

func (h *PromHook) OnInvalid(cacheID string, addr uint64, ai, s, w uint32, evictionRank int, hit bool, m View, data []byte) {
	if h.paused.Load() {
		return
	}
	h.invalids.WithLabelValues(cacheID).Inc()
	if m.Dirty {
		h.dirtyLines.WithLabelValues(cacheID).Add(-1)
	}
	if evictionRank >= 0 {
		h.evictions.WithLabelValues(cacheID).Inc()
	}
	_ = addr
	_ = ai
	_ = s
	_ = w
	_ = hit
	_ = data
}

func (h *PromHook) OnMagic(cacheID string, addr uint64, magicID uint32, opaque any) {
	if h.paused.Load() {
		return
	}
	h.magic.WithLabelValues(cacheID, strconv.FormatUint(uint64(magicID), 10)).Inc()
	h.log.Debug("monitor magic signal", zap.String("cache_id", cacheID), zap.Uint64("addr", addr), zap.Uint32("magic_id", magicID), zap.Any("opaque", opaque))
}

func (h *PromHook) Start()  { h.log.Info("monitor started"); h.paused.Store(false) }
func (h *PromHook) Stop()   { h.log.Info("monitor stopped"); h.paused.Store(true) }
func (h *PromHook) Pause()  { h.paused.Store(true) }
func (h *PromHook) Resume() { h.paused.Store(false) }
func (h *PromHook) Reset() {
	h.reads.Reset()
	h.writes.Reset()
	h.invalids.Reset()
	h.hits.Reset()
	h.misses.Reset()
	h.evictions.Reset()
	h.magic.Reset()
	h.dirtyLines.Reset()
}
