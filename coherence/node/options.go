package node

// options.go defines the functional options that configure a Cache at
// construction time (§6 "Configuration"): a static tuple of integers and
// selectors with no further mutation afterward. Adapted from this module's
// original functional-options config layer — same generic-free Option
// closure shape, retargeted from capacity/TTL/shard knobs to the coherence
// tuple (IW, NW, partitions, data?, replacement, indexer, multithread?,
// mshrDepth, policyVariant, delayModel).

import (
	"go.uber.org/zap"

	"github.com/Voskan/coherentcache/coherence/replace"
	"github.com/Voskan/coherentcache/monitor"
)

// PolicyVariant selects a coherence-policy bundle (§4.4).
type PolicyVariant string

const (
	PolicyMI   PolicyVariant = "MI"
	PolicyMSI  PolicyVariant = "MSI"
	PolicyMESI PolicyVariant = "MESI"
)

// IndexerKind selects an indexing scheme (§4.1).
type IndexerKind string

const (
	IndexerNorm    IndexerKind = "norm"
	IndexerSkewed  IndexerKind = "skewed"
	IndexerRandom  IndexerKind = "random"
)

// DelayEvent tags the kind of access a DelayModel is asked to price.
type DelayEvent uint8

const (
	DelayHit DelayEvent = iota
	DelayMiss
	DelayWriteback
	DelayProbe
)

// DelayModel adds a latency contribution to the driver's running delay
// counter (§6 "delay is an optional running counter"). Pure and stateless.
type DelayModel func(DelayEvent) uint64

// defaultDelayModel prices a hit at 1 cycle, a miss fetch at 40, a writeback
// at 10, and a probe round-trip at 5 — a plausible but otherwise unremarkable
// relative scale; callers modeling a specific memory system should supply
// their own DelayModel.
func defaultDelayModel(e DelayEvent) uint64 {
	switch e {
	case DelayHit:
		return 1
	case DelayMiss:
		return 40
	case DelayWriteback:
		return 10
	case DelayProbe:
		return 5
	default:
		return 0
	}
}

type config struct {
	name string

	iw         int
	nw         int
	partitions int
	extraWays  int
	voidData   bool

	replacement replace.Policy
	indexer     IndexerKind
	multithread bool
	mshrDepth   int

	policy         PolicyVariant
	isL1           bool
	uncachedParent bool
	directory      bool
	exclusive      bool
	remap          bool

	logger     *zap.Logger
	hook       monitor.Hook
	delayModel DelayModel
}

// Option configures a Cache at construction time.
type Option func(*config)

func defaultConfig(name string) *config {
	return &config{
		name:        name,
		iw:          6,
		nw:          8,
		partitions:  1,
		replacement: replace.NewLRU(true, false),
		indexer:     IndexerNorm,
		mshrDepth:   4,
		policy:      PolicyMSI,
		directory:   true,
		logger:      zap.NewNop(),
		delayModel:  defaultDelayModel,
	}
}

// WithIndexWidth sets IW: the cache has 2^iw sets per partition.
func WithIndexWidth(iw int) Option { return func(c *config) { c.iw = iw } }

// WithWays sets NW, the associativity.
func WithWays(nw int) Option { return func(c *config) { c.nw = nw } }

// WithPartitions sets the skewed-cache partition count (1 disables skewing).
func WithPartitions(p int) Option { return func(c *config) { c.partitions = p } }

// WithExtraWays sets the directory-only extended-way count per set, used by
// the directory-exclusive variant (§4.7).
func WithExtraWays(n int) Option { return func(c *config) { c.extraWays = n } }

// WithVoidData marks this cache as metadata-only (no payload storage),
// typical of an outer directory level that never serves data itself.
func WithVoidData(v bool) Option { return func(c *config) { c.voidData = v } }

// WithReplacement overrides the default LRU replacement policy.
func WithReplacement(p replace.Policy) Option { return func(c *config) { c.replacement = p } }

// WithIndexer selects the indexing scheme.
func WithIndexer(k IndexerKind) Option { return func(c *config) { c.indexer = k } }

// WithMultithread enables the fine-grained concurrency substrate (§5); when
// false every gate/lock/pool degenerates to a no-op.
func WithMultithread(v bool) Option { return func(c *config) { c.multithread = v } }

// WithMSHRDepth sets the buffer-pool size backing in-flight transactions.
func WithMSHRDepth(n int) Option { return func(c *config) { c.mshrDepth = n } }

// WithPolicy selects the coherence-policy bundle (§4.4).
func WithPolicy(v PolicyVariant) Option { return func(c *config) { c.policy = v } }

// WithL1 marks this level as an L1 (closest to the core).
func WithL1(v bool) Option { return func(c *config) { c.isL1 = v } }

// WithUncachedParent marks this level's outer neighbor as not itself caching
// (affects a few policy corner cases around self-promotion).
func WithUncachedParent(v bool) Option { return func(c *config) { c.uncachedParent = v } }

// WithDirectory enables sharer-bitmap tracking even for a broadcast policy
// (still useful to narrow probe fan-out to known sharers).
func WithDirectory(v bool) Option { return func(c *config) { c.directory = v } }

// WithExclusive selects the exclusive-cache variant (§4.7): broadcast
// exclusive when extraWays == 0, directory exclusive otherwise.
func WithExclusive(v bool) Option { return func(c *config) { c.exclusive = v } }

// WithRemap enables dynamic re-indexing (§4.9). Rejected at construction
// when combined with WithMultithread(true) (§9 Open Questions).
func WithRemap(v bool) Option { return func(c *config) { c.remap = v } }

// WithLogger plugs an external zap.Logger; diagnostics before any
// construction-time or invariant panic go through it.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithHook plugs a monitor.Hook; defaults to monitor.Noop.
func WithHook(h monitor.Hook) Option {
	return func(c *config) {
		if h != nil {
			c.hook = h
		}
	}
}

// WithDelayModel overrides the default latency-pricing function.
func WithDelayModel(m DelayModel) Option {
	return func(c *config) {
		if m != nil {
			c.delayModel = m
		}
	}
}

func applyOptions(name string, opts []Option) (*config, error) {
	cfg := defaultConfig(name)
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.iw <= 0 {
		return nil, &ConfigError{Node: name, Reason: "index width must be > 0"}
	}
	if cfg.nw <= 0 {
		return nil, &ConfigError{Node: name, Reason: "way count must be > 0"}
	}
	if cfg.partitions <= 0 {
		return nil, &ConfigError{Node: name, Reason: "partition count must be > 0"}
	}
	if cfg.mshrDepth < 2 {
		return nil, &ConfigError{Node: name, Reason: "MSHR depth must be >= 2"}
	}
	if cfg.remap && cfg.multithread {
		return nil, &ConfigError{Node: name, Reason: "dynamic remap is not supported under multithread"}
	}
	if cfg.exclusive && cfg.extraWays > 0 && cfg.partitions != 1 {
		return nil, &ConfigError{Node: name, Reason: "directory-exclusive extended ways require a single partition"}
	}
	return cfg, nil
}
