// Package policy implements the coherence message schema (§6) and the
// pluggable coherence-policy bundles (§4.4): MI, MSI and MESI, each in
// broadcast and directory form.
package policy

import "fmt"

// MessageKind is one of the five coherence message shapes (§6).
type MessageKind uint8

const (
	Acquire MessageKind = iota
	Release
	Probe
	Flush
	Finish
)

func (k MessageKind) String() string {
	return [...]string{"acquire", "release", "probe", "flush", "finish"}[k]
}

// Action qualifies a message with the operation it requests or reports.
type Action uint8

const (
	FetchRead Action = iota
	FetchWrite
	Evict
	Writeback
	Downgrade
	Prefetch
)

func (a Action) String() string {
	return [...]string{"fetch_read", "fetch_write", "evict", "writeback", "downgrade", "prefetch"}[a]
}

// Cmd is the coherence message 3-tuple (§6). RequesterID is -1 for an
// uncached requester (no line lock held waiting on Finish, §4.5 step 4).
// Widened to int32 from the distilled spec's i16 so it shares a type with
// meta.Directory's child ids without per-call conversions; the 63-sharer
// limit (meta.MaxSharers) is unaffected.
type Cmd struct {
	RequesterID int32
	Kind        MessageKind
	Act         Action
}

func (c Cmd) String() string {
	return fmt.Sprintf("%s/%s(id=%d)", c.Kind, c.Act, c.RequesterID)
}

// CmdForRead builds an acquire/fetch_read from requester.
func CmdForRead(requester int32) Cmd { return Cmd{requester, Acquire, FetchRead} }

// CmdForWrite builds an acquire/fetch_write from requester.
func CmdForWrite(requester int32) Cmd { return Cmd{requester, Acquire, FetchWrite} }

// CmdForRelease builds a plain release (non-writeback) from requester.
func CmdForRelease(requester int32) Cmd { return Cmd{requester, Release, Evict} }

// CmdForReleaseWriteback builds a release carrying dirty data.
func CmdForReleaseWriteback(requester int32) Cmd { return Cmd{requester, Release, Writeback} }

// CmdForFlush builds a flush (clflush-like) request.
func CmdForFlush(requester int32) Cmd { return Cmd{requester, Flush, Evict} }

// CmdForWritebackFlush builds a writeback-but-keep-shared (clwb-like) flush.
func CmdForWritebackFlush(requester int32) Cmd { return Cmd{requester, Flush, Writeback} }

// CmdForProbeDowngrade builds a probe asking id to downgrade to Shared.
func CmdForProbeDowngrade(id int32) Cmd { return Cmd{id, Probe, Downgrade} }

// CmdForProbeRelease builds a probe asking id to invalidate (release to I).
func CmdForProbeRelease(id int32) Cmd { return Cmd{id, Probe, Evict} }

// CmdForEvict builds an internal evict notification (no specific requester).
// Tagged with the Release kind since eviction is this cache giving up a line
// exactly as a release does, just self-initiated rather than child-driven.
func CmdForEvict() Cmd { return Cmd{-1, Release, Evict} }

// CmdForFinish builds a finish acknowledgement from requester.
func CmdForFinish(requester int32) Cmd { return Cmd{requester, Finish, Evict} }

// CmdForPrefetch builds an acquire/prefetch from requester.
func CmdForPrefetch(requester int32) Cmd { return Cmd{requester, Acquire, Prefetch} }

func IsAcquire(c Cmd) bool    { return c.Kind == Acquire }
func IsRelease(c Cmd) bool    { return c.Kind == Release }
func IsProbe(c Cmd) bool      { return c.Kind == Probe }
func IsFlush(c Cmd) bool      { return c.Kind == Flush }
func IsFinish(c Cmd) bool     { return c.Kind == Finish }
func IsFetchRead(c Cmd) bool  { return c.Act == FetchRead }
func IsFetchWrite(c Cmd) bool { return c.Act == FetchWrite }
func IsPrefetch(c Cmd) bool   { return c.Act == Prefetch }
func IsDowngrade(c Cmd) bool  { return c.Kind == Probe && c.Act == Downgrade }
func IsWriteback(c Cmd) bool  { return c.Act == Writeback }
