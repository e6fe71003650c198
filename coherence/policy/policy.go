package policy

import "github.com/Voskan/coherentcache/coherence/meta"

// Policy bundles the pure decision functions of §4.4, parameterized at
// construction by (isL1, uncachedParent). Every cache node stores metadata
// as *meta.Directory uniformly (it embeds meta.Line), even for broadcast
// caches that never touch the sharer bitmap — this keeps one metadata shape
// across the whole engine instead of a second generic parameter purely for
// "does this cache have a directory".
type Policy interface {
	// Name identifies the policy variant for diagnostics ("MI", "MSI", "MESI").
	Name() string
	// Directory reports whether this policy tracks a sharer bitmap.
	Directory() bool

	CmdForOuterAcquire(cmd Cmd) Cmd

	// AccessNeedSync reports whether a local-hit acquire must first probe
	// peers, and with which command.
	AccessNeedSync(cmd Cmd, m *meta.Directory) (needSync bool, probeCmd Cmd)

	// AccessNeedPromote reports whether a local-hit acquire must forward
	// upstream (needsOuter), or may flip state locally (canSelfPromote), and
	// the translated command to use if forwarding.
	AccessNeedPromote(cmd Cmd, m *meta.Directory) (needsOuter, canSelfPromote bool, promoteCmd Cmd)

	MetaAfterFetch(cmd Cmd, m *meta.Directory, addr uint64)
	MetaAfterGrant(cmd Cmd, m *meta.Directory, mInner *meta.Directory)

	// ProbeNeedProbe filters which children participate in a probe fan-out.
	ProbeNeedProbe(cmd Cmd, m *meta.Directory, targetInnerID int32) bool
	ProbeNeedWriteback(cmd Cmd, m *meta.Directory) bool

	// MetaAfterProbe applies the probe's effect on m and reports whether the
	// probed line was a hit and whether it carried dirty data to write back.
	MetaAfterProbe(cmd Cmd, m *meta.Directory, sourceID int32) (hit, writeback bool)

	MetaAfterWriteback(cmd Cmd, m *meta.Directory)
	MetaAfterEvict(m *meta.Directory)
	MetaAfterRelease(cmd Cmd, m *meta.Directory, mInner *meta.Directory)
	MetaAfterFlush(cmd Cmd, m *meta.Directory)

	ReleaseNeedSync(cmd Cmd, m *meta.Directory) bool
	WritebackNeedSync(m *meta.Directory) bool
	WritebackNeedWriteback(m *meta.Directory) bool
	FlushNeedSync(cmd Cmd, m *meta.Directory) bool
	// InnerNeedRelease reports whether this level requires its children to
	// send an explicit Release on downgrade/evict (true for all variants
	// here; kept as a policy hook so a future uncached-inner-only variant can
	// override it without touching callers).
	InnerNeedRelease() bool
}

// base carries the (isL1, uncachedParent) parameterization shared by every
// variant; embedded by MIPolicy/MSIPolicy.
type base struct {
	isL1           bool
	uncachedParent bool
}

// NewBase constructs the shared parameterization for a policy variant.
func NewBase(isL1, uncachedParent bool) base { return base{isL1, uncachedParent} }

func (b base) InnerNeedRelease() bool { return true }

// MIPolicy implements the single-state (valid/invalid, always-modified)
// protocol: every acquire — read or write — is translated into a write
// fetch from the parent, and any peer holding the line must release it.
// Grounded on original_source/cache/mi.hpp's MIPolicy.
type MIPolicy struct {
	base
	directory bool
}

// NewMI constructs an MI policy. directory selects whether metadata tracks a
// sharer bitmap (still meaningful for MI: it tells a probe fan-out whether to
// broadcast to all children or only known sharers).
func NewMI(isL1, uncachedParent, directory bool) *MIPolicy {
	return &MIPolicy{base: NewBase(isL1, uncachedParent), directory: directory}
}

func (p *MIPolicy) Name() string      { return "MI" }
func (p *MIPolicy) Directory() bool   { return p.directory }

func (p *MIPolicy) CmdForOuterAcquire(cmd Cmd) Cmd {
	return CmdForWrite(cmd.RequesterID)
}

func (p *MIPolicy) AccessNeedSync(cmd Cmd, m *meta.Directory) (bool, Cmd) {
	if m.State == meta.Invalid {
		return false, Cmd{}
	}
	// MI has only one cached state; any peer holding the line must release.
	return true, CmdForProbeRelease(cmd.RequesterID)
}

func (p *MIPolicy) AccessNeedPromote(cmd Cmd, m *meta.Directory) (bool, bool, Cmd) {
	if m.State == meta.Modified {
		return false, false, Cmd{}
	}
	return true, false, p.CmdForOuterAcquire(cmd)
}

func (p *MIPolicy) MetaAfterFetch(cmd Cmd, m *meta.Directory, addr uint64) {
	if m.State == meta.Invalid {
		m.Init(addr)
	}
	m.ToModified(-1)
}

func (p *MIPolicy) MetaAfterGrant(cmd Cmd, m *meta.Directory, mInner *meta.Directory) {
	m.ToModified(cmd.RequesterID)
	if p.directory {
		m.ClearSharersExcept(cmd.RequesterID)
		m.AddSharer(cmd.RequesterID)
	}
	mInner.ToModified(-1)
}

func (p *MIPolicy) ProbeNeedProbe(cmd Cmd, m *meta.Directory, targetInnerID int32) bool {
	if targetInnerID == cmd.RequesterID {
		return false
	}
	if p.directory {
		return m.IsSharer(targetInnerID)
	}
	return m.State != meta.Invalid
}

func (p *MIPolicy) ProbeNeedWriteback(cmd Cmd, m *meta.Directory) bool { return m.Dirty }

func (p *MIPolicy) MetaAfterProbe(cmd Cmd, m *meta.Directory, sourceID int32) (bool, bool) {
	if m.State == meta.Invalid {
		return false, false
	}
	wb := m.Dirty
	m.ToInvalid()
	return true, wb
}

func (p *MIPolicy) MetaAfterWriteback(cmd Cmd, m *meta.Directory) {
	if IsWriteback(cmd) {
		m.SetDirty(true)
	}
}

func (p *MIPolicy) MetaAfterEvict(m *meta.Directory) { m.ToInvalid() }

func (p *MIPolicy) MetaAfterRelease(cmd Cmd, m *meta.Directory, mInner *meta.Directory) {
	if IsWriteback(cmd) {
		m.SetDirty(true)
	}
	if p.directory {
		m.DelSharer(cmd.RequesterID)
	}
}

func (p *MIPolicy) MetaAfterFlush(cmd Cmd, m *meta.Directory) { m.ToInvalid() }

func (p *MIPolicy) ReleaseNeedSync(cmd Cmd, m *meta.Directory) bool { return false }

func (p *MIPolicy) WritebackNeedSync(m *meta.Directory) bool { return true }

func (p *MIPolicy) WritebackNeedWriteback(m *meta.Directory) bool { return m.Dirty }

func (p *MIPolicy) FlushNeedSync(cmd Cmd, m *meta.Directory) bool { return m.State != meta.Invalid }
