package policy

import "github.com/Voskan/coherentcache/coherence/meta"

// MSIPolicy implements the three-state protocol: Shared permits concurrent
// readers, Modified is exclusive-writable, Invalid holds nothing. A cache's
// own State is the permission it holds from its outer level, which covers
// every permission it has granted to its children (inclusive bookkeeping); a
// release from a child keeps the line, and its dirty data, at this level.
// The attached directory bitmap (when
// Directory() is true) tracks exactly which children hold a share.
// Grounded on original_source/cache/msi.hpp and cache/coherence.hpp's
// default port behaviors.
type MSIPolicy struct {
	base
	directory bool
}

// NewMSI constructs an MSI policy.
func NewMSI(isL1, uncachedParent, directory bool) *MSIPolicy {
	return &MSIPolicy{base: NewBase(isL1, uncachedParent), directory: directory}
}

func (p *MSIPolicy) Name() string    { return "MSI" }
func (p *MSIPolicy) Directory() bool { return p.directory }

func (p *MSIPolicy) CmdForOuterAcquire(cmd Cmd) Cmd {
	if IsFetchWrite(cmd) {
		return CmdForWrite(cmd.RequesterID)
	}
	return CmdForRead(cmd.RequesterID)
}

func (p *MSIPolicy) AccessNeedSync(cmd Cmd, m *meta.Directory) (bool, Cmd) {
	if IsFetchWrite(cmd) {
		if !p.directory {
			return m.State != meta.Invalid && true, CmdForProbeRelease(cmd.RequesterID)
		}
		if m.SharerCount() == 0 || (m.SharerCount() == 1 && m.IsSharer(cmd.RequesterID)) {
			return false, Cmd{}
		}
		return true, CmdForProbeRelease(cmd.RequesterID)
	}
	// fetch_read: only need to sync if some child currently holds exclusive
	// write permission (cache's own state reflects that).
	if m.State == meta.Modified || m.State == meta.Exclusive {
		return true, CmdForProbeDowngrade(cmd.RequesterID)
	}
	return false, Cmd{}
}

func (p *MSIPolicy) AccessNeedPromote(cmd Cmd, m *meta.Directory) (bool, bool, Cmd) {
	if IsFetchWrite(cmd) {
		if m.State == meta.Modified {
			return false, false, Cmd{}
		}
		return true, false, p.CmdForOuterAcquire(cmd)
	}
	return false, false, Cmd{}
}

func (p *MSIPolicy) MetaAfterFetch(cmd Cmd, m *meta.Directory, addr uint64) {
	if m.State == meta.Invalid {
		m.Init(addr)
	}
	if IsFetchWrite(cmd) {
		m.ToModified(-1)
	} else {
		m.ToShared(-1)
	}
}

func (p *MSIPolicy) MetaAfterGrant(cmd Cmd, m *meta.Directory, mInner *meta.Directory) {
	if IsFetchWrite(cmd) {
		m.ToModified(cmd.RequesterID)
		if p.directory {
			m.ClearSharersExcept(cmd.RequesterID)
		}
		mInner.ToModified(-1)
		return
	}
	if p.directory {
		m.AddSharer(cmd.RequesterID)
	}
	mInner.ToShared(-1)
}

func (p *MSIPolicy) ProbeNeedProbe(cmd Cmd, m *meta.Directory, targetInnerID int32) bool {
	if targetInnerID == cmd.RequesterID {
		return false
	}
	if p.directory {
		return m.IsSharer(targetInnerID)
	}
	return m.State != meta.Invalid
}

func (p *MSIPolicy) ProbeNeedWriteback(cmd Cmd, m *meta.Directory) bool { return true }

func (p *MSIPolicy) MetaAfterProbe(cmd Cmd, m *meta.Directory, sourceID int32) (bool, bool) {
	if m.State == meta.Invalid {
		return false, false
	}
	wb := m.Dirty
	if IsDowngrade(cmd) {
		m.Dirty = false
		m.State = meta.Shared
		return true, wb
	}
	m.ToInvalid()
	return true, wb
}

func (p *MSIPolicy) MetaAfterWriteback(cmd Cmd, m *meta.Directory) { m.SetDirty(false) }

func (p *MSIPolicy) MetaAfterEvict(m *meta.Directory) { m.ToInvalid() }

func (p *MSIPolicy) MetaAfterRelease(cmd Cmd, m *meta.Directory, mInner *meta.Directory) {
	if IsWriteback(cmd) {
		m.SetDirty(true)
	}
	if p.directory {
		m.DelSharer(cmd.RequesterID)
	}
}

func (p *MSIPolicy) MetaAfterFlush(cmd Cmd, m *meta.Directory) {
	if IsWriteback(cmd) {
		m.SetDirty(false)
		return
	}
	m.ToInvalid()
}

func (p *MSIPolicy) ReleaseNeedSync(cmd Cmd, m *meta.Directory) bool { return false }

func (p *MSIPolicy) WritebackNeedSync(m *meta.Directory) bool { return m.State != meta.Invalid }

func (p *MSIPolicy) WritebackNeedWriteback(m *meta.Directory) bool { return m.Dirty }

func (p *MSIPolicy) FlushNeedSync(cmd Cmd, m *meta.Directory) bool { return m.State != meta.Invalid }
