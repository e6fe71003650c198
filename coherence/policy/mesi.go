package policy

import "github.com/Voskan/coherentcache/coherence/meta"

// MESIPolicy adds the Exclusive state to MSI: a line fetched for read that
// the directory confirms has no other sharer is granted Exclusive instead of
// Shared, enabling a subsequent write hit to self-promote to Modified
// without contacting the parent. Directory-only (see §4.4's MESI note and
// original_source/cache/mesi.hpp, "support only directory based outer").
type MESIPolicy struct {
	*MSIPolicy
}

// NewMESI constructs a MESI policy. directory is forced true — MESI's E
// state is meaningless without sharer tracking.
func NewMESI(isL1, uncachedParent bool) *MESIPolicy {
	return &MESIPolicy{MSIPolicy: NewMSI(isL1, uncachedParent, true)}
}

func (p *MESIPolicy) Name() string { return "MESI" }

// AccessNeedPromote overrides MSI: a write hit while this cache holds
// Exclusive can self-promote to Modified without forwarding to the parent,
// since Exclusive already guarantees no sibling holds a copy.
func (p *MESIPolicy) AccessNeedPromote(cmd Cmd, m *meta.Directory) (bool, bool, Cmd) {
	if IsFetchWrite(cmd) {
		switch m.State {
		case meta.Modified:
			return false, false, Cmd{}
		case meta.Exclusive:
			return false, true, Cmd{}
		}
		return true, false, p.CmdForOuterAcquire(cmd)
	}
	return false, false, Cmd{}
}

// MetaAfterGrant overrides MSI: a read grant that leaves the requester as
// the sole directory sharer is promoted to Exclusive instead of Shared.
func (p *MESIPolicy) MetaAfterGrant(cmd Cmd, m *meta.Directory, mInner *meta.Directory) {
	if IsFetchWrite(cmd) {
		m.ToModified(cmd.RequesterID)
		m.ClearSharersExcept(cmd.RequesterID)
		mInner.ToModified(-1)
		return
	}
	m.AddSharer(cmd.RequesterID)
	if m.IsExclusiveSharer(cmd.RequesterID) {
		m.State = meta.Exclusive
		mInner.ToExclusive(-1)
		return
	}
	m.State = meta.Shared
	mInner.ToShared(-1)
}
