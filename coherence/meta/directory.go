package meta

import "github.com/bits-and-blooms/bitset"

// MaxSharers is the largest number of children (ids 0..62) a directory-backed
// line tracks (§3: "a bitmap of inner sharers ... up to 63"). Construction must reject a
// node with more children than this (§7 structural misconfiguration).
const MaxSharers = 63

// Directory is a Line extended with an inner-sharer bitmap, used by MSI/MESI
// directory variants and by the directory-exclusive cache (§4.7). The
// bitmap is backed by bits-and-blooms/bitset rather than a hand-rolled
// uint64 mask so sharer-set operations (union for probe filtering,
// cardinality for "sole sharer" checks) read as set algebra.
type Directory struct {
	Line
	sharers *bitset.BitSet
}

// NewDirectory constructs an invalid directory-backed line.
func NewDirectory() *Directory {
	return &Directory{sharers: bitset.New(MaxSharers + 1)}
}

// ToInvalid additionally clears the sharer bitmap, preserving the §3
// invariant "if state = I -> sharer bitmap empty".
func (d *Directory) ToInvalid() {
	d.Line.ToInvalid()
	d.sharers.ClearAll()
}

// AddSharer records childID as holding the line at a non-invalid state.
func (d *Directory) AddSharer(childID int32) {
	if childID < 0 {
		return // uncached requester, no bitmap slot
	}
	d.sharers.Set(uint(childID))
}

// DelSharer removes childID from the sharer set (probe-invalidate, eviction).
func (d *Directory) DelSharer(childID int32) {
	if childID < 0 {
		return
	}
	d.sharers.Clear(uint(childID))
}

// IsSharer reports whether childID is currently recorded as a sharer.
func (d *Directory) IsSharer(childID int32) bool {
	if childID < 0 {
		return false
	}
	return d.sharers.Test(uint(childID))
}

// IsExclusiveSharer reports whether childID is the *only* recorded sharer —
// the MESI "grant E instead of S on a read" condition (§4.4, meta_after_grant).
func (d *Directory) IsExclusiveSharer(childID int32) bool {
	return d.IsSharer(childID) && d.sharers.Count() == 1
}

// SharerCount returns the number of children currently recorded as sharers.
func (d *Directory) SharerCount() uint {
	return d.sharers.Count()
}

// ClearSharersExcept removes every sharer except keep (MI's "any peer
// holding the line must release" collapsing to a single writer).
func (d *Directory) ClearSharersExcept(keep int32) {
	d.sharers.ClearAll()
	d.AddSharer(keep)
}

// ForEachSharer calls fn once per sharer id currently set, in ascending
// order. Used by probe fan-out to restrict dispatch to known sharers
// (directory form of §4.5's probe algorithm).
func (d *Directory) ForEachSharer(fn func(childID int32)) {
	for i, e := d.sharers.NextSet(0); e; i, e = d.sharers.NextSet(i + 1) {
		fn(int32(i))
	}
}

// CopyFrom overwrites d with src's full record (state, dirty bits, tag,
// sharer bitmap), leaving src untouched — the metadata-move half of a
// cuckoo relocation, which repoints a line to a different slot without
// touching its data.
func (d *Directory) CopyFrom(src *Directory) {
	d.Line = src.Line
	d.sharers = src.sharers.Clone()
}
