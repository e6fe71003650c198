package meta

import (
	"unsafe"

	"github.com/Voskan/coherentcache/internal/unsafehelpers"
)

// BlockBytes is the fixed data-block size (§3: "an optional 64-byte payload").
const BlockBytes = 64

// Data is the optional 64-byte (8×u64) payload of a cache line. A
// void-data cache (data caches tracking coherence only) never allocates one.
type Data struct {
	words [BlockBytes / 8]uint64
}

// Bytes returns a zero-copy []byte view of the payload, backed by
// unsafehelpers so the hot read/write path never allocates.
func (d *Data) Bytes() []byte {
	return unsafehelpers.ByteSliceFrom(unsafe.Pointer(&d.words[0]), BlockBytes)
}

// ReadWord returns the i-th 8-byte word (0..7).
func (d *Data) ReadWord(i int) uint64 { return d.words[i] }

// WriteWord sets the i-th 8-byte word (0..7).
func (d *Data) WriteWord(i int, v uint64) { d.words[i] = v }

// CopyFrom overwrites the payload with src, which must be exactly
// BlockBytes long.
func (d *Data) CopyFrom(src []byte) {
	if len(src) != BlockBytes {
		panic("meta: Data.CopyFrom requires a 64-byte source")
	}
	copy(d.Bytes(), src)
}

// Clone returns a new Data with an identical payload, used when staging a
// buffered fetch (§3 buffer pools) before it is committed to a real slot.
func (d *Data) Clone() *Data {
	nd := &Data{}
	nd.words = d.words
	return nd
}
