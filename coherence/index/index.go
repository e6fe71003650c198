// Package index implements the indexer and slice-hasher substrate (§4.1):
// mapping an address to a per-partition set index, and to an LLC slice.
package index

import "hash/maphash"

// Func maps an address to one set index per partition. Pure and
// deterministic given its seeds; reseeding is only permitted during a
// remap epoch (remap.go).
type Func interface {
	// Index fills indices (len == partition count) with the set index for
	// each partition.
	Index(addr uint64, indices []uint32)
	// Partitions returns the number of partitions this indexer covers.
	Partitions() int
}

// Norm is the plain set-associative indexer: bits [IW+5:6] of the address,
// one partition.
type Norm struct {
	mask uint32
}

// NewNorm constructs a normal indexer with index width iw (2^iw sets),
// address offset already assumed to be the 6-bit block offset.
func NewNorm(iw int) *Norm {
	return &Norm{mask: uint32(1)<<uint(iw) - 1}
}

func (n *Norm) Partitions() int { return 1 }

func (n *Norm) Index(addr uint64, indices []uint32) {
	indices[0] = uint32(addr>>6) & n.mask
}

// Skewed is the keyed-hash indexer used by skewed and MIRAGE-style caches
// (§4.1, §4.8): P partitions, each with its own seeded 64->IW hash.
type Skewed struct {
	iw   uint
	seed []maphash.Seed
}

// NewSkewed constructs a skewed indexer with p partitions, each hashing to
// 2^iw sets. Seeds are freshly drawn; Reseed replaces them (remap epochs).
func NewSkewed(iw, p int) *Skewed {
	s := &Skewed{iw: uint(iw), seed: make([]maphash.Seed, p)}
	for i := range s.seed {
		s.seed[i] = maphash.MakeSeed()
	}
	return s
}

func (s *Skewed) Partitions() int { return len(s.seed) }

func (s *Skewed) Index(addr uint64, indices []uint32) {
	addrS := addr >> 6
	var buf [8]byte
	for i := range s.seed {
		var h maphash.Hash
		h.SetSeed(s.seed[i])
		putUint64(buf[:], addrS)
		h.Write(buf[:])
		indices[i] = uint32(h.Sum64()) & (uint32(1)<<s.iw - 1)
	}
}

// Reseed replaces every partition's hash key with a fresh random seed, used
// when a remap epoch completes (§4.9).
func (s *Skewed) Reseed() {
	for i := range s.seed {
		s.seed[i] = maphash.MakeSeed()
	}
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

// NewRandom constructs a set-associative "random" indexer: a single
// partition, keyed hash instead of a direct bit slice, per §4.1's random
// indexing use case.
func NewRandom(iw int) *Skewed { return NewSkewed(iw, 1) }
