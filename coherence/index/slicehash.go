package index

import "math/bits"

// SliceHash maps an address to one of N LLC slices (§4.10).
type SliceHash interface {
	Slice(addr uint64) uint32
}

// ModHash is the plain (addr>>6) mod N slice hasher.
type ModHash struct{ n uint32 }

// NewModHash constructs a modulo slice hasher over n slices.
func NewModHash(n uint32) *ModHash { return &ModHash{n: n} }

func (m *ModHash) Slice(addr uint64) uint32 { return uint32(addr>>6) % m.n }

// Intel-CAS XOR-fold polynomials (§6), fixed constants for N in {2,4,8}.
const (
	polyN2Bit0 uint64 = 0x15F575440
	polyN4Bit1 uint64 = 0x6B5FAA880
	polyN4Bit0 uint64 = 0x35F575440
	polyN8Bit2 uint64 = 0x3CCCC93100
	polyN8Bit1 uint64 = 0x2EB5FAA880
	polyN8Bit0 uint64 = 0x1B5F575400
)

// IntelCAS implements the Intel-CAS XOR-fold slice hash for N in {1,2,4,8}.
type IntelCAS struct{ n uint32 }

// NewIntelCAS constructs an Intel-CAS slice hasher. n must be 1, 2, 4 or 8.
func NewIntelCAS(n uint32) *IntelCAS {
	switch n {
	case 1, 2, 4, 8:
	default:
		panic("index: IntelCAS slice hash supports only N in {1,2,4,8}")
	}
	return &IntelCAS{n: n}
}

func xorFold(addr, poly uint64) uint32 {
	return uint32(bits.OnesCount64(addr&poly) & 1)
}

func (h *IntelCAS) Slice(addr uint64) uint32 {
	switch h.n {
	case 1:
		return 0
	case 2:
		return xorFold(addr, polyN2Bit0)
	case 4:
		b1 := xorFold(addr, polyN4Bit1)
		b0 := xorFold(addr, polyN4Bit0)
		return b1<<1 | b0
	case 8:
		b2 := xorFold(addr, polyN8Bit2)
		b1 := xorFold(addr, polyN8Bit1)
		b0 := xorFold(addr, polyN8Bit0)
		return b2<<2 | b1<<1 | b0
	default:
		panic("index: unreachable slice count")
	}
}
