// Package bench provides reproducible micro-benchmarks for the coherence
// engine. Run via:  go test ./bench -bench=. -benchmem -cpu 1,4,16
//
// The benchmarks intentionally use a single 64-byte block shape so results
// are comparable across versions:
//   1. Write         — write-only workload against a single L1
//   2. Read          — read-only workload (after warm-up)
//   3. ReadParallel   — highly concurrent reads across several L1s sharing
//                       one outer level (b.RunParallel)
//   4. MixedReadWrite — 90% reads, 10% writes against a single L1
//
// Results are printed in ns/op + alloc/op so CI can diff via benchstat.
//
// NOTE: correctness tests live in coherence/node; this file is only for
// performance.
//
// © 2025 coherentcache authors. MIT License.
package bench

import (
	"math/rand"
	"runtime"
	"testing"

	"github.com/Voskan/coherentcache/coherence/memleaf"
	"github.com/Voskan/coherentcache/coherence/node"
)

const (
	iw   = 10 // 1024 sets
	nw   = 8
	keys = 1 << 16 // 64K distinct block addresses for dataset
)

// global dataset reused across benches to avoid reallocating large slices.
var ds = func() []uint64 {
	arr := make([]uint64, keys)
	for i := range arr {
		arr[i] = rand.Uint64() &^ 0x3F
	}
	return arr
}()

func newTestHierarchy(b *testing.B) *node.Cache {
	b.Helper()
	mem, err := memleaf.New(nil)
	if err != nil {
		b.Fatalf("memory init: %v", err)
	}
	b.Cleanup(func() { _ = mem.Close() })
	l1 := node.New("l1", node.WithIndexWidth(iw), node.WithWays(nw), node.WithL1(true), node.WithMultithread(true))
	node.ConnectMemory(mem, l1)
	return l1
}

func newTestMultiCore(b *testing.B, cores int) []*node.Cache {
	b.Helper()
	mem, err := memleaf.New(nil)
	if err != nil {
		b.Fatalf("memory init: %v", err)
	}
	b.Cleanup(func() { _ = mem.Close() })

	l2 := node.New("l2", node.WithIndexWidth(iw+2), node.WithWays(nw*2), node.WithMultithread(true))
	node.ConnectMemory(mem, l2)

	l1s := make([]*node.Cache, cores)
	for i := range l1s {
		l1s[i] = node.New("l1", node.WithIndexWidth(iw), node.WithWays(nw), node.WithL1(true), node.WithMultithread(true))
	}
	node.Connect(l2, l1s...)
	return l1s
}

func BenchmarkWrite(b *testing.B) {
	l1 := newTestHierarchy(b)
	val := make([]byte, 64)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l1.Write(ds[i&(keys-1)], val, nil)
	}
}

func BenchmarkRead(b *testing.B) {
	l1 := newTestHierarchy(b)
	val := make([]byte, 64)
	for _, addr := range ds {
		l1.Write(addr, val, nil)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = l1.Read(ds[i&(keys-1)], nil)
	}
}

func BenchmarkReadParallel(b *testing.B) {
	l1s := newTestMultiCore(b, 8)
	val := make([]byte, 64)
	for _, l1 := range l1s {
		for _, addr := range ds {
			l1.Write(addr, val, nil)
		}
	}
	b.ReportAllocs()
	b.ResetTimer()
	var counter int
	b.RunParallel(func(pb *testing.PB) {
		core := counter % len(l1s)
		counter++
		l1 := l1s[core]
		idx := rand.Intn(keys)
		for pb.Next() {
			idx = (idx + 1) & (keys - 1)
			_ = l1.Read(ds[idx], nil)
		}
	})
}

func BenchmarkMixedReadWrite(b *testing.B) {
	l1 := newTestHierarchy(b)
	val := make([]byte, 64)
	for i, addr := range ds {
		if i%10 != 0 { // 90% pre-fill
			l1.Write(addr, val, nil)
		}
	}
	b.ReportAllocs()
	b.ResetTimer()
	var writes int
	for i := 0; i < b.N; i++ {
		addr := ds[i&(keys-1)]
		if i%10 == 0 {
			l1.Write(addr, val, nil)
			writes++
		} else {
			_ = l1.Read(addr, nil)
		}
	}
	b.ReportMetric(float64(writes)/float64(b.N)*100, "write-%")
}

func init() {
	runtime.GOMAXPROCS(runtime.NumCPU())
}
