package main

// tracegen.go is a tiny helper utility to generate deterministic address
// traces for standalone replay against a constructed cache hierarchy
// (outside `go test`). It emits newline-separated "<op> <core> <addr>"
// records which cmd/cachesimctl consumes.
//
// Usage:
//   go run ./tools/tracegen -n 1000000 -dist=zipf -seed=42 -out trace.txt
//
// Flags:
//   -n          number of records to generate (default 1e6)
//   -dist       address distribution: "uniform" or "zipf" (default uniform)
//   -zipfs      Zipf s parameter (>1)  (default 1.2)
//   -zipfv      Zipf v parameter (>=1) (default 1.0)
//   -addr-bits  address space width in bits, keeps the trace re-touching a
//               working set instead of scattering across all of uint64
//               (default 16, a 64 KiB working set)
//   -cores      number of distinct core ids records are spread across
//               (default 4)
//   -write-frac fraction of records that are writes rather than reads
//               (default 0.3)
//   -flush-frac fraction of records that are flushes rather than
//               read/write (default 0.01)
//   -seed       RNG seed (default current time)
//   -out        output file (default stdout)
//
// The program is embarrassingly simple but placed under version control so
// any contributor can regenerate the exact trace used in a performance
// regression hunt.
import (
	"bufio"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"
)

func main() {
	var (
		n         = flag.Int("n", 1_000_000, "number of records to generate")
		dist      = flag.String("dist", "uniform", "address distribution: uniform or zipf")
		zipfS     = flag.Float64("zipfs", 1.2, "zipf s parameter (>1)")
		zipfV     = flag.Float64("zipfv", 1.0, "zipf v parameter (>=1)")
		addrBits  = flag.Int("addr-bits", 16, "address space width in bits")
		cores     = flag.Int("cores", 4, "number of distinct core ids")
		writeFrac = flag.Float64("write-frac", 0.3, "fraction of records that are writes")
		flushFrac = flag.Float64("flush-frac", 0.01, "fraction of records that are flushes")
		seedVal   = flag.Int64("seed", time.Now().UnixNano(), "PRNG seed")
		outPath   = flag.String("out", "", "output file (default stdout)")
	)
	flag.Parse()

	if *cores <= 0 {
		fmt.Fprintln(os.Stderr, "cores must be > 0")
		os.Exit(1)
	}

	rnd := rand.New(rand.NewSource(*seedVal))

	var addrGen func() uint64
	mask := uint64(1)<<uint(*addrBits) - 1
	switch *dist {
	case "uniform":
		addrGen = func() uint64 { return rnd.Uint64() & mask &^ 0x3F }
	case "zipf":
		if *zipfS <= 1.0 || *zipfV < 1.0 {
			fmt.Fprintln(os.Stderr, "zipfs must be >1 and zipfv >=1")
			os.Exit(1)
		}
		z := rand.NewZipf(rnd, *zipfS, *zipfV, mask)
		addrGen = func() uint64 { return z.Uint64() &^ 0x3F }
	default:
		fmt.Fprintln(os.Stderr, "unknown dist:", *dist)
		os.Exit(1)
	}

	var out *os.File
	var err error
	if *outPath == "" {
		out = os.Stdout
	} else {
		out, err = os.Create(*outPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "cannot create file:", err)
			os.Exit(1)
		}
		defer out.Close()
	}

	w := bufio.NewWriterSize(out, 1<<20)
	defer w.Flush()

	for i := 0; i < *n; i++ {
		addr := addrGen()
		core := rnd.Intn(*cores)
		op := opFor(rnd.Float64(), *writeFrac, *flushFrac)
		fmt.Fprintf(w, "%s %d %x\n", op, core, addr)
	}
}

// opFor maps a uniform draw in [0,1) to a trace opcode: a small flush slice,
// then a write slice, with the remainder reads.
func opFor(draw, writeFrac, flushFrac float64) string {
	switch {
	case draw < flushFrac:
		return "F"
	case draw < flushFrac+writeFrac:
		return "W"
	default:
		return "R"
	}
}
