package main

// main.go implements the cachesimctl CLI: it builds a small coherent cache
// hierarchy (one L1 per simulated core over a shared outer level over a
// memory backend), replays an address trace produced by tools/tracegen
// against it, and then exposes the resulting statistics over HTTP as a JSON
// snapshot, a Prometheus /metrics endpoint, and the standard pprof surface —
// mirroring the lineage's inspector CLI, except this binary is both the
// driver and the process being inspected rather than a client polling a
// separate target.
//
// Build-time flag: `-ldflags "-X main.version=vX.Y.Z"`.
//
// Usage:
//   go run ./cmd/cachesimctl -trace trace.txt -cores 4 -policy MESI -serve
//
// © 2025 coherentcache authors. MIT License.

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Voskan/coherentcache/coherence/memleaf"
	"github.com/Voskan/coherentcache/coherence/node"
	"github.com/Voskan/coherentcache/monitor"
)

var version = "dev"

type options struct {
	tracePath   string
	listen      string
	cores       int
	iw          int
	nw          int
	policy      node.PolicyVariant
	exclusive   bool
	multithread bool
	serve       bool
	printJSON   bool
	showVersion bool
}

func parseFlags() *options {
	o := &options{}
	flag.StringVar(&o.tracePath, "trace", "", "address trace file (tools/tracegen format); stdin if empty")
	flag.StringVar(&o.listen, "listen", ":6060", "HTTP listen address")
	flag.IntVar(&o.cores, "cores", 4, "number of simulated cores (L1 caches)")
	flag.IntVar(&o.iw, "iw", 6, "index width (2^iw sets per level)")
	flag.IntVar(&o.nw, "nw", 8, "associativity")
	policyName := flag.String("policy", "MSI", "coherence policy: MI, MSI or MESI")
	flag.BoolVar(&o.exclusive, "exclusive", false, "use the exclusive outer-level variant")
	flag.BoolVar(&o.multithread, "multithread", true, "enable the fine-grained concurrency substrate")
	flag.BoolVar(&o.serve, "serve", false, "keep serving HTTP after the trace is replayed")
	flag.BoolVar(&o.printJSON, "json", false, "print the final snapshot as JSON instead of a plain summary")
	flag.BoolVar(&o.showVersion, "version", false, "print the version and exit")
	flag.Parse()
	o.policy = node.PolicyVariant(strings.ToUpper(*policyName))
	return o
}

func main() {
	opts := parseFlags()
	if opts.showVersion {
		fmt.Println(version)
		return
	}

	log, _ := zap.NewProduction()
	defer log.Sync()

	reg := prometheus.NewRegistry()
	hook := newStatsHook(monitor.NewPromHook(reg, log))

	mem, err := memleaf.New(log)
	if err != nil {
		fatal(err)
	}
	defer mem.Close()

	l1s := buildHierarchy(opts, mem, log, hook)

	trace, closeTrace, err := openTrace(opts.tracePath)
	if err != nil {
		fatal(err)
	}
	defer closeTrace()

	replayed, err := replay(trace, l1s)
	if err != nil {
		fatal(err)
	}
	log.Info("trace replay complete", zap.Uint64("records", replayed))

	if opts.printJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(hook.snapshot())
	} else {
		printSummary(hook.snapshot())
	}

	if !opts.serve {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	srv := &http.Server{Addr: opts.listen, Handler: buildMux(reg, hook)}
	go func() {
		log.Info("listening", zap.String("addr", opts.listen))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server exited", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

func buildHierarchy(opts *options, mem *memleaf.Memory, log *zap.Logger, hook monitor.Hook) []*node.Cache {
	outerOpts := []node.Option{
		node.WithIndexWidth(opts.iw + 2),
		node.WithWays(opts.nw * 2),
		node.WithPolicy(opts.policy),
		node.WithExclusive(opts.exclusive),
		node.WithMultithread(opts.multithread),
		node.WithLogger(log),
		node.WithHook(hook),
	}
	outer := node.New("l2", outerOpts...)
	node.ConnectMemory(mem, outer)

	l1s := make([]*node.Cache, opts.cores)
	for i := range l1s {
		l1s[i] = node.New(fmt.Sprintf("l1-%d", i), node.WithIndexWidth(opts.iw), node.WithWays(opts.nw),
			node.WithL1(true), node.WithPolicy(opts.policy), node.WithMultithread(opts.multithread),
			node.WithLogger(log), node.WithHook(hook))
	}
	node.Connect(outer, l1s...)
	return l1s
}

func openTrace(path string) (*bufio.Scanner, func() error, error) {
	if path == "" {
		return bufio.NewScanner(os.Stdin), func() error { return nil }, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return bufio.NewScanner(f), f.Close, nil
}

// replay drives each trace record ("<op> <core> <addr-hex>") against the
// core's L1, returning the count of records successfully applied.
func replay(scanner *bufio.Scanner, l1s []*node.Cache) (uint64, error) {
	var n uint64
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return n, fmt.Errorf("malformed trace record %q", line)
		}
		core, err := strconv.Atoi(fields[1])
		if err != nil || core < 0 || core >= len(l1s) {
			return n, fmt.Errorf("bad core id in record %q", line)
		}
		addr, err := strconv.ParseUint(fields[2], 16, 64)
		if err != nil {
			return n, fmt.Errorf("bad address in record %q", line)
		}
		var delay uint64
		switch strings.ToUpper(fields[0]) {
		case "R":
			l1s[core].Read(addr, &delay)
		case "W":
			l1s[core].Write(addr, make([]byte, 64), &delay)
		case "F":
			l1s[core].Flush(addr, &delay)
		case "B":
			l1s[core].Writeback(addr, &delay)
		default:
			return n, fmt.Errorf("unknown opcode in record %q", line)
		}
		n++
	}
	return n, scanner.Err()
}

func buildMux(reg *prometheus.Registry, hook *statsHook) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/cachesimctl/snapshot", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(hook.snapshot())
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

func printSummary(s statsSnapshot) {
	fmt.Printf("reads:      %d\n", s.Reads)
	fmt.Printf("writes:     %d\n", s.Writes)
	fmt.Printf("invalidates:%d\n", s.Invalidates)
	fmt.Printf("hits:       %d\n", s.Hits)
	fmt.Printf("misses:     %d\n", s.Misses)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "cachesimctl:", err)
	os.Exit(1)
}
