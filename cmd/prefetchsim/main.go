// Package main provides the entry point for prefetchsim.
// prefetchsim replays memory access traces against a cache with hardware
// prefetchers attached and reports coverage and accuracy.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/pprof"
	"strings"

	"github.com/go-logr/logr"

	"github.com/sarchlab/prefetchsim/harness"
	"github.com/sarchlab/prefetchsim/prefetch"
	"github.com/sarchlab/prefetchsim/results"
	"github.com/sarchlab/prefetchsim/timing/cache"
	"github.com/sarchlab/prefetchsim/trace"
)

// options holds the parsed command line.
type options struct {
	configPath  string
	prefetchers string
	cacheLevel  string
	synthetic   string
	n           int
	seed        uint64
	csv         bool
	jsonPath    string
	dbPath      string
	cpuProfile  string
	memProfile  string
	verbose     bool
	tracePath   string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options

	fs := flag.NewFlagSet("prefetchsim", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "", "Path to prefetcher configuration JSON or YAML file")
	fs.StringVar(&o.prefetchers, "prefetcher", "all", "Comma-separated prefetcher kinds, or all")
	fs.StringVar(&o.cacheLevel, "cache", "l1d", "Host cache preset (l1d or l2)")
	fs.StringVar(&o.synthetic, "synthetic", trace.SyntheticMixed,
		"Synthetic trace used when no trace file is given ("+strings.Join(trace.Synthetics, ", ")+")")
	fs.IntVar(&o.n, "n", 100000, "Number of accesses in a synthetic trace")
	fs.Uint64Var(&o.seed, "seed", 1, "Seed for synthetic traces")
	fs.BoolVar(&o.csv, "csv", false, "Output results as CSV")
	fs.StringVar(&o.jsonPath, "json", "", "Write a JSON report to file")
	fs.StringVar(&o.dbPath, "db", "", "Store results in a SQLite database")
	fs.StringVar(&o.cpuProfile, "cpuprofile", "", "write cpu profile to file")
	fs.StringVar(&o.memProfile, "memprofile", "", "write memory profile to file")
	fs.BoolVar(&o.verbose, "v", false, "Verbose output")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: prefetchsim [options] [trace.txt]\n")
		fmt.Fprintf(stderr, "\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() > 1 {
		fs.Usage()
		return o, fmt.Errorf("expected at most one trace file, got %d", fs.NArg())
	}
	o.tracePath = fs.Arg(0)

	return o, nil
}

func main() {
	o, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, o, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, o options, stdout, stderr io.Writer) error {
	if o.cpuProfile != "" {
		f, err := os.Create(o.cpuProfile)
		if err != nil {
			return fmt.Errorf("failed to create CPU profile: %w", err)
		}
		defer func() { _ = f.Close() }()

		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("failed to start CPU profile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}

	log := logr.Discard()
	if o.verbose {
		log = logr.FromSlogHandler(slog.NewTextHandler(stderr, &slog.HandlerOptions{
			Level: slog.Level(-1),
		}))
	}

	cacheConfig, err := cachePreset(o.cacheLevel)
	if err != nil {
		return err
	}

	pconfs, err := prefetcherConfigs(o)
	if err != nil {
		return err
	}

	name, records, err := loadTrace(o)
	if err != nil {
		return err
	}
	digest := trace.Digest(records)

	if o.verbose {
		fmt.Fprintf(stderr, "Trace: %s (%d accesses, digest %s)\n", name, len(records), digest)
	}

	h := harness.NewHarness(harness.Config{
		Cache:   cacheConfig,
		Output:  stdout,
		Logger:  log,
		Verbose: o.verbose,
	})

	res, err := h.RunAll(ctx, name, pconfs, records)
	if err != nil {
		return err
	}

	if o.csv {
		h.PrintCSV(res)
	} else {
		h.PrintResults(res)
	}

	if o.jsonPath != "" {
		if err := harness.WriteJSON(o.jsonPath, h.NewReport(name, digest, res)); err != nil {
			return err
		}
	}

	if o.dbPath != "" {
		id, err := saveResults(ctx, o.dbPath, name, digest, res)
		if err != nil {
			return err
		}
		if o.verbose {
			fmt.Fprintf(stderr, "Stored run %s in %s\n", id, o.dbPath)
		}
	}

	if o.memProfile != "" {
		f, err := os.Create(o.memProfile)
		if err != nil {
			return fmt.Errorf("failed to create memory profile: %w", err)
		}
		defer func() { _ = f.Close() }()

		if err := pprof.WriteHeapProfile(f); err != nil {
			return fmt.Errorf("failed to write memory profile: %w", err)
		}
	}

	return nil
}

func cachePreset(level string) (cache.Config, error) {
	switch level {
	case "l1d":
		return cache.DefaultL1DConfig(), nil
	case "l2":
		return cache.DefaultL2Config(), nil
	default:
		return cache.Config{}, fmt.Errorf("unknown cache preset %q", level)
	}
}

// prefetcherConfigs returns one config per requested kind. A config file
// overrides the defaults of the kind it names.
func prefetcherConfigs(o options) ([]prefetch.Config, error) {
	var override *prefetch.Config
	if o.configPath != "" {
		c, err := prefetch.LoadConfig(o.configPath)
		if err != nil {
			return nil, err
		}
		override = &c
	}

	var kinds []string
	switch {
	case o.prefetchers == "all" && override != nil:
		kinds = []string{override.Kind}
	case o.prefetchers == "all":
		kinds = prefetch.Kinds
	default:
		for _, k := range strings.Split(o.prefetchers, ",") {
			if k = strings.TrimSpace(k); k != "" {
				kinds = append(kinds, k)
			}
		}
	}

	pconfs := make([]prefetch.Config, 0, len(kinds))
	for _, kind := range kinds {
		c := prefetch.DefaultConfig(kind)
		if override != nil && override.Kind == kind {
			c = override.Clone()
		}
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("invalid %s config: %w", kind, err)
		}
		pconfs = append(pconfs, c)
	}
	return pconfs, nil
}

func loadTrace(o options) (string, []trace.Record, error) {
	if o.tracePath != "" {
		records, err := trace.Load(o.tracePath)
		if err != nil {
			return "", nil, err
		}
		return o.tracePath, records, nil
	}

	records, err := trace.Generate(o.synthetic, o.n, o.seed)
	if err != nil {
		return "", nil, err
	}
	return o.synthetic, records, nil
}

func saveResults(
	ctx context.Context,
	path, name, digest string,
	res []harness.Result,
) (string, error) {
	store, err := results.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = store.Close() }()

	return store.Save(ctx, name, digest, res)
}
