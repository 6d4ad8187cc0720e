// Package harness replays memory access traces through the host cache with
// a prefetcher attached and reports how well each prefetcher did.
package harness

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/sarchlab/prefetchsim/prefetch"
	"github.com/sarchlab/prefetchsim/timing/cache"
	"github.com/sarchlab/prefetchsim/trace"
)

// ctxCheckInterval is how many accesses Run replays between context checks.
const ctxCheckInterval = 4096

// Result holds the outcome of replaying one trace with one prefetcher.
type Result struct {
	// Name identifies the trace
	Name string `json:"name"`

	// Prefetcher is the prefetcher kind
	Prefetcher string `json:"prefetcher"`

	// Accesses is the number of demand accesses replayed
	Accesses uint64 `json:"accesses"`

	// Hits/Misses of demand accesses
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`

	// MissRate is Misses / Accesses
	MissRate float64 `json:"miss_rate"`

	// Triggers is the number of accesses the prefetcher acted on
	Triggers uint64 `json:"triggers"`

	// Issued is the number of prefetches the prefetcher sent to the cache
	Issued uint64 `json:"issued"`

	// Redundant is the number of candidates filtered as resident or in flight
	Redundant uint64 `json:"redundant"`

	// TableEvictions counts valid rows the prefetcher displaced
	TableEvictions uint64 `json:"table_evictions"`

	// Dropped is the number of prefetches the cache rejected
	Dropped uint64 `json:"dropped"`

	// Fills is the number of prefetched blocks installed
	Fills uint64 `json:"fills"`

	// Useful/Late/Useless prefetch counts from the cache
	Useful  uint64 `json:"useful"`
	Late    uint64 `json:"late"`
	Useless uint64 `json:"useless"`

	// Coverage is Useful / (Useful + Misses)
	Coverage float64 `json:"coverage"`

	// Accuracy is Useful / Fills
	Accuracy float64 `json:"accuracy"`

	// WallTime is the actual time taken to replay the trace
	WallTime time.Duration `json:"wall_time_ns"`
}

// Config configures the harness.
type Config struct {
	// Cache is the host cache every run is evaluated against
	Cache cache.Config

	// Output is where to write results (default: os.Stdout)
	Output io.Writer

	// Logger receives prefetcher debug output
	Logger logr.Logger

	// Verbose enables detailed output
	Verbose bool
}

// DefaultConfig returns a default harness configuration.
func DefaultConfig() Config {
	return Config{
		Cache:  cache.DefaultL1DConfig(),
		Output: os.Stdout,
		Logger: logr.Discard(),
	}
}

// Harness replays traces and reports results.
type Harness struct {
	config Config
}

// NewHarness creates a new harness.
func NewHarness(config Config) *Harness {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Logger.GetSink() == nil {
		config.Logger = logr.Discard()
	}
	return &Harness{config: config}
}

// Config returns the harness configuration.
func (h *Harness) Config() Config {
	return h.config
}

// Run replays records through a fresh cache with the prefetcher described
// by pconf attached.
func (h *Harness) Run(
	ctx context.Context,
	name string,
	pconf prefetch.Config,
	records []trace.Record,
) (Result, error) {
	if pconf.BlockSize != uint64(h.config.Cache.BlockSize) {
		return Result{}, fmt.Errorf(
			"prefetcher block size %d does not match cache block size %d",
			pconf.BlockSize, h.config.Cache.BlockSize)
	}

	c := cache.New(h.config.Cache)
	log := h.config.Logger.WithValues("trace", name, "prefetcher", pconf.Kind)

	p, err := prefetch.New(pconf, c, prefetch.WithLogger(log))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create prefetcher: %w", err)
	}
	c.OnFill(p.Complete)

	start := time.Now()
	for i, r := range records {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
		}

		c.Tick()
		res := c.Access(r.Addr)
		p.Access(prefetch.AccessStat{PC: r.PC, Addr: r.Addr, Miss: !res.Hit})

		// Only the first demand hit counts as a prefetch hit.
		if res.PrefetchHit {
			c.ClearPrefetched(r.Addr)
		}
	}
	c.Drain()
	wall := time.Since(start)

	result := newResult(name, p.Name(), c.Stats(), p.Stats())
	result.WallTime = wall

	if h.config.Verbose {
		log.Info("run complete",
			"accesses", result.Accesses,
			"coverage", result.Coverage,
			"accuracy", result.Accuracy)
	}

	return result, nil
}

// RunAll replays records once per prefetcher config, concurrently. Results
// are returned in the order of pconfs.
func (h *Harness) RunAll(
	ctx context.Context,
	name string,
	pconfs []prefetch.Config,
	records []trace.Record,
) ([]Result, error) {
	results := make([]Result, len(pconfs))

	g, ctx := errgroup.WithContext(ctx)
	for i, pconf := range pconfs {
		g.Go(func() error {
			r, err := h.Run(ctx, name, pconf, records)
			if err != nil {
				return fmt.Errorf("%s: %w", pconf.Kind, err)
			}
			results[i] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func newResult(
	name, kind string,
	cs cache.Statistics,
	ps prefetch.Stats,
) Result {
	r := Result{
		Name:           name,
		Prefetcher:     kind,
		Accesses:       cs.Accesses,
		Hits:           cs.Hits,
		Misses:         cs.Misses,
		Triggers:       ps.Triggers,
		Issued:         ps.Issued,
		Redundant:      ps.Redundant,
		TableEvictions: ps.Evictions,
		Dropped:        cs.PrefetchDropped,
		Fills:          cs.PrefetchFills,
		Useful:         cs.UsefulPrefetches,
		Late:           cs.LatePrefetches,
		Useless:        cs.UselessPrefetches,
	}

	Derive(&r)
	return r
}

// Derive fills in the rates of r from its counters.
func Derive(r *Result) {
	r.MissRate = ratio(r.Misses, r.Accesses)
	r.Coverage = ratio(r.Useful, r.Useful+r.Misses)
	r.Accuracy = ratio(r.Useful, r.Fills)
}

func ratio(num, den uint64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
