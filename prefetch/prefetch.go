// Package prefetch provides hardware memory-prefetch predictors.
//
// Every predictor observes a stream of memory accesses, each tagged with the
// issuing PC and the referenced address, and decides online which extra
// blocks to request before they are demanded. Predictors talk to the cache
// they serve only through the Host interface: they can ask whether a block is
// resident or in flight, query and set a per-block prefetch flag, and issue
// prefetch requests. The host never tells a predictor that a block was
// evicted; predictors that need to know poll residency instead.
//
// All predictors are single-threaded. The host serializes calls to Access and
// Complete, and replaying the same access sequence reproduces the same
// prefetch requests.
package prefetch

import (
	"github.com/go-logr/logr"
)

// Addr is a memory or instruction address.
type Addr = uint64

// AccessStat describes one observed memory access.
type AccessStat struct {
	// PC is the address of the instruction that issued the access.
	PC Addr
	// Addr is the referenced memory address.
	Addr Addr
	// Miss is true if the access missed in the cache being prefetched into.
	Miss bool
}

// Host is the cache a predictor serves.
type Host interface {
	// IssuePrefetch requests a speculative fetch of the block holding addr.
	// The host may silently drop the request.
	IssuePrefetch(addr Addr)
	// IsResident reports whether the block holding addr is in the cache.
	IsResident(addr Addr) bool
	// IsInFlight reports whether a fetch for the block is outstanding.
	IsInFlight(addr Addr) bool
	// WasPrefetched reports whether the block was brought in by a prefetch.
	WasPrefetched(addr Addr) bool
	// MarkPrefetched sets the prefetch flag of the block holding addr.
	MarkPrefetched(addr Addr)
}

// Prefetcher is the interface shared by all predictor variants.
type Prefetcher interface {
	// Name returns the variant name, as accepted by Config.Kind.
	Name() string
	// Init validates the configuration and allocates every table in its
	// empty state. Calling Init again discards all learned state.
	Init() error
	// Access is called once per observed memory access, in program order.
	Access(stat AccessStat)
	// Complete is called when a block requested by the prefetcher arrives.
	Complete(addr Addr)
	// Stats returns the predictor's counters.
	Stats() Stats
}

// Stats holds counters common to all predictors.
type Stats struct {
	// Accesses is the number of Access calls.
	Accesses uint64
	// Triggers is the number of accesses that consulted the prediction tables.
	Triggers uint64
	// Issued is the number of prefetch requests passed to the host.
	Issued uint64
	// Redundant is the number of candidates skipped because the block was
	// already resident or in flight.
	Redundant uint64
	// Evictions is the number of live table rows replaced under pressure.
	Evictions uint64
	// Completions is the number of Complete calls.
	Completions uint64
}

// Option is a functional option for configuring a Prefetcher.
type Option func(*base)

// WithLogger sets the logger used for debug tracing. Table updates and
// issued prefetches are logged at V(1).
func WithLogger(log logr.Logger) Option {
	return func(b *base) {
		b.log = log
	}
}

// base carries the state every variant shares.
type base struct {
	config  Config
	host    Host
	indexer Indexer
	log     logr.Logger
	stats   Stats
}

func newBase(config Config, host Host, opts []Option) base {
	b := base{
		config: config,
		host:   host,
		log:    logr.Discard(),
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// reset validates the configuration for kind and rebuilds the shared state.
func (b *base) reset(kind string) error {
	if err := b.config.validateFor(kind); err != nil {
		return err
	}
	if b.host == nil {
		return errNilHost
	}
	b.indexer = NewIndexer(b.config.BlockSize, b.config.RegionBlocks)
	b.stats = Stats{}
	return nil
}

// Stats returns the predictor's counters.
func (b *base) Stats() Stats {
	return b.stats
}

// Complete marks the arrived block as prefetched.
func (b *base) Complete(addr Addr) {
	b.stats.Completions++
	b.host.MarkPrefetched(b.indexer.BlockAddr(addr))
}

// redundant reports whether addr is already resident or in flight.
func (b *base) redundant(addr Addr) bool {
	return b.host.IsResident(addr) || b.host.IsInFlight(addr)
}

// issue requests addr unless it is already resident or in flight. It
// returns true if the request was passed to the host.
func (b *base) issue(addr Addr) bool {
	addr = b.indexer.BlockAddr(addr)
	if b.redundant(addr) {
		b.stats.Redundant++
		return false
	}

	b.stats.Issued++
	b.log.V(1).Info("issue prefetch", "addr", addr)
	b.host.IssuePrefetch(addr)
	return true
}
