// Package cache provides the host cache that prefetchers are evaluated
// against, built on Akita cache components.
//
// The cache tracks tags only. Demand misses fill immediately; prefetches
// occupy an MSHR entry for FillLatency accesses before the block is
// installed.
package cache

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// Config holds cache configuration parameters.
type Config struct {
	// Size in bytes
	Size int `json:"size" yaml:"size"`
	// Associativity (number of ways)
	Associativity int `json:"associativity" yaml:"associativity"`
	// BlockSize in bytes (cache line size)
	BlockSize int `json:"block_size" yaml:"block_size"`
	// MSHRSize is the number of outstanding prefetches the cache accepts.
	MSHRSize int `json:"mshr_size" yaml:"mshr_size"`
	// FillLatency is the number of accesses a prefetch stays in flight.
	FillLatency uint64 `json:"fill_latency" yaml:"fill_latency"`
}

// DefaultL1DConfig returns default configuration for L1 data cache.
// Based on Apple M2 specifications:
// - 128KB per performance core (8-way, 64B line)
func DefaultL1DConfig() Config {
	return Config{
		Size:          128 * 1024, // 128KB
		Associativity: 8,          // 8-way
		BlockSize:     64,         // 64B cache line
		MSHRSize:      16,
		FillLatency:   4,
	}
}

// DefaultL2Config returns default configuration for a per-core L2 cache.
func DefaultL2Config() Config {
	return Config{
		Size:          512 * 1024, // 512KB per core
		Associativity: 8,          // 8-way
		BlockSize:     64,
		MSHRSize:      32,
		FillLatency:   12,
	}
}

// AccessResult contains the result of a demand access.
type AccessResult struct {
	// Hit indicates whether the access was a cache hit.
	Hit bool
	// PrefetchHit is true if the block was brought in by a prefetch and
	// this is the first demand access to it.
	PrefetchHit bool
	// Late is true if the access missed on a block whose prefetch was still
	// in flight.
	Late bool
	// Evicted is true if a valid block was evicted.
	Evicted bool
	// EvictedAddr is the address of the evicted block (if Evicted is true).
	EvictedAddr uint64
}

// Statistics holds cache performance statistics.
type Statistics struct {
	Accesses  uint64
	Hits      uint64
	Misses    uint64
	Evictions uint64

	// PrefetchRequests counts IssuePrefetch calls.
	PrefetchRequests uint64
	// PrefetchDropped counts requests for blocks already resident or in
	// flight, or rejected because the MSHR was full.
	PrefetchDropped uint64
	// PrefetchFills counts prefetched blocks installed.
	PrefetchFills uint64
	// UsefulPrefetches counts first demand hits on prefetched blocks.
	UsefulPrefetches uint64
	// LatePrefetches counts demand misses on blocks still being prefetched.
	LatePrefetches uint64
	// UselessPrefetches counts prefetched blocks evicted before any use.
	UselessPrefetches uint64
}

// blockMeta is per-way state kept beside the Akita directory.
type blockMeta struct {
	prefetched bool
}

// pendingFill is a prefetch waiting in the MSHR.
type pendingFill struct {
	addr    uint64
	readyAt uint64
}

// Cache is a tag-only set-associative cache with an MSHR for prefetches.
type Cache struct {
	config Config

	// Akita cache directory for tag/state management
	directory *akitacache.DirectoryImpl
	mshr      akitacache.MSHR

	// Per-block metadata - indexed by (setID * associativity + wayID)
	meta []blockMeta

	// Prefetches in issue order. FillLatency is constant, so the head is
	// always the next to complete.
	pending []pendingFill
	now     uint64

	onFill func(addr uint64)

	stats Statistics
}

// New creates a new cache with the given configuration.
func New(config Config) *Cache {
	numSets := config.Size / (config.Associativity * config.BlockSize)
	totalBlocks := numSets * config.Associativity

	mshrSize := config.MSHRSize
	if mshrSize <= 0 {
		mshrSize = 1
	}

	return &Cache{
		config: config,
		directory: akitacache.NewDirectory(
			numSets,
			config.Associativity,
			config.BlockSize,
			akitacache.NewLRUVictimFinder(),
		),
		mshr: akitacache.NewMSHR(mshrSize),
		meta: make([]blockMeta, totalBlocks),
	}
}

// Config returns the cache configuration.
func (c *Cache) Config() Config {
	return c.config
}

// Stats returns cache statistics.
func (c *Cache) Stats() Statistics {
	return c.stats
}

// OnFill registers fn to be called with the block address of every
// completed prefetch.
func (c *Cache) OnFill(fn func(addr uint64)) {
	c.onFill = fn
}

// blockAddr returns the block-aligned address.
func (c *Cache) blockAddr(addr uint64) uint64 {
	return (addr / uint64(c.config.BlockSize)) * uint64(c.config.BlockSize)
}

// blockIndex computes the index into meta for a block.
func (c *Cache) blockIndex(block *akitacache.Block) int {
	return block.SetID*c.config.Associativity + block.WayID
}

func (c *Cache) lookup(addr uint64) *akitacache.Block {
	block := c.directory.Lookup(0, c.blockAddr(addr)) // PID=0 for now
	if block != nil && block.IsValid {
		return block
	}
	return nil
}

// Access performs a demand access.
func (c *Cache) Access(addr uint64) AccessResult {
	c.stats.Accesses++

	blockAddr := c.blockAddr(addr)
	if block := c.lookup(blockAddr); block != nil {
		c.stats.Hits++
		c.directory.Visit(block) // Update LRU

		result := AccessResult{Hit: true}
		if c.meta[c.blockIndex(block)].prefetched {
			c.stats.UsefulPrefetches++
			result.PrefetchHit = true
		}
		return result
	}

	c.stats.Misses++

	late := c.mshr.Query(0, blockAddr) != nil
	if late {
		// The demand merges with the outstanding prefetch.
		c.stats.LatePrefetches++
		c.mshr.Remove(0, blockAddr)
		c.dropPending(blockAddr)
	}

	result := c.install(blockAddr, false)
	result.Late = late
	return result
}

// install places blockAddr into its victim way.
func (c *Cache) install(blockAddr uint64, prefetched bool) AccessResult {
	result := AccessResult{}

	victim := c.directory.FindVictim(blockAddr)
	if victim == nil {
		// This shouldn't happen with proper directory setup
		return result
	}

	meta := &c.meta[c.blockIndex(victim)]
	if victim.IsValid {
		c.stats.Evictions++
		result.Evicted = true
		result.EvictedAddr = victim.Tag // Tag stores block-aligned address
		if meta.prefetched {
			c.stats.UselessPrefetches++
		}
	}

	victim.Tag = blockAddr
	victim.PID = 0
	victim.IsValid = true
	victim.IsDirty = false
	meta.prefetched = prefetched

	c.directory.Visit(victim) // Update LRU
	return result
}

// Tick advances time by one access and installs the prefetches whose fill
// latency has elapsed.
func (c *Cache) Tick() {
	c.now++

	for len(c.pending) > 0 && c.pending[0].readyAt <= c.now {
		fill := c.pending[0]
		c.pending = c.pending[1:]

		c.mshr.Remove(0, fill.addr)
		c.install(fill.addr, false)
		c.stats.PrefetchFills++

		if c.onFill != nil {
			c.onFill(fill.addr)
		}
	}
}

// Drain completes every outstanding prefetch.
func (c *Cache) Drain() {
	for len(c.pending) > 0 {
		if ready := c.pending[0].readyAt; ready > c.now+1 {
			c.now = ready - 1
		}
		c.Tick()
	}
}

func (c *Cache) dropPending(blockAddr uint64) {
	for i, fill := range c.pending {
		if fill.addr == blockAddr {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

// IssuePrefetch requests a prefetch of the block holding addr. Requests for
// blocks already resident or in flight, or arriving while the MSHR is full,
// are dropped.
func (c *Cache) IssuePrefetch(addr uint64) {
	c.stats.PrefetchRequests++

	blockAddr := c.blockAddr(addr)
	if c.lookup(blockAddr) != nil ||
		c.mshr.Query(0, blockAddr) != nil ||
		c.mshr.IsFull() {
		c.stats.PrefetchDropped++
		return
	}

	c.mshr.Add(0, blockAddr)
	c.pending = append(c.pending, pendingFill{
		addr:    blockAddr,
		readyAt: c.now + c.config.FillLatency,
	})
}

// IsResident reports whether the block holding addr is in the cache.
func (c *Cache) IsResident(addr uint64) bool {
	return c.lookup(addr) != nil
}

// IsInFlight reports whether a prefetch of the block holding addr is
// outstanding.
func (c *Cache) IsInFlight(addr uint64) bool {
	return c.mshr.Query(0, c.blockAddr(addr)) != nil
}

// WasPrefetched reports whether the block holding addr carries the prefetch
// flag.
func (c *Cache) WasPrefetched(addr uint64) bool {
	block := c.lookup(addr)
	return block != nil && c.meta[c.blockIndex(block)].prefetched
}

// MarkPrefetched sets the prefetch flag of a resident block.
func (c *Cache) MarkPrefetched(addr uint64) {
	if block := c.lookup(addr); block != nil {
		c.meta[c.blockIndex(block)].prefetched = true
	}
}

// ClearPrefetched clears the prefetch flag of a resident block.
func (c *Cache) ClearPrefetched(addr uint64) {
	if block := c.lookup(addr); block != nil {
		c.meta[c.blockIndex(block)].prefetched = false
	}
}

// Reset invalidates all cache lines and drops outstanding prefetches.
func (c *Cache) Reset() {
	c.directory.Reset()
	c.mshr.Reset()
	for i := range c.meta {
		c.meta[i] = blockMeta{}
	}
	c.pending = nil
	c.now = 0
	c.stats = Statistics{}
}
