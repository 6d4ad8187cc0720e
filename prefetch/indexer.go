package prefetch

import "math/bits"

// Indexer computes table indices and region decompositions of addresses.
type Indexer struct {
	blockSize    uint64
	blockBits    uint
	regionBlocks uint64
	regionSize   uint64
}

// NewIndexer creates an Indexer for the given block size in bytes and region
// size in blocks. blockSize must be a power of 2.
func NewIndexer(blockSize uint64, regionBlocks int) Indexer {
	if regionBlocks < 1 {
		regionBlocks = 1
	}
	return Indexer{
		blockSize:    blockSize,
		blockBits:    Log2(blockSize),
		regionBlocks: uint64(regionBlocks),
		regionSize:   uint64(regionBlocks) * blockSize,
	}
}

// Log2 returns floor(log2(n)). Log2(0) is 0.
func Log2(n uint64) uint {
	if n == 0 {
		return 0
	}
	return uint(bits.Len64(n) - 1)
}

// Index returns the low nBits bits of key.
func Index(key uint64, nBits uint) int {
	return int(key & (1<<nBits - 1))
}

// BlockSize returns the block size in bytes.
func (x Indexer) BlockSize() uint64 {
	return x.blockSize
}

// RegionBlocks returns the region size in blocks.
func (x Indexer) RegionBlocks() int {
	return int(x.regionBlocks)
}

// BlockAddr returns the address of the block holding addr.
func (x Indexer) BlockAddr(addr Addr) Addr {
	return addr &^ (x.blockSize - 1)
}

// BlockNumber returns addr divided by the block size.
func (x Indexer) BlockNumber(addr Addr) uint64 {
	return addr >> x.blockBits
}

// RegionBase returns the first address of the region holding addr.
func (x Indexer) RegionBase(addr Addr) Addr {
	return addr - addr%x.regionSize
}

// BlockOffset returns the offset of addr within its region, in blocks.
func (x Indexer) BlockOffset(addr Addr) int {
	return int(addr % x.regionSize / x.blockSize)
}

// RegionBlock returns the address of block offset within the region at base.
func (x Indexer) RegionBlock(base Addr, offset int) Addr {
	return base + uint64(offset)*x.blockSize
}
