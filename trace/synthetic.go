package trace

import (
	"fmt"
	"math/rand/v2"
)

// Synthetic trace kinds accepted by Generate.
const (
	SyntheticStride     = "stride"
	SyntheticSpatial    = "spatial"
	SyntheticCorrelated = "correlated"
	SyntheticRandom     = "random"
	SyntheticMixed      = "mixed"
)

// Synthetics lists the synthetic trace kinds.
var Synthetics = []string{
	SyntheticStride,
	SyntheticSpatial,
	SyntheticCorrelated,
	SyntheticRandom,
	SyntheticMixed,
}

const (
	blockSize  = 64
	regionSize = 32 * blockSize

	// correlatedBlocks is the length of the recurring sequence. It is
	// larger than the L1D preset, so every pass keeps missing.
	correlatedBlocks = 3072
)

// Generate builds an n-access synthetic trace. The same kind, n and seed
// always produce the same trace.
func Generate(kind string, n int, seed uint64) ([]Record, error) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	switch kind {
	case SyntheticStride:
		return Stride(0x400, 0x10000000, 2*blockSize, n), nil
	case SyntheticSpatial:
		return spatial(n, rng), nil
	case SyntheticCorrelated:
		return correlated(n, rng), nil
	case SyntheticRandom:
		return Random(0x700, 0x40000000, 1<<28, n, rng), nil
	case SyntheticMixed:
		quarter := (n + 3) / 4
		return Interleave(n,
			Stride(0x400, 0x10000000, 2*blockSize, quarter),
			spatial(quarter, rng),
			correlated(quarter, rng),
			Random(0x700, 0x40000000, 1<<28, quarter, rng),
		), nil
	default:
		return nil, fmt.Errorf("unknown synthetic trace %q", kind)
	}
}

// Stride returns n accesses from pc starting at base, stride bytes apart.
func Stride(pc, base uint64, stride int64, n int) []Record {
	records := make([]Record, n)
	addr := base
	for i := range records {
		records[i] = Record{PC: pc, Addr: addr}
		addr += uint64(stride)
	}
	return records
}

// Spatial visits consecutive regions of regionBytes, touching the given block
// offsets of each region in order, until n accesses are produced.
func Spatial(pc, base, regionBytes uint64, offsets []int, n int) []Record {
	if len(offsets) == 0 {
		return nil
	}

	records := make([]Record, 0, n)
	for region := base; len(records) < n; region += regionBytes {
		for _, off := range offsets {
			if len(records) == n {
				break
			}
			records = append(records, Record{
				PC:   pc,
				Addr: region + uint64(off)*blockSize,
			})
		}
	}
	return records
}

// Correlated repeats seq from pc until n accesses are produced.
func Correlated(pc uint64, seq []uint64, n int) []Record {
	if len(seq) == 0 {
		return nil
	}

	records := make([]Record, n)
	for i := range records {
		records[i] = Record{PC: pc, Addr: seq[i%len(seq)]}
	}
	return records
}

// Random returns n block-aligned accesses spread uniformly over span bytes
// above base.
func Random(pc, base, span uint64, n int, rng *rand.Rand) []Record {
	records := make([]Record, n)
	for i := range records {
		addr := base + rng.Uint64N(span/blockSize)*blockSize
		records[i] = Record{PC: pc, Addr: addr, Write: rng.IntN(4) == 0}
	}
	return records
}

// Interleave merges traces round-robin, stopping after n records.
func Interleave(n int, traces ...[]Record) []Record {
	records := make([]Record, 0, n)
	for i := 0; len(records) < n; i++ {
		progressed := false
		for _, t := range traces {
			if i < len(t) && len(records) < n {
				records = append(records, t[i])
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	return records
}

// spatial walks regions from four PCs, each with its own footprint.
func spatial(n int, rng *rand.Rand) []Record {
	const pcs = 4
	per := (n + pcs - 1) / pcs

	traces := make([][]Record, pcs)
	for i := range traces {
		offsets := rng.Perm(regionSize / blockSize)[:6]
		base := 0x20000000 + uint64(i)<<24
		traces[i] = Spatial(0x500+uint64(i)*4, base, regionSize, offsets, per)
	}
	return Interleave(n, traces...)
}

// correlated replays a fixed irregular sequence of blocks, a shuffled walk
// over a window of consecutive blocks.
func correlated(n int, rng *rand.Rand) []Record {
	order := rng.Perm(correlatedBlocks * 4 / 3)[:correlatedBlocks]
	seq := make([]uint64, len(order))
	for i, b := range order {
		seq[i] = 0x30000000 + uint64(b)*blockSize
	}
	return Correlated(0x600, seq, n)
}
