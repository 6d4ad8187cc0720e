package prefetch

// isbTraining holds the last block address seen for a PC.
type isbTraining struct {
	last Addr
}

// psEntry maps a physical block to its structural address.
type psEntry struct {
	structural uint64
	confidence uint8
}

// spEntry maps a structural address back to a physical block.
type spEntry struct {
	physical Addr
}

// ISB is an irregular stream buffer. Blocks that a PC touches one after the
// other are given consecutive structural addresses, so a recurring but
// irregular physical sequence becomes a sequential structural stream.
// Prefetching walks the structural stream forward and translates each slot
// back to a physical block.
//
// Structural addresses are handed out in chunks of Config.ISBChunkSize slots,
// one chunk per new stream. A stream never grows past the end of its chunk.
type ISB struct {
	base

	training  *Table[isbTraining]
	ps        *Table[psEntry]
	sp        *Table[spEntry]
	nextChunk uint64
}

// NewISB creates an irregular stream buffer prefetcher. Init must be called
// before use.
func NewISB(config Config, host Host, opts ...Option) *ISB {
	return &ISB{base: newBase(config, host, opts)}
}

// Name returns KindISB.
func (p *ISB) Name() string {
	return KindISB
}

// Init allocates the training and mapping tables.
func (p *ISB) Init() error {
	if err := p.reset(KindISB); err != nil {
		return err
	}
	p.training = NewTable[isbTraining](p.config.ISBTrainingSize)
	p.ps = NewTable[psEntry](p.config.ISBTableSize)
	p.sp = NewTable[spEntry](p.config.ISBTableSize)
	p.nextChunk = 0
	return nil
}

// Access prefetches along the structural stream on a miss or a hit to a
// prefetched block, then trains on the (previous, current) pair of stat.PC.
// Prediction uses the mappings as they stood before this access.
func (p *ISB) Access(stat AccessStat) {
	p.stats.Accesses++

	blk := p.indexer.BlockAddr(stat.Addr)
	if stat.Miss || p.host.WasPrefetched(blk) {
		p.predict(blk)
	}

	p.train(stat.PC, blk)
}

// Structural returns the structural address and confidence of the block
// holding addr.
func (p *ISB) Structural(addr Addr) (structural uint64, confidence uint8, ok bool) {
	row, ok := p.lookupPS(p.indexer.BlockAddr(addr))
	if !ok {
		return 0, 0, false
	}
	return row.Entry.structural, row.Entry.confidence, true
}

// Physical returns the block mapped at a structural address.
func (p *ISB) Physical(structural uint64) (Addr, bool) {
	row := p.sp.Slot(structural)
	if !row.Valid || row.Tag != structural {
		return 0, false
	}
	return row.Entry.physical, true
}

func (p *ISB) train(pc Addr, blk Addr) {
	row := p.training.Slot(pc)
	if !row.Valid || row.Tag != pc {
		*row = Row[isbTraining]{Tag: pc, Valid: true, Entry: isbTraining{last: blk}}
		return
	}

	prev := row.Entry.last
	if prev == blk {
		return
	}
	row.Entry.last = blk

	p.correlate(prev, blk)
}

// correlate records that b followed a.
//
// A conflicting pair costs b one confidence step. b only moves behind a when
// a conflict arrives while its confidence is already zero.
func (p *ISB) correlate(a, b Addr) {
	rowA, okA := p.lookupPS(a)
	rowB, okB := p.lookupPS(b)

	switch {
	case okA && okB:
		next, ok := p.successor(rowA.Entry.structural)
		if ok && rowB.Entry.structural == next {
			if rowB.Entry.confidence < p.config.ISBMaxConfidence {
				rowB.Entry.confidence++
			}
			return
		}
		if rowB.Entry.confidence > 0 {
			rowB.Entry.confidence--
			return
		}
		p.link(rowA.Entry.structural, b)
	case okA:
		p.link(rowA.Entry.structural, b)
	case okB:
		p.assign(a, p.predecessor(rowB.Entry.structural))
	default:
		s := p.allocateChunk()
		p.assign(a, s)
		p.assign(b, s+1)
	}
}

// link places b right after structural address s, or at the head of a new
// chunk when s is the last slot of its chunk.
func (p *ISB) link(s uint64, b Addr) {
	next, ok := p.successor(s)
	if !ok {
		next = p.allocateChunk()
	}
	p.assign(b, next)
}

func (p *ISB) successor(s uint64) (uint64, bool) {
	next := s + 1
	if next%p.config.ISBChunkSize == 0 {
		return 0, false
	}
	return next, true
}

// predecessor returns the slot right before s when it is free and in the
// same chunk, and the head of a new chunk otherwise.
func (p *ISB) predecessor(s uint64) uint64 {
	if s%p.config.ISBChunkSize != 0 && !p.sp.Slot(s-1).Valid {
		return s - 1
	}
	return p.allocateChunk()
}

func (p *ISB) allocateChunk() uint64 {
	s := p.nextChunk
	p.nextChunk += p.config.ISBChunkSize
	return s
}

// assign maps physical block phys to structural address s with a fresh
// confidence of 1, dropping any mapping either side held before.
func (p *ISB) assign(phys Addr, s uint64) {
	psRow := p.ps.Slot(p.indexer.BlockNumber(phys))
	if psRow.Valid {
		if psRow.Tag != phys {
			p.stats.Evictions++
		}
		p.unmapStructural(psRow.Entry.structural, psRow.Tag)
	}

	spRow := p.sp.Slot(s)
	if spRow.Valid {
		if spRow.Tag != s {
			p.stats.Evictions++
		}
		p.unmapPhysical(spRow.Entry.physical, spRow.Tag)
	}

	*psRow = Row[psEntry]{
		Tag:   phys,
		Valid: true,
		Entry: psEntry{structural: s, confidence: 1},
	}
	*spRow = Row[spEntry]{
		Tag:   s,
		Valid: true,
		Entry: spEntry{physical: phys},
	}

	p.log.V(1).Info("isb assign", "physical", phys, "structural", s)
}

// unmapStructural clears the sp row of s if it still points at phys.
func (p *ISB) unmapStructural(s uint64, phys Addr) {
	row := p.sp.Slot(s)
	if row.Valid && row.Tag == s && row.Entry.physical == phys {
		*row = Row[spEntry]{}
	}
}

// unmapPhysical clears the ps row of phys if it still points at s.
func (p *ISB) unmapPhysical(phys Addr, s uint64) {
	row, ok := p.lookupPS(phys)
	if ok && row.Entry.structural == s {
		*row = Row[psEntry]{}
	}
}

func (p *ISB) lookupPS(phys Addr) (*Row[psEntry], bool) {
	row := p.ps.Slot(p.indexer.BlockNumber(phys))
	if !row.Valid || row.Tag != phys {
		return nil, false
	}
	return row, true
}

func (p *ISB) predict(blk Addr) {
	p.stats.Triggers++

	row, ok := p.lookupPS(blk)
	if !ok {
		return
	}

	s := row.Entry.structural
	for i := 1; i <= p.config.ISBDegree; i++ {
		next, ok := p.successor(s)
		if !ok {
			return
		}
		s = next

		phys, ok := p.Physical(s)
		if !ok {
			return
		}
		p.issue(phys)
	}
}
