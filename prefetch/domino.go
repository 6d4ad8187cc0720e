package prefetch

// dominoFirst predicts the miss that follows a single miss.
type dominoFirst struct {
	next Addr
}

// dominoSecond predicts the miss that follows an ordered pair of misses.
type dominoSecond struct {
	last Addr
	prev Addr
	next Addr
}

// Domino is a two-level Markov predictor over the trigger stream. A trigger
// is a miss or a hit on a prefetched block. The first-order table maps the
// last trigger to the one that followed it; the second-order table maps the
// last two triggers, hashed by XOR and confirmed by both tags. Lookups prefer
// the second-order table, and predictions are chained up to
// Config.DominoDegree deep.
type Domino struct {
	base

	first  *Table[dominoFirst]
	second *Table[dominoSecond]

	// last and prev are the two most recent triggers; history counts how
	// many of them are valid.
	last    Addr
	prev    Addr
	history int
}

// NewDomino creates a Domino prefetcher. Init must be called before use.
func NewDomino(config Config, host Host, opts ...Option) *Domino {
	return &Domino{base: newBase(config, host, opts)}
}

// Name returns KindDomino.
func (p *Domino) Name() string {
	return KindDomino
}

// Init allocates both miss history tables and clears the trigger history.
func (p *Domino) Init() error {
	if err := p.reset(KindDomino); err != nil {
		return err
	}
	p.first = NewTable[dominoFirst](p.config.DominoTableSize)
	p.second = NewTable[dominoSecond](p.config.DominoTableSize)
	p.last, p.prev, p.history = 0, 0, 0
	return nil
}

// Access predicts and trains on triggering accesses.
func (p *Domino) Access(stat AccessStat) {
	p.stats.Accesses++

	blk := p.indexer.BlockAddr(stat.Addr)
	if !stat.Miss && !p.host.WasPrefetched(blk) {
		return
	}

	p.stats.Triggers++
	p.predict(blk)
	p.update(blk)
}

// Predict returns the block expected to follow cur, given the trigger
// before it when hasPrev is set.
func (p *Domino) Predict(cur, prev Addr, hasPrev bool) (Addr, bool) {
	if hasPrev {
		row := p.second.Slot(p.pairKey(cur, prev))
		if row.Valid && row.Entry.last == cur && row.Entry.prev == prev {
			return row.Entry.next, true
		}
	}

	row := p.first.Slot(p.indexer.BlockNumber(cur))
	if row.Valid && row.Tag == cur {
		return row.Entry.next, true
	}
	return 0, false
}

func (p *Domino) predict(blk Addr) {
	cur, prev, hasPrev := blk, p.last, p.history > 0
	for n := 0; n < p.config.DominoDegree; n++ {
		next, ok := p.Predict(cur, prev, hasPrev)
		if !ok {
			return
		}
		p.issue(next)
		prev, cur, hasPrev = cur, next, true
	}
}

func (p *Domino) update(blk Addr) {
	if p.history > 0 {
		row := p.first.Slot(p.indexer.BlockNumber(p.last))
		p.replace(row.Valid && row.Tag != p.last)
		*row = Row[dominoFirst]{
			Tag:   p.last,
			Valid: true,
			Entry: dominoFirst{next: blk},
		}
	}

	if p.history > 1 {
		key := p.pairKey(p.last, p.prev)
		row := p.second.Slot(key)
		p.replace(row.Valid && (row.Entry.last != p.last || row.Entry.prev != p.prev))
		*row = Row[dominoSecond]{
			Tag:   key,
			Valid: true,
			Entry: dominoSecond{last: p.last, prev: p.prev, next: blk},
		}
	}

	p.prev, p.last = p.last, blk
	if p.history < 2 {
		p.history++
	}
}

func (p *Domino) replace(conflict bool) {
	if conflict {
		p.stats.Evictions++
	}
}

func (p *Domino) pairKey(last, prev Addr) uint64 {
	return p.indexer.BlockNumber(last ^ prev)
}
