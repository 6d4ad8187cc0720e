package prefetch

// filterEntry is a region seen once: the PC and block offset of its first
// touch.
type filterEntry struct {
	pc     Addr
	offset int
}

// accEntry is a region seen at least twice. Its pattern lives in
// SMS.accPatterns at the same index.
type accEntry struct {
	pc     Addr
	anchor int
}

// SMS learns spatial access patterns per region. Regions move through three
// tables:
//
//   - the filter table holds regions touched once;
//   - the accumulation table records the bitmap of blocks touched while the
//     region is live in the cache;
//   - the pattern history table (PHT) keeps retired bitmaps, keyed by
//     PC XOR anchor offset, and is consulted on misses.
//
// The host does not report evictions. On every access the rows of the
// current region are checked against the host, and a row whose blocks are no
// longer resident or in flight is retired.
type SMS struct {
	base

	filter      *Table[filterEntry]
	acc         *Table[accEntry]
	accPatterns []Bitmap
	pht         *Table[struct{}]
	phtPatterns []Bitmap
}

// NewSMS creates a spatial pattern prefetcher. Init must be called before
// use.
func NewSMS(config Config, host Host, opts ...Option) *SMS {
	return &SMS{base: newBase(config, host, opts)}
}

// Name returns KindSMS.
func (p *SMS) Name() string {
	return KindSMS
}

// Init allocates the filter, accumulation and pattern history tables.
func (p *SMS) Init() error {
	if err := p.reset(KindSMS); err != nil {
		return err
	}

	width := p.config.RegionBlocks
	p.filter = NewTable[filterEntry](p.config.FilterTableSize)
	p.filter.OnEvict(func(int, *Row[filterEntry]) {
		p.stats.Evictions++
	})

	p.acc = NewTable[accEntry](p.config.AccTableSize)
	p.accPatterns = make([]Bitmap, p.config.AccTableSize)
	for i := range p.accPatterns {
		p.accPatterns[i] = NewBitmap(width)
	}
	p.acc.OnEvict(func(i int, row *Row[accEntry]) {
		p.stats.Evictions++
		p.retire(i, row)
	})

	p.pht = NewTable[struct{}](p.config.PHTSize)
	p.phtPatterns = make([]Bitmap, p.config.PHTSize)
	for i := range p.phtPatterns {
		p.phtPatterns[i] = NewBitmap(width)
	}

	return nil
}

// Access trains the tables on stat and, on a miss, replays a learned
// pattern for the region.
func (p *SMS) Access(stat AccessStat) {
	p.stats.Accesses++

	region := p.indexer.RegionBase(stat.Addr)
	offset := p.indexer.BlockOffset(stat.Addr)

	p.detectEvictions(region)
	p.train(stat.PC, region, offset)
	if stat.Miss {
		p.predict(stat.PC, region, offset)
	}
}

// Pattern returns a copy of the PHT bitmap stored for pc and offset.
func (p *SMS) Pattern(pc Addr, offset int) (Bitmap, bool) {
	key := patternKey(pc, offset)
	i := p.pht.SlotIndex(key)
	row := p.pht.At(i)
	if !row.Valid || row.Tag != key {
		return Bitmap{}, false
	}
	return cloneBitmap(p.phtPatterns[i]), true
}

// Accumulating returns a copy of the accumulation bitmap of the region
// holding addr.
func (p *SMS) Accumulating(addr Addr) (Bitmap, bool) {
	i := p.acc.Find(p.indexer.RegionBase(addr))
	if i == NotFound {
		return Bitmap{}, false
	}
	return cloneBitmap(p.accPatterns[i]), true
}

// Filtering reports whether the region holding addr has a filter row.
func (p *SMS) Filtering(addr Addr) bool {
	return p.filter.Find(p.indexer.RegionBase(addr)) != NotFound
}

func (p *SMS) live(addr Addr) bool {
	return p.host.IsResident(addr) || p.host.IsInFlight(addr)
}

// detectEvictions clears the current region's filter row and retires its
// accumulation row if any tracked block has left the cache.
func (p *SMS) detectEvictions(region Addr) {
	if i := p.filter.Find(region); i != NotFound {
		row := p.filter.At(i)
		if !p.live(p.indexer.RegionBlock(region, row.Entry.offset)) {
			p.filter.Clear(i)
		}
	}

	i := p.acc.Find(region)
	if i == NotFound {
		return
	}

	evicted := false
	p.accPatterns[i].Each(func(b int) bool {
		evicted = !p.live(p.indexer.RegionBlock(region, b))
		return !evicted
	})
	if evicted {
		p.retire(i, p.acc.At(i))
		p.acc.Clear(i)
		p.accPatterns[i].Clear()
	}
}

// retire copies the accumulation row at index i into the PHT.
func (p *SMS) retire(i int, row *Row[accEntry]) {
	key := patternKey(row.Entry.pc, row.Entry.anchor)
	j := p.pht.SlotIndex(key)
	*p.pht.At(j) = Row[struct{}]{Tag: key, Valid: true}
	CopyBitmap(p.phtPatterns[j], p.accPatterns[i])

	p.log.V(1).Info("sms retire pattern",
		"region", row.Tag, "pc", row.Entry.pc, "anchor", row.Entry.anchor,
		"blocks", p.accPatterns[i].Count())
}

func (p *SMS) train(pc Addr, region Addr, offset int) {
	if i := p.acc.Find(region); i != NotFound {
		p.accPatterns[i].Set(offset)
		return
	}

	fi := p.filter.Find(region)
	if fi == NotFound {
		i, _ := p.filter.Allocate(region)
		p.filter.At(i).Entry = filterEntry{pc: pc, offset: offset}
		return
	}

	f := p.filter.At(fi).Entry
	if f.offset == offset {
		return
	}

	p.filter.Clear(fi)

	ai, _ := p.acc.Allocate(region)
	p.acc.At(ai).Entry = accEntry{pc: f.pc, anchor: f.offset}
	pattern := p.accPatterns[ai]
	pattern.Clear()
	pattern.Set(f.offset)
	pattern.Set(offset)

	p.log.V(1).Info("sms promote region", "region", region, "pc", f.pc,
		"anchor", f.offset, "offset", offset)
}

func (p *SMS) predict(pc Addr, region Addr, offset int) {
	p.stats.Triggers++

	key := patternKey(pc, offset)
	i := p.pht.SlotIndex(key)
	row := p.pht.At(i)
	if !row.Valid || row.Tag != key {
		return
	}

	issued := 0
	p.phtPatterns[i].Each(func(b int) bool {
		if p.config.SMSDegree > 0 && issued >= p.config.SMSDegree {
			return false
		}
		if b != offset && p.issue(p.indexer.RegionBlock(region, b)) {
			issued++
		}
		return true
	})
}

func patternKey(pc Addr, offset int) uint64 {
	return pc ^ uint64(offset)
}

func cloneBitmap(b Bitmap) Bitmap {
	c := NewBitmap(b.Width())
	CopyBitmap(c, b)
	return c
}
