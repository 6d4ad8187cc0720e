package prefetch

// strideEntry tracks the last address and stride seen for one PC.
type strideEntry struct {
	lastAddr Addr
	stride   int64
}

// Stride is a per-PC stride prefetcher. The table is direct-mapped on the
// low bits of the PC and tagged with the full PC; a conflicting PC simply
// overwrites the row. A prefetch for addr+stride is issued only once the same
// stride has been seen twice in a row.
type Stride struct {
	base
	table *Table[strideEntry]
}

// NewStride creates a stride prefetcher. Init must be called before use.
func NewStride(config Config, host Host, opts ...Option) *Stride {
	return &Stride{base: newBase(config, host, opts)}
}

// Name returns KindStride.
func (p *Stride) Name() string {
	return KindStride
}

// Init allocates the stride table.
func (p *Stride) Init() error {
	if err := p.reset(KindStride); err != nil {
		return err
	}
	p.table = NewTable[strideEntry](p.config.StrideTableSize)
	return nil
}

// Access trains the row of stat.PC and prefetches on a repeated stride.
func (p *Stride) Access(stat AccessStat) {
	p.stats.Accesses++

	row := p.table.Slot(stat.PC)
	if !row.Valid || row.Tag != stat.PC {
		if row.Valid {
			p.stats.Evictions++
		}
		*row = Row[strideEntry]{
			Tag:   stat.PC,
			Valid: true,
			Entry: strideEntry{lastAddr: stat.Addr},
		}
		return
	}

	e := &row.Entry
	if stat.Addr == e.lastAddr {
		return
	}

	p.stats.Triggers++
	stride := int64(stat.Addr - e.lastAddr)
	if stride == e.stride {
		p.issue(stat.Addr + uint64(stride))
	}

	e.lastAddr = stat.Addr
	e.stride = stride
}
