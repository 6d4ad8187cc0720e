package prefetch

// RPTState is the confidence state of a reference prediction table row.
type RPTState uint8

// RPT row states.
const (
	RPTUnused RPTState = iota
	RPTInitial
	RPTTransient
	RPTSteady
	RPTNoPrediction
)

func (s RPTState) String() string {
	switch s {
	case RPTUnused:
		return "UNUSED"
	case RPTInitial:
		return "INITIAL"
	case RPTTransient:
		return "TRANSIENT"
	case RPTSteady:
		return "STEADY"
	case RPTNoPrediction:
		return "NO_PREDICTION"
	default:
		return "UNKNOWN"
	}
}

// rptEntry is one row of the reference prediction table.
type rptEntry struct {
	prevAddr Addr
	stride   int64
	state    RPTState
}

// RPT is the classical reference prediction table. Each PC row carries a
// stride and a confidence state that decides whether prev+stride is issued.
//
// Rows are searched associatively by PC. A new PC takes the first empty row,
// or row 0 when the table is full.
type RPT struct {
	base
	table *Table[rptEntry]
}

// NewRPT creates a reference prediction table prefetcher. Init must be
// called before use.
func NewRPT(config Config, host Host, opts ...Option) *RPT {
	return &RPT{base: newBase(config, host, opts)}
}

// Name returns KindRPT.
func (p *RPT) Name() string {
	return KindRPT
}

// Init allocates the table with every row UNUSED.
func (p *RPT) Init() error {
	if err := p.reset(KindRPT); err != nil {
		return err
	}
	p.table = NewTable[rptEntry](p.config.RPTTableSize)
	return nil
}

// State returns the state of the row for pc. ok is false if no row is
// tracking pc.
func (p *RPT) State(pc Addr) (state RPTState, ok bool) {
	i := p.table.Find(pc)
	if i == NotFound {
		return RPTUnused, false
	}
	return p.table.At(i).Entry.state, true
}

// Access advances the state machine of stat.PC.
func (p *RPT) Access(stat AccessStat) {
	p.stats.Accesses++

	i := p.table.Find(stat.PC)
	if i == NotFound {
		p.allocate(stat)
		return
	}

	p.stats.Triggers++
	e := &p.table.At(i).Entry
	match := stat.Addr == e.prevAddr+uint64(e.stride)
	stride := int64(stat.Addr - e.prevAddr)
	prefetch := true

	switch e.state {
	case RPTInitial:
		e.state = RPTTransient
		e.stride = stride
	case RPTTransient:
		if match {
			e.state = RPTSteady
		} else {
			e.state = RPTNoPrediction
			e.stride = stride
		}
	case RPTSteady:
		if !match {
			e.state = RPTInitial
		}
	case RPTNoPrediction:
		if match {
			e.state = RPTTransient
		} else {
			e.stride = stride
		}
		prefetch = false
	}

	e.prevAddr = stat.Addr
	if prefetch {
		p.issue(e.prevAddr + uint64(e.stride))
	}
}

func (p *RPT) allocate(stat AccessStat) {
	i := p.table.FindEmpty()
	if i == NotFound {
		i = 0
		p.stats.Evictions++
	}

	*p.table.At(i) = Row[rptEntry]{
		Tag:   stat.PC,
		Valid: true,
		Entry: rptEntry{prevAddr: stat.Addr, state: RPTInitial},
	}
	p.log.V(1).Info("rpt allocate", "pc", stat.PC, "row", i)
}
