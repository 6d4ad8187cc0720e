package prefetch

import "fmt"

// New creates and initializes the predictor selected by config.Kind.
func New(config Config, host Host, opts ...Option) (Prefetcher, error) {
	var p Prefetcher
	switch config.Kind {
	case KindNone:
		p = NewNone(config, host, opts...)
	case KindNextLine:
		p = NewNextLine(config, host, opts...)
	case KindStride:
		p = NewStride(config, host, opts...)
	case KindRPT:
		p = NewRPT(config, host, opts...)
	case KindSMS:
		p = NewSMS(config, host, opts...)
	case KindISB:
		p = NewISB(config, host, opts...)
	case KindDomino:
		p = NewDomino(config, host, opts...)
	default:
		return nil, fmt.Errorf("unknown prefetcher kind %q", config.Kind)
	}

	if err := p.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize %s prefetcher: %w", config.Kind, err)
	}
	return p, nil
}

// None never prefetches. It is the baseline for measuring the others.
type None struct {
	base
}

// NewNone creates a prefetcher that issues nothing.
func NewNone(config Config, host Host, opts ...Option) *None {
	return &None{base: newBase(config, host, opts)}
}

// Name returns KindNone.
func (p *None) Name() string {
	return KindNone
}

// Init validates the configuration.
func (p *None) Init() error {
	return p.reset(KindNone)
}

// Access counts the access.
func (p *None) Access(AccessStat) {
	p.stats.Accesses++
}

// NextLine prefetches the block after every accessed block.
type NextLine struct {
	base
}

// NewNextLine creates a sequential one-block-lookahead prefetcher.
func NewNextLine(config Config, host Host, opts ...Option) *NextLine {
	return &NextLine{base: newBase(config, host, opts)}
}

// Name returns KindNextLine.
func (p *NextLine) Name() string {
	return KindNextLine
}

// Init validates the configuration.
func (p *NextLine) Init() error {
	return p.reset(KindNextLine)
}

// Access issues the next block.
func (p *NextLine) Access(stat AccessStat) {
	p.stats.Accesses++
	p.stats.Triggers++
	p.issue(p.indexer.BlockAddr(stat.Addr) + p.indexer.BlockSize())
}
