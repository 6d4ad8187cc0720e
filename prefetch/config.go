package prefetch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sugawarayuuta/sonnet"
	"go.yaml.in/yaml/v3"
)

// Variant names accepted by Config.Kind.
const (
	KindNone     = "none"
	KindNextLine = "next_line"
	KindStride   = "stride"
	KindRPT      = "rpt"
	KindSMS      = "sms"
	KindISB      = "isb"
	KindDomino   = "domino"
)

// Kinds lists every variant in a stable order.
var Kinds = []string{
	KindNone,
	KindNextLine,
	KindStride,
	KindRPT,
	KindSMS,
	KindISB,
	KindDomino,
}

// maxRegionBlocks bounds the width of a spatial pattern bitmap.
const maxRegionBlocks = 64 * 64

var errNilHost = errors.New("prefetcher requires a host")

// Config holds the structural parameters of a predictor. All values are fixed
// for the lifetime of a predictor instance. Table sizes must be powers of 2.
type Config struct {
	// Kind selects the predictor variant.
	Kind string `json:"kind" yaml:"kind"`

	// BlockSize is the cache block size in bytes. Default: 64.
	BlockSize uint64 `json:"block_size" yaml:"block_size"`

	// RegionBlocks is the spatial region size in cache blocks. Default: 32.
	RegionBlocks int `json:"region_blocks" yaml:"region_blocks"`

	// StrideTableSize is the number of rows in the stride table. Default: 256.
	StrideTableSize int `json:"stride_table_size" yaml:"stride_table_size"`

	// RPTTableSize is the number of rows in the reference prediction table.
	// Default: 64.
	RPTTableSize int `json:"rpt_table_size" yaml:"rpt_table_size"`

	// FilterTableSize is the number of rows in the spatial filter table.
	// Default: 64.
	FilterTableSize int `json:"filter_table_size" yaml:"filter_table_size"`

	// AccTableSize is the number of rows in the accumulation table.
	// Default: 64.
	AccTableSize int `json:"acc_table_size" yaml:"acc_table_size"`

	// PHTSize is the number of rows in the pattern history table.
	// Default: 1024.
	PHTSize int `json:"pht_size" yaml:"pht_size"`

	// SMSDegree caps prefetches per spatial trigger. 0 replays every set bit.
	// Default: 16.
	SMSDegree int `json:"sms_degree" yaml:"sms_degree"`

	// ISBTrainingSize is the number of rows in the per-PC training table.
	// Default: 256.
	ISBTrainingSize int `json:"isb_training_size" yaml:"isb_training_size"`

	// ISBTableSize is the number of rows in each address-mapping table.
	// Default: 4096.
	ISBTableSize int `json:"isb_table_size" yaml:"isb_table_size"`

	// ISBChunkSize is the number of structural slots reserved per new
	// stream. Default: 256.
	ISBChunkSize uint64 `json:"isb_chunk_size" yaml:"isb_chunk_size"`

	// ISBMaxConfidence is the saturation value of the mapping counters.
	// Default: 3.
	ISBMaxConfidence uint8 `json:"isb_max_confidence" yaml:"isb_max_confidence"`

	// ISBDegree is the number of structural slots walked per trigger.
	// Default: 4.
	ISBDegree int `json:"isb_degree" yaml:"isb_degree"`

	// DominoTableSize is the number of rows in each miss history table.
	// Default: 4096.
	DominoTableSize int `json:"domino_table_size" yaml:"domino_table_size"`

	// DominoDegree caps chained predictions per trigger. Default: 4.
	DominoDegree int `json:"domino_degree" yaml:"domino_degree"`
}

// DefaultConfig returns a Config with default table sizes for the given kind.
func DefaultConfig(kind string) Config {
	return Config{
		Kind:             kind,
		BlockSize:        64,
		RegionBlocks:     32,
		StrideTableSize:  256,
		RPTTableSize:     64,
		FilterTableSize:  64,
		AccTableSize:     64,
		PHTSize:          1024,
		SMSDegree:        16,
		ISBTrainingSize:  256,
		ISBTableSize:     4096,
		ISBChunkSize:     256,
		ISBMaxConfidence: 3,
		ISBDegree:        4,
		DominoTableSize:  4096,
		DominoDegree:     4,
	}
}

// LoadConfig loads a Config from a JSON or YAML file. Fields absent from the
// file keep their defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read prefetch config file: %w", err)
	}

	config := DefaultConfig(KindNone)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &config)
	default:
		err = sonnet.Unmarshal(data, &config)
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse prefetch config: %w", err)
	}

	return config, nil
}

// SaveConfig writes the Config to a JSON or YAML file, chosen by extension.
func (c Config) SaveConfig(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = sonnet.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to serialize prefetch config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write prefetch config file: %w", err)
	}

	return nil
}

// Validate checks the parameters the selected kind depends on.
func (c Config) Validate() error {
	return c.validateFor(c.Kind)
}

// validateFor checks the parameters the given kind depends on, whatever
// c.Kind says.
func (c Config) validateFor(kind string) error {
	if !isPowerOf2(c.BlockSize) {
		return fmt.Errorf("block_size must be a power of 2, got %d", c.BlockSize)
	}

	switch kind {
	case KindNone, KindNextLine:
		return nil
	case KindStride:
		return checkTableSize("stride_table_size", c.StrideTableSize)
	case KindRPT:
		return checkTableSize("rpt_table_size", c.RPTTableSize)
	case KindSMS:
		return c.validateSMS()
	case KindISB:
		return c.validateISB()
	case KindDomino:
		if c.DominoDegree < 1 {
			return fmt.Errorf("domino_degree must be > 0")
		}
		return checkTableSize("domino_table_size", c.DominoTableSize)
	default:
		return fmt.Errorf("unknown prefetcher kind %q", kind)
	}
}

func (c Config) validateSMS() error {
	if c.RegionBlocks < 1 || c.RegionBlocks > maxRegionBlocks {
		return fmt.Errorf("region_blocks must be in [1, %d], got %d",
			maxRegionBlocks, c.RegionBlocks)
	}
	if c.SMSDegree < 0 {
		return fmt.Errorf("sms_degree must be >= 0")
	}
	if c.FilterTableSize < 1 {
		return fmt.Errorf("filter_table_size must be > 0")
	}
	if c.AccTableSize < 1 {
		return fmt.Errorf("acc_table_size must be > 0")
	}
	return checkTableSize("pht_size", c.PHTSize)
}

func (c Config) validateISB() error {
	if err := checkTableSize("isb_training_size", c.ISBTrainingSize); err != nil {
		return err
	}
	if err := checkTableSize("isb_table_size", c.ISBTableSize); err != nil {
		return err
	}
	if c.ISBChunkSize < 2 {
		return fmt.Errorf("isb_chunk_size must be >= 2")
	}
	if c.ISBMaxConfidence == 0 {
		return fmt.Errorf("isb_max_confidence must be > 0")
	}
	if c.ISBDegree < 1 {
		return fmt.Errorf("isb_degree must be > 0")
	}
	return nil
}

// Clone returns a copy of the Config.
func (c Config) Clone() Config {
	return c
}

func checkTableSize(name string, size int) error {
	if size < 1 || !isPowerOf2(uint64(size)) {
		return fmt.Errorf("%s must be a power of 2, got %d", name, size)
	}
	return nil
}

func isPowerOf2(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}
