// Package trace reads, writes and generates memory access traces.
//
// A trace is a text file with one access per line:
//
//	<pc> <addr> [R|W]
//
// PC and address are hexadecimal, with or without a 0x prefix. Blank lines
// and text after '#' are ignored.
package trace

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Record is one memory access.
type Record struct {
	// PC is the address of the instruction that issued the access.
	PC uint64
	// Addr is the referenced memory address.
	Addr uint64
	// Write is true for stores.
	Write bool
}

// Load reads a trace file.
func Load(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	defer func() { _ = f.Close() }()

	records, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return records, nil
}

// Parse reads trace records from r.
func Parse(r io.Reader) ([]Record, error) {
	var records []Record

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++

		text := scanner.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}

		rec, err := parseFields(fields)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}

	return records, nil
}

func parseFields(fields []string) (Record, error) {
	if len(fields) < 2 || len(fields) > 3 {
		return Record{}, fmt.Errorf("expected <pc> <addr> [R|W], got %d fields", len(fields))
	}

	pc, err := parseHex(fields[0])
	if err != nil {
		return Record{}, fmt.Errorf("bad pc %q: %w", fields[0], err)
	}
	addr, err := parseHex(fields[1])
	if err != nil {
		return Record{}, fmt.Errorf("bad address %q: %w", fields[1], err)
	}

	rec := Record{PC: pc, Addr: addr}
	if len(fields) == 3 {
		switch strings.ToUpper(fields[2]) {
		case "R":
		case "W":
			rec.Write = true
		default:
			return Record{}, fmt.Errorf("bad access type %q", fields[2])
		}
	}
	return rec, nil
}

func parseHex(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strconv.ParseUint(s, 16, 64)
}

// Write writes records in the text trace format.
func Write(w io.Writer, records []Record) error {
	bw := bufio.NewWriter(w)
	for _, r := range records {
		kind := "R"
		if r.Write {
			kind = "W"
		}
		if _, err := fmt.Fprintf(bw, "0x%x 0x%x %s\n", r.PC, r.Addr, kind); err != nil {
			return fmt.Errorf("failed to write trace: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write trace: %w", err)
	}
	return nil
}

// Save writes records to a trace file.
func Save(path string, records []Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create trace file: %w", err)
	}
	if err := Write(f, records); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Digest returns the hex SHA3-256 of the records, independent of how the
// trace was formatted on disk.
func Digest(records []Record) string {
	h := sha3.New256()
	var buf [17]byte
	for _, r := range records {
		binary.LittleEndian.PutUint64(buf[0:8], r.PC)
		binary.LittleEndian.PutUint64(buf[8:16], r.Addr)
		buf[16] = 0
		if r.Write {
			buf[16] = 1
		}
		_, _ = h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}
