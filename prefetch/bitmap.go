package prefetch

import "math/bits"

// Bitmap is a fixed-width set of bits. Bit i records whether block i of a
// region was touched. Indices must be in [0, Width()).
type Bitmap struct {
	width int
	words []uint64
}

// NewBitmap returns an all-zero bitmap of the given width.
func NewBitmap(width int) Bitmap {
	return Bitmap{
		width: width,
		words: make([]uint64, (width+63)/64),
	}
}

// Width returns the number of bits.
func (b Bitmap) Width() int {
	return b.width
}

// Set sets bit i.
func (b Bitmap) Set(i int) {
	b.words[i/64] |= 1 << (uint(i) % 64)
}

// Get reports whether bit i is set.
func (b Bitmap) Get(i int) bool {
	return b.words[i/64]&(1<<(uint(i)%64)) != 0
}

// Clear unsets every bit.
func (b Bitmap) Clear() {
	for i := range b.words {
		b.words[i] = 0
	}
}

// IsZero reports whether no bit is set.
func (b Bitmap) IsZero() bool {
	for _, w := range b.words {
		if w != 0 {
			return false
		}
	}
	return true
}

// Count returns the number of set bits.
func (b Bitmap) Count() int {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Equal reports whether both bitmaps have the same width and bits.
func (b Bitmap) Equal(o Bitmap) bool {
	if b.width != o.width {
		return false
	}
	for i, w := range b.words {
		if o.words[i] != w {
			return false
		}
	}
	return true
}

// Each calls fn with the index of every set bit in ascending order until fn
// returns false.
func (b Bitmap) Each(fn func(i int) bool) {
	for wi, w := range b.words {
		for w != 0 {
			i := wi*64 + bits.TrailingZeros64(w)
			if !fn(i) {
				return
			}
			w &= w - 1
		}
	}
}

// CopyBitmap copies src into dst. Both must have the same width.
func CopyBitmap(dst, src Bitmap) {
	copy(dst.words, src.words)
}
