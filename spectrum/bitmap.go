package spectrum

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bits-and-blooms/bitset"
)

// MaxSlots bounds every bitmap width. The widest registered band (WHOLE,
// 7917 slots) fits with headroom.
const MaxSlots = 8192

var (
	// ErrWidthMismatch is returned when a binary operation receives bitmaps of
	// different widths.
	ErrWidthMismatch = errors.New("bitmap width mismatch")
	// ErrMalformedBitmap is returned when a textual bitmap cannot be parsed.
	ErrMalformedBitmap = errors.New("malformed bitmap")
)

// Bitmap is a fixed-width slot availability set. Bit i (LSB = lowest
// frequency) set means slot i is free. Bitmaps are values: every operation
// returns a new Bitmap and never mutates its receiver.
type Bitmap struct {
	width uint
	bits  *bitset.BitSet
}

// NewBitmap returns an all-zero (fully allocated) bitmap of the given width.
// Negative widths are treated as zero and widths above MaxSlots are clamped.
func NewBitmap(width int) Bitmap {
	w := clampWidth(width)
	return Bitmap{width: w, bits: bitset.New(w)}
}

// FullBitmap returns an all-ones (fully free) bitmap of the given width.
func FullBitmap(width int) Bitmap {
	b := NewBitmap(width)
	for i := uint(0); i < b.width; i++ {
		b.bits.Set(i)
	}
	return b
}

// RangeBitmap returns a bitmap of the given width with n consecutive bits set
// starting at start. Bits that would fall outside the width are dropped.
func RangeBitmap(width, start, n int) Bitmap {
	b := NewBitmap(width)
	for i := start; i < start+n; i++ {
		if i >= 0 && uint(i) < b.width {
			b.bits.Set(uint(i))
		}
	}
	return b
}

// FromUint64 builds a bitmap of the given width from the low bits of v.
func FromUint64(width int, v uint64) Bitmap {
	b := NewBitmap(width)
	for i := uint(0); i < 64 && i < b.width; i++ {
		if v&(1<<i) != 0 {
			b.bits.Set(i)
		}
	}
	return b
}

// ParseBitmap parses an MSB-first binary string such as "0011". The result
// width equals the number of digits. An optional "0b" prefix and "_"
// separators are accepted.
func ParseBitmap(s string) (Bitmap, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0b"), "0B")
	s = strings.ReplaceAll(s, "_", "")
	if len(s) > MaxSlots {
		return Bitmap{}, fmt.Errorf("%w: %d digits exceeds %d slots", ErrMalformedBitmap, len(s), MaxSlots)
	}

	b := NewBitmap(len(s))
	for pos, ch := range s {
		bit := uint(len(s) - 1 - pos)
		switch ch {
		case '1':
			b.bits.Set(bit)
		case '0':
		default:
			return Bitmap{}, fmt.Errorf("%w: unexpected %q at position %d", ErrMalformedBitmap, ch, pos)
		}
	}
	return b, nil
}

// ParseBitmapWidth parses s and requires it to have exactly width digits.
func ParseBitmapWidth(s string, width int) (Bitmap, error) {
	b, err := ParseBitmap(s)
	if err != nil {
		return Bitmap{}, err
	}
	if b.Width() != width {
		return Bitmap{}, fmt.Errorf("%w: got %d slots, want %d", ErrWidthMismatch, b.Width(), width)
	}
	return b, nil
}

// Width returns the number of slots the bitmap spans.
func (b Bitmap) Width() int { return int(b.width) }

// Test reports whether slot i is free. Out-of-range slots are never free.
func (b Bitmap) Test(i int) bool {
	if i < 0 || uint(i) >= b.width || b.bits == nil {
		return false
	}
	return b.bits.Test(uint(i))
}

// Count returns the number of free slots.
func (b Bitmap) Count() int {
	if b.bits == nil {
		return 0
	}
	return int(b.bits.Count())
}

// IsFull reports whether every slot is free.
func (b Bitmap) IsFull() bool { return b.Count() == int(b.width) }

// IsEmpty reports whether no slot is free.
func (b Bitmap) IsEmpty() bool { return b.Count() == 0 }

// Equal reports whether both bitmaps have the same width and bits.
func (b Bitmap) Equal(o Bitmap) bool {
	if b.width != o.width {
		return false
	}
	return b.set().SymmetricDifferenceCardinality(o.set()) == 0
}

// And returns the intersection of b and o.
func (b Bitmap) And(o Bitmap) (Bitmap, error) {
	if b.width != o.width {
		return Bitmap{}, fmt.Errorf("%w: and %d vs %d", ErrWidthMismatch, b.width, o.width)
	}
	return Bitmap{width: b.width, bits: b.set().Intersection(o.set())}, nil
}

// AndNot returns b with every bit set in o cleared.
func (b Bitmap) AndNot(o Bitmap) (Bitmap, error) {
	if b.width != o.width {
		return Bitmap{}, fmt.Errorf("%w: and-not %d vs %d", ErrWidthMismatch, b.width, o.width)
	}
	return Bitmap{width: b.width, bits: b.set().Difference(o.set())}, nil
}

// Not returns the complement of b within its width.
func (b Bitmap) Not() Bitmap {
	full := FullBitmap(int(b.width))
	return Bitmap{width: b.width, bits: full.bits.Difference(b.set())}
}

// Shift moves every set bit i to i+offset in a bitmap of the given width.
// Bits that land below zero or at or above width are dropped.
func (b Bitmap) Shift(offset, width int) Bitmap {
	out := NewBitmap(width)
	if b.bits == nil {
		return out
	}
	for i, ok := b.bits.NextSet(0); ok && i < b.width; i, ok = b.bits.NextSet(i + 1) {
		j := int(i) + offset
		if j >= 0 && uint(j) < out.width {
			out.bits.Set(uint(j))
		}
	}
	return out
}

// FirstFit returns the lowest start index of a run of n consecutive free
// slots, scanning from bit 0 upward.
func (b Bitmap) FirstFit(n int) (int, bool) {
	if n <= 0 || n > int(b.width) {
		return -1, false
	}
	run := 0
	for i := 0; i < int(b.width); i++ {
		if !b.Test(i) {
			run = 0
			continue
		}
		run++
		if run == n {
			return i - n + 1, true
		}
	}
	return -1, false
}

// LongestRun returns the length of the longest run of free slots.
func (b Bitmap) LongestRun() int {
	best, run := 0, 0
	for i := 0; i < int(b.width); i++ {
		if b.Test(i) {
			run++
			if run > best {
				best = run
			}
			continue
		}
		run = 0
	}
	return best
}

// Uint64 returns the bitmap as an integer when it is at most 64 slots wide.
func (b Bitmap) Uint64() (uint64, bool) {
	if b.width > 64 {
		return 0, false
	}
	var v uint64
	for i := uint(0); i < b.width; i++ {
		if b.Test(int(i)) {
			v |= 1 << i
		}
	}
	return v, true
}

// String renders the bitmap MSB first, zero padded to its width.
func (b Bitmap) String() string {
	var sb strings.Builder
	sb.Grow(int(b.width))
	for i := int(b.width) - 1; i >= 0; i-- {
		if b.Test(i) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// MarshalText encodes the bitmap as its MSB-first string.
func (b Bitmap) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText decodes an MSB-first string.
func (b *Bitmap) UnmarshalText(text []byte) error {
	parsed, err := ParseBitmap(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

func (b Bitmap) set() *bitset.BitSet {
	if b.bits == nil {
		return bitset.New(b.width)
	}
	return b.bits
}

func clampWidth(width int) uint {
	switch {
	case width < 0:
		return 0
	case width > MaxSlots:
		return MaxSlots
	default:
		return uint(width)
	}
}
