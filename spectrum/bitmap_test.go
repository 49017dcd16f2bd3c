package spectrum

import (
	"errors"
	"testing"
)

func TestParseBitmapRoundTrip(t *testing.T) {
	cases := []string{"0", "1", "0011", "1111111100", "1000000000000000000000000000000000000000000000000000000000000000001"}
	for _, in := range cases {
		b, err := ParseBitmap(in)
		if err != nil {
			t.Fatalf("ParseBitmap(%q): %v", in, err)
		}
		if b.Width() != len(in) {
			t.Fatalf("ParseBitmap(%q).Width() = %d, want %d", in, b.Width(), len(in))
		}
		if got := b.String(); got != in {
			t.Fatalf("String() = %q, want %q", got, in)
		}
	}
}

func TestParseBitmapAcceptsPrefixAndSeparators(t *testing.T) {
	b, err := ParseBitmap("0b11_00")
	if err != nil {
		t.Fatalf("ParseBitmap: %v", err)
	}
	if v, _ := b.Uint64(); v != 0b1100 {
		t.Fatalf("value = %b, want 1100", v)
	}
}

func TestParseBitmapRejectsGarbage(t *testing.T) {
	if _, err := ParseBitmap("10x1"); !errors.Is(err, ErrMalformedBitmap) {
		t.Fatalf("ParseBitmap error = %v, want ErrMalformedBitmap", err)
	}
	if _, err := ParseBitmapWidth("101", 4); !errors.Is(err, ErrWidthMismatch) {
		t.Fatalf("ParseBitmapWidth error = %v, want ErrWidthMismatch", err)
	}
}

func TestBitmapLSBIsLowestSlot(t *testing.T) {
	b := FromUint64(10, 0b11)
	if !b.Test(0) || !b.Test(1) || b.Test(2) {
		t.Fatalf("unexpected bits in %s", b)
	}
	if got := b.String(); got != "0000000011" {
		t.Fatalf("String() = %q, want 0000000011", got)
	}
}

func TestBitmapAndRequiresEqualWidths(t *testing.T) {
	a := FullBitmap(10)
	b := FullBitmap(11)
	if _, err := a.And(b); !errors.Is(err, ErrWidthMismatch) {
		t.Fatalf("And error = %v, want ErrWidthMismatch", err)
	}
	if _, err := a.AndNot(b); !errors.Is(err, ErrWidthMismatch) {
		t.Fatalf("AndNot error = %v, want ErrWidthMismatch", err)
	}
}

func TestBitmapAndAndNot(t *testing.T) {
	a := FromUint64(8, 0b11110000)
	b := FromUint64(8, 0b10101010)

	and, err := a.And(b)
	if err != nil {
		t.Fatalf("And: %v", err)
	}
	if v, _ := and.Uint64(); v != 0b10100000 {
		t.Fatalf("And = %08b, want 10100000", v)
	}

	diff, err := a.AndNot(b)
	if err != nil {
		t.Fatalf("AndNot: %v", err)
	}
	if v, _ := diff.Uint64(); v != 0b01010000 {
		t.Fatalf("AndNot = %08b, want 01010000", v)
	}

	if v, _ := a.Uint64(); v != 0b11110000 {
		t.Fatalf("receiver mutated: %08b", v)
	}
}

func TestBitmapNotStaysInWidth(t *testing.T) {
	b := FromUint64(5, 0b00011)
	not := b.Not()
	if got := not.String(); got != "11100" {
		t.Fatalf("Not() = %q, want 11100", got)
	}
	if not.Width() != 5 {
		t.Fatalf("Not().Width() = %d, want 5", not.Width())
	}
}

func TestBitmapShiftDropsOverflow(t *testing.T) {
	b := FromUint64(4, 0b1111)

	left := b.Shift(2, 5)
	if got := left.String(); got != "11100" {
		t.Fatalf("Shift(2,5) = %q, want 11100", got)
	}
	right := b.Shift(-3, 4)
	if got := right.String(); got != "0001" {
		t.Fatalf("Shift(-3,4) = %q, want 0001", got)
	}
}

func TestFirstFit(t *testing.T) {
	tests := []struct {
		name  string
		bits  string
		n     int
		start int
		ok    bool
	}{
		{name: "all free", bits: "1111111111", n: 2, start: 0, ok: true},
		{name: "low slots taken", bits: "1111111100", n: 2, start: 2, ok: true},
		{name: "fragmented", bits: "1010101010", n: 2, start: -1, ok: false},
		{name: "exact fit at top", bits: "1110000000", n: 3, start: 7, ok: true},
		{name: "too large", bits: "111", n: 4, start: -1, ok: false},
		{name: "zero request", bits: "111", n: 0, start: -1, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := ParseBitmap(tt.bits)
			if err != nil {
				t.Fatalf("ParseBitmap: %v", err)
			}
			start, ok := b.FirstFit(tt.n)
			if start != tt.start || ok != tt.ok {
				t.Fatalf("FirstFit(%d) = (%d, %v), want (%d, %v)", tt.n, start, ok, tt.start, tt.ok)
			}
		})
	}
}

func TestLongestRunAndCount(t *testing.T) {
	b, _ := ParseBitmap("0111001101")
	if got := b.LongestRun(); got != 3 {
		t.Fatalf("LongestRun = %d, want 3", got)
	}
	if got := b.Count(); got != 6 {
		t.Fatalf("Count = %d, want 6", got)
	}
}

func TestRangeBitmap(t *testing.T) {
	if got := RangeBitmap(10, 2, 3).String(); got != "0000011100" {
		t.Fatalf("RangeBitmap = %q, want 0000011100", got)
	}
	if got := RangeBitmap(4, 3, 3).String(); got != "1000" {
		t.Fatalf("RangeBitmap clipped = %q, want 1000", got)
	}
}

func TestWideBitmapSupportsWholeBand(t *testing.T) {
	b := FullBitmap(7917)
	if b.Count() != 7917 || !b.IsFull() {
		t.Fatalf("FullBitmap(7917).Count = %d", b.Count())
	}
	start, ok := b.Shift(-7000, 7917).FirstFit(900)
	if !ok || start != 0 {
		t.Fatalf("FirstFit after shift = (%d, %v), want (0, true)", start, ok)
	}
}

func TestZeroValueBitmap(t *testing.T) {
	var b Bitmap
	if b.Width() != 0 || b.Count() != 0 || b.String() != "" {
		t.Fatalf("zero Bitmap not empty: width=%d count=%d", b.Width(), b.Count())
	}
	if !b.Equal(NewBitmap(0)) {
		t.Fatalf("zero Bitmap should equal NewBitmap(0)")
	}
}

func TestTextMarshalling(t *testing.T) {
	b := FromUint64(6, 0b100101)
	text, err := b.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	var decoded Bitmap
	if err := decoded.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if !decoded.Equal(b) {
		t.Fatalf("decoded %s, want %s", decoded, b)
	}
}
