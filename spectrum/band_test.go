package spectrum

import "testing"

func TestDetectBandPrefersNarrowest(t *testing.T) {
	reg := DefaultRegistry()

	// Inside C, CL, SCL and WHOLE.
	band, ok := reg.DetectBand(192.0e12, 195.0e12)
	if !ok {
		t.Fatalf("DetectBand returned no band")
	}
	if band.Name != BandC || band.Slots != 701 {
		t.Fatalf("DetectBand = %s (%d slots), want C (701)", band.Name, band.Slots)
	}
}

func TestDetectBandSpanningCAndL(t *testing.T) {
	band, ok := DefaultRegistry().DetectBand(189.0e12, 195.0e12)
	if !ok {
		t.Fatalf("DetectBand returned no band")
	}
	if band.Name != BandCL || band.Slots != 1199 {
		t.Fatalf("DetectBand = %s (%d slots), want CL (1199)", band.Name, band.Slots)
	}
}

func TestDetectBandToleratesTelemetryRounding(t *testing.T) {
	c, _ := DefaultRegistry().Lookup(BandC)
	// A few GHz outside the C band edges still resolves to C.
	band, ok := DefaultRegistry().DetectBand(c.MinHz-3e9, c.MaxHz+3e9)
	if !ok || band.Name != BandC {
		t.Fatalf("DetectBand = (%s, %v), want (C, true)", band.Name, ok)
	}
}

func TestDetectBandNotFound(t *testing.T) {
	reg := DefaultRegistry()
	if _, ok := reg.DetectBand(100e12, 110e12); ok {
		t.Fatalf("expected no band below the O band")
	}
	if _, ok := reg.DetectBand(195e12, 192e12); ok {
		t.Fatalf("expected inverted range to match nothing")
	}
	var nilReg *Registry
	if _, ok := nilReg.DetectBand(192e12, 193e12); ok {
		t.Fatalf("nil registry should never match")
	}
}

func TestDetectBandTieUsesDeclarationOrder(t *testing.T) {
	reg := NewRegistry(
		Band{Name: "first", MinHz: 100, MaxHz: 200, Slots: 16},
		Band{Name: "second", MinHz: 100, MaxHz: 200, Slots: 16},
	)
	band, ok := reg.DetectBand(120, 180)
	if !ok || band.Name != "first" {
		t.Fatalf("DetectBand = (%s, %v), want (first, true)", band.Name, ok)
	}
}

func TestNumSlots(t *testing.T) {
	tests := []struct {
		gbps float64
		want int
	}{
		{gbps: 12.5, want: 2},
		{gbps: 6.25, want: 1},
		{gbps: 6.26, want: 2},
		{gbps: 100, want: 16},
		{gbps: 0, want: 0},
		{gbps: -5, want: 0},
		{gbps: 1e12, want: MaxSlots + 1},
	}
	for _, tt := range tests {
		if got := NumSlots(tt.gbps); got != tt.want {
			t.Fatalf("NumSlots(%v) = %d, want %d", tt.gbps, got, tt.want)
		}
	}
}
