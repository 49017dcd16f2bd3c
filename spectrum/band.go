package spectrum

import "math"

// ITU-T G.694.1 flexible grid constants.
const (
	AnchorFrequencyHz = 193.1e12
	SlotGranularityHz = 6.25e9
	SlotWidthHz       = 12.5e9

	// BandTolerance is the slack applied to both band bounds, as a fraction
	// of the band width, so ranges reported by device telemetry with rounding
	// noise still match.
	BandTolerance = 0.01
)

// Standard band names.
const (
	BandO     = "O"
	BandE     = "E"
	BandS     = "S"
	BandC     = "C"
	BandL     = "L"
	BandCL    = "CL"
	BandSCL   = "SCL"
	BandWhole = "WHOLE"
)

// Band is a registry entry: a named frequency range with its standard slot
// count at SlotGranularityHz.
type Band struct {
	Name  string  `json:"name"`
	MinHz float64 `json:"min_hz"`
	MaxHz float64 `json:"max_hz"`
	Slots int     `json:"slots"`
}

// WidthHz returns the frequency span of the band.
func (b Band) WidthHz() float64 { return b.MaxHz - b.MinHz }

// Contains reports whether [minHz, maxHz] lies inside the band once each bound
// is relaxed by tolerance*WidthHz.
func (b Band) Contains(minHz, maxHz, tolerance float64) bool {
	if minHz > maxHz {
		return false
	}
	slack := tolerance * b.WidthHz()
	return minHz >= b.MinHz-slack && maxHz <= b.MaxHz+slack
}

// standardBands lists the catalogue in declaration order; ties on width are
// resolved in favour of the earlier entry.
var standardBands = []Band{
	{Name: BandO, MinHz: 220.425e12, MaxHz: 237.925e12, Slots: 2800},
	{Name: BandE, MinHz: 205.325e12, MaxHz: 220.425e12, Slots: 2416},
	{Name: BandS, MinHz: 195.9375e12, MaxHz: 205.325e12, Slots: 1501},
	{Name: BandC, MinHz: 191.55625e12, MaxHz: 195.9375e12, Slots: 701},
	{Name: BandL, MinHz: 188.45e12, MaxHz: 191.55625e12, Slots: 498},
	{Name: BandCL, MinHz: 188.45e12, MaxHz: 195.9375e12, Slots: 1199},
	{Name: BandSCL, MinHz: 188.45e12, MaxHz: 205.325e12, Slots: 2701},
	{Name: BandWhole, MinHz: 188.45e12, MaxHz: 237.925e12, Slots: 7917},
}

// Registry resolves frequency ranges to bands.
type Registry struct {
	bands     []Band
	tolerance float64
}

// NewRegistry builds a registry over the given bands with BandTolerance.
func NewRegistry(bands ...Band) *Registry {
	return &Registry{
		bands:     append([]Band(nil), bands...),
		tolerance: BandTolerance,
	}
}

// DefaultRegistry returns the ITU-T optical band catalogue.
func DefaultRegistry() *Registry {
	return NewRegistry(standardBands...)
}

// Bands returns a copy of the registered bands in declaration order.
func (r *Registry) Bands() []Band {
	if r == nil {
		return nil
	}
	return append([]Band(nil), r.bands...)
}

// Lookup returns the band registered under name.
func (r *Registry) Lookup(name string) (Band, bool) {
	if r == nil {
		return Band{}, false
	}
	for _, b := range r.bands {
		if b.Name == name {
			return b, true
		}
	}
	return Band{}, false
}

// DetectBand returns the narrowest band containing [minHz, maxHz]. The
// boolean is false when no band matches, which callers treat as a normal
// request-level outcome.
func (r *Registry) DetectBand(minHz, maxHz float64) (Band, bool) {
	if r == nil || math.IsNaN(minHz) || math.IsNaN(maxHz) {
		return Band{}, false
	}
	var (
		best  Band
		found bool
	)
	for _, b := range r.bands {
		if !b.Contains(minHz, maxHz, r.tolerance) {
			continue
		}
		if !found || b.WidthHz() < best.WidthHz() {
			best, found = b, true
		}
	}
	return best, found
}

// NumSlots converts a bandwidth demand in Gb/s into the number of
// 6.25 GHz slots it occupies.
func NumSlots(bandwidthGbps float64) int {
	if bandwidthGbps <= 0 || math.IsNaN(bandwidthGbps) || math.IsInf(bandwidthGbps, 0) {
		return 0
	}
	slots := math.Ceil(bandwidthGbps / (SlotGranularityHz / 1e9))
	if slots > MaxSlots {
		return MaxSlots + 1
	}
	return int(slots)
}

// FrequencyOfSlot returns the lower edge frequency of slot i in a frame that
// starts at refMinHz.
func FrequencyOfSlot(refMinHz float64, i int) float64 {
	return refMinHz + float64(i)*SlotGranularityHz
}
