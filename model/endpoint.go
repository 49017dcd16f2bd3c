package model

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/signalsfoundry/flexgrid-rsa/spectrum"
)

// OTNType is the optical transport layer an endpoint or link belongs to.
type OTNType string

const (
	OTNOCH OTNType = "OCH"
	OTNOMS OTNType = "OMS"
	// OTNError marks a link whose two endpoints disagree on OTN type.
	OTNError OTNType = "ERROR"
)

// ParseOTNType parses an endpoint OTN type.
func ParseOTNType(s string) (OTNType, error) {
	switch OTNType(strings.ToUpper(strings.TrimSpace(s))) {
	case OTNOCH:
		return OTNOCH, nil
	case OTNOMS:
		return OTNOMS, nil
	default:
		return "", fmt.Errorf("%w: unknown OTN type %q", ErrInvalidEndpoint, s)
	}
}

// Endpoint is a port on a Device. A nil frequency bound means the port has
// no spectrum capability (for example a pass-through port).
//
// Bitmap bit i (LSB = slot nearest MinFrequencyHz) set means free. The
// bitmap is always exactly FlexSlots wide. Version is bumped by every
// committed allocation and serves as the optimistic concurrency token.
type Endpoint struct {
	ID             string          `json:"id"`
	DeviceID       string          `json:"device_id"`
	Name           string          `json:"name"`
	OTNType        OTNType         `json:"otn_type"`
	InUse          bool            `json:"in_use"`
	MinFrequencyHz *float64        `json:"min_frequency_hz,omitempty"`
	MaxFrequencyHz *float64        `json:"max_frequency_hz,omitempty"`
	FlexSlots      int             `json:"flex_slots"`
	Bitmap         spectrum.Bitmap `json:"bitmap"`
	Version        int64           `json:"version"`
}

// NewEndpoint builds an endpoint with a fresh ID and no spectrum capability.
func NewEndpoint(deviceID, name string, otn OTNType) *Endpoint {
	return &Endpoint{
		ID:       uuid.NewString(),
		DeviceID: deviceID,
		Name:     name,
		OTNType:  otn,
		Bitmap:   spectrum.NewBitmap(0),
	}
}

// WithSpectrum sets the frequency range, derives FlexSlots from it and marks
// every slot free.
func (e *Endpoint) WithSpectrum(minHz, maxHz float64) *Endpoint {
	e.MinFrequencyHz = &minHz
	e.MaxFrequencyHz = &maxHz
	e.FlexSlots = DeriveFlexSlots(minHz, maxHz)
	e.Bitmap = spectrum.FullBitmap(e.FlexSlots)
	e.InUse = false
	return e
}

// DeriveFlexSlots returns the number of 6.25 GHz slots spanning [minHz, maxHz].
func DeriveFlexSlots(minHz, maxHz float64) int {
	if maxHz <= minHz {
		return 0
	}
	return int(math.Round((maxHz - minHz) / spectrum.SlotGranularityHz))
}

// HasSpectrum reports whether the endpoint carries usable frequency metadata.
func (e *Endpoint) HasSpectrum() bool {
	return e != nil &&
		e.MinFrequencyHz != nil &&
		e.MaxFrequencyHz != nil &&
		*e.MaxFrequencyHz > *e.MinFrequencyHz &&
		e.FlexSlots > 0
}

// Grid returns the endpoint's native spectrum frame.
func (e *Endpoint) Grid() (spectrum.Grid, bool) {
	if !e.HasSpectrum() {
		return spectrum.Grid{}, false
	}
	return spectrum.Grid{MinHz: *e.MinFrequencyHz, Slots: e.FlexSlots}, true
}

// NativeBitmap returns the bitmap masked to FlexSlots.
func (e *Endpoint) NativeBitmap() spectrum.Bitmap {
	if e == nil {
		return spectrum.NewBitmap(0)
	}
	return e.Bitmap.Shift(0, e.FlexSlots)
}

// FreeSlots returns the number of free slots in the endpoint's own range.
func (e *Endpoint) FreeSlots() int {
	if !e.HasSpectrum() {
		return 0
	}
	return e.NativeBitmap().Count()
}

// Aligned maps the endpoint bitmap into a reference frame. Endpoints without
// spectrum metadata align to an all-zero bitmap.
func (e *Endpoint) Aligned(refMinHz float64, refSlots int) spectrum.Bitmap {
	grid, ok := e.Grid()
	if !ok {
		return spectrum.NewBitmap(refSlots)
	}
	return spectrum.Align(e.Bitmap, grid, refMinHz, refSlots)
}

// Validate checks the invariants a stored endpoint must satisfy.
func (e *Endpoint) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil endpoint", ErrInvalidEndpoint)
	}
	if e.ID == "" || e.DeviceID == "" {
		return fmt.Errorf("%w: endpoint %q needs an ID and a device", ErrInvalidEndpoint, e.Name)
	}
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("%w: endpoint %q has empty name", ErrInvalidEndpoint, e.ID)
	}
	if e.OTNType != OTNOCH && e.OTNType != OTNOMS {
		return fmt.Errorf("%w: endpoint %q has OTN type %q", ErrInvalidEndpoint, e.Name, e.OTNType)
	}
	if (e.MinFrequencyHz == nil) != (e.MaxFrequencyHz == nil) {
		return fmt.Errorf("%w: endpoint %q has only one frequency bound", ErrInvalidEndpoint, e.Name)
	}
	if e.FlexSlots < 0 || e.FlexSlots > spectrum.MaxSlots {
		return fmt.Errorf("%w: endpoint %q has %d flex slots", ErrInvalidEndpoint, e.Name, e.FlexSlots)
	}
	if e.Bitmap.Width() != e.FlexSlots {
		return fmt.Errorf("%w: endpoint %q bitmap is %d slots wide, want %d", ErrInvalidEndpoint, e.Name, e.Bitmap.Width(), e.FlexSlots)
	}
	return nil
}

// Clone returns a deep copy so snapshot readers cannot alias store state.
func (e Endpoint) Clone() Endpoint {
	out := e
	if e.MinFrequencyHz != nil {
		v := *e.MinFrequencyHz
		out.MinFrequencyHz = &v
	}
	if e.MaxFrequencyHz != nil {
		v := *e.MaxFrequencyHz
		out.MaxFrequencyHz = &v
	}
	out.Bitmap = e.Bitmap.Shift(0, e.Bitmap.Width())
	return out
}
