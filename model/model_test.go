package model

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/signalsfoundry/flexgrid-rsa/spectrum"
)

func ochPair(srcInUse, dstInUse bool) (*Endpoint, *Endpoint) {
	src := NewEndpoint("dev-a", "och-1", OTNOCH)
	dst := NewEndpoint("dev-b", "och-1", OTNOCH)
	src.InUse = srcInUse
	dst.InUse = dstInUse
	return src, dst
}

func omsEndpoint(device string, bits string) *Endpoint {
	ep := NewEndpoint(device, "oms-1", OTNOMS).WithSpectrum(191.55625e12, 191.55625e12+float64(len(bits))*spectrum.SlotGranularityHz)
	b, _ := spectrum.ParseBitmap(bits)
	ep.Bitmap = b
	ep.InUse = !b.IsFull()
	return ep
}

func TestOCHLinkStatus(t *testing.T) {
	src, dst := ochPair(false, false)
	if otn, status := ComputeLinkStatus(src, dst); otn != OTNOCH || status != LinkFree {
		t.Fatalf("status = (%s, %s), want (OCH, FREE)", otn, status)
	}
	src.InUse = true
	if _, status := ComputeLinkStatus(src, dst); status != LinkUsed {
		t.Fatalf("status = %s, want USED", status)
	}
	src.InUse = false
	dst.InUse = true
	if _, status := ComputeLinkStatus(src, dst); status != LinkUsed {
		t.Fatalf("status = %s, want USED", status)
	}
}

func TestOMSLinkStatus(t *testing.T) {
	tests := []struct {
		name string
		src  string
		dst  string
		want LinkStatus
	}{
		{name: "both free", src: "1111", dst: "1111", want: LinkFree},
		{name: "one side partially used", src: "1100", dst: "1111", want: LinkUsed},
		{name: "one side exhausted", src: "0000", dst: "1111", want: LinkUsed},
		{name: "both exhausted", src: "0000", dst: "0000", want: LinkFull},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, got := ComputeLinkStatus(omsEndpoint("a", tt.src), omsEndpoint("b", tt.dst))
			if got != tt.want {
				t.Fatalf("status = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestOTNMismatch(t *testing.T) {
	src := NewEndpoint("a", "p", OTNOCH)
	dst := NewEndpoint("b", "p", OTNOMS)
	otn, status := ComputeLinkStatus(src, dst)
	if otn != OTNError || status != LinkOTNMismatch {
		t.Fatalf("status = (%s, %s), want (ERROR, OTN_MISMATCH)", otn, status)
	}
	if Usable(otn, status) {
		t.Fatalf("ERROR edge must never be usable")
	}
}

func TestUsable(t *testing.T) {
	tests := []struct {
		otn    OTNType
		status LinkStatus
		want   bool
	}{
		{OTNOCH, LinkFree, true},
		{OTNOCH, LinkUsed, false},
		{OTNOMS, LinkFree, true},
		{OTNOMS, LinkUsed, true},
		{OTNOMS, LinkFull, false},
		{OTNError, LinkFree, false},
	}
	for _, tt := range tests {
		if got := Usable(tt.otn, tt.status); got != tt.want {
			t.Fatalf("Usable(%s, %s) = %v, want %v", tt.otn, tt.status, got, tt.want)
		}
	}
}

func TestEndpointWithoutSpectrumAlignsToZero(t *testing.T) {
	ep := NewEndpoint("dev", "pass-through", OTNOMS)
	if ep.HasSpectrum() {
		t.Fatalf("pass-through port reported spectrum capability")
	}
	aligned := ep.Aligned(191.55625e12, 16)
	if aligned.Width() != 16 || !aligned.IsEmpty() {
		t.Fatalf("Aligned = %s, want 16 zero bits", aligned)
	}
}

func TestEndpointWithSpectrumDerivesSlots(t *testing.T) {
	ep := NewEndpoint("dev", "line", OTNOMS).WithSpectrum(191.55625e12, 195.9375e12)
	if ep.FlexSlots != 701 {
		t.Fatalf("FlexSlots = %d, want 701", ep.FlexSlots)
	}
	if ep.FreeSlots() != 701 {
		t.Fatalf("FreeSlots = %d, want 701", ep.FreeSlots())
	}
	if err := ep.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestEndpointValidateRejectsWrongBitmapWidth(t *testing.T) {
	ep := NewEndpoint("dev", "line", OTNOMS).WithSpectrum(191.55625e12, 191.55625e12+8*spectrum.SlotGranularityHz)
	ep.Bitmap = spectrum.FullBitmap(9)
	if err := ep.Validate(); !errors.Is(err, ErrInvalidEndpoint) {
		t.Fatalf("Validate error = %v, want ErrInvalidEndpoint", err)
	}
}

func TestEndpointJSONCarriesBitmapAsBinaryString(t *testing.T) {
	ep := omsEndpoint("dev", "0011")
	data, err := json.Marshal(ep)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded Endpoint
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Bitmap.String() != "0011" {
		t.Fatalf("bitmap = %q, want 0011", decoded.Bitmap.String())
	}
	if decoded.MinFrequencyHz == nil || *decoded.MinFrequencyHz != *ep.MinFrequencyHz {
		t.Fatalf("min frequency lost in round trip")
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	ep := omsEndpoint("dev", "1111")
	clone := ep.Clone()
	*clone.MinFrequencyHz = 1
	if *ep.MinFrequencyHz == 1 {
		t.Fatalf("clone shares frequency pointer")
	}
}

func TestParseDeviceType(t *testing.T) {
	for in, want := range map[string]DeviceType{
		"optical-roadm":       DeviceROADM,
		"ROADM":               DeviceROADM,
		"optical-transponder": DeviceTransponder,
	} {
		got, err := ParseDeviceType(in)
		if err != nil || got != want {
			t.Fatalf("ParseDeviceType(%q) = (%s, %v), want %s", in, got, err, want)
		}
	}
	if _, err := ParseDeviceType("amplifier"); !errors.Is(err, ErrInvalidDevice) {
		t.Fatalf("ParseDeviceType error = %v, want ErrInvalidDevice", err)
	}
}

func TestSnapshotResolvers(t *testing.T) {
	a := NewDevice("roadm-a", DeviceROADM)
	b := NewDevice("roadm-b", DeviceROADM)
	pa := NewEndpoint(a.ID, "deg-1", OTNOMS)
	pb := NewEndpoint(b.ID, "deg-1", OTNOMS)
	link := NewOpticalLink("a-b", pa, pb)

	snap := NewSnapshot([]Device{*b, *a}, []Endpoint{*pa, *pb}, []OpticalLink{*link})

	if snap.Devices[0].Name != "roadm-a" {
		t.Fatalf("devices not sorted by name: %v", snap.Devices)
	}
	if d, ok := snap.ResolveDevice("roadm-b"); !ok || d.ID != b.ID {
		t.Fatalf("ResolveDevice by name failed")
	}
	if d, ok := snap.ResolveDevice(a.ID); !ok || d.Name != "roadm-a" {
		t.Fatalf("ResolveDevice by ID failed")
	}
	if ep, ok := snap.ResolvePort(a.ID, "deg-1"); !ok || ep.ID != pa.ID {
		t.Fatalf("ResolvePort by name failed")
	}
	if _, ok := snap.ResolvePort(a.ID, pb.ID); ok {
		t.Fatalf("ResolvePort accepted an endpoint from another device")
	}
	otn, status, ok := snap.LinkStatus(&snap.Links[0])
	if !ok || otn != OTNOMS || status != LinkFree {
		t.Fatalf("LinkStatus = (%s, %s, %v), want (OMS, FREE, true)", otn, status, ok)
	}
}
