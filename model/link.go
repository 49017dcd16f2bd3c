package model

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// LinkStatus summarises how much of an optical link is in use.
type LinkStatus string

const (
	LinkFree        LinkStatus = "FREE"
	LinkUsed        LinkStatus = "USED"
	LinkFull        LinkStatus = "FULL"
	LinkOTNMismatch LinkStatus = "OTN_MISMATCH"
)

// OpticalLink is a directed fibre connection between two endpoints.
type OpticalLink struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	SrcDeviceID   string `json:"src_device_id"`
	SrcEndpointID string `json:"src_endpoint_id"`
	DstDeviceID   string `json:"dst_device_id"`
	DstEndpointID string `json:"dst_endpoint_id"`
}

// NewOpticalLink wires src to dst under a fresh ID.
func NewOpticalLink(name string, src, dst *Endpoint) *OpticalLink {
	return &OpticalLink{
		ID:            uuid.NewString(),
		Name:          name,
		SrcDeviceID:   src.DeviceID,
		SrcEndpointID: src.ID,
		DstDeviceID:   dst.DeviceID,
		DstEndpointID: dst.ID,
	}
}

// Validate checks that every reference is populated.
func (l *OpticalLink) Validate() error {
	if l == nil {
		return fmt.Errorf("%w: nil link", ErrInvalidLink)
	}
	if l.ID == "" {
		return fmt.Errorf("%w: empty ID", ErrInvalidLink)
	}
	if strings.TrimSpace(l.Name) == "" {
		return fmt.Errorf("%w: link %q has empty name", ErrInvalidLink, l.ID)
	}
	if l.SrcDeviceID == "" || l.SrcEndpointID == "" || l.DstDeviceID == "" || l.DstEndpointID == "" {
		return fmt.Errorf("%w: link %q has unresolved endpoints", ErrInvalidLink, l.Name)
	}
	if l.SrcEndpointID == l.DstEndpointID {
		return fmt.Errorf("%w: link %q loops on endpoint %q", ErrInvalidLink, l.Name, l.SrcEndpointID)
	}
	return nil
}

// ConsolidateOTN returns the shared OTN type of both endpoints, or OTNError
// when they disagree.
func ConsolidateOTN(src, dst *Endpoint) OTNType {
	if src == nil || dst == nil || src.OTNType != dst.OTNType {
		return OTNError
	}
	return src.OTNType
}

// ComputeLinkStatus derives a link status from its endpoints.
//
// OCH links are FREE unless either side is in use. OMS links are FULL once
// both spectrum-capable sides have no free slot left, FREE when neither side
// is in use, and USED otherwise.
func ComputeLinkStatus(src, dst *Endpoint) (OTNType, LinkStatus) {
	otn := ConsolidateOTN(src, dst)
	switch otn {
	case OTNOCH:
		if src.InUse || dst.InUse {
			return otn, LinkUsed
		}
		return otn, LinkFree
	case OTNOMS:
		if !src.InUse && !dst.InUse {
			return otn, LinkFree
		}
		if src.HasSpectrum() && dst.HasSpectrum() && src.FreeSlots() == 0 && dst.FreeSlots() == 0 {
			return otn, LinkFull
		}
		return otn, LinkUsed
	default:
		return OTNError, LinkOTNMismatch
	}
}

// Usable reports whether a link with the given classification may carry a
// new lightpath.
func Usable(otn OTNType, status LinkStatus) bool {
	switch otn {
	case OTNOCH:
		return status == LinkFree
	case OTNOMS:
		return status != LinkFull
	default:
		return false
	}
}
