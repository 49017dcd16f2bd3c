package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrInvalidDevice indicates a device failed validation.
	ErrInvalidDevice = errors.New("invalid device")
	// ErrInvalidEndpoint indicates an endpoint failed validation.
	ErrInvalidEndpoint = errors.New("invalid endpoint")
	// ErrInvalidLink indicates an optical link failed validation.
	ErrInvalidLink = errors.New("invalid optical link")
)

// DeviceType classifies a network element.
type DeviceType string

const (
	DeviceROADM       DeviceType = "ROADM"
	DeviceTransponder DeviceType = "TRANSPONDER"
)

// ParseDeviceType maps provisioning strings, including the OpenROADM
// "optical-roadm" / "optical-transponder" spellings, onto a DeviceType.
func ParseDeviceType(s string) (DeviceType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "roadm", "optical-roadm":
		return DeviceROADM, nil
	case "transponder", "optical-transponder", "tp", "xponder":
		return DeviceTransponder, nil
	default:
		return "", fmt.Errorf("%w: unknown device type %q", ErrInvalidDevice, s)
	}
}

// Device is a network element (ROADM or transponder). Name is globally
// unique.
type Device struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Type   DeviceType `json:"type"`
	Vendor string     `json:"vendor,omitempty"`
	Model  string     `json:"model,omitempty"`
}

// NewDevice builds a device with a fresh ID.
func NewDevice(name string, typ DeviceType) *Device {
	return &Device{ID: uuid.NewString(), Name: name, Type: typ}
}

// Validate checks the invariants a stored device must satisfy.
func (d *Device) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: nil device", ErrInvalidDevice)
	}
	if d.ID == "" {
		return fmt.Errorf("%w: empty ID", ErrInvalidDevice)
	}
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: device %q has empty name", ErrInvalidDevice, d.ID)
	}
	switch d.Type {
	case DeviceROADM, DeviceTransponder:
	default:
		return fmt.Errorf("%w: device %q has type %q", ErrInvalidDevice, d.Name, d.Type)
	}
	return nil
}
