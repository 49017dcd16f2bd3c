package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/signalsfoundry/flexgrid-rsa/model"
	"github.com/signalsfoundry/flexgrid-rsa/spectrum"
)

// Topology is a decoded seed file with every reference resolved to IDs.
type Topology struct {
	Devices   []*model.Device
	Endpoints []*model.Endpoint
	Links     []*model.OpticalLink
}

// Summary reports what a load wrote.
type Summary struct {
	DeviceIDs   []string
	EndpointIDs []string
	LinkIDs     []string
}

// JSON shapes stay unexported so the seed format can evolve separately from
// the model.
type topologyJSON struct {
	Devices []deviceJSON `json:"devices"`
	Links   []linkJSON   `json:"links"`
}

type deviceJSON struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Type      string         `json:"type"`
	Vendor    string         `json:"vendor"`
	Model     string         `json:"model"`
	Endpoints []endpointJSON `json:"endpoints"`
}

type endpointJSON struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	OTNType        string   `json:"otn_type"`
	MinFrequencyHz *float64 `json:"min_frequency_hz"`
	MaxFrequencyHz *float64 `json:"max_frequency_hz"`
	FlexSlots      *int     `json:"flex_slots"` // derived from the range when absent
	Bitmap         string   `json:"bitmap"`     // MSB-first; all free when absent
	InUse          *bool    `json:"in_use"`     // derived from the bitmap when absent
}

type linkJSON struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	SrcDevice string `json:"src_device"`
	SrcPort   string `json:"src_port"`
	DstDevice string `json:"dst_device"`
	DstPort   string `json:"dst_port"`
}

// DecodeTopology reads a JSON topology from r. Devices and ports in links may
// be referenced by ID or by name. Missing IDs are generated.
func DecodeTopology(r io.Reader) (*Topology, error) {
	var payload topologyJSON
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode topology: %w", err)
	}

	topo := &Topology{}
	devByRef := make(map[string]*model.Device)
	portByRef := make(map[string]map[string]*model.Endpoint)

	for _, jd := range payload.Devices {
		typ, err := model.ParseDeviceType(jd.Type)
		if err != nil {
			return nil, fmt.Errorf("device %q: %w", jd.Name, err)
		}
		d := &model.Device{ID: orNewID(jd.ID), Name: jd.Name, Type: typ, Vendor: jd.Vendor, Model: jd.Model}
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := devByRef[d.Name]; dup {
			return nil, fmt.Errorf("device %q: %w", d.Name, ErrExists)
		}
		devByRef[d.ID] = d
		devByRef[d.Name] = d
		ports := make(map[string]*model.Endpoint)
		portByRef[d.ID] = ports
		topo.Devices = append(topo.Devices, d)

		for _, je := range jd.Endpoints {
			ep, err := decodeEndpoint(d, je)
			if err != nil {
				return nil, err
			}
			if _, dup := ports[ep.Name]; dup {
				return nil, fmt.Errorf("endpoint %s/%s: %w", d.Name, ep.Name, ErrExists)
			}
			ports[ep.ID] = ep
			ports[ep.Name] = ep
			topo.Endpoints = append(topo.Endpoints, ep)
		}
	}

	for _, jl := range payload.Links {
		src, err := resolveRef(devByRef, portByRef, jl.SrcDevice, jl.SrcPort)
		if err != nil {
			return nil, fmt.Errorf("link %q source: %w", jl.Name, err)
		}
		dst, err := resolveRef(devByRef, portByRef, jl.DstDevice, jl.DstPort)
		if err != nil {
			return nil, fmt.Errorf("link %q destination: %w", jl.Name, err)
		}
		l := model.NewOpticalLink(jl.Name, src, dst)
		if jl.ID != "" {
			l.ID = jl.ID
		}
		if err := l.Validate(); err != nil {
			return nil, err
		}
		topo.Links = append(topo.Links, l)
	}
	return topo, nil
}

func decodeEndpoint(d *model.Device, je endpointJSON) (*model.Endpoint, error) {
	otn, err := model.ParseOTNType(je.OTNType)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s/%s: %w", d.Name, je.Name, err)
	}
	ep := model.NewEndpoint(d.ID, je.Name, otn)
	ep.ID = orNewID(je.ID)
	if (je.MinFrequencyHz == nil) != (je.MaxFrequencyHz == nil) {
		return nil, fmt.Errorf("endpoint %s/%s: min_frequency_hz and max_frequency_hz must be set together: %w", d.Name, je.Name, model.ErrInvalidEndpoint)
	}
	if je.MinFrequencyHz != nil {
		ep.WithSpectrum(*je.MinFrequencyHz, *je.MaxFrequencyHz)
		if je.FlexSlots != nil {
			ep.FlexSlots = *je.FlexSlots
			ep.Bitmap = spectrum.FullBitmap(ep.FlexSlots)
		}
	}
	if je.Bitmap != "" {
		b, err := spectrum.ParseBitmapWidth(je.Bitmap, ep.FlexSlots)
		if err != nil {
			return nil, fmt.Errorf("endpoint %s/%s bitmap: %w", d.Name, je.Name, err)
		}
		ep.Bitmap = b
		ep.InUse = !b.IsFull()
	}
	if je.InUse != nil {
		ep.InUse = *je.InUse
	}
	if err := ep.Validate(); err != nil {
		return nil, err
	}
	return ep, nil
}

func resolveRef(devs map[string]*model.Device, ports map[string]map[string]*model.Endpoint, devRef, portRef string) (*model.Endpoint, error) {
	d, ok := devs[devRef]
	if !ok {
		return nil, fmt.Errorf("device %q: %w", devRef, ErrNotFound)
	}
	ep, ok := ports[d.ID][portRef]
	if !ok {
		return nil, fmt.Errorf("port %q on %s: %w", portRef, d.Name, ErrNotFound)
	}
	return ep, nil
}

func orNewID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

// Apply writes topo into s: devices, then endpoints, then links.
func Apply(ctx context.Context, s Store, topo *Topology) (*Summary, error) {
	sum := &Summary{}
	for _, d := range topo.Devices {
		if err := s.PutDevice(ctx, d); err != nil {
			return sum, fmt.Errorf("put device %q: %w", d.Name, err)
		}
		sum.DeviceIDs = append(sum.DeviceIDs, d.ID)
	}
	for _, ep := range topo.Endpoints {
		if err := s.PutEndpoint(ctx, ep); err != nil {
			return sum, fmt.Errorf("put endpoint %q: %w", ep.Name, err)
		}
		sum.EndpointIDs = append(sum.EndpointIDs, ep.ID)
	}
	for _, l := range topo.Links {
		if err := s.PutLink(ctx, l); err != nil {
			return sum, fmt.Errorf("put link %q: %w", l.Name, err)
		}
		sum.LinkIDs = append(sum.LinkIDs, l.ID)
	}
	return sum, nil
}

// Load decodes a topology from r and applies it to s.
func Load(ctx context.Context, s Store, r io.Reader) (*Summary, error) {
	topo, err := DecodeTopology(r)
	if err != nil {
		return nil, err
	}
	return Apply(ctx, s, topo)
}

// LoadFile is Load for a path on disk.
func LoadFile(ctx context.Context, s Store, path string) (*Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open topology: %w", err)
	}
	defer f.Close()
	return Load(ctx, s, f)
}
