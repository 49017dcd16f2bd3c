package model

import "sort"

// Snapshot is a point-in-time, read-only copy of the optical inventory.
// Searches and allocations run against a Snapshot so they never hold store
// locks.
type Snapshot struct {
	Devices   []Device
	Endpoints []Endpoint
	Links     []OpticalLink

	deviceByID   map[string]*Device
	deviceByName map[string]*Device
	endpointByID map[string]*Endpoint
	linkByID     map[string]*OpticalLink
	byDevice     map[string][]*Endpoint
}

// NewSnapshot indexes the given records. Records are sorted by name so that
// iteration order is stable across stores.
func NewSnapshot(devices []Device, endpoints []Endpoint, links []OpticalLink) *Snapshot {
	s := &Snapshot{
		Devices:      devices,
		Endpoints:    endpoints,
		Links:        links,
		deviceByID:   make(map[string]*Device, len(devices)),
		deviceByName: make(map[string]*Device, len(devices)),
		endpointByID: make(map[string]*Endpoint, len(endpoints)),
		linkByID:     make(map[string]*OpticalLink, len(links)),
		byDevice:     make(map[string][]*Endpoint),
	}
	sort.SliceStable(s.Devices, func(i, j int) bool { return s.Devices[i].Name < s.Devices[j].Name })
	sort.SliceStable(s.Endpoints, func(i, j int) bool {
		if s.Endpoints[i].DeviceID != s.Endpoints[j].DeviceID {
			return s.Endpoints[i].DeviceID < s.Endpoints[j].DeviceID
		}
		return s.Endpoints[i].Name < s.Endpoints[j].Name
	})
	sort.SliceStable(s.Links, func(i, j int) bool { return s.Links[i].Name < s.Links[j].Name })

	for i := range s.Devices {
		d := &s.Devices[i]
		s.deviceByID[d.ID] = d
		s.deviceByName[d.Name] = d
	}
	for i := range s.Endpoints {
		ep := &s.Endpoints[i]
		s.endpointByID[ep.ID] = ep
		s.byDevice[ep.DeviceID] = append(s.byDevice[ep.DeviceID], ep)
	}
	for i := range s.Links {
		s.linkByID[s.Links[i].ID] = &s.Links[i]
	}
	return s
}

// Device returns the device with the given ID.
func (s *Snapshot) Device(id string) (*Device, bool) {
	d, ok := s.deviceByID[id]
	return d, ok
}

// Endpoint returns the endpoint with the given ID.
func (s *Snapshot) Endpoint(id string) (*Endpoint, bool) {
	ep, ok := s.endpointByID[id]
	return ep, ok
}

// Link returns the optical link with the given ID.
func (s *Snapshot) Link(id string) (*OpticalLink, bool) {
	l, ok := s.linkByID[id]
	return l, ok
}

// EndpointsByDevice lists a device's endpoints in name order.
func (s *Snapshot) EndpointsByDevice(deviceID string) []*Endpoint {
	return s.byDevice[deviceID]
}

// ResolveDevice matches ref against device IDs first, then names.
func (s *Snapshot) ResolveDevice(ref string) (*Device, bool) {
	if d, ok := s.deviceByID[ref]; ok {
		return d, true
	}
	d, ok := s.deviceByName[ref]
	return d, ok
}

// ResolvePort matches ref against endpoint IDs or names on one device.
func (s *Snapshot) ResolvePort(deviceID, ref string) (*Endpoint, bool) {
	if ep, ok := s.endpointByID[ref]; ok && ep.DeviceID == deviceID {
		return ep, true
	}
	for _, ep := range s.byDevice[deviceID] {
		if ep.Name == ref {
			return ep, true
		}
	}
	return nil, false
}

// LinkStatus computes the OTN classification and status of a link. ok is
// false when either endpoint is missing from the snapshot.
func (s *Snapshot) LinkStatus(l *OpticalLink) (OTNType, LinkStatus, bool) {
	src, okSrc := s.endpointByID[l.SrcEndpointID]
	dst, okDst := s.endpointByID[l.DstEndpointID]
	if !okSrc || !okDst {
		return OTNError, LinkOTNMismatch, false
	}
	otn, status := ComputeLinkStatus(src, dst)
	return otn, status, true
}
