// Package kb provides the in-memory optical knowledge base. It implements
// store.Store and is the default backend for tests and single-process
// deployments.
package kb

import (
	"context"
	"fmt"
	"sync"

	"github.com/signalsfoundry/flexgrid-rsa/internal/store"
	"github.com/signalsfoundry/flexgrid-rsa/model"
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventDeviceAdded EventType = iota
	EventEndpointAdded
	EventLinkAdded
	EventEndpointsUpdated
)

// Event is emitted to subscribers when the inventory changes. Endpoints holds
// copies of the endpoints after the change.
type Event struct {
	Type      EventType
	Endpoints []model.Endpoint
	Devices   int
	Links     int
}

// KnowledgeBase is an in-memory, thread-safe store for devices, endpoints
// and optical links.
type KnowledgeBase struct {
	mu sync.RWMutex

	devices      map[string]*model.Device
	deviceByName map[string]string
	endpoints    map[string]*model.Endpoint
	links        map[string]*model.OpticalLink
	linkByName   map[string]string

	subs map[int]func(Event)
	next int
}

var _ store.Store = (*KnowledgeBase)(nil)

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		devices:      make(map[string]*model.Device),
		deviceByName: make(map[string]string),
		endpoints:    make(map[string]*model.Endpoint),
		links:        make(map[string]*model.OpticalLink),
		linkByName:   make(map[string]string),
		subs:         make(map[int]func(Event)),
	}
}

// PutDevice adds a device. IDs and names must be unique.
func (kb *KnowledgeBase) PutDevice(_ context.Context, d *model.Device) error {
	if err := d.Validate(); err != nil {
		return err
	}
	kb.mu.Lock()
	if _, exists := kb.devices[d.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("device %q: %w", d.ID, store.ErrExists)
	}
	if _, exists := kb.deviceByName[d.Name]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("device name %q: %w", d.Name, store.ErrExists)
	}
	cp := *d
	kb.devices[d.ID] = &cp
	kb.deviceByName[d.Name] = d.ID
	ev := kb.eventLocked(EventDeviceAdded, nil)
	kb.mu.Unlock()

	kb.notify(ev)
	return nil
}

// PutEndpoint adds an endpoint to an existing device. Names are unique
// within a device.
func (kb *KnowledgeBase) PutEndpoint(_ context.Context, ep *model.Endpoint) error {
	if err := ep.Validate(); err != nil {
		return err
	}
	kb.mu.Lock()
	if _, ok := kb.devices[ep.DeviceID]; !ok {
		kb.mu.Unlock()
		return fmt.Errorf("device %q for endpoint %q: %w", ep.DeviceID, ep.Name, store.ErrNotFound)
	}
	if _, exists := kb.endpoints[ep.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("endpoint %q: %w", ep.ID, store.ErrExists)
	}
	for _, other := range kb.endpoints {
		if other.DeviceID == ep.DeviceID && other.Name == ep.Name {
			kb.mu.Unlock()
			return fmt.Errorf("endpoint name %q: %w", ep.Name, store.ErrExists)
		}
	}
	cp := ep.Clone()
	kb.endpoints[ep.ID] = &cp
	ev := kb.eventLocked(EventEndpointAdded, []model.Endpoint{cp.Clone()})
	kb.mu.Unlock()

	kb.notify(ev)
	return nil
}

// PutLink adds an optical link whose endpoints already exist on the
// referenced devices.
func (kb *KnowledgeBase) PutLink(_ context.Context, l *model.OpticalLink) error {
	if err := l.Validate(); err != nil {
		return err
	}
	kb.mu.Lock()
	if _, exists := kb.links[l.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("link %q: %w", l.ID, store.ErrExists)
	}
	if _, exists := kb.linkByName[l.Name]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("link name %q: %w", l.Name, store.ErrExists)
	}
	for _, ref := range [][2]string{{l.SrcDeviceID, l.SrcEndpointID}, {l.DstDeviceID, l.DstEndpointID}} {
		ep, ok := kb.endpoints[ref[1]]
		if !ok || ep.DeviceID != ref[0] {
			kb.mu.Unlock()
			return fmt.Errorf("endpoint %q on device %q: %w", ref[1], ref[0], store.ErrNotFound)
		}
	}
	cp := *l
	kb.links[l.ID] = &cp
	kb.linkByName[l.Name] = l.ID
	ev := kb.eventLocked(EventLinkAdded, nil)
	kb.mu.Unlock()

	kb.notify(ev)
	return nil
}

// Snapshot copies the current inventory.
func (kb *KnowledgeBase) Snapshot(_ context.Context) (*model.Snapshot, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	devices := make([]model.Device, 0, len(kb.devices))
	for _, d := range kb.devices {
		devices = append(devices, *d)
	}
	endpoints := make([]model.Endpoint, 0, len(kb.endpoints))
	for _, ep := range kb.endpoints {
		endpoints = append(endpoints, ep.Clone())
	}
	links := make([]model.OpticalLink, 0, len(kb.links))
	for _, l := range kb.links {
		links = append(links, *l)
	}
	return model.NewSnapshot(devices, endpoints, links), nil
}

// ApplyEndpointUpdates atomically replaces endpoint spectrum state. Every
// guard and every update is checked against its version before any update
// is applied.
func (kb *KnowledgeBase) ApplyEndpointUpdates(_ context.Context, updates []store.EndpointUpdate, guards store.Guards) ([]model.Endpoint, error) {
	if err := store.DedupeUpdates(updates); err != nil {
		return nil, err
	}
	kb.mu.Lock()
	for _, id := range guards.IDs(updates) {
		cur, ok := kb.endpoints[id]
		if !ok {
			kb.mu.Unlock()
			return nil, fmt.Errorf("endpoint %q: %w", id, store.ErrNotFound)
		}
		if err := store.CheckGuard(cur, guards[id]); err != nil {
			kb.mu.Unlock()
			return nil, err
		}
	}
	for _, u := range updates {
		cur, ok := kb.endpoints[u.ID]
		if !ok {
			kb.mu.Unlock()
			return nil, fmt.Errorf("endpoint %q: %w", u.ID, store.ErrNotFound)
		}
		if err := store.CheckUpdate(cur, u); err != nil {
			kb.mu.Unlock()
			return nil, err
		}
	}

	out := make([]model.Endpoint, 0, len(updates))
	for _, u := range updates {
		cur := kb.endpoints[u.ID]
		cur.Bitmap = u.Bitmap
		cur.InUse = u.InUse
		cur.Version++
		out = append(out, cur.Clone())
	}
	ev := kb.eventLocked(EventEndpointsUpdated, out)
	kb.mu.Unlock()

	kb.notify(ev)
	return out, nil
}

// Close is a no-op for the in-memory store.
func (kb *KnowledgeBase) Close() error { return nil }

// Counts returns the number of devices, endpoints and links.
func (kb *KnowledgeBase) Counts() (devices, endpoints, links int) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.devices), len(kb.endpoints), len(kb.links)
}

// Subscribe registers a callback for KB events. It returns an unsubscribe
// function. Callbacks run outside the KB lock.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.next
	kb.next++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

type pending struct {
	ev   Event
	subs []func(Event)
}

func (kb *KnowledgeBase) eventLocked(typ EventType, eps []model.Endpoint) pending {
	p := pending{ev: Event{Type: typ, Endpoints: eps, Devices: len(kb.devices), Links: len(kb.links)}}
	for i := 0; i < kb.next; i++ {
		if fn, ok := kb.subs[i]; ok {
			p.subs = append(p.subs, fn)
		}
	}
	return p
}

// notify delivers an event outside the lock to avoid deadlocks.
func (kb *KnowledgeBase) notify(p pending) {
	for _, sub := range p.subs {
		sub(p.ev)
	}
}
