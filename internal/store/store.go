// Package store defines the persistence contract for the optical inventory
// and the JSON topology seed format shared by every backend.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/signalsfoundry/flexgrid-rsa/model"
	"github.com/signalsfoundry/flexgrid-rsa/spectrum"
)

var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrExists is returned when an ID or unique name is already taken.
	ErrExists = errors.New("already exists")
	// ErrConflict is returned when an endpoint changed since it was read.
	ErrConflict = errors.New("concurrent modification")
)

// EndpointUpdate replaces the spectrum state of one endpoint, provided its
// version still equals ExpectedVersion.
type EndpointUpdate struct {
	ID              string
	ExpectedVersion int64
	Bitmap          spectrum.Bitmap
	InUse           bool
}

// Guards maps endpoint IDs to the versions a caller read but does not write.
// An update batch carrying guards fails with ErrConflict if any guarded
// endpoint moved on, which covers ports that shared a device with the path.
type Guards map[string]int64

// IDs returns the guarded endpoint IDs not already written by updates, sorted.
func (g Guards) IDs(updates []EndpointUpdate) []string {
	written := make(map[string]struct{}, len(updates))
	for _, u := range updates {
		written[u.ID] = struct{}{}
	}
	ids := make([]string, 0, len(g))
	for id := range g {
		if _, ok := written[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Store persists devices, endpoints and optical links.
//
// ApplyEndpointUpdates is atomic: either every update is applied and every
// touched endpoint's version is incremented, or nothing changes. Guarded
// endpoints are checked under the same lock or transaction as the writes.
type Store interface {
	Snapshot(ctx context.Context) (*model.Snapshot, error)
	PutDevice(ctx context.Context, d *model.Device) error
	PutEndpoint(ctx context.Context, ep *model.Endpoint) error
	PutLink(ctx context.Context, l *model.OpticalLink) error
	ApplyEndpointUpdates(ctx context.Context, updates []EndpointUpdate, guards Guards) ([]model.Endpoint, error)
	Close() error
}

// CheckGuard fails with ErrConflict when cur is no longer at the version read.
func CheckGuard(cur *model.Endpoint, want int64) error {
	if cur.Version != want {
		return fmt.Errorf("%w: endpoint %q on a shared device is at version %d, read %d", ErrConflict, cur.Name, cur.Version, want)
	}
	return nil
}

// CheckUpdate validates an update against the endpoint's current state.
// Backends call it inside their write lock or transaction.
func CheckUpdate(cur *model.Endpoint, u EndpointUpdate) error {
	if cur.Version != u.ExpectedVersion {
		return fmt.Errorf("%w: endpoint %q is at version %d, expected %d", ErrConflict, cur.Name, cur.Version, u.ExpectedVersion)
	}
	if u.Bitmap.Width() != cur.FlexSlots {
		return fmt.Errorf("%w: endpoint %q update is %d slots wide, want %d", spectrum.ErrWidthMismatch, cur.Name, u.Bitmap.Width(), cur.FlexSlots)
	}
	return nil
}

// DedupeUpdates rejects batches that touch the same endpoint twice.
func DedupeUpdates(updates []EndpointUpdate) error {
	seen := make(map[string]struct{}, len(updates))
	for _, u := range updates {
		if _, dup := seen[u.ID]; dup {
			return fmt.Errorf("%w: endpoint %q updated twice in one batch", ErrConflict, u.ID)
		}
		seen[u.ID] = struct{}{}
	}
	return nil
}
