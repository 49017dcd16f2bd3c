package rsa

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/flexgrid-rsa/internal/logging"
	"github.com/signalsfoundry/flexgrid-rsa/internal/store"
	"github.com/signalsfoundry/flexgrid-rsa/model"
	"github.com/signalsfoundry/flexgrid-rsa/spectrum"
	"github.com/signalsfoundry/flexgrid-rsa/topology"
)

// CommitRequest takes the slots of Mask, given in the path's reference
// frame, on every endpoint of the links in LinkIDs. When ExpectedVersions
// is set, the commit is refused if any listed endpoint moved on since the
// allocation was computed.
type CommitRequest struct {
	LinkIDs          []string         `json:"link_ids"`
	Mask             string           `json:"mask"`
	ExpectedVersions map[string]int64 `json:"expected_versions,omitempty"`
}

// LinkState is a link's derived status after a commit.
type LinkState struct {
	LinkID string           `json:"link_id"`
	Name   string           `json:"name"`
	OTN    model.OTNType    `json:"otn_type"`
	Status model.LinkStatus `json:"status"`
}

// CommitResult reports what a commit wrote.
type CommitResult struct {
	Success   bool             `json:"success"`
	Band      string           `json:"band"`
	Slots     int              `json:"slots"`
	Endpoints []model.Endpoint `json:"endpoints"`
	Links     []LinkState      `json:"links"`
}

// Committer applies allocation masks to a store.
type Committer struct {
	Engine *Engine
	Store  store.Store
	Log    logging.Logger
}

// Commit validates req against live endpoint state and applies it through
// the store's atomic update. The versions of every endpoint on a device of
// the path are checked in the same write, so a concurrent change to any of
// them fails the whole commit with store.ErrConflict; callers recompute the
// allocation and try again.
func (c *Committer) Commit(ctx context.Context, req CommitRequest) (CommitResult, error) {
	log := logging.OrNoop(c.Log)
	if len(req.LinkIDs) == 0 {
		return CommitResult{}, fmt.Errorf("%w: no links", ErrInvalidRequest)
	}
	mask, err := spectrum.ParseBitmap(req.Mask)
	if err != nil {
		return CommitResult{}, fmt.Errorf("%w: mask: %w", ErrInvalidRequest, err)
	}

	snap, err := c.Store.Snapshot(ctx)
	if err != nil {
		return CommitResult{}, err
	}
	g := topology.Build(ctx, snap, log)
	path, err := g.PathFromLinks(req.LinkIDs)
	if err != nil {
		return CommitResult{}, err
	}
	av, ok, err := c.Engine.ComputeAvailability(ctx, snap, path)
	if err != nil {
		return CommitResult{}, err
	}
	if !ok {
		return CommitResult{}, fmt.Errorf("%w: no band contains the path's frequency range", ErrInvalidRequest)
	}
	if mask.Width() != av.ReferenceSlots {
		return CommitResult{}, fmt.Errorf("%w: mask is %d slots wide, %s band has %d: %w",
			ErrInvalidRequest, mask.Width(), av.Band.Name, av.ReferenceSlots, spectrum.ErrWidthMismatch)
	}
	for id, want := range req.ExpectedVersions {
		ep, ok := snap.Endpoint(id)
		if !ok {
			return CommitResult{}, fmt.Errorf("%w: endpoint %q", store.ErrNotFound, id)
		}
		if ep.Version != want {
			return CommitResult{}, fmt.Errorf("%w: endpoint %q is at version %d, allocation saw %d", store.ErrConflict, ep.Name, ep.Version, want)
		}
	}

	if mask.IsEmpty() {
		log.Debug(ctx, "empty mask, nothing to commit", logging.Any("links", req.LinkIDs))
		return c.result(snap, path, av, nil, 0), nil
	}
	taken, _ := mask.AndNot(av.Bitmap)
	if !taken.IsEmpty() {
		return CommitResult{}, fmt.Errorf("%w: %d requested slots are no longer free on the path", store.ErrConflict, taken.Count())
	}

	keep := mask.Not()
	updates := make([]store.EndpointUpdate, 0, len(av.Endpoints))
	for _, ep := range av.Endpoints {
		u := store.EndpointUpdate{ID: ep.ID, ExpectedVersion: ep.Version, Bitmap: ep.Bitmap, InUse: true}
		if grid, ok := ep.Grid(); ok {
			next, err := ep.NativeBitmap().And(spectrum.Shrink(keep, av.ReferenceMinHz, grid))
			if err != nil {
				return CommitResult{}, fmt.Errorf("endpoint %q: %w", ep.Name, err)
			}
			u.Bitmap = next
			u.InUse = !next.IsFull()
		}
		updates = append(updates, u)
	}
	written, err := c.Store.ApplyEndpointUpdates(ctx, updates, store.Guards(versions(av.ReadSet)))
	if err != nil {
		log.Warn(ctx, "commit rejected", logging.Any("links", req.LinkIDs), logging.Err(err))
		return CommitResult{}, err
	}
	log.Info(ctx, "spectrum committed",
		logging.String("band", av.Band.Name),
		logging.Int("slots", mask.Count()),
		logging.Stringer("mask", mask),
		logging.Int("endpoints", len(written)),
	)
	return c.result(snap, path, av, written, mask.Count()), nil
}

func (c *Committer) result(snap *model.Snapshot, path topology.ExpandedPath, av Availability, written []model.Endpoint, slots int) CommitResult {
	current := make(map[string]model.Endpoint, len(av.Endpoints))
	for _, ep := range av.Endpoints {
		current[ep.ID] = ep.Clone()
	}
	for _, ep := range written {
		current[ep.ID] = ep
	}
	res := CommitResult{Success: true, Band: av.Band.Name, Slots: slots}
	for _, ep := range av.Endpoints {
		res.Endpoints = append(res.Endpoints, current[ep.ID])
	}
	for _, h := range path.Hops {
		l, _ := snap.Link(h.LinkID)
		src, dst := current[l.SrcEndpointID], current[l.DstEndpointID]
		otn, status := model.ComputeLinkStatus(&src, &dst)
		res.Links = append(res.Links, LinkState{LinkID: l.ID, Name: l.Name, OTN: otn, Status: status})
	}
	return res
}
