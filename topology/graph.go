// Package topology builds the device multigraph used for path finding. A
// Graph is rebuilt from a model.Snapshot for every query and is never
// mutated afterwards, so any number of goroutines may search it.
package topology

import (
	"context"
	"errors"
	"sort"

	"github.com/signalsfoundry/flexgrid-rsa/internal/logging"
	"github.com/signalsfoundry/flexgrid-rsa/model"
)

// DefaultHopCutoff bounds all-simple-paths enumeration.
const DefaultHopCutoff = 10

var (
	// ErrUnknownDevice is returned when a device reference does not resolve.
	ErrUnknownDevice = errors.New("unknown device")
	// ErrUnknownPort is returned when a port reference does not resolve on
	// its device.
	ErrUnknownPort = errors.New("unknown port")
	// ErrUnknownLink is returned when a link ID is not part of the graph.
	ErrUnknownLink = errors.New("unknown link")
	// ErrBrokenPath is returned when consecutive links share no device.
	ErrBrokenPath = errors.New("links do not form a path")
)

// Edge is one optical link. Src and Dst keep the link's provisioned
// direction regardless of which way a path traverses it.
type Edge struct {
	Link   model.OpticalLink
	Src    *model.Endpoint
	Dst    *model.Endpoint
	OTN    model.OTNType
	Status model.LinkStatus
}

// Usable reports whether the edge may carry a new lightpath.
func (e *Edge) Usable() bool { return model.Usable(e.OTN, e.Status) }

// Traversable reports whether any search may cross the edge. ERROR edges
// stay in the graph for inspection only.
func (e *Edge) Traversable() bool { return e.OTN != model.OTNError }

// orient returns the hop produced by crossing e starting at device from.
func (e *Edge) orient(from string) Hop {
	h := Hop{
		LinkID:   e.Link.ID,
		LinkName: e.Link.Name,
		OTN:      e.OTN,
		Status:   e.Status,
	}
	if from == e.Link.SrcDeviceID {
		h.FromDeviceID, h.FromEndpointID = e.Link.SrcDeviceID, e.Link.SrcEndpointID
		h.ToDeviceID, h.ToEndpointID = e.Link.DstDeviceID, e.Link.DstEndpointID
		return h
	}
	h.FromDeviceID, h.FromEndpointID = e.Link.DstDeviceID, e.Link.DstEndpointID
	h.ToDeviceID, h.ToEndpointID = e.Link.SrcDeviceID, e.Link.SrcEndpointID
	h.Reversed = true
	return h
}

// EdgeFilter selects the edges a search may use.
type EdgeFilter func(*Edge) bool

// UsableEdges admits only edges that can carry a new lightpath.
func UsableEdges(e *Edge) bool { return e.Usable() }

// AnyEdge admits every traversable edge regardless of status.
func AnyEdge(e *Edge) bool { return e.Traversable() }

// Graph is an undirected multigraph keyed by device ID.
type Graph struct {
	snap  *model.Snapshot
	log   logging.Logger
	edges []*Edge
	byID  map[string]*Edge
	// adj[a][b] lists every edge between a and b in link-name order.
	adj map[string]map[string][]*Edge

	// HopCutoff bounds AllSimplePaths. Zero means DefaultHopCutoff.
	HopCutoff int
}

// Build indexes snap into a Graph. Links whose endpoints or devices do not
// resolve are excluded and logged.
func Build(ctx context.Context, snap *model.Snapshot, log logging.Logger) *Graph {
	log = logging.OrNoop(log)
	if snap == nil {
		snap = model.NewSnapshot(nil, nil, nil)
	}
	g := &Graph{
		snap: snap,
		log:  log,
		byID: make(map[string]*Edge, len(snap.Links)),
		adj:  make(map[string]map[string][]*Edge, len(snap.Devices)),
	}

	for i := range snap.Links {
		link := snap.Links[i]
		src, dst, reason := resolveLink(snap, &link)
		if reason != "" {
			log.Warn(ctx, "excluding optical link from topology",
				logging.String("link_id", link.ID),
				logging.String("link", link.Name),
				logging.String("reason", reason),
			)
			continue
		}
		otn, status := model.ComputeLinkStatus(src, dst)
		e := &Edge{Link: link, Src: src, Dst: dst, OTN: otn, Status: status}
		g.edges = append(g.edges, e)
		g.byID[link.ID] = e
		g.connect(link.SrcDeviceID, link.DstDeviceID, e)
		g.connect(link.DstDeviceID, link.SrcDeviceID, e)
	}

	log.Debug(ctx, "topology graph built",
		logging.Int("devices", len(snap.Devices)),
		logging.Int("links", len(g.edges)),
		logging.Int("excluded_links", len(snap.Links)-len(g.edges)),
	)
	return g
}

func resolveLink(snap *model.Snapshot, l *model.OpticalLink) (src, dst *model.Endpoint, reason string) {
	if _, ok := snap.Device(l.SrcDeviceID); !ok {
		return nil, nil, "source device not found"
	}
	if _, ok := snap.Device(l.DstDeviceID); !ok {
		return nil, nil, "destination device not found"
	}
	src, ok := snap.Endpoint(l.SrcEndpointID)
	if !ok {
		return nil, nil, "source endpoint not found"
	}
	dst, ok = snap.Endpoint(l.DstEndpointID)
	if !ok {
		return nil, nil, "destination endpoint not found"
	}
	if src.DeviceID != l.SrcDeviceID {
		return nil, nil, "source endpoint belongs to another device"
	}
	if dst.DeviceID != l.DstDeviceID {
		return nil, nil, "destination endpoint belongs to another device"
	}
	if l.SrcDeviceID == l.DstDeviceID {
		return nil, nil, "link loops back to its own device"
	}
	return src, dst, ""
}

func (g *Graph) connect(a, b string, e *Edge) {
	nbrs, ok := g.adj[a]
	if !ok {
		nbrs = make(map[string][]*Edge)
		g.adj[a] = nbrs
	}
	list := append(nbrs[b], e)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Link.Name < list[j].Link.Name })
	nbrs[b] = list
}

// Snapshot returns the snapshot the graph was built from.
func (g *Graph) Snapshot() *model.Snapshot { return g.snap }

// Edges returns every edge in link-name order.
func (g *Graph) Edges() []*Edge { return g.edges }

// Edge looks up an edge by link ID.
func (g *Graph) Edge(linkID string) (*Edge, bool) {
	e, ok := g.byID[linkID]
	return e, ok
}

// EdgesBetween lists the parallel edges between two devices.
func (g *Graph) EdgesBetween(a, b string) []*Edge {
	return g.adj[a][b]
}

// Collapsed returns the simple undirected view of the graph restricted to
// edges admitted by filter. Neighbours are ordered by device name. ERROR
// edges are never admitted; each one is logged.
func (g *Graph) Collapsed(ctx context.Context, filter EdgeFilter) map[string][]string {
	if filter == nil {
		filter = AnyEdge
	}
	for _, e := range g.edges {
		if !e.Traversable() {
			g.log.Warn(ctx, "skipping optical link with mismatched OTN types",
				logging.String("link_id", e.Link.ID),
				logging.String("link", e.Link.Name),
				logging.String("src_otn", string(e.Src.OTNType)),
				logging.String("dst_otn", string(e.Dst.OTNType)),
			)
		}
	}

	out := make(map[string][]string, len(g.adj))
	for a, nbrs := range g.adj {
		for b, list := range nbrs {
			for _, e := range list {
				if e.Traversable() && filter(e) {
					out[a] = append(out[a], b)
					break
				}
			}
		}
		g.sortByName(out[a])
	}
	return out
}

func (g *Graph) sortByName(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		return g.deviceName(ids[i]) < g.deviceName(ids[j])
	})
}

func (g *Graph) deviceName(id string) string {
	if d, ok := g.snap.Device(id); ok {
		return d.Name
	}
	return id
}

func (g *Graph) hopCutoff() int {
	if g.HopCutoff <= 0 {
		return DefaultHopCutoff
	}
	return g.HopCutoff
}
