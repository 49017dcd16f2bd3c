package topology

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/flexgrid-rsa/internal/logging"
	"github.com/signalsfoundry/flexgrid-rsa/model"
)

// Hop is one link crossed by a path, oriented in traversal order.
type Hop struct {
	LinkID         string           `json:"link_id"`
	LinkName       string           `json:"link_name"`
	FromDeviceID   string           `json:"from_device_id"`
	FromEndpointID string           `json:"from_endpoint_id"`
	ToDeviceID     string           `json:"to_device_id"`
	ToEndpointID   string           `json:"to_endpoint_id"`
	Reversed       bool             `json:"reversed"`
	OTN            model.OTNType    `json:"otn_type"`
	Status         model.LinkStatus `json:"status"`
}

// ExpandedPath is a concrete realization of a device sequence.
type ExpandedPath struct {
	Nodes []string `json:"nodes"`
	Hops  []Hop    `json:"hops"`
	// Valid is true when every hop can carry a new lightpath.
	Valid bool `json:"valid"`
}

// LinkIDs lists the path's links in traversal order.
func (p ExpandedPath) LinkIDs() []string {
	ids := make([]string, len(p.Hops))
	for i, h := range p.Hops {
		ids[i] = h.LinkID
	}
	return ids
}

// PortConstraint pins the first hop's source port and the last hop's
// destination port. Empty fields are unconstrained.
type PortConstraint struct {
	SrcPortID string
	DstPortID string
}

// Query names the path endpoints by device ID or name and, optionally, port
// ID or name.
type Query struct {
	SrcDevice string `json:"src_device"`
	SrcPort   string `json:"src_port,omitempty"`
	DstDevice string `json:"dst_device"`
	DstPort   string `json:"dst_port,omitempty"`
}

// Resolve maps q onto device IDs and a port constraint.
func (g *Graph) Resolve(q Query) (src, dst string, pc PortConstraint, err error) {
	srcDev, ok := g.snap.ResolveDevice(q.SrcDevice)
	if !ok {
		return "", "", pc, fmt.Errorf("%w: %q", ErrUnknownDevice, q.SrcDevice)
	}
	dstDev, ok := g.snap.ResolveDevice(q.DstDevice)
	if !ok {
		return "", "", pc, fmt.Errorf("%w: %q", ErrUnknownDevice, q.DstDevice)
	}
	if q.SrcPort != "" {
		ep, ok := g.snap.ResolvePort(srcDev.ID, q.SrcPort)
		if !ok {
			return "", "", pc, fmt.Errorf("%w: %q on %s", ErrUnknownPort, q.SrcPort, srcDev.Name)
		}
		pc.SrcPortID = ep.ID
	}
	if q.DstPort != "" {
		ep, ok := g.snap.ResolvePort(dstDev.ID, q.DstPort)
		if !ok {
			return "", "", pc, fmt.Errorf("%w: %q on %s", ErrUnknownPort, q.DstPort, dstDev.Name)
		}
		pc.DstPortID = ep.ID
	}
	return srcDev.ID, dstDev.ID, pc, nil
}

// ShortestPath returns the fewest-hop device sequence from src to dst using
// only usable edges. ok is false when no such sequence exists.
func (g *Graph) ShortestPath(ctx context.Context, src, dst string) ([]string, bool) {
	if src == dst {
		return nil, false
	}
	nbrs := g.Collapsed(ctx, UsableEdges)
	prev := map[string]string{src: ""}
	queue := []string{src}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range nbrs[cur] {
			if _, seen := prev[next]; seen {
				continue
			}
			prev[next] = cur
			if next == dst {
				return unwind(prev, src, dst), true
			}
			queue = append(queue, next)
		}
	}
	return nil, false
}

func unwind(prev map[string]string, src, dst string) []string {
	var rev []string
	for cur := dst; cur != src; cur = prev[cur] {
		rev = append(rev, cur)
	}
	rev = append(rev, src)
	out := make([]string, len(rev))
	for i, id := range rev {
		out[len(rev)-1-i] = id
	}
	return out
}

// AllSimplePaths enumerates every loop-free device sequence from src to dst
// with at most cutoff hops over traversable edges of any status. A
// non-positive cutoff uses the graph's HopCutoff.
func (g *Graph) AllSimplePaths(ctx context.Context, src, dst string, cutoff int) [][]string {
	if src == dst {
		return nil
	}
	if cutoff <= 0 {
		cutoff = g.hopCutoff()
	}
	nbrs := g.Collapsed(ctx, AnyEdge)

	var out [][]string
	visited := map[string]bool{src: true}
	stack := []string{src}
	var walk func(cur string)
	walk = func(cur string) {
		if len(stack)-1 >= cutoff {
			return
		}
		for _, next := range nbrs[cur] {
			if visited[next] {
				continue
			}
			if next == dst {
				path := make([]string, len(stack)+1)
				copy(path, stack)
				path[len(stack)] = dst
				out = append(out, path)
				continue
			}
			visited[next] = true
			stack = append(stack, next)
			walk(next)
			stack = stack[:len(stack)-1]
			visited[next] = false
		}
	}
	walk(src)
	return out
}

// Expand realizes a device sequence as concrete link sequences by
// backtracking over parallel edges. At most limit paths are returned; a
// non-positive limit returns all of them.
func (g *Graph) Expand(nodes []string, pc PortConstraint, filter EdgeFilter, limit int) []ExpandedPath {
	if len(nodes) < 2 {
		return nil
	}
	if filter == nil {
		filter = AnyEdge
	}
	last := len(nodes) - 2

	var out []ExpandedPath
	hops := make([]Hop, 0, len(nodes)-1)
	var walk func(i int) bool
	walk = func(i int) bool {
		if i > last {
			out = append(out, newExpandedPath(nodes, hops))
			return limit > 0 && len(out) >= limit
		}
		for _, e := range g.adj[nodes[i]][nodes[i+1]] {
			if !e.Traversable() || !filter(e) {
				continue
			}
			h := e.orient(nodes[i])
			if i == 0 && pc.SrcPortID != "" && h.FromEndpointID != pc.SrcPortID {
				continue
			}
			if i == last && pc.DstPortID != "" && h.ToEndpointID != pc.DstPortID {
				continue
			}
			hops = append(hops, h)
			if walk(i + 1) {
				return true
			}
			hops = hops[:len(hops)-1]
		}
		return false
	}
	walk(0)
	return out
}

func newExpandedPath(nodes []string, hops []Hop) ExpandedPath {
	p := ExpandedPath{
		Nodes: append([]string(nil), nodes...),
		Hops:  append([]Hop(nil), hops...),
		Valid: len(hops) > 0,
	}
	for _, h := range hops {
		if !model.Usable(h.OTN, h.Status) {
			p.Valid = false
		}
	}
	return p
}

// FindShortest resolves q and returns the first realization of the fewest-hop
// usable device sequence. ok is false when no path exists.
func (g *Graph) FindShortest(ctx context.Context, q Query) (ExpandedPath, bool, error) {
	src, dst, pc, err := g.Resolve(q)
	if err != nil {
		return ExpandedPath{}, false, err
	}
	nodes, ok := g.ShortestPath(ctx, src, dst)
	if !ok {
		g.log.Info(ctx, "no usable path",
			logging.String("src", g.deviceName(src)),
			logging.String("dst", g.deviceName(dst)),
		)
		return ExpandedPath{}, false, nil
	}
	paths := g.Expand(nodes, pc, UsableEdges, 1)
	if len(paths) == 0 {
		g.log.Info(ctx, "shortest path has no realization matching the port constraint",
			logging.Any("nodes", g.names(nodes)),
		)
		return ExpandedPath{}, false, nil
	}
	return paths[0], true, nil
}

// FindAll resolves q and returns every realization of every simple device
// sequence within the hop cutoff.
func (g *Graph) FindAll(ctx context.Context, q Query) ([]ExpandedPath, error) {
	src, dst, pc, err := g.Resolve(q)
	if err != nil {
		return nil, err
	}
	var out []ExpandedPath
	for _, nodes := range g.AllSimplePaths(ctx, src, dst, 0) {
		out = append(out, g.Expand(nodes, pc, AnyEdge, 0)...)
	}
	return out, nil
}

// PathFromLinks rebuilds a path from an ordered list of link IDs. Each hop
// is oriented so that consecutive hops share a device.
func (g *Graph) PathFromLinks(linkIDs []string) (ExpandedPath, error) {
	if len(linkIDs) == 0 {
		return ExpandedPath{}, fmt.Errorf("%w: no links", ErrBrokenPath)
	}
	edges := make([]*Edge, len(linkIDs))
	for i, id := range linkIDs {
		e, ok := g.byID[id]
		if !ok {
			return ExpandedPath{}, fmt.Errorf("%w: %q", ErrUnknownLink, id)
		}
		edges[i] = e
	}

	start := edges[0].Link.SrcDeviceID
	if len(edges) > 1 {
		first, next := edges[0].Link, edges[1].Link
		switch {
		case touches(next, first.DstDeviceID):
			start = first.SrcDeviceID
		case touches(next, first.SrcDeviceID):
			start = first.DstDeviceID
		default:
			return ExpandedPath{}, fmt.Errorf("%w: %s and %s", ErrBrokenPath, first.Name, next.Name)
		}
	}

	nodes := []string{start}
	hops := make([]Hop, 0, len(edges))
	cur := start
	for _, e := range edges {
		if !touches(e.Link, cur) {
			return ExpandedPath{}, fmt.Errorf("%w: %s does not touch %s", ErrBrokenPath, e.Link.Name, g.deviceName(cur))
		}
		h := e.orient(cur)
		hops = append(hops, h)
		cur = h.ToDeviceID
		nodes = append(nodes, cur)
	}
	return newExpandedPath(nodes, hops), nil
}

func touches(l model.OpticalLink, deviceID string) bool {
	return l.SrcDeviceID == deviceID || l.DstDeviceID == deviceID
}

func (g *Graph) names(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = g.deviceName(id)
	}
	return out
}

// DeviceNames maps device IDs to names for display.
func (g *Graph) DeviceNames(ids []string) []string { return g.names(ids) }
