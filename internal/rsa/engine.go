// Package rsa computes spectrum availability along optical paths, picks a
// first-fit slot block for a demand and commits the result atomically.
package rsa

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/signalsfoundry/flexgrid-rsa/internal/logging"
	"github.com/signalsfoundry/flexgrid-rsa/model"
	"github.com/signalsfoundry/flexgrid-rsa/spectrum"
	"github.com/signalsfoundry/flexgrid-rsa/topology"
)

// ErrInvalidRequest is returned for malformed requests that are rejected
// before any state is read.
var ErrInvalidRequest = errors.New("invalid request")

// Reason explains the outcome of an allocation.
type Reason string

const (
	ReasonOK         Reason = "ok"
	ReasonNoBand     Reason = "no_band"
	ReasonFragmented Reason = "fragmented"
	ReasonExhausted  Reason = "exhausted"
)

// HopTrace records the intermediate bitmaps for one hop of a path.
type HopTrace struct {
	LinkID     string          `json:"link_id"`
	LinkName   string          `json:"link_name"`
	FromDevice string          `json:"from_device_id"`
	ToDevice   string          `json:"to_device_id"`
	FromBitmap spectrum.Bitmap `json:"from_device_bitmap"`
	ToBitmap   spectrum.Bitmap `json:"to_device_bitmap"`
	Hop        spectrum.Bitmap `json:"hop_bitmap"`
	Cumulative spectrum.Bitmap `json:"cumulative_bitmap"`
}

// Availability is the free spectrum of a path in its reference frame.
type Availability struct {
	Band           spectrum.Band
	ReferenceMinHz float64
	ReferenceSlots int
	Bitmap         spectrum.Bitmap
	Trace          []HopTrace
	// Endpoints are the distinct endpoints touched by the path, in first
	// appearance order.
	Endpoints []*model.Endpoint
	// ReadSet is every endpoint of every device on the path. The device
	// bitmaps depend on all of them.
	ReadSet []*model.Endpoint
}

// AllocationResult is the advisory outcome of Allocate. Nothing is written
// until the mask is committed.
type AllocationResult struct {
	Success          bool             `json:"success"`
	Reason           Reason           `json:"reason"`
	BandwidthGbps    float64          `json:"bandwidth_gbps"`
	NumSlots         int              `json:"num_slots"`
	StartBit         int              `json:"start_bit"`
	Band             string           `json:"band,omitempty"`
	ReferenceMinHz   float64          `json:"reference_min_hz,omitempty"`
	ReferenceSlots   int              `json:"reference_slots"`
	Available        spectrum.Bitmap  `json:"available"`
	Required         spectrum.Bitmap  `json:"mask"`
	After            spectrum.Bitmap  `json:"after"`
	Trace            []HopTrace       `json:"trace,omitempty"`
	LinkIDs          []string         `json:"link_ids"`
	EndpointVersions map[string]int64 `json:"endpoint_versions,omitempty"`
}

// Engine runs the availability and allocation math. It holds no state
// beyond its configuration and is safe for concurrent use.
type Engine struct {
	Registry *spectrum.Registry
	Log      logging.Logger
}

// NewEngine returns an engine over reg, defaulting to the standard bands.
func NewEngine(reg *spectrum.Registry, log logging.Logger) *Engine {
	if reg == nil {
		reg = spectrum.DefaultRegistry()
	}
	return &Engine{Registry: reg, Log: logging.OrNoop(log)}
}

func (e *Engine) log() logging.Logger { return logging.OrNoop(e.Log) }

// DeviceEndpoints returns every endpoint of every device the path crosses,
// grouped by device in first appearance order.
func DeviceEndpoints(snap *model.Snapshot, path topology.ExpandedPath) []*model.Endpoint {
	seen := make(map[string]bool)
	var out []*model.Endpoint
	for _, h := range path.Hops {
		for _, dev := range []string{h.FromDeviceID, h.ToDeviceID} {
			if seen[dev] {
				continue
			}
			seen[dev] = true
			out = append(out, snap.EndpointsByDevice(dev)...)
		}
	}
	return out
}

// PathEndpoints returns the distinct endpoints touched by path's hops.
func PathEndpoints(snap *model.Snapshot, path topology.ExpandedPath) ([]*model.Endpoint, error) {
	seen := make(map[string]bool)
	var out []*model.Endpoint
	for _, h := range path.Hops {
		for _, id := range []string{h.FromEndpointID, h.ToEndpointID} {
			if seen[id] {
				continue
			}
			ep, ok := snap.Endpoint(id)
			if !ok {
				return nil, fmt.Errorf("%w: %q", topology.ErrUnknownPort, id)
			}
			seen[id] = true
			out = append(out, ep)
		}
	}
	return out, nil
}

// ReferenceFrame detects the band that contains every spectrum-capable
// endpoint in eps. ok is false when none carries spectrum or no band
// matches.
func (e *Engine) ReferenceFrame(eps []*model.Endpoint) (spectrum.Band, bool) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, ep := range eps {
		if !ep.HasSpectrum() {
			continue
		}
		lo = math.Min(lo, *ep.MinFrequencyHz)
		hi = math.Max(hi, *ep.MaxFrequencyHz)
	}
	if math.IsInf(lo, 0) || math.IsInf(hi, 0) {
		return spectrum.Band{}, false
	}
	return e.Registry.DetectBand(lo, hi)
}

// ComputeAvailability intersects the device-level spectrum of every hop of
// path. ok is false when no band contains the path's frequency range.
func (e *Engine) ComputeAvailability(ctx context.Context, snap *model.Snapshot, path topology.ExpandedPath) (Availability, bool, error) {
	if len(path.Hops) == 0 {
		return Availability{}, false, fmt.Errorf("%w: path has no hops", ErrInvalidRequest)
	}
	eps, err := PathEndpoints(snap, path)
	if err != nil {
		return Availability{}, false, err
	}
	readSet := DeviceEndpoints(snap, path)
	band, ok := e.ReferenceFrame(eps)
	if !ok {
		e.log().Info(ctx, "no band contains the path's frequency range",
			logging.Any("links", path.LinkIDs()),
		)
		return Availability{Endpoints: eps, ReadSet: readSet}, false, nil
	}

	av := Availability{
		Band:           band,
		ReferenceMinHz: band.MinHz,
		ReferenceSlots: band.Slots,
		Bitmap:         spectrum.FullBitmap(band.Slots),
		Endpoints:      eps,
		ReadSet:        readSet,
	}
	devices := make(map[string]spectrum.Bitmap)
	deviceBitmap := func(id string) spectrum.Bitmap {
		if b, ok := devices[id]; ok {
			return b
		}
		b := deviceSpectrum(snap, id, band.MinHz, band.Slots)
		devices[id] = b
		return b
	}

	for _, h := range path.Hops {
		from := deviceBitmap(h.FromDeviceID)
		to := deviceBitmap(h.ToDeviceID)
		hop := mustAnd(from, to)
		av.Bitmap = mustAnd(av.Bitmap, hop)
		av.Trace = append(av.Trace, HopTrace{
			LinkID:     h.LinkID,
			LinkName:   h.LinkName,
			FromDevice: h.FromDeviceID,
			ToDevice:   h.ToDeviceID,
			FromBitmap: from,
			ToBitmap:   to,
			Hop:        hop,
			Cumulative: av.Bitmap,
		})
	}
	e.log().Debug(ctx, "path availability",
		logging.String("band", band.Name),
		logging.Int("hops", len(path.Hops)),
		logging.Int("free_slots", av.Bitmap.Count()),
	)
	return av, true, nil
}

// deviceSpectrum is the set of reference slots a device can switch: the AND
// of the aligned bitmaps of all its endpoints. Aligned bitmaps are zero
// outside an endpoint's range and all zero for an endpoint without
// frequency data.
func deviceSpectrum(snap *model.Snapshot, deviceID string, refMinHz float64, refSlots int) spectrum.Bitmap {
	out := spectrum.FullBitmap(refSlots)
	for _, ep := range snap.EndpointsByDevice(deviceID) {
		out = mustAnd(out, ep.Aligned(refMinHz, refSlots))
	}
	return out
}

// mustAnd intersects two reference-frame bitmaps, which always share a width.
func mustAnd(a, b spectrum.Bitmap) spectrum.Bitmap {
	out, err := a.And(b)
	if err != nil {
		panic(err)
	}
	return out
}

// Allocate finds the first contiguous block of slots on path that fits
// bandwidthGbps. A failed allocation is a normal result with Success false.
func (e *Engine) Allocate(ctx context.Context, snap *model.Snapshot, path topology.ExpandedPath, bandwidthGbps float64) (AllocationResult, error) {
	n := spectrum.NumSlots(bandwidthGbps)
	if n <= 0 {
		return AllocationResult{}, fmt.Errorf("%w: bandwidth must be positive, got %v", ErrInvalidRequest, bandwidthGbps)
	}
	av, ok, err := e.ComputeAvailability(ctx, snap, path)
	if err != nil {
		return AllocationResult{}, err
	}
	res := AllocationResult{
		BandwidthGbps:    bandwidthGbps,
		NumSlots:         n,
		StartBit:         -1,
		LinkIDs:          path.LinkIDs(),
		EndpointVersions: versions(av.ReadSet),
	}
	if !ok {
		res.Reason = ReasonNoBand
		return res, nil
	}
	res.Band = av.Band.Name
	res.ReferenceMinHz = av.ReferenceMinHz
	res.ReferenceSlots = av.ReferenceSlots
	res.Available = av.Bitmap
	res.Required = spectrum.NewBitmap(av.ReferenceSlots)
	res.After = av.Bitmap
	res.Trace = av.Trace

	start, found := av.Bitmap.FirstFit(n)
	if !found {
		res.Reason = ReasonExhausted
		if av.Bitmap.Count() >= n {
			res.Reason = ReasonFragmented
		}
		e.log().Info(ctx, "allocation failed",
			logging.String("reason", string(res.Reason)),
			logging.Int("num_slots", n),
			logging.Int("free_slots", av.Bitmap.Count()),
			logging.Int("longest_run", av.Bitmap.LongestRun()),
		)
		return res, nil
	}
	res.Success = true
	res.Reason = ReasonOK
	res.StartBit = start
	res.Required = spectrum.RangeBitmap(av.ReferenceSlots, start, n)
	res.After, _ = av.Bitmap.AndNot(res.Required)
	e.log().Info(ctx, "allocation found",
		logging.String("band", av.Band.Name),
		logging.Int("start_bit", start),
		logging.Int("num_slots", n),
	)
	return res, nil
}

func versions(eps []*model.Endpoint) map[string]int64 {
	if len(eps) == 0 {
		return nil
	}
	out := make(map[string]int64, len(eps))
	for _, ep := range eps {
		out[ep.ID] = ep.Version
	}
	return out
}
