package rsa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/flexgrid-rsa/internal/logging"
	"github.com/signalsfoundry/flexgrid-rsa/internal/store"
	"github.com/signalsfoundry/flexgrid-rsa/model"
	"github.com/signalsfoundry/flexgrid-rsa/spectrum"
	"github.com/signalsfoundry/flexgrid-rsa/topology"
)

const tracerName = "github.com/signalsfoundry/flexgrid-rsa/internal/rsa"

// Metrics receives per-operation outcomes. observability.RSACollector
// implements it.
type Metrics interface {
	ObservePathQuery(result string)
	ObserveAllocation(result string, slots int)
	ObserveCommit(result string, slots int)
	ObserveOperation(op string, d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) ObservePathQuery(string)                {}
func (noopMetrics) ObserveAllocation(string, int)          {}
func (noopMetrics) ObserveCommit(string, int)              {}
func (noopMetrics) ObserveOperation(string, time.Duration) {}

// Service is the entry point used by the HTTP layer and the CLI. Each call
// reads a fresh snapshot from the store and builds its own graph, so calls
// never share mutable state.
type Service struct {
	store     store.Store
	engine    *Engine
	committer *Committer
	log       logging.Logger
	metrics   Metrics
	hopCutoff int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Service) { s.log = logging.OrNoop(l) }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithRegistry replaces the band registry.
func WithRegistry(r *spectrum.Registry) Option {
	return func(s *Service) {
		if r != nil {
			s.engine.Registry = r
		}
	}
}

// WithHopCutoff bounds the all-paths search.
func WithHopCutoff(n int) Option {
	return func(s *Service) { s.hopCutoff = n }
}

// NewService wires a service over st.
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:     st,
		engine:    NewEngine(nil, nil),
		log:       logging.Noop(),
		metrics:   noopMetrics{},
		hopCutoff: topology.DefaultHopCutoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine.Log = s.log
	s.committer = &Committer{Engine: s.engine, Store: st, Log: s.log}
	return s
}

// Engine exposes the allocation engine.
func (s *Service) Engine() *Engine { return s.engine }

// FindPathsRequest asks for paths between two devices, optionally pinned to
// ports. A positive BandwidthGbps also runs allocation on the shortest path.
type FindPathsRequest struct {
	topology.Query
	BandwidthGbps float64 `json:"bandwidth_gbps,omitempty"`
}

// FindPathsResult holds the shortest usable path, every simple path within
// the hop cutoff and, when requested, the allocation on the shortest path.
type FindPathsResult struct {
	Found         bool                    `json:"found"`
	Shortest      *topology.ExpandedPath  `json:"shortest,omitempty"`
	ShortestNames []string                `json:"shortest_names,omitempty"`
	All           []topology.ExpandedPath `json:"all"`
	Allocation    *AllocationResult       `json:"allocation,omitempty"`
}

// FindPaths runs both path queries against a fresh snapshot.
func (s *Service) FindPaths(ctx context.Context, req FindPathsRequest) (res FindPathsResult, err error) {
	ctx, _, done := s.begin(ctx, "rsa/find_paths",
		attribute.String("src_device", req.SrcDevice),
		attribute.String("dst_device", req.DstDevice),
	)
	defer func() {
		result := "none"
		switch {
		case err != nil:
			result = "error"
		case res.Found:
			result = "found"
		}
		s.metrics.ObservePathQuery(result)
		done(err)
	}()

	if req.SrcDevice == "" || req.DstDevice == "" {
		return res, fmt.Errorf("%w: source and destination devices are required", ErrInvalidRequest)
	}
	if req.BandwidthGbps < 0 {
		return res, fmt.Errorf("%w: bandwidth must not be negative", ErrInvalidRequest)
	}
	snap, g, err := s.graph(ctx)
	if err != nil {
		return res, err
	}
	shortest, ok, err := g.FindShortest(ctx, req.Query)
	if err != nil {
		return res, err
	}
	all, err := g.FindAll(ctx, req.Query)
	if err != nil {
		return res, err
	}
	res.All = all
	if res.All == nil {
		res.All = []topology.ExpandedPath{}
	}
	if !ok {
		return res, nil
	}
	res.Found = true
	res.Shortest = &shortest
	res.ShortestNames = g.DeviceNames(shortest.Nodes)

	if req.BandwidthGbps > 0 {
		alloc, err := s.engine.Allocate(ctx, snap, shortest, req.BandwidthGbps)
		if err != nil {
			return res, err
		}
		s.metrics.ObserveAllocation(string(alloc.Reason), alloc.NumSlots)
		res.Allocation = &alloc
	}
	return res, nil
}

// Allocate computes a first-fit allocation on path. The path's links are
// re-resolved against live data before computing availability.
func (s *Service) Allocate(ctx context.Context, path topology.ExpandedPath, bandwidthGbps float64) (AllocationResult, error) {
	return s.AllocateLinks(ctx, path.LinkIDs(), bandwidthGbps)
}

// AllocateLinks computes a first-fit allocation over an ordered list of
// link IDs.
func (s *Service) AllocateLinks(ctx context.Context, linkIDs []string, bandwidthGbps float64) (res AllocationResult, err error) {
	ctx, span, done := s.begin(ctx, "rsa/allocate",
		attribute.Int("links", len(linkIDs)),
		attribute.Float64("bandwidth_gbps", bandwidthGbps),
	)
	defer func() {
		result := "error"
		if err == nil {
			result = string(res.Reason)
			span.SetAttributes(attribute.Int("start_bit", res.StartBit))
		}
		s.metrics.ObserveAllocation(result, res.NumSlots)
		done(err)
	}()

	if len(linkIDs) == 0 {
		return res, fmt.Errorf("%w: no links", ErrInvalidRequest)
	}
	if spectrum.NumSlots(bandwidthGbps) <= 0 {
		return res, fmt.Errorf("%w: bandwidth must be positive, got %v", ErrInvalidRequest, bandwidthGbps)
	}
	snap, g, err := s.graph(ctx)
	if err != nil {
		return res, err
	}
	path, err := g.PathFromLinks(linkIDs)
	if err != nil {
		return res, err
	}
	return s.engine.Allocate(ctx, snap, path, bandwidthGbps)
}

// Commit applies an allocation mask atomically.
func (s *Service) Commit(ctx context.Context, req CommitRequest) (res CommitResult, err error) {
	ctx, _, done := s.begin(ctx, "rsa/commit", attribute.Int("links", len(req.LinkIDs)))
	defer func() {
		s.metrics.ObserveCommit(commitOutcome(err), res.Slots)
		done(err)
	}()
	return s.committer.Commit(ctx, req)
}

func commitOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, store.ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, topology.ErrUnknownLink),
		errors.Is(err, topology.ErrBrokenPath):
		return "invalid"
	default:
		return "error"
	}
}

// EndpointView is an endpoint with its free slot count.
type EndpointView struct {
	model.Endpoint
	Free int `json:"free_slots"`
}

// DeviceView is a device with its endpoints.
type DeviceView struct {
	model.Device
	Endpoints []EndpointView `json:"endpoints"`
}

// LinkView is a link with its derived OTN type and status.
type LinkView struct {
	model.OpticalLink
	OTN    model.OTNType    `json:"otn_type"`
	Status model.LinkStatus `json:"status"`
	Usable bool             `json:"usable"`
}

// Inventory returns a point-in-time snapshot of the store.
func (s *Service) Inventory(ctx context.Context) (*model.Snapshot, error) {
	ctx, _, done := s.begin(ctx, "rsa/inventory")
	snap, err := s.store.Snapshot(ctx)
	done(err)
	return snap, err
}

// Devices lists every device with its endpoints.
func (s *Service) Devices(ctx context.Context) ([]DeviceView, error) {
	snap, err := s.Inventory(ctx)
	if err != nil {
		return nil, err
	}
	return DeviceViews(snap), nil
}

// DeviceViews flattens a snapshot into device views.
func DeviceViews(snap *model.Snapshot) []DeviceView {
	out := make([]DeviceView, 0, len(snap.Devices))
	for _, d := range snap.Devices {
		v := DeviceView{Device: d, Endpoints: []EndpointView{}}
		for _, ep := range snap.EndpointsByDevice(d.ID) {
			v.Endpoints = append(v.Endpoints, EndpointView{Endpoint: ep.Clone(), Free: ep.FreeSlots()})
		}
		out = append(out, v)
	}
	return out
}

// Links lists every link with its derived status.
func (s *Service) Links(ctx context.Context) ([]LinkView, error) {
	snap, err := s.Inventory(ctx)
	if err != nil {
		return nil, err
	}
	return LinkViews(snap), nil
}

// LinkViews derives link status for every link in a snapshot. Links whose
// endpoints cannot be resolved report OTN type ERROR.
func LinkViews(snap *model.Snapshot) []LinkView {
	out := make([]LinkView, 0, len(snap.Links))
	for i := range snap.Links {
		l := &snap.Links[i]
		v := LinkView{OpticalLink: *l, OTN: model.OTNError, Status: model.LinkOTNMismatch}
		if otn, status, ok := snap.LinkStatus(l); ok {
			v.OTN, v.Status = otn, status
			v.Usable = model.Usable(otn, status)
		}
		out = append(out, v)
	}
	return out
}

func (s *Service) graph(ctx context.Context) (*model.Snapshot, *topology.Graph, error) {
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("read snapshot: %w", err)
	}
	g := topology.Build(ctx, snap, s.log)
	g.HopCutoff = s.hopCutoff
	return snap, g, nil
}

// begin opens a span and returns a completion func that records the error,
// the operation duration and ends the span.
func (s *Service) begin(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, func(error)) {
	ctx, _ = logging.EnsureRequestID(ctx)
	ctx, span := otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
	start := time.Now()
	return ctx, span, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		s.metrics.ObserveOperation(name, time.Since(start))
		span.End()
	}
}
