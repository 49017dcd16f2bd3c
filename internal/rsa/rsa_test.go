package rsa

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/signalsfoundry/flexgrid-rsa/internal/store"
	"github.com/signalsfoundry/flexgrid-rsa/kb"
	"github.com/signalsfoundry/flexgrid-rsa/model"
	"github.com/signalsfoundry/flexgrid-rsa/spectrum"
	"github.com/signalsfoundry/flexgrid-rsa/topology"
)

const testMinHz = 191.55625e12

// testRegistry holds a single 10-slot band so reference bitmaps stay short.
func testRegistry() *spectrum.Registry {
	return spectrum.NewRegistry(spectrum.Band{
		Name:  "TEST",
		MinHz: testMinHz,
		MaxHz: testMinHz + 10*spectrum.SlotGranularityHz,
		Slots: 10,
	})
}

type port struct {
	id, device, name string
	bitmap           string // empty: no spectrum
	firstSlot        int
	slots            int
}

type fixture struct {
	kb  *kb.KnowledgeBase
	svc *Service
}

// newFixture builds roadm-a --a-b-- roadm-b with one 10-slot degree on each
// side, plus any extra ports.
func newFixture(t *testing.T, extra ...port) *fixture {
	t.Helper()
	ctx := context.Background()
	k := kb.NewKnowledgeBase()
	for _, d := range []struct{ id, name string }{{"dev-a", "roadm-a"}, {"dev-b", "roadm-b"}} {
		dev := model.NewDevice(d.name, model.DeviceROADM)
		dev.ID = d.id
		if err := k.PutDevice(ctx, dev); err != nil {
			t.Fatalf("PutDevice(%s) error: %v", d.name, err)
		}
	}
	ports := append([]port{
		{id: "ep-a", device: "dev-a", name: "deg-1", bitmap: "1111111111", slots: 10},
		{id: "ep-b", device: "dev-b", name: "deg-1", bitmap: "1111111111", slots: 10},
	}, extra...)
	for _, p := range ports {
		if err := k.PutEndpoint(ctx, p.endpoint(t)); err != nil {
			t.Fatalf("PutEndpoint(%s) error: %v", p.id, err)
		}
	}
	snap, _ := k.Snapshot(ctx)
	a, _ := snap.Endpoint("ep-a")
	b, _ := snap.Endpoint("ep-b")
	link := model.NewOpticalLink("a-b", a, b)
	link.ID = "link-ab"
	if err := k.PutLink(ctx, link); err != nil {
		t.Fatalf("PutLink error: %v", err)
	}
	return &fixture{kb: k, svc: NewService(k, WithRegistry(testRegistry()))}
}

func (p port) endpoint(t *testing.T) *model.Endpoint {
	t.Helper()
	ep := model.NewEndpoint(p.device, p.name, model.OTNOMS)
	ep.ID = p.id
	if p.bitmap == "" {
		return ep
	}
	lo := testMinHz + float64(p.firstSlot)*spectrum.SlotGranularityHz
	ep.WithSpectrum(lo, lo+float64(p.slots)*spectrum.SlotGranularityHz)
	b, err := spectrum.ParseBitmapWidth(p.bitmap, p.slots)
	if err != nil {
		t.Fatalf("bitmap %q: %v", p.bitmap, err)
	}
	ep.Bitmap = b
	ep.InUse = !b.IsFull()
	return ep
}

func (f *fixture) endpoint(t *testing.T, id string) *model.Endpoint {
	t.Helper()
	snap, err := f.kb.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot error: %v", err)
	}
	ep, ok := snap.Endpoint(id)
	if !ok {
		t.Fatalf("endpoint %s missing", id)
	}
	return ep
}

func TestEndToEndAllocateCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.FindPaths(ctx, FindPathsRequest{
		Query:         topology.Query{SrcDevice: "roadm-a", DstDevice: "roadm-b"},
		BandwidthGbps: 12.5,
	})
	if err != nil {
		t.Fatalf("FindPaths error: %v", err)
	}
	if !res.Found || len(res.All) != 1 {
		t.Fatalf("FindPaths = found %v, %d paths", res.Found, len(res.All))
	}
	alloc := res.Allocation
	if alloc == nil || !alloc.Success {
		t.Fatalf("allocation = %+v, want success", alloc)
	}
	if alloc.NumSlots != 2 || alloc.StartBit != 0 {
		t.Fatalf("allocation slots/start = %d/%d, want 2/0", alloc.NumSlots, alloc.StartBit)
	}
	if got := alloc.Required.String(); got != "0000000011" {
		t.Fatalf("mask = %s, want 0000000011", got)
	}
	if got := alloc.After.String(); got != "1111111100" {
		t.Fatalf("after = %s, want 1111111100", got)
	}
	if alloc.Band != "TEST" || alloc.ReferenceSlots != 10 {
		t.Fatalf("band = %s/%d, want TEST/10", alloc.Band, alloc.ReferenceSlots)
	}

	committed, err := f.svc.Commit(ctx, CommitRequest{
		LinkIDs:          alloc.LinkIDs,
		Mask:             alloc.Required.String(),
		ExpectedVersions: alloc.EndpointVersions,
	})
	if err != nil {
		t.Fatalf("Commit error: %v", err)
	}
	if committed.Slots != 2 || len(committed.Endpoints) != 2 {
		t.Fatalf("commit result = %+v", committed)
	}
	if committed.Links[0].Status != model.LinkUsed {
		t.Fatalf("link status after commit = %s, want USED", committed.Links[0].Status)
	}
	for _, id := range []string{"ep-a", "ep-b"} {
		ep := f.endpoint(t, id)
		if ep.Bitmap.String() != "1111111100" || !ep.InUse || ep.Version != 1 {
			t.Fatalf("%s = bitmap %s in_use %v version %d", id, ep.Bitmap, ep.InUse, ep.Version)
		}
	}

	second, err := f.svc.AllocateLinks(ctx, []string{"link-ab"}, 12.5)
	if err != nil {
		t.Fatalf("AllocateLinks error: %v", err)
	}
	if !second.Success || second.StartBit != 2 {
		t.Fatalf("second allocation start = %d (success %v), want 2", second.StartBit, second.Success)
	}
	if got := second.Required.String(); got != "0000001100" {
		t.Fatalf("second mask = %s, want 0000001100", got)
	}
}

func TestCommitRejectsStaleAllocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alloc, err := f.svc.AllocateLinks(ctx, []string{"link-ab"}, 12.5)
	if err != nil {
		t.Fatalf("AllocateLinks error: %v", err)
	}
	req := CommitRequest{LinkIDs: alloc.LinkIDs, Mask: alloc.Required.String(), ExpectedVersions: alloc.EndpointVersions}
	if _, err := f.svc.Commit(ctx, req); err != nil {
		t.Fatalf("first Commit error: %v", err)
	}
	if _, err := f.svc.Commit(ctx, req); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("replayed commit error = %v, want ErrConflict", err)
	}

	// Without versions the mask is still rejected because its slots are taken.
	req.ExpectedVersions = nil
	if _, err := f.svc.Commit(ctx, req); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("commit over taken slots error = %v, want ErrConflict", err)
	}
	if ep := f.endpoint(t, "ep-a"); ep.Version != 1 {
		t.Fatalf("ep-a version = %d, want 1", ep.Version)
	}
}

func TestCommitEmptyMaskIsNoop(t *testing.T) {
	f := newFixture(t, port{id: "ep-b2", device: "dev-b", name: "deg-2", bitmap: "1111100111", slots: 10})
	ctx := context.Background()

	res, err := f.svc.Commit(ctx, CommitRequest{LinkIDs: []string{"link-ab"}, Mask: "0000000000"})
	if err != nil {
		t.Fatalf("Commit error: %v", err)
	}
	if res.Slots != 0 {
		t.Fatalf("slots = %d, want 0", res.Slots)
	}
	for _, id := range []string{"ep-a", "ep-b"} {
		ep := f.endpoint(t, id)
		if !ep.Bitmap.IsFull() || ep.InUse || ep.Version != 0 {
			t.Fatalf("%s changed by empty mask: bitmap %s in_use %v version %d", id, ep.Bitmap, ep.InUse, ep.Version)
		}
	}
}

func TestCommitValidation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		req  CommitRequest
		want error
	}{
		{name: "no links", req: CommitRequest{Mask: "0000000011"}, want: ErrInvalidRequest},
		{name: "malformed mask", req: CommitRequest{LinkIDs: []string{"link-ab"}, Mask: "00x1"}, want: ErrInvalidRequest},
		{name: "wrong width", req: CommitRequest{LinkIDs: []string{"link-ab"}, Mask: "0011"}, want: spectrum.ErrWidthMismatch},
		{name: "unknown link", req: CommitRequest{LinkIDs: []string{"link-zz"}, Mask: "0000000011"}, want: topology.ErrUnknownLink},
		{
			name: "unknown endpoint version",
			req:  CommitRequest{LinkIDs: []string{"link-ab"}, Mask: "0000000011", ExpectedVersions: map[string]int64{"ep-zz": 0}},
			want: store.ErrNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.Commit(context.Background(), tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("Commit error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNoDoubleAllocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var taken []spectrum.Bitmap
	for i := 0; i < 5; i++ {
		alloc, err := f.svc.AllocateLinks(ctx, []string{"link-ab"}, 12.5)
		if err != nil {
			t.Fatalf("AllocateLinks #%d error: %v", i, err)
		}
		if !alloc.Success {
			t.Fatalf("allocation #%d failed: %s", i, alloc.Reason)
		}
		for j, prev := range taken {
			overlap, _ := prev.And(alloc.Available)
			if !overlap.IsEmpty() {
				t.Fatalf("allocation #%d sees slots of commit #%d as free: %s", i, j, overlap)
			}
		}
		if _, err := f.svc.Commit(ctx, CommitRequest{LinkIDs: alloc.LinkIDs, Mask: alloc.Required.String()}); err != nil {
			t.Fatalf("Commit #%d error: %v", i, err)
		}
		taken = append(taken, alloc.Required)
	}

	alloc, err := f.svc.AllocateLinks(ctx, []string{"link-ab"}, 12.5)
	if err != nil {
		t.Fatalf("AllocateLinks error: %v", err)
	}
	if alloc.Success || alloc.Reason != ReasonExhausted {
		t.Fatalf("allocation on full spectrum = %v/%s, want exhausted", alloc.Success, alloc.Reason)
	}
	snap, _ := f.kb.Snapshot(ctx)
	if _, status, _ := snap.LinkStatus(&snap.Links[0]); status != model.LinkFull {
		t.Fatalf("link status = %s, want FULL", status)
	}
}

func TestConcurrentCommitsHaveOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alloc, err := f.svc.AllocateLinks(ctx, []string{"link-ab"}, 25)
	if err != nil {
		t.Fatalf("AllocateLinks error: %v", err)
	}
	req := CommitRequest{LinkIDs: alloc.LinkIDs, Mask: alloc.Required.String(), ExpectedVersions: alloc.EndpointVersions}

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Commit(ctx, req)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, store.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected commit error: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 || conflicts != workers-1 {
		t.Fatalf("wins/conflicts = %d/%d, want 1/%d", wins, conflicts, workers-1)
	}
	if ep := f.endpoint(t, "ep-b"); ep.Bitmap.String() != "1111110000" {
		t.Fatalf("ep-b bitmap = %s, want 1111110000", ep.Bitmap)
	}
}

func TestAllocationFailureReasons(t *testing.T) {
	tests := []struct {
		name   string
		ports  []port
		gbps   float64
		reason Reason
	}{
		{
			name:   "fragmented",
			ports:  []port{{id: "ep-a", device: "dev-a", name: "deg-1", bitmap: "1010101010", slots: 10}},
			gbps:   12.5,
			reason: ReasonFragmented,
		},
		{
			name:   "exhausted",
			gbps:   100,
			reason: ReasonExhausted,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			for _, p := range tt.ports {
				ep := f.endpoint(t, p.id)
				b, _ := spectrum.ParseBitmap(p.bitmap)
				if _, err := f.kb.ApplyEndpointUpdates(context.Background(), []store.EndpointUpdate{
					{ID: ep.ID, ExpectedVersion: ep.Version, Bitmap: b, InUse: true},
				}, nil); err != nil {
					t.Fatalf("ApplyEndpointUpdates error: %v", err)
				}
			}
			res, err := f.svc.AllocateLinks(context.Background(), []string{"link-ab"}, tt.gbps)
			if err != nil {
				t.Fatalf("AllocateLinks error: %v", err)
			}
			if res.Success || res.Reason != tt.reason || res.StartBit != -1 {
				t.Fatalf("result = success %v reason %s start %d, want failure %s", res.Success, res.Reason, res.StartBit, tt.reason)
			}
			if res.Available.Width() != 10 {
				t.Fatalf("failed result must carry the reference bitmap, got width %d", res.Available.Width())
			}
		})
	}
}

func TestAllocateRejectsBadBandwidth(t *testing.T) {
	f := newFixture(t)
	for _, gbps := range []float64{0, -12.5} {
		if _, err := f.svc.AllocateLinks(context.Background(), []string{"link-ab"}, gbps); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("AllocateLinks(%v) error = %v, want ErrInvalidRequest", gbps, err)
		}
	}
}

func TestNoBandIsDegradedResult(t *testing.T) {
	f := newFixture(t)
	f.svc = NewService(f.kb, WithRegistry(spectrum.NewRegistry(spectrum.Band{
		Name: "FAR", MinHz: 100e12, MaxHz: 101e12, Slots: 160,
	})))
	res, err := f.svc.AllocateLinks(context.Background(), []string{"link-ab"}, 12.5)
	if err != nil {
		t.Fatalf("AllocateLinks error: %v", err)
	}
	if res.Success || res.Reason != ReasonNoBand {
		t.Fatalf("result = %v/%s, want no_band", res.Success, res.Reason)
	}
	if _, err := f.svc.Commit(context.Background(), CommitRequest{LinkIDs: []string{"link-ab"}, Mask: "0000000011"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("Commit without band error = %v, want ErrInvalidRequest", err)
	}
}

func TestDeviceContention(t *testing.T) {
	// deg-2 on roadm-b already carries slot 0; deg-3 covers only the upper
	// half and is idle.
	f := newFixture(t,
		port{id: "ep-b2", device: "dev-b", name: "deg-2", bitmap: "1111111110", slots: 10},
		port{id: "ep-b3", device: "dev-b", name: "deg-3", bitmap: "11111", firstSlot: 5, slots: 5},
	)
	res, err := f.svc.AllocateLinks(context.Background(), []string{"link-ab"}, 12.5)
	if err != nil {
		t.Fatalf("AllocateLinks error: %v", err)
	}
	if got := res.Available.String(); got != "1111100000" {
		t.Fatalf("available = %s, want 1111100000", got)
	}
	if res.StartBit != 5 {
		t.Fatalf("start bit = %d, want 5", res.StartBit)
	}
	if len(res.Trace) != 1 || res.Trace[0].ToBitmap.String() != "1111100000" || !res.Trace[0].FromBitmap.IsFull() {
		t.Fatalf("trace = %+v", res.Trace)
	}
	if len(res.EndpointVersions) != 4 {
		t.Fatalf("endpoint versions = %v, want every port of both devices", res.EndpointVersions)
	}

	// Committing leaves the other ports of the device alone.
	if _, err := f.svc.Commit(context.Background(), CommitRequest{LinkIDs: res.LinkIDs, Mask: res.Required.String()}); err != nil {
		t.Fatalf("Commit error: %v", err)
	}
	if ep := f.endpoint(t, "ep-b2"); ep.Version != 0 || ep.Bitmap.String() != "1111111110" {
		t.Fatalf("ep-b2 = version %d bitmap %s, want untouched", ep.Version, ep.Bitmap)
	}
	if ep := f.endpoint(t, "ep-b"); ep.Bitmap.String() != "1110011111" {
		t.Fatalf("ep-b bitmap = %s, want 1110011111", ep.Bitmap)
	}
}

func TestIdleNeighbourWithoutSpectrumBlocksDevice(t *testing.T) {
	f := newFixture(t, port{id: "ep-b2", device: "dev-b", name: "client-1"})
	res, err := f.svc.AllocateLinks(context.Background(), []string{"link-ab"}, 12.5)
	if err != nil {
		t.Fatalf("AllocateLinks error: %v", err)
	}
	if res.Success || !res.Available.IsEmpty() || res.Reason != ReasonExhausted {
		t.Fatalf("result = success %v available %s reason %s, want nothing free", res.Success, res.Available, res.Reason)
	}
}

// snapshotStore serves a fixed snapshot so a commit decides on state that
// another commit has since changed.
type snapshotStore struct {
	store.Store
	snap *model.Snapshot
}

func (s snapshotStore) Snapshot(context.Context) (*model.Snapshot, error) { return s.snap, nil }

func TestCommitsThroughSharedDeviceDoNotOverlap(t *testing.T) {
	// roadm-a reaches roadm-b on deg-1 and roadm-c on deg-2.
	f := newFixture(t,
		port{id: "ep-a2", device: "dev-a", name: "deg-2", bitmap: "1111111111", slots: 10},
	)
	ctx := context.Background()
	devC := model.NewDevice("roadm-c", model.DeviceROADM)
	devC.ID = "dev-c"
	if err := f.kb.PutDevice(ctx, devC); err != nil {
		t.Fatalf("PutDevice error: %v", err)
	}
	if err := f.kb.PutEndpoint(ctx, port{id: "ep-c", device: "dev-c", name: "deg-1", bitmap: "1111111111", slots: 10}.endpoint(t)); err != nil {
		t.Fatalf("PutEndpoint error: %v", err)
	}
	a2, c := f.endpoint(t, "ep-a2"), f.endpoint(t, "ep-c")
	ac := model.NewOpticalLink("a-c", a2, c)
	ac.ID = "link-ac"
	if err := f.kb.PutLink(ctx, ac); err != nil {
		t.Fatalf("PutLink error: %v", err)
	}

	before, err := f.kb.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot error: %v", err)
	}
	allocAB, err := f.svc.AllocateLinks(ctx, []string{"link-ab"}, 12.5)
	if err != nil {
		t.Fatalf("AllocateLinks(a-b) error: %v", err)
	}
	allocAC, err := f.svc.AllocateLinks(ctx, []string{"link-ac"}, 12.5)
	if err != nil {
		t.Fatalf("AllocateLinks(a-c) error: %v", err)
	}
	if allocAB.Required.String() != "0000000011" || allocAC.Required.String() != "0000000011" {
		t.Fatalf("masks = %s / %s, want both 0000000011", allocAB.Required, allocAC.Required)
	}
	if _, ok := allocAC.EndpointVersions["ep-a"]; !ok {
		t.Fatalf("a-c allocation versions %v miss the other port of roadm-a", allocAC.EndpointVersions)
	}

	if _, err := f.svc.Commit(ctx, CommitRequest{LinkIDs: allocAB.LinkIDs, Mask: allocAB.Required.String()}); err != nil {
		t.Fatalf("Commit(a-b) error: %v", err)
	}

	stale := &Committer{Engine: f.svc.Engine(), Store: snapshotStore{Store: f.kb, snap: before}}
	if _, err := stale.Commit(ctx, CommitRequest{LinkIDs: allocAC.LinkIDs, Mask: allocAC.Required.String()}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("commit decided on a stale device view error = %v, want ErrConflict", err)
	}
	if _, err := f.svc.Commit(ctx, CommitRequest{LinkIDs: allocAC.LinkIDs, Mask: allocAC.Required.String(), ExpectedVersions: allocAC.EndpointVersions}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("commit with stale versions error = %v, want ErrConflict", err)
	}
	if ep := f.endpoint(t, "ep-a2"); ep.Version != 0 || !ep.Bitmap.IsFull() {
		t.Fatalf("ep-a2 = version %d bitmap %s, want untouched", ep.Version, ep.Bitmap)
	}

	retry, err := f.svc.AllocateLinks(ctx, []string{"link-ac"}, 12.5)
	if err != nil {
		t.Fatalf("AllocateLinks(a-c) retry error: %v", err)
	}
	if retry.StartBit != 2 {
		t.Fatalf("retry start bit = %d, want 2", retry.StartBit)
	}
}

func TestPathEndpointWithoutSpectrumBlocksAllocation(t *testing.T) {
	f := newFixture(t,
		port{id: "ep-a2", device: "dev-a", name: "client-1"},
		port{id: "ep-b2", device: "dev-b", name: "client-1", bitmap: "1111111111", slots: 10},
	)
	ctx := context.Background()
	snap, _ := f.kb.Snapshot(ctx)
	a, _ := snap.Endpoint("ep-a2")
	b, _ := snap.Endpoint("ep-b2")
	l := model.NewOpticalLink("a-b-client", a, b)
	l.ID = "link-client"
	if err := f.kb.PutLink(ctx, l); err != nil {
		t.Fatalf("PutLink error: %v", err)
	}

	res, err := f.svc.AllocateLinks(ctx, []string{"link-client"}, 12.5)
	if err != nil {
		t.Fatalf("AllocateLinks error: %v", err)
	}
	if res.Success || !res.Available.IsEmpty() {
		t.Fatalf("allocation over a port without spectrum = %v available %s, want nothing free", res.Success, res.Available)
	}
}

func TestReferenceFrameIgnoresPortsWithoutSpectrum(t *testing.T) {
	e := NewEngine(testRegistry(), nil)
	with := port{id: "x", device: "d", name: "p", bitmap: "11111", firstSlot: 2, slots: 5}.endpoint(t)
	without := port{id: "y", device: "d", name: "q"}.endpoint(t)
	band, ok := e.ReferenceFrame([]*model.Endpoint{without, with})
	if !ok || band.Name != "TEST" {
		t.Fatalf("ReferenceFrame = %s/%v, want TEST", band.Name, ok)
	}
	if _, ok := e.ReferenceFrame([]*model.Endpoint{without}); ok {
		t.Fatalf("ReferenceFrame without spectrum should not match")
	}
}
