package feed

import (
	"context"
	"testing"
	"time"

	"github.com/example/emergency-dispatch/internal/models"
)

type fakeSource struct {
	live    []models.EmergencyRequest
	offered []string
	events  chan models.RequestEvent
	unsubs  int
}

func (f *fakeSource) ListLive(ctx context.Context) ([]models.EmergencyRequest, error) {
	return f.live, nil
}

func (f *fakeSource) OfferedRequestIDs(ctx context.Context, caregiverID string) ([]string, error) {
	return f.offered, nil
}

func (f *fakeSource) Subscribe(ctx context.Context) (<-chan models.RequestEvent, func(), error) {
	return f.events, func() { f.unsubs++ }, nil
}

func liveReq(id string, lat float64, created time.Time) models.EmergencyRequest {
	return models.EmergencyRequest{ID: id, Loc: models.Coord{Lat: lat}, Status: models.RequestLive, CreatedAt: created}
}

func TestApplyInsertUpdateDelete(t *testing.T) {
	s := New(&fakeSource{}, Options{CaregiverID: "c1"})

	r := liveReq("r1", 0, time.Now())
	s.Apply(models.RequestEvent{Type: models.EventInsert, Request: &r, ID: r.ID})
	if len(s.Snapshot()) != 1 {
		t.Fatal("insert should add")
	}

	r.PatientName = "updated"
	s.Apply(models.RequestEvent{Type: models.EventUpdate, Request: &r, ID: r.ID})
	if got := s.Snapshot(); got[0].PatientName != "updated" {
		t.Fatalf("update should replace, got %q", got[0].PatientName)
	}

	s.Apply(models.RequestEvent{Type: models.EventDelete, ID: r.ID})
	if len(s.Snapshot()) != 0 {
		t.Fatal("delete should remove")
	}
}

func TestUpdateAwayFromLiveRemoves(t *testing.T) {
	s := New(&fakeSource{}, Options{})
	r := liveReq("r1", 0, time.Now())
	s.Apply(models.RequestEvent{Type: models.EventInsert, Request: &r, ID: r.ID})
	r.Status = models.RequestMatched
	s.Apply(models.RequestEvent{Type: models.EventUpdate, Request: &r, ID: r.ID})
	if len(s.Snapshot()) != 0 {
		t.Fatal("matched request must leave the feed")
	}
}

func TestSnapshotRadiusFilterInclusive(t *testing.T) {
	// one degree of latitude is ~111.195 km; dividing by 111.2 keeps
	// the edge row a hair inside the boundary
	deg := func(km float64) float64 { return km / 111.2 }
	pos := models.Coord{Lat: 0, Lon: 0}
	s := New(&fakeSource{}, Options{Position: &pos, RadiusKm: 10})
	now := time.Now()
	for i, lat := range []float64{deg(9), deg(10), deg(11)} {
		r := liveReq([]string{"in", "edge", "out"}[i], lat, now.Add(time.Duration(i)*time.Second))
		s.Apply(models.RequestEvent{Type: models.EventInsert, Request: &r, ID: r.ID})
	}
	got := s.Snapshot()
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	for _, v := range got {
		if v.ID == "out" {
			t.Fatal("request beyond radius must be excluded")
		}
		if v.DistanceKm == nil {
			t.Fatal("distance should be annotated when position known")
		}
	}
}

func TestSnapshotNoPositionShowsAll(t *testing.T) {
	s := New(&fakeSource{}, Options{RadiusKm: 10})
	r := liveReq("far", 50, time.Now())
	s.Apply(models.RequestEvent{Type: models.EventInsert, Request: &r, ID: r.ID})
	if len(s.Snapshot()) != 1 {
		t.Fatal("without a position all live requests are visible")
	}
}

func TestChimeFiresAndErrorsIgnored(t *testing.T) {
	calls := 0
	s := New(&fakeSource{}, Options{Chime: func() error { calls++; return context.DeadlineExceeded }})
	r := liveReq("r1", 0, time.Now())
	s.Apply(models.RequestEvent{Type: models.EventInsert, Request: &r, ID: r.ID})
	s.Apply(models.RequestEvent{Type: models.EventDelete, ID: r.ID})
	if calls != 2 {
		t.Fatalf("expected chime per event, got %d", calls)
	}
}

func TestRunLoadsSnapshotAndOffered(t *testing.T) {
	src := &fakeSource{
		live:    []models.EmergencyRequest{liveReq("r1", 0, time.Now())},
		offered: []string{"r1"},
		events:  make(chan models.RequestEvent),
	}
	s := New(src, Options{CaregiverID: "c1"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.After(time.Second)
	for {
		snap := s.Snapshot()
		if len(snap) == 1 && snap[0].OfferSent {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("snapshot never settled: %+v", snap)
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if src.unsubs != 1 {
		t.Fatalf("expected unsubscribe on exit, got %d", src.unsubs)
	}
}

func TestRunEventApplied(t *testing.T) {
	src := &fakeSource{events: make(chan models.RequestEvent, 1)}
	s := New(src, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	r := liveReq("r1", 0, time.Now())
	src.events <- models.RequestEvent{Type: models.EventInsert, Request: &r, ID: r.ID}

	deadline := time.After(time.Second)
	for len(s.Snapshot()) != 1 {
		select {
		case <-deadline:
			t.Fatal("event never applied")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestMarkOfferSent(t *testing.T) {
	s := New(&fakeSource{}, Options{})
	r := liveReq("r1", 0, time.Now())
	s.Apply(models.RequestEvent{Type: models.EventInsert, Request: &r, ID: r.ID})
	s.MarkOfferSent("r1")
	if snap := s.Snapshot(); !snap[0].OfferSent {
		t.Fatal("own submission should be reflected without refetch")
	}
}
