package geo

import (
	"math"
	"testing"
	"time"

	"github.com/example/emergency-dispatch/internal/models"
)

func TestHaversineIdentity(t *testing.T) {
	for _, c := range []models.Coord{{Lat: 0, Lon: 0}, {Lat: 35.68, Lon: 139.69}, {Lat: -33.87, Lon: 151.21}} {
		if d := Haversine(c.Lat, c.Lon, c.Lat, c.Lon); d != 0 {
			t.Fatalf("expected 0 for %v, got %f", c, d)
		}
	}
}

func TestHaversineSymmetry(t *testing.T) {
	pairs := [][4]float64{
		{0, 0, 1, 0},
		{35.68, 139.69, 51.5, -0.12},
		{-33.87, 151.21, 40.71, -74.0},
	}
	for _, p := range pairs {
		ab := Haversine(p[0], p[1], p[2], p[3])
		ba := Haversine(p[2], p[3], p[0], p[1])
		if math.Abs(ab-ba) > 1e-9 {
			t.Fatalf("asymmetric: %f vs %f", ab, ba)
		}
	}
}

func TestHaversineOneDegreeLatitude(t *testing.T) {
	d := Haversine(0, 0, 1, 0)
	if math.Abs(d-111.0) > 1.0 {
		t.Fatalf("expected ~111km, got %f", d)
	}
}

func TestFilterByRadiusBoundaryInclusive(t *testing.T) {
	origin := models.Coord{Lat: 0, Lon: 0}
	// one degree of latitude is ~111.195 km; dividing by 111.2 keeps
	// the boundary row a hair inside
	deg := func(km float64) float64 { return km / 111.2 }
	radius := 10.0
	rs := []models.EmergencyRequest{
		{ID: "inside", Loc: models.Coord{Lat: deg(radius - 1)}},
		{ID: "boundary", Loc: models.Coord{Lat: deg(radius)}},
		{ID: "outside", Loc: models.Coord{Lat: deg(radius + 1)}},
	}
	got := FilterByRadius(rs, origin, radius)
	if len(got) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(got))
	}
	if got[0].ID != "inside" || got[1].ID != "boundary" {
		t.Fatalf("wrong rows kept: %s, %s", got[0].ID, got[1].ID)
	}
}

func TestIndexDropsNonLive(t *testing.T) {
	idx := NewIndex()
	r := models.EmergencyRequest{ID: "r1", Status: models.RequestLive, CreatedAt: time.Now()}
	idx.Upsert(r)
	if len(idx.All()) != 1 {
		t.Fatal("expected one live request")
	}
	r.Status = models.RequestMatched
	idx.Upsert(r)
	if len(idx.All()) != 0 {
		t.Fatal("matched request should leave the index")
	}
}

func TestIndexNewestFirst(t *testing.T) {
	idx := NewIndex()
	base := time.Now()
	idx.Upsert(models.EmergencyRequest{ID: "old", Status: models.RequestLive, CreatedAt: base.Add(-time.Hour)})
	idx.Upsert(models.EmergencyRequest{ID: "new", Status: models.RequestLive, CreatedAt: base})
	all := idx.All()
	if all[0].ID != "new" || all[1].ID != "old" {
		t.Fatalf("expected newest first, got %s, %s", all[0].ID, all[1].ID)
	}
}
