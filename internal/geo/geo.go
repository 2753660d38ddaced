package geo

import (
	"math"
	"sort"
	"sync"

	"github.com/example/emergency-dispatch/internal/models"
)

// Requests is the minimal interface required by the HTTP handlers to
// answer "live requests near X".
type Requests interface {
	Near(lat, lon, radiusKm float64) []models.EmergencyRequest
	All() []models.EmergencyRequest
	Upsert(r models.EmergencyRequest)
	Remove(id string)
}

// Index keeps the live request set in memory.
type Index struct {
	mu       sync.RWMutex
	requests map[string]models.EmergencyRequest
}

func NewIndex() *Index {
	return &Index{requests: make(map[string]models.EmergencyRequest)}
}

// Upsert stores a live request; anything no longer live is dropped so the
// index only ever holds actionable rows.
func (g *Index) Upsert(r models.EmergencyRequest) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r.Status != models.RequestLive {
		delete(g.requests, r.ID)
		return
	}
	g.requests[r.ID] = r
}

func (g *Index) Remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.requests, id)
}

// All returns every live request, newest first.
func (g *Index) All() []models.EmergencyRequest {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]models.EmergencyRequest, 0, len(g.requests))
	for _, r := range g.requests {
		out = append(out, r)
	}
	sortNewestFirst(out)
	return out
}

// naive scan; in prod use geo-hash or H3
func (g *Index) Near(lat, lon, radiusKm float64) []models.EmergencyRequest {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]models.EmergencyRequest, 0, len(g.requests))
	for _, r := range g.requests {
		if Haversine(lat, lon, r.Loc.Lat, r.Loc.Lon) <= radiusKm {
			out = append(out, r)
		}
	}
	sortNewestFirst(out)
	return out
}

func sortNewestFirst(rs []models.EmergencyRequest) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].CreatedAt.After(rs[j].CreatedAt) })
}

// FilterByRadius keeps requests within radiusKm of origin, boundary
// inclusive. Order is preserved.
func FilterByRadius(rs []models.EmergencyRequest, origin models.Coord, radiusKm float64) []models.EmergencyRequest {
	out := make([]models.EmergencyRequest, 0, len(rs))
	for _, r := range rs {
		if Haversine(origin.Lat, origin.Lon, r.Loc.Lat, r.Loc.Lon) <= radiusKm {
			out = append(out, r)
		}
	}
	return out
}

// Haversine distance in kilometers
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
