package eta

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/example/emergency-dispatch/internal/geo"
	"github.com/example/emergency-dispatch/internal/models"
)

// Client is the interface used to estimate caregiver travel time.
type Client interface {
	EstimateMinutes(from, to models.Coord) (int, error)
}

// MinutesPerKm is the naive urban travel assumption used to pre-fill
// the offer ETA from distance.
const MinutesPerKm = 3.0

// EstimateMinutes converts great-circle distance into a travel estimate
// at MinutesPerKm, rounded up so the caregiver never under-promises.
func EstimateMinutes(from, to models.Coord) int {
	d := geo.Haversine(from.Lat, from.Lon, to.Lat, to.Lon)
	m := int(math.Ceil(d * MinutesPerKm))
	if m < 1 {
		m = 1
	}
	return m
}

// Cache is a tiny in-memory cache for ETA lookups keyed by coords.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  int
	ts time.Time
}

// NewCache creates a cache with the provided TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(a, b models.Coord) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

func fmtCoord(c models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}

// Get returns cached value and true if present and not expired.
func (c *Cache) Get(a, b models.Coord) (int, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return 0, false
	}
	return e.v, true
}

// Set stores a value in the cache.
func (c *Cache) Set(a, b models.Coord, v int) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}
