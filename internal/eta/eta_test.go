package eta

import (
	"testing"
	"time"

	"github.com/example/emergency-dispatch/internal/models"
)

func TestEstimateMinutesThreePerKm(t *testing.T) {
	// ~111km of latitude -> ~333 minutes
	m := EstimateMinutes(models.Coord{Lat: 0, Lon: 0}, models.Coord{Lat: 1, Lon: 0})
	if m < 330 || m > 337 {
		t.Fatalf("expected ~333 minutes, got %d", m)
	}
}

func TestEstimateMinutesFloorsAtOne(t *testing.T) {
	if m := EstimateMinutes(models.Coord{}, models.Coord{}); m != 1 {
		t.Fatalf("expected 1 minute minimum, got %d", m)
	}
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(10 * time.Millisecond)
	a, b := models.Coord{Lat: 1, Lon: 1}, models.Coord{Lat: 2, Lon: 2}
	c.Set(a, b, 42)
	if v, ok := c.Get(a, b); !ok || v != 42 {
		t.Fatalf("expected hit 42, got %d %v", v, ok)
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get(a, b); ok {
		t.Fatal("expected expiry")
	}
}
