package locate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/emergency-dispatch/internal/models"
)

// Typed position failures. The offer flow treats all of them as
// non-fatal and proceeds without coordinates.
var (
	ErrSharingDisabled = errors.New("location sharing disabled")
	ErrPositionUnknown = errors.New("no position on record")
	ErrPositionStale   = errors.New("last position too old")
)

// Tracker answers "where was this caregiver last seen".
type Tracker interface {
	Report(ctx context.Context, loc models.CaregiverLocation) error
	Current(ctx context.Context, caregiverID string) (models.Coord, error)
}

// MemoryTracker keeps last-known positions in memory. Positions older
// than maxAge resolve as stale, the device-timeout analogue.
type MemoryTracker struct {
	mu     sync.RWMutex
	last   map[string]models.CaregiverLocation
	maxAge time.Duration
	now    func() time.Time
}

func NewMemoryTracker(maxAge time.Duration) *MemoryTracker {
	return &MemoryTracker{
		last:   make(map[string]models.CaregiverLocation),
		maxAge: maxAge,
		now:    time.Now,
	}
}

func (t *MemoryTracker) Report(_ context.Context, loc models.CaregiverLocation) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if loc.Reported.IsZero() {
		loc.Reported = t.now()
	}
	t.last[loc.CaregiverID] = loc
	return nil
}

func (t *MemoryTracker) Current(_ context.Context, caregiverID string) (models.Coord, error) {
	t.mu.RLock()
	loc, ok := t.last[caregiverID]
	t.mu.RUnlock()
	if !ok {
		return models.Coord{}, ErrPositionUnknown
	}
	if !loc.Sharing {
		return models.Coord{}, ErrSharingDisabled
	}
	if t.maxAge > 0 && t.now().Sub(loc.Reported) > t.maxAge {
		return models.Coord{}, ErrPositionStale
	}
	return loc.Loc, nil
}
