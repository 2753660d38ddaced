package feed

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/example/emergency-dispatch/internal/geo"
	"github.com/example/emergency-dispatch/internal/models"
)

// Source is the backend contract the subscriber consumes: a snapshot
// fetch, the caregiver's already-offered set, and a change feed.
type Source interface {
	ListLive(ctx context.Context) ([]models.EmergencyRequest, error)
	OfferedRequestIDs(ctx context.Context, caregiverID string) ([]string, error)
	Subscribe(ctx context.Context) (<-chan models.RequestEvent, func(), error)
}

// View is one feed row as presented to the caregiver.
type View struct {
	models.EmergencyRequest
	DistanceKm *float64
	OfferSent  bool
}

type Options struct {
	CaregiverID string
	// Position is the caregiver's last known coordinate; nil shows all
	// live requests regardless of RadiusKm.
	Position *models.Coord
	RadiusKm float64
	// Chime is invoked once per change event. Errors are discarded:
	// the cue is cosmetic.
	Chime  func() error
	Logger *slog.Logger
}

// Subscriber maintains a typed store of live requests keyed by id,
// updated incrementally from subscription events: insert adds, update
// replaces (or drops once the request leaves "live"), delete removes.
type Subscriber struct {
	src  Source
	opts Options

	mu       sync.RWMutex
	requests map[string]models.EmergencyRequest
	offered  map[string]bool
}

func New(src Source, opts Options) *Subscriber {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Subscriber{
		src:      src,
		opts:     opts,
		requests: make(map[string]models.EmergencyRequest),
		offered:  make(map[string]bool),
	}
}

// Run subscribes, loads the initial snapshot plus the offered set, then
// applies change events until ctx is cancelled or the feed closes.
// Subscribing before the snapshot fetch means events raised during the
// fetch are buffered and applied after it, so a slow snapshot can never
// clobber a newer event.
func (s *Subscriber) Run(ctx context.Context) error {
	events, unsubscribe, err := s.src.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer unsubscribe()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ids, err := s.src.OfferedRequestIDs(ctx, s.opts.CaregiverID)
		if err != nil {
			s.opts.Logger.Warn("offered set fetch failed", "error", err)
			return
		}
		s.mu.Lock()
		for _, id := range ids {
			s.offered[id] = true
		}
		s.mu.Unlock()
	}()

	snapshot, err := s.src.ListLive(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	for _, r := range snapshot {
		if _, seen := s.requests[r.ID]; !seen {
			s.requests[r.ID] = r
		}
	}
	s.mu.Unlock()
	wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.Apply(ev)
		}
	}
}

// Apply folds one change event into the store and fires the cue.
func (s *Subscriber) Apply(ev models.RequestEvent) {
	s.mu.Lock()
	switch ev.Type {
	case models.EventInsert, models.EventUpdate:
		if ev.Request == nil {
			s.mu.Unlock()
			return
		}
		if ev.Request.Live() {
			s.requests[ev.Request.ID] = *ev.Request
		} else {
			delete(s.requests, ev.Request.ID)
		}
	case models.EventDelete:
		delete(s.requests, ev.ID)
	}
	s.mu.Unlock()

	if s.opts.Chime != nil {
		_ = s.opts.Chime()
	}
}

// MarkOfferSent records the caregiver's own submission optimistically;
// no refetch is needed for their own action.
func (s *Subscriber) MarkOfferSent(requestID string) {
	s.mu.Lock()
	s.offered[requestID] = true
	s.mu.Unlock()
}

// Snapshot returns the visible feed: radius-filtered when a position is
// known (boundary inclusive), newest first, annotated with distance and
// the offer-sent flag.
func (s *Subscriber) Snapshot() []View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]View, 0, len(s.requests))
	for _, r := range s.requests {
		v := View{EmergencyRequest: r, OfferSent: s.offered[r.ID]}
		if s.opts.Position != nil {
			d := geo.Haversine(s.opts.Position.Lat, s.opts.Position.Lon, r.Loc.Lat, r.Loc.Lon)
			if s.opts.RadiusKm > 0 && d > s.opts.RadiusKm {
				continue
			}
			v.DistanceKm = &d
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
