package offers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/example/emergency-dispatch/internal/geo"
	"github.com/example/emergency-dispatch/internal/locate"
	"github.com/example/emergency-dispatch/internal/models"
	"github.com/example/emergency-dispatch/internal/storage"
)

// Validation failures. These are raised before any network or storage
// call is attempted.
var (
	ErrPriceRequired = errors.New("price must be a positive amount")
	ErrETARequired   = errors.New("eta must be a positive number of minutes")
)

// ErrAlreadySubmitted is the caregiver-facing duplicate condition,
// distinct from generic submission failure.
var ErrAlreadySubmitted = errors.New("you already sent an offer for this request")

// Submission is one caregiver offer attempt against a live request.
type Submission struct {
	Request     models.EmergencyRequest
	CaregiverID string
	Price       int64
	ETAMinutes  int
	Message     string
}

// Flow validates a submission, locates the caregiver best-effort,
// computes distance-to-patient and writes a pending offer.
type Flow struct {
	Store         storage.OfferStore
	Locator       locate.Tracker
	Logger        *slog.Logger
	LocateTimeout time.Duration
}

func NewFlow(store storage.OfferStore, locator locate.Tracker, logger *slog.Logger) *Flow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Flow{Store: store, Locator: locator, Logger: logger, LocateTimeout: 3 * time.Second}
}

func (f *Flow) Submit(ctx context.Context, sub Submission) (*models.CaregiverOffer, error) {
	if sub.Price <= 0 {
		return nil, ErrPriceRequired
	}
	if sub.ETAMinutes <= 0 {
		return nil, ErrETARequired
	}

	offer := &models.CaregiverOffer{
		ID:          uuid.NewString(),
		RequestID:   sub.Request.ID,
		CaregiverID: sub.CaregiverID,
		Price:       sub.Price,
		ETAMinutes:  sub.ETAMinutes,
		Message:     sub.Message,
		Status:      models.OfferPending,
		CreatedAt:   time.Now(),
	}

	// Position is best-effort; any locate failure leaves coordinates
	// empty and the submission proceeds.
	if f.Locator != nil {
		lctx := ctx
		if f.LocateTimeout > 0 {
			var cancel context.CancelFunc
			lctx, cancel = context.WithTimeout(ctx, f.LocateTimeout)
			defer cancel()
		}
		pos, err := f.Locator.Current(lctx, sub.CaregiverID)
		if err != nil {
			f.Logger.Debug("locate failed", "caregiver", sub.CaregiverID, "error", err)
		} else {
			offer.Loc = &pos
			d := round2(geo.Haversine(pos.Lat, pos.Lon, sub.Request.Loc.Lat, sub.Request.Loc.Lon))
			offer.DistanceKm = &d
		}
	}

	if err := f.Store.SaveOffer(ctx, offer); err != nil {
		if errors.Is(err, storage.ErrDuplicateOffer) {
			return nil, ErrAlreadySubmitted
		}
		return nil, fmt.Errorf("save offer: %w", err)
	}
	return offer, nil
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
