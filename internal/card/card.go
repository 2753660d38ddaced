package card

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/example/emergency-dispatch/internal/eta"
	"github.com/example/emergency-dispatch/internal/models"
	"github.com/example/emergency-dispatch/internal/offers"
)

// State of the flash card.
type State int

const (
	StateEntering State = iota
	StateCounting
	StateOfferInput
	StateSubmitting
	StateAccepted
	StateDismissed
)

func (s State) String() string {
	switch s {
	case StateEntering:
		return "entering"
	case StateCounting:
		return "counting"
	case StateOfferInput:
		return "offer_input"
	case StateSubmitting:
		return "submitting"
	case StateAccepted:
		return "accepted"
	default:
		return "dismissed"
	}
}

// Dismiss reasons surfaced to the renderer.
const (
	NoticeTimedOut = "request timed out"
	NoticeTaken    = "request is no longer available"
)

// Submitter is satisfied by *offers.Flow.
type Submitter interface {
	Submit(ctx context.Context, sub offers.Submission) (*models.CaregiverOffer, error)
}

// Renderer draws one card snapshot. It may panic; the card contains the
// panic and degrades to a dismissal.
type Renderer interface {
	Render(Snapshot)
}

// Snapshot is the immutable view handed to the renderer.
type Snapshot struct {
	State      State
	Request    models.EmergencyRequest
	Remaining  int
	Price      int64
	ETAMinutes int
	Notice     string
}

type Config struct {
	Request     models.EmergencyRequest
	CaregiverID string

	// AutoHideSeconds is the decision window; 0 means the default 45.
	AutoHideSeconds int
	// DistanceKm, when known, seeds the ETA pre-fill at ~3 min/km.
	DistanceKm *float64
	// ETAMinutes, when positive, overrides the distance-derived
	// pre-fill (e.g. a road ETA from a routing engine).
	ETAMinutes int
	// DefaultFee pre-fills the price when the patient proposed none.
	DefaultFee int64

	// Transition delays. Zero picks the default; negative makes the
	// transition immediate (used by tests).
	EnterDuration  time.Duration // slide-in, default 200ms
	ExitDuration   time.Duration // slide-out before the dismiss callback, default 300ms
	AcceptedLinger time.Duration // success confirmation hold, default 2s

	Submitter  Submitter
	Renderer   Renderer
	OnAccepted func()
	OnDismiss  func()
	Logger     *slog.Logger
}

// Card presents one incoming request with a bounded decision window.
// Timer ticks, external request events and caregiver actions all run
// concurrently; every transition goes through the one mutex.
type Card struct {
	cfg Config

	mu        sync.Mutex
	state     State
	remaining int
	price     int64
	etaMin    int
	message   string
	notice    string
	// set when a taken event arrives mid-submission; honored once the
	// local flow resolves
	takenWhileBusy bool

	dismissOnce sync.Once
	exitTimers  []*time.Timer
}

func New(cfg Config) *Card {
	if cfg.AutoHideSeconds <= 0 {
		cfg.AutoHideSeconds = 45
	}
	if cfg.EnterDuration == 0 {
		cfg.EnterDuration = 200 * time.Millisecond
	}
	if cfg.ExitDuration == 0 {
		cfg.ExitDuration = 300 * time.Millisecond
	}
	if cfg.AcceptedLinger == 0 {
		cfg.AcceptedLinger = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Card{cfg: cfg, state: StateEntering, remaining: cfg.AutoHideSeconds}
}

// Mount starts the entry transition and renders the first frame.
func (c *Card) Mount() {
	c.mu.Lock()
	c.state = StateEntering
	c.mu.Unlock()
	c.render()
	if c.cfg.EnterDuration > 0 {
		c.after(c.cfg.EnterDuration, c.finishEnter)
		return
	}
	c.finishEnter()
}

func (c *Card) finishEnter() {
	c.mu.Lock()
	if c.state != StateEntering {
		c.mu.Unlock()
		return
	}
	c.state = StateCounting
	c.mu.Unlock()
	c.render()
}

// Run drives the countdown and watches the request's own event stream
// until the card dismisses or ctx ends.
func (c *Card) Run(ctx context.Context, events <-chan models.RequestEvent) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.tick() {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.HandleEvent(ev)
			if c.State() == StateDismissed {
				return
			}
		}
	}
}

// tick advances the countdown one second. The clock only moves in the
// counting state: offer input, submission and the accepted linger all
// freeze it. Reports whether the card dismissed.
func (c *Card) tick() bool {
	c.mu.Lock()
	if c.state != StateCounting {
		done := c.state == StateDismissed
		c.mu.Unlock()
		return done
	}
	c.remaining--
	if c.remaining > 0 {
		c.mu.Unlock()
		c.render()
		return false
	}
	c.state = StateDismissed
	c.notice = NoticeTimedOut
	c.mu.Unlock()
	c.render()
	c.scheduleDismiss()
	return true
}

// Accept moves to offer input with pre-filled price and ETA.
func (c *Card) Accept() {
	c.mu.Lock()
	if c.state != StateCounting && c.state != StateEntering {
		c.mu.Unlock()
		return
	}
	c.state = StateOfferInput
	if c.price == 0 {
		if c.cfg.Request.OfferedPrice != nil {
			c.price = *c.cfg.Request.OfferedPrice
		} else {
			c.price = c.cfg.DefaultFee
		}
	}
	if c.etaMin == 0 {
		if c.cfg.ETAMinutes > 0 {
			c.etaMin = c.cfg.ETAMinutes
		} else if c.cfg.DistanceKm != nil {
			c.etaMin = int(math.Ceil(*c.cfg.DistanceKm * eta.MinutesPerKm))
			if c.etaMin < 1 {
				c.etaMin = 1
			}
		}
	}
	c.mu.Unlock()
	c.render()
}

// Back cancels offer input; the countdown resumes where it paused.
func (c *Card) Back() {
	c.mu.Lock()
	if c.state != StateOfferInput {
		c.mu.Unlock()
		return
	}
	c.state = StateCounting
	c.mu.Unlock()
	c.render()
}

// SetInput updates the offer fields while in offer input.
func (c *Card) SetInput(price int64, etaMinutes int, message string) {
	c.mu.Lock()
	if c.state == StateOfferInput {
		c.price, c.etaMin, c.message = price, etaMinutes, message
	}
	c.mu.Unlock()
}

// Confirm submits the offer. On success the card shows the confirmation
// and auto-dismisses after the linger; on failure it returns the error
// and drops back to offer input. A taken event that arrived during the
// submission is honored only after the flow resolves.
func (c *Card) Confirm(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateOfferInput {
		c.mu.Unlock()
		return nil
	}
	c.state = StateSubmitting
	sub := offers.Submission{
		Request:     c.cfg.Request,
		CaregiverID: c.cfg.CaregiverID,
		Price:       c.price,
		ETAMinutes:  c.etaMin,
		Message:     c.message,
	}
	c.mu.Unlock()
	c.render()

	_, err := c.cfg.Submitter.Submit(ctx, sub)

	c.mu.Lock()
	if c.state != StateSubmitting {
		// force-dismissed is not possible here (suppressed while busy),
		// but a manual dismissal may have raced the response
		c.mu.Unlock()
		return err
	}
	if err != nil {
		if c.takenWhileBusy {
			c.takenWhileBusy = false
			c.state = StateDismissed
			c.notice = NoticeTaken
			c.mu.Unlock()
			c.render()
			c.scheduleDismiss()
			return err
		}
		c.state = StateOfferInput
		c.mu.Unlock()
		c.render()
		return err
	}
	c.state = StateAccepted
	c.takenWhileBusy = false
	c.mu.Unlock()
	c.render()
	c.after(c.cfg.AcceptedLinger, func() {
		if c.cfg.OnAccepted != nil {
			c.cfg.OnAccepted()
		}
		c.mu.Lock()
		c.state = StateDismissed
		c.mu.Unlock()
		c.fireDismiss()
	})
	return err
}

// Dismiss is the caregiver declining or closing the card.
func (c *Card) Dismiss() {
	c.mu.Lock()
	if c.state == StateDismissed || c.state == StateAccepted {
		c.mu.Unlock()
		return
	}
	c.state = StateDismissed
	c.mu.Unlock()
	c.render()
	c.scheduleDismiss()
}

// HandleEvent reacts to change events for this card's request. A status
// transition away from "live" force-dismisses from any state except a
// local submission or acceptance in flight, which suppresses the yank
// until that flow resolves.
func (c *Card) HandleEvent(ev models.RequestEvent) {
	if ev.ID != c.cfg.Request.ID {
		return
	}
	stillLive := ev.Type != models.EventDelete && ev.Request != nil && ev.Request.Live()
	if stillLive {
		return
	}
	c.mu.Lock()
	switch c.state {
	case StateSubmitting:
		c.takenWhileBusy = true
		c.mu.Unlock()
		return
	case StateAccepted, StateDismissed:
		c.mu.Unlock()
		return
	}
	c.state = StateDismissed
	c.notice = NoticeTaken
	c.mu.Unlock()
	c.render()
	c.scheduleDismiss()
}

// State returns the current state.
func (c *Card) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Remaining returns the countdown seconds left.
func (c *Card) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

func (c *Card) snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:      c.state,
		Request:    c.cfg.Request,
		Remaining:  c.remaining,
		Price:      c.price,
		ETAMinutes: c.etaMin,
		Notice:     c.notice,
	}
}

// render is the crash boundary: a panicking renderer results in the
// card rendering nothing and dismissing, never in the panic escaping.
func (c *Card) render() {
	if c.cfg.Renderer == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			c.cfg.Logger.Error("card render panic", "request", c.cfg.Request.ID, "error", rec)
			c.mu.Lock()
			c.state = StateDismissed
			c.mu.Unlock()
			c.fireDismiss()
		}
	}()
	c.cfg.Renderer.Render(c.snapshot())
}

func (c *Card) scheduleDismiss() {
	if c.cfg.ExitDuration > 0 {
		c.after(c.cfg.ExitDuration, c.fireDismiss)
		return
	}
	c.fireDismiss()
}

func (c *Card) fireDismiss() {
	c.dismissOnce.Do(func() {
		c.mu.Lock()
		for _, t := range c.exitTimers {
			t.Stop()
		}
		c.exitTimers = nil
		c.mu.Unlock()
		if c.cfg.OnDismiss != nil {
			c.cfg.OnDismiss()
		}
	})
}

func (c *Card) after(d time.Duration, fn func()) {
	if d <= 0 {
		fn()
		return
	}
	c.mu.Lock()
	c.exitTimers = append(c.exitTimers, time.AfterFunc(d, fn))
	c.mu.Unlock()
}
