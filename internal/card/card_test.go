package card

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/emergency-dispatch/internal/models"
	"github.com/example/emergency-dispatch/internal/offers"
)

type stubSubmitter struct {
	err     error
	calls   int
	during  func() // runs while the submission is in flight
	lastSub offers.Submission
}

func (s *stubSubmitter) Submit(ctx context.Context, sub offers.Submission) (*models.CaregiverOffer, error) {
	s.calls++
	s.lastSub = sub
	if s.during != nil {
		s.during()
	}
	if s.err != nil {
		return nil, s.err
	}
	return &models.CaregiverOffer{ID: "o1", RequestID: sub.Request.ID}, nil
}

type nopRenderer struct{}

func (nopRenderer) Render(Snapshot) {}

type panicRenderer struct{}

func (panicRenderer) Render(Snapshot) { panic("render broke") }

func testConfig(sub Submitter) Config {
	price := int64(800)
	return Config{
		Request:         models.EmergencyRequest{ID: "r1", Status: models.RequestLive, OfferedPrice: &price},
		CaregiverID:     "c1",
		AutoHideSeconds: 45,
		EnterDuration:   -1,
		ExitDuration:    -1,
		AcceptedLinger:  -1,
		Submitter:       sub,
		Renderer:        nopRenderer{},
	}
}

func TestCountdownPausesDuringOfferInput(t *testing.T) {
	c := New(testConfig(&stubSubmitter{}))
	c.Mount()
	for i := 0; i < 10; i++ {
		c.tick()
	}
	if c.Remaining() != 35 {
		t.Fatalf("expected 35 remaining, got %d", c.Remaining())
	}
	c.Accept()
	for i := 0; i < 20; i++ {
		c.tick()
	}
	if c.Remaining() != 35 {
		t.Fatalf("countdown must freeze in offer input, got %d", c.Remaining())
	}
	c.Back()
	c.tick()
	if c.Remaining() != 34 {
		t.Fatalf("countdown should resume from pause point, got %d", c.Remaining())
	}
}

func TestCountdownZeroDismisses(t *testing.T) {
	dismissed := false
	cfg := testConfig(&stubSubmitter{})
	cfg.AutoHideSeconds = 2
	cfg.OnDismiss = func() { dismissed = true }
	c := New(cfg)
	c.Mount()
	c.tick()
	if done := c.tick(); !done {
		t.Fatal("tick reaching zero should finish the card")
	}
	if c.State() != StateDismissed || !dismissed {
		t.Fatalf("expected dismissal, state=%v fired=%v", c.State(), dismissed)
	}
}

func TestAcceptPrefillsPriceAndETA(t *testing.T) {
	cfg := testConfig(&stubSubmitter{})
	d := 5.0
	cfg.DistanceKm = &d
	c := New(cfg)
	c.Mount()
	c.Accept()
	snap := c.snapshot()
	if snap.Price != 800 {
		t.Fatalf("expected patient price prefill, got %d", snap.Price)
	}
	if snap.ETAMinutes != 15 {
		t.Fatalf("expected 15 minute prefill at 3 min/km, got %d", snap.ETAMinutes)
	}
}

func TestAcceptPrefillsDefaultFeeWithoutPatientPrice(t *testing.T) {
	cfg := testConfig(&stubSubmitter{})
	cfg.Request.OfferedPrice = nil
	cfg.DefaultFee = 600
	c := New(cfg)
	c.Mount()
	c.Accept()
	if snap := c.snapshot(); snap.Price != 600 {
		t.Fatalf("expected profile fee prefill, got %d", snap.Price)
	}
}

func TestConfirmSuccessAcceptsAndDismisses(t *testing.T) {
	sub := &stubSubmitter{}
	var accepted, dismissed bool
	cfg := testConfig(sub)
	cfg.OnAccepted = func() { accepted = true }
	cfg.OnDismiss = func() { dismissed = true }
	c := New(cfg)
	c.Mount()
	c.Accept()
	c.SetInput(900, 20, "on my way")
	if err := c.Confirm(context.Background()); err != nil {
		t.Fatal(err)
	}
	if sub.lastSub.Price != 900 || sub.lastSub.ETAMinutes != 20 {
		t.Fatalf("submission carried wrong fields: %+v", sub.lastSub)
	}
	if !accepted || !dismissed {
		t.Fatalf("expected both callbacks, accepted=%v dismissed=%v", accepted, dismissed)
	}
}

func TestConfirmFailureReturnsToOfferInput(t *testing.T) {
	sub := &stubSubmitter{err: errors.New("boom")}
	c := New(testConfig(sub))
	c.Mount()
	c.Accept()
	c.SetInput(900, 20, "")
	if err := c.Confirm(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if c.State() != StateOfferInput {
		t.Fatalf("expected return to offer input, got %v", c.State())
	}
}

func TestExternalStatusChangeForceDismisses(t *testing.T) {
	dismissed := false
	cfg := testConfig(&stubSubmitter{})
	cfg.OnDismiss = func() { dismissed = true }
	c := New(cfg)
	c.Mount()
	c.Accept() // offer input does not protect against the yank
	matched := cfg.Request
	matched.Status = models.RequestMatched
	c.HandleEvent(models.RequestEvent{Type: models.EventUpdate, Request: &matched, ID: "r1"})
	if c.State() != StateDismissed || !dismissed {
		t.Fatalf("expected force dismiss, state=%v fired=%v", c.State(), dismissed)
	}
}

func TestExternalEventForOtherRequestIgnored(t *testing.T) {
	c := New(testConfig(&stubSubmitter{}))
	c.Mount()
	other := models.EmergencyRequest{ID: "r2", Status: models.RequestMatched}
	c.HandleEvent(models.RequestEvent{Type: models.EventUpdate, Request: &other, ID: "r2"})
	if c.State() != StateCounting {
		t.Fatalf("unrelated event must not dismiss, got %v", c.State())
	}
}

func TestTakenDuringSubmissionSuppressedUntilResolved(t *testing.T) {
	var c *Card
	sub := &stubSubmitter{}
	matched := models.EmergencyRequest{ID: "r1", Status: models.RequestMatched}
	sub.during = func() {
		c.HandleEvent(models.RequestEvent{Type: models.EventUpdate, Request: &matched, ID: "r1"})
		if c.State() != StateSubmitting {
			t.Fatalf("taken event must not yank an in-flight submission, got %v", c.State())
		}
	}
	c = New(testConfig(sub))
	c.Mount()
	c.Accept()
	c.SetInput(900, 20, "")
	if err := c.Confirm(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.State() != StateDismissed {
		t.Fatalf("expected accepted flow to finish with dismissal, got %v", c.State())
	}
}

func TestTakenDuringFailedSubmissionDismissesAfterResolve(t *testing.T) {
	var c *Card
	sub := &stubSubmitter{err: errors.New("boom")}
	matched := models.EmergencyRequest{ID: "r1", Status: models.RequestMatched}
	sub.during = func() {
		c.HandleEvent(models.RequestEvent{Type: models.EventUpdate, Request: &matched, ID: "r1"})
	}
	dismissed := false
	cfg := testConfig(sub)
	cfg.OnDismiss = func() { dismissed = true }
	c = New(cfg)
	c.Mount()
	c.Accept()
	c.SetInput(900, 20, "")
	_ = c.Confirm(context.Background())
	if c.State() != StateDismissed || !dismissed {
		t.Fatalf("failed submission on a dead request should dismiss, state=%v", c.State())
	}
}

func TestRenderPanicContained(t *testing.T) {
	dismissed := false
	cfg := testConfig(&stubSubmitter{})
	cfg.Renderer = panicRenderer{}
	cfg.OnDismiss = func() { dismissed = true }
	c := New(cfg)
	defer func() {
		if rec := recover(); rec != nil {
			t.Fatalf("panic escaped the boundary: %v", rec)
		}
	}()
	c.Mount()
	if !dismissed {
		t.Fatal("render failure should still fire the dismiss callback")
	}
	if c.State() != StateDismissed {
		t.Fatalf("expected dismissed, got %v", c.State())
	}
}

func TestDismissStopsPendingTimers(t *testing.T) {
	cfg := testConfig(&stubSubmitter{})
	cfg.ExitDuration = time.Millisecond
	fired := make(chan struct{})
	cfg.OnDismiss = func() { close(fired) }
	c := New(cfg)
	c.Mount()
	c.Dismiss()
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("dismiss callback never fired")
	}
	c.mu.Lock()
	pending := len(c.exitTimers)
	c.mu.Unlock()
	if pending != 0 {
		t.Fatalf("dismissal should clear pending timers, have %d", pending)
	}
}

func TestDismissCallbackFiresOnce(t *testing.T) {
	fired := 0
	cfg := testConfig(&stubSubmitter{})
	cfg.OnDismiss = func() { fired++ }
	c := New(cfg)
	c.Mount()
	c.Dismiss()
	c.Dismiss()
	matched := models.EmergencyRequest{ID: "r1", Status: models.RequestMatched}
	c.HandleEvent(models.RequestEvent{Type: models.EventUpdate, Request: &matched, ID: "r1"})
	if fired != 1 {
		t.Fatalf("dismiss callback fired %d times", fired)
	}
}
