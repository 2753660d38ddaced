package dispatch

import (
	"testing"

	"github.com/example/emergency-dispatch/internal/models"
)

type countingPush struct{ calls int }

func (c *countingPush) Notify(caregiverID string, ev models.RequestEvent) error {
	c.calls++
	return nil
}

func TestFanoutFallsBackWithoutSession(t *testing.T) {
	push := &countingPush{}
	f := &Fanout{WS: NewWSRegistry(nil), Push: push}
	ev := models.RequestEvent{Type: models.EventInsert, ID: "r1"}
	if err := f.Notify("c1", ev); err != nil {
		t.Fatalf("fallback should succeed: %v", err)
	}
	if push.calls != 1 {
		t.Fatalf("expected push fallback, got %d calls", push.calls)
	}
}

func TestRegistryNotifyNoSession(t *testing.T) {
	r := NewWSRegistry(nil)
	if err := r.Notify("missing", models.RequestEvent{}); err != ErrNoSession {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}
