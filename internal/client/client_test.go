package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/example/emergency-dispatch/internal/card"
	"github.com/example/emergency-dispatch/internal/models"
	"github.com/example/emergency-dispatch/internal/offers"
)

func TestSubmitMapsDuplicateCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"code": "duplicate_offer", "error": "already sent"})
	}))
	defer srv.Close()

	c := New(srv.URL, "c1")
	_, err := c.Submit(context.Background(), offers.Submission{
		Request:     models.EmergencyRequest{ID: "r1"},
		CaregiverID: "c1",
		Price:       500,
		ETAMinutes:  20,
	})
	if !errors.Is(err, offers.ErrAlreadySubmitted) {
		t.Fatalf("expected ErrAlreadySubmitted, got %v", err)
	}
}

func TestSubmitValidatesBeforeNetwork(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ }))
	defer srv.Close()

	c := New(srv.URL, "c1")
	if _, err := c.Submit(context.Background(), offers.Submission{Request: models.EmergencyRequest{ID: "r1"}, ETAMinutes: 20}); !errors.Is(err, offers.ErrPriceRequired) {
		t.Fatalf("expected ErrPriceRequired, got %v", err)
	}
	if _, err := c.Submit(context.Background(), offers.Submission{Request: models.EmergencyRequest{ID: "r1"}, Price: 500}); !errors.Is(err, offers.ErrETARequired) {
		t.Fatalf("expected ErrETARequired, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("invalid submission must not reach the network, saw %d calls", calls)
	}
}

func TestCardConfirmWithoutPrefillStaysOffline(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ }))
	defer srv.Close()

	// no patient price, no profile fee, no distance: the card has
	// nothing to pre-fill, so a bare confirm must fail locally
	c := card.New(card.Config{
		Request:        models.EmergencyRequest{ID: "r1", Status: models.RequestLive},
		CaregiverID:    "c1",
		EnterDuration:  -1,
		ExitDuration:   -1,
		AcceptedLinger: -1,
		Submitter:      New(srv.URL, "c1"),
	})
	c.Mount()
	c.Accept()
	if err := c.Confirm(context.Background()); !errors.Is(err, offers.ErrPriceRequired) {
		t.Fatalf("expected ErrPriceRequired, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("empty confirm must stay offline, saw %d calls", calls)
	}
	if c.State() != card.StateOfferInput {
		t.Fatalf("failed confirm should return to offer input, got %v", c.State())
	}
}

func TestSubmitGenericFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "c1")
	_, err := c.Submit(context.Background(), offers.Submission{Request: models.EmergencyRequest{ID: "r1"}, Price: 500, ETAMinutes: 20})
	if err == nil || errors.Is(err, offers.ErrAlreadySubmitted) {
		t.Fatalf("expected generic error, got %v", err)
	}
}

func TestListLive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/requests/live" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"requests": []models.EmergencyRequest{{ID: "r1", Status: models.RequestLive}}})
	}))
	defer srv.Close()

	c := New(srv.URL, "c1")
	reqs, err := c.ListLive(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 1 || reqs[0].ID != "r1" {
		t.Fatalf("unexpected list: %+v", reqs)
	}
}
