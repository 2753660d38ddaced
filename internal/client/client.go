// Package client is the typed contract against the dispatch server:
// list live requests, submit an offer, check existing offers, and a
// change-event subscription.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/emergency-dispatch/internal/models"
	"github.com/example/emergency-dispatch/internal/offers"
)

type Client struct {
	BaseURL     string
	CaregiverID string
	HTTP        *http.Client
	Dialer      *websocket.Dialer
}

func New(baseURL, caregiverID string) *Client {
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		CaregiverID: caregiverID,
		HTTP:        &http.Client{Timeout: 10 * time.Second},
		Dialer:      websocket.DefaultDialer,
	}
}

func (c *Client) ListLive(ctx context.Context) ([]models.EmergencyRequest, error) {
	var out struct {
		Requests []models.EmergencyRequest `json:"requests"`
	}
	if err := c.getJSON(ctx, "/api/v1/requests/live", &out); err != nil {
		return nil, err
	}
	return out.Requests, nil
}

func (c *Client) OfferedRequestIDs(ctx context.Context, caregiverID string) ([]string, error) {
	var out struct {
		RequestIDs []string `json:"request_ids"`
	}
	if err := c.getJSON(ctx, "/api/v1/offers?caregiver_id="+caregiverID, &out); err != nil {
		return nil, err
	}
	return out.RequestIDs, nil
}

// Profile fetches this caregiver's profile.
func (c *Client) Profile(ctx context.Context) (*models.CaregiverProfile, error) {
	var p models.CaregiverProfile
	if err := c.getJSON(ctx, "/api/v1/caregivers/"+c.CaregiverID+"/profile", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Subscribe opens the caregiver's event socket. The returned cancel
// func closes the connection, which also closes the channel.
func (c *Client) Subscribe(ctx context.Context) (<-chan models.RequestEvent, func(), error) {
	url := wsURL(c.BaseURL) + "/ws/" + c.CaregiverID
	conn, resp, err := c.Dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe: %w", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	events := make(chan models.RequestEvent)
	go func() {
		defer close(events)
		for {
			var ev models.RequestEvent
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, func() { _ = conn.Close() }, nil
}

// Submit sends a caregiver offer; the duplicate conflict comes back as
// offers.ErrAlreadySubmitted so callers keep a single error to branch
// on regardless of transport.
func (c *Client) Submit(ctx context.Context, sub offers.Submission) (*models.CaregiverOffer, error) {
	// same gate as the server-side flow; an invalid submission never
	// reaches the network
	if sub.Price <= 0 {
		return nil, offers.ErrPriceRequired
	}
	if sub.ETAMinutes <= 0 {
		return nil, offers.ErrETARequired
	}
	payload := map[string]any{
		"request_id":   sub.Request.ID,
		"caregiver_id": sub.CaregiverID,
		"price":        sub.Price,
		"eta_minutes":  sub.ETAMinutes,
		"message":      sub.Message,
	}
	b, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/v1/offers", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusCreated {
		var offer models.CaregiverOffer
		if err := json.NewDecoder(resp.Body).Decode(&offer); err != nil {
			return nil, err
		}
		return &offer, nil
	}
	var apiErr struct {
		Code  string `json:"code"`
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&apiErr)
	if apiErr.Code == "duplicate_offer" {
		return nil, offers.ErrAlreadySubmitted
	}
	return nil, fmt.Errorf("submit offer: status %d: %s", resp.StatusCode, apiErr.Error)
}

// ReportLocation pushes the device position to the server.
func (c *Client) ReportLocation(ctx context.Context, loc models.CaregiverLocation) error {
	b, _ := json.Marshal(loc)
	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/internal/caregiver/locations", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("report location: status %d", resp.StatusCode)
	}
	return nil
}

// AlertTone fetches the synthesized cue.
func (c *Client) AlertTone(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/api/v1/alert-tone", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func wsURL(base string) string {
	if strings.HasPrefix(base, "https://") {
		return "wss://" + strings.TrimPrefix(base, "https://")
	}
	return "ws://" + strings.TrimPrefix(base, "http://")
}
