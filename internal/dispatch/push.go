package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/example/emergency-dispatch/internal/models"
)

// FCMDispatcher posts request events to an FCM HTTPv1 endpoint for
// caregivers without a live socket.
type FCMDispatcher struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewFCMDispatcher(endpoint, key string) *FCMDispatcher {
	return &FCMDispatcher{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (f *FCMDispatcher) Notify(caregiverID string, ev models.RequestEvent) error {
	body := map[string]interface{}{"message": map[string]interface{}{
		"token": caregiverID,
		"data":  map[string]interface{}{"type": ev.Type, "request_id": ev.ID},
	}}
	b, _ := json.Marshal(body)
	req, err := http.NewRequest("POST", f.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if f.Key != "" {
		req.Header.Set("Authorization", "Bearer "+f.Key)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Fanout tries the caregiver's live socket first and falls back to
// push. Used for targeted notifies; broadcasts go straight to the hub.
type Fanout struct {
	WS   *WSRegistry
	Push Notifier
}

func (f *Fanout) Notify(caregiverID string, ev models.RequestEvent) error {
	err := f.WS.Notify(caregiverID, ev)
	if err == nil {
		return nil
	}
	var noSession *NoSessionError
	if errors.As(err, &noSession) && f.Push != nil {
		return f.Push.Notify(caregiverID, ev)
	}
	return err
}
