package dispatch

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/emergency-dispatch/internal/models"
)

// Notifier delivers a request event to one caregiver.
type Notifier interface {
	Notify(caregiverID string, ev models.RequestEvent) error
}

// WSSession represents a connected caregiver session
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(ev models.RequestEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(ev)
}

// WSRegistry holds caregiver sessions and fans request events out to
// them. Sessions whose writes fail are dropped.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSRegistry{sessions: make(map[string]*WSSession), logger: logger}
}

func (r *WSRegistry) Add(caregiverID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[caregiverID]; ok {
		_ = old.conn.Close()
	}
	r.sessions[caregiverID] = &WSSession{conn: conn}
}

func (r *WSRegistry) Remove(caregiverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[caregiverID]; ok {
		_ = s.conn.Close()
		delete(r.sessions, caregiverID)
	}
}

// Has reports whether the caregiver currently holds a live session.
func (r *WSRegistry) Has(caregiverID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[caregiverID]
	return ok
}

func (r *WSRegistry) Notify(caregiverID string, ev models.RequestEvent) error {
	r.mu.RLock()
	s, ok := r.sessions[caregiverID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(ev); err != nil {
		r.logger.Warn("ws send failed", "caregiver", caregiverID, "error", err)
		r.Remove(caregiverID)
		return err
	}
	return nil
}

// Broadcast sends the event to every connected caregiver.
func (r *WSRegistry) Broadcast(ev models.RequestEvent) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	for _, id := range ids {
		_ = r.Notify(id, ev)
	}
}

var ErrNoSession = &NoSessionError{}

type NoSessionError struct{}

func (n *NoSessionError) Error() string { return "no ws session" }
