package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/example/emergency-dispatch/internal/models"
)

// ErrDuplicateOffer marks the one-offer-per-(request, caregiver) rule.
// The rule itself lives in the storage layer (a unique constraint in
// Postgres, a map check here); callers branch on this sentinel instead
// of inspecting driver error codes.
var ErrDuplicateOffer = errors.New("offer already submitted for this request")

// ErrNotFound is returned for lookups of unknown rows.
var ErrNotFound = errors.New("not found")

// RequestStore defines persistence operations for emergency requests.
// The caregiver-facing flow only reads; status transitions come from
// the patient/admin side.
type RequestStore interface {
	SaveRequest(ctx context.Context, r *models.EmergencyRequest) error
	GetRequest(ctx context.Context, id string) (*models.EmergencyRequest, error)
	ListLive(ctx context.Context) ([]models.EmergencyRequest, error)
	SetStatus(ctx context.Context, id string, status models.RequestStatus) error
	DeleteRequest(ctx context.Context, id string) error
}

// OfferStore defines persistence operations for caregiver offers.
type OfferStore interface {
	SaveOffer(ctx context.Context, o *models.CaregiverOffer) error
	RequestIDsOffered(ctx context.Context, caregiverID string) ([]string, error)
	CaregiversFor(ctx context.Context, requestID string) ([]string, error)
}

// ProfileStore is read-only caregiver profile access.
type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (*models.CaregiverProfile, error)
}

type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*models.EmergencyRequest
	offers   map[string]*models.CaregiverOffer
	byPair   map[string]string // requestID|caregiverID -> offerID
	profiles map[string]*models.CaregiverProfile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]*models.EmergencyRequest),
		offers:   make(map[string]*models.CaregiverOffer),
		byPair:   make(map[string]string),
		profiles: make(map[string]*models.CaregiverProfile),
	}
}

func (m *MemoryStore) SaveRequest(_ context.Context, r *models.EmergencyRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRequest(_ context.Context, id string) (*models.EmergencyRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ListLive(_ context.Context) ([]models.EmergencyRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.EmergencyRequest, 0, len(m.requests))
	for _, r := range m.requests {
		if r.Status == models.RequestLive {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *MemoryStore) SetStatus(_ context.Context, id string, status models.RequestStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = status
	return nil
}

func (m *MemoryStore) DeleteRequest(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[id]; !ok {
		return ErrNotFound
	}
	delete(m.requests, id)
	return nil
}

func (m *MemoryStore) SaveOffer(_ context.Context, o *models.CaregiverOffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pair := o.RequestID + "|" + o.CaregiverID
	if _, exists := m.byPair[pair]; exists {
		return ErrDuplicateOffer
	}
	cp := *o
	m.offers[o.ID] = &cp
	m.byPair[pair] = o.ID
	return nil
}

func (m *MemoryStore) RequestIDsOffered(_ context.Context, caregiverID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, o := range m.offers {
		if o.CaregiverID == caregiverID {
			out = append(out, o.RequestID)
		}
	}
	return out, nil
}

func (m *MemoryStore) CaregiversFor(_ context.Context, requestID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, o := range m.offers {
		if o.RequestID == requestID {
			out = append(out, o.CaregiverID)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetProfile(_ context.Context, id string) (*models.CaregiverProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// PutProfile seeds a profile; used by tests and local runs.
func (m *MemoryStore) PutProfile(p *models.CaregiverProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.profiles[p.ID] = &cp
}
