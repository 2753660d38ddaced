package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Urgency of an emergency request.
type Urgency string

const (
	UrgencyCritical  Urgency = "critical"
	UrgencyWithin1h  Urgency = "within_1_hour"
	UrgencyScheduled Urgency = "scheduled"
)

// RequestStatus of an emergency request. A request is actionable by
// caregivers only while status is "live".
type RequestStatus string

const (
	RequestLive      RequestStatus = "live"
	RequestMatched   RequestStatus = "matched"
	RequestCancelled RequestStatus = "cancelled"
	RequestExpired   RequestStatus = "expired"
)

// OfferStatus of a caregiver offer. Acceptance happens on the patient
// side; the caregiver flow only ever creates pending offers.
type OfferStatus string

const (
	OfferPending  OfferStatus = "pending"
	OfferAccepted OfferStatus = "accepted"
	OfferRejected OfferStatus = "rejected"
)

type EmergencyRequest struct {
	ID           string        `json:"id"`
	PatientName  string        `json:"patient_name"`
	Loc          Coord         `json:"loc"`
	Address      string        `json:"address"`
	City         string        `json:"city"`
	Services     []string      `json:"services"`
	Urgency      Urgency       `json:"urgency"`
	OfferedPrice *int64        `json:"offered_price,omitempty"`
	Notes        string        `json:"notes,omitempty"`
	Status       RequestStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Live reports whether caregivers may still act on the request.
func (r *EmergencyRequest) Live() bool { return r.Status == RequestLive }

type CaregiverOffer struct {
	ID          string      `json:"id"`
	RequestID   string      `json:"request_id"`
	CaregiverID string      `json:"caregiver_id"`
	Price       int64       `json:"price"`
	ETAMinutes  int         `json:"eta_minutes"`
	Message     string      `json:"message,omitempty"`
	Loc         *Coord      `json:"loc,omitempty"`
	DistanceKm  *float64    `json:"distance_km,omitempty"`
	Status      OfferStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
}

// CaregiverProfile is read-only from the dispatch flow's perspective; it
// gates feed visibility and pre-fills offer prices.
type CaregiverProfile struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Services    []string `json:"services"`
	MaxRadiusKm float64  `json:"max_radius_km"`
	City        string   `json:"city"`
	VisitFee    int64    `json:"visit_fee"`
}

// EventType for request collection change events.
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// RequestEvent is one change notification on the request collection.
// Delete events carry only the id.
type RequestEvent struct {
	Type    EventType         `json:"type"`
	Request *EmergencyRequest `json:"request,omitempty"`
	ID      string            `json:"id"`
}

// CaregiverLocation is a device position report.
type CaregiverLocation struct {
	CaregiverID string    `json:"caregiver_id"`
	Loc         Coord     `json:"loc"`
	Sharing     bool      `json:"sharing"`
	Reported    time.Time `json:"reported"`
}
