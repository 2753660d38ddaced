package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/emergency-dispatch/internal/audio"
	"github.com/example/emergency-dispatch/internal/config"
	"github.com/example/emergency-dispatch/internal/dispatch"
	"github.com/example/emergency-dispatch/internal/geo"
	"github.com/example/emergency-dispatch/internal/ingest"
	"github.com/example/emergency-dispatch/internal/locate"
	"github.com/example/emergency-dispatch/internal/models"
	"github.com/example/emergency-dispatch/internal/observability"
	"github.com/example/emergency-dispatch/internal/offers"
	"github.com/example/emergency-dispatch/internal/storage"
)

// Store is the persistence surface the handlers need.
type Store interface {
	storage.RequestStore
	storage.OfferStore
	storage.ProfileStore
}

type Server struct {
	Store   Store
	Geo     geo.Requests
	Flow    *offers.Flow
	Tracker locate.Tracker
	Kafka   *ingest.KafkaProducer
	Hub     *dispatch.WSRegistry
	Notify  dispatch.Notifier

	logger *slog.Logger
	mux    *mux.Router
}

// NewServer wires the server from config with in-memory fallbacks for
// every absent external dependency.
func NewServer(cfg config.ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	var store Store
	if cfg.PGDSN != "" {
		if ps, err := storage.NewPostgresStore(cfg.PGDSN); err == nil {
			store = ps
		} else {
			logger.Warn("postgres unavailable, using memory store", "error", err)
		}
	}
	if store == nil {
		store = storage.NewMemoryStore()
	}

	var tracker locate.Tracker
	if cfg.RedisAddr != "" {
		tracker = locate.NewRedisTracker(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey, cfg.LocationMaxAge)
	} else {
		tracker = locate.NewMemoryTracker(cfg.LocationMaxAge)
	}

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	hub := dispatch.NewWSRegistry(logger)
	fanout := &dispatch.Fanout{WS: hub}
	if cfg.FCMEndpoint != "" {
		fanout.Push = dispatch.NewFCMDispatcher(cfg.FCMEndpoint, cfg.FCMKey)
	}

	s := &Server{
		Store:   store,
		Geo:     geo.NewIndex(),
		Flow:    offers.NewFlow(store, tracker, logger),
		Tracker: tracker,
		Kafka:   kp,
		Hub:     hub,
		Notify:  fanout,
		logger:  logger,
		mux:     mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/requests", s.handleCreateRequest).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests/live", s.handleListLive).Methods("GET")
	s.mux.HandleFunc("/api/v1/requests/{id}/status", s.handleRequestStatus).Methods("PATCH")
	s.mux.HandleFunc("/api/v1/requests/{id}", s.handleDeleteRequest).Methods("DELETE")
	s.mux.HandleFunc("/api/v1/caregivers/{id}/profile", s.handleProfile).Methods("GET")
	s.mux.HandleFunc("/api/v1/offers", s.handleSubmitOffer).Methods("POST")
	s.mux.HandleFunc("/api/v1/offers", s.handleOffered).Methods("GET").Queries("caregiver_id", "{caregiver_id}")
	s.mux.HandleFunc("/api/v1/alert-tone", s.handleAlertTone).Methods("GET")
	s.mux.HandleFunc("/internal/caregiver/locations", s.handleLocation).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{caregiver_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// SeedLiveIndex loads currently live requests into the in-memory
// index, called once at startup so listings survive restarts.
func (s *Server) SeedLiveIndex(ctx context.Context) error {
	live, err := s.Store.ListLive(ctx)
	if err != nil {
		return err
	}
	for _, r := range live {
		s.Geo.Upsert(r)
	}
	observability.RequestsLive.Set(float64(len(live)))
	return nil
}

type createRequestPayload struct {
	PatientName  string         `json:"patient_name"`
	Loc          models.Coord   `json:"loc"`
	Address      string         `json:"address"`
	City         string         `json:"city"`
	Services     []string       `json:"services"`
	Urgency      models.Urgency `json:"urgency"`
	OfferedPrice *int64         `json:"offered_price"`
	Notes        string         `json:"notes"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var p createRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, 400, "bad_request", err.Error())
		return
	}
	if p.PatientName == "" || len(p.Services) == 0 {
		writeError(w, 422, "validation", "patient_name and services are required")
		return
	}
	switch p.Urgency {
	case models.UrgencyCritical, models.UrgencyWithin1h, models.UrgencyScheduled:
	default:
		writeError(w, 422, "validation", "unknown urgency")
		return
	}
	req := models.EmergencyRequest{
		ID:           uuid.NewString(),
		PatientName:  p.PatientName,
		Loc:          p.Loc,
		Address:      p.Address,
		City:         p.City,
		Services:     p.Services,
		Urgency:      p.Urgency,
		OfferedPrice: p.OfferedPrice,
		Notes:        p.Notes,
		Status:       models.RequestLive,
		CreatedAt:    time.Now(),
	}
	if err := s.Store.SaveRequest(r.Context(), &req); err != nil {
		s.logger.Error("save request failed", "error", err)
		writeError(w, 500, "internal", "failed to create request")
		return
	}
	observability.RequestsCreated.Inc()
	s.applyRequestChange(models.EventInsert, &req)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(201)
	json.NewEncoder(w).Encode(req)
}

func (s *Server) handleRequestStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var p struct {
		Status models.RequestStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, 400, "bad_request", err.Error())
		return
	}
	switch p.Status {
	case models.RequestLive, models.RequestMatched, models.RequestCancelled, models.RequestExpired:
	default:
		writeError(w, 422, "validation", "unknown status")
		return
	}
	if err := s.Store.SetStatus(r.Context(), id, p.Status); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, 404, "not_found", "unknown request")
			return
		}
		s.logger.Error("status update failed", "request", id, "error", err)
		writeError(w, 500, "internal", "failed to update status")
		return
	}
	req, err := s.Store.GetRequest(r.Context(), id)
	if err != nil {
		writeError(w, 500, "internal", "failed to load request")
		return
	}
	s.applyRequestChange(models.EventUpdate, req)
	if !req.Live() {
		s.notifyOfferers(r.Context(), models.RequestEvent{Type: models.EventUpdate, Request: req, ID: req.ID})
	}
	w.WriteHeader(204)
}

func (s *Server) handleDeleteRequest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.Store.DeleteRequest(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, 404, "not_found", "unknown request")
			return
		}
		s.logger.Error("delete request failed", "request", id, "error", err)
		writeError(w, 500, "internal", "failed to delete request")
		return
	}
	s.Geo.Remove(id)
	observability.RequestsLive.Set(float64(len(s.Geo.All())))
	s.Hub.Broadcast(models.RequestEvent{Type: models.EventDelete, ID: id})
	s.notifyOfferers(r.Context(), models.RequestEvent{Type: models.EventDelete, ID: id})
	w.WriteHeader(204)
}

// notifyOfferers delivers a closure event to every caregiver who has an
// offer on the request, falling back to push for those without a live
// socket. Best effort.
func (s *Server) notifyOfferers(ctx context.Context, ev models.RequestEvent) {
	if s.Notify == nil {
		return
	}
	ids, err := s.Store.CaregiversFor(ctx, ev.ID)
	if err != nil {
		s.logger.Warn("offerer lookup failed", "request", ev.ID, "error", err)
		return
	}
	for _, id := range ids {
		if s.Hub.Has(id) {
			continue // already reached by the broadcast
		}
		if err := s.Notify.Notify(id, ev); err != nil {
			s.logger.Debug("offerer notify failed", "request", ev.ID, "caregiver", id, "error", err)
		}
	}
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p, err := s.Store.GetProfile(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, 404, "not_found", "unknown caregiver")
			return
		}
		writeError(w, 500, "internal", "failed to load profile")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p)
}

func (s *Server) handleListLive(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var list []models.EmergencyRequest
	if q.Get("lat") != "" && q.Get("lon") != "" && q.Get("radius_km") != "" {
		lat, err1 := parseFloat(q.Get("lat"))
		lon, err2 := parseFloat(q.Get("lon"))
		radius, err3 := parseFloat(q.Get("radius_km"))
		if err1 != nil || err2 != nil || err3 != nil {
			writeError(w, 400, "bad_request", "lat, lon and radius_km must be numbers")
			return
		}
		list = s.Geo.Near(lat, lon, radius)
	} else {
		list = s.Geo.All()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"requests": list})
}

type submitOfferPayload struct {
	RequestID   string `json:"request_id"`
	CaregiverID string `json:"caregiver_id"`
	Price       int64  `json:"price"`
	ETAMinutes  int    `json:"eta_minutes"`
	Message     string `json:"message"`
}

func (s *Server) handleSubmitOffer(w http.ResponseWriter, r *http.Request) {
	var p submitOfferPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, 400, "bad_request", err.Error())
		return
	}
	req, err := s.Store.GetRequest(r.Context(), p.RequestID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, 404, "not_found", "unknown request")
			return
		}
		writeError(w, 500, "internal", "failed to load request")
		return
	}
	if !req.Live() {
		writeError(w, 410, "request_closed", "request is no longer available")
		return
	}

	offer, err := s.Flow.Submit(r.Context(), offers.Submission{
		Request:     *req,
		CaregiverID: p.CaregiverID,
		Price:       p.Price,
		ETAMinutes:  p.ETAMinutes,
		Message:     p.Message,
	})
	switch {
	case errors.Is(err, offers.ErrPriceRequired), errors.Is(err, offers.ErrETARequired):
		writeError(w, 422, "validation", err.Error())
		return
	case errors.Is(err, offers.ErrAlreadySubmitted):
		observability.OffersDuplicate.Inc()
		writeError(w, 409, "duplicate_offer", err.Error())
		return
	case err != nil:
		s.logger.Error("offer submission failed", "request", p.RequestID, "caregiver", p.CaregiverID, "error", err)
		writeError(w, 500, "internal", "failed to submit, try again")
		return
	}
	observability.OffersSubmitted.Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(201)
	json.NewEncoder(w).Encode(offer)
}

func (s *Server) handleOffered(w http.ResponseWriter, r *http.Request) {
	caregiverID := r.URL.Query().Get("caregiver_id")
	ids, err := s.Store.RequestIDsOffered(r.Context(), caregiverID)
	if err != nil {
		writeError(w, 500, "internal", "failed to list offers")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"request_ids": ids})
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	var loc models.CaregiverLocation
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		writeError(w, 400, "bad_request", err.Error())
		return
	}
	if loc.CaregiverID == "" {
		writeError(w, 422, "validation", "caregiver_id is required")
		return
	}
	if loc.Reported.IsZero() {
		loc.Reported = time.Now()
	}
	// publish to kafka if configured
	if s.Kafka != nil {
		_ = s.Kafka.PublishLocation(loc)
	}
	if err := s.Tracker.Report(r.Context(), loc); err != nil {
		s.logger.Warn("tracker report failed", "caregiver", loc.CaregiverID, "error", err)
	}
	observability.LocationsTracked.Inc()
	w.WriteHeader(204)
}

func (s *Server) handleAlertTone(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "audio/wav")
	w.Write(audio.Alert())
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["caregiver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", 400)
		return
	}
	s.Hub.Add(id, conn)
	// read until the peer goes away so the session is released
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.Hub.Remove(id)
				return
			}
		}
	}()
}

// applyRequestChange keeps the live index current and notifies every
// subscribed caregiver.
func (s *Server) applyRequestChange(t models.EventType, req *models.EmergencyRequest) {
	s.Geo.Upsert(*req)
	observability.RequestsLive.Set(float64(len(s.Geo.All())))
	s.Hub.Broadcast(models.RequestEvent{Type: t, Request: req, ID: req.ID})
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"code": code, "error": msg})
}

func parseFloat(s string) (float64, error) { return strconv.ParseFloat(s, 64) }

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
