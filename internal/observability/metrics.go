package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsLive     = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "emergency_dispatch", Name: "requests_live", Help: "Live emergency requests"})
	RequestsCreated  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "emergency_dispatch", Name: "requests_created_total", Help: "Total emergency requests created"})
	OffersSubmitted  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "emergency_dispatch", Name: "offers_submitted_total", Help: "Total caregiver offers accepted for persistence"})
	OffersDuplicate  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "emergency_dispatch", Name: "offers_duplicate_total", Help: "Offer submissions rejected by the uniqueness rule"})
	LocationsTracked = promauto.NewCounter(prometheus.CounterOpts{Namespace: "emergency_dispatch", Name: "caregiver_locations_total", Help: "Caregiver location reports ingested"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "emergency_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "emergency_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
