package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchesTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_matching", Name: "matches_total", Help: "Total number of matched ride requests"})
	NoSupplyTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_matching", Name: "no_supply_total", Help: "Ride requests with no claimable driver in range"})
	MatchLatency  = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "ride_matching", Name: "match_latency_seconds", Help: "Match latency seconds"})

	SurgeMultiplier = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ride_matching",
		Name:      "surge_multiplier",
		Help:      "Surge multiplier applied to matched rides",
		Buckets:   []float64{1.0, 1.2, 1.5, 2.0},
	})
	GeocodeFallbacks = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_matching", Name: "geocode_fallbacks_total", Help: "Requests served with fallback coordinates after a geocoder failure"})
	ClaimConflicts   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_matching", Name: "claim_conflicts_total", Help: "Candidate drivers skipped because another rider held the lease"})

	BroadcastFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_matching", Name: "broadcast_failures_total", Help: "Ride update deliveries that failed per sink"},
		[]string{"sink"},
	)
	WSSubscribers = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_matching", Name: "ws_subscribers", Help: "Connected ride update subscribers"})
	WSDropped     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_matching", Name: "ws_dropped_total", Help: "Subscribers dropped for not keeping up"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_matching", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_matching",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
