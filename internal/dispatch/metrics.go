package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tripRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_trip_requests_total",
		Help: "Trip requests received from passengers.",
	})

	offersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_offers_total",
		Help: "Offers pushed to drivers across all waves.",
	})

	wavesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_waves_total",
		Help: "Offer waves started, by wave number.",
	}, []string{"wave"})

	matchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_matches_total",
		Help: "Trips matched to a driver.",
	})

	lockConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_lock_conflicts_total",
		Help: "Accept attempts rejected because another driver held the trip lock.",
	})

	noDriversTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_no_drivers_total",
		Help: "Trip searches exhausted without a driver.",
	})

	declinesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_declines_total",
		Help: "Offer declines received from drivers.",
	})

	matchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_match_latency_seconds",
		Help:    "Time from trip request to driver match.",
		Buckets: []float64{1, 5, 10, 30, 60, 90, 120, 180},
	})
)
