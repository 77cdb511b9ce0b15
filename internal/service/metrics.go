package service

import "github.com/prometheus/client_golang/prometheus"

var (
	resolutionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "facade_reads_total",
			Help: "Reads by resource and the source that answered (network, store, none)",
		},
		[]string{"resource", "source"},
	)

	pendingReviews = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "facade_pending_reviews",
			Help: "Reviews waiting in the local queue",
		},
	)

	flushedReviewsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "facade_flushed_reviews_total",
			Help: "Queued reviews processed by flushes, by outcome (posted, requeued, dropped, rejected)",
		},
		[]string{"outcome"},
	)

	apiOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "restaurant_api_online",
			Help: "1 while the restaurant API answers probes",
		},
	)
)

func init() {
	prometheus.MustRegister(resolutionTotal, pendingReviews, flushedReviewsTotal, apiOnline)
}
