package cacheproxy

import "github.com/prometheus/client_golang/prometheus"

var (
	lookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheproxy_requests_total",
			Help: "Proxied requests by cache generation and outcome (hit, miss, bypass, error)",
		},
		[]string{"cache", "outcome"},
	)

	trimmedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheproxy_trimmed_total",
			Help: "Entries evicted by the runtime cache cap",
		},
		[]string{"cache"},
	)
)

func init() {
	prometheus.MustRegister(lookupsTotal, trimmedTotal)
}
