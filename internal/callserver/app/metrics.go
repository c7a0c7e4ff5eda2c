package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callsPublishedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "callbridge",
			Name:      "calls_published_total",
			Help:      "Total call-arrival events published to the hub.",
		},
	)

	callsDeliveredCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "callbridge",
			Name:      "calls_delivered_total",
			Help:      "Total per-subscriber deliveries of call-arrival events.",
		},
	)

	subscribersGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "callbridge",
			Name:      "hub_subscribers",
			Help:      "Number of currently registered hub subscribers.",
		},
	)

	subscribersEvictedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "callbridge",
			Name:      "hub_subscribers_evicted_total",
			Help:      "Subscribers removed because their delivery buffer was full.",
		},
	)
)
