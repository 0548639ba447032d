package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pairarb",
		Subsystem: "dispatch",
		Name:      "requests_total",
		Help:      "Total number of requests written to the dispatch channel",
	})

	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pairarb",
		Subsystem: "dispatch",
		Name:      "requests_dropped_total",
		Help:      "Requests dropped because the channel could not be opened or the outbox was full",
	})

	connectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pairarb",
		Subsystem: "dispatch",
		Name:      "connects_total",
		Help:      "Total number of successful channel opens",
	})

	transportErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pairarb",
		Subsystem: "dispatch",
		Name:      "transport_errors_total",
		Help:      "Total number of transport failures on an open channel",
	})

	repliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pairarb",
		Subsystem: "dispatch",
		Name:      "replies_total",
		Help:      "Inbound messages by type",
	}, []string{"type"})
)
