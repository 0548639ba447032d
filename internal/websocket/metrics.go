package websocket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pairarb",
		Subsystem: "ws",
		Name:      "sessions",
		Help:      "Open /ws sessions",
	})

	booksSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pairarb",
		Subsystem: "ws",
		Name:      "books_sent_total",
		Help:      "Order book snapshots queued to sessions",
	})

	booksDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pairarb",
		Subsystem: "ws",
		Name:      "books_dropped_total",
		Help:      "Order book snapshots dropped because the session send buffer was full",
	})

	ordersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pairarb",
		Subsystem: "ws",
		Name:      "orders_total",
		Help:      "Orders received over /ws by kind and outcome",
	}, []string{"kind", "result"})
)
