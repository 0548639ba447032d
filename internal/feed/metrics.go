package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pairarb",
		Subsystem: "feed",
		Name:      "subscriptions_active",
		Help:      "Number of open order book subscriptions",
	})

	booksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pairarb",
		Subsystem: "feed",
		Name:      "books_total",
		Help:      "Total number of order book snapshots received",
	})

	malformedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pairarb",
		Subsystem: "feed",
		Name:      "malformed_messages_total",
		Help:      "Total number of ignored feed messages",
	})

	reconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pairarb",
		Subsystem: "feed",
		Name:      "reconnects_total",
		Help:      "Total number of reconnect attempts",
	})
)
