package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики движка сигналов
// ============================================================

// TriggerToReplyLatency - время от срабатывания до ответа на парную заявку
var TriggerToReplyLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "pairarb",
		Subsystem: "engine",
		Name:      "trigger_to_reply_latency_ms",
		Help:      "Latency from trigger to pair order reply in milliseconds",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	},
)

// BookApplyLatency - время от получения снимка до пересчёта строки
var BookApplyLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "pairarb",
		Subsystem: "engine",
		Name:      "book_apply_latency_ms",
		Help:      "Time from order book receipt to row recalculation in milliseconds",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 50},
	},
)

// EventsProcessed - обработанные события по типам
var EventsProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "pairarb",
		Subsystem: "engine",
		Name:      "events_processed_total",
		Help:      "Total number of processed engine events",
	},
	[]string{"type"}, // book, reply, command
)

// TriggersTotal - срабатывания условия (отправленные парные заявки)
var TriggersTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "pairarb",
		Subsystem: "engine",
		Name:      "triggers_total",
		Help:      "Total number of fired triggers",
	},
	[]string{"result"}, // dispatched, dispatch_failed, unresolved
)

// RepliesTotal - ответы на парные заявки
var RepliesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "pairarb",
		Subsystem: "engine",
		Name:      "replies_total",
		Help:      "Total number of pair order replies",
	},
	[]string{"result"}, // ok, failed, unknown_row
)

// StateTransitions - переходы состояний строк
var StateTransitions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "pairarb",
		Subsystem: "engine",
		Name:      "state_transitions_total",
		Help:      "Row state transitions",
	},
	[]string{"from", "to"},
)

// ArmedRows - количество взведённых строк
var ArmedRows = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "pairarb",
		Subsystem: "engine",
		Name:      "armed_rows",
		Help:      "Number of armed rows",
	},
)
