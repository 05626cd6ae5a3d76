// Package metrics содержит Prometheus метрики сервиса
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики движка рисков
// ============================================================
//
// Группы:
// - оценка политик (результаты, латентность снимков)
// - доставка уведомлений (по каналам и статусам, rate limit)
// - kill-switch агентов (остановки, телеметрия, pre-trade решения)
// - HTTP API

const namespace = "risksignal"

// ============ Оценка политик ============

// PolicyEvaluations - результаты оценки по типам политик
var PolicyEvaluations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "policy_evaluations_total",
		Help:      "Total number of policy evaluations by outcome",
	},
	[]string{"policy_type", "outcome"}, // outcome: violation, no_violation, evaluation_error
)

// SnapshotFetchLatency - время получения снимка у провайдера
var SnapshotFetchLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "snapshot_fetch_latency_ms",
		Help:      "Time to fetch an account snapshot in milliseconds",
		Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
	},
	[]string{"result"},
)

// SweepDuration - длительность полного прохода по политикам
var SweepDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "sweep_duration_seconds",
		Help:      "Duration of a full evaluation sweep in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	},
)

// RiskEventsCreated - созданные risk events по серьезности
var RiskEventsCreated = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "risk_events_created_total",
		Help:      "Total number of persisted risk events",
	},
	[]string{"event_type", "severity"},
)

// ============ Уведомления ============

// AlertDeliveries - попытки доставки по каналам
var AlertDeliveries = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alerts",
		Name:      "deliveries_total",
		Help:      "Total number of alert delivery attempts",
	},
	[]string{"channel", "status"},
)

// AlertsRateLimited - наборы уведомлений, подавленные rate limit
var AlertsRateLimited = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alerts",
		Name:      "rate_limited_total",
		Help:      "Total number of alert batches suppressed by the per-event rate limit",
	},
)

// RateLimitLookupErrors - ошибки проверки rate limit (fail-open)
var RateLimitLookupErrors = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alerts",
		Name:      "rate_limit_lookup_errors_total",
		Help:      "Rate-limit lookups that failed and were treated as not limited",
	},
)

// ============ Агенты ============

// AgentHalts - переходы kill-switch
var AgentHalts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "agents",
		Name:      "halt_transitions_total",
		Help:      "Total number of agent halt/resume transitions",
	},
	[]string{"action", "trigger"}, // trigger: manual, automatic
)

// TelemetryProcessed - обработанная телеметрия по ответу
var TelemetryProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "agents",
		Name:      "telemetry_total",
		Help:      "Total number of telemetry submissions by resulting status",
	},
	[]string{"status"},
)

// TradeValidations - решения pre-trade проверки
var TradeValidations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "agents",
		Name:      "trade_validations_total",
		Help:      "Total number of pre-trade validations by result",
	},
	[]string{"result"},
)

// ============ HTTP ============

// HTTPRequests - запросы к API
var HTTPRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests",
	},
	[]string{"method", "code"},
)

// HTTPLatency - время обработки запроса
var HTTPLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_latency_ms",
		Help:      "HTTP request latency in milliseconds",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	},
	[]string{"method"},
)

// WebSocketClients - подключенные клиенты живой ленты
var WebSocketClients = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ws",
		Name:      "clients",
		Help:      "Number of connected websocket clients",
	},
)

// ============ Хелперы ============

// RecordEvaluation записывает результат оценки
func RecordEvaluation(policyType, outcome string) {
	PolicyEvaluations.WithLabelValues(policyType, outcome).Inc()
}

// RecordSnapshotFetch записывает латентность получения снимка
func RecordSnapshotFetch(latencyMs float64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	SnapshotFetchLatency.WithLabelValues(result).Observe(latencyMs)
}

// RecordRiskEvent считает созданный risk event
func RecordRiskEvent(eventType, severity string) {
	RiskEventsCreated.WithLabelValues(eventType, severity).Inc()
}

// RecordAlertDelivery считает попытку доставки
func RecordAlertDelivery(channel, status string) {
	AlertDeliveries.WithLabelValues(channel, status).Inc()
}

// RecordHalt считает переход kill-switch
func RecordHalt(action string, automatic bool) {
	trigger := "manual"
	if automatic {
		trigger = "automatic"
	}
	AgentHalts.WithLabelValues(action, trigger).Inc()
}
