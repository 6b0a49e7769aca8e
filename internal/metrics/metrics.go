// Package metrics — прометеевские метрики сервиса.
// Все методы безопасны для nil-получателя: компонент без метрик просто ничего не пишет.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pribylovaa/go-billing-auth/internal/apperr"
	"github.com/pribylovaa/go-billing-auth/internal/models"
)

const namespace = "billing_auth"

// Metrics — набор коллекторов сервиса.
type Metrics struct {
	operations  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	notify      *prometheus.CounterVec
	notifyQueue prometheus.Gauge
	ledger      *prometheus.GaugeVec
}

// New создаёт коллекторы и регистрирует их в reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Auth operations by result (ok or error kind).",
		}, []string{"op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Auth operation latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		notify: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Outbound notifications by template and result.",
		}, []string{"template", "result"}),
		notifyQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notification_queue_depth",
			Help:      "Notifications waiting for a worker.",
		}),
		ledger: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "refresh_tokens",
			Help:      "Refresh-token ledger entries by state.",
		}, []string{"state"}),
	}

	reg.MustRegister(m.operations, m.duration, m.notify, m.notifyQueue, m.ledger)

	return m
}

// ObserveOp учитывает завершение операции op.
func (m *Metrics) ObserveOp(op string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}

	result := "ok"
	if err != nil {
		result = apperr.KindOf(err).String()
	}

	m.operations.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// Notification учитывает исход отправки: sent, failed или dropped.
func (m *Metrics) Notification(template, result string) {
	if m == nil {
		return
	}

	m.notify.WithLabelValues(template, result).Inc()
}

// QueueDepth выставляет текущую длину очереди уведомлений.
func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}

	m.notifyQueue.Set(float64(n))
}

// SetLedger публикует срез реестра refresh-токенов.
func (m *Metrics) SetLedger(s models.LedgerStats) {
	if m == nil {
		return
	}

	m.ledger.WithLabelValues("active").Set(float64(s.Active))
	m.ledger.WithLabelValues("revoked").Set(float64(s.Revoked))
	m.ledger.WithLabelValues("expired").Set(float64(s.Expired))
}

// Handler отдаёт метрики из g в формате Prometheus.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
