// Package metrics содержит метрики Prometheus сервиса отслеживания заказов.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "order_tracker"

// Metrics объединяет счётчики синхронизатора. Методы безопасны для nil.
type Metrics struct {
	transitions    *prometheus.CounterVec
	refreshes      *prometheus.CounterVec
	unknownStatus  prometheus.Counter
	publishedEvent *prometheus.CounterVec
}

// New создаёт метрики и регистрирует их в reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Transition and payment requests by outcome.",
		}, []string{"outcome"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Tracking record refreshes by result.",
		}, []string{"result"}),
		unknownStatus: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unknown_status_total",
			Help:      "Statuses returned by the order service outside the vocabulary.",
		}),
		publishedEvent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_events_total",
			Help:      "Status change events by delivery result.",
		}, []string{"result"}),
	}

	reg.MustRegister(m.transitions, m.refreshes, m.unknownStatus, m.publishedEvent)
	return m
}

// ObserveTransition учитывает результат запроса на изменение.
func (m *Metrics) ObserveTransition(outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(outcome).Inc()
}

// ObserveRefresh учитывает чтение записи отслеживания.
func (m *Metrics) ObserveRefresh(ok bool) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result(ok)).Inc()
}

// ObserveUnknownStatus учитывает статус вне словаря.
func (m *Metrics) ObserveUnknownStatus() {
	if m == nil {
		return
	}
	m.unknownStatus.Inc()
}

// ObservePublish учитывает отправку события об изменении статуса.
func (m *Metrics) ObservePublish(ok bool) {
	if m == nil {
		return
	}
	m.publishedEvent.WithLabelValues(result(ok)).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
