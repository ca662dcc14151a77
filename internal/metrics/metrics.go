// metrics - Prometheus-коллекторы сервиса: исходы операций аутентификации,
// HTTP-трафик и работа janitor.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "taskboard_auth"

// Metrics хранит коллекторы. Nil-получатель допустим: все методы no-op.
type Metrics struct {
	authOps        *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	janitorDeleted prometheus.Counter
}

// New создаёт коллекторы и регистрирует их в reg.
// Повторная регистрация в том же реестре паникует (MustRegister).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		authOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_operations_total",
			Help:      "Auth operations by operation and result (ok or error kind).",
		}, []string{"operation", "result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		janitorDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "janitor_deleted_refresh_tokens_total",
			Help:      "Expired refresh tokens removed by the janitor.",
		}),
	}

	reg.MustRegister(m.authOps, m.httpRequests, m.httpDuration, m.janitorDeleted)

	return m
}

// ObserveAuth учитывает исход операции сервиса.
func (m *Metrics) ObserveAuth(operation, result string) {
	if m == nil {
		return
	}

	m.authOps.WithLabelValues(operation, result).Inc()
}

// ObserveHTTP учитывает завершённый HTTP-запрос.
func (m *Metrics) ObserveHTTP(method, route string, code int, d time.Duration) {
	if m == nil {
		return
	}

	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// AddJanitorDeleted учитывает удалённые janitor'ом токены.
func (m *Metrics) AddJanitorDeleted(n int64) {
	if m == nil || n <= 0 {
		return
	}

	m.janitorDeleted.Add(float64(n))
}
