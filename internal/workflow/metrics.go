package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько заняла операция сервиса целиком (lock + engine + store)
	OperationDuration *prometheus.HistogramVec

	// Traffic: успешные переходы по видам документов
	TransitionsTotal *prometheus.CounterVec

	// Errors: классификация отказов по виду ошибки
	ErrorTotal *prometheus.CounterVec

	// Saturation: состояние предохранителя хранилища вложений (0 - ок, 1 - выбило)
	CircuitBreakerState *prometheus.GaugeVec

	// Вложения: результат выгрузки (inline, deferred) и очередь отложенных
	AttachmentUploads *prometheus.CounterVec
	DeferredPending   prometheus.Gauge

	// Уведомления, которые не удалось отправить
	NotifyFailures prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		OperationDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "approvals_operation_duration_seconds",
			Help:    "Histogram of workflow operation latencies.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"operation", "status"}),

		TransitionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "approvals_transitions_total",
			Help: "Total number of committed workflow transitions.",
		}, []string{"document_type", "event"}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "approvals_errors_total",
			Help: "Total number of rejected operations by error kind.",
		}, []string{"kind"}), // NotAuthorized, StaleTransition, ...

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "approvals_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=open).",
		}, []string{"store"}),

		AttachmentUploads: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "approvals_attachment_uploads_total",
			Help: "Attachment uploads by path and result.",
		}, []string{"path", "result"}), // path: direct, queued, inline, deferred

		DeferredPending: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "approvals_deferred_uploads_pending",
			Help: "Current number of uploads waiting in the deferred linker.",
		}),

		NotifyFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "approvals_notify_failures_total",
			Help: "Transition notices that could not be published.",
		}),
	}
}

// BreakerStateHook подключается к attachments.ReliabilityConfig.OnStateChange.
func (m *Metrics) BreakerStateHook(name string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(v)
}

// DeferredResultHook строит callback для attachments.DeferredLinker.OnResult.
func (m *Metrics) DeferredResultHook(pending func() int64) func(ok bool) {
	return func(ok bool) {
		m.AttachmentUploads.WithLabelValues("deferred", result(ok)).Inc()
		m.DeferredPending.Set(float64(pending()))
	}
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
