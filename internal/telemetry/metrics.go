package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics — метрики движка Conveyor.
//
// Все методы безопасны на nil-приёмнике: компоненты принимают
// *Metrics опционально и зовут методы без проверки.
type Metrics struct {
	executionsTotal   *prometheus.CounterVec
	executionDuration prometheus.Histogram
	stepsTotal        *prometheus.CounterVec
	stepDuration      *prometheus.HistogramVec
	approvalsPending  prometheus.Gauge
}

// NewMetrics регистрирует метрики в реестре Prometheus по умолчанию.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith регистрирует метрики в заданном реестре
// (тесты используют свой, чтобы не конфликтовать с глобальным).
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		executionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "conveyor_executions_total",
			Help: "Workflow executions finished, by terminal status",
		}, []string{"status"}),
		executionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "conveyor_execution_duration_seconds",
			Help:    "Wall time of finished workflow executions",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		stepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "conveyor_steps_total",
			Help: "Steps finished, by type and terminal status",
		}, []string{"type", "status"}),
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "conveyor_step_duration_seconds",
			Help:    "Wall time of finished steps, by type",
			Buckets: prometheus.ExponentialBuckets(0.005, 4, 10),
		}, []string{"type"}),
		approvalsPending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "conveyor_approvals_pending",
			Help: "Approval requests awaiting a decision",
		}),
	}
}

// ObserveExecution учитывает завершённое выполнение.
func (m *Metrics) ObserveExecution(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.executionsTotal.WithLabelValues(status).Inc()
	m.executionDuration.Observe(d.Seconds())
}

// ObserveStep учитывает терминальный переход шага.
func (m *Metrics) ObserveStep(stepType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepsTotal.WithLabelValues(stepType, status).Inc()
	m.stepDuration.WithLabelValues(stepType).Observe(d.Seconds())
}

// SetApprovalsPending выставляет число нерешённых approval-запросов.
func (m *Metrics) SetApprovalsPending(n int) {
	if m == nil {
		return
	}
	m.approvalsPending.Set(float64(n))
}
