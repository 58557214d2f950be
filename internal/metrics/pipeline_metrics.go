package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты цикла для метки result.
const (
	CycleOK          = "ok"
	CycleFetchFailed = "fetch_failed"
	CycleFatal       = "fatal"
	CycleSkipped     = "skipped"
)

// Исходы обработки заказа для метки outcome.
const (
	OrderProcessed    = "processed"
	OrderDuplicate    = "duplicate"
	OrderInvalid      = "invalid"
	OrderRenderFailed = "render_failed"
	OrderPanicked     = "panicked"
	OrderLedgerFailed = "ledger_failed"
)

// PipelineMetrics содержит метрики конвейера заказов.
// Нулевой указатель допустим: все методы становятся no-op.
type PipelineMetrics struct {
	cycles        *prometheus.CounterVec
	orders        *prometheus.CounterVec
	fetchAttempts *prometheus.CounterVec
	prints        *prometheus.CounterVec
	notifications *prometheus.CounterVec

	cycleDuration prometheus.Histogram
	stepDuration  *prometheus.HistogramVec

	ledgerSize      prometheus.Gauge
	deadLetters     prometheus.Gauge
	cycleInProgress prometheus.Gauge
	lastSuccess     prometheus.Gauge
}

// NewPipelineMetrics регистрирует метрики в глобальном registry.
func NewPipelineMetrics() *PipelineMetrics {
	return NewPipelineMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewPipelineMetricsWithRegisterer регистрирует метрики в переданном registry.
func NewPipelineMetricsWithRegisterer(registerer prometheus.Registerer) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &PipelineMetrics{
		cycles: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "invoicer_cycles_total",
			Help: "Total number of polling cycles grouped by result.",
		}, []string{"result"}),
		orders: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "invoicer_orders_total",
			Help: "Total number of fetched orders grouped by processing outcome.",
		}, []string{"outcome"}),
		fetchAttempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "invoicer_fetch_attempts_total",
			Help: "Total number of commerce API requests grouped by result.",
		}, []string{"result"}),
		prints: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "invoicer_print_jobs_total",
			Help: "Total number of print submissions grouped by result.",
		}, []string{"result"}),
		notifications: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "invoicer_notifications_total",
			Help: "Total number of notification deliveries grouped by channel and result.",
		}, []string{"channel", "result"}),
		cycleDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "invoicer_cycle_duration_seconds",
			Help:    "Duration of a full polling cycle in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "invoicer_step_duration_seconds",
			Help:    "Duration of individual pipeline steps in seconds.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"step"}),
		ledgerSize: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "invoicer_ledger_size",
			Help: "Number of order numbers recorded in the processed ledger.",
		}),
		deadLetters: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "invoicer_dead_letters",
			Help: "Number of orders currently failing to render.",
		}),
		cycleInProgress: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "invoicer_cycle_in_progress",
			Help: "1 while a polling cycle is running.",
		}),
		lastSuccess: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "invoicer_last_successful_cycle_timestamp_seconds",
			Help: "Unix time of the last cycle that fetched orders successfully.",
		}),
	}
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		return alreadyRegistered[*prometheus.CounterVec](err, opts.Name)
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		return alreadyRegistered[prometheus.Gauge](err, opts.Name)
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		return alreadyRegistered[prometheus.Histogram](err, opts.Name)
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		return alreadyRegistered[*prometheus.HistogramVec](err, opts.Name)
	}
	return collector
}

// alreadyRegistered возвращает ранее зарегистрированный коллектор того же типа
// и паникует при любой другой ошибке регистрации.
func alreadyRegistered[T any](err error, name string) T {
	are, ok := err.(prometheus.AlreadyRegisteredError)
	if !ok {
		panic(fmt.Sprintf("register collector %q: %v", name, err))
	}
	existing, ok := are.ExistingCollector.(T)
	if !ok {
		panic(fmt.Sprintf("collector %q already registered with unexpected type", name))
	}
	return existing
}

// RecordCycle учитывает завершённый цикл.
func (m *PipelineMetrics) RecordCycle(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
	if result == CycleSkipped {
		return
	}
	m.cycleDuration.Observe(duration.Seconds())
	if result == CycleOK {
		m.lastSuccess.SetToCurrentTime()
	}
}

// CycleStarted выставляет флаг активного цикла.
func (m *PipelineMetrics) CycleStarted() {
	if m == nil {
		return
	}
	m.cycleInProgress.Set(1)
}

// CycleFinished сбрасывает флаг активного цикла.
func (m *PipelineMetrics) CycleFinished() {
	if m == nil {
		return
	}
	m.cycleInProgress.Set(0)
}

// RecordOrder учитывает исход обработки одного заказа.
func (m *PipelineMetrics) RecordOrder(outcome string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(outcome).Inc()
}

// RecordFetchAttempt учитывает один запрос к commerce API.
func (m *PipelineMetrics) RecordFetchAttempt(result string) {
	if m == nil {
		return
	}
	m.fetchAttempts.WithLabelValues(result).Inc()
}

// RecordPrint учитывает отправку на печать.
func (m *PipelineMetrics) RecordPrint(result string) {
	if m == nil {
		return
	}
	m.prints.WithLabelValues(result).Inc()
}

// RecordNotification учитывает доставку уведомления по каналу.
func (m *PipelineMetrics) RecordNotification(channel, result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, result).Inc()
}

// RecordStepDuration записывает время выполнения шага.
func (m *PipelineMetrics) RecordStepDuration(step string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// SetLedgerSize обновляет размер журнала.
func (m *PipelineMetrics) SetLedgerSize(n int) {
	if m == nil {
		return
	}
	m.ledgerSize.Set(float64(n))
}

// SetDeadLetters обновляет количество заказов в dead-letter списке.
func (m *PipelineMetrics) SetDeadLetters(n int) {
	if m == nil {
		return
	}
	m.deadLetters.Set(float64(n))
}
