package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerMetrics captures sweep job health.
type SchedulerMetrics struct {
	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	jobErrors   *prometheus.CounterVec
	processed   *prometheus.CounterVec
	runLoopLag  prometheus.Histogram
}

func NewSchedulerMetrics(registerer prometheus.Registerer, cfg Config) *SchedulerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "seatbill"
	}
	constLabels := prometheus.Labels{"service": serviceName}

	m := &SchedulerMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "seatbill_scheduler_job_runs_total",
			Help:        "Scheduler job executions.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "seatbill_scheduler_job_duration_seconds",
			Help:        "Scheduler job duration.",
			ConstLabels: constLabels,
			Buckets:     []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60},
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "seatbill_scheduler_job_errors_total",
			Help:        "Scheduler job failures by reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "seatbill_scheduler_items_processed_total",
			Help:        "Rows handled by scheduler jobs.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		runLoopLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "seatbill_scheduler_run_loop_lag_seconds",
			Help:        "Delay between the planned and actual start of a scheduler pass.",
			ConstLabels: constLabels,
			Buckets:     []float64{0.1, 0.5, 1, 5, 15, 60},
		}),
	}
	for _, c := range []prometheus.Collector{m.jobRuns, m.jobDuration, m.jobErrors, m.processed, m.runLoopLag} {
		registerCollector(registerer, c)
	}
	return m
}

func (m *SchedulerMetrics) ObserveJob(job string, duration time.Duration, processed int, err error) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
	if processed > 0 {
		m.processed.WithLabelValues(job).Add(float64(processed))
	}
	if err != nil {
		m.jobErrors.WithLabelValues(job, ClassifyReason(err)).Inc()
	}
}

func (m *SchedulerMetrics) ObserveRunLoopLag(lag time.Duration) {
	if m == nil || lag <= 0 {
		return
	}
	m.runLoopLag.Observe(lag.Seconds())
}
