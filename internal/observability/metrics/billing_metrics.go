package metrics

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/seatbill/pkg/errkind"
)

const (
	ReasonDeadlineExceeded     = "deadline_exceeded"
	ReasonDBLockTimeout        = "db_lock_timeout"
	ReasonSerializationFailure = "serialization_failure"
	ReasonUniqueViolation      = "unique_violation"
	ReasonUnknown              = "unknown"
)

const (
	CycleOutcomeCreated  = "created"
	CycleOutcomeExisting = "existing"

	AdjustmentCreated   = "created"
	AdjustmentMerged    = "merged"
	AdjustmentConfirmed = "confirmed"
	AdjustmentCancelled = "cancelled"

	LeaveAccepted = "accepted"
	LeaveRejected = "rejected"
)

// BillingMetrics exposes prometheus collectors for the billing engine and
// mirrors the headline events to the OTLP meter when one is configured.
type BillingMetrics struct {
	cyclesGenerated    *prometheus.CounterVec
	adjustments        *prometheus.CounterVec
	paymentTransitions *prometheus.CounterVec
	operationErrors    *prometheus.CounterVec
	leaveDeclarations  *prometheus.CounterVec
	seatClassification *prometheus.GaugeVec

	otel *Metrics
}

func NewBillingMetrics(registerer prometheus.Registerer, cfg Config, otelMetrics *Metrics) *BillingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "seatbill"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &BillingMetrics{
		cyclesGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "seatbill_billing_cycles_generated_total",
			Help:        "Billing cycle generation calls by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		adjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "seatbill_adjustments_total",
			Help:        "License adjustment lifecycle actions.",
			ConstLabels: constLabels,
		}, []string{"action"}),
		paymentTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "seatbill_payment_transitions_total",
			Help:        "Payment transaction state transitions.",
			ConstLabels: constLabels,
		}, []string{"from", "to"}),
		operationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "seatbill_operation_errors_total",
			Help:        "Billing operation failures by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"operation", "reason"}),
		leaveDeclarations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "seatbill_leave_declarations_total",
			Help:        "Long-leave declarations by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		seatClassification: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "seatbill_seat_classification",
			Help:        "Seats per derived billing classification at the last summary.",
			ConstLabels: constLabels,
		}, []string{"classification"}),
		otel: otelMetrics,
	}

	for _, c := range []prometheus.Collector{
		m.cyclesGenerated,
		m.adjustments,
		m.paymentTransitions,
		m.operationErrors,
		m.leaveDeclarations,
		m.seatClassification,
	} {
		registerCollector(registerer, c)
	}
	return m
}

// registerCollector tolerates re-registration so repeated fx graphs share collectors.
func registerCollector(registerer prometheus.Registerer, c prometheus.Collector) {
	if err := registerer.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return
		}
		panic(err)
	}
}

func (m *BillingMetrics) ObserveCycleGenerated(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.cyclesGenerated.WithLabelValues(outcome).Inc()
	if outcome == CycleOutcomeCreated {
		m.otel.RecordBillingEvent(ctx, "cycle_generated")
	}
}

func (m *BillingMetrics) ObserveAdjustment(ctx context.Context, action string) {
	if m == nil {
		return
	}
	m.adjustments.WithLabelValues(action).Inc()
	m.otel.RecordBillingEvent(ctx, "adjustment_"+action)
}

func (m *BillingMetrics) ObservePaymentTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.paymentTransitions.WithLabelValues(from, to).Inc()
	m.otel.RecordPaymentEvent(ctx, to)
}

func (m *BillingMetrics) ObserveBilledAmount(ctx context.Context, source string, amountUSD float64) {
	if m == nil {
		return
	}
	m.otel.RecordBilledAmount(ctx, source, amountUSD)
}

func (m *BillingMetrics) ObserveLeaveDeclaration(outcome string) {
	if m == nil {
		return
	}
	m.leaveDeclarations.WithLabelValues(outcome).Inc()
}

func (m *BillingMetrics) SetSeatClassification(classification string, count int) {
	if m == nil {
		return
	}
	m.seatClassification.WithLabelValues(classification).Set(float64(count))
}

func (m *BillingMetrics) ObserveError(operation string, err error) {
	if m == nil || err == nil {
		return
	}
	m.operationErrors.WithLabelValues(operation, ClassifyReason(err)).Inc()
}

// ClassifyReason maps an error to a bounded label value.
func ClassifyReason(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonDeadlineExceeded
	}
	if kind := errkind.KindOf(err); kind != nil {
		return kind.Name()
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03":
			return ReasonDBLockTimeout
		case "40001":
			return ReasonSerializationFailure
		case "23505":
			return ReasonUniqueViolation
		}
	}
	return ReasonUnknown
}
