package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	adjustmentdomain "github.com/smallbiznis/seatbill/internal/adjustment/domain"
	auditdomain "github.com/smallbiznis/seatbill/internal/audit/domain"
	billingcycledomain "github.com/smallbiznis/seatbill/internal/billingcycle/domain"
	"github.com/smallbiznis/seatbill/internal/clock"
	"github.com/smallbiznis/seatbill/internal/config"
	obsmetrics "github.com/smallbiznis/seatbill/internal/observability/metrics"
	"github.com/smallbiznis/seatbill/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/seatbill/internal/payment/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const tracerName = "seatbill/payment"

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	Policy         *config.BillingPolicyHolder
	Repo           paymentdomain.Repository
	References     paymentdomain.ReferenceGenerator
	CycleRepo      billingcycledomain.Repository
	AdjustmentRepo adjustmentdomain.Repository
	AuditSvc       auditdomain.Service
	Metrics        *obsmetrics.BillingMetrics `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	policy         *config.BillingPolicyHolder
	repo           paymentdomain.Repository
	references     paymentdomain.ReferenceGenerator
	cycleRepo      billingcycledomain.Repository
	adjustmentRepo adjustmentdomain.Repository
	auditSvc       auditdomain.Service
	metrics        *obsmetrics.BillingMetrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("payment.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		policy:         p.Policy,
		repo:           p.Repo,
		references:     p.References,
		cycleRepo:      p.CycleRepo,
		adjustmentRepo: p.AdjustmentRepo,
		auditSvc:       p.AuditSvc,
		metrics:        p.Metrics,
	}
}

// AsOpener narrows the service for components that only create transactions.
func AsOpener(s paymentdomain.Service) paymentdomain.Opener {
	return s
}

func (s *Service) Open(ctx context.Context, tx *gorm.DB, req paymentdomain.OpenRequest) (*paymentdomain.PaymentTransaction, error) {
	if req.AmountUSD.IsNegative() || req.AmountLocal.IsNegative() {
		return nil, paymentdomain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return nil, paymentdomain.ErrInvalidCurrency
	}
	method := strings.TrimSpace(req.PaymentMethod)
	if method == "" {
		return nil, paymentdomain.ErrInvalidPaymentMethod
	}
	attempt := req.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	reference, err := s.references.Next(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	txn := &paymentdomain.PaymentTransaction{
		ID:               s.genID.Generate(),
		TenantID:         req.TenantID,
		BillingCycleID:   req.BillingCycleID,
		AdjustmentID:     req.AdjustmentID,
		AmountUSD:        req.AmountUSD,
		AmountLocal:      req.AmountLocal,
		Currency:         currency,
		ExchangeRate:     req.ExchangeRate,
		PaymentMethod:    method,
		PaymentReference: reference,
		Status:           paymentdomain.StatusPending,
		Attempt:          attempt,
		SupersedesID:     req.SupersedesID,
		InitiatedAt:      now,
		UpdatedAt:        now,
	}
	if err := s.repo.Insert(ctx, tx, txn); err != nil {
		return nil, err
	}
	if err := s.audit(ctx, tx, txn, "payment.opened", map[string]any{
		"amount_usd": txn.AmountUSD.StringFixed(2),
		"attempt":    txn.Attempt,
	}); err != nil {
		return nil, err
	}
	return txn, nil
}

// CancelOpenForAdjustment cancels every PENDING or PROCESSING transaction of
// an adjustment being withdrawn.
func (s *Service) CancelOpenForAdjustment(ctx context.Context, tx *gorm.DB, adjustmentID snowflake.ID) error {
	open, err := s.repo.ListOpenByAdjustment(ctx, tx, adjustmentID)
	if err != nil {
		return err
	}
	now := s.clock.Now().UTC()
	for i := range open {
		txn := &open[i]
		ok, err := s.repo.Transition(ctx, tx, txn.ID, paymentdomain.StatusChange{
			From: txn.Status,
			To:   paymentdomain.StatusCancelled,
			At:   now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return paymentdomain.ErrInvalidTransition
		}
		if err := s.audit(ctx, tx, txn, "payment.cancelled", map[string]any{
			"from":   string(txn.Status),
			"reason": "adjustment_cancelled",
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*paymentdomain.PaymentTransaction, error) {
	txnID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	txn, err := s.repo.FindByID(ctx, s.db, txnID)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, paymentdomain.ErrNotFound
	}
	return txn, nil
}

func (s *Service) List(ctx context.Context, filter paymentdomain.ListFilter) ([]paymentdomain.PaymentTransaction, error) {
	return s.repo.List(ctx, s.db, filter)
}

func (s *Service) StartProcessing(ctx context.Context, id string) (*paymentdomain.PaymentTransaction, error) {
	return s.transition(ctx, id, paymentdomain.StatusProcessing, nil, s.holdAdjustment(ctx))
}

// holdAdjustment moves a PENDING adjustment to PROCESSING with its payment.
func (s *Service) holdAdjustment(ctx context.Context) cascade {
	return func(tx *gorm.DB, txn *paymentdomain.PaymentTransaction, now time.Time) error {
		_, err := s.adjustmentRepo.UpdateStatus(ctx, tx, txn.AdjustmentID,
			[]adjustmentdomain.PaymentStatus{adjustmentdomain.PaymentStatusPending},
			adjustmentdomain.PaymentStatusProcessing, now)
		return err
	}
}

// Complete settles the transaction, completes its adjustment and, for the
// cycle's baseline payment, marks the billing cycle PAID. An adjustment
// payment leaves the cycle as it is: the cycle total covers only the baseline
// charge, so paying a mid-period top-up does not settle it.
func (s *Service) Complete(ctx context.Context, id string) (*paymentdomain.PaymentTransaction, error) {
	return s.transition(ctx, id, paymentdomain.StatusCompleted, nil, s.settle(ctx))
}

func (s *Service) settle(ctx context.Context) cascade {
	return func(tx *gorm.DB, txn *paymentdomain.PaymentTransaction, now time.Time) error {
		adjustment, err := s.adjustmentRepo.FindByID(ctx, tx, txn.AdjustmentID)
		if err != nil {
			return err
		}
		if adjustment == nil {
			return adjustmentdomain.ErrNotFound
		}
		ok, err := s.adjustmentRepo.MarkCompleted(ctx, tx, adjustment.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return adjustmentdomain.ErrInvalidTransition
		}
		if !adjustment.IsBaseline {
			return nil
		}
		ok, err = s.cycleRepo.UpdateStatus(ctx, tx, txn.BillingCycleID, billingcycledomain.StatusPaid, now)
		if err != nil {
			return err
		}
		if !ok {
			return billingcycledomain.ErrInvalidTransition
		}
		return nil
	}
}

func (s *Service) Fail(ctx context.Context, id string, reason string) (*paymentdomain.PaymentTransaction, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, paymentdomain.ErrMissingFailureReason
	}
	return s.transition(ctx, id, paymentdomain.StatusFailed, &reason, s.reopenAdjustment(ctx))
}

// Cancel withdraws the transaction. Its adjustment returns to PENDING with
// the invoice cleared, so later growth merges into it and it can be confirmed
// again with a fresh payment.
func (s *Service) Cancel(ctx context.Context, id string) (*paymentdomain.PaymentTransaction, error) {
	reopen := s.reopenAdjustment(ctx)
	return s.transition(ctx, id, paymentdomain.StatusCancelled, nil, func(tx *gorm.DB, txn *paymentdomain.PaymentTransaction, now time.Time) error {
		if err := reopen(tx, txn, now); err != nil {
			return err
		}
		return s.adjustmentRepo.ClearInvoiceSent(ctx, tx, txn.AdjustmentID, now)
	})
}

func (s *Service) Refund(ctx context.Context, id string) (*paymentdomain.PaymentTransaction, error) {
	return s.transition(ctx, id, paymentdomain.StatusRefunded, nil, func(tx *gorm.DB, txn *paymentdomain.PaymentTransaction, now time.Time) error {
		ok, err := s.adjustmentRepo.UpdateStatus(ctx, tx, txn.AdjustmentID,
			[]adjustmentdomain.PaymentStatus{adjustmentdomain.PaymentStatusCompleted},
			adjustmentdomain.PaymentStatusRefunded, now)
		if err != nil {
			return err
		}
		if !ok {
			return adjustmentdomain.ErrInvalidTransition
		}
		return nil
	})
}

// reopenAdjustment puts an adjustment whose payment stopped back to PENDING.
func (s *Service) reopenAdjustment(ctx context.Context) cascade {
	return func(tx *gorm.DB, txn *paymentdomain.PaymentTransaction, now time.Time) error {
		_, err := s.adjustmentRepo.UpdateStatus(ctx, tx, txn.AdjustmentID,
			[]adjustmentdomain.PaymentStatus{adjustmentdomain.PaymentStatusProcessing},
			adjustmentdomain.PaymentStatusPending, now)
		return err
	}
}

// Retry opens a follow-up attempt for a FAILED transaction. The failed row is
// never reopened.
func (s *Service) Retry(ctx context.Context, id string) (result *paymentdomain.PaymentTransaction, err error) {
	txnID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	ctx, span := tracing.Start(ctx, tracerName, "payment.retry", attribute.String("payment_id", txnID.String()))
	defer func() { tracing.End(span, err) }()

	maxAttempts := s.policy.Get().MaxPaymentAttempts
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		failed, err := s.repo.FindByID(ctx, tx, txnID)
		if err != nil {
			return err
		}
		if failed == nil {
			return paymentdomain.ErrNotFound
		}
		if failed.Status != paymentdomain.StatusFailed {
			return paymentdomain.ErrRetryNotAllowed
		}
		if failed.Attempt >= maxAttempts {
			return paymentdomain.ErrAttemptsExhausted
		}
		successor, err := s.repo.FindSuccessor(ctx, tx, failed.ID)
		if err != nil {
			return err
		}
		if successor != nil {
			return paymentdomain.ErrAlreadyRetried
		}
		adjustment, err := s.adjustmentRepo.FindByID(ctx, tx, failed.AdjustmentID)
		if err != nil {
			return err
		}
		if adjustment == nil {
			return adjustmentdomain.ErrNotFound
		}
		if adjustment.PaymentStatus == adjustmentdomain.PaymentStatusCancelled ||
			adjustment.PaymentStatus == adjustmentdomain.PaymentStatusRefunded {
			return paymentdomain.ErrRetryNotAllowed
		}

		supersedes := failed.ID
		result, err = s.Open(ctx, tx, paymentdomain.OpenRequest{
			TenantID:       failed.TenantID,
			BillingCycleID: failed.BillingCycleID,
			AdjustmentID:   failed.AdjustmentID,
			AmountUSD:      failed.AmountUSD,
			AmountLocal:    failed.AmountLocal,
			Currency:       failed.Currency,
			ExchangeRate:   failed.ExchangeRate,
			PaymentMethod:  failed.PaymentMethod,
			Attempt:        failed.Attempt + 1,
			SupersedesID:   &supersedes,
		})
		return err
	})
	if err != nil {
		s.metrics.ObserveError("payment.retry", err)
		return nil, err
	}
	s.log.Info("payment retried",
		zap.String("payment_id", result.ID.String()),
		zap.String("supersedes_id", txnID.String()),
		zap.Int("attempt", result.Attempt),
	)
	return result, nil
}

// HandleProviderEvent applies a provider callback once per provider event id.
func (s *Service) HandleProviderEvent(ctx context.Context, event paymentdomain.ProviderEvent, payload []byte) (*paymentdomain.PaymentTransaction, error) {
	event.Provider = strings.ToLower(strings.TrimSpace(event.Provider))
	event.ProviderEventID = strings.TrimSpace(event.ProviderEventID)
	event.PaymentReference = strings.TrimSpace(event.PaymentReference)
	event.Type = strings.ToLower(strings.TrimSpace(event.Type))
	if event.Provider == "" || event.ProviderEventID == "" || event.PaymentReference == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	switch event.Type {
	case paymentdomain.EventTypePaymentProcessing, paymentdomain.EventTypePaymentSucceeded,
		paymentdomain.EventTypePaymentFailed, paymentdomain.EventTypeRefunded:
	default:
		return nil, paymentdomain.ErrInvalidEvent
	}
	if len(payload) == 0 {
		raw, err := json.Marshal(event)
		if err != nil {
			return nil, err
		}
		payload = raw
	}
	if !json.Valid(payload) {
		return nil, paymentdomain.ErrInvalidPayload
	}

	now := s.clock.Now().UTC()
	record := paymentdomain.EventRecord{
		ID:               s.genID.Generate(),
		Provider:         event.Provider,
		ProviderEventID:  event.ProviderEventID,
		EventType:        event.Type,
		PaymentReference: event.PaymentReference,
		Payload:          datatypes.JSON(payload),
		ReceivedAt:       now,
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, &record)
	if err != nil {
		return nil, err
	}
	stored := &record
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
		if err != nil {
			return nil, err
		}
		if stored == nil {
			return nil, paymentdomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			return nil, paymentdomain.ErrEventAlreadyProcessed
		}
	}

	txn, err := s.repo.FindByReference(ctx, s.db, event.PaymentReference)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, paymentdomain.ErrNotFound
	}

	id := txn.ID.String()
	switch event.Type {
	case paymentdomain.EventTypePaymentProcessing:
		txn, err = s.StartProcessing(ctx, id)
	case paymentdomain.EventTypePaymentSucceeded:
		if txn.Status != paymentdomain.StatusPending {
			txn, err = s.Complete(ctx, id)
			break
		}
		// A success reported straight from PENDING passes through PROCESSING
		// and COMPLETED in one commit.
		txn, err = s.apply(ctx, id,
			step{to: paymentdomain.StatusProcessing, fn: s.holdAdjustment(ctx)},
			step{to: paymentdomain.StatusCompleted, fn: s.settle(ctx)},
		)
	case paymentdomain.EventTypePaymentFailed:
		reason := strings.TrimSpace(event.FailureReason)
		if reason == "" {
			reason = "declined by " + event.Provider
		}
		txn, err = s.Fail(ctx, id, reason)
	case paymentdomain.EventTypeRefunded:
		txn, err = s.Refund(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	if err := s.repo.MarkEventProcessed(ctx, s.db, stored.ID, now); err != nil {
		return nil, err
	}
	return txn, nil
}

type cascade func(tx *gorm.DB, txn *paymentdomain.PaymentTransaction, now time.Time) error

type step struct {
	to     paymentdomain.Status
	reason *string
	fn     cascade
}

// transition validates and applies one state change with its cascade in a
// single database transaction. A rejected change leaves every row untouched.
func (s *Service) transition(ctx context.Context, id string, to paymentdomain.Status, reason *string, fn cascade) (*paymentdomain.PaymentTransaction, error) {
	return s.apply(ctx, id, step{to: to, reason: reason, fn: fn})
}

// apply runs steps in order inside one database transaction. Either every
// step commits or none does.
func (s *Service) apply(ctx context.Context, id string, steps ...step) (result *paymentdomain.PaymentTransaction, err error) {
	txnID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	last := steps[len(steps)-1].to
	op := "payment." + strings.ToLower(string(last))
	ctx, span := tracing.Start(ctx, tracerName, op,
		attribute.String("payment_id", txnID.String()),
		attribute.String("to", string(last)),
	)
	defer func() { tracing.End(span, err) }()

	now := s.clock.Now().UTC()
	froms := make([]paymentdomain.Status, len(steps))
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, st := range steps {
			txn, err := s.repo.FindByID(ctx, tx, txnID)
			if err != nil {
				return err
			}
			if txn == nil {
				return paymentdomain.ErrNotFound
			}
			from := txn.Status
			froms[i] = from
			if !paymentdomain.CanTransition(from, st.to) {
				return paymentdomain.ErrInvalidTransition
			}

			ok, err := s.repo.Transition(ctx, tx, txnID, paymentdomain.StatusChange{
				From:          from,
				To:            st.to,
				At:            now,
				FailureReason: st.reason,
			})
			if err != nil {
				return err
			}
			if !ok {
				return paymentdomain.ErrInvalidTransition
			}
			if st.fn != nil {
				if err := st.fn(tx, txn, now); err != nil {
					return err
				}
			}

			metadata := map[string]any{"from": string(from)}
			if st.reason != nil {
				metadata["failure_reason"] = *st.reason
			}
			if err := s.audit(ctx, tx, txn, "payment."+strings.ToLower(string(st.to)), metadata); err != nil {
				return err
			}
		}

		result, err = s.repo.FindByID(ctx, tx, txnID)
		return err
	})
	if err != nil {
		s.metrics.ObserveError(op, err)
		return nil, err
	}

	for i, st := range steps {
		s.metrics.ObservePaymentTransition(ctx, string(froms[i]), string(st.to))
		s.log.Info("payment transition",
			zap.String("payment_id", txnID.String()),
			zap.String("from", string(froms[i])),
			zap.String("to", string(st.to)),
		)
	}
	if last == paymentdomain.StatusCompleted {
		s.metrics.ObserveBilledAmount(ctx, "payment", result.AmountUSD.InexactFloat64())
	}
	return result, nil
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, txn *paymentdomain.PaymentTransaction, action string, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["payment_reference"] = txn.PaymentReference
	metadata["billing_cycle_id"] = txn.BillingCycleID.String()
	metadata["adjustment_id"] = txn.AdjustmentID.String()

	entry := auditdomain.Entry{
		Action:     action,
		TargetType: "payment_transaction",
		TargetID:   txn.ID.String(),
		Metadata:   metadata,
	}
	if txn.TenantID != 0 {
		tenantID := txn.TenantID
		entry.TenantID = &tenantID
	}
	return s.auditSvc.Record(ctx, tx, entry)
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, paymentdomain.ErrInvalidID
	}
	return id, nil
}
