package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatbill/internal/adjustment/domain"
	auditdomain "github.com/smallbiznis/seatbill/internal/audit/domain"
	billingcycledomain "github.com/smallbiznis/seatbill/internal/billingcycle/domain"
	"github.com/smallbiznis/seatbill/internal/clock"
	"github.com/smallbiznis/seatbill/internal/config"
	"github.com/smallbiznis/seatbill/internal/costing"
	licensedomain "github.com/smallbiznis/seatbill/internal/license/domain"
	obsmetrics "github.com/smallbiznis/seatbill/internal/observability/metrics"
	"github.com/smallbiznis/seatbill/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/seatbill/internal/payment/domain"
	seatdomain "github.com/smallbiznis/seatbill/internal/seat/domain"
	"github.com/smallbiznis/seatbill/pkg/keylock"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const tracerName = "seatbill/adjustment"

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Policy      *config.BillingPolicyHolder
	Repo        domain.Repository
	LicenseRepo licensedomain.Repository
	SeatRepo    seatdomain.Repository
	CycleRepo   billingcycledomain.Repository
	Pricing     billingcycledomain.PricingResolver
	Payments    paymentdomain.Opener
	Locker      keylock.Locker
	AuditSvc    auditdomain.Service
	Metrics     *obsmetrics.BillingMetrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	policy      *config.BillingPolicyHolder
	repo        domain.Repository
	licenseRepo licensedomain.Repository
	seatRepo    seatdomain.Repository
	cycleRepo   billingcycledomain.Repository
	pricing     billingcycledomain.PricingResolver
	payments    paymentdomain.Opener
	locker      keylock.Locker
	auditSvc    auditdomain.Service
	metrics     *obsmetrics.BillingMetrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("adjustment.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		policy:      p.Policy,
		repo:        p.Repo,
		licenseRepo: p.LicenseRepo,
		seatRepo:    p.SeatRepo,
		cycleRepo:   p.CycleRepo,
		pricing:     p.Pricing,
		payments:    p.Payments,
		locker:      p.Locker,
		auditSvc:    p.AuditSvc,
		metrics:     p.Metrics,
	}
}

// AsHeadcountObserver lets the seat service report billable growth.
func AsHeadcountObserver(s domain.Service) seatdomain.HeadcountObserver {
	return s.(*Service)
}

// HeadcountChanged implements seatdomain.HeadcountObserver.
func (s *Service) HeadcountChanged(ctx context.Context, licenseID snowflake.ID) error {
	_, err := s.SyncBillableGrowth(ctx, licenseID)
	return err
}

// Propose charges for n seats added by an operator.
func (s *Service) Propose(ctx context.Context, req domain.ProposeRequest) (*domain.View, error) {
	licenseID, err := parseID(req.GlobalLicenseID, domain.ErrInvalidLicenseID)
	if err != nil {
		return nil, err
	}
	if req.EmployeesAdded <= 0 {
		return nil, domain.ErrInvalidSeatCount
	}
	return s.propose(ctx, "adjustment.propose", licenseID, func(_ context.Context, _ *gorm.DB, license *licensedomain.GlobalLicense, _ time.Time) (int, int, error) {
		return req.EmployeesAdded, license.BilledSeatCount + req.EmployeesAdded, nil
	})
}

// SyncBillableGrowth proposes an adjustment for billable seats above the
// license's recorded billed count. It returns nil when there is no growth or
// the license is not ACTIVE.
func (s *Service) SyncBillableGrowth(ctx context.Context, licenseID snowflake.ID) (*domain.View, error) {
	if licenseID == 0 {
		return nil, domain.ErrInvalidLicenseID
	}
	return s.propose(ctx, "adjustment.sync", licenseID, func(ctx context.Context, tx *gorm.DB, license *licensedomain.GlobalLicense, now time.Time) (int, int, error) {
		if license.Status != licensedomain.StatusActive {
			return 0, 0, nil
		}
		seats, err := s.seatRepo.ListByLicense(ctx, tx, license.ID, nil, now)
		if err != nil {
			return 0, 0, err
		}
		billable := seatdomain.CountBillable(seats, now)
		return billable - license.BilledSeatCount, billable, nil
	})
}

// growthFunc returns how many seats to charge for and the billed count to
// record once they are charged.
type growthFunc func(ctx context.Context, tx *gorm.DB, license *licensedomain.GlobalLicense, now time.Time) (added int, billed int, err error)

func (s *Service) propose(ctx context.Context, op string, licenseID snowflake.ID, growth growthFunc) (view *domain.View, err error) {
	ctx, span := tracing.Start(ctx, tracerName, op, attribute.String("license_id", licenseID.String()))
	defer func() { tracing.End(span, err) }()

	release, err := s.locker.Lock(ctx, lockKey(licenseID))
	if err != nil {
		return nil, err
	}
	defer release()

	license, err := s.licenseRepo.FindByID(ctx, s.db, licenseID)
	if err != nil {
		return nil, err
	}
	if license == nil {
		return nil, domain.ErrLicenseNotFound
	}
	pricing, err := s.pricing.ResolvePricing(ctx, license.TenantID)
	if err != nil {
		s.metrics.ObserveError(op, err)
		return nil, err
	}

	policy := s.policy.Get()
	now := s.clock.Now().UTC()
	var (
		result *domain.LicenseAdjustment
		action string
		added  int
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.licenseRepo.FindForUpdate(ctx, tx, licenseID)
		if err != nil {
			return err
		}
		if locked == nil {
			return domain.ErrLicenseNotFound
		}
		var billed int
		added, billed, err = growth(ctx, tx, locked, now)
		if err != nil {
			return err
		}
		if added <= 0 {
			return nil
		}
		if locked.Status != licensedomain.StatusActive {
			return domain.ErrLicenseNotActive
		}

		cycle, err := s.cycleRepo.FindCurrent(ctx, tx, licenseID, now)
		if err != nil {
			return err
		}
		if cycle == nil {
			return domain.ErrNoCurrentCycle
		}
		months := costing.MonthsRemaining(now, locked.CurrentPeriodEnd)
		if months == 0 {
			return domain.ErrPeriodEnded
		}

		pending, err := s.repo.FindPending(ctx, tx, licenseID)
		if err != nil {
			return err
		}
		if pending != nil && pending.InvoiceSentAt != nil {
			return domain.ErrDuplicateAdjustment
		}

		cycleID := cycle.ID
		adjustment := pending
		if adjustment == nil {
			action = obsmetrics.AdjustmentCreated
			adjustment = &domain.LicenseAdjustment{
				ID:                    s.genID.Generate(),
				GlobalLicenseID:       licenseID,
				PaymentStatus:         domain.PaymentStatusPending,
				PaymentDueImmediately: policy.AdjustmentDueImmediately,
				CreatedAt:             now,
			}
		} else {
			action = obsmetrics.AdjustmentMerged
		}
		adjustment.BillingCycleID = &cycleID
		adjustment.AdjustmentDate = now
		adjustment.EmployeesAdded += added
		adjustment.MonthsRemaining = months
		adjustment.PricePerEmployeeUSD = locked.BasePriceUSD
		adjustment.UpdatedAt = now

		subtotal, err := costing.AdjustmentSubtotalUSD(adjustment.EmployeesAdded, months, locked.BasePriceUSD)
		if err != nil {
			return err
		}
		charge, err := costing.Price(subtotal, pricing.TaxRules, pricing.ExchangeRate, pricing.Currency,
			costing.Options{RuleLevelRounding: policy.TaxRuleLevelRounding})
		if err != nil {
			return err
		}
		adjustment.ApplyCharge(charge)

		if pending == nil {
			if err := s.repo.Insert(ctx, tx, adjustment); err != nil {
				return err
			}
		} else if err := s.repo.UpdateCharge(ctx, tx, adjustment); err != nil {
			return err
		}
		if err := s.licenseRepo.UpdateBilledSeatCount(ctx, tx, licenseID, billed, now); err != nil {
			return err
		}

		tenantID := locked.TenantID
		if err := s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			TenantID:   &tenantID,
			Action:     "license_adjustment." + action,
			TargetType: "license_adjustment",
			TargetID:   adjustment.ID.String(),
			Metadata: map[string]any{
				"global_license_id": licenseID.String(),
				"seats_added":       added,
				"employees_added":   adjustment.EmployeesAdded,
				"months_remaining":  months,
				"total_usd":         adjustment.TotalUSD.StringFixed(2),
			},
		}); err != nil {
			return err
		}
		result = adjustment
		return nil
	})
	if err != nil {
		s.metrics.ObserveError(op, err)
		return nil, err
	}
	if result == nil {
		return nil, nil
	}

	s.metrics.ObserveAdjustment(ctx, action)
	s.log.Info("license adjustment "+action,
		zap.String("license_id", licenseID.String()),
		zap.String("adjustment_id", result.ID.String()),
		zap.Int("seats_added", added),
		zap.Int("employees_added", result.EmployeesAdded),
		zap.String("total_usd", result.TotalUSD.StringFixed(2)),
	)
	return domain.NewView(result), nil
}

// Confirm sends the adjustment's invoice and opens its payment transaction.
func (s *Service) Confirm(ctx context.Context, id string) (view *domain.View, err error) {
	adjustmentID, err := parseID(id, domain.ErrInvalidID)
	if err != nil {
		return nil, err
	}
	ctx, span := tracing.Start(ctx, tracerName, "adjustment.confirm", attribute.String("adjustment_id", adjustmentID.String()))
	defer func() { tracing.End(span, err) }()

	current, err := s.repo.FindByID(ctx, s.db, adjustmentID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, domain.ErrNotFound
	}
	license, err := s.licenseRepo.FindByID(ctx, s.db, current.GlobalLicenseID)
	if err != nil {
		return nil, err
	}
	if license == nil {
		return nil, domain.ErrLicenseNotFound
	}
	pricing, err := s.pricing.ResolvePricing(ctx, license.TenantID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	var (
		result    *domain.LicenseAdjustment
		reference string
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		adjustment, err := s.repo.FindForUpdate(ctx, tx, adjustmentID)
		if err != nil {
			return err
		}
		if adjustment == nil {
			return domain.ErrNotFound
		}
		if adjustment.IsBaseline || adjustment.PaymentStatus != domain.PaymentStatusPending || adjustment.InvoiceSentAt != nil {
			return domain.ErrInvalidTransition
		}

		cycleID := adjustment.BillingCycleID
		if cycleID == nil {
			cycle, err := s.cycleRepo.FindCurrent(ctx, tx, adjustment.GlobalLicenseID, now)
			if err != nil {
				return err
			}
			if cycle == nil {
				return domain.ErrNoCurrentCycle
			}
			cycleID = &cycle.ID
		}

		ok, err := s.repo.MarkInvoiceSent(ctx, tx, adjustmentID, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrInvalidTransition
		}
		txn, err := s.payments.Open(ctx, tx, paymentdomain.OpenRequest{
			TenantID:       license.TenantID,
			BillingCycleID: *cycleID,
			AdjustmentID:   adjustmentID,
			AmountUSD:      adjustment.TotalUSD,
			AmountLocal:    adjustment.TotalLocal,
			Currency:       adjustment.Currency,
			ExchangeRate:   adjustment.ExchangeRate,
			PaymentMethod:  pricing.PaymentMethod,
		})
		if err != nil {
			return err
		}
		reference = txn.PaymentReference

		tenantID := license.TenantID
		if err := s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			TenantID:   &tenantID,
			Action:     "license_adjustment.confirmed",
			TargetType: "license_adjustment",
			TargetID:   adjustmentID.String(),
			Metadata: map[string]any{
				"payment_reference": reference,
				"total_usd":         adjustment.TotalUSD.StringFixed(2),
			},
		}); err != nil {
			return err
		}

		result, err = s.repo.FindByID(ctx, tx, adjustmentID)
		return err
	})
	if err != nil {
		s.metrics.ObserveError("adjustment.confirm", err)
		return nil, err
	}

	s.metrics.ObserveAdjustment(ctx, obsmetrics.AdjustmentConfirmed)
	s.log.Info("license adjustment confirmed",
		zap.String("adjustment_id", adjustmentID.String()),
		zap.String("payment_reference", reference),
	)
	return domain.NewView(result), nil
}

func (s *Service) Cancel(ctx context.Context, id string) (*domain.View, error) {
	adjustmentID, err := parseID(id, domain.ErrInvalidID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC()

	var result *domain.LicenseAdjustment
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		adjustment, err := s.repo.FindForUpdate(ctx, tx, adjustmentID)
		if err != nil {
			return err
		}
		if adjustment == nil {
			return domain.ErrNotFound
		}
		if adjustment.IsBaseline || adjustment.PaymentStatus != domain.PaymentStatusPending {
			return domain.ErrInvalidTransition
		}
		ok, err := s.repo.UpdateStatus(ctx, tx, adjustmentID,
			[]domain.PaymentStatus{domain.PaymentStatusPending}, domain.PaymentStatusCancelled, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrInvalidTransition
		}
		if err := s.payments.CancelOpenForAdjustment(ctx, tx, adjustmentID); err != nil {
			return err
		}
		if err := s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			Action:     "license_adjustment.cancelled",
			TargetType: "license_adjustment",
			TargetID:   adjustmentID.String(),
			Metadata:   map[string]any{"global_license_id": adjustment.GlobalLicenseID.String()},
		}); err != nil {
			return err
		}
		result, err = s.repo.FindByID(ctx, tx, adjustmentID)
		return err
	})
	if err != nil {
		s.metrics.ObserveError("adjustment.cancel", err)
		return nil, err
	}
	s.metrics.ObserveAdjustment(ctx, obsmetrics.AdjustmentCancelled)
	return domain.NewView(result), nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.View, error) {
	adjustmentID, err := parseID(id, domain.ErrInvalidID)
	if err != nil {
		return nil, err
	}
	adjustment, err := s.repo.FindByID(ctx, s.db, adjustmentID)
	if err != nil {
		return nil, err
	}
	if adjustment == nil {
		return nil, domain.ErrNotFound
	}
	return domain.NewView(adjustment), nil
}

func (s *Service) ListByLicense(ctx context.Context, licenseID string) ([]domain.View, error) {
	id, err := parseID(licenseID, domain.ErrInvalidLicenseID)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.ListByLicense(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	views := make([]domain.View, 0, len(items))
	for i := range items {
		views = append(views, *domain.NewView(&items[i]))
	}
	return views, nil
}

func lockKey(licenseID snowflake.ID) string {
	return "license:" + licenseID.String()
}

func parseID(raw string, invalid error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, invalid
	}
	return id, nil
}
