package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	adjustmentdomain "github.com/smallbiznis/seatbill/internal/adjustment/domain"
	auditdomain "github.com/smallbiznis/seatbill/internal/audit/domain"
	"github.com/smallbiznis/seatbill/internal/billingcycle/domain"
	"github.com/smallbiznis/seatbill/internal/clock"
	"github.com/smallbiznis/seatbill/internal/config"
	"github.com/smallbiznis/seatbill/internal/costing"
	exchangeratedomain "github.com/smallbiznis/seatbill/internal/exchangerate/domain"
	licensedomain "github.com/smallbiznis/seatbill/internal/license/domain"
	obsmetrics "github.com/smallbiznis/seatbill/internal/observability/metrics"
	"github.com/smallbiznis/seatbill/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/seatbill/internal/payment/domain"
	paymentmethoddomain "github.com/smallbiznis/seatbill/internal/paymentmethod/domain"
	seatdomain "github.com/smallbiznis/seatbill/internal/seat/domain"
	taxdomain "github.com/smallbiznis/seatbill/internal/tax/domain"
	tenantdomain "github.com/smallbiznis/seatbill/internal/tenant/domain"
	"github.com/smallbiznis/seatbill/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const tracerName = "seatbill/billingcycle"

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	Policy         *config.BillingPolicyHolder
	Repo           domain.Repository
	LicenseRepo    licensedomain.Repository
	SeatRepo       seatdomain.Repository
	AdjustmentRepo adjustmentdomain.Repository
	Payments       paymentdomain.Opener
	TenantSvc      tenantdomain.Service
	TaxProvider    taxdomain.Provider
	RateProvider   exchangeratedomain.Provider
	PaymentMethods paymentmethoddomain.Registry
	AuditSvc       auditdomain.Service
	Metrics        *obsmetrics.BillingMetrics `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	policy         *config.BillingPolicyHolder
	repo           domain.Repository
	licenseRepo    licensedomain.Repository
	seatRepo       seatdomain.Repository
	adjustmentRepo adjustmentdomain.Repository
	payments       paymentdomain.Opener
	tenantSvc      tenantdomain.Service
	taxProvider    taxdomain.Provider
	rateProvider   exchangeratedomain.Provider
	paymentMethods paymentmethoddomain.Registry
	auditSvc       auditdomain.Service
	metrics        *obsmetrics.BillingMetrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("billingcycle.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		policy:         p.Policy,
		repo:           p.Repo,
		licenseRepo:    p.LicenseRepo,
		seatRepo:       p.SeatRepo,
		adjustmentRepo: p.AdjustmentRepo,
		payments:       p.Payments,
		tenantSvc:      p.TenantSvc,
		taxProvider:    p.TaxProvider,
		rateProvider:   p.RateProvider,
		paymentMethods: p.PaymentMethods,
		auditSvc:       p.AuditSvc,
		metrics:        p.Metrics,
	}
}

// AsPricingResolver exposes pricing lookups to the adjustment engine.
func AsPricingResolver(s domain.Service) domain.PricingResolver {
	return s
}

// ResolvePricing fails when the rate or the tax rules are unavailable; neither
// is ever defaulted.
func (s *Service) ResolvePricing(ctx context.Context, tenantID snowflake.ID) (domain.Pricing, error) {
	tenant, err := s.tenantSvc.Get(ctx, tenantID)
	if err != nil {
		return domain.Pricing{}, err
	}
	currency := tenant.GetBillingCurrency()
	country := tenant.GetCountryCode()

	rate, err := s.rateProvider.GetRate(ctx, s.policy.Get().BaseCurrency, currency)
	if err != nil {
		return domain.Pricing{}, err
	}
	rules, err := s.taxProvider.GetActiveRulesForCountry(ctx, country)
	if err != nil {
		return domain.Pricing{}, err
	}
	method, err := s.paymentMethods.GetDefaultForCountry(ctx, country)
	if err != nil {
		return domain.Pricing{}, err
	}

	return domain.Pricing{
		CountryCode:   country,
		Currency:      currency,
		ExchangeRate:  rate,
		TaxRules:      rules,
		PaymentMethod: method.Code,
	}, nil
}

func (s *Service) Generate(ctx context.Context, licenseID snowflake.ID) (cycle *domain.BillingCycle, created bool, err error) {
	ctx, span := tracing.Start(ctx, tracerName, "billingcycle.generate", attribute.String("license_id", licenseID.String()))
	defer func() { tracing.End(span, err) }()

	license, err := s.licenseRepo.FindByID(ctx, s.db, licenseID)
	if err != nil {
		return nil, false, err
	}
	if license == nil {
		return nil, false, domain.ErrLicenseNotFound
	}
	pricing, err := s.ResolvePricing(ctx, license.TenantID)
	if err != nil {
		s.metrics.ObserveError("billingcycle.generate", err)
		return nil, false, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.licenseRepo.FindForUpdate(ctx, tx, licenseID)
		if err != nil {
			return err
		}
		if locked == nil {
			return domain.ErrLicenseNotFound
		}
		cycle, created, err = s.GenerateInTx(ctx, tx, locked, pricing)
		return err
	})
	if err != nil && db.IsDuplicateKeyErr(err) {
		// A concurrent caller committed the same period first.
		cycle, err = s.repo.FindByPeriod(ctx, s.db, license.ID, license.CurrentPeriodStart)
		created = false
		if err == nil && cycle == nil {
			err = domain.ErrNotFound
		}
	}
	if err != nil {
		s.metrics.ObserveError("billingcycle.generate", err)
		return nil, false, err
	}

	s.observe(ctx, cycle, created)
	return cycle, created, nil
}

// observe records metrics for a generated cycle once its transaction committed.
func (s *Service) observe(ctx context.Context, cycle *domain.BillingCycle, created bool) {
	if cycle == nil {
		return
	}
	if !created {
		s.metrics.ObserveCycleGenerated(ctx, obsmetrics.CycleOutcomeExisting)
		return
	}
	s.metrics.ObserveCycleGenerated(ctx, obsmetrics.CycleOutcomeCreated)
	s.metrics.ObserveBilledAmount(ctx, "billing_cycle", cycle.TotalAmountUSD.InexactFloat64())
}

// GenerateInTx builds the cycle for license's current period using tx only.
// An existing cycle for the period is returned unchanged with created=false.
func (s *Service) GenerateInTx(ctx context.Context, tx *gorm.DB, license *licensedomain.GlobalLicense, pricing domain.Pricing) (*domain.BillingCycle, bool, error) {
	if license.Status != licensedomain.StatusActive {
		return nil, false, domain.ErrLicenseNotBillable
	}
	if !license.CurrentPeriodEnd.After(license.CurrentPeriodStart) {
		return nil, false, domain.ErrInvalidCyclePeriod
	}

	existing, err := s.repo.FindByPeriod(ctx, tx, license.ID, license.CurrentPeriodStart)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	now := s.clock.Now().UTC()
	policy := s.policy.Get()

	seats, err := s.seatRepo.ListByLicense(ctx, tx, license.ID, nil, now)
	if err != nil {
		return nil, false, err
	}
	billable := seatdomain.CountBillable(seats, now)

	baseUSD, err := costing.BaseCostUSD(license.BasePriceUSD, billable, license.MinimumSeats, license.BillingCycleMonths)
	if err != nil {
		return nil, false, err
	}
	charge, err := costing.Price(baseUSD, pricing.TaxRules, pricing.ExchangeRate, pricing.Currency,
		costing.Options{RuleLevelRounding: policy.TaxRuleLevelRounding})
	if err != nil {
		return nil, false, err
	}
	if drift := charge.LocalDrift(); !drift.IsZero() {
		s.log.Warn("local total drifts from converted components",
			zap.String("license_id", license.ID.String()),
			zap.String("currency", charge.Currency),
			zap.String("drift", drift.String()),
		)
	}

	cycle := &domain.BillingCycle{
		ID:                    s.genID.Generate(),
		GlobalLicenseID:       license.ID,
		PeriodStart:           license.CurrentPeriodStart,
		PeriodEnd:             license.CurrentPeriodEnd,
		BaseEmployeeCount:     costing.EffectiveSeats(billable, license.MinimumSeats),
		FinalEmployeeCount:    billable,
		BaseAmountUSD:         charge.SubtotalUSD,
		AdjustmentAmountUSD:   decimal.Zero,
		TaxAmountUSD:          charge.TaxUSD,
		TotalAmountUSD:        charge.TotalUSD,
		BaseAmountLocal:       charge.SubtotalLocal,
		AdjustmentAmountLocal: decimal.Zero,
		TaxAmountLocal:        charge.TaxLocal,
		TotalAmountLocal:      charge.TotalLocal,
		Currency:              charge.Currency,
		ExchangeRate:          charge.ExchangeRate,
		TaxRulesApplied:       datatypes.JSONSlice[costing.TaxRule](charge.TaxRules),
		Status:                domain.StatusPending,
		PaymentDueDate:        license.CurrentPeriodEnd.AddDate(0, 0, policy.PaymentDueDays),
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.repo.Insert(ctx, tx, cycle); err != nil {
		return nil, false, err
	}

	cycleID := cycle.ID
	baseline := &adjustmentdomain.LicenseAdjustment{
		ID:                    s.genID.Generate(),
		GlobalLicenseID:       license.ID,
		BillingCycleID:        &cycleID,
		AdjustmentDate:        now,
		PricePerEmployeeUSD:   license.BasePriceUSD,
		SubtotalUSD:           decimal.Zero,
		TaxUSD:                decimal.Zero,
		TotalUSD:              decimal.Zero,
		SubtotalLocal:         decimal.Zero,
		TaxLocal:              decimal.Zero,
		TotalLocal:            decimal.Zero,
		Currency:              charge.Currency,
		ExchangeRate:          charge.ExchangeRate,
		TaxRulesApplied:       datatypes.JSONSlice[costing.TaxRule](charge.TaxRules),
		PaymentStatus:         adjustmentdomain.PaymentStatusCompleted,
		PaymentDueImmediately: false,
		IsBaseline:            true,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.adjustmentRepo.Insert(ctx, tx, baseline); err != nil {
		return nil, false, err
	}

	txn, err := s.payments.Open(ctx, tx, paymentdomain.OpenRequest{
		TenantID:       license.TenantID,
		BillingCycleID: cycle.ID,
		AdjustmentID:   baseline.ID,
		AmountUSD:      cycle.TotalAmountUSD,
		AmountLocal:    cycle.TotalAmountLocal,
		Currency:       cycle.Currency,
		ExchangeRate:   cycle.ExchangeRate,
		PaymentMethod:  pricing.PaymentMethod,
	})
	if err != nil {
		return nil, false, err
	}

	if err := s.licenseRepo.UpdateSeatTotals(ctx, tx, license.ID, billable, now); err != nil {
		return nil, false, err
	}
	if err := s.licenseRepo.UpdateBilledSeatCount(ctx, tx, license.ID, cycle.BaseEmployeeCount, now); err != nil {
		return nil, false, err
	}
	if err := s.licenseRepo.MarkBillingGenerated(ctx, tx, license.ID, now); err != nil {
		return nil, false, err
	}
	license.TotalSeatsPurchased = billable
	license.BilledSeatCount = cycle.BaseEmployeeCount
	license.BillingGeneratedAt = &now

	tenantID := license.TenantID
	if err := s.auditSvc.Record(ctx, tx, auditdomain.Entry{
		TenantID:   &tenantID,
		Action:     "billing_cycle.generated",
		TargetType: "billing_cycle",
		TargetID:   cycle.ID.String(),
		Metadata: map[string]any{
			"global_license_id":   license.ID.String(),
			"period_start":        cycle.PeriodStart.Format(time.RFC3339),
			"billable_seats":      billable,
			"total_usd":           cycle.TotalAmountUSD.StringFixed(2),
			"currency":            cycle.Currency,
			"payment_reference":   txn.PaymentReference,
			"baseline_adjustment": baseline.ID.String(),
		},
	}); err != nil {
		return nil, false, err
	}

	s.log.Info("billing cycle generated",
		zap.String("license_id", license.ID.String()),
		zap.String("cycle_id", cycle.ID.String()),
		zap.Int("billable_seats", billable),
		zap.String("total_usd", cycle.TotalAmountUSD.StringFixed(2)),
	)
	return cycle, true, nil
}

func (s *Service) Preview(ctx context.Context, licenseID string) (*domain.Preview, error) {
	id, err := parseID(licenseID, domain.ErrInvalidLicenseID)
	if err != nil {
		return nil, err
	}
	license, err := s.licenseRepo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if license == nil {
		return nil, domain.ErrLicenseNotFound
	}
	pricing, err := s.ResolvePricing(ctx, license.TenantID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	seats, err := s.seatRepo.ListByLicense(ctx, s.db, id, nil, now)
	if err != nil {
		return nil, err
	}
	billable := seatdomain.CountBillable(seats, now)

	baseUSD, err := costing.BaseCostUSD(license.BasePriceUSD, billable, license.MinimumSeats, license.BillingCycleMonths)
	if err != nil {
		return nil, err
	}
	adjustmentsUSD, err := s.adjustmentRepo.SumSubtotalSince(ctx, s.db, id, license.CurrentPeriodStart, license.CurrentPeriodEnd)
	if err != nil {
		return nil, err
	}
	charge, err := costing.Price(baseUSD.Add(adjustmentsUSD), pricing.TaxRules, pricing.ExchangeRate, pricing.Currency,
		costing.Options{RuleLevelRounding: s.policy.Get().TaxRuleLevelRounding})
	if err != nil {
		return nil, err
	}

	return &domain.Preview{
		GlobalLicenseID: id,
		PeriodStart:     license.CurrentPeriodStart,
		PeriodEnd:       license.CurrentPeriodEnd,
		BillableSeats:   billable,
		EffectiveSeats:  costing.EffectiveSeats(billable, license.MinimumSeats),
		BaseCostUSD:     baseUSD,
		AdjustmentsUSD:  costing.Round(adjustmentsUSD),
		TaxAmountUSD:    charge.TaxUSD,
		TotalUSD:        charge.TotalUSD,
		ExchangeRate:    charge.ExchangeRate,
		TotalLocal:      charge.TotalLocal,
		Currency:        charge.Currency,
	}, nil
}

func (s *Service) MarkInvoiced(ctx context.Context, id string) (*domain.BillingCycle, error) {
	cycleID, err := parseID(id, domain.ErrInvalidID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC()

	var cycle *domain.BillingCycle
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByID(ctx, tx, cycleID)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrNotFound
		}
		if !domain.CanTransition(current.Status, domain.StatusInvoiced) {
			return domain.ErrInvalidTransition
		}
		ok, err := s.repo.UpdateStatus(ctx, tx, cycleID, domain.StatusInvoiced, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrInvalidTransition
		}
		cycle, err = s.repo.FindByID(ctx, tx, cycleID)
		if err != nil {
			return err
		}
		return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			Action:     "billing_cycle.invoiced",
			TargetType: "billing_cycle",
			TargetID:   cycleID.String(),
			Metadata:   map[string]any{"from": string(current.Status)},
		})
	})
	if err != nil {
		s.metrics.ObserveError("billingcycle.mark_invoiced", err)
		return nil, err
	}
	return cycle, nil
}

// MarkOverdue moves unpaid cycles past their due date to OVERDUE.
func (s *Service) MarkOverdue(ctx context.Context) (int64, error) {
	now := s.clock.Now().UTC()
	n, err := s.repo.MarkOverdue(ctx, s.db, now)
	if err != nil {
		s.metrics.ObserveError("billingcycle.mark_overdue", err)
		return 0, err
	}
	if n > 0 {
		s.log.Info("billing cycles marked overdue", zap.Int64("count", n))
	}
	return n, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.BillingCycle, error) {
	cycleID, err := parseID(id, domain.ErrInvalidID)
	if err != nil {
		return nil, err
	}
	cycle, err := s.repo.FindByID(ctx, s.db, cycleID)
	if err != nil {
		return nil, err
	}
	if cycle == nil {
		return nil, domain.ErrNotFound
	}
	return cycle, nil
}

func (s *Service) ListByLicense(ctx context.Context, licenseID string) ([]domain.BillingCycle, error) {
	id, err := parseID(licenseID, domain.ErrInvalidLicenseID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListByLicense(ctx, s.db, id)
}

func parseID(raw string, invalid error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, invalid
	}
	return id, nil
}
