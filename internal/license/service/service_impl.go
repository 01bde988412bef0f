package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/seatbill/internal/audit/domain"
	billingcycledomain "github.com/smallbiznis/seatbill/internal/billingcycle/domain"
	"github.com/smallbiznis/seatbill/internal/clock"
	"github.com/smallbiznis/seatbill/internal/license/domain"
	obsmetrics "github.com/smallbiznis/seatbill/internal/observability/metrics"
	"github.com/smallbiznis/seatbill/internal/observability/tracing"
	seatdomain "github.com/smallbiznis/seatbill/internal/seat/domain"
	"github.com/smallbiznis/seatbill/pkg/keylock"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const tracerName = "seatbill/license"

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	SeatRepo seatdomain.Repository
	Cycles   billingcycledomain.Service
	Locker   keylock.Locker
	AuditSvc auditdomain.Service
	Metrics  *obsmetrics.BillingMetrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	seatRepo seatdomain.Repository
	cycles   billingcycledomain.Service
	locker   keylock.Locker
	auditSvc auditdomain.Service
	metrics  *obsmetrics.BillingMetrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("license.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		seatRepo: p.SeatRepo,
		cycles:   p.Cycles,
		locker:   p.Locker,
		auditSvc: p.AuditSvc,
		metrics:  p.Metrics,
	}
}

// Create inserts an ACTIVE license together with its first billing cycle,
// baseline adjustment and payment transaction. Nothing is stored unless all
// of them are.
func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (license *domain.GlobalLicense, err error) {
	tenantID, err := snowflake.ParseString(strings.TrimSpace(req.TenantID))
	if err != nil || tenantID == 0 {
		return nil, domain.ErrInvalidTenant
	}
	licenseType := strings.ToUpper(strings.TrimSpace(req.LicenseType))
	if licenseType == "" {
		return nil, domain.ErrInvalidLicenseType
	}
	if req.BillingCycleMonths < 1 {
		return nil, domain.ErrInvalidCycleMonths
	}
	if !req.BasePriceUSD.IsPositive() {
		return nil, domain.ErrInvalidBasePrice
	}
	if req.MinimumSeats < 0 {
		return nil, domain.ErrInvalidMinimumSeats
	}

	ctx, span := tracing.Start(ctx, tracerName, "license.create", attribute.String("tenant_id", tenantID.String()))
	defer func() { tracing.End(span, err) }()

	release, err := s.locker.Lock(ctx, "tenant:"+tenantID.String())
	if err != nil {
		return nil, err
	}
	defer release()

	pricing, err := s.cycles.ResolvePricing(ctx, tenantID)
	if err != nil {
		s.metrics.ObserveError("license.create", err)
		return nil, err
	}

	now := s.clock.Now().UTC()
	periodStart := now
	if req.PeriodStart != nil {
		periodStart = req.PeriodStart.UTC()
	}
	periodEnd := periodStart.AddDate(0, req.BillingCycleMonths, 0)

	var (
		cycle   *billingcycledomain.BillingCycle
		created bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindActiveByTenant(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.ErrActiveLicenseExists
		}

		license = &domain.GlobalLicense{
			ID:                 s.genID.Generate(),
			TenantID:           tenantID,
			LicenseType:        licenseType,
			BillingCycleMonths: req.BillingCycleMonths,
			BasePriceUSD:       req.BasePriceUSD,
			MinimumSeats:       req.MinimumSeats,
			CurrentPeriodStart: periodStart,
			CurrentPeriodEnd:   periodEnd,
			NextRenewalDate:    periodEnd,
			Status:             domain.StatusActive,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := s.repo.Insert(ctx, tx, license); err != nil {
			return err
		}

		cycle, created, err = s.cycles.GenerateInTx(ctx, tx, license, pricing)
		if err != nil {
			return err
		}

		return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			TenantID:   &tenantID,
			Action:     "license.created",
			TargetType: "global_license",
			TargetID:   license.ID.String(),
			Metadata: map[string]any{
				"license_type":         licenseType,
				"billing_cycle_months": req.BillingCycleMonths,
				"base_price_usd":       req.BasePriceUSD.StringFixed(2),
				"minimum_seats":        req.MinimumSeats,
				"billing_cycle_id":     cycle.ID.String(),
			},
		})
	})
	if err != nil {
		s.metrics.ObserveError("license.create", err)
		return nil, err
	}

	s.observeCycle(ctx, cycle, created)
	s.log.Info("license created",
		zap.String("license_id", license.ID.String()),
		zap.String("tenant_id", tenantID.String()),
		zap.String("billing_cycle_id", cycle.ID.String()),
	)
	return license, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.GlobalLicense, error) {
	licenseID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	return s.find(ctx, licenseID)
}

func (s *Service) ListByTenant(ctx context.Context, tenantID string) ([]domain.GlobalLicense, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(tenantID))
	if err != nil || id == 0 {
		return nil, domain.ErrInvalidTenant
	}
	return s.repo.ListByTenant(ctx, s.db, id)
}

// EnsureBilling generates the current period's cycle for an ACTIVE license
// whose billing was never generated. It is safe to call repeatedly.
func (s *Service) EnsureBilling(ctx context.Context, id string) (*domain.GlobalLicense, error) {
	licenseID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	license, err := s.find(ctx, licenseID)
	if err != nil {
		return nil, err
	}
	if license.Status != domain.StatusActive {
		return nil, domain.ErrLicenseNotBillable
	}
	if _, _, err := s.cycles.Generate(ctx, licenseID); err != nil {
		return nil, err
	}
	return s.find(ctx, licenseID)
}

// EnsurePendingBilling retries generation for every ACTIVE license without a
// billing marker and reports how many succeeded.
func (s *Service) EnsurePendingBilling(ctx context.Context) (int, error) {
	pending, err := s.repo.ListPendingBilling(ctx, s.db)
	if err != nil {
		return 0, err
	}
	var (
		done int
		errs []error
	)
	for i := range pending {
		if _, _, err := s.cycles.Generate(ctx, pending[i].ID); err != nil {
			s.log.Warn("pending billing generation failed",
				zap.String("license_id", pending[i].ID.String()),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		done++
	}
	return done, errors.Join(errs...)
}

// RenewDue renews up to limit ACTIVE licenses whose renewal date has passed.
func (s *Service) RenewDue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 50
	}
	due, err := s.repo.ListDueForRenewal(ctx, s.db, s.clock.Now().UTC(), limit)
	if err != nil {
		return 0, err
	}
	var (
		done int
		errs []error
	)
	for i := range due {
		if _, err := s.Renew(ctx, due[i].ID.String()); err != nil {
			if errors.Is(err, domain.ErrRenewalNotDue) || errors.Is(err, domain.ErrNotActive) {
				continue
			}
			s.log.Warn("license renewal failed",
				zap.String("license_id", due[i].ID.String()),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		done++
	}
	return done, errors.Join(errs...)
}

func (s *Service) Suspend(ctx context.Context, id string) (*domain.GlobalLicense, error) {
	return s.transition(ctx, id, domain.StatusSuspended)
}

func (s *Service) Expire(ctx context.Context, id string) (*domain.GlobalLicense, error) {
	return s.transition(ctx, id, domain.StatusExpired)
}

func (s *Service) Cancel(ctx context.Context, id string) (*domain.GlobalLicense, error) {
	return s.transition(ctx, id, domain.StatusCancelled)
}

// Activate reopens a SUSPENDED or EXPIRED license and makes sure its current
// period is billed, in one transaction.
func (s *Service) Activate(ctx context.Context, id string) (*domain.GlobalLicense, error) {
	return s.transition(ctx, id, domain.StatusActive)
}

func (s *Service) transition(ctx context.Context, id string, to domain.Status) (license *domain.GlobalLicense, err error) {
	licenseID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	op := "license." + strings.ToLower(string(to))
	ctx, span := tracing.Start(ctx, tracerName, op,
		attribute.String("license_id", licenseID.String()),
		attribute.String("to", string(to)),
	)
	defer func() { tracing.End(span, err) }()

	current, err := s.find(ctx, licenseID)
	if err != nil {
		return nil, err
	}
	var pricing billingcycledomain.Pricing
	if to == domain.StatusActive {
		release, err := s.locker.Lock(ctx, "tenant:"+current.TenantID.String())
		if err != nil {
			return nil, err
		}
		defer release()

		pricing, err = s.cycles.ResolvePricing(ctx, current.TenantID)
		if err != nil {
			s.metrics.ObserveError(op, err)
			return nil, err
		}
	}

	now := s.clock.Now().UTC()
	var (
		cycle   *billingcycledomain.BillingCycle
		created bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.repo.FindForUpdate(ctx, tx, licenseID)
		if err != nil {
			return err
		}
		if locked == nil {
			return domain.ErrNotFound
		}
		from := locked.Status
		if !domain.CanTransition(from, to) {
			return domain.ErrInvalidTransition
		}
		if to == domain.StatusActive {
			active, err := s.repo.FindActiveByTenant(ctx, tx, locked.TenantID)
			if err != nil {
				return err
			}
			if active != nil && active.ID != licenseID {
				return domain.ErrActiveLicenseExists
			}
		}
		ok, err := s.repo.UpdateStatus(ctx, tx, licenseID, from, to, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrInvalidTransition
		}
		locked.Status = to

		if to == domain.StatusActive {
			cycle, created, err = s.cycles.GenerateInTx(ctx, tx, locked, pricing)
			if err != nil {
				return err
			}
		}

		tenantID := locked.TenantID
		if err := s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			TenantID:   &tenantID,
			Action:     op,
			TargetType: "global_license",
			TargetID:   licenseID.String(),
			Metadata:   map[string]any{"from": string(from)},
		}); err != nil {
			return err
		}

		license, err = s.repo.FindByID(ctx, tx, licenseID)
		return err
	})
	if err != nil {
		s.metrics.ObserveError(op, err)
		return nil, err
	}

	s.observeCycle(ctx, cycle, created)
	s.log.Info("license status changed",
		zap.String("license_id", licenseID.String()),
		zap.String("status", string(to)),
	)
	return license, nil
}

// Renew moves a due ACTIVE license into its next period and bills it.
func (s *Service) Renew(ctx context.Context, id string) (license *domain.GlobalLicense, err error) {
	licenseID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	ctx, span := tracing.Start(ctx, tracerName, "license.renew", attribute.String("license_id", licenseID.String()))
	defer func() { tracing.End(span, err) }()

	current, err := s.find(ctx, licenseID)
	if err != nil {
		return nil, err
	}
	pricing, err := s.cycles.ResolvePricing(ctx, current.TenantID)
	if err != nil {
		s.metrics.ObserveError("license.renew", err)
		return nil, err
	}

	now := s.clock.Now().UTC()
	var (
		cycle   *billingcycledomain.BillingCycle
		created bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.repo.FindForUpdate(ctx, tx, licenseID)
		if err != nil {
			return err
		}
		if locked == nil {
			return domain.ErrNotFound
		}
		if locked.Status != domain.StatusActive {
			return domain.ErrNotActive
		}
		if now.Before(locked.NextRenewalDate) {
			return domain.ErrRenewalNotDue
		}

		previousEnd := locked.CurrentPeriodEnd
		locked.CurrentPeriodStart, locked.CurrentPeriodEnd = locked.PeriodAfter(previousEnd)
		locked.NextRenewalDate = locked.CurrentPeriodEnd
		locked.BilledSeatCount = 0
		locked.BillingGeneratedAt = nil
		locked.UpdatedAt = now
		if err := s.repo.AdvancePeriod(ctx, tx, locked); err != nil {
			return err
		}

		cycle, created, err = s.cycles.GenerateInTx(ctx, tx, locked, pricing)
		if err != nil {
			return err
		}

		tenantID := locked.TenantID
		if err := s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			TenantID:   &tenantID,
			Action:     "license.renewed",
			TargetType: "global_license",
			TargetID:   licenseID.String(),
			Metadata: map[string]any{
				"period_start":     locked.CurrentPeriodStart.Format(time.RFC3339),
				"period_end":       locked.CurrentPeriodEnd.Format(time.RFC3339),
				"billing_cycle_id": cycle.ID.String(),
			},
		}); err != nil {
			return err
		}

		license, err = s.repo.FindByID(ctx, tx, licenseID)
		return err
	})
	if err != nil {
		s.metrics.ObserveError("license.renew", err)
		return nil, err
	}

	s.observeCycle(ctx, cycle, created)
	s.log.Info("license renewed",
		zap.String("license_id", licenseID.String()),
		zap.Time("period_start", license.CurrentPeriodStart),
		zap.Time("period_end", license.CurrentPeriodEnd),
	)
	return license, nil
}

// Delete removes a license and its seats. Licenses that were ever billed are kept.
func (s *Service) Delete(ctx context.Context, id string) error {
	licenseID, err := parseID(id)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.repo.FindForUpdate(ctx, tx, licenseID)
		if err != nil {
			return err
		}
		if locked == nil {
			return domain.ErrNotFound
		}
		billed, err := s.repo.HasFinancialHistory(ctx, tx, licenseID)
		if err != nil {
			return err
		}
		if billed {
			return domain.ErrHasFinancialHistory
		}
		if err := s.seatRepo.DeleteByLicense(ctx, tx, licenseID); err != nil {
			return err
		}
		if err := s.repo.Delete(ctx, tx, licenseID); err != nil {
			return err
		}
		tenantID := locked.TenantID
		return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			TenantID:   &tenantID,
			Action:     "license.deleted",
			TargetType: "global_license",
			TargetID:   licenseID.String(),
		})
	})
	if err != nil {
		s.metrics.ObserveError("license.delete", err)
		return err
	}
	s.log.Info("license deleted", zap.String("license_id", licenseID.String()))
	return nil
}

func (s *Service) find(ctx context.Context, id snowflake.ID) (*domain.GlobalLicense, error) {
	license, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if license == nil {
		return nil, domain.ErrNotFound
	}
	return license, nil
}

// observeCycle records generation metrics once the surrounding transaction committed.
func (s *Service) observeCycle(ctx context.Context, cycle *billingcycledomain.BillingCycle, created bool) {
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

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
