package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/seatbill/internal/audit/domain"
	"github.com/smallbiznis/seatbill/internal/clock"
	"github.com/smallbiznis/seatbill/internal/config"
	licensedomain "github.com/smallbiznis/seatbill/internal/license/domain"
	obsmetrics "github.com/smallbiznis/seatbill/internal/observability/metrics"
	"github.com/smallbiznis/seatbill/internal/observability/tracing"
	"github.com/smallbiznis/seatbill/internal/seat/domain"
	"github.com/smallbiznis/seatbill/pkg/db"
	"github.com/smallbiznis/seatbill/pkg/errkind"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const tracerName = "seatbill/seat"

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Policy      *config.BillingPolicyHolder
	Repo        domain.Repository
	LicenseRepo licensedomain.Repository
	AuditSvc    auditdomain.Service
	Metrics     *obsmetrics.BillingMetrics `optional:"true"`
	Observer    domain.HeadcountObserver   `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	policy      *config.BillingPolicyHolder
	repo        domain.Repository
	licenseRepo licensedomain.Repository
	auditSvc    auditdomain.Service
	metrics     *obsmetrics.BillingMetrics
	observer    domain.HeadcountObserver
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("seat.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		policy:      p.Policy,
		repo:        p.Repo,
		licenseRepo: p.LicenseRepo,
		auditSvc:    p.AuditSvc,
		metrics:     p.Metrics,
		observer:    p.Observer,
	}
}

func (s *Service) Onboard(ctx context.Context, req domain.OnboardRequest) (*domain.Seat, error) {
	licenseID, err := parseID(req.GlobalLicenseID, domain.ErrInvalidLicenseID)
	if err != nil {
		return nil, err
	}
	code := strings.TrimSpace(req.EmployeeCode)
	if code == "" {
		return nil, domain.ErrInvalidEmployeeCode
	}

	now := s.clock.Now().UTC()
	activation := now
	if req.ActivationDate != nil && !req.ActivationDate.IsZero() {
		activation = req.ActivationDate.UTC()
	}

	seat := &domain.EmployeeLicense{
		ID:                s.genID.Generate(),
		GlobalLicenseID:   licenseID,
		EmployeeCode:      code,
		ActivationDate:    activation,
		LastActivityDate:  &activation,
		ContractualStatus: domain.ContractualActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		license, err := s.licenseRepo.FindForUpdate(ctx, tx, licenseID)
		if err != nil {
			return err
		}
		if license == nil {
			return domain.ErrLicenseNotFound
		}
		if license.Status != licensedomain.StatusActive && license.Status != licensedomain.StatusSuspended {
			return domain.ErrLicenseClosed
		}
		if err := s.repo.Insert(ctx, tx, seat); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrDuplicateEmployee
			}
			return err
		}
		if err := s.recount(ctx, tx, licenseID, now); err != nil {
			return err
		}
		return s.audit(ctx, tx, license.TenantID, seat, "seat.onboarded", map[string]any{
			"employee_code": code,
		})
	})
	if err != nil {
		s.metrics.ObserveError("seat.onboard", err)
		return nil, err
	}

	s.notify(ctx, licenseID)
	return s.view(seat, now), nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Seat, error) {
	seatID, err := parseID(id, domain.ErrInvalidID)
	if err != nil {
		return nil, err
	}
	seat, err := s.repo.FindByID(ctx, s.db, seatID)
	if err != nil {
		return nil, err
	}
	if seat == nil {
		return nil, domain.ErrNotFound
	}
	return s.view(seat, s.clock.Now().UTC()), nil
}

func (s *Service) RecordActivity(ctx context.Context, id string, at time.Time) (*domain.Seat, error) {
	if at.IsZero() {
		at = s.clock.Now()
	}
	at = at.UTC()
	return s.mutate(ctx, "seat.activity_recorded", id, func(seat *domain.EmployeeLicense, _ time.Time) (map[string]any, error) {
		if seat.LastActivityDate == nil || at.After(*seat.LastActivityDate) {
			seat.LastActivityDate = &at
		}
		return nil, nil
	})
}

// DeclareLongLeave marks an employee absent. Activity inside the trailing
// anti-fraud window, boundary included, rejects the declaration.
func (s *Service) DeclareLongLeave(ctx context.Context, id string, req domain.DeclareLeaveRequest) (*domain.Seat, error) {
	declaredBy := strings.TrimSpace(req.DeclaredBy)
	if declaredBy == "" {
		return nil, domain.ErrMissingDeclarer
	}
	leaveType := strings.ToUpper(strings.TrimSpace(req.LeaveType))
	if leaveType == "" {
		return nil, domain.ErrInvalidLeaveType
	}
	reason := strings.TrimSpace(req.Reason)
	window := time.Duration(s.policy.Get().AntiFraudWindowDays) * 24 * time.Hour

	seat, err := s.mutate(ctx, "seat.long_leave_declared", id, func(seat *domain.EmployeeLicense, now time.Time) (map[string]any, error) {
		if seat.ContractualStatus == domain.ContractualTerminated {
			return nil, domain.ErrSeatTerminated
		}
		if seat.LastActivityDate != nil && !seat.LastActivityDate.Before(now.Add(-window)) {
			return nil, domain.ErrRecentActivity
		}
		seat.DeclaredLongLeave = true
		seat.DeclaredBy = &declaredBy
		seat.DeclaredAt = &now
		seat.LeaveType = &leaveType
		if reason != "" {
			seat.LeaveReason = &reason
		} else {
			seat.LeaveReason = nil
		}
		return map[string]any{
			"declared_by": declaredBy,
			"leave_type":  leaveType,
		}, nil
	})
	if err != nil {
		if errors.Is(err, errkind.AntiFraud) {
			s.metrics.ObserveLeaveDeclaration(obsmetrics.LeaveRejected)
			s.log.Warn("long leave declaration rejected",
				zap.String("seat_id", id),
				zap.String("declared_by", declaredBy),
				zap.Error(err),
			)
		}
		return nil, err
	}
	s.metrics.ObserveLeaveDeclaration(obsmetrics.LeaveAccepted)
	return seat, nil
}

func (s *Service) ClearLongLeave(ctx context.Context, id string) (*domain.Seat, error) {
	return s.mutate(ctx, "seat.long_leave_cleared", id, func(seat *domain.EmployeeLicense, _ time.Time) (map[string]any, error) {
		seat.DeclaredLongLeave = false
		seat.DeclaredBy = nil
		seat.DeclaredAt = nil
		seat.LeaveType = nil
		seat.LeaveReason = nil
		return nil, nil
	})
}

func (s *Service) StartGracePeriod(ctx context.Context, id string, req domain.GracePeriodRequest) (*domain.Seat, error) {
	if req.Start.IsZero() || req.End.IsZero() || !req.End.After(req.Start) {
		return nil, domain.ErrInvalidGraceWindow
	}
	start, end := req.Start.UTC(), req.End.UTC()
	return s.mutate(ctx, "seat.grace_period_started", id, func(seat *domain.EmployeeLicense, _ time.Time) (map[string]any, error) {
		seat.GracePeriodStart = &start
		seat.GracePeriodEnd = &end
		return map[string]any{
			"grace_period_start": start.Format(time.RFC3339),
			"grace_period_end":   end.Format(time.RFC3339),
		}, nil
	})
}

// Deactivate terminates the seat at at. With deactivationGraceDays set the seat
// stays billable through a grace window starting at at.
func (s *Service) Deactivate(ctx context.Context, id string, at time.Time) (*domain.Seat, error) {
	graceDays := s.policy.Get().DeactivationGraceDays
	return s.mutate(ctx, "seat.deactivated", id, func(seat *domain.EmployeeLicense, now time.Time) (map[string]any, error) {
		if seat.ContractualStatus == domain.ContractualTerminated {
			return nil, domain.ErrInvalidTransition
		}
		when := at.UTC()
		if at.IsZero() {
			when = now
		}
		if !when.After(seat.ActivationDate) {
			return nil, domain.ErrInvalidDeactivationDate
		}
		seat.ContractualStatus = domain.ContractualTerminated
		seat.DeactivationDate = &when
		if graceDays > 0 {
			end := when.AddDate(0, 0, graceDays)
			seat.GracePeriodStart = &when
			seat.GracePeriodEnd = &end
		}
		return map[string]any{"deactivation_date": when.Format(time.RFC3339)}, nil
	})
}

func (s *Service) Reactivate(ctx context.Context, id string) (*domain.Seat, error) {
	return s.mutate(ctx, "seat.reactivated", id, func(seat *domain.EmployeeLicense, _ time.Time) (map[string]any, error) {
		if seat.ContractualStatus == domain.ContractualActive {
			return nil, domain.ErrInvalidTransition
		}
		seat.ContractualStatus = domain.ContractualActive
		seat.DeactivationDate = nil
		return nil, nil
	})
}

func (s *Service) Suspend(ctx context.Context, id string) (*domain.Seat, error) {
	return s.mutate(ctx, "seat.suspended", id, func(seat *domain.EmployeeLicense, _ time.Time) (map[string]any, error) {
		if seat.ContractualStatus != domain.ContractualActive {
			return nil, domain.ErrInvalidTransition
		}
		seat.ContractualStatus = domain.ContractualSuspended
		return nil, nil
	})
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]domain.Seat, error) {
	licenseID, err := parseID(req.GlobalLicenseID, domain.ErrInvalidLicenseID)
	if err != nil {
		return nil, err
	}
	var filter *domain.Classification
	if req.Classification != "" {
		c, err := domain.ParseClassification(string(req.Classification))
		if err != nil {
			return nil, err
		}
		filter = &c
	}

	now := s.clock.Now().UTC()
	seats, err := s.repo.ListByLicense(ctx, s.db, licenseID, filter, now)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Seat, 0, len(seats))
	for i := range seats {
		out = append(out, *s.view(&seats[i], now))
	}
	return out, nil
}

func (s *Service) Summary(ctx context.Context, licenseID string) (*domain.Summary, error) {
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

	now := s.clock.Now().UTC()
	seats, err := s.repo.ListByLicense(ctx, s.db, id, nil, now)
	if err != nil {
		return nil, err
	}
	tally := domain.Tally(seats, now)
	for c, n := range tally {
		s.metrics.SetSeatClassification(string(c), n)
	}
	return &domain.Summary{
		GlobalLicenseID: id,
		Billable:        tally[domain.Billable],
		GracePeriod:     tally[domain.GracePeriod],
		NonBillable:     tally[domain.NonBillable],
		BillableTotal:   domain.CountBillable(seats, now),
		At:              now,
	}, nil
}

type mutation func(seat *domain.EmployeeLicense, now time.Time) (map[string]any, error)

// mutate applies fn to the locked seat, persists it, refreshes the license
// seat total and notifies the headcount observer after commit.
func (s *Service) mutate(ctx context.Context, action, id string, fn mutation) (result *domain.Seat, err error) {
	seatID, err := parseID(id, domain.ErrInvalidID)
	if err != nil {
		return nil, err
	}

	ctx, span := tracing.Start(ctx, tracerName, action, attribute.String("seat_id", seatID.String()))
	defer func() { tracing.End(span, err) }()

	now := s.clock.Now().UTC()
	var seat *domain.EmployeeLicense
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		seat, err = s.repo.FindForUpdate(ctx, tx, seatID)
		if err != nil {
			return err
		}
		if seat == nil {
			return domain.ErrNotFound
		}

		metadata, err := fn(seat, now)
		if err != nil {
			return err
		}
		if err := seat.Validate(); err != nil {
			return err
		}
		seat.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, seat); err != nil {
			return err
		}
		if err := s.recount(ctx, tx, seat.GlobalLicenseID, now); err != nil {
			return err
		}

		license, err := s.licenseRepo.FindByID(ctx, tx, seat.GlobalLicenseID)
		if err != nil {
			return err
		}
		var tenantID snowflake.ID
		if license != nil {
			tenantID = license.TenantID
		}
		return s.audit(ctx, tx, tenantID, seat, action, metadata)
	})
	if err != nil {
		s.metrics.ObserveError(action, err)
		return nil, err
	}

	s.notify(ctx, seat.GlobalLicenseID)
	return s.view(seat, now), nil
}

// recount refreshes the license's derived seat total from the current seats.
func (s *Service) recount(ctx context.Context, tx *gorm.DB, licenseID snowflake.ID, now time.Time) error {
	seats, err := s.repo.ListByLicense(ctx, tx, licenseID, nil, now)
	if err != nil {
		return err
	}
	return s.licenseRepo.UpdateSeatTotals(ctx, tx, licenseID, domain.CountBillable(seats, now), now)
}

func (s *Service) notify(ctx context.Context, licenseID snowflake.ID) {
	if s.observer == nil {
		return
	}
	if err := s.observer.HeadcountChanged(ctx, licenseID); err != nil {
		s.log.Warn("headcount observer failed",
			zap.String("license_id", licenseID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, seat *domain.EmployeeLicense, action string, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["global_license_id"] = seat.GlobalLicenseID.String()
	metadata["contractual_status"] = string(seat.ContractualStatus)

	entry := auditdomain.Entry{
		Action:     action,
		TargetType: "employee_license",
		TargetID:   seat.ID.String(),
		Metadata:   metadata,
	}
	if tenantID != 0 {
		entry.TenantID = &tenantID
	}
	return s.auditSvc.Record(ctx, tx, entry)
}

func (s *Service) view(seat *domain.EmployeeLicense, now time.Time) *domain.Seat {
	return &domain.Seat{EmployeeLicense: *seat, BillingStatus: domain.Classify(seat, now)}
}

func parseID(raw string, invalid error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, invalid
	}
	return id, nil
}
