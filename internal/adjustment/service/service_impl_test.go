package service

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/seatbill/internal/adjustment/domain"
	"github.com/smallbiznis/seatbill/internal/adjustment/repository"
	auditdomain "github.com/smallbiznis/seatbill/internal/audit/domain"
	auditrepository "github.com/smallbiznis/seatbill/internal/audit/repository"
	auditservice "github.com/smallbiznis/seatbill/internal/audit/service"
	billingcycledomain "github.com/smallbiznis/seatbill/internal/billingcycle/domain"
	billingcyclerepository "github.com/smallbiznis/seatbill/internal/billingcycle/repository"
	"github.com/smallbiznis/seatbill/internal/clock"
	"github.com/smallbiznis/seatbill/internal/config"
	"github.com/smallbiznis/seatbill/internal/costing"
	licensedomain "github.com/smallbiznis/seatbill/internal/license/domain"
	licenserepository "github.com/smallbiznis/seatbill/internal/license/repository"
	obsmetrics "github.com/smallbiznis/seatbill/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/seatbill/internal/payment/domain"
	"github.com/smallbiznis/seatbill/internal/payment/reference"
	paymentrepository "github.com/smallbiznis/seatbill/internal/payment/repository"
	paymentservice "github.com/smallbiznis/seatbill/internal/payment/service"
	seatdomain "github.com/smallbiznis/seatbill/internal/seat/domain"
	seatrepository "github.com/smallbiznis/seatbill/internal/seat/repository"
	"github.com/smallbiznis/seatbill/internal/testutil"
	"github.com/smallbiznis/seatbill/pkg/errkind"
	"github.com/smallbiznis/seatbill/pkg/keylock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var periodStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

type staticPricing struct {
	pricing billingcycledomain.Pricing
}

func (p staticPricing) ResolvePricing(context.Context, snowflake.ID) (billingcycledomain.Pricing, error) {
	return p.pricing, nil
}

type fixture struct {
	db       *gorm.DB
	svc      *Service
	clock    *clock.FakeClock
	node     *snowflake.Node
	license  *licensedomain.GlobalLicense
	payments paymentdomain.Service
	seats    int
}

func tenPercent() billingcycledomain.Pricing {
	return billingcycledomain.Pricing{
		CountryCode:   "ID",
		Currency:      "USD",
		ExchangeRate:  decimal.NewFromInt(1),
		TaxRules:      []costing.TaxRule{{Name: "VAT", Rate: decimal.RequireFromString("0.10")}},
		PaymentMethod: "BANK_TRANSFER",
	}
}

// newFixture builds an ACTIVE monthly license priced at 10 USD per seat with
// a five seat minimum that was billed for five seats at period start.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t,
		&domain.LicenseAdjustment{},
		&licensedomain.GlobalLicense{},
		&seatdomain.EmployeeLicense{},
		&billingcycledomain.BillingCycle{},
		&paymentdomain.PaymentTransaction{},
		&auditdomain.AuditLog{},
	)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(periodStart.AddDate(0, 0, 10))
	log := zap.NewNop()
	ctx := context.Background()
	policy := config.StaticPolicy(config.DefaultBillingPolicy())

	auditSvc := auditservice.NewService(auditservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: auditrepository.Provide(),
	})
	metrics := obsmetrics.NewBillingMetrics(prometheus.NewRegistry(), obsmetrics.Config{ServiceName: "seatbill-test"}, nil)

	licenseRepo := licenserepository.Provide()
	license := &licensedomain.GlobalLicense{
		ID:                 node.Generate(),
		TenantID:           node.Generate(),
		LicenseType:        "STANDARD",
		BillingCycleMonths: 1,
		BasePriceUSD:       decimal.NewFromInt(10),
		MinimumSeats:       5,
		CurrentPeriodStart: periodStart,
		CurrentPeriodEnd:   periodStart.AddDate(0, 1, 0),
		NextRenewalDate:    periodStart.AddDate(0, 1, 0),
		Status:             licensedomain.StatusActive,
		BilledSeatCount:    5,
		CreatedAt:          periodStart,
		UpdatedAt:          periodStart,
	}
	require.NoError(t, licenseRepo.Insert(ctx, db, license))

	cycleRepo := billingcyclerepository.Provide()
	require.NoError(t, cycleRepo.Insert(ctx, db, &billingcycledomain.BillingCycle{
		ID:                    node.Generate(),
		GlobalLicenseID:       license.ID,
		PeriodStart:           license.CurrentPeriodStart,
		PeriodEnd:             license.CurrentPeriodEnd,
		BaseEmployeeCount:     5,
		FinalEmployeeCount:    3,
		BaseAmountUSD:         decimal.NewFromInt(50),
		AdjustmentAmountUSD:   decimal.Zero,
		TaxAmountUSD:          decimal.NewFromInt(5),
		TotalAmountUSD:        decimal.NewFromInt(55),
		BaseAmountLocal:       decimal.NewFromInt(50),
		AdjustmentAmountLocal: decimal.Zero,
		TaxAmountLocal:        decimal.NewFromInt(5),
		TotalAmountLocal:      decimal.NewFromInt(55),
		Currency:              "USD",
		ExchangeRate:          decimal.NewFromInt(1),
		Status:                billingcycledomain.StatusPending,
		PaymentDueDate:        license.CurrentPeriodEnd.AddDate(0, 0, 7),
		CreatedAt:             periodStart,
		UpdatedAt:             periodStart,
	}))

	adjustmentRepo := repository.Provide()
	payments := paymentservice.NewService(paymentservice.Params{
		DB:             db,
		Log:            log,
		GenID:          node,
		Clock:          clk,
		Policy:         policy,
		Repo:           paymentrepository.Provide(),
		References:     reference.NewULIDGenerator(clk),
		CycleRepo:      cycleRepo,
		AdjustmentRepo: adjustmentRepo,
		AuditSvc:       auditSvc,
		Metrics:        metrics,
	})

	svc := NewService(Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       clk,
		Policy:      policy,
		Repo:        adjustmentRepo,
		LicenseRepo: licenseRepo,
		SeatRepo:    seatrepository.Provide(),
		CycleRepo:   cycleRepo,
		Pricing:     staticPricing{pricing: tenPercent()},
		Payments:    payments,
		Locker:      keylock.NewMemoryLocker(),
		AuditSvc:    auditSvc,
		Metrics:     metrics,
	}).(*Service)

	return &fixture{db: db, svc: svc, clock: clk, node: node, license: license, payments: payments}
}

func (f *fixture) addSeats(t *testing.T, n int) {
	t.Helper()
	repo := seatrepository.Provide()
	for i := 0; i < n; i++ {
		f.seats++
		require.NoError(t, repo.Insert(context.Background(), f.db, &seatdomain.EmployeeLicense{
			ID:                f.node.Generate(),
			GlobalLicenseID:   f.license.ID,
			EmployeeCode:      "EMP-" + strconv.Itoa(f.seats),
			ActivationDate:    periodStart,
			ContractualStatus: seatdomain.ContractualActive,
			CreatedAt:         periodStart,
			UpdatedAt:         periodStart,
		}))
	}
}

func (f *fixture) billedSeats(t *testing.T) int {
	t.Helper()
	license, err := licenserepository.Provide().FindByID(context.Background(), f.db, f.license.ID)
	require.NoError(t, err)
	return license.BilledSeatCount
}

func (f *fixture) pendingCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&domain.LicenseAdjustment{}).
		Where("global_license_id = ? AND payment_status = ?", f.license.ID, domain.PaymentStatusPending).
		Count(&n).Error)
	return n
}

func TestSyncBillableGrowthProratesAddedSeats(t *testing.T) {
	f := newFixture(t)
	f.addSeats(t, 7)

	view, err := f.svc.SyncBillableGrowth(context.Background(), f.license.ID)
	require.NoError(t, err)
	require.NotNil(t, view)

	assert.Equal(t, 2, view.EmployeesAdded)
	assert.Equal(t, 1, view.MonthsRemaining)
	assert.Equal(t, "20.00", view.SubtotalUSD.StringFixed(2))
	assert.Equal(t, "2.00", view.TaxUSD.StringFixed(2))
	assert.Equal(t, "22.00", view.TotalUSD.StringFixed(2))
	assert.Equal(t, "22.00", view.TotalLocal.StringFixed(2))
	assert.Equal(t, domain.PaymentStatusPending, view.PaymentStatus)
	assert.True(t, view.PaymentDueImmediately)
	assert.False(t, view.IsBaseline)
	assert.Equal(t, "2 × 10.00 × 1", view.CalculationBreakdown)
	require.Len(t, view.TaxRulesApplied, 1)
	assert.Equal(t, "VAT", view.TaxRulesApplied[0].Name)
	assert.Equal(t, 7, f.billedSeats(t))
}

func TestSyncBillableGrowthWithinMinimumIsNoop(t *testing.T) {
	f := newFixture(t)
	f.addSeats(t, 4)

	view, err := f.svc.SyncBillableGrowth(context.Background(), f.license.ID)
	require.NoError(t, err)
	assert.Nil(t, view)
	assert.Equal(t, int64(0), f.pendingCount(t))
	assert.Equal(t, 5, f.billedSeats(t))
}

func TestGrowthMergesIntoPendingAdjustment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addSeats(t, 7)
	first, err := f.svc.SyncBillableGrowth(ctx, f.license.ID)
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)
	f.addSeats(t, 1)
	merged, err := f.svc.SyncBillableGrowth(ctx, f.license.ID)
	require.NoError(t, err)

	assert.Equal(t, first.ID, merged.ID)
	assert.Equal(t, 3, merged.EmployeesAdded)
	assert.Equal(t, "33.00", merged.TotalUSD.StringFixed(2))
	assert.True(t, merged.AdjustmentDate.Equal(f.clock.Now()))
	assert.Equal(t, int64(1), f.pendingCount(t))
	assert.Equal(t, 8, f.billedSeats(t))
}

func TestInvoicedAdjustmentBlocksNewProposal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addSeats(t, 7)
	view, err := f.svc.SyncBillableGrowth(ctx, f.license.ID)
	require.NoError(t, err)

	confirmed, err := f.svc.Confirm(ctx, view.ID.String())
	require.NoError(t, err)
	require.NotNil(t, confirmed.InvoiceSentAt)
	assert.Equal(t, domain.PaymentStatusPending, confirmed.PaymentStatus)

	adjustmentID := view.ID
	txns, err := f.payments.List(ctx, paymentdomain.ListFilter{AdjustmentID: &adjustmentID})
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, paymentdomain.StatusPending, txns[0].Status)
	assert.Equal(t, "22.00", txns[0].AmountUSD.StringFixed(2))
	assert.Equal(t, "BANK_TRANSFER", txns[0].PaymentMethod)

	f.addSeats(t, 1)
	_, err = f.svc.SyncBillableGrowth(ctx, f.license.ID)
	assert.ErrorIs(t, err, domain.ErrDuplicateAdjustment)
	assert.ErrorIs(t, err, errkind.Conflict)
	assert.Equal(t, int64(1), f.pendingCount(t))
	assert.Equal(t, 7, f.billedSeats(t))
}

func TestCancelledPaymentReopensAdjustmentForGrowth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addSeats(t, 7)
	view, err := f.svc.SyncBillableGrowth(ctx, f.license.ID)
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, view.ID.String())
	require.NoError(t, err)

	adjustmentID := view.ID
	txns, err := f.payments.List(ctx, paymentdomain.ListFilter{AdjustmentID: &adjustmentID})
	require.NoError(t, err)
	require.Len(t, txns, 1)
	_, err = f.payments.Cancel(ctx, txns[0].ID.String())
	require.NoError(t, err)

	reopened, err := f.svc.Get(ctx, view.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, reopened.PaymentStatus)
	assert.Nil(t, reopened.InvoiceSentAt)

	f.addSeats(t, 1)
	merged, err := f.svc.SyncBillableGrowth(ctx, f.license.ID)
	require.NoError(t, err)
	assert.Equal(t, view.ID, merged.ID)
	assert.Equal(t, 3, merged.EmployeesAdded)
	assert.Equal(t, int64(1), f.pendingCount(t))
	assert.Equal(t, 8, f.billedSeats(t))

	confirmed, err := f.svc.Confirm(ctx, view.ID.String())
	require.NoError(t, err)
	require.NotNil(t, confirmed.InvoiceSentAt)

	txns, err = f.payments.List(ctx, paymentdomain.ListFilter{AdjustmentID: &adjustmentID})
	require.NoError(t, err)
	require.Len(t, txns, 2)
	statuses := []paymentdomain.Status{txns[0].Status, txns[1].Status}
	assert.ElementsMatch(t, []paymentdomain.Status{paymentdomain.StatusCancelled, paymentdomain.StatusPending}, statuses)
}

func TestConcurrentProposalsLeaveOnePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Propose(ctx, domain.ProposeRequest{
				GlobalLicenseID: f.license.ID.String(),
				EmployeesAdded:  1,
			})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, int64(1), f.pendingCount(t))
	views, err := f.svc.ListByLicense(ctx, f.license.ID.String())
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, 2, views[0].EmployeesAdded)
	assert.Equal(t, 7, f.billedSeats(t))
}

func TestConfirmRequiresPendingUninvoiced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view, err := f.svc.Propose(ctx, domain.ProposeRequest{GlobalLicenseID: f.license.ID.String(), EmployeesAdded: 2})
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, view.ID.String())
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, view.ID.String())
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.ErrorIs(t, err, errkind.InvalidState)
}

func TestCancelWithdrawsAdjustmentAndPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view, err := f.svc.Propose(ctx, domain.ProposeRequest{GlobalLicenseID: f.license.ID.String(), EmployeesAdded: 2})
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, view.ID.String())
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(ctx, view.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCancelled, cancelled.PaymentStatus)

	adjustmentID := view.ID
	txns, err := f.payments.List(ctx, paymentdomain.ListFilter{AdjustmentID: &adjustmentID})
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, paymentdomain.StatusCancelled, txns[0].Status)

	_, err = f.svc.Confirm(ctx, view.ID.String())
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.svc.Cancel(ctx, view.ID.String())
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestProposeValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Propose(ctx, domain.ProposeRequest{GlobalLicenseID: "nope", EmployeesAdded: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidLicenseID)

	_, err = f.svc.Propose(ctx, domain.ProposeRequest{GlobalLicenseID: f.license.ID.String(), EmployeesAdded: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidSeatCount)
	assert.ErrorIs(t, err, errkind.Validation)

	_, err = f.svc.Propose(ctx, domain.ProposeRequest{GlobalLicenseID: f.node.Generate().String(), EmployeesAdded: 1})
	assert.ErrorIs(t, err, domain.ErrLicenseNotFound)
}

func TestProposeAfterPeriodEnd(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(f.license.CurrentPeriodEnd.Add(time.Hour))

	_, err := f.svc.Propose(context.Background(), domain.ProposeRequest{GlobalLicenseID: f.license.ID.String(), EmployeesAdded: 1})
	assert.ErrorIs(t, err, domain.ErrPeriodEnded)
	assert.Equal(t, int64(0), f.pendingCount(t))
}

func TestProposeOnSuspendedLicense(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ok, err := licenserepository.Provide().UpdateStatus(ctx, f.db, f.license.ID,
		licensedomain.StatusActive, licensedomain.StatusSuspended, f.clock.Now())
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.Propose(ctx, domain.ProposeRequest{GlobalLicenseID: f.license.ID.String(), EmployeesAdded: 1})
	assert.ErrorIs(t, err, domain.ErrLicenseNotActive)

	f.addSeats(t, 9)
	view, err := f.svc.SyncBillableGrowth(ctx, f.license.ID)
	require.NoError(t, err)
	assert.Nil(t, view)
}
