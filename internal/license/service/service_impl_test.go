package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	adjustmentdomain "github.com/smallbiznis/seatbill/internal/adjustment/domain"
	adjustmentrepository "github.com/smallbiznis/seatbill/internal/adjustment/repository"
	auditdomain "github.com/smallbiznis/seatbill/internal/audit/domain"
	auditrepository "github.com/smallbiznis/seatbill/internal/audit/repository"
	auditservice "github.com/smallbiznis/seatbill/internal/audit/service"
	billingcycledomain "github.com/smallbiznis/seatbill/internal/billingcycle/domain"
	billingcyclerepository "github.com/smallbiznis/seatbill/internal/billingcycle/repository"
	billingcycleservice "github.com/smallbiznis/seatbill/internal/billingcycle/service"
	"github.com/smallbiznis/seatbill/internal/clock"
	"github.com/smallbiznis/seatbill/internal/config"
	"github.com/smallbiznis/seatbill/internal/costing"
	exchangeratemocks "github.com/smallbiznis/seatbill/internal/exchangerate/domain/mocks"
	"github.com/smallbiznis/seatbill/internal/license/domain"
	"github.com/smallbiznis/seatbill/internal/license/repository"
	obsmetrics "github.com/smallbiznis/seatbill/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/seatbill/internal/payment/domain"
	"github.com/smallbiznis/seatbill/internal/payment/reference"
	paymentrepository "github.com/smallbiznis/seatbill/internal/payment/repository"
	paymentservice "github.com/smallbiznis/seatbill/internal/payment/service"
	paymentmethoddomain "github.com/smallbiznis/seatbill/internal/paymentmethod/domain"
	paymentmethodrepository "github.com/smallbiznis/seatbill/internal/paymentmethod/repository"
	paymentmethodservice "github.com/smallbiznis/seatbill/internal/paymentmethod/service"
	seatdomain "github.com/smallbiznis/seatbill/internal/seat/domain"
	seatrepository "github.com/smallbiznis/seatbill/internal/seat/repository"
	taxdomain "github.com/smallbiznis/seatbill/internal/tax/domain"
	taxmocks "github.com/smallbiznis/seatbill/internal/tax/domain/mocks"
	tenantdomain "github.com/smallbiznis/seatbill/internal/tenant/domain"
	tenantrepository "github.com/smallbiznis/seatbill/internal/tenant/repository"
	tenantservice "github.com/smallbiznis/seatbill/internal/tenant/service"
	"github.com/smallbiznis/seatbill/internal/testutil"
	"github.com/smallbiznis/seatbill/pkg/errkind"
	"github.com/smallbiznis/seatbill/pkg/keylock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var now = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

type failingReferences struct{}

func (failingReferences) Next(context.Context) (string, error) {
	return "", errors.New("sequence unavailable")
}

type fixture struct {
	db       *gorm.DB
	svc      domain.Service
	clock    *clock.FakeClock
	node     *snowflake.Node
	tax      *taxmocks.MockProvider
	rates    *exchangeratemocks.MockProvider
	registry *prometheus.Registry
	tenant   *tenantdomain.Tenant
	seats    int
}

func newFixture(t *testing.T, refs paymentdomain.ReferenceGenerator) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t,
		&domain.GlobalLicense{},
		&seatdomain.EmployeeLicense{},
		&billingcycledomain.BillingCycle{},
		&adjustmentdomain.LicenseAdjustment{},
		&paymentdomain.PaymentTransaction{},
		&paymentmethoddomain.PaymentMethod{},
		&tenantdomain.Tenant{},
		&auditdomain.AuditLog{},
	)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(now)
	log := zap.NewNop()
	ctx := context.Background()
	policy := config.StaticPolicy(config.DefaultBillingPolicy())
	ctrl := gomock.NewController(t)

	registry := prometheus.NewRegistry()
	metrics := obsmetrics.NewBillingMetrics(registry, obsmetrics.Config{ServiceName: "seatbill-test"}, nil)
	auditSvc := auditservice.NewService(auditservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: auditrepository.Provide(),
	})

	tenants := tenantservice.NewService(tenantservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: tenantrepository.Provide(),
	})
	tenant, err := tenants.Create(ctx, tenantdomain.CreateTenantRequest{
		Name:            "Acme Nusantara",
		CountryCode:     "ID",
		BillingCurrency: "USD",
		BillingEmail:    "billing@acme.test",
	})
	require.NoError(t, err)

	methods := paymentmethodservice.NewService(paymentmethodservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: paymentmethodrepository.Provide(),
	})
	_, err = methods.Register(ctx, paymentmethoddomain.RegisterRequest{Code: "BANK_TRANSFER", Name: "Bank transfer", IsDefault: true})
	require.NoError(t, err)

	if refs == nil {
		refs = reference.NewULIDGenerator(clk)
	}
	cycleRepo := billingcyclerepository.Provide()
	adjustmentRepo := adjustmentrepository.Provide()
	payments := paymentservice.NewService(paymentservice.Params{
		DB:             db,
		Log:            log,
		GenID:          node,
		Clock:          clk,
		Policy:         policy,
		Repo:           paymentrepository.Provide(),
		References:     refs,
		CycleRepo:      cycleRepo,
		AdjustmentRepo: adjustmentRepo,
		AuditSvc:       auditSvc,
		Metrics:        metrics,
	})

	taxProvider := taxmocks.NewMockProvider(ctrl)
	rates := exchangeratemocks.NewMockProvider(ctrl)
	cycles := billingcycleservice.NewService(billingcycleservice.Params{
		DB:             db,
		Log:            log,
		GenID:          node,
		Clock:          clk,
		Policy:         policy,
		Repo:           cycleRepo,
		LicenseRepo:    repository.Provide(),
		SeatRepo:       seatrepository.Provide(),
		AdjustmentRepo: adjustmentRepo,
		Payments:       payments,
		TenantSvc:      tenants,
		TaxProvider:    taxProvider,
		RateProvider:   rates,
		PaymentMethods: paymentmethodservice.AsRegistry(methods),
		AuditSvc:       auditSvc,
		Metrics:        metrics,
	})

	svc := NewService(Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    clk,
		Repo:     repository.Provide(),
		SeatRepo: seatrepository.Provide(),
		Cycles:   cycles,
		Locker:   keylock.NewMemoryLocker(),
		AuditSvc: auditSvc,
		Metrics:  metrics,
	})

	return &fixture{
		db:       db,
		svc:      svc,
		clock:    clk,
		node:     node,
		tax:      taxProvider,
		rates:    rates,
		registry: registry,
		tenant:   tenant,
	}
}

func (f *fixture) priceWithVAT() {
	f.rates.EXPECT().GetRate(gomock.Any(), "USD", "USD").Return(decimal.NewFromInt(1), nil).AnyTimes()
	f.tax.EXPECT().GetActiveRulesForCountry(gomock.Any(), "ID").
		Return([]costing.TaxRule{{Name: "VAT", Rate: decimal.RequireFromString("0.10")}}, nil).AnyTimes()
}

func (f *fixture) request() domain.CreateRequest {
	return domain.CreateRequest{
		TenantID:           f.tenant.ID.String(),
		LicenseType:        "standard",
		BillingCycleMonths: 1,
		BasePriceUSD:       decimal.NewFromInt(10),
		MinimumSeats:       5,
	}
}

func (f *fixture) addSeats(t *testing.T, licenseID snowflake.ID, n int) {
	t.Helper()
	repo := seatrepository.Provide()
	for i := 0; i < n; i++ {
		f.seats++
		require.NoError(t, repo.Insert(context.Background(), f.db, &seatdomain.EmployeeLicense{
			ID:                f.node.Generate(),
			GlobalLicenseID:   licenseID,
			EmployeeCode:      "EMP-" + strconv.Itoa(f.seats),
			ActivationDate:    f.clock.Now(),
			ContractualStatus: seatdomain.ContractualActive,
			CreatedAt:         f.clock.Now(),
			UpdatedAt:         f.clock.Now(),
		}))
	}
}

func (f *fixture) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Count(&n).Error)
	return n
}

func (f *fixture) cycles(t *testing.T, licenseID snowflake.ID) []billingcycledomain.BillingCycle {
	t.Helper()
	items, err := billingcyclerepository.Provide().ListByLicense(context.Background(), f.db, licenseID)
	require.NoError(t, err)
	return items
}

func TestCreateBillsInitialCycle(t *testing.T) {
	f := newFixture(t, nil)
	f.priceWithVAT()
	ctx := context.Background()

	license, err := f.svc.Create(ctx, f.request())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, license.Status)
	assert.Equal(t, "STANDARD", license.LicenseType)
	assert.True(t, license.CurrentPeriodEnd.Equal(now.AddDate(0, 1, 0)))

	cycles := f.cycles(t, license.ID)
	require.Len(t, cycles, 1)
	cycle := cycles[0]
	assert.Equal(t, "50.00", cycle.BaseAmountUSD.StringFixed(2))
	assert.Equal(t, "5.00", cycle.TaxAmountUSD.StringFixed(2))
	assert.Equal(t, "55.00", cycle.TotalAmountUSD.StringFixed(2))
	assert.True(t, cycle.ExchangeRate.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, "55.00", cycle.TotalAmountLocal.StringFixed(2))
	assert.Equal(t, 5, cycle.BaseEmployeeCount)
	assert.Equal(t, 0, cycle.FinalEmployeeCount)
	assert.Equal(t, billingcycledomain.StatusPending, cycle.Status)
	assert.True(t, cycle.PaymentDueDate.Equal(cycle.PeriodEnd.AddDate(0, 0, 7)))
	require.Len(t, cycle.TaxRulesApplied, 1)

	adjustments, err := adjustmentrepository.Provide().ListByLicense(ctx, f.db, license.ID)
	require.NoError(t, err)
	require.Len(t, adjustments, 1)
	assert.True(t, adjustments[0].IsBaseline)
	assert.Equal(t, adjustmentdomain.PaymentStatusCompleted, adjustments[0].PaymentStatus)
	assert.True(t, adjustments[0].TotalUSD.IsZero())

	cycleID := cycle.ID
	txns, err := paymentrepository.Provide().List(ctx, f.db, paymentdomain.ListFilter{BillingCycleID: &cycleID})
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, paymentdomain.StatusPending, txns[0].Status)
	assert.Equal(t, "55.00", txns[0].AmountUSD.StringFixed(2))
	assert.Equal(t, "BANK_TRANSFER", txns[0].PaymentMethod)
	assert.Equal(t, adjustments[0].ID, txns[0].AdjustmentID)

	stored, err := f.svc.Get(ctx, license.ID.String())
	require.NoError(t, err)
	require.NotNil(t, stored.BillingGeneratedAt)
	assert.Equal(t, 5, stored.BilledSeatCount)

	expected := `
# HELP seatbill_billing_cycles_generated_total Billing cycle generation calls by outcome.
# TYPE seatbill_billing_cycles_generated_total counter
seatbill_billing_cycles_generated_total{env="unknown",outcome="created",service="seatbill-test"} 1
`
	require.NoError(t, promtestutil.GatherAndCompare(f.registry, strings.NewReader(expected), "seatbill_billing_cycles_generated_total"))
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, nil)
	cases := map[string]struct {
		mutate func(r *domain.CreateRequest)
		want   error
	}{
		"tenant":   {func(r *domain.CreateRequest) { r.TenantID = "x" }, domain.ErrInvalidTenant},
		"type":     {func(r *domain.CreateRequest) { r.LicenseType = " " }, domain.ErrInvalidLicenseType},
		"months":   {func(r *domain.CreateRequest) { r.BillingCycleMonths = 0 }, domain.ErrInvalidCycleMonths},
		"price":    {func(r *domain.CreateRequest) { r.BasePriceUSD = decimal.Zero }, domain.ErrInvalidBasePrice},
		"min seat": {func(r *domain.CreateRequest) { r.MinimumSeats = -1 }, domain.ErrInvalidMinimumSeats},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := f.request()
			tc.mutate(&req)
			_, err := f.svc.Create(context.Background(), req)
			assert.ErrorIs(t, err, tc.want)
			assert.ErrorIs(t, err, errkind.Validation)
		})
	}
}

func TestCreateRejectsSecondActiveLicense(t *testing.T) {
	f := newFixture(t, nil)
	f.priceWithVAT()
	ctx := context.Background()

	_, err := f.svc.Create(ctx, f.request())
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, f.request())
	assert.ErrorIs(t, err, domain.ErrActiveLicenseExists)
	assert.ErrorIs(t, err, errkind.Conflict)
	assert.Equal(t, int64(1), f.count(t, &domain.GlobalLicense{}))
}

func TestCreateFailsWithoutTaxRules(t *testing.T) {
	f := newFixture(t, nil)
	f.rates.EXPECT().GetRate(gomock.Any(), "USD", "USD").Return(decimal.NewFromInt(1), nil)
	f.tax.EXPECT().GetActiveRulesForCountry(gomock.Any(), "ID").Return(nil, taxdomain.ErrMissingTaxRules)

	_, err := f.svc.Create(context.Background(), f.request())
	assert.ErrorIs(t, err, errkind.MissingTaxRules)
	assert.Equal(t, int64(0), f.count(t, &domain.GlobalLicense{}))
	assert.Equal(t, int64(0), f.count(t, &billingcycledomain.BillingCycle{}))
}

func TestCreateRollsBackWholeCascade(t *testing.T) {
	f := newFixture(t, failingReferences{})
	f.priceWithVAT()

	_, err := f.svc.Create(context.Background(), f.request())
	require.Error(t, err)
	assert.Equal(t, int64(0), f.count(t, &domain.GlobalLicense{}))
	assert.Equal(t, int64(0), f.count(t, &billingcycledomain.BillingCycle{}))
	assert.Equal(t, int64(0), f.count(t, &adjustmentdomain.LicenseAdjustment{}))
	assert.Equal(t, int64(0), f.count(t, &paymentdomain.PaymentTransaction{}))
	assert.Equal(t, int64(0), f.count(t, &auditdomain.AuditLog{}))
}

func TestEnsureBillingIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	f.priceWithVAT()
	ctx := context.Background()

	// A license stored without its billing graph, as after an interrupted activation.
	license := &domain.GlobalLicense{
		ID:                 f.node.Generate(),
		TenantID:           f.tenant.ID,
		LicenseType:        "STANDARD",
		BillingCycleMonths: 1,
		BasePriceUSD:       decimal.NewFromInt(10),
		MinimumSeats:       5,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		NextRenewalDate:    now.AddDate(0, 1, 0),
		Status:             domain.StatusActive,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	require.NoError(t, repository.Provide().Insert(ctx, f.db, license))
	f.addSeats(t, license.ID, 3)

	n, err := f.svc.EnsurePendingBilling(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	again, err := f.svc.EnsureBilling(ctx, license.ID.String())
	require.NoError(t, err)
	require.NotNil(t, again.BillingGeneratedAt)

	n, err = f.svc.EnsurePendingBilling(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	cycles := f.cycles(t, license.ID)
	require.Len(t, cycles, 1)
	assert.Equal(t, 3, cycles[0].FinalEmployeeCount)
	assert.Equal(t, "55.00", cycles[0].TotalAmountUSD.StringFixed(2))
	assert.Equal(t, int64(1), f.count(t, &paymentdomain.PaymentTransaction{}))

	expected := `
# HELP seatbill_billing_cycles_generated_total Billing cycle generation calls by outcome.
# TYPE seatbill_billing_cycles_generated_total counter
seatbill_billing_cycles_generated_total{env="unknown",outcome="created",service="seatbill-test"} 1
seatbill_billing_cycles_generated_total{env="unknown",outcome="existing",service="seatbill-test"} 1
`
	require.NoError(t, promtestutil.GatherAndCompare(f.registry, strings.NewReader(expected), "seatbill_billing_cycles_generated_total"))
}

func TestStatusTransitions(t *testing.T) {
	f := newFixture(t, nil)
	f.priceWithVAT()
	ctx := context.Background()
	license, err := f.svc.Create(ctx, f.request())
	require.NoError(t, err)
	id := license.ID.String()

	suspended, err := f.svc.Suspend(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuspended, suspended.Status)

	_, err = f.svc.EnsureBilling(ctx, id)
	assert.ErrorIs(t, err, domain.ErrLicenseNotBillable)

	active, err := f.svc.Activate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, active.Status)
	assert.Len(t, f.cycles(t, license.ID), 1)

	_, err = f.svc.Cancel(ctx, id)
	require.NoError(t, err)
	_, err = f.svc.Activate(ctx, id)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.ErrorIs(t, err, errkind.InvalidState)
	_, err = f.svc.Expire(ctx, id)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	stored, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, stored.Status)
}

func TestActivateRejectsSecondActiveLicense(t *testing.T) {
	f := newFixture(t, nil)
	f.priceWithVAT()
	ctx := context.Background()
	first, err := f.svc.Create(ctx, f.request())
	require.NoError(t, err)
	_, err = f.svc.Suspend(ctx, first.ID.String())
	require.NoError(t, err)

	second, err := f.svc.Create(ctx, f.request())
	require.NoError(t, err)

	_, err = f.svc.Activate(ctx, first.ID.String())
	assert.ErrorIs(t, err, domain.ErrActiveLicenseExists)
	assert.ErrorIs(t, err, errkind.Conflict)

	var active int64
	require.NoError(t, f.db.Model(&domain.GlobalLicense{}).
		Where("tenant_id = ? AND status = ?", f.tenant.ID, domain.StatusActive).
		Count(&active).Error)
	assert.Equal(t, int64(1), active)

	stored, err := f.svc.Get(ctx, first.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuspended, stored.Status)

	_, err = f.svc.Cancel(ctx, second.ID.String())
	require.NoError(t, err)
	reactivated, err := f.svc.Activate(ctx, first.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, reactivated.Status)
}

func TestRenewAdvancesPeriodAndBillsIt(t *testing.T) {
	f := newFixture(t, nil)
	f.priceWithVAT()
	ctx := context.Background()
	license, err := f.svc.Create(ctx, f.request())
	require.NoError(t, err)
	id := license.ID.String()

	_, err = f.svc.Renew(ctx, id)
	assert.ErrorIs(t, err, domain.ErrRenewalNotDue)

	f.addSeats(t, license.ID, 7)
	f.clock.Set(license.NextRenewalDate)
	renewed, err := f.svc.Renew(ctx, id)
	require.NoError(t, err)
	assert.True(t, renewed.CurrentPeriodStart.Equal(license.CurrentPeriodEnd))
	assert.True(t, renewed.CurrentPeriodEnd.Equal(license.CurrentPeriodEnd.AddDate(0, 1, 0)))
	assert.True(t, renewed.NextRenewalDate.Equal(renewed.CurrentPeriodEnd))
	assert.Equal(t, 7, renewed.BilledSeatCount)
	assert.Equal(t, 7, renewed.TotalSeatsPurchased)

	cycles := f.cycles(t, license.ID)
	require.Len(t, cycles, 2)
	latest := cycles[0]
	if latest.PeriodStart.Before(cycles[1].PeriodStart) {
		latest = cycles[1]
	}
	assert.Equal(t, "77.00", latest.TotalAmountUSD.StringFixed(2))
	assert.Equal(t, 7, latest.BaseEmployeeCount)
}

func TestRenewDueRenewsOnlyLapsedLicenses(t *testing.T) {
	f := newFixture(t, nil)
	f.priceWithVAT()
	ctx := context.Background()
	license, err := f.svc.Create(ctx, f.request())
	require.NoError(t, err)

	renewed, err := f.svc.RenewDue(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, renewed)

	f.clock.Set(license.NextRenewalDate.Add(time.Hour))
	renewed, err = f.svc.RenewDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, renewed)
	assert.Len(t, f.cycles(t, license.ID), 2)

	renewed, err = f.svc.RenewDue(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, renewed)
}

func TestDeleteGuardsFinancialHistory(t *testing.T) {
	f := newFixture(t, nil)
	f.priceWithVAT()
	ctx := context.Background()

	billed, err := f.svc.Create(ctx, f.request())
	require.NoError(t, err)
	err = f.svc.Delete(ctx, billed.ID.String())
	assert.ErrorIs(t, err, domain.ErrHasFinancialHistory)
	assert.ErrorIs(t, err, errkind.Conflict)

	draft := &domain.GlobalLicense{
		ID:                 f.node.Generate(),
		TenantID:           f.node.Generate(),
		LicenseType:        "STANDARD",
		BillingCycleMonths: 1,
		BasePriceUSD:       decimal.NewFromInt(10),
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		NextRenewalDate:    now.AddDate(0, 1, 0),
		Status:             domain.StatusSuspended,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	require.NoError(t, repository.Provide().Insert(ctx, f.db, draft))
	f.addSeats(t, draft.ID, 2)

	require.NoError(t, f.svc.Delete(ctx, draft.ID.String()))
	_, err = f.svc.Get(ctx, draft.ID.String())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, int64(0), f.count(t, &seatdomain.EmployeeLicense{}))
}
