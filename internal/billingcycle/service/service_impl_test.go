package service

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	adjustmentdomain "github.com/smallbiznis/seatbill/internal/adjustment/domain"
	adjustmentrepository "github.com/smallbiznis/seatbill/internal/adjustment/repository"
	auditdomain "github.com/smallbiznis/seatbill/internal/audit/domain"
	auditrepository "github.com/smallbiznis/seatbill/internal/audit/repository"
	auditservice "github.com/smallbiznis/seatbill/internal/audit/service"
	"github.com/smallbiznis/seatbill/internal/billingcycle/domain"
	"github.com/smallbiznis/seatbill/internal/billingcycle/repository"
	"github.com/smallbiznis/seatbill/internal/clock"
	"github.com/smallbiznis/seatbill/internal/config"
	"github.com/smallbiznis/seatbill/internal/costing"
	exchangeratedomain "github.com/smallbiznis/seatbill/internal/exchangerate/domain"
	exchangeratemocks "github.com/smallbiznis/seatbill/internal/exchangerate/domain/mocks"
	licensedomain "github.com/smallbiznis/seatbill/internal/license/domain"
	licenserepository "github.com/smallbiznis/seatbill/internal/license/repository"
	paymentdomain "github.com/smallbiznis/seatbill/internal/payment/domain"
	"github.com/smallbiznis/seatbill/internal/payment/reference"
	paymentrepository "github.com/smallbiznis/seatbill/internal/payment/repository"
	paymentservice "github.com/smallbiznis/seatbill/internal/payment/service"
	paymentmethoddomain "github.com/smallbiznis/seatbill/internal/paymentmethod/domain"
	paymentmethodrepository "github.com/smallbiznis/seatbill/internal/paymentmethod/repository"
	paymentmethodservice "github.com/smallbiznis/seatbill/internal/paymentmethod/service"
	seatdomain "github.com/smallbiznis/seatbill/internal/seat/domain"
	seatrepository "github.com/smallbiznis/seatbill/internal/seat/repository"
	taxmocks "github.com/smallbiznis/seatbill/internal/tax/domain/mocks"
	tenantdomain "github.com/smallbiznis/seatbill/internal/tenant/domain"
	tenantrepository "github.com/smallbiznis/seatbill/internal/tenant/repository"
	tenantservice "github.com/smallbiznis/seatbill/internal/tenant/service"
	"github.com/smallbiznis/seatbill/internal/testutil"
	"github.com/smallbiznis/seatbill/pkg/errkind"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var periodStart = time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	db      *gorm.DB
	svc     domain.Service
	clock   *clock.FakeClock
	node    *snowflake.Node
	tax     *taxmocks.MockProvider
	rates   *exchangeratemocks.MockProvider
	license *licensedomain.GlobalLicense
}

func newFixture(t *testing.T, currency string) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t,
		&domain.BillingCycle{},
		&licensedomain.GlobalLicense{},
		&seatdomain.EmployeeLicense{},
		&adjustmentdomain.LicenseAdjustment{},
		&paymentdomain.PaymentTransaction{},
		&paymentmethoddomain.PaymentMethod{},
		&tenantdomain.Tenant{},
		&auditdomain.AuditLog{},
	)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(periodStart.Add(time.Hour))
	log := zap.NewNop()
	ctx := context.Background()
	policy := config.StaticPolicy(config.DefaultBillingPolicy())
	ctrl := gomock.NewController(t)

	auditSvc := auditservice.NewService(auditservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: auditrepository.Provide(),
	})
	tenants := tenantservice.NewService(tenantservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: tenantrepository.Provide(),
	})
	tenant, err := tenants.Create(ctx, tenantdomain.CreateTenantRequest{
		Name:            "Acme",
		CountryCode:     "ID",
		BillingCurrency: currency,
		BillingEmail:    "billing@acme.test",
	})
	require.NoError(t, err)

	methods := paymentmethodservice.NewService(paymentmethodservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: paymentmethodrepository.Provide(),
	})
	country := "ID"
	_, err = methods.Register(ctx, paymentmethoddomain.RegisterRequest{Code: "VA_BCA", Name: "BCA virtual account", CountryCode: &country, IsDefault: true})
	require.NoError(t, err)

	license := &licensedomain.GlobalLicense{
		ID:                 node.Generate(),
		TenantID:           tenant.ID,
		LicenseType:        "STANDARD",
		BillingCycleMonths: 1,
		BasePriceUSD:       decimal.NewFromInt(10),
		MinimumSeats:       5,
		CurrentPeriodStart: periodStart,
		CurrentPeriodEnd:   periodStart.AddDate(0, 1, 0),
		NextRenewalDate:    periodStart.AddDate(0, 1, 0),
		Status:             licensedomain.StatusActive,
		CreatedAt:          periodStart,
		UpdatedAt:          periodStart,
	}
	require.NoError(t, licenserepository.Provide().Insert(ctx, db, license))

	cycleRepo := repository.Provide()
	adjustmentRepo := adjustmentrepository.Provide()
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
	})

	taxProvider := taxmocks.NewMockProvider(ctrl)
	rates := exchangeratemocks.NewMockProvider(ctrl)
	svc := NewService(Params{
		DB:             db,
		Log:            log,
		GenID:          node,
		Clock:          clk,
		Policy:         policy,
		Repo:           cycleRepo,
		LicenseRepo:    licenserepository.Provide(),
		SeatRepo:       seatrepository.Provide(),
		AdjustmentRepo: adjustmentRepo,
		Payments:       payments,
		TenantSvc:      tenants,
		TaxProvider:    taxProvider,
		RateProvider:   rates,
		PaymentMethods: paymentmethodservice.AsRegistry(methods),
		AuditSvc:       auditSvc,
	})

	return &fixture{db: db, svc: svc, clock: clk, node: node, tax: taxProvider, rates: rates, license: license}
}

func (f *fixture) vat() {
	f.tax.EXPECT().GetActiveRulesForCountry(gomock.Any(), "ID").
		Return([]costing.TaxRule{{Name: "PPN", Rate: decimal.RequireFromString("0.10")}}, nil).AnyTimes()
}

func (f *fixture) addSeats(t *testing.T, n int) {
	t.Helper()
	repo := seatrepository.Provide()
	for i := 0; i < n; i++ {
		require.NoError(t, repo.Insert(context.Background(), f.db, &seatdomain.EmployeeLicense{
			ID:                f.node.Generate(),
			GlobalLicenseID:   f.license.ID,
			EmployeeCode:      "EMP-" + strconv.Itoa(i+1),
			ActivationDate:    periodStart,
			ContractualStatus: seatdomain.ContractualActive,
			CreatedAt:         periodStart,
			UpdatedAt:         periodStart,
		}))
	}
}

func (f *fixture) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Count(&n).Error)
	return n
}

func TestGenerateReturnsExistingCycle(t *testing.T) {
	f := newFixture(t, "USD")
	f.rates.EXPECT().GetRate(gomock.Any(), "USD", "USD").Return(decimal.NewFromInt(1), nil).AnyTimes()
	f.vat()
	f.addSeats(t, 3)
	ctx := context.Background()

	first, created, err := f.svc.Generate(ctx, f.license.ID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "55.00", first.TotalAmountUSD.StringFixed(2))
	assert.Equal(t, 3, first.FinalEmployeeCount)

	second, created, err := f.svc.Generate(ctx, f.license.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(1), f.count(t, &domain.BillingCycle{}))
	assert.Equal(t, int64(1), f.count(t, &paymentdomain.PaymentTransaction{}))

	txns, err := paymentrepository.Provide().List(ctx, f.db, paymentdomain.ListFilter{})
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, "VA_BCA", txns[0].PaymentMethod)
}

func TestGenerateConvertsToBillingCurrency(t *testing.T) {
	f := newFixture(t, "IDR")
	f.rates.EXPECT().GetRate(gomock.Any(), "USD", "IDR").Return(decimal.RequireFromString("16000"), nil)
	f.vat()

	cycle, _, err := f.svc.Generate(context.Background(), f.license.ID)
	require.NoError(t, err)
	assert.Equal(t, "IDR", cycle.Currency)
	assert.Equal(t, "800000.00", cycle.BaseAmountLocal.StringFixed(2))
	assert.Equal(t, "80000.00", cycle.TaxAmountLocal.StringFixed(2))
	assert.Equal(t, "880000.00", cycle.TotalAmountLocal.StringFixed(2))
	assert.Equal(t, "55.00", cycle.TotalAmountUSD.StringFixed(2))
}

func TestGenerateFailsWithoutExchangeRate(t *testing.T) {
	f := newFixture(t, "IDR")
	f.rates.EXPECT().GetRate(gomock.Any(), "USD", "IDR").Return(decimal.Zero, exchangeratedomain.ErrMissingExchangeRate)

	_, _, err := f.svc.Generate(context.Background(), f.license.ID)
	assert.ErrorIs(t, err, errkind.MissingExchangeRate)
	assert.Equal(t, int64(0), f.count(t, &domain.BillingCycle{}))
	assert.Equal(t, int64(0), f.count(t, &adjustmentdomain.LicenseAdjustment{}))
}

func TestGenerateRequiresActiveLicense(t *testing.T) {
	f := newFixture(t, "USD")
	f.rates.EXPECT().GetRate(gomock.Any(), "USD", "USD").Return(decimal.NewFromInt(1), nil).AnyTimes()
	f.vat()
	ctx := context.Background()
	ok, err := licenserepository.Provide().UpdateStatus(ctx, f.db, f.license.ID,
		licensedomain.StatusActive, licensedomain.StatusSuspended, periodStart)
	require.NoError(t, err)
	require.True(t, ok)

	_, _, err = f.svc.Generate(ctx, f.license.ID)
	assert.ErrorIs(t, err, domain.ErrLicenseNotBillable)
}

func TestPreviewIncludesPeriodAdjustments(t *testing.T) {
	f := newFixture(t, "USD")
	f.rates.EXPECT().GetRate(gomock.Any(), "USD", "USD").Return(decimal.NewFromInt(1), nil).AnyTimes()
	f.vat()
	f.addSeats(t, 7)
	ctx := context.Background()

	require.NoError(t, adjustmentrepository.Provide().Insert(ctx, f.db, &adjustmentdomain.LicenseAdjustment{
		ID:                  f.node.Generate(),
		GlobalLicenseID:     f.license.ID,
		AdjustmentDate:      periodStart.AddDate(0, 0, 3),
		EmployeesAdded:      2,
		MonthsRemaining:     1,
		PricePerEmployeeUSD: decimal.NewFromInt(10),
		SubtotalUSD:         decimal.NewFromInt(20),
		TaxUSD:              decimal.NewFromInt(2),
		TotalUSD:            decimal.NewFromInt(22),
		SubtotalLocal:       decimal.NewFromInt(20),
		TaxLocal:            decimal.NewFromInt(2),
		TotalLocal:          decimal.NewFromInt(22),
		Currency:            "USD",
		ExchangeRate:        decimal.NewFromInt(1),
		PaymentStatus:       adjustmentdomain.PaymentStatusPending,
		CreatedAt:           periodStart,
		UpdatedAt:           periodStart,
	}))

	preview, err := f.svc.Preview(ctx, f.license.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 7, preview.BillableSeats)
	assert.Equal(t, 7, preview.EffectiveSeats)
	assert.Equal(t, "70.00", preview.BaseCostUSD.StringFixed(2))
	assert.Equal(t, "20.00", preview.AdjustmentsUSD.StringFixed(2))
	assert.Equal(t, "9.00", preview.TaxAmountUSD.StringFixed(2))
	assert.Equal(t, "99.00", preview.TotalUSD.StringFixed(2))
	assert.Equal(t, "99.00", preview.TotalLocal.StringFixed(2))
	assert.Equal(t, "USD", preview.Currency)
	assert.Equal(t, int64(0), f.count(t, &domain.BillingCycle{}))
}

func TestInvoicingAndOverdue(t *testing.T) {
	f := newFixture(t, "USD")
	f.rates.EXPECT().GetRate(gomock.Any(), "USD", "USD").Return(decimal.NewFromInt(1), nil).AnyTimes()
	f.vat()
	ctx := context.Background()

	cycle, _, err := f.svc.Generate(ctx, f.license.ID)
	require.NoError(t, err)

	n, err := f.svc.MarkOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	invoiced, err := f.svc.MarkInvoiced(ctx, cycle.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInvoiced, invoiced.Status)
	require.NotNil(t, invoiced.InvoicedAt)

	_, err = f.svc.MarkInvoiced(ctx, cycle.ID.String())
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	f.clock.Set(cycle.PaymentDueDate.Add(time.Minute))
	n, err = f.svc.MarkOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	overdue, err := f.svc.Get(ctx, cycle.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOverdue, overdue.Status)

	_, err = f.svc.MarkInvoiced(ctx, cycle.ID.String())
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.ErrorIs(t, err, errkind.InvalidState)

	_, err = f.svc.Get(ctx, "0")
	assert.ErrorIs(t, err, domain.ErrInvalidID)
}
