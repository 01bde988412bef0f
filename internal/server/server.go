package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	adjustmentdomain "github.com/smallbiznis/seatbill/internal/adjustment/domain"
	auditdomain "github.com/smallbiznis/seatbill/internal/audit/domain"
	billingcycledomain "github.com/smallbiznis/seatbill/internal/billingcycle/domain"
	"github.com/smallbiznis/seatbill/internal/config"
	exchangeratedomain "github.com/smallbiznis/seatbill/internal/exchangerate/domain"
	licensedomain "github.com/smallbiznis/seatbill/internal/license/domain"
	"github.com/smallbiznis/seatbill/internal/observability"
	obslogger "github.com/smallbiznis/seatbill/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/seatbill/internal/observability/metrics"
	obstracing "github.com/smallbiznis/seatbill/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/seatbill/internal/payment/domain"
	paymentmethoddomain "github.com/smallbiznis/seatbill/internal/paymentmethod/domain"
	seatdomain "github.com/smallbiznis/seatbill/internal/seat/domain"
	taxdomain "github.com/smallbiznis/seatbill/internal/tax/domain"
	tenantdomain "github.com/smallbiznis/seatbill/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine           *gin.Engine
	cfg              config.Config
	tenantSvc        tenantdomain.Service
	taxSvc           taxdomain.Service
	exchangeRateSvc  exchangeratedomain.Service
	paymentMethodSvc paymentmethoddomain.Service
	licenseSvc       licensedomain.Service
	seatSvc          seatdomain.Service
	billingCycleSvc  billingcycledomain.Service
	adjustmentSvc    adjustmentdomain.Service
	paymentSvc       paymentdomain.Service
	auditSvc         auditdomain.Service
}

type ServerParams struct {
	fx.In

	Gin              *gin.Engine
	Cfg              config.Config
	TenantSvc        tenantdomain.Service
	TaxSvc           taxdomain.Service
	ExchangeRateSvc  exchangeratedomain.Service
	PaymentMethodSvc paymentmethoddomain.Service
	LicenseSvc       licensedomain.Service
	SeatSvc          seatdomain.Service
	BillingCycleSvc  billingcycledomain.Service
	AdjustmentSvc    adjustmentdomain.Service
	PaymentSvc       paymentdomain.Service
	AuditSvc         auditdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:           p.Gin,
		cfg:              p.Cfg,
		tenantSvc:        p.TenantSvc,
		taxSvc:           p.TaxSvc,
		exchangeRateSvc:  p.ExchangeRateSvc,
		paymentMethodSvc: p.PaymentMethodSvc,
		licenseSvc:       p.LicenseSvc,
		seatSvc:          p.SeatSvc,
		billingCycleSvc:  p.BillingCycleSvc,
		adjustmentSvc:    p.AdjustmentSvc,
		paymentSvc:       p.PaymentSvc,
		auditSvc:         p.AuditSvc,
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	api.POST("/tenants", s.CreateTenant)
	api.GET("/tenants/:id", s.GetTenant)
	api.GET("/tenants/:id/licenses", s.ListTenantLicenses)

	api.GET("/tax_rules", s.ListTaxRules)
	api.POST("/tax_rules", s.CreateTaxRule)
	api.POST("/tax_rules/:id/disable", s.DisableTaxRule)
	api.POST("/exchange_rates", s.RecordExchangeRate)
	api.GET("/payment_methods", s.ListPaymentMethods)
	api.POST("/payment_methods", s.RegisterPaymentMethod)

	api.POST("/licenses", s.CreateLicense)
	api.GET("/licenses/:id", s.GetLicense)
	api.DELETE("/licenses/:id", s.DeleteLicense)
	api.POST("/licenses/:id/suspend", s.SuspendLicense)
	api.POST("/licenses/:id/activate", s.ActivateLicense)
	api.POST("/licenses/:id/expire", s.ExpireLicense)
	api.POST("/licenses/:id/cancel", s.CancelLicense)
	api.POST("/licenses/:id/renew", s.RenewLicense)
	api.POST("/licenses/:id/billing", s.EnsureLicenseBilling)
	api.GET("/licenses/:id/cost_preview", s.PreviewLicenseCost)
	api.GET("/licenses/:id/billing_cycles", s.ListLicenseBillingCycles)
	api.GET("/licenses/:id/adjustments", s.ListLicenseAdjustments)
	api.GET("/licenses/:id/seats", s.ListSeats)
	api.GET("/licenses/:id/seats/summary", s.SeatSummary)

	api.POST("/seats", s.OnboardSeat)
	api.GET("/seats/:id", s.GetSeat)
	api.POST("/seats/:id/activity", s.RecordSeatActivity)
	api.POST("/seats/:id/long_leave", s.DeclareLongLeave)
	api.DELETE("/seats/:id/long_leave", s.ClearLongLeave)
	api.POST("/seats/:id/grace_period", s.StartGracePeriod)
	api.POST("/seats/:id/deactivate", s.DeactivateSeat)
	api.POST("/seats/:id/reactivate", s.ReactivateSeat)
	api.POST("/seats/:id/suspend", s.SuspendSeat)

	api.GET("/billing_cycles/:id", s.GetBillingCycle)
	api.POST("/billing_cycles/:id/invoice", s.MarkBillingCycleInvoiced)
	api.POST("/billing_cycles/overdue", s.MarkBillingCyclesOverdue)

	api.POST("/adjustments", s.ProposeAdjustment)
	api.GET("/adjustments/:id", s.GetAdjustment)
	api.POST("/adjustments/:id/confirm", s.ConfirmAdjustment)
	api.POST("/adjustments/:id/cancel", s.CancelAdjustment)

	api.GET("/payments", s.ListPayments)
	api.GET("/payments/:id", s.GetPayment)
	api.POST("/payments/:id/process", s.StartPaymentProcessing)
	api.POST("/payments/:id/complete", s.CompletePayment)
	api.POST("/payments/:id/fail", s.FailPayment)
	api.POST("/payments/:id/cancel", s.CancelPayment)
	api.POST("/payments/:id/refund", s.RefundPayment)
	api.POST("/payments/:id/retry", s.RetryPayment)

	api.GET("/audit_logs", s.ListAuditLogs)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/payments/:provider", s.HandlePaymentWebhook)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
