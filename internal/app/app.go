package app

import (
	"github.com/smallbiznis/seatbill/internal/adjustment"
	"github.com/smallbiznis/seatbill/internal/audit"
	"github.com/smallbiznis/seatbill/internal/billingcycle"
	"github.com/smallbiznis/seatbill/internal/clock"
	"github.com/smallbiznis/seatbill/internal/config"
	"github.com/smallbiznis/seatbill/internal/exchangerate"
	"github.com/smallbiznis/seatbill/internal/license"
	"github.com/smallbiznis/seatbill/internal/migration"
	"github.com/smallbiznis/seatbill/internal/observability"
	"github.com/smallbiznis/seatbill/internal/payment"
	"github.com/smallbiznis/seatbill/internal/paymentmethod"
	"github.com/smallbiznis/seatbill/internal/seat"
	"github.com/smallbiznis/seatbill/internal/tax"
	"github.com/smallbiznis/seatbill/internal/tenant"
	"github.com/smallbiznis/seatbill/pkg/db"
	"github.com/smallbiznis/seatbill/pkg/redis"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// Core is the infrastructure and billing engine shared by every binary.
var Core = fx.Options(
	config.Module,
	observability.Module,
	fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
		return &fxevent.ZapLogger{Logger: log.Named("fx")}
	}),
	fx.Provide(RegisterSnowflake),
	db.Module,
	redis.Module,
	clock.Module,
	fx.Provide(
		ProvideLocker,
		ProvideReferenceGenerator,
	),
	migration.Module,

	// Reference data
	tenant.Module,
	tax.Module,
	exchangerate.Module,
	paymentmethod.Module,
	audit.Module,

	// Billing engine
	seat.Module,
	license.Module,
	billingcycle.Module,
	adjustment.Module,
	payment.Module,
)
