package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	adjustmentdomain "github.com/smallbiznis/seatbill/internal/adjustment/domain"
	auditdomain "github.com/smallbiznis/seatbill/internal/audit/domain"
	billingcycledomain "github.com/smallbiznis/seatbill/internal/billingcycle/domain"
	exchangeratedomain "github.com/smallbiznis/seatbill/internal/exchangerate/domain"
	licensedomain "github.com/smallbiznis/seatbill/internal/license/domain"
	paymentdomain "github.com/smallbiznis/seatbill/internal/payment/domain"
	paymentmethoddomain "github.com/smallbiznis/seatbill/internal/paymentmethod/domain"
	seatdomain "github.com/smallbiznis/seatbill/internal/seat/domain"
	taxdomain "github.com/smallbiznis/seatbill/internal/tax/domain"
	tenantdomain "github.com/smallbiznis/seatbill/internal/tenant/domain"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Models lists every persisted type, in dependency order.
func Models() []any {
	return []any{
		&tenantdomain.Tenant{},
		&taxdomain.TaxRule{},
		&exchangeratedomain.ExchangeRate{},
		&paymentmethoddomain.PaymentMethod{},
		&licensedomain.GlobalLicense{},
		&seatdomain.EmployeeLicense{},
		&billingcycledomain.BillingCycle{},
		&adjustmentdomain.LicenseAdjustment{},
		&paymentdomain.PaymentTransaction{},
		&paymentdomain.EventRecord{},
		&auditdomain.AuditLog{},
	}
}

// RunMigrations applies the embedded postgres schema. Already applied
// versions are skipped.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Closing the migrator would close the shared *sql.DB.

	return nil
}

// AutoMigrate builds the schema from the gorm models for dialects the SQL
// files do not target.
func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
