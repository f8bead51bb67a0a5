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
	auditdomain "github.com/smallbiznis/packclaim/internal/audit/domain"
	customerdomain "github.com/smallbiznis/packclaim/internal/customer/domain"
	inventorydomain "github.com/smallbiznis/packclaim/internal/inventory/domain"
	paymentdomain "github.com/smallbiznis/packclaim/internal/payment/domain"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// RunMigrations applies the embedded postgres migrations.
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
	// migrator.Close would close the shared *sql.DB.
	return nil
}

// Models lists every persisted type, in dependency order.
func Models() []any {
	return []any{
		&inventorydomain.Package{},
		&customerdomain.Customer{},
		&paymentdomain.Reconciliation{},
		&auditdomain.AuditLog{},
	}
}

// AutoMigrate builds the schema from the models. It serves sqlite, mysql and tests.
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(Models()...)
}

// Apply picks the migration strategy for the connected dialect.
func Apply(conn *gorm.DB) error {
	if conn.Dialector.Name() != "postgres" {
		return AutoMigrate(conn)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}
