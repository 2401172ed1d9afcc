package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	customerdomain "github.com/smallbiznis/payflow/internal/customer/domain"
	idempotencydomain "github.com/smallbiznis/payflow/internal/idempotency/domain"
	invoicedomain "github.com/smallbiznis/payflow/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/payflow/internal/ledger/domain"
	outboxdomain "github.com/smallbiznis/payflow/internal/outbox/domain"
	paymentdomain "github.com/smallbiznis/payflow/internal/payment/domain"
	plandomain "github.com/smallbiznis/payflow/internal/plan/domain"
	providereventdomain "github.com/smallbiznis/payflow/internal/providerevent/domain"
	subscriptiondomain "github.com/smallbiznis/payflow/internal/subscription/domain"
	"gorm.io/gorm"
)

// RunMigrations applies the embedded postgres schema. It is a no-op when the
// schema is already current.
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
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// Models lists every persisted entity, in dependency order.
func Models() []any {
	return []any{
		&customerdomain.Customer{},
		&plandomain.Plan{},
		&subscriptiondomain.Subscription{},
		&invoicedomain.Invoice{},
		&paymentdomain.Payment{},
		&ledgerdomain.LedgerAccount{},
		&ledgerdomain.LedgerTransaction{},
		&ledgerdomain.LedgerEntry{},
		&providereventdomain.ProviderEvent{},
		&outboxdomain.Job{},
		&idempotencydomain.Record{},
	}
}

// AutoMigrate builds the schema from the gorm models. Used for sqlite and
// mysql, where the embedded postgres SQL does not apply.
func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
