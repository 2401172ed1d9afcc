package migration

import (
	"context"

	"github.com/smallbiznis/payflow/internal/config"
	ledgerdomain "github.com/smallbiznis/payflow/internal/ledger/domain"
	"github.com/smallbiznis/payflow/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, ledger ledgerdomain.Service, log *zap.Logger) error {
		if cfg.DBRunMigrations {
			if err := Apply(conn); err != nil {
				return err
			}
			log.Named("migrations").Info("schema migrated", zap.String("dialect", conn.Dialector.Name()))
		}
		return ledger.EnsureAccounts(context.Background())
	}),
)

// Apply migrates the schema with the strategy matching the connection's dialect.
func Apply(conn *gorm.DB) error {
	if conn.Dialector.Name() == db.DialectPostgres {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}
	return AutoMigrate(conn)
}
