package main

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payflow/internal/clock"
	"github.com/smallbiznis/payflow/internal/config"
	"github.com/smallbiznis/payflow/internal/idempotency"
	"github.com/smallbiznis/payflow/internal/invoice"
	"github.com/smallbiznis/payflow/internal/ledger"
	"github.com/smallbiznis/payflow/internal/migration"
	"github.com/smallbiznis/payflow/internal/observability"
	"github.com/smallbiznis/payflow/internal/plan"
	"github.com/smallbiznis/payflow/internal/scheduler"
	"github.com/smallbiznis/payflow/internal/subscription"
	"github.com/smallbiznis/payflow/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		fx.Decorate(schedulerOnly),
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Domain services required by scheduler
		subscription.Module,
		plan.Module,
		invoice.Module,
		idempotency.Module,
		ledger.Module,

		// No server module!
		scheduler.Module,
		migration.Module,
	)
	app.Run()
}

func schedulerOnly(cfg config.Config) config.Config {
	cfg.Roles = []string{config.RoleScheduler}
	return cfg
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.NodeID, err)
	}
	return node, nil
}
