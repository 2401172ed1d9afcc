package main

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payflow/internal/clock"
	"github.com/smallbiznis/payflow/internal/config"
	"github.com/smallbiznis/payflow/internal/invoice"
	"github.com/smallbiznis/payflow/internal/ledger"
	"github.com/smallbiznis/payflow/internal/migration"
	"github.com/smallbiznis/payflow/internal/observability"
	"github.com/smallbiznis/payflow/internal/outbox"
	"github.com/smallbiznis/payflow/internal/payment"
	"github.com/smallbiznis/payflow/internal/processor"
	"github.com/smallbiznis/payflow/internal/providerevent"
	"github.com/smallbiznis/payflow/internal/subscription"
	"github.com/smallbiznis/payflow/internal/worker"
	"github.com/smallbiznis/payflow/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		fx.Decorate(workerOnly),
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Domain services required by the event processor
		invoice.Module,
		payment.Module,
		subscription.Module,
		ledger.Module,
		providerevent.Module,
		outbox.Module,
		processor.Module,

		// No server module!
		worker.Module,
		migration.Module,
	)
	app.Run()
}

func workerOnly(cfg config.Config) config.Config {
	cfg.Roles = []string{config.RoleWorker}
	return cfg
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.NodeID, err)
	}
	return node, nil
}
