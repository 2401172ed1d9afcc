package main

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payflow/internal/clock"
	"github.com/smallbiznis/payflow/internal/config"
	"github.com/smallbiznis/payflow/internal/customer"
	"github.com/smallbiznis/payflow/internal/idempotency"
	"github.com/smallbiznis/payflow/internal/invoice"
	"github.com/smallbiznis/payflow/internal/ledger"
	"github.com/smallbiznis/payflow/internal/migration"
	"github.com/smallbiznis/payflow/internal/observability"
	"github.com/smallbiznis/payflow/internal/outbox"
	"github.com/smallbiznis/payflow/internal/payment"
	"github.com/smallbiznis/payflow/internal/plan"
	"github.com/smallbiznis/payflow/internal/processor"
	"github.com/smallbiznis/payflow/internal/providerevent"
	"github.com/smallbiznis/payflow/internal/scheduler"
	"github.com/smallbiznis/payflow/internal/server"
	"github.com/smallbiznis/payflow/internal/subscription"
	"github.com/smallbiznis/payflow/internal/webhook"
	"github.com/smallbiznis/payflow/internal/worker"
	"github.com/smallbiznis/payflow/pkg/db"
	"go.uber.org/fx"
)

// payflow runs every role enabled in PAYFLOW_ROLES (api, worker, scheduler) in one process.
func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Functional Domains
		customer.Module,
		plan.Module,
		invoice.Module,
		payment.Module,
		subscription.Module,
		ledger.Module,
		providerevent.Module,
		outbox.Module,
		idempotency.Module,
		webhook.Module,
		processor.Module,

		// Loops and HTTP, each gated by its role
		worker.Module,
		scheduler.Module,
		server.Module,

		migration.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.NodeID, err)
	}
	return node, nil
}
