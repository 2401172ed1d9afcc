package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payflow/internal/clock"
	"github.com/smallbiznis/payflow/internal/config"
	idempotencydomain "github.com/smallbiznis/payflow/internal/idempotency/domain"
	invoicedomain "github.com/smallbiznis/payflow/internal/invoice/domain"
	"github.com/smallbiznis/payflow/internal/observability/metrics"
	plandomain "github.com/smallbiznis/payflow/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/payflow/internal/subscription/domain"
	"github.com/smallbiznis/payflow/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	jobRenewal            = "renewal"
	jobIdempotencyCleanup = "idempotency_cleanup"
)

var (
	ErrInvalidConfig = errors.New("invalid_scheduler_config")
	errPlanMissing   = errors.New("renewal_plan_missing")
)

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	GenID            *snowflake.Node
	Clock            clock.Clock
	RuntimeConfig    *config.RuntimeConfigHolder `optional:"true"`
	SubscriptionRepo subscriptiondomain.Repository
	PlanRepo         plandomain.Repository
	InvoiceRepo      invoicedomain.Repository
	Idempotency      idempotencydomain.Service `optional:"true"`
	Metrics          *metrics.Metrics          `optional:"true"`
	QueueMetrics     *metrics.QueueMetrics     `optional:"true"`
}

type Scheduler struct {
	db               *gorm.DB
	log              *zap.Logger
	genID            *snowflake.Node
	clock            clock.Clock
	runtimeConfig    *config.RuntimeConfigHolder
	subscriptionRepo subscriptiondomain.Repository
	planRepo         plandomain.Repository
	invoiceRepo      invoicedomain.Repository
	idempotency      idempotencydomain.Service
	metrics          *metrics.Metrics
	queueMetrics     *metrics.QueueMetrics
}

// RenewalResult counts the outcome of one renewal pass.
type RenewalResult struct {
	Renewed int
	// Skipped were already renewed by another run.
	Skipped int
	Failed  int
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.SubscriptionRepo == nil || p.PlanRepo == nil || p.InvoiceRepo == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:               p.DB,
		log:              p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		genID:            p.GenID,
		clock:            p.Clock,
		runtimeConfig:    p.RuntimeConfig,
		subscriptionRepo: p.SubscriptionRepo,
		planRepo:         p.PlanRepo,
		invoiceRepo:      p.InvoiceRepo,
		idempotency:      p.Idempotency,
		metrics:          p.Metrics,
		queueMetrics:     p.QueueMetrics,
	}, nil
}

func (s *Scheduler) config() Config {
	if s.runtimeConfig == nil {
		return DefaultConfig()
	}
	return ConfigFrom(s.runtimeConfig.Get())
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context, run *jobRun) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	run := s.newJobRun(name, batchSize)
	s.logJobStart(ctx, run)

	err := fn(ctx, run)
	if err != nil && run.errorCount == 0 {
		run.IncError()
	}
	s.queueMetrics.ObserveJob(name, time.Since(start), err)
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	// deadline is a soft timeout; the next run picks up the remainder
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every scheduler job a single time.
func (s *Scheduler) RunOnce(parent context.Context) error {
	cfg := s.config()
	var err error

	err = errors.Join(err, s.runJob(parent, jobRenewal, cfg.BatchSize, cfg.JobTimeout, func(ctx context.Context, run *jobRun) error {
		res, err := s.RenewDue(ctx, cfg.BatchSize)
		run.AddProcessed(res.Renewed)
		run.AddSkipped(res.Skipped)
		run.AddErrors(res.Failed)
		return err
	}))

	if s.idempotency != nil {
		err = errors.Join(err, s.runJob(parent, jobIdempotencyCleanup, 0, cfg.JobTimeout, func(ctx context.Context, run *jobRun) error {
			deleted, err := s.idempotency.Cleanup(ctx, cfg.IdempotencyTTL)
			run.AddProcessed(int(deleted))
			return err
		}))
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	interval := s.config().RunInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if next := s.config().RunInterval; next != interval {
			interval = next
			ticker.Reset(interval)
		}
	}
}

// RenewDue bills the next period of up to limit due subscriptions. Each
// subscription renews in its own transaction. A uniqueness violation on the
// invoice means another run already billed the period and is counted as skipped.
func (s *Scheduler) RenewDue(ctx context.Context, limit int) (RenewalResult, error) {
	var res RenewalResult
	if limit <= 0 {
		return res, nil
	}
	start := time.Now()
	defer func() {
		s.metrics.ObserveStage(ctx, metrics.StageRenewal, time.Since(start))
	}()

	now := s.clock.Now()
	due, err := s.subscriptionRepo.FindDueRenewals(ctx, s.db, now, limit)
	if err != nil {
		return res, fmt.Errorf("find due renewals: %w", err)
	}

	var renewErr error
	for _, sub := range due {
		if err := ctx.Err(); err != nil {
			return res, errors.Join(renewErr, err)
		}

		if sub.CurrentPeriodEnd == nil {
			continue
		}
		log := s.logger(ctx).With(zap.String("subscription_id", sub.ID.String()))
		invoice, err := s.renew(ctx, sub, now)
		switch {
		case err == nil:
			res.Renewed++
			log.Info("subscription renewed",
				zap.String("invoice_id", invoice.ID.String()),
				zap.Time("period_start", invoice.PeriodStart),
				zap.Time("period_end", invoice.PeriodEnd),
			)
		case db.IsDuplicateKeyErr(err):
			res.Skipped++
			log.Info("renewal invoice already exists, skipping")
		case errors.Is(err, errPlanMissing):
			res.Failed++
			log.Warn("renewal skipped, plan not found", zap.String("plan_id", sub.PlanID.String()))
		default:
			res.Failed++
			renewErr = errors.Join(renewErr, fmt.Errorf("renew subscription %s: %w", sub.ID, err))
			log.Error("subscription renewal failed", zap.Error(err))
		}
	}
	return res, renewErr
}

func (s *Scheduler) renew(ctx context.Context, sub subscriptiondomain.Subscription, now time.Time) (invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plan, err := s.planRepo.FindByID(ctx, tx, sub.PlanID)
		if err != nil {
			return err
		}
		if plan == nil {
			return errPlanMissing
		}

		periodStart := sub.CurrentPeriodEnd.UTC()
		periodEnd := plan.NextPeriodEnd(periodStart)
		invoice = invoicedomain.Invoice{
			ID:             s.genID.Generate(),
			SubscriptionID: sub.ID,
			AmountCents:    plan.AmountCents,
			Currency:       plan.Currency,
			Status:         invoicedomain.InvoiceStatusPending,
			PeriodStart:    periodStart,
			PeriodEnd:      periodEnd,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.invoiceRepo.Insert(ctx, tx, &invoice); err != nil {
			return err
		}
		return s.subscriptionRepo.AdvancePeriod(ctx, tx, sub.ID, periodStart, periodEnd, now)
	})
	return invoice, err
}
