package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/payflow/internal/clock"
	"github.com/smallbiznis/payflow/internal/config"
	obslogger "github.com/smallbiznis/payflow/internal/observability/logger"
	"github.com/smallbiznis/payflow/internal/observability/metrics"
	outboxdomain "github.com/smallbiznis/payflow/internal/outbox/domain"
	"github.com/smallbiznis/payflow/internal/processor"
	providereventdomain "github.com/smallbiznis/payflow/internal/providerevent/domain"
	"github.com/smallbiznis/payflow/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var ErrInvalidJobPayload = errors.New("invalid_job_payload")

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Clock         clock.Clock
	RuntimeConfig *config.RuntimeConfigHolder
	Queue         outboxdomain.Queue
	EventRepo     providereventdomain.Repository
	Processor     processor.Processor
	Metrics       *metrics.Metrics `optional:"true"`
}

// Worker drains the outbox: it claims jobs, runs the processor for each and
// records the outcome on both the job and its provider event.
type Worker struct {
	db            *gorm.DB
	log           *zap.Logger
	clock         clock.Clock
	runtimeConfig *config.RuntimeConfigHolder
	queue         outboxdomain.Queue
	eventRepo     providereventdomain.Repository
	processor     processor.Processor
	metrics       *metrics.Metrics
}

func New(p Params) *Worker {
	return &Worker{
		db:            p.DB,
		log:           p.Log.Named("outbox.worker"),
		clock:         p.Clock,
		runtimeConfig: p.RuntimeConfig,
		queue:         p.Queue,
		eventRepo:     p.EventRepo,
		processor:     p.Processor,
		metrics:       p.Metrics,
	}
}

// ProcessBatch claims up to limit jobs and handles them concurrently. A failing
// job never affects its siblings; their outcome errors are joined.
//
// Cancelling ctx stops further claims only. Claimed jobs always run to
// completion so none is left PROCESSING.
func (w *Worker) ProcessBatch(ctx context.Context, limit int) (int, error) {
	cfg := w.runtimeConfig.Get()
	if limit <= 0 {
		limit = cfg.OutboxBatchSize
	}
	if ctx.Err() != nil {
		return 0, nil
	}

	jobs, err := w.queue.ClaimBatch(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("claim outbox batch: %w", err)
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	jobCtx := context.WithoutCancel(ctx)
	var (
		mu       sync.Mutex
		batchErr error
		g        errgroup.Group
	)
	g.SetLimit(max(cfg.OutboxConcurrency, 1))
	for _, job := range jobs {
		g.Go(func() error {
			if err := w.handle(jobCtx, job, cfg.EventMaxAttempts); err != nil {
				mu.Lock()
				batchErr = errors.Join(batchErr, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if _, err := w.queue.CountPending(jobCtx); err != nil {
		w.log.Warn("failed to refresh pending jobs gauge", zap.Error(err))
	}
	w.reportStuck(jobCtx, cfg.ProcessingTimeout())
	return len(jobs), batchErr
}

func (w *Worker) reportStuck(ctx context.Context, timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	stuck, err := w.queue.CountStuck(ctx, timeout)
	if err != nil {
		w.log.Warn("failed to count stuck jobs", zap.Error(err))
		return
	}
	if stuck > 0 {
		w.log.Warn("outbox jobs stuck in PROCESSING",
			zap.Int64("count", stuck),
			zap.Duration("timeout", timeout),
		)
	}
}

func (w *Worker) handle(ctx context.Context, job outboxdomain.Job, maxAttempts int) error {
	start := time.Now()

	var payload providereventdomain.JobPayload
	procErr := json.Unmarshal(job.Payload, &payload)
	if procErr == nil && strings.TrimSpace(payload.EventID) == "" {
		procErr = ErrInvalidJobPayload
	}
	if payload.RequestID != "" {
		ctx = correlation.WithRequestID(ctx, payload.RequestID)
	}
	log := obslogger.WithContext(ctx, w.log).With(
		zap.String("job_id", job.ID.String()),
		zap.String("event_id", payload.EventID),
	)

	if procErr == nil {
		procErr = w.processor.Process(ctx, payload.EventID)
	}
	w.metrics.ObserveStage(ctx, metrics.StageEventProcess, time.Since(start))

	if procErr == nil {
		return w.succeed(ctx, job, payload.EventID, log)
	}
	return w.fail(ctx, job, payload.EventID, maxAttempts, procErr, log)
}

func (w *Worker) succeed(ctx context.Context, job outboxdomain.Job, eventID string, log *zap.Logger) error {
	now := w.clock.Now()
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := w.queue.MarkSucceeded(ctx, tx, job.ID); err != nil {
			return err
		}
		return w.updateEvent(ctx, tx, eventID, providereventdomain.StatusUpdate{
			Status:      providereventdomain.EventStatusSucceeded,
			Attempts:    job.Attempts,
			ProcessedAt: &now,
		})
	})
	if err != nil {
		log.Error("failed to record job success", zap.Error(err))
		return fmt.Errorf("job %s: %w", job.ID, err)
	}

	w.metrics.RecordEventProcessed(ctx, metrics.ResultSucceeded)
	log.Info("provider event processed", zap.Int("attempts", job.Attempts))
	return nil
}

// fail counts the attempt and either schedules a retry or dead-letters the job
// once maxAttempts is reached.
func (w *Worker) fail(ctx context.Context, job outboxdomain.Job, eventID string, maxAttempts int, procErr error, log *zap.Logger) error {
	attempts := job.Attempts + 1
	lastError := procErr.Error()
	dead := attempts >= maxAttempts

	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if dead {
			now := w.clock.Now()
			if err := w.queue.MarkDead(ctx, tx, job.ID, attempts, lastError); err != nil {
				return err
			}
			return w.updateEvent(ctx, tx, eventID, providereventdomain.StatusUpdate{
				Status:      providereventdomain.EventStatusDead,
				Attempts:    attempts,
				LastError:   &lastError,
				ProcessedAt: &now,
			})
		}

		if err := w.queue.MarkFailed(ctx, tx, job.ID, attempts, lastError, w.processor.NextRetryAt(attempts)); err != nil {
			return err
		}
		return w.updateEvent(ctx, tx, eventID, providereventdomain.StatusUpdate{
			Status:    providereventdomain.EventStatusFailed,
			Attempts:  attempts,
			LastError: &lastError,
		})
	})
	if err != nil {
		log.Error("failed to record job failure", zap.NamedError("cause", procErr), zap.Error(err))
		return fmt.Errorf("job %s: %w", job.ID, err)
	}

	if dead {
		w.metrics.RecordDeadLetter(ctx)
		w.metrics.RecordEventProcessed(ctx, metrics.ResultDead)
		log.Error("provider event dead-lettered",
			zap.Int("attempts", attempts),
			zap.Error(procErr),
		)
		return nil
	}

	w.metrics.RecordRetry(ctx)
	w.metrics.RecordEventProcessed(ctx, metrics.ResultFailed)
	log.Warn("provider event failed, retry scheduled",
		zap.Int("attempts", attempts),
		zap.Error(procErr),
	)
	return nil
}

// updateEvent tolerates a missing event so a job pointing at nothing can still
// be dead-lettered.
func (w *Worker) updateEvent(ctx context.Context, tx *gorm.DB, eventID string, update providereventdomain.StatusUpdate) error {
	if eventID == "" {
		return nil
	}
	err := w.eventRepo.UpdateStatus(ctx, tx, eventID, update)
	if errors.Is(err, providereventdomain.ErrNotFound) {
		w.log.Warn("provider event missing for job", zap.String("event_id", eventID))
		return nil
	}
	return err
}

// RunForever polls until ctx is cancelled. A full batch is followed by another
// claim straight away; otherwise the loop waits for the poll interval.
func (w *Worker) RunForever(ctx context.Context) {
	for {
		cfg := w.runtimeConfig.Get()
		n, err := w.ProcessBatch(ctx, cfg.OutboxBatchSize)
		if err != nil {
			w.log.Warn("outbox batch failed", zap.Error(err))
		}
		if ctx.Err() != nil {
			return
		}
		if n >= cfg.OutboxBatchSize && err == nil {
			continue
		}

		timer := time.NewTimer(cfg.OutboxPollInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
