package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payflow/internal/clock"
	"github.com/smallbiznis/payflow/internal/observability/metrics"
	"github.com/smallbiznis/payflow/internal/outbox/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         domain.Repository
	QueueMetrics *metrics.QueueMetrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	metrics *metrics.QueueMetrics
}

func New(p Params) domain.Queue {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("outbox.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		metrics: p.QueueMetrics,
	}
}

func (s *Service) Enqueue(ctx context.Context, tx *gorm.DB, aggregateType, aggregateID, jobType string, payload any) (domain.Job, error) {
	if aggregateType == "" || aggregateID == "" || jobType == "" {
		return domain.Job{}, domain.ErrInvalidJob
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.Job{}, fmt.Errorf("marshal outbox payload: %w", err)
	}

	now := s.clock.Now()
	job := domain.Job{
		ID:            s.genID.Generate(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Type:          jobType,
		Payload:       datatypes.JSON(raw),
		Status:        domain.JobStatusPending,
		AvailableAt:   now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if tx == nil {
		tx = s.db
	}
	if err := s.repo.Insert(ctx, tx, &job); err != nil {
		return domain.Job{}, err
	}
	return job, nil
}

func (s *Service) ClaimBatch(ctx context.Context, limit int) ([]domain.Job, error) {
	start := time.Now()
	jobs, err := s.repo.ClaimBatch(ctx, s.db, s.clock.Now(), limit)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveClaim(time.Since(start), len(jobs))
	return jobs, nil
}

func (s *Service) MarkSucceeded(ctx context.Context, tx *gorm.DB, id snowflake.ID) error {
	return s.repo.MarkSucceeded(ctx, s.conn(tx), id, s.clock.Now())
}

func (s *Service) MarkFailed(ctx context.Context, tx *gorm.DB, id snowflake.ID, attempts int, lastError string, nextAvailableAt time.Time) error {
	return s.repo.MarkFailed(ctx, s.conn(tx), id, attempts, lastError, nextAvailableAt, s.clock.Now())
}

func (s *Service) MarkDead(ctx context.Context, tx *gorm.DB, id snowflake.ID, attempts int, lastError string) error {
	return s.repo.MarkDead(ctx, s.conn(tx), id, attempts, lastError, s.clock.Now())
}

func (s *Service) CountPending(ctx context.Context) (int64, error) {
	count, err := s.repo.CountPending(ctx, s.db)
	if err != nil {
		return 0, err
	}
	s.metrics.SetPendingJobs(count)
	return count, nil
}

func (s *Service) CountStuck(ctx context.Context, timeout time.Duration) (int64, error) {
	count, err := s.repo.CountStuck(ctx, s.db, s.clock.Now().Add(-timeout))
	if err != nil {
		return 0, err
	}
	s.metrics.SetStuckJobs(count)
	return count, nil
}

func (s *Service) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}
