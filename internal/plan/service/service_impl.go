package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payflow/internal/clock"
	"github.com/smallbiznis/payflow/internal/plan/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("plan.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreatePlanRequest) (domain.Plan, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Plan{}, domain.ErrInvalidName
	}
	if req.AmountCents <= 0 {
		return domain.Plan{}, domain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return domain.Plan{}, domain.ErrInvalidCurrency
	}
	unit := domain.IntervalUnit(strings.ToLower(strings.TrimSpace(req.IntervalUnit)))
	if !unit.Valid() || req.IntervalCount < 1 {
		return domain.Plan{}, domain.ErrInvalidInterval
	}

	plan := domain.Plan{
		ID:            s.genID.Generate(),
		Name:          name,
		AmountCents:   req.AmountCents,
		Currency:      currency,
		IntervalUnit:  unit,
		IntervalCount: req.IntervalCount,
		CreatedAt:     s.clock.Now(),
	}
	if err := s.repo.Insert(ctx, s.db, &plan); err != nil {
		return domain.Plan{}, err
	}

	s.log.Info("plan created",
		zap.String("plan_id", plan.ID.String()),
		zap.String("interval_unit", string(plan.IntervalUnit)),
		zap.Int("interval_count", plan.IntervalCount),
	)
	return plan, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (domain.Plan, error) {
	plan, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Plan{}, err
	}
	if plan == nil {
		return domain.Plan{}, domain.ErrNotFound
	}
	return *plan, nil
}
