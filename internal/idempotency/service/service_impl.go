package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/payflow/internal/clock"
	"github.com/smallbiznis/payflow/internal/idempotency/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Repo   domain.Repository
	Locker *Locker `optional:"true"`
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	clock  clock.Clock
	repo   domain.Repository
	locker *Locker
}

func New(p Params) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("idempotency.service"),
		clock:  p.Clock,
		repo:   p.Repo,
		locker: p.Locker,
	}
}

func (s *Service) FindOrConflict(ctx context.Context, key, scope, requestHash string) (*domain.Record, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, domain.ErrInvalidKey
	}

	record, err := s.repo.FindByKeyScope(ctx, s.db, key, scope)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}
	if record.RequestHash != requestHash {
		return nil, domain.ErrConflict
	}
	return record, nil
}

func (s *Service) Save(ctx context.Context, key, scope, requestHash string, statusCode int, response any) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrInvalidKey
	}
	raw, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("marshal idempotent response: %w", err)
	}

	inserted, err := s.repo.InsertIfAbsent(ctx, s.db, &domain.Record{
		Key:         key,
		Scope:       scope,
		RequestHash: requestHash,
		StatusCode:  statusCode,
		Response:    datatypes.JSON(raw),
		CreatedAt:   s.clock.Now(),
	})
	if err != nil {
		return err
	}
	if !inserted {
		s.log.Debug("idempotency record already present",
			zap.String("key", key),
			zap.String("scope", scope),
		)
	}
	return nil
}

func (s *Service) Acquire(ctx context.Context, key, scope string) (func(context.Context), error) {
	noop := func(context.Context) {}
	if s.locker == nil {
		return noop, nil
	}

	lockKey := scope + ":" + strings.TrimSpace(key)
	token, ok, err := s.locker.TryLock(ctx, lockKey)
	if err != nil {
		return noop, err
	}
	if !ok {
		return noop, domain.ErrInProgress
	}
	return func(ctx context.Context) {
		if err := s.locker.Release(ctx, lockKey, token); err != nil {
			s.log.Warn("failed to release idempotency lock", zap.String("key", lockKey), zap.Error(err))
		}
	}, nil
}

func (s *Service) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	return s.repo.DeleteOlderThan(ctx, s.db, s.clock.Now().Add(-olderThan))
}
