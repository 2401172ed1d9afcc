package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payflow/internal/clock"
	"github.com/smallbiznis/payflow/internal/observability/metrics"
	outboxdomain "github.com/smallbiznis/payflow/internal/outbox/domain"
	providereventdomain "github.com/smallbiznis/payflow/internal/providerevent/domain"
	"github.com/smallbiznis/payflow/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	EventRepo providereventdomain.Repository
	Queue     outboxdomain.Queue
	Metrics   *metrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	eventRepo providereventdomain.Repository
	queue     outboxdomain.Queue
	metrics   *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("webhook.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		eventRepo: p.EventRepo,
		queue:     p.Queue,
		metrics:   p.Metrics,
	}
}

func (s *Service) Ingest(ctx context.Context, req domain.IngestRequest) (domain.IngestResult, error) {
	start := time.Now()
	eventID := strings.TrimSpace(req.EventID)
	eventType := strings.TrimSpace(req.Type)
	if eventID == "" || eventType == "" || !json.Valid(req.RawPayload) {
		return domain.IngestResult{}, domain.ErrInvalidPayload
	}

	event := providereventdomain.ProviderEvent{
		ID:         s.genID.Generate(),
		EventID:    eventID,
		Type:       eventType,
		RawPayload: datatypes.JSON(req.RawPayload),
		Status:     providereventdomain.EventStatusReceived,
		ReceivedAt: s.clock.Now(),
	}

	var inserted bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		inserted, err = s.eventRepo.InsertIfAbsent(ctx, tx, &event)
		if err != nil || !inserted {
			return err
		}
		_, err = s.queue.Enqueue(ctx, tx,
			providereventdomain.AggregateType,
			eventID,
			providereventdomain.JobType,
			providereventdomain.JobPayload{EventID: eventID, RequestID: req.RequestID},
		)
		return err
	})
	if err != nil {
		return domain.IngestResult{}, err
	}

	s.metrics.RecordEventReceived(ctx, eventType)
	s.metrics.ObserveStage(ctx, metrics.StageWebhookIngest, time.Since(start))
	if inserted {
		s.log.Info("provider event received",
			zap.String("event_id", eventID),
			zap.String("type", eventType),
			zap.String("request_id", req.RequestID),
		)
	} else {
		s.log.Info("duplicate provider event ignored",
			zap.String("event_id", eventID),
			zap.String("request_id", req.RequestID),
		)
	}

	return domain.IngestResult{EventID: eventID, Inserted: inserted}, nil
}
