package repository

import (
	"context"

	"github.com/smallbiznis/payflow/internal/providerevent/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

const eventColumns = `id, event_id, type, raw_payload, status, received_at, processed_at, attempts, last_error`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, event *domain.ProviderEvent) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByEventID(ctx context.Context, db *gorm.DB, eventID string) (*domain.ProviderEvent, error) {
	var event domain.ProviderEvent
	err := db.WithContext(ctx).Raw(
		`SELECT `+eventColumns+` FROM provider_events WHERE event_id = ?`,
		eventID,
	).Scan(&event).Error
	if err != nil {
		return nil, err
	}
	if event.ID == 0 {
		return nil, nil
	}
	return &event, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, eventID string, update domain.StatusUpdate) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE provider_events
		 SET status = ?, attempts = ?, last_error = ?, processed_at = ?
		 WHERE event_id = ?`,
		update.Status,
		update.Attempts,
		update.LastError,
		update.ProcessedAt,
		eventID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.ProviderEvent, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	stmt := db.WithContext(ctx).Model(&domain.ProviderEvent{})
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.Before != nil {
		stmt = stmt.Where("received_at < ?", *filter.Before)
	}

	var events []domain.ProviderEvent
	err := stmt.Order("received_at DESC, id DESC").Limit(limit).Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) CountByStatus(ctx context.Context, db *gorm.DB) (map[domain.EventStatus]int64, error) {
	var rows []struct {
		Status domain.EventStatus
		Total  int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT status, COUNT(*) AS total FROM provider_events GROUP BY status`,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[domain.EventStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}
