package repository

import (
	"context"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payflow/internal/outbox/domain"
	"github.com/smallbiznis/payflow/pkg/db"
	"gorm.io/gorm"
)

const jobColumns = `id, aggregate_type, aggregate_id, type, payload, status, available_at, attempts, last_error, created_at, updated_at`

const maxLastErrorLen = 2000

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, job *domain.Job) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO outbox_jobs (`+jobColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.AggregateType,
		job.AggregateID,
		job.Type,
		job.Payload,
		job.Status,
		job.AvailableAt,
		job.Attempts,
		job.LastError,
		job.CreatedAt,
		job.UpdatedAt,
	).Error
}

func (r *repo) ClaimBatch(ctx context.Context, conn *gorm.DB, now time.Time, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	var (
		jobs []domain.Job
		err  error
	)
	if db.SupportsSkipLocked(conn) {
		jobs, err = r.claimSkipLocked(ctx, conn, now, limit)
	} else {
		jobs, err = r.claimCompareAndSet(ctx, conn, now, limit)
	}
	if err != nil {
		return nil, err
	}

	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].AvailableAt.Equal(jobs[j].AvailableAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].AvailableAt.Before(jobs[j].AvailableAt)
	})
	return jobs, nil
}

// claimSkipLocked locks and flips the batch in one statement. Rows locked by
// another claimer are skipped rather than waited on.
func (r *repo) claimSkipLocked(ctx context.Context, conn *gorm.DB, now time.Time, limit int) ([]domain.Job, error) {
	var jobs []domain.Job
	err := conn.WithContext(ctx).Raw(
		`UPDATE outbox_jobs
		 SET status = ?, updated_at = ?
		 WHERE id IN (
			SELECT id FROM outbox_jobs
			WHERE status = ? AND available_at <= ?
			ORDER BY available_at ASC, id ASC
			LIMIT ?
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+jobColumns,
		domain.JobStatusProcessing,
		now,
		domain.JobStatusPending,
		now,
		limit,
	).Scan(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// claimCompareAndSet serves stores without row locks. Each candidate is taken
// with a conditional single-row update; losing a race just skips the row.
func (r *repo) claimCompareAndSet(ctx context.Context, conn *gorm.DB, now time.Time, limit int) ([]domain.Job, error) {
	var candidates []snowflake.ID
	err := conn.WithContext(ctx).Raw(
		`SELECT id FROM outbox_jobs
		 WHERE status = ? AND available_at <= ?
		 ORDER BY available_at ASC, id ASC
		 LIMIT ?`,
		domain.JobStatusPending,
		now,
		limit,
	).Scan(&candidates).Error
	if err != nil {
		return nil, err
	}

	claimed := make([]snowflake.ID, 0, len(candidates))
	for _, id := range candidates {
		res := conn.WithContext(ctx).Exec(
			`UPDATE outbox_jobs SET status = ?, updated_at = ?
			 WHERE id = ? AND status = ? AND available_at <= ?`,
			domain.JobStatusProcessing,
			now,
			id,
			domain.JobStatusPending,
			now,
		)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			claimed = append(claimed, id)
		}
	}
	if len(claimed) == 0 {
		return nil, nil
	}

	var jobs []domain.Job
	err = conn.WithContext(ctx).Raw(
		`SELECT `+jobColumns+` FROM outbox_jobs WHERE id IN ?`,
		claimed,
	).Scan(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *repo) MarkSucceeded(ctx context.Context, conn *gorm.DB, id snowflake.ID, now time.Time) error {
	res := conn.WithContext(ctx).Exec(
		`UPDATE outbox_jobs SET status = ?, last_error = NULL, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.JobStatusSucceeded,
		now,
		id,
		domain.JobStatusProcessing,
	)
	return claimedResult(res)
}

func (r *repo) MarkFailed(ctx context.Context, conn *gorm.DB, id snowflake.ID, attempts int, lastError string, nextAvailableAt, now time.Time) error {
	res := conn.WithContext(ctx).Exec(
		`UPDATE outbox_jobs SET status = ?, attempts = ?, last_error = ?, available_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.JobStatusPending,
		attempts,
		truncate(lastError),
		nextAvailableAt,
		now,
		id,
		domain.JobStatusProcessing,
	)
	return claimedResult(res)
}

func (r *repo) MarkDead(ctx context.Context, conn *gorm.DB, id snowflake.ID, attempts int, lastError string, now time.Time) error {
	res := conn.WithContext(ctx).Exec(
		`UPDATE outbox_jobs SET status = ?, attempts = ?, last_error = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.JobStatusDead,
		attempts,
		truncate(lastError),
		now,
		id,
		domain.JobStatusProcessing,
	)
	return claimedResult(res)
}

func (r *repo) CountPending(ctx context.Context, conn *gorm.DB) (int64, error) {
	var count int64
	err := conn.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM outbox_jobs WHERE status = ?`,
		domain.JobStatusPending,
	).Scan(&count).Error
	return count, err
}

func (r *repo) CountStuck(ctx context.Context, conn *gorm.DB, claimedBefore time.Time) (int64, error) {
	var count int64
	err := conn.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM outbox_jobs WHERE status = ? AND updated_at <= ?`,
		domain.JobStatusProcessing,
		claimedBefore,
	).Scan(&count).Error
	return count, err
}

func (r *repo) FindByAggregate(ctx context.Context, conn *gorm.DB, aggregateType, aggregateID string) ([]domain.Job, error) {
	var jobs []domain.Job
	err := conn.WithContext(ctx).Raw(
		`SELECT `+jobColumns+` FROM outbox_jobs
		 WHERE aggregate_type = ? AND aggregate_id = ?
		 ORDER BY created_at ASC, id ASC`,
		aggregateType,
		aggregateID,
	).Scan(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func claimedResult(res *gorm.DB) error {
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotClaimed
	}
	return nil
}

func truncate(msg string) string {
	if len(msg) <= maxLastErrorLen {
		return msg
	}
	return msg[:maxLastErrorLen]
}
