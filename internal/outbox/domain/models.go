package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// JobStatus follows PENDING -> PROCESSING -> {SUCCEEDED | PENDING (retry) | DEAD}.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusSucceeded  JobStatus = "SUCCEEDED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusDead       JobStatus = "DEAD"
)

// Job is a durable unit of deferred work. It is visible to claimers only while
// PENDING with AvailableAt at or before now.
type Job struct {
	ID            snowflake.ID   `gorm:"primaryKey" json:"id"`
	AggregateType string         `gorm:"type:text;not null;index:ix_outbox_jobs_aggregate,priority:1" json:"aggregate_type"`
	AggregateID   string         `gorm:"type:text;not null;index:ix_outbox_jobs_aggregate,priority:2" json:"aggregate_id"`
	Type          string         `gorm:"type:text;not null" json:"type"`
	Payload       datatypes.JSON `gorm:"type:jsonb;not null" json:"payload"`
	Status        JobStatus      `gorm:"type:text;not null;index:ix_outbox_jobs_claim,priority:1" json:"status"`
	AvailableAt   time.Time      `gorm:"not null;index:ix_outbox_jobs_claim,priority:2" json:"available_at"`
	Attempts      int            `gorm:"not null" json:"attempts"`
	LastError     *string        `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt     time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null" json:"updated_at"`
}

func (Job) TableName() string { return "outbox_jobs" }

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, job *Job) error
	// ClaimBatch moves up to limit visible jobs to PROCESSING, oldest AvailableAt first.
	// Concurrent callers never receive the same job and never wait on each other.
	ClaimBatch(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Job, error)
	MarkSucceeded(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, attempts int, lastError string, nextAvailableAt, now time.Time) error
	MarkDead(ctx context.Context, db *gorm.DB, id snowflake.ID, attempts int, lastError string, now time.Time) error
	CountPending(ctx context.Context, db *gorm.DB) (int64, error)
	// CountStuck counts PROCESSING jobs claimed at or before claimedBefore.
	CountStuck(ctx context.Context, db *gorm.DB, claimedBefore time.Time) (int64, error)
	FindByAggregate(ctx context.Context, db *gorm.DB, aggregateType, aggregateID string) ([]Job, error)
}

// Queue is the outbox as seen by producers and workers.
type Queue interface {
	// Enqueue writes a PENDING job using tx, so the job commits with the caller's change.
	Enqueue(ctx context.Context, tx *gorm.DB, aggregateType, aggregateID, jobType string, payload any) (Job, error)
	ClaimBatch(ctx context.Context, limit int) ([]Job, error)
	MarkSucceeded(ctx context.Context, tx *gorm.DB, id snowflake.ID) error
	MarkFailed(ctx context.Context, tx *gorm.DB, id snowflake.ID, attempts int, lastError string, nextAvailableAt time.Time) error
	MarkDead(ctx context.Context, tx *gorm.DB, id snowflake.ID, attempts int, lastError string) error
	CountPending(ctx context.Context) (int64, error)
	// CountStuck reports jobs held in PROCESSING longer than timeout. Nothing
	// here reclaims them; the count feeds alerting for manual recovery.
	CountStuck(ctx context.Context, timeout time.Duration) (int64, error)
}

var (
	ErrInvalidJob = errors.New("invalid_outbox_job")
	// ErrNotClaimed means the job was not PROCESSING when its outcome was recorded.
	ErrNotClaimed = errors.New("outbox_job_not_claimed")
)
