package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Record caches the terminal response of a mutating request. It is unique on
// (Key, Scope) and never updated after insert.
type Record struct {
	Key         string         `gorm:"column:idempotency_key;primaryKey;type:varchar(255)" json:"key"`
	Scope       string         `gorm:"primaryKey;type:varchar(255)" json:"scope"`
	RequestHash string         `gorm:"type:text;not null" json:"request_hash"`
	StatusCode  int            `gorm:"not null" json:"status_code"`
	Response    datatypes.JSON `gorm:"type:jsonb;not null" json:"response"`
	CreatedAt   time.Time      `gorm:"not null;index" json:"created_at"`
}

func (Record) TableName() string { return "idempotency_records" }

type Repository interface {
	FindByKeyScope(ctx context.Context, db *gorm.DB, key, scope string) (*Record, error)
	// InsertIfAbsent reports false when a record for (key, scope) already exists.
	InsertIfAbsent(ctx context.Context, db *gorm.DB, record *Record) (bool, error)
	DeleteOlderThan(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)
}

type Service interface {
	// FindOrConflict returns nil on a miss, the stored record when requestHash
	// matches, and ErrConflict when the key was used for a different request.
	FindOrConflict(ctx context.Context, key, scope, requestHash string) (*Record, error)
	Save(ctx context.Context, key, scope, requestHash string, statusCode int, response any) error
	// Acquire takes the single-writer lock for (key, scope). Without a lock
	// backend it always succeeds.
	Acquire(ctx context.Context, key, scope string) (release func(context.Context), err error)
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

var (
	ErrConflict   = errors.New("idempotency_conflict")
	ErrInProgress = errors.New("idempotency_request_in_progress")
	ErrInvalidKey = errors.New("invalid_idempotency_key")
)
