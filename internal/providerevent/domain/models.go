package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type EventStatus string

const (
	EventStatusReceived   EventStatus = "RECEIVED"
	EventStatusProcessing EventStatus = "PROCESSING"
	EventStatusSucceeded  EventStatus = "SUCCEEDED"
	EventStatusFailed     EventStatus = "FAILED"
	EventStatusDead       EventStatus = "DEAD"
)

// Outbox routing for provider events.
const (
	AggregateType = "provider_event"
	JobType       = "process_provider_event"
)

// ProviderEvent is the deduplicated record of one inbound webhook delivery.
// At most one row exists per EventID.
type ProviderEvent struct {
	ID          snowflake.ID   `gorm:"primaryKey" json:"id"`
	EventID     string         `gorm:"type:text;not null;uniqueIndex" json:"event_id"`
	Type        string         `gorm:"type:text;not null" json:"type"`
	RawPayload  datatypes.JSON `gorm:"type:jsonb;not null" json:"raw_payload"`
	Status      EventStatus    `gorm:"type:text;not null;index" json:"status"`
	ReceivedAt  time.Time      `gorm:"not null;index" json:"received_at"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
	Attempts    int            `gorm:"not null" json:"attempts"`
	LastError   *string        `gorm:"type:text" json:"last_error,omitempty"`
}

func (ProviderEvent) TableName() string { return "provider_events" }

// JobPayload is the outbox payload that points a worker at a stored event.
type JobPayload struct {
	EventID   string `json:"event_id"`
	RequestID string `json:"request_id,omitempty"`
}

// StatusUpdate is the full post-creation mutation of an event.
type StatusUpdate struct {
	Status      EventStatus
	Attempts    int
	LastError   *string
	ProcessedAt *time.Time
}

type ListFilter struct {
	Status EventStatus
	Limit  int
	// Before pages backwards by received_at.
	Before *time.Time
}

type Repository interface {
	// InsertIfAbsent reports false, without error, when the event id is already stored.
	InsertIfAbsent(ctx context.Context, db *gorm.DB, event *ProviderEvent) (bool, error)
	FindByEventID(ctx context.Context, db *gorm.DB, eventID string) (*ProviderEvent, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, eventID string, update StatusUpdate) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]ProviderEvent, error)
	CountByStatus(ctx context.Context, db *gorm.DB) (map[EventStatus]int64, error)
}

var ErrNotFound = errors.New("provider_event_not_found")
