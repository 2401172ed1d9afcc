package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	// FindDueRenewals returns renewable subscriptions whose period ended at or before now,
	// oldest period end first.
	FindDueRenewals(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Subscription, error)
	// Activate sets ACTIVE and replaces the current period.
	Activate(ctx context.Context, db *gorm.DB, id snowflake.ID, periodStart, periodEnd time.Time, now time.Time) error
	// UpdateStatus changes status only; period pointers are left as they are.
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status SubscriptionStatus, now time.Time) error
	AdvancePeriod(ctx context.Context, db *gorm.DB, id snowflake.ID, periodStart, periodEnd time.Time, now time.Time) error
	SetCancelAtPeriodEnd(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
}
