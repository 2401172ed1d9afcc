package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "PENDING"
	SubscriptionStatusActive    SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPastDue   SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusCancelled SubscriptionStatus = "CANCELLED"
)

// Subscription captures a customer's billing agreement for one plan.
type Subscription struct {
	ID                 snowflake.ID       `gorm:"primaryKey" json:"id"`
	CustomerID         snowflake.ID       `gorm:"not null;index" json:"customer_id"`
	PlanID             snowflake.ID       `gorm:"not null;index" json:"plan_id"`
	Status             SubscriptionStatus `gorm:"type:text;not null" json:"status"`
	CurrentPeriodStart *time.Time         `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time         `gorm:"index" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool               `gorm:"not null;default:false" json:"cancel_at_period_end"`
	CreatedAt          time.Time          `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time          `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// Renewable reports whether the renewal scheduler should bill the next period.
func (s Subscription) Renewable() bool {
	if s.CancelAtPeriodEnd {
		return false
	}
	return s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusPastDue
}
