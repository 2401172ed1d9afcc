package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type IntervalUnit string

const (
	IntervalDay   IntervalUnit = "day"
	IntervalMonth IntervalUnit = "month"
)

type Plan struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	Name          string       `gorm:"not null" json:"name"`
	AmountCents   int64        `gorm:"not null" json:"amount_cents"`
	Currency      string       `gorm:"not null" json:"currency"`
	IntervalUnit  IntervalUnit `gorm:"not null" json:"interval_unit"`
	IntervalCount int          `gorm:"not null" json:"interval_count"`
	CreatedAt     time.Time    `gorm:"not null" json:"created_at"`
}

func (Plan) TableName() string { return "plans" }

// NextPeriodEnd returns start advanced by one billing interval of the plan.
func (p Plan) NextPeriodEnd(start time.Time) time.Time {
	return AddInterval(start, p.IntervalUnit, p.IntervalCount)
}
