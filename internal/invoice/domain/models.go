package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type InvoiceStatus string

const (
	InvoiceStatusPending  InvoiceStatus = "PENDING"
	InvoiceStatusPaid     InvoiceStatus = "PAID"
	InvoiceStatusFailed   InvoiceStatus = "FAILED"
	InvoiceStatusRefunded InvoiceStatus = "REFUNDED"
)

// Invoice bills one subscription period. (SubscriptionID, PeriodStart, PeriodEnd) is unique.
type Invoice struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	SubscriptionID snowflake.ID  `gorm:"not null;uniqueIndex:ux_invoices_subscription_period,priority:1" json:"subscription_id"`
	AmountCents    int64         `gorm:"not null" json:"amount_cents"`
	Currency       string        `gorm:"not null" json:"currency"`
	Status         InvoiceStatus `gorm:"type:text;not null" json:"status"`
	PeriodStart    time.Time     `gorm:"not null;uniqueIndex:ux_invoices_subscription_period,priority:2" json:"period_start"`
	PeriodEnd      time.Time     `gorm:"not null;uniqueIndex:ux_invoices_subscription_period,priority:3" json:"period_end"`
	PaidAt         *time.Time    `json:"paid_at,omitempty"`
	CreatedAt      time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time     `gorm:"not null" json:"updated_at"`
}

func (Invoice) TableName() string { return "invoices" }

// Settled reports whether a payment already landed on the invoice.
func (i Invoice) Settled() bool {
	return i.Status == InvoiceStatusPaid || i.Status == InvoiceStatusRefunded
}
