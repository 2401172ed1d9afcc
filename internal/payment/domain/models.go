package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type PaymentStatus string

const (
	PaymentStatusSucceeded PaymentStatus = "SUCCEEDED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

// Payment is an append-only record of one settlement attempt against an invoice.
type Payment struct {
	ID                snowflake.ID  `gorm:"primaryKey" json:"id"`
	InvoiceID         snowflake.ID  `gorm:"not null;index" json:"invoice_id"`
	ProviderPaymentID *string       `json:"provider_payment_id,omitempty"`
	AmountCents       int64         `gorm:"not null" json:"amount_cents"`
	Currency          string        `gorm:"not null" json:"currency"`
	Status            PaymentStatus `gorm:"type:text;not null" json:"status"`
	CreatedAt         time.Time     `gorm:"not null" json:"created_at"`
}

func (Payment) TableName() string { return "payments" }

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	ListByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]Payment, error)
}
