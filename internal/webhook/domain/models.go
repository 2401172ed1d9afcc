package domain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Known provider event types.
const (
	EventTypePaymentSucceeded = "payment_succeeded"
	EventTypePaymentFailed    = "payment_failed"
	EventTypeRefundSucceeded  = "refund_succeeded"
)

// Envelope is the provider webhook body.
type Envelope struct {
	EventID   string       `json:"event_id" validate:"required,max=255"`
	Type      string       `json:"type" validate:"required,max=100"`
	CreatedAt *time.Time   `json:"created_at,omitempty"`
	Data      EnvelopeData `json:"data"`
}

type EnvelopeData struct {
	InvoiceID         InvoiceRef `json:"invoice_id,omitempty"`
	ProviderPaymentID *string    `json:"provider_payment_id,omitempty"`
	AmountCents       *int64     `json:"amount_cents,omitempty" validate:"omitempty,gte=0"`
	Currency          *string    `json:"currency,omitempty" validate:"omitempty,len=3"`
}

// InvoiceRef is the provider's reference to an invoice, sent either quoted or
// as a bare number. It is resolved against stored invoices later, so any text
// is accepted here.
type InvoiceRef string

func (r *InvoiceRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*r = ""
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = InvoiceRef(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*r = InvoiceRef(n.String())
	return nil
}

func (r InvoiceRef) String() string { return string(r) }

type IngestRequest struct {
	EventID    string
	Type       string
	RawPayload []byte
	RequestID  string
}

type IngestResult struct {
	EventID  string `json:"event_id"`
	Inserted bool   `json:"inserted"`
}

type Service interface {
	// Ingest stores the event and enqueues its processing job atomically.
	// A redelivered event id returns Inserted=false and enqueues nothing.
	Ingest(ctx context.Context, req IngestRequest) (IngestResult, error)
}

var (
	ErrInvalidPayload   = errors.New("invalid_webhook_payload")
	ErrInvalidSignature = errors.New("invalid_webhook_signature")
)
