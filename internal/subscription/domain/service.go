package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/payflow/internal/invoice/domain"
)

type CreateSubscriptionRequest struct {
	CustomerID snowflake.ID `json:"customer_id" validate:"required"`
	PlanID     snowflake.ID `json:"plan_id" validate:"required"`
	StartAt    *time.Time   `json:"start_at,omitempty"`
}

type CreateSubscriptionResponse struct {
	Subscription Subscription          `json:"subscription"`
	Invoice      invoicedomain.Invoice `json:"invoice"`
}

type CancelSubscriptionRequest struct {
	ID                snowflake.ID `json:"-"`
	CancelAtPeriodEnd bool         `json:"cancel_at_period_end"`
}

type Service interface {
	Create(context.Context, CreateSubscriptionRequest) (CreateSubscriptionResponse, error)
	Cancel(context.Context, CancelSubscriptionRequest) (Subscription, error)
	GetByID(context.Context, snowflake.ID) (Subscription, error)
}

var (
	ErrInvalidCustomer = errors.New("invalid_customer")
	ErrInvalidPlan     = errors.New("invalid_plan")
	ErrNotFound        = errors.New("subscription_not_found")
)
