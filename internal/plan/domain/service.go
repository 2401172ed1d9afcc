package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreatePlanRequest struct {
	Name          string `json:"name" validate:"required"`
	AmountCents   int64  `json:"amount_cents" validate:"gt=0"`
	Currency      string `json:"currency" validate:"required,len=3"`
	IntervalUnit  string `json:"interval_unit" validate:"required,oneof=day month"`
	IntervalCount int    `json:"interval_count" validate:"gte=1"`
}

type Service interface {
	Create(context.Context, CreatePlanRequest) (Plan, error)
	GetByID(context.Context, snowflake.ID) (Plan, error)
}

var (
	ErrInvalidName     = errors.New("invalid_name")
	ErrInvalidAmount   = errors.New("invalid_amount")
	ErrInvalidCurrency = errors.New("invalid_currency")
	ErrInvalidInterval = errors.New("invalid_interval")
	ErrNotFound        = errors.New("plan_not_found")
)
