package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	GetByID(context.Context, snowflake.ID) (Invoice, error)
	ListBySubscription(context.Context, snowflake.ID) ([]Invoice, error)
}

var ErrNotFound = errors.New("invoice_not_found")
