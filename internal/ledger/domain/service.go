package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Service posts balanced double-entry transactions. The tx argument lets callers
// fold ledger writes into their own unit of work; nil runs a standalone transaction.
type Service interface {
	RecordPayment(ctx context.Context, tx *gorm.DB, externalRef string, amountCents int64, currency string) (LedgerTransaction, error)
	RecordRefund(ctx context.Context, tx *gorm.DB, externalRef string, amountCents int64, currency string) (LedgerTransaction, error)
	EnsureAccounts(ctx context.Context) error
	ListEntriesByExternalRef(ctx context.Context, externalRef string) ([]LedgerEntry, error)
}

var (
	ErrLedgerImbalance  = errors.New("ledger_imbalance")
	ErrInvalidEntries   = errors.New("invalid_ledger_entries")
	ErrInvalidAmount    = errors.New("invalid_ledger_amount")
	ErrInvalidCurrency  = errors.New("invalid_ledger_currency")
	ErrInvalidDirection = errors.New("invalid_ledger_direction")
	ErrInvalidReference = errors.New("invalid_ledger_reference")
	ErrAccountNotFound  = errors.New("ledger_account_not_found")
)
