package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	EnsureAccount(ctx context.Context, db *gorm.DB, account *LedgerAccount) error
	FindAccountByCode(ctx context.Context, db *gorm.DB, code LedgerAccountCode) (*LedgerAccount, error)
	InsertTransaction(ctx context.Context, db *gorm.DB, txn *LedgerTransaction) error
	InsertEntries(ctx context.Context, db *gorm.DB, entries []LedgerEntry) error
	ListTransactionsByExternalRef(ctx context.Context, db *gorm.DB, externalRef string) ([]LedgerTransaction, error)
	ListEntriesByExternalRef(ctx context.Context, db *gorm.DB, externalRef string) ([]LedgerEntry, error)
}
