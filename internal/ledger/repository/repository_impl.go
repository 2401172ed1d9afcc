package repository

import (
	"context"

	ledgerdomain "github.com/smallbiznis/payflow/internal/ledger/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() ledgerdomain.Repository {
	return &repo{}
}

func (r *repo) EnsureAccount(ctx context.Context, db *gorm.DB, account *ledgerdomain.LedgerAccount) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "code"}}, DoNothing: true}).
		Create(account).Error
}

func (r *repo) FindAccountByCode(ctx context.Context, db *gorm.DB, code ledgerdomain.LedgerAccountCode) (*ledgerdomain.LedgerAccount, error) {
	var account ledgerdomain.LedgerAccount
	err := db.WithContext(ctx).Raw(
		`SELECT id, code, type, created_at FROM ledger_accounts WHERE code = ?`,
		code,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) InsertTransaction(ctx context.Context, db *gorm.DB, txn *ledgerdomain.LedgerTransaction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO ledger_transactions (id, external_ref, description, created_at) VALUES (?, ?, ?, ?)`,
		txn.ID,
		txn.ExternalRef,
		txn.Description,
		txn.CreatedAt,
	).Error
}

func (r *repo) InsertEntries(ctx context.Context, db *gorm.DB, entries []ledgerdomain.LedgerEntry) error {
	for _, entry := range entries {
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO ledger_entries (id, transaction_id, account_id, direction, amount_cents, currency, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			entry.ID,
			entry.TransactionID,
			entry.AccountID,
			entry.Direction,
			entry.AmountCents,
			entry.Currency,
			entry.CreatedAt,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) ListTransactionsByExternalRef(ctx context.Context, db *gorm.DB, externalRef string) ([]ledgerdomain.LedgerTransaction, error) {
	var txns []ledgerdomain.LedgerTransaction
	err := db.WithContext(ctx).Raw(
		`SELECT id, external_ref, description, created_at
		 FROM ledger_transactions WHERE external_ref = ? ORDER BY created_at ASC, id ASC`,
		externalRef,
	).Scan(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *repo) ListEntriesByExternalRef(ctx context.Context, db *gorm.DB, externalRef string) ([]ledgerdomain.LedgerEntry, error) {
	var entries []ledgerdomain.LedgerEntry
	err := db.WithContext(ctx).Raw(
		`SELECT e.id, e.transaction_id, e.account_id, e.direction, e.amount_cents, e.currency, e.created_at
		 FROM ledger_entries e
		 JOIN ledger_transactions t ON t.id = e.transaction_id
		 WHERE t.external_ref = ?
		 ORDER BY e.created_at ASC, e.id ASC`,
		externalRef,
	).Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
