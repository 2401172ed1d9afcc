package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// LedgerEntryDirection represents debit or credit postings.
type LedgerEntryDirection string

const (
	LedgerEntryDirectionDebit  LedgerEntryDirection = "DEBIT"
	LedgerEntryDirectionCredit LedgerEntryDirection = "CREDIT"
)

type LedgerAccountCode string

const (
	AccountCodeCash    LedgerAccountCode = "CASH"
	AccountCodeRevenue LedgerAccountCode = "REVENUE"
	AccountCodeRefunds LedgerAccountCode = "REFUNDS"
)

type LedgerAccountType string

const (
	AccountTypeAsset         LedgerAccountType = "ASSET"
	AccountTypeIncome        LedgerAccountType = "INCOME"
	AccountTypeExpense       LedgerAccountType = "EXPENSE"
	AccountTypeContraRevenue LedgerAccountType = "CONTRA_REVENUE"
)

// DefaultAccounts is the chart of accounts every installation is seeded with.
var DefaultAccounts = []LedgerAccount{
	{Code: AccountCodeCash, Type: AccountTypeAsset},
	{Code: AccountCodeRevenue, Type: AccountTypeIncome},
	{Code: AccountCodeRefunds, Type: AccountTypeContraRevenue},
}

// LedgerAccount defines a chart-of-accounts entry.
type LedgerAccount struct {
	ID        snowflake.ID      `gorm:"primaryKey"`
	Code      LedgerAccountCode `gorm:"type:text;not null;uniqueIndex"`
	Type      LedgerAccountType `gorm:"type:text;not null"`
	CreatedAt time.Time         `gorm:"not null"`
}

func (LedgerAccount) TableName() string { return "ledger_accounts" }

// LedgerTransaction groups balanced entries. ExternalRef is advisory, not unique.
type LedgerTransaction struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	ExternalRef string       `gorm:"type:text;not null;index" json:"external_ref"`
	Description string       `gorm:"type:text" json:"description"`
	CreatedAt   time.Time    `gorm:"not null" json:"created_at"`
}

func (LedgerTransaction) TableName() string { return "ledger_transactions" }

type LedgerEntry struct {
	ID            snowflake.ID         `gorm:"primaryKey" json:"id"`
	TransactionID snowflake.ID         `gorm:"not null;index" json:"transaction_id"`
	AccountID     snowflake.ID         `gorm:"not null;index" json:"account_id"`
	Direction     LedgerEntryDirection `gorm:"type:text;not null" json:"direction"`
	AmountCents   int64                `gorm:"not null" json:"amount_cents"`
	Currency      string               `gorm:"type:text;not null" json:"currency"`
	CreatedAt     time.Time            `gorm:"not null" json:"created_at"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }
