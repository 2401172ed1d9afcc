package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payflow/internal/clock"
	ledgerdomain "github.com/smallbiznis/payflow/internal/ledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  ledgerdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  ledgerdomain.Repository
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// RecordPayment debits CASH and credits REVENUE.
func (s *Service) RecordPayment(ctx context.Context, tx *gorm.DB, externalRef string, amountCents int64, currency string) (ledgerdomain.LedgerTransaction, error) {
	return s.post(ctx, tx, posting{
		externalRef: externalRef,
		description: "payment",
		debit:       ledgerdomain.AccountCodeCash,
		credit:      ledgerdomain.AccountCodeRevenue,
		amountCents: amountCents,
		currency:    currency,
	})
}

// RecordRefund debits REFUNDS and credits CASH.
func (s *Service) RecordRefund(ctx context.Context, tx *gorm.DB, externalRef string, amountCents int64, currency string) (ledgerdomain.LedgerTransaction, error) {
	return s.post(ctx, tx, posting{
		externalRef: externalRef,
		description: "refund",
		debit:       ledgerdomain.AccountCodeRefunds,
		credit:      ledgerdomain.AccountCodeCash,
		amountCents: amountCents,
		currency:    currency,
	})
}

type posting struct {
	externalRef string
	description string
	debit       ledgerdomain.LedgerAccountCode
	credit      ledgerdomain.LedgerAccountCode
	amountCents int64
	currency    string
}

func (s *Service) post(ctx context.Context, tx *gorm.DB, p posting) (ledgerdomain.LedgerTransaction, error) {
	externalRef := strings.TrimSpace(p.externalRef)
	if externalRef == "" {
		return ledgerdomain.LedgerTransaction{}, ledgerdomain.ErrInvalidReference
	}
	if p.amountCents <= 0 {
		return ledgerdomain.LedgerTransaction{}, ledgerdomain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(p.currency))
	if currency == "" {
		return ledgerdomain.LedgerTransaction{}, ledgerdomain.ErrInvalidCurrency
	}

	conn := tx
	if conn == nil {
		conn = s.db
	}

	var txn ledgerdomain.LedgerTransaction
	// Nested calls run under a savepoint, so a failed posting never leaves a partial transaction.
	err := conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		debitAccount, err := s.account(ctx, tx, p.debit)
		if err != nil {
			return err
		}
		creditAccount, err := s.account(ctx, tx, p.credit)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		txn = ledgerdomain.LedgerTransaction{
			ID:          s.genID.Generate(),
			ExternalRef: externalRef,
			Description: p.description,
			CreatedAt:   now,
		}
		entries := []ledgerdomain.LedgerEntry{
			{
				ID:            s.genID.Generate(),
				TransactionID: txn.ID,
				AccountID:     debitAccount.ID,
				Direction:     ledgerdomain.LedgerEntryDirectionDebit,
				AmountCents:   p.amountCents,
				Currency:      currency,
				CreatedAt:     now,
			},
			{
				ID:            s.genID.Generate(),
				TransactionID: txn.ID,
				AccountID:     creditAccount.ID,
				Direction:     ledgerdomain.LedgerEntryDirectionCredit,
				AmountCents:   p.amountCents,
				Currency:      currency,
				CreatedAt:     now,
			},
		}

		if err := ledgerdomain.EnsureBalanced(entries); err != nil {
			return err
		}
		if err := s.repo.InsertTransaction(ctx, tx, &txn); err != nil {
			return err
		}
		return s.repo.InsertEntries(ctx, tx, entries)
	})
	if err != nil {
		return ledgerdomain.LedgerTransaction{}, err
	}

	s.log.Debug("ledger transaction posted",
		zap.String("external_ref", externalRef),
		zap.String("description", p.description),
		zap.Int64("amount_cents", p.amountCents),
		zap.String("currency", currency),
	)
	return txn, nil
}

func (s *Service) account(ctx context.Context, tx *gorm.DB, code ledgerdomain.LedgerAccountCode) (*ledgerdomain.LedgerAccount, error) {
	account, err := s.repo.FindAccountByCode(ctx, tx, code)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("%w: %s", ledgerdomain.ErrAccountNotFound, code)
	}
	return account, nil
}

// EnsureAccounts seeds the default chart of accounts. Existing codes are left untouched.
func (s *Service) EnsureAccounts(ctx context.Context) error {
	now := s.clock.Now()
	for _, def := range ledgerdomain.DefaultAccounts {
		account := ledgerdomain.LedgerAccount{
			ID:        s.genID.Generate(),
			Code:      def.Code,
			Type:      def.Type,
			CreatedAt: now,
		}
		if err := s.repo.EnsureAccount(ctx, s.db, &account); err != nil {
			return fmt.Errorf("ensure ledger account %s: %w", def.Code, err)
		}
	}
	return nil
}

func (s *Service) ListEntriesByExternalRef(ctx context.Context, externalRef string) ([]ledgerdomain.LedgerEntry, error) {
	return s.repo.ListEntriesByExternalRef(ctx, s.db, strings.TrimSpace(externalRef))
}
