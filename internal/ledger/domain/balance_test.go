package domain

import (
	"errors"
	"testing"
)

func TestEnsureBalanced(t *testing.T) {
	cases := []struct {
		name    string
		entries []LedgerEntry
		wantErr error
	}{
		{
			name: "balanced",
			entries: []LedgerEntry{
				{Direction: LedgerEntryDirectionDebit, AmountCents: 1000, Currency: "USD"},
				{Direction: LedgerEntryDirectionCredit, AmountCents: 1000, Currency: "USD"},
			},
		},
		{
			name: "debit short",
			entries: []LedgerEntry{
				{Direction: LedgerEntryDirectionDebit, AmountCents: 900, Currency: "USD"},
				{Direction: LedgerEntryDirectionCredit, AmountCents: 1000, Currency: "USD"},
			},
			wantErr: ErrLedgerImbalance,
		},
		{
			name: "split credits",
			entries: []LedgerEntry{
				{Direction: LedgerEntryDirectionDebit, AmountCents: 1500, Currency: "USD"},
				{Direction: LedgerEntryDirectionCredit, AmountCents: 1000, Currency: "USD"},
				{Direction: LedgerEntryDirectionCredit, AmountCents: 500, Currency: "usd"},
			},
		},
		{
			name: "balanced total but not per currency",
			entries: []LedgerEntry{
				{Direction: LedgerEntryDirectionDebit, AmountCents: 1000, Currency: "USD"},
				{Direction: LedgerEntryDirectionCredit, AmountCents: 1000, Currency: "EUR"},
			},
			wantErr: ErrLedgerImbalance,
		},
		{
			name: "single entry",
			entries: []LedgerEntry{
				{Direction: LedgerEntryDirectionDebit, AmountCents: 1000, Currency: "USD"},
			},
			wantErr: ErrInvalidEntries,
		},
		{
			name: "negative amount",
			entries: []LedgerEntry{
				{Direction: LedgerEntryDirectionDebit, AmountCents: -10, Currency: "USD"},
				{Direction: LedgerEntryDirectionCredit, AmountCents: -10, Currency: "USD"},
			},
			wantErr: ErrInvalidAmount,
		},
		{
			name: "unknown direction",
			entries: []LedgerEntry{
				{Direction: "SIDEWAYS", AmountCents: 10, Currency: "USD"},
				{Direction: LedgerEntryDirectionCredit, AmountCents: 10, Currency: "USD"},
			},
			wantErr: ErrInvalidDirection,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := EnsureBalanced(tc.entries)
			if tc.wantErr == nil && err != nil {
				t.Fatalf("expected balanced, got %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}
