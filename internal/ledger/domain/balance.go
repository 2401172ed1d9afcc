package domain

import "strings"

// EnsureBalanced checks that debits equal credits for every currency in entries.
// It never corrects an imbalance.
func EnsureBalanced(entries []LedgerEntry) error {
	if len(entries) < 2 {
		return ErrInvalidEntries
	}

	type totals struct{ debit, credit int64 }
	byCurrency := make(map[string]*totals)
	for _, entry := range entries {
		if entry.AmountCents < 0 {
			return ErrInvalidAmount
		}
		currency := strings.ToUpper(strings.TrimSpace(entry.Currency))
		if currency == "" {
			return ErrInvalidCurrency
		}
		t, ok := byCurrency[currency]
		if !ok {
			t = &totals{}
			byCurrency[currency] = t
		}
		switch entry.Direction {
		case LedgerEntryDirectionDebit:
			t.debit += entry.AmountCents
		case LedgerEntryDirectionCredit:
			t.credit += entry.AmountCents
		default:
			return ErrInvalidDirection
		}
	}

	for _, t := range byCurrency {
		if t.debit != t.credit {
			return ErrLedgerImbalance
		}
	}
	return nil
}
