// Package guest provides the guest ledger entry domain entity.
package guest

import "time"

// Entry is one guest's token-ledger record. The balance is always
// recomputed from elapsed time before any spend or read; LastAccrual only
// moves forward in whole-token steps so fractional progress toward the
// next token survives repeated syncs.
type Entry struct {
	Balance     int       // Current token balance, 0..max
	LastAccrual time.Time // Accrual cursor, advanced in whole-token steps
}

// NewEntry creates a ledger entry with the given initial balance.
func NewEntry(initial int, now time.Time) *Entry {
	if initial < 0 {
		initial = 0
	}
	return &Entry{
		Balance:     initial,
		LastAccrual: now,
	}
}

// Accrue adds tokens earned since LastAccrual at the given rate, capped at
// max, and returns the time remaining until the next token. perToken is the
// time one token takes to accrue.
func (e *Entry) Accrue(now time.Time, perToken time.Duration, max int) time.Duration {
	if perToken <= 0 {
		return 0
	}

	elapsed := now.Sub(e.LastAccrual)
	if elapsed < 0 {
		elapsed = 0
	}

	earned := int(elapsed / perToken)
	if earned > 0 {
		e.Balance += earned
		if e.Balance > max {
			e.Balance = max
		}
		// Advance by exactly earned*perToken, never the full elapsed
		// time, so no token-time is lost or double-counted.
		e.LastAccrual = e.LastAccrual.Add(time.Duration(earned) * perToken)
	}

	return perToken - now.Sub(e.LastAccrual)
}

// Clamp trims the balance down to max. Used when the global cap is lowered;
// accrual only caps growth, not pre-existing excess.
func (e *Entry) Clamp(max int) {
	if e.Balance > max {
		e.Balance = max
	}
}
