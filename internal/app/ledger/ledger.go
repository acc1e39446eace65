// Package ledger tracks per-guest request tokens accrued over time.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/craigsbooth/spotify-jukebox-sub000/internal/domain/guest"
)

// ErrGuestNotFound is returned for operations on unregistered guest IDs.
var ErrGuestNotFound = errors.New("guest not found")

// InsufficientTokensError is returned when a guest spends with an empty
// balance. Until reports the time remaining before the next accrual.
type InsufficientTokensError struct {
	Until time.Duration
}

func (e *InsufficientTokensError) Error() string {
	secs := int(e.Until.Round(time.Second).Seconds())
	return fmt.Sprintf("no tokens available, next token in %d:%02d", secs/60, secs%60)
}

// Config controls accrual rate and balance bounds.
type Config struct {
	PerHour int // tokens accrued per hour; 0 disables accrual
	Max     int // global balance cap
	Initial int // balance granted on registration
}

// AccountState is the exportable form of a guest account, used for
// snapshots and broadcasts.
type AccountState struct {
	Name        string    `json:"name"`
	Balance     int       `json:"balance"`
	LastAccrual time.Time `json:"last_accrual"`
}

type account struct {
	name  string
	entry guest.Entry
}

// Ledger holds every guest's token account. Accrual is lazy: balances
// are brought up to date whenever an account is touched, so no ticker is
// needed.
type Ledger struct {
	mu       sync.Mutex
	accounts map[string]*account
	perToken time.Duration
	max      int
	initial  int
	now      func() time.Time
}

// NewLedger creates a ledger from the given accrual config. now is
// injectable for tests; pass nil for the system clock.
func NewLedger(cfg Config, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	var perToken time.Duration
	if cfg.PerHour > 0 {
		perToken = time.Hour / time.Duration(cfg.PerHour)
	}
	return &Ledger{
		accounts: make(map[string]*account),
		perToken: perToken,
		max:      cfg.Max,
		initial:  cfg.Initial,
		now:      now,
	}
}

// Register creates a new guest account and returns its ID.
func (l *Ledger) Register(name string) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := uuid.NewString()
	initial := l.initial
	if initial > l.max {
		initial = l.max
	}
	l.accounts[id] = &account{
		name:  name,
		entry: *guest.NewEntry(initial, l.now()),
	}
	zlog.Debug().Str("guest_id", id).Str("name", name).Int("balance", initial).Msg("guest registered")
	return id
}

// Balance returns the guest's current balance and the time until the next
// token accrues. The account is synced first.
func (l *Ledger) Balance(guestID string) (int, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, ok := l.accounts[guestID]
	if !ok {
		return 0, 0, ErrGuestNotFound
	}
	until := l.sync(acc)
	return acc.entry.Balance, until, nil
}

// Spend deducts one token. With an empty balance it returns an
// *InsufficientTokensError carrying the wait until the next accrual.
func (l *Ledger) Spend(guestID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, ok := l.accounts[guestID]
	if !ok {
		return ErrGuestNotFound
	}
	until := l.sync(acc)
	if acc.entry.Balance <= 0 {
		return &InsufficientTokensError{Until: until}
	}
	acc.entry.Balance--
	return nil
}

// Refund returns one token to the guest, respecting the global cap. Used
// when a spend's downstream operation fails.
func (l *Ledger) Refund(guestID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, ok := l.accounts[guestID]
	if !ok {
		return
	}
	l.sync(acc)
	if acc.entry.Balance < l.max {
		acc.entry.Balance++
	}
}

// Name returns the display name for a guest ID.
func (l *Ledger) Name(guestID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, ok := l.accounts[guestID]
	if !ok {
		return "", false
	}
	return acc.name, true
}

// EnforceGlobalCap lowers the cap and clamps every balance above it.
// Raising the cap never alters balances.
func (l *Ledger) EnforceGlobalCap(max int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.max = max
	clamped := 0
	for _, acc := range l.accounts {
		if acc.entry.Balance > max {
			acc.entry.Clamp(max)
			clamped++
		}
	}
	if clamped > 0 {
		zlog.Info().Int("max", max).Int("clamped", clamped).Msg("token cap enforced")
	}
}

// Export returns a copy of every account, synced to now.
func (l *Ledger) Export() map[string]AccountState {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]AccountState, len(l.accounts))
	for id, acc := range l.accounts {
		l.sync(acc)
		out[id] = AccountState{
			Name:        acc.name,
			Balance:     acc.entry.Balance,
			LastAccrual: acc.entry.LastAccrual,
		}
	}
	return out
}

// Restore replaces the ledger's accounts, typically from a snapshot.
func (l *Ledger) Restore(entries map[string]AccountState) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.accounts = make(map[string]*account, len(entries))
	for id, st := range entries {
		l.accounts[id] = &account{
			name: st.Name,
			entry: guest.Entry{
				Balance:     st.Balance,
				LastAccrual: st.LastAccrual,
			},
		}
	}
}

// sync accrues pending tokens and returns the time until the next one.
// Callers must hold the mutex.
func (l *Ledger) sync(acc *account) time.Duration {
	if l.perToken <= 0 {
		return 0
	}
	return acc.entry.Accrue(l.now(), l.perToken, l.max)
}
